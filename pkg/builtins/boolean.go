package builtins

import (
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installBooleanProto registers the `Boolean` wrapper constructor and
// the couple of instance methods booleans answer through
// protoGetProperty("boolean", ...) (spec.md §4.7).
func installBooleanProto(v *vm.VM) {
	ctor := nativeFunc(v, "Boolean", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(arg(args, 0).ToBoolean()), nil
	})
	setGlobal(v, "Boolean", ctor)

	proto := protoObject(v, "boolean")
	method(v, proto, "toString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(this.ToString()), nil
	})
	method(v, proto, "valueOf", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(this.ToBoolean()), nil
	})
}
