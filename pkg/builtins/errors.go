package builtins

import (
	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installErrors registers the constructible Error family (Error,
// TypeError, RangeError, SyntaxError, ReferenceError — spec.md §4.7 and
// §6.2's "errors are ordinary thrown objects"), matching the
// name/message/stack shape pkg/vm's own newErrorValue produces for
// VM-raised exceptions so `err instanceof Error` and `err.message`
// behave the same regardless of whether the script or the VM threw.
func installErrors(v *vm.VM) {
	names := []string{"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "EvalError", "URIError"}
	for _, name := range names {
		installErrorCtor(v, name)
	}
}

func installErrorCtor(v *vm.VM, name string) {
	ctor := nativeFunc(v, name, -1, func(this value.Value, args []value.Value) (value.Value, error) {
		msg := ""
		if len(args) > 0 && !args[0].IsUndefined() {
			msg = args[0].ToString()
		}
		o, ok := objectOf(v, this)
		if !ok {
			o = heap.NewObject()
			this = value.Object(v.Heap.Allocate(o))
		}
		o.Set("name", value.String(name))
		o.Set("message", value.String(msg))
		o.Set("stack", value.String(name+": "+msg))
		return this, nil
	})
	setGlobal(v, name, ctor)

	h, ok := objectOf(v, ctor)
	if !ok {
		return
	}
	proto := heap.NewObject()
	protoHandle := v.Heap.Allocate(proto)
	proto.Set("name", value.String(name))
	h.Set("prototype", value.Object(protoHandle))
	v.Heap.AddRoot(protoHandle)

	method(v, proto, "toString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.String(name), nil
		}
		n, _ := o.Get("name")
		m, _ := o.Get("message")
		if m.ToString() == "" {
			return value.String(n.ToString()), nil
		}
		return value.String(n.ToString() + ": " + m.ToString()), nil
	})
}
