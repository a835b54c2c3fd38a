package builtins

import (
	"fmt"
	"os"
	"strings"

	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installConsole registers `console.log/error/warn` (spec.md §4.7).
// Argument formatting mirrors the VM's own toPrimitive/ToString
// behavior for primitives; object/function arguments print a compact
// inspection rather than the VM's generic "[object Object]" so logged
// values stay useful for a human reading stdout.
func installConsole(v *vm.VM) {
	c := namespace(v, "console")
	method(v, c, "log", -1, consoleWriter(v, os.Stdout))
	method(v, c, "warn", -1, consoleWriter(v, os.Stderr))
	method(v, c, "error", -1, consoleWriter(v, os.Stderr))
	method(v, c, "info", -1, consoleWriter(v, os.Stdout))
}

func consoleWriter(v *vm.VM, w *os.File) func(value.Value, []value.Value) (value.Value, error) {
	return func(this value.Value, args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = inspect(v, a, map[value.Handle]bool{})
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
		return value.Undefined, nil
	}
}

// inspect renders a value the way a console would: primitives via
// ToString, arrays as "[ ... ]", plain objects as "{ k: v, ... }",
// functions as "[Function: name]". seen guards against cyclic object
// graphs (spec.md §9 explicitly allows `a.b = b; b.a = a`).
func inspect(v *vm.VM, val value.Value, seen map[value.Handle]bool) string {
	switch {
	case val.IsString():
		return val.AsString()
	case val.IsFunction():
		o, ok := v.Heap.Get(val.AsHandle())
		name := "anonymous"
		if ok && o.Function != nil && o.Function.Name != "" {
			name = o.Function.Name
		}
		return "[Function: " + name + "]"
	case val.IsObject():
		h := val.AsHandle()
		if seen[h] {
			return "[Circular]"
		}
		o, ok := v.Heap.Get(h)
		if !ok {
			return "undefined"
		}
		seen[h] = true
		defer delete(seen, h)
		if o.IsArray {
			parts := make([]string, len(o.Elements))
			for i, e := range o.Elements {
				parts[i] = inspectQuoted(v, e, seen)
			}
			return "[ " + strings.Join(parts, ", ") + " ]"
		}
		keys := make([]string, 0, len(o.Properties))
		for k := range o.Properties {
			keys = append(keys, k)
		}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val, _ := o.Get(k)
			parts = append(parts, k+": "+inspectQuoted(v, val, seen))
		}
		if len(parts) == 0 {
			return "{}"
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	default:
		return val.ToString()
	}
}

func inspectQuoted(v *vm.VM, val value.Value, seen map[value.Handle]bool) string {
	if val.IsString() {
		return "'" + val.AsString() + "'"
	}
	return inspect(v, val, seen)
}
