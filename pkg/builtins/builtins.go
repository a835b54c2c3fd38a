// Package builtins implements nyx's native-function table (C7): the
// Math/console/JSON/Object/Array/String/Number/Boolean/Date/RegExp
// globals plus the free functions (parseInt, parseFloat, isNaN,
// isFinite) a freshly constructed Engine installs before running any
// script (spec.md §4.7).
//
// Every entry is registered the way spec.md §4.7 describes: "a name,
// declared arity (-1 for variadic), and a function pointer of
// signature (frame, args) -> Result<Value, String>" — realized here as
// heap.NativeFunc closures over the owning *vm.VM, the same
// registration-by-name convention the teacher's primitives.go uses,
// generalized from a single flat switch into per-name registration
// (nativeFunc plus setGlobal); a host adds more via Engine.RegisterNative
// without touching this file.
package builtins

import (
	"strings"

	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// Install registers every core builtin as a global on v, including the
// "__proto_<kind>__" prototype objects the VM's protoGetProperty and
// arrayPrototype hooks dispatch primitive/array method calls through.
func Install(v *vm.VM) {
	installMath(v)
	installConsole(v)
	installJSON(v)
	installObject(v)
	installArray(v)
	installStringProto(v)
	installNumberProto(v)
	installBooleanProto(v)
	installDate(v)
	installRegExp(v)
	installGlobalFunctions(v)
	installErrors(v)
}

// --- registration plumbing ---

// RegisterNative installs fn as a global native function under name,
// splitting on "." to build (or reuse) intermediate namespace objects —
// "http.get" creates a global `http` object with a `get` method rather
// than a global literally named "http.get". This is the mechanism both
// Install and Engine.RegisterNative (spec.md §6.1) share.
func RegisterNative(v *vm.VM, name string, arity int, fn heap.NativeFunc) {
	parts := strings.Split(name, ".")
	leaf := parts[len(parts)-1]
	fnVal := nativeFunc(v, name, arity, fn)
	if len(parts) == 1 {
		setGlobal(v, leaf, fnVal)
		return
	}
	obj := namespace(v, parts[0])
	for _, seg := range parts[1 : len(parts)-1] {
		obj = subNamespace(v, obj, seg)
	}
	obj.Set(leaf, fnVal)
}

func nativeFunc(v *vm.VM, name string, arity int, fn heap.NativeFunc) value.Value {
	h := v.Heap.Allocate(heap.NewFunction(&heap.FunctionPayload{Name: name, Native: fn, Arity: arity}))
	return value.Function(h)
}

// setGlobal writes name directly into the shared Globals map and roots
// the handle if it's an object/function value — the same two steps the
// VM's own (unexported) storeGlobal performs for script-level global
// assignment (spec.md §6.1's add_root is the host-facing version of
// this same rule).
func setGlobal(v *vm.VM, name string, val value.Value) {
	v.Globals[name] = val
	if val.IsObject() || val.IsFunction() {
		v.Heap.AddRoot(val.AsHandle())
	}
}

// namespace returns the global object named name, creating and rooting
// an empty one if it doesn't exist yet (or isn't an object).
func namespace(v *vm.VM, name string) *heap.Object {
	if existing, ok := v.Globals[name]; ok && existing.IsObject() {
		if o, ok2 := v.Heap.Get(existing.AsHandle()); ok2 {
			return o
		}
	}
	o := heap.NewObject()
	h := v.Heap.Allocate(o)
	setGlobal(v, name, value.Object(h))
	return o
}

// subNamespace is namespace's equivalent for a nested property rather
// than a top-level global.
func subNamespace(v *vm.VM, parent *heap.Object, name string) *heap.Object {
	if existing, ok := parent.Get(name); ok && existing.IsObject() {
		if o, ok2 := v.Heap.Get(existing.AsHandle()); ok2 {
			return o
		}
	}
	o := heap.NewObject()
	h := v.Heap.Allocate(o)
	parent.Set(name, value.Object(h))
	v.Heap.AddRoot(h)
	return o
}

// protoObject returns (creating if needed) the "__proto_<kind>__"
// object the VM consults for primitive method dispatch
// (pkg/vm.protoGetProperty) or array method dispatch
// (pkg/vm.arrayPrototype, which looks specifically for
// "__proto_array__").
func protoObject(v *vm.VM, kind string) *heap.Object {
	return namespace(v, "__proto_"+kind+"__")
}

// method attaches a native method to a prototype or namespace object.
func method(v *vm.VM, obj *heap.Object, name string, arity int, fn heap.NativeFunc) {
	obj.Set(name, nativeFunc(v, name, arity, fn))
}

func newArray(v *vm.VM, elems []value.Value) value.Value {
	o := heap.NewArray(elems)
	if proto, ok := v.Globals["__proto_array__"]; ok && proto.IsObject() {
		h := proto.AsHandle()
		o.Prototype = &h
	}
	return value.Object(v.Heap.Allocate(o))
}

func newPlainObject(v *vm.VM) (*heap.Object, value.Value) {
	o := heap.NewObject()
	h := v.Heap.Allocate(o)
	return o, value.Object(h)
}

// arg returns args[i] or Undefined if the call didn't supply it —
// JS's own "missing arguments become undefined" convention.
func arg(args []value.Value, i int) value.Value {
	if i < 0 || i >= len(args) {
		return value.Undefined
	}
	return args[i]
}

func argOr(args []value.Value, i int, def value.Value) value.Value {
	if i >= len(args) || args[i].IsUndefined() {
		return def
	}
	return args[i]
}
