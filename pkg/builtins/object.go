package builtins

import (
	"sort"

	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installObject registers the `Object` static methods (spec.md §4.7:
// "keys, values, entries, assign, create, freeze, seal, isFrozen,
// isSealed").
func installObject(v *vm.VM) {
	o := namespace(v, "Object")

	method(v, o, "keys", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		keys := ownKeys(v, arg(args, 0))
		vals := make([]value.Value, len(keys))
		for i, k := range keys {
			vals[i] = value.String(k)
		}
		return newArray(v, vals), nil
	})
	method(v, o, "values", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		target := arg(args, 0)
		keys := ownKeys(v, target)
		vals := make([]value.Value, len(keys))
		for i, k := range keys {
			pv, err := v.GetProperty(target, k)
			if err != nil {
				return value.Undefined, err
			}
			vals[i] = pv
		}
		return newArray(v, vals), nil
	})
	method(v, o, "entries", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		target := arg(args, 0)
		keys := ownKeys(v, target)
		vals := make([]value.Value, len(keys))
		for i, k := range keys {
			pv, err := v.GetProperty(target, k)
			if err != nil {
				return value.Undefined, err
			}
			vals[i] = newArray(v, []value.Value{value.String(k), pv})
		}
		return newArray(v, vals), nil
	})
	method(v, o, "assign", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Undefined, nil
		}
		target := args[0]
		if _, ok := objectOf(v, target); !ok {
			return target, nil
		}
		for _, src := range args[1:] {
			for _, k := range ownKeys(v, src) {
				pv, err := v.GetProperty(src, k)
				if err != nil {
					return value.Undefined, err
				}
				if err := v.SetProperty(target, k, pv); err != nil {
					return value.Undefined, err
				}
			}
		}
		return target, nil
	})
	method(v, o, "create", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		proto := arg(args, 0)
		var obj *heap.Object
		if proto.IsObject() {
			h := proto.AsHandle()
			obj = heap.NewObjectWithPrototype(h)
		} else {
			obj = heap.NewObject()
		}
		return value.Object(v.Heap.Allocate(obj)), nil
	})
	method(v, o, "freeze", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		target := arg(args, 0)
		if obj, ok := objectOf(v, target); ok {
			obj.Freeze()
		}
		return target, nil
	})
	method(v, o, "seal", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		target := arg(args, 0)
		if obj, ok := objectOf(v, target); ok {
			obj.Seal()
		}
		return target, nil
	})
	method(v, o, "preventExtensions", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		target := arg(args, 0)
		if obj, ok := objectOf(v, target); ok {
			obj.PreventExtensions()
		}
		return target, nil
	})
	method(v, o, "isFrozen", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		obj, ok := objectOf(v, arg(args, 0))
		return value.Bool(!ok || obj.IsFrozen()), nil
	})
	method(v, o, "isSealed", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		obj, ok := objectOf(v, arg(args, 0))
		return value.Bool(!ok || obj.IsSealed()), nil
	})
	method(v, o, "isExtensible", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		obj, ok := objectOf(v, arg(args, 0))
		return value.Bool(ok && obj.IsExtensible()), nil
	})
	method(v, o, "getPrototypeOf", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		obj, ok := objectOf(v, arg(args, 0))
		if !ok || obj.Prototype == nil {
			return value.Null, nil
		}
		return value.Object(*obj.Prototype), nil
	})
}

func objectOf(v *vm.VM, val value.Value) (*heap.Object, bool) {
	if !val.IsObject() && !val.IsFunction() {
		return nil, false
	}
	return v.Heap.Get(val.AsHandle())
}

// ownKeys lists a value's own enumerable property names: array indices
// in ascending order followed by ordinary property names, sorted for
// deterministic output (spec.md says nothing about enumeration order
// beyond for-in's own — Object.keys/values/entries simply need to agree
// with each other, which sorting guarantees).
func ownKeys(v *vm.VM, val value.Value) []string {
	obj, ok := objectOf(v, val)
	if !ok {
		return nil
	}
	var keys []string
	if obj.IsArray {
		for i := range obj.Elements {
			keys = append(keys, itoa(i))
		}
	}
	var names []string
	for k := range obj.Properties {
		if obj.IsArray && k == "length" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return append(keys, names...)
}

func itoa(i int) string {
	return value.Number(float64(i)).ToString()
}
