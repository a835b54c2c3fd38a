package builtins

import (
	"sort"
	"strings"

	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installArray registers the `Array` constructor/`Array.isArray` and
// the instance methods reachable through every array's prototype chain
// (spec.md §4.7 lists only isArray/constructor explicitly, but the
// §8 round-trip/invariant properties — "A.length equals max(dense
// index used)+1 after any push/pop/shift/unshift/splice",
// `[3,1,2].sort().join("-")` — require the instance surface below).
func installArray(v *vm.VM) {
	arrayCtor := nativeFunc(v, "Array", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 1 && args[0].IsNumber() {
			n := int(args[0].ToNumber())
			elems := make([]value.Value, n)
			for i := range elems {
				elems[i] = value.Undefined
			}
			return newArray(v, elems), nil
		}
		elems := make([]value.Value, len(args))
		copy(elems, args)
		return newArray(v, elems), nil
	})
	setGlobal(v, "Array", arrayCtor)
	if h, ok := objectOf(v, arrayCtor); ok {
		method(v, h, "isArray", 1, func(this value.Value, args []value.Value) (value.Value, error) {
			obj, ok := objectOf(v, arg(args, 0))
			return value.Bool(ok && obj.IsArray), nil
		})
		method(v, h, "of", -1, func(this value.Value, args []value.Value) (value.Value, error) {
			elems := make([]value.Value, len(args))
			copy(elems, args)
			return newArray(v, elems), nil
		})
	}

	proto := protoObject(v, "array")

	method(v, proto, "push", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Undefined, nil
		}
		o.Elements = append(o.Elements, args...)
		syncArrayLength(o)
		v.Heap.WriteBarrier(this.AsHandle())
		return value.Number(float64(len(o.Elements))), nil
	})
	method(v, proto, "pop", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok || len(o.Elements) == 0 {
			return value.Undefined, nil
		}
		last := o.Elements[len(o.Elements)-1]
		o.Elements = o.Elements[:len(o.Elements)-1]
		syncArrayLength(o)
		return last, nil
	})
	method(v, proto, "shift", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok || len(o.Elements) == 0 {
			return value.Undefined, nil
		}
		first := o.Elements[0]
		o.Elements = o.Elements[1:]
		syncArrayLength(o)
		return first, nil
	})
	method(v, proto, "unshift", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Undefined, nil
		}
		o.Elements = append(append([]value.Value{}, args...), o.Elements...)
		syncArrayLength(o)
		v.Heap.WriteBarrier(this.AsHandle())
		return value.Number(float64(len(o.Elements))), nil
	})
	method(v, proto, "slice", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return newArray(v, nil), nil
		}
		start, end := sliceRange(len(o.Elements), args)
		elems := make([]value.Value, 0, end-start)
		if end > start {
			elems = append(elems, o.Elements[start:end]...)
		}
		return newArray(v, elems), nil
	})
	method(v, proto, "splice", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return newArray(v, nil), nil
		}
		n := len(o.Elements)
		start := normalizeIndex(int(arg(args, 0).ToNumber()), n)
		deleteCount := n - start
		if len(args) >= 2 {
			deleteCount = int(args[1].ToNumber())
			if deleteCount < 0 {
				deleteCount = 0
			}
			if start+deleteCount > n {
				deleteCount = n - start
			}
		}
		removed := append([]value.Value{}, o.Elements[start:start+deleteCount]...)
		var inserted []value.Value
		if len(args) > 2 {
			inserted = args[2:]
		}
		rest := append([]value.Value{}, o.Elements[start+deleteCount:]...)
		o.Elements = append(append(append([]value.Value{}, o.Elements[:start]...), inserted...), rest...)
		syncArrayLength(o)
		v.Heap.WriteBarrier(this.AsHandle())
		return newArray(v, removed), nil
	})
	method(v, proto, "concat", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		var elems []value.Value
		if ok {
			elems = append(elems, o.Elements...)
		}
		for _, a := range args {
			if ao, ok := objectOf(v, a); ok && ao.IsArray {
				elems = append(elems, ao.Elements...)
			} else {
				elems = append(elems, a)
			}
		}
		return newArray(v, elems), nil
	})
	method(v, proto, "reverse", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return this, nil
		}
		for i, j := 0, len(o.Elements)-1; i < j; i, j = i+1, j-1 {
			o.Elements[i], o.Elements[j] = o.Elements[j], o.Elements[i]
		}
		return this, nil
	})
	method(v, proto, "fill", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return this, nil
		}
		val := arg(args, 0)
		start, end := 0, len(o.Elements)
		if len(args) > 1 {
			start = normalizeIndex(int(args[1].ToNumber()), len(o.Elements))
		}
		if len(args) > 2 {
			end = normalizeIndex(int(args[2].ToNumber()), len(o.Elements))
		}
		for i := start; i < end; i++ {
			o.Elements[i] = val
		}
		v.Heap.WriteBarrier(this.AsHandle())
		return this, nil
	})
	method(v, proto, "join", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.String(""), nil
		}
		sep := ","
		if len(args) > 0 && !args[0].IsUndefined() {
			sep = args[0].ToString()
		}
		parts := make([]string, len(o.Elements))
		for i, e := range o.Elements {
			if e.IsNullish() {
				parts[i] = ""
			} else {
				parts[i] = v.ToDisplayString(e)
			}
		}
		return value.String(strings.Join(parts, sep)), nil
	})
	method(v, proto, "indexOf", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Number(-1), nil
		}
		target := arg(args, 0)
		for i, e := range o.Elements {
			if value.StrictEq(e, target) {
				return value.Number(float64(i)), nil
			}
		}
		return value.Number(-1), nil
	})
	method(v, proto, "lastIndexOf", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Number(-1), nil
		}
		target := arg(args, 0)
		for i := len(o.Elements) - 1; i >= 0; i-- {
			if value.StrictEq(o.Elements[i], target) {
				return value.Number(float64(i)), nil
			}
		}
		return value.Number(-1), nil
	})
	method(v, proto, "includes", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.False, nil
		}
		target := arg(args, 0)
		for _, e := range o.Elements {
			if value.StrictEq(e, target) || (e.IsNumber() && target.IsNumber() && isNaNBoth(e, target)) {
				return value.True, nil
			}
		}
		return value.False, nil
	})
	method(v, proto, "sort", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return this, nil
		}
		cmp := arg(args, 0)
		var sortErr error
		sort.SliceStable(o.Elements, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			a, b := o.Elements[i], o.Elements[j]
			if cmp.IsFunction() {
				r, err := v.Call(cmp, value.Undefined, []value.Value{a, b}, false)
				if err != nil {
					sortErr = err
					return false
				}
				return r.ToNumber() < 0
			}
			return v.ToDisplayString(a) < v.ToDisplayString(b)
		})
		if sortErr != nil {
			return value.Undefined, sortErr
		}
		return this, nil
	})
	method(v, proto, "forEach", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Undefined, nil
		}
		cb := arg(args, 0)
		for i, e := range o.Elements {
			if _, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false); err != nil {
				return value.Undefined, err
			}
		}
		return value.Undefined, nil
	})
	method(v, proto, "map", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return newArray(v, nil), nil
		}
		cb := arg(args, 0)
		out := make([]value.Value, len(o.Elements))
		for i, e := range o.Elements {
			r, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			out[i] = r
		}
		return newArray(v, out), nil
	})
	method(v, proto, "filter", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return newArray(v, nil), nil
		}
		cb := arg(args, 0)
		var out []value.Value
		for i, e := range o.Elements {
			r, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			if r.ToBoolean() {
				out = append(out, e)
			}
		}
		return newArray(v, out), nil
	})
	method(v, proto, "find", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Undefined, nil
		}
		cb := arg(args, 0)
		for i, e := range o.Elements {
			r, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			if r.ToBoolean() {
				return e, nil
			}
		}
		return value.Undefined, nil
	})
	method(v, proto, "findIndex", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Number(-1), nil
		}
		cb := arg(args, 0)
		for i, e := range o.Elements {
			r, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			if r.ToBoolean() {
				return value.Number(float64(i)), nil
			}
		}
		return value.Number(-1), nil
	})
	method(v, proto, "some", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.False, nil
		}
		cb := arg(args, 0)
		for i, e := range o.Elements {
			r, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			if r.ToBoolean() {
				return value.True, nil
			}
		}
		return value.False, nil
	})
	method(v, proto, "every", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.True, nil
		}
		cb := arg(args, 0)
		for i, e := range o.Elements {
			r, err := v.Call(cb, arg(args, 1), []value.Value{e, value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			if !r.ToBoolean() {
				return value.False, nil
			}
		}
		return value.True, nil
	})
	method(v, proto, "reduce", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Undefined, nil
		}
		cb := arg(args, 0)
		elems := o.Elements
		var acc value.Value
		start := 0
		if len(args) > 1 {
			acc = args[1]
		} else {
			if len(elems) == 0 {
				return value.Undefined, v.ThrowTypeError("Reduce of empty array with no initial value")
			}
			acc = elems[0]
			start = 1
		}
		for i := start; i < len(elems); i++ {
			r, err := v.Call(cb, value.Undefined, []value.Value{acc, elems[i], value.Number(float64(i)), this}, false)
			if err != nil {
				return value.Undefined, err
			}
			acc = r
		}
		return acc, nil
	})
	method(v, proto, "flat", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return newArray(v, nil), nil
		}
		depth := 1
		if len(args) > 0 {
			depth = int(args[0].ToNumber())
		}
		return newArray(v, flatten(v, o.Elements, depth)), nil
	})
	method(v, proto, "toString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.String(""), nil
		}
		parts := make([]string, len(o.Elements))
		for i, e := range o.Elements {
			if !e.IsNullish() {
				parts[i] = v.ToDisplayString(e)
			}
		}
		return value.String(strings.Join(parts, ",")), nil
	})
}

func syncArrayLength(o *heap.Object) {
	o.Set("length", value.Number(float64(len(o.Elements))))
}

func sliceRange(n int, args []value.Value) (int, int) {
	start := 0
	end := n
	if len(args) > 0 {
		start = normalizeIndex(int(args[0].ToNumber()), n)
	}
	if len(args) > 1 && !args[1].IsUndefined() {
		end = normalizeIndex(int(args[1].ToNumber()), n)
	}
	if end < start {
		end = start
	}
	return start, end
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func isNaNBoth(a, b value.Value) bool {
	an, bn := a.AsNumber(), b.AsNumber()
	return an != an && bn != bn
}

func flatten(v *vm.VM, elems []value.Value, depth int) []value.Value {
	var out []value.Value
	for _, e := range elems {
		if depth > 0 {
			if o, ok := objectOf(v, e); ok && o.IsArray {
				out = append(out, flatten(v, o.Elements, depth-1)...)
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
