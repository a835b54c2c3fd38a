package builtins

import (
	"math"
	"strconv"

	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installNumberProto registers the `Number` wrapper/global constants
// and the instance methods protoGetProperty("number", ...) dispatches
// to for every number primitive (spec.md §4.7).
func installNumberProto(v *vm.VM) {
	ctor := nativeFunc(v, "Number", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Number(0), nil
		}
		return value.Number(args[0].ToNumber()), nil
	})
	setGlobal(v, "Number", ctor)
	if h, ok := objectOf(v, ctor); ok {
		h.Set("MAX_SAFE_INTEGER", value.Number(9007199254740991))
		h.Set("MIN_SAFE_INTEGER", value.Number(-9007199254740991))
		h.Set("MAX_VALUE", value.Number(math.MaxFloat64))
		h.Set("MIN_VALUE", value.Number(5e-324))
		h.Set("EPSILON", value.Number(2.220446049250313e-16))
		h.Set("POSITIVE_INFINITY", value.Number(math.Inf(1)))
		h.Set("NEGATIVE_INFINITY", value.Number(math.Inf(-1)))
		h.Set("NaN", value.Number(math.NaN()))
		method(v, h, "isInteger", 1, func(this value.Value, args []value.Value) (value.Value, error) {
			n := arg(args, 0)
			if !n.IsNumber() {
				return value.False, nil
			}
			f := n.ToNumber()
			return value.Bool(!math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)), nil
		})
		method(v, h, "isFinite", 1, func(this value.Value, args []value.Value) (value.Value, error) {
			n := arg(args, 0)
			return value.Bool(n.IsNumber() && !math.IsNaN(n.ToNumber()) && !math.IsInf(n.ToNumber(), 0)), nil
		})
		method(v, h, "isNaN", 1, func(this value.Value, args []value.Value) (value.Value, error) {
			n := arg(args, 0)
			return value.Bool(n.IsNumber() && math.IsNaN(n.ToNumber())), nil
		})
	}

	proto := protoObject(v, "number")

	method(v, proto, "toFixed", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		digits := 0
		if len(args) > 0 {
			digits = int(args[0].ToNumber())
		}
		return value.String(strconv.FormatFloat(this.ToNumber(), 'f', digits, 64)), nil
	})
	method(v, proto, "toPrecision", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 || args[0].IsUndefined() {
			return value.String(this.ToString()), nil
		}
		prec := int(args[0].ToNumber())
		return value.String(strconv.FormatFloat(this.ToNumber(), 'g', prec, 64)), nil
	})
	method(v, proto, "toString", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 || args[0].IsUndefined() {
			return value.String(this.ToString()), nil
		}
		radix := int(args[0].ToNumber())
		n := this.ToNumber()
		if n == math.Trunc(n) {
			return value.String(strconv.FormatInt(int64(n), radix)), nil
		}
		return value.String(this.ToString()), nil
	})
	method(v, proto, "valueOf", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(this.ToNumber()), nil
	})
}
