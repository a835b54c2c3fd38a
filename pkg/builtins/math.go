package builtins

import (
	"math"
	"math/rand"

	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installMath registers the `Math` global (spec.md §4.7: "abs, floor,
// ceil, round, sqrt, pow, min, max, random, PI, E").
func installMath(v *vm.VM) {
	m := namespace(v, "Math")
	m.Set("PI", value.Number(math.Pi))
	m.Set("E", value.Number(math.E))

	unary := func(name string, fn func(float64) float64) {
		method(v, m, name, 1, func(this value.Value, args []value.Value) (value.Value, error) {
			return value.Number(fn(arg(args, 0).ToNumber())), nil
		})
	}
	unary("abs", math.Abs)
	unary("floor", math.Floor)
	unary("ceil", math.Ceil)
	unary("sqrt", math.Sqrt)
	unary("cbrt", math.Cbrt)
	unary("sign", func(n float64) float64 {
		switch {
		case math.IsNaN(n):
			return math.NaN()
		case n > 0:
			return 1
		case n < 0:
			return -1
		default:
			return n
		}
	})
	unary("trunc", math.Trunc)
	unary("log", math.Log)
	unary("log2", math.Log2)
	unary("log10", math.Log10)
	unary("exp", math.Exp)
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("tan", math.Tan)
	unary("round", func(n float64) float64 {
		// JS Math.round rounds half-up, not half-to-even.
		return math.Floor(n + 0.5)
	})

	method(v, m, "pow", 2, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(math.Pow(arg(args, 0).ToNumber(), arg(args, 1).ToNumber())), nil
	})
	method(v, m, "atan2", 2, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(math.Atan2(arg(args, 0).ToNumber(), arg(args, 1).ToNumber())), nil
	})
	method(v, m, "hypot", 2, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(math.Hypot(arg(args, 0).ToNumber(), arg(args, 1).ToNumber())), nil
	})
	method(v, m, "min", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Number(math.Inf(1)), nil
		}
		best := arg(args, 0).ToNumber()
		for _, a := range args[1:] {
			n := a.ToNumber()
			if math.IsNaN(n) || math.IsNaN(best) {
				return value.Number(math.NaN()), nil
			}
			if n < best {
				best = n
			}
		}
		return value.Number(best), nil
	})
	method(v, m, "max", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Number(math.Inf(-1)), nil
		}
		best := arg(args, 0).ToNumber()
		for _, a := range args[1:] {
			n := a.ToNumber()
			if math.IsNaN(n) || math.IsNaN(best) {
				return value.Number(math.NaN()), nil
			}
			if n > best {
				best = n
			}
		}
		return value.Number(best), nil
	})
	method(v, m, "random", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(rand.Float64()), nil
	})
}
