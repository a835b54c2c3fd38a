package builtins

import (
	"math"
	"strconv"
	"strings"

	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installGlobalFunctions registers the free functions every script sees
// without qualification: parseInt, parseFloat, isNaN, isFinite
// (spec.md §4.7), plus undefined/NaN/Infinity as named globals the way
// a hosted ECMAScript environment exposes them.
func installGlobalFunctions(v *vm.VM) {
	setGlobal(v, "NaN", value.Number(math.NaN()))
	setGlobal(v, "Infinity", value.Number(math.Inf(1)))
	setGlobal(v, "undefined", value.Undefined)

	RegisterNative(v, "parseInt", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		s := strings.TrimSpace(arg(args, 0).ToString())
		radix := 10
		if len(args) > 1 && !args[1].IsUndefined() {
			radix = int(args[1].ToNumber())
			if radix == 0 {
				radix = 10
			}
		}
		neg := false
		if strings.HasPrefix(s, "-") {
			neg = true
			s = s[1:]
		} else if strings.HasPrefix(s, "+") {
			s = s[1:]
		}
		if radix == 16 || radix == 0 {
			if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
				s = s[2:]
				radix = 16
			}
		}
		end := 0
		for end < len(s) && isDigitInRadix(s[end], radix) {
			end++
		}
		if end == 0 {
			return value.Number(math.NaN()), nil
		}
		n, err := strconv.ParseInt(s[:end], radix, 64)
		if err != nil {
			return value.Number(math.NaN()), nil
		}
		if neg {
			n = -n
		}
		return value.Number(float64(n)), nil
	})

	RegisterNative(v, "parseFloat", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		s := strings.TrimSpace(arg(args, 0).ToString())
		end := len(s)
		for end > 0 {
			if _, err := strconv.ParseFloat(s[:end], 64); err == nil {
				break
			}
			end--
		}
		if end == 0 {
			return value.Number(math.NaN()), nil
		}
		n, err := strconv.ParseFloat(s[:end], 64)
		if err != nil {
			return value.Number(math.NaN()), nil
		}
		return value.Number(n), nil
	})

	RegisterNative(v, "isNaN", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(math.IsNaN(arg(args, 0).ToNumber())), nil
	})

	RegisterNative(v, "isFinite", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		n := arg(args, 0).ToNumber()
		return value.Bool(!math.IsNaN(n) && !math.IsInf(n, 0)), nil
	})
}

func isDigitInRadix(c byte, radix int) bool {
	var v int
	switch {
	case c >= '0' && c <= '9':
		v = int(c - '0')
	case c >= 'a' && c <= 'z':
		v = int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		v = int(c-'A') + 10
	default:
		return false
	}
	return v < radix
}
