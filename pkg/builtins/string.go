package builtins

import (
	"math"
	"strings"

	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installStringProto registers the `String` wrapper constructor/`String`
// global function and the instance methods every string primitive
// reaches through protoGetProperty("string", ...) (spec.md §4.7).
func installStringProto(v *vm.VM) {
	ctor := nativeFunc(v, "String", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.String(""), nil
		}
		return value.String(v.ToDisplayString(args[0])), nil
	})
	setGlobal(v, "String", ctor)
	if h, ok := objectOf(v, ctor); ok {
		method(v, h, "fromCharCode", -1, func(this value.Value, args []value.Value) (value.Value, error) {
			var b strings.Builder
			for _, a := range args {
				b.WriteRune(rune(int(a.ToNumber())))
			}
			return value.String(b.String()), nil
		})
	}

	proto := protoObject(v, "string")

	str := func(this value.Value) []rune { return []rune(this.ToString()) }

	method(v, proto, "charAt", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		rs := str(this)
		i := int(arg(args, 0).ToNumber())
		if i < 0 || i >= len(rs) {
			return value.String(""), nil
		}
		return value.String(string(rs[i])), nil
	})
	method(v, proto, "charCodeAt", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		rs := str(this)
		i := int(arg(args, 0).ToNumber())
		if i < 0 || i >= len(rs) {
			return value.Number(math.NaN()), nil
		}
		return value.Number(float64(rs[i])), nil
	})
	method(v, proto, "indexOf", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		s := this.ToString()
		sub := arg(args, 0).ToString()
		from := 0
		if len(args) > 1 {
			from = int(args[1].ToNumber())
			if from < 0 {
				from = 0
			}
			if from > len(s) {
				from = len(s)
			}
		}
		idx := strings.Index(s[from:], sub)
		if idx < 0 {
			return value.Number(-1), nil
		}
		return value.Number(float64(idx + from)), nil
	})
	method(v, proto, "lastIndexOf", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		s := this.ToString()
		sub := arg(args, 0).ToString()
		return value.Number(float64(strings.LastIndex(s, sub))), nil
	})
	method(v, proto, "includes", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(strings.Contains(this.ToString(), arg(args, 0).ToString())), nil
	})
	method(v, proto, "startsWith", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(strings.HasPrefix(this.ToString(), arg(args, 0).ToString())), nil
	})
	method(v, proto, "endsWith", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(strings.HasSuffix(this.ToString(), arg(args, 0).ToString())), nil
	})
	method(v, proto, "slice", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		rs := str(this)
		start, end := sliceRange(len(rs), args)
		return value.String(string(rs[start:end])), nil
	})
	method(v, proto, "substring", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		rs := str(this)
		n := len(rs)
		start := clamp(int(arg(args, 0).ToNumber()), 0, n)
		end := n
		if len(args) > 1 && !args[1].IsUndefined() {
			end = clamp(int(args[1].ToNumber()), 0, n)
		}
		if start > end {
			start, end = end, start
		}
		return value.String(string(rs[start:end])), nil
	})
	method(v, proto, "toUpperCase", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.ToUpper(this.ToString())), nil
	})
	method(v, proto, "toLowerCase", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.ToLower(this.ToString())), nil
	})
	method(v, proto, "trim", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.TrimSpace(this.ToString())), nil
	})
	method(v, proto, "trimStart", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.TrimLeft(this.ToString(), " \t\n\r")), nil
	})
	method(v, proto, "trimEnd", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.TrimRight(this.ToString(), " \t\n\r")), nil
	})
	method(v, proto, "split", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		s := this.ToString()
		if len(args) == 0 || args[0].IsUndefined() {
			return newArray(v, []value.Value{value.String(s)}), nil
		}
		sep := args[0].ToString()
		var parts []string
		if sep == "" {
			for _, r := range s {
				parts = append(parts, string(r))
			}
		} else {
			parts = strings.Split(s, sep)
		}
		elems := make([]value.Value, len(parts))
		for i, p := range parts {
			elems[i] = value.String(p)
		}
		return newArray(v, elems), nil
	})
	method(v, proto, "concat", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		var b strings.Builder
		b.WriteString(this.ToString())
		for _, a := range args {
			b.WriteString(a.ToString())
		}
		return value.String(b.String()), nil
	})
	method(v, proto, "repeat", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		n := int(arg(args, 0).ToNumber())
		if n < 0 {
			return value.Undefined, v.ThrowRangeError("Invalid count value")
		}
		return value.String(strings.Repeat(this.ToString(), n)), nil
	})
	method(v, proto, "padStart", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(pad(this.ToString(), args, true)), nil
	})
	method(v, proto, "padEnd", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(pad(this.ToString(), args, false)), nil
	})
	method(v, proto, "replace", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return stringReplace(v, this.ToString(), arg(args, 0), arg(args, 1), false)
	})
	method(v, proto, "replaceAll", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		return stringReplace(v, this.ToString(), arg(args, 0), arg(args, 1), true)
	})
	method(v, proto, "toString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(this.ToString()), nil
	})
	method(v, proto, "valueOf", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(this.ToString()), nil
	})
}

func clamp(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

func pad(s string, args []value.Value, start bool) string {
	target := len(s)
	if len(args) > 0 {
		target = int(args[0].ToNumber())
	}
	filler := " "
	if len(args) > 1 && !args[1].IsUndefined() {
		filler = args[1].ToString()
	}
	if target <= len(s) || filler == "" {
		return s
	}
	var b strings.Builder
	for b.Len() < target-len(s) {
		b.WriteString(filler)
	}
	fill := b.String()[:target-len(s)]
	if start {
		return fill + s
	}
	return s + fill
}

func stringReplace(v *vm.VM, s string, pattern, repl value.Value, all bool) (value.Value, error) {
	needle := pattern.ToString()
	replacement := repl.ToString()
	doOne := func(s string) (string, bool) {
		idx := strings.Index(s, needle)
		if idx < 0 {
			return s, false
		}
		return s[:idx] + replacement + s[idx+len(needle):], true
	}
	if !all {
		out, _ := doOne(s)
		return value.String(out), nil
	}
	if needle == "" {
		return value.String(s), nil
	}
	return value.String(strings.ReplaceAll(s, needle, replacement)), nil
}
