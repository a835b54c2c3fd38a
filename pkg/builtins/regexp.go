package builtins

import (
	"regexp"

	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installRegExp registers the `RegExp` constructor and the
// test/exec instance methods regex literals and `new RegExp(...)`
// values answer (spec.md §4.7). Patterns compile through Go's RE2
// engine (regexp.Compile), so backreferences and lookaround —
// perfectly legal in an ECMAScript pattern — fail at construction
// time with a SyntaxError instead of silently misbehaving.
func installRegExp(v *vm.VM) {
	ctor := nativeFunc(v, "RegExp", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		source := ""
		flags := ""
		if len(args) > 0 {
			if obj, ok := objectOf(v, args[0]); ok {
				if s, exists := obj.Get("source"); exists {
					source = s.ToString()
				}
				if f, exists := obj.Get("flags"); exists {
					flags = f.ToString()
				}
			} else {
				source = args[0].ToString()
			}
		}
		if len(args) > 1 && !args[1].IsUndefined() {
			flags = args[1].ToString()
		}
		re, err := compileRegExp(source, flags)
		if err != nil {
			return value.Undefined, &vm.ThrownValue{Value: v.NewError("SyntaxError", "Invalid regular expression: "+err.Error())}
		}
		o, ok := objectOf(v, this)
		if !ok {
			o = heap.NewObject()
			this = value.Object(v.Heap.Allocate(o))
		}
		fillRegExpObject(o, source, flags)
		regexCache[o] = re
		return this, nil
	})
	setGlobal(v, "RegExp", ctor)

	h, ok := objectOf(v, ctor)
	if !ok {
		return
	}
	proto := heap.NewObject()
	protoHandle := v.Heap.Allocate(proto)
	h.Set("prototype", value.Object(protoHandle))
	v.Heap.AddRoot(protoHandle)

	method(v, proto, "test", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		re, ok := regexOf(v, this)
		if !ok {
			return value.False, nil
		}
		return value.Bool(re.MatchString(arg(args, 0).ToString())), nil
	})
	method(v, proto, "exec", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		re, ok := regexOf(v, this)
		if !ok {
			return value.Null, nil
		}
		text := arg(args, 0).ToString()
		m := re.FindStringSubmatch(text)
		if m == nil {
			return value.Null, nil
		}
		elems := make([]value.Value, len(m))
		for i, g := range m {
			elems[i] = value.String(g)
		}
		return newArray(v, elems), nil
	})
	method(v, proto, "toString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.String("/(?:)/"), nil
		}
		src, _ := o.Get("source")
		flags, _ := o.Get("flags")
		return value.String("/" + src.ToString() + "/" + flags.ToString()), nil
	})
}

// regexCache maps a regex object's heap record to its compiled Go
// pattern. It is keyed by the *heap.Object pointer, which stays the same
// for the object's lifetime while its value.Handle changes when a minor
// GC promotes it to the old generation. Regexes created
// by the compiler's own regex-literal opcode (pkg/vm.newRegExp) never
// populate this cache, so compileRegExp re-derives theirs from
// source/flags on first test/exec instead of requiring VM cooperation.
var regexCache = map[*heap.Object]*regexp.Regexp{}

func regexOf(v *vm.VM, this value.Value) (*regexp.Regexp, bool) {
	o, ok := objectOf(v, this)
	if !ok {
		return nil, false
	}
	if re, cached := regexCache[o]; cached {
		return re, true
	}
	src, _ := o.Get("source")
	flags, _ := o.Get("flags")
	re, err := compileRegExp(src.ToString(), flags.ToString())
	if err != nil {
		return nil, false
	}
	regexCache[o] = re
	return re, true
}

func compileRegExp(source, flags string) (*regexp.Regexp, error) {
	prefix := ""
	for _, f := range flags {
		switch f {
		case 'i':
			prefix += "i"
		case 's':
			prefix += "s"
		case 'm':
			prefix += "m"
		}
	}
	pattern := source
	if prefix != "" {
		pattern = "(?" + prefix + ")" + source
	}
	return regexp.Compile(pattern)
}

func fillRegExpObject(o *heap.Object, source, flags string) {
	o.Set("source", value.String(source))
	o.Set("flags", value.String(flags))
	o.Set("global", value.Bool(containsRune(flags, 'g')))
	o.Set("ignoreCase", value.Bool(containsRune(flags, 'i')))
	o.Set("multiline", value.Bool(containsRune(flags, 'm')))
	o.Set("lastIndex", value.Number(0))
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
