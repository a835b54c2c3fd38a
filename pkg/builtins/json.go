package builtins

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installJSON registers `JSON.parse`/`JSON.stringify` (spec.md §4.7),
// bridging through Go's encoding/json the same way the teacher's
// jsonParse:/jsonGenerate: primitives did, rebuilt against value.Value
// instead of the teacher's *Array/int64 convention.
func installJSON(v *vm.VM) {
	j := namespace(v, "JSON")
	method(v, j, "parse", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(arg(args, 0).AsString()), &decoded); err != nil {
			return value.Undefined, fmt.Errorf("JSON.parse: %w", err)
		}
		return goToValue(v, decoded), nil
	})
	method(v, j, "stringify", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		indent := ""
		if len(args) >= 3 && args[2].IsNumber() {
			n := int(args[2].ToNumber())
			for i := 0; i < n; i++ {
				indent += " "
			}
		}
		encoded, err := jsonEncode(v, arg(args, 0), indent, "", map[value.Handle]bool{})
		if err != nil {
			return value.Undefined, err
		}
		if encoded == "" {
			return value.Undefined, nil
		}
		return value.String(encoded), nil
	})
}

// goToValue converts a Go value produced by encoding/json.Unmarshal
// into a nyx value.Value, allocating heap objects/arrays as needed.
func goToValue(v *vm.VM, g interface{}) value.Value {
	switch x := g.(type) {
	case nil:
		return value.Null
	case bool:
		return value.Bool(x)
	case float64:
		return value.Number(x)
	case string:
		return value.String(x)
	case []interface{}:
		elems := make([]value.Value, len(x))
		for i, e := range x {
			elems[i] = goToValue(v, e)
		}
		return newArray(v, elems)
	case map[string]interface{}:
		o, val := newPlainObject(v)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			o.Set(k, goToValue(v, x[k]))
		}
		return val
	default:
		return value.Undefined
	}
}

// jsonEncode implements JSON.stringify's tree walk directly against
// value.Value rather than round-tripping through encoding/json's own
// marshaler, since value.Value has no exported Go struct shape for it
// to reflect over. Returns "" for values JSON.stringify skips
// (undefined, function) the way the real operation does when they
// appear at the top level.
func jsonEncode(v *vm.VM, val value.Value, indent, prefix string, seen map[value.Handle]bool) (string, error) {
	switch {
	case val.IsUndefined(), val.IsFunction(), val.IsSymbol():
		return "", nil
	case val.IsNull():
		return "null", nil
	case val.IsBoolean():
		if val.AsBool() {
			return "true", nil
		}
		return "false", nil
	case val.IsNumber():
		n := val.AsNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "null", nil
		}
		return strconvFormat(n), nil
	case val.IsString():
		b, err := json.Marshal(val.AsString())
		return string(b), err
	case val.IsObject():
		h := val.AsHandle()
		if seen[h] {
			return "", fmt.Errorf("JSON.stringify: converting circular structure to JSON")
		}
		o, ok := v.Heap.Get(h)
		if !ok {
			return "null", nil
		}
		seen[h] = true
		defer delete(seen, h)
		nextPrefix := prefix + indent
		if o.IsArray {
			if len(o.Elements) == 0 {
				return "[]", nil
			}
			parts := make([]string, len(o.Elements))
			for i, e := range o.Elements {
				enc, err := jsonEncode(v, e, indent, nextPrefix, seen)
				if err != nil {
					return "", err
				}
				if enc == "" {
					enc = "null"
				}
				parts[i] = enc
			}
			return wrapJSON("[", "]", parts, indent, prefix, nextPrefix), nil
		}
		keys := make([]string, 0, len(o.Properties))
		for k := range o.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			pv, _ := o.Get(k)
			enc, err := jsonEncode(v, pv, indent, nextPrefix, seen)
			if err != nil {
				return "", err
			}
			if enc == "" {
				continue
			}
			keyJSON, _ := json.Marshal(k)
			sep := ":"
			if indent != "" {
				sep = ": "
			}
			parts = append(parts, string(keyJSON)+sep+enc)
		}
		return wrapJSON("{", "}", parts, indent, prefix, nextPrefix), nil
	default:
		return "null", nil
	}
}

func wrapJSON(open, close string, parts []string, indent, prefix, nextPrefix string) string {
	if len(parts) == 0 {
		return open + close
	}
	if indent == "" {
		return open + joinComma(parts) + close
	}
	body := "\n" + nextPrefix + joinCommaIndent(parts, ",\n"+nextPrefix) + "\n" + prefix
	return open + body + close
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func joinCommaIndent(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func strconvFormat(n float64) string {
	return value.Number(n).ToString()
}
