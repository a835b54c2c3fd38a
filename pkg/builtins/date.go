package builtins

import (
	"math"
	"time"

	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// installDate registers the `Date` constructor, `Date.now`, and the
// getter surface every Date instance answers through its own
// prototype object (spec.md §4.7). Unlike the primitive
// "__proto_<kind>__" convention, Date instances are ordinary heap
// objects reached via `new`, so the prototype lives on the
// constructor's own "prototype" property the way ensurePrototype
// expects for any user-defined constructor.
func installDate(v *vm.VM) {
	ctor := nativeFunc(v, "Date", -1, func(this value.Value, args []value.Value) (value.Value, error) {
		o, ok := objectOf(v, this)
		if !ok {
			return value.Number(float64(time.Now().UnixMilli())), nil
		}
		ms := dateArgsToMillis(args)
		o.Set("__time__", value.Number(ms))
		return this, nil
	})
	setGlobal(v, "Date", ctor)

	h, ok := objectOf(v, ctor)
	if !ok {
		return
	}
	protoObj := heap.NewObject()
	protoHandle := v.Heap.Allocate(protoObj)
	h.Set("prototype", value.Object(protoHandle))
	v.Heap.AddRoot(protoHandle)

	method(v, h, "now", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(float64(time.Now().UnixMilli())), nil
	})

	get := func(name string, f func(t time.Time) float64) {
		method(v, protoObj, name, 0, func(this value.Value, args []value.Value) (value.Value, error) {
			return value.Number(f(dateTime(v, this))), nil
		})
	}
	get("getTime", func(t time.Time) float64 { return float64(t.UnixMilli()) })
	get("valueOf", func(t time.Time) float64 { return float64(t.UnixMilli()) })
	get("getFullYear", func(t time.Time) float64 { return float64(t.Year()) })
	get("getMonth", func(t time.Time) float64 { return float64(t.Month() - 1) })
	get("getDate", func(t time.Time) float64 { return float64(t.Day()) })
	get("getDay", func(t time.Time) float64 { return float64(t.Weekday()) })
	get("getHours", func(t time.Time) float64 { return float64(t.Hour()) })
	get("getMinutes", func(t time.Time) float64 { return float64(t.Minute()) })
	get("getSeconds", func(t time.Time) float64 { return float64(t.Second()) })
	get("getMilliseconds", func(t time.Time) float64 { return float64(t.Nanosecond() / 1e6) })

	method(v, protoObj, "toISOString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(dateTime(v, this).UTC().Format("2006-01-02T15:04:05.000Z")), nil
	})
	method(v, protoObj, "toString", 0, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.String(dateTime(v, this).Format(time.RFC1123)), nil
	})
}

func dateArgsToMillis(args []value.Value) float64 {
	switch len(args) {
	case 0:
		return float64(time.Now().UnixMilli())
	case 1:
		if args[0].IsString() {
			t, err := time.Parse(time.RFC3339, args[0].AsString())
			if err != nil {
				return math.NaN()
			}
			return float64(t.UnixMilli())
		}
		return args[0].ToNumber()
	default:
		year := int(args[0].ToNumber())
		month := time.Month(1)
		if len(args) > 1 {
			month = time.Month(int(args[1].ToNumber()) + 1)
		}
		day := 1
		if len(args) > 2 {
			day = int(args[2].ToNumber())
		}
		hour, min, sec, ms := 0, 0, 0, 0
		if len(args) > 3 {
			hour = int(args[3].ToNumber())
		}
		if len(args) > 4 {
			min = int(args[4].ToNumber())
		}
		if len(args) > 5 {
			sec = int(args[5].ToNumber())
		}
		if len(args) > 6 {
			ms = int(args[6].ToNumber())
		}
		t := time.Date(year, month, day, hour, min, sec, ms*1e6, time.UTC)
		return float64(t.UnixMilli())
	}
}

func dateTime(v *vm.VM, this value.Value) time.Time {
	o, ok := objectOf(v, this)
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	ms, exists := o.Get("__time__")
	if !exists {
		return time.Unix(0, 0).UTC()
	}
	return time.UnixMilli(int64(ms.ToNumber())).UTC()
}
