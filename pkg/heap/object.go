package heap

import (
	"sync"
	"sync/atomic"

	"github.com/kristofer/nyx/pkg/bytecode"
	"github.com/kristofer/nyx/pkg/value"
)

// MarkColor is the tri-color marking state used by the incremental
// collector (spec §3.3, §4.5).
type MarkColor uint32

const (
	White MarkColor = iota
	Gray
	Black
)

// Object flag bits, packed into Header.flags (spec §3.2: "object flags
// {extensible, sealed, frozen}", extended with two GC bookkeeping bits).
const (
	FlagExtensible uint32 = 1 << iota
	FlagSealed
	FlagFrozen
	FlagPrototype
	FlagFinalized
)

// Header carries per-object GC metadata: tri-color mark, age (for
// promotion), and the flag bitset. Fields are atomics so the write barrier
// and concurrent mark/sweep batches can touch them without a per-object
// mutex (spec §3.3).
type Header struct {
	color atomic.Uint32
	age   atomic.Uint32
	flags atomic.Uint32
}

func newHeader() Header {
	h := Header{}
	h.color.Store(uint32(White))
	h.flags.Store(FlagExtensible)
	return h
}

func (h *Header) Color() MarkColor    { return MarkColor(h.color.Load()) }
func (h *Header) SetColor(c MarkColor) { h.color.Store(uint32(c)) }

func (h *Header) Age() uint8 { return uint8(h.age.Load()) }

// IncrementAge saturates at 255, mirroring the original's age counter.
func (h *Header) IncrementAge() {
	for {
		cur := h.age.Load()
		if cur >= 255 {
			return
		}
		if h.age.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

func (h *Header) hasFlag(f uint32) bool { return h.flags.Load()&f != 0 }

func (h *Header) setFlag(f uint32, on bool) {
	for {
		cur := h.flags.Load()
		var next uint32
		if on {
			next = cur | f
		} else {
			next = cur &^ f
		}
		if h.flags.CompareAndSwap(cur, next) {
			return
		}
	}
}

// FunctionPayload is the function-specific data a heap object carries when
// it represents a function value (spec §3.2): parameter list, compiled
// body, declared local count, captured-closure environment, and a strict
// flag. Native functions substitute Template/Captures with a host routine
// plus arity.
type FunctionPayload struct {
	Name     string
	Template *bytecode.FunctionTemplate // nil for native functions
	Captures map[string]value.Value     // closure-injection snapshot, spec §4.3 step 3
	Native   NativeFunc                 // non-nil for native/host functions
	Arity    int
	Strict   bool
}

// NativeFunc is a host-implemented function body (spec §3.2: "a native
// function substitutes the bytecode block with a pointer to a host routine
// plus a declared arity").
type NativeFunc func(this value.Value, args []value.Value) (value.Value, error)

// Object is a heap-resident JS object: an optional prototype, a
// property-name→value map, GC header, and (for arrays) a dense element
// vector, or (for functions) a FunctionPayload (spec §3.2).
type Object struct {
	mu         sync.RWMutex
	header     Header
	Prototype  *value.Handle
	Properties map[string]value.Value

	IsArray  bool
	Elements []value.Value

	Function *FunctionPayload
}

// NewObject creates an empty, extensible plain object.
func NewObject() *Object {
	return &Object{
		header:     newHeader(),
		Properties: make(map[string]value.Value),
	}
}

// NewObjectWithPrototype creates an empty object with a prototype handle.
func NewObjectWithPrototype(proto value.Handle) *Object {
	o := NewObject()
	o.Prototype = &proto
	return o
}

// NewArray creates an array object with the given initial elements. The
// synthesized length property always equals len(Elements) (spec §3.2
// invariant).
func NewArray(elements []value.Value) *Object {
	o := NewObject()
	o.IsArray = true
	o.Elements = elements
	o.syncLength()
	return o
}

// NewFunction creates a function object wrapping a compiled template plus
// its captured-closure snapshot.
func NewFunction(payload *FunctionPayload) *Object {
	o := NewObject()
	o.Function = payload
	return o
}

func (o *Object) Header() *Header { return &o.header }

func (o *Object) IsFrozen() bool     { return o.header.hasFlag(FlagFrozen) }
func (o *Object) IsSealed() bool     { return o.header.hasFlag(FlagSealed) }
func (o *Object) IsExtensible() bool { return o.header.hasFlag(FlagExtensible) }
func (o *Object) IsFinalized() bool  { return o.header.hasFlag(FlagFinalized) }

// Freeze rejects property additions, deletions, and value writes (spec
// §3.2).
func (o *Object) Freeze() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.header.setFlag(FlagFrozen, true)
	o.header.setFlag(FlagSealed, true)
	o.header.setFlag(FlagExtensible, false)
}

// Seal rejects additions and deletions but permits writes (spec §3.2).
func (o *Object) Seal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.header.setFlag(FlagSealed, true)
	o.header.setFlag(FlagExtensible, false)
}

func (o *Object) PreventExtensions() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.header.setFlag(FlagExtensible, false)
}

// Get reads a named property.
func (o *Object) Get(name string) (value.Value, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.Properties[name]
	return v, ok
}

// Set writes a named property, honoring frozen/sealed/non-extensible
// semantics. Returns false if the write was rejected.
func (o *Object) Set(name string, v value.Value) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.header.hasFlag(FlagFrozen) {
		return false
	}
	_, exists := o.Properties[name]
	if !exists && !o.IsExtensible() {
		return false
	}
	o.Properties[name] = v
	return true
}

// Delete removes a named property. Returns false if the object is frozen or
// sealed.
func (o *Object) Delete(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.header.hasFlag(FlagFrozen) || o.header.hasFlag(FlagSealed) {
		return false
	}
	if _, ok := o.Properties[name]; !ok {
		return false
	}
	delete(o.Properties, name)
	return true
}

func (o *Object) syncLength() {
	o.Properties["length"] = value.Number(float64(len(o.Elements)))
}

// GetElement returns an array element, Undefined for holes or out-of-range
// indices.
func (o *Object) GetElement(idx uint32) value.Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if int(idx) >= len(o.Elements) {
		return value.Undefined
	}
	return o.Elements[idx]
}

// SetElement writes an array element, materializing intervening holes as
// undefined and keeping `length` in sync (spec §3.2 invariant).
func (o *Object) SetElement(idx uint32, v value.Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if int(idx) >= len(o.Elements) {
		grown := make([]value.Value, idx+1)
		copy(grown, o.Elements)
		for i := len(o.Elements); i < int(idx); i++ {
			grown[i] = value.Undefined
		}
		o.Elements = grown
	}
	o.Elements[idx] = v
	o.syncLength()
}

// Length returns the array's element count.
func (o *Object) Length() uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return uint32(len(o.Elements))
}

// SetLength truncates (or, per the invariant, could extend) the element
// vector to match an assignment to `length`.
func (o *Object) SetLength(n uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if int(n) <= len(o.Elements) {
		o.Elements = o.Elements[:n]
	} else {
		grown := make([]value.Value, n)
		copy(grown, o.Elements)
		for i := len(o.Elements); i < int(n); i++ {
			grown[i] = value.Undefined
		}
		o.Elements = grown
	}
	o.syncLength()
}

// TraceRefs returns every handle this object directly holds, for the
// mark phase to follow (prototype, object/function-valued properties and
// elements, captured closure values).
func (o *Object) TraceRefs() []value.Handle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	refs := make([]value.Handle, 0, len(o.Properties)+len(o.Elements)+1)
	if o.Prototype != nil {
		refs = append(refs, *o.Prototype)
	}
	for _, v := range o.Properties {
		if v.IsObject() || v.IsFunction() {
			refs = append(refs, v.AsHandle())
		}
	}
	for _, v := range o.Elements {
		if v.IsObject() || v.IsFunction() {
			refs = append(refs, v.AsHandle())
		}
	}
	if o.Function != nil {
		for _, v := range o.Function.Captures {
			if v.IsObject() || v.IsFunction() {
				refs = append(refs, v.AsHandle())
			}
		}
	}
	return refs
}

// SizeBytes approximates the object's heap footprint for GC statistics.
// There is no exact accounting in a Go-hosted heap (objects are also
// managed by the host runtime's own GC); this mirrors the original's
// size_bytes approximation closely enough to drive the same
// threshold-based triggers.
func (o *Object) SizeBytes() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	const base = 64
	size := base
	for k, v := range o.Properties {
		size += len(k) + valueSizeBytes(v)
	}
	size += len(o.Elements) * 16
	if o.Function != nil {
		size += 32 + len(o.Function.Name)
		for k, v := range o.Function.Captures {
			size += len(k) + valueSizeBytes(v)
		}
	}
	return size
}

func valueSizeBytes(v value.Value) int {
	if v.IsString() {
		return 16 + len(v.AsString())
	}
	return 16
}
