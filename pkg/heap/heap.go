// Package heap implements nyx's generational heap (spec §3.2-§3.3,
// §4.5): a bump-allocated nursery, a free-list old generation, a
// card-table write barrier, and tri-color minor/major collection.
// Collection is not incremental. Only the major GC's mark-reset pass runs
// in errgroup-parallel batches for large heaps; marking and sweeping are
// sequential.
//
// No Go file in the teacher repo implements a garbage collector — smog
// leans entirely on the host Go runtime's GC for its own objects — so this
// package is grounded directly on the spec's Rust origin
// (original_source/crates/spacey-spidermonkey/src/gc/{mod,object}.rs)
// rather than on any teacher file, translating GcConfig/GcStats/MarkColor
// field-for-field and GcRef's region-bit-packing into value.Handle.
package heap

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kristofer/nyx/pkg/value"
)

// Config mirrors the original's GcConfig, field for field (spec §4.5
// "Configuration").
type Config struct {
	NurserySize        int     // bytes
	ArenaBlockSize      int     // bytes
	TenureThreshold     uint8   // not consulted: a minor GC promotes every survivor
	MinorGCThreshold    float64 // fraction of nursery full
	MajorGCThreshold    float64 // fraction of old-gen growth
	ParallelThreshold   int     // min old-gen objects for the parallel mark reset
	CardSize            int     // bytes per card
	Incremental         bool
	MaxPauseMicroseconds int64
}

// DefaultConfig matches the original's Default impl.
func DefaultConfig() Config {
	return Config{
		NurserySize:           4 * 1024 * 1024,
		ArenaBlockSize:        64 * 1024,
		TenureThreshold:       2,
		MinorGCThreshold:      0.9,
		MajorGCThreshold:      2.0,
		ParallelThreshold:     1000,
		CardSize:              512,
		Incremental:           true,
		MaxPauseMicroseconds:  1000,
	}
}

// Stats mirrors the original's GcStats, field for field.
type Stats struct {
	MinorCollections int
	MajorCollections int
	BytesAllocated   int
	BytesFreed       int
	NurseryUsed      int
	OldGenSize       int
	ObjectsPromoted  int
	TotalGCTime      time.Duration
	LastPause        time.Duration
	PeakMemory       int
}

type collectionState int32

const (
	stateIdle collectionState = iota
	stateMarking
	stateSweeping
)

// CardClean/CardDirty name the two card states for readability at call
// sites (spec §4.5 "Card table").
const (
	cardClean byte = 0
	cardDirty byte = 1
)

// Heap is nyx's generational collector. Safe for concurrent use.
type Heap struct {
	mu     sync.RWMutex
	config Config

	nursery         []*Object
	nurseryUsedBytes int

	oldGen      []*Object
	oldFreeList []int
	oldGenBytes int

	cardTable []byte

	roots map[value.Handle]struct{}

	state               collectionState
	writeBarrierEnabled bool
	bytesSinceGC        int

	stats Stats
}

// New creates a heap with DefaultConfig.
func New() *Heap { return NewWithConfig(DefaultConfig()) }

// NewWithConfig creates a heap with a custom configuration.
func NewWithConfig(cfg Config) *Heap {
	cardCount := cfg.NurserySize / cfg.CardSize
	if cardCount < 1 {
		cardCount = 1
	}
	return &Heap{
		config:      cfg,
		oldFreeList: make([]int, 0, 256),
		cardTable:   make([]byte, cardCount),
		roots:       make(map[value.Handle]struct{}),
	}
}

// Allocate places a new object in the nursery (bump-allocation fast path),
// triggering a minor GC and retrying on failure, and falling back to a
// direct old-gen allocation if the object still doesn't fit (spec §4.5
// "Allocation").
func (h *Heap) Allocate(obj *Object) value.Handle {
	size := obj.SizeBytes()

	h.mu.Lock()
	h.bytesSinceGC += size
	if h.nurseryUsedBytes+size <= h.config.NurserySize {
		idx := len(h.nursery)
		h.nursery = append(h.nursery, obj)
		h.nurseryUsedBytes += size
		h.stats.BytesAllocated += size
		h.stats.NurseryUsed = h.nurseryUsedBytes
		needMinor := h.shouldMinorGCLocked()
		h.mu.Unlock()
		if needMinor {
			h.MinorGC()
		}
		return value.NewHandle(value.Young, uint32(idx))
	}
	h.mu.Unlock()

	h.MinorGC()

	h.mu.Lock()
	if h.nurseryUsedBytes+size <= h.config.NurserySize {
		idx := len(h.nursery)
		h.nursery = append(h.nursery, obj)
		h.nurseryUsedBytes += size
		h.mu.Unlock()
		return value.NewHandle(value.Young, uint32(idx))
	}
	h.mu.Unlock()

	return h.allocateOld(obj, size)
}

func (h *Heap) allocateOld(obj *Object, size int) value.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	var idx int
	if n := len(h.oldFreeList); n > 0 {
		idx = h.oldFreeList[n-1]
		h.oldFreeList = h.oldFreeList[:n-1]
		h.oldGen[idx] = obj
	} else {
		idx = len(h.oldGen)
		h.oldGen = append(h.oldGen, obj)
	}
	h.stats.BytesAllocated += size
	h.oldGenBytes += size
	h.stats.OldGenSize = h.oldGenBytes
	return value.NewHandle(value.Old, uint32(idx))
}

func (h *Heap) shouldMinorGCLocked() bool {
	threshold := int(float64(h.config.NurserySize) * h.config.MinorGCThreshold)
	return h.nurseryUsedBytes >= threshold
}

// Get dereferences a handle. Returns (nil, false) for a freed or
// out-of-range old-gen slot.
func (h *Heap) Get(ref value.Handle) (*Object, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ref.Region() == value.Young {
		idx := int(ref.Index())
		if idx < 0 || idx >= len(h.nursery) {
			return nil, false
		}
		return h.nursery[idx], true
	}
	idx := int(ref.Index())
	if idx < 0 || idx >= len(h.oldGen) || h.oldGen[idx] == nil {
		return nil, false
	}
	return h.oldGen[idx], true
}

// WriteBarrier marks the card containing an old-gen writer as dirty so
// minor GC's root scan finds the old→young pointer it just wrote (spec
// §4.5 "Write barrier"). A no-op outside GC phases and for young writers.
func (h *Heap) WriteBarrier(holder value.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.writeBarrierEnabled || holder.Region() == value.Young {
		return
	}
	cardIdx := int(holder.Index()) % len(h.cardTable)
	h.cardTable[cardIdx] = cardDirty
}

// AddRoot pins a handle against collection.
func (h *Heap) AddRoot(ref value.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots[ref] = struct{}{}
}

// RemoveRoot unpins a handle.
func (h *Heap) RemoveRoot(ref value.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.roots, ref)
}

// MinorGC collects the nursery: mark reachable young objects from roots and
// dirty cards, promote every survivor to the old generation, then reset
// the nursery (spec §4.5 "Minor GC").
//
// Promoted objects get a new old-gen index; like the Rust original this
// collector does not rewrite other live objects' stored references to the
// handle that changed (a documented simplification inherited from
// original_source, not introduced here — a production collector would
// need a forwarding table or indirect handles to fix this).
func (h *Heap) MinorGC() {
	start := time.Now()

	h.mu.Lock()
	h.writeBarrierEnabled = true
	h.state = stateMarking
	h.mu.Unlock()

	marked := h.markMinor()

	promoted := h.copySurvivors(marked)

	h.mu.Lock()
	h.nursery = h.nursery[:0]
	h.nurseryUsedBytes = 0
	for i := range h.cardTable {
		h.cardTable[i] = cardClean
	}
	h.state = stateIdle
	h.writeBarrierEnabled = false
	h.bytesSinceGC = 0

	elapsed := time.Since(start)
	h.stats.MinorCollections++
	h.stats.ObjectsPromoted += promoted
	h.stats.LastPause = elapsed
	h.stats.TotalGCTime += elapsed
	h.stats.NurseryUsed = 0
	h.mu.Unlock()
}

// markMinor walks roots plus dirty-card old objects, returning the set of
// young indices found reachable.
func (h *Heap) markMinor() map[int]bool {
	h.mu.RLock()
	roots := make([]value.Handle, 0, len(h.roots))
	for r := range h.roots {
		roots = append(roots, r)
	}
	dirty := make([]int, 0)
	for i, c := range h.cardTable {
		if c == cardDirty {
			dirty = append(dirty, i)
		}
	}
	h.mu.RUnlock()

	marked := make(map[int]bool)
	for _, r := range roots {
		if r.Region() == value.Young {
			h.markYoung(int(r.Index()), marked)
		}
	}

	if len(dirty) > 0 {
		// Coarse remembered-set scan: any old-gen object may hold an
		// old→young pointer, so sweep all of them for young refs
		// (spec §4.5 divergence note: real card scanning would walk
		// only the bytes under the dirty card).
		h.mu.RLock()
		oldObjs := append([]*Object(nil), h.oldGen...)
		h.mu.RUnlock()
		for _, obj := range oldObjs {
			if obj == nil {
				continue
			}
			for _, ref := range obj.TraceRefs() {
				if ref.Region() == value.Young {
					h.markYoung(int(ref.Index()), marked)
				}
			}
		}
	}

	return marked
}

func (h *Heap) markYoung(idx int, marked map[int]bool) {
	if marked[idx] {
		return
	}
	h.mu.RLock()
	if idx < 0 || idx >= len(h.nursery) {
		h.mu.RUnlock()
		return
	}
	obj := h.nursery[idx]
	h.mu.RUnlock()

	marked[idx] = true
	obj.header.SetColor(Black)
	for _, ref := range obj.TraceRefs() {
		if ref.Region() == value.Young {
			h.markYoung(int(ref.Index()), marked)
		}
	}
}

// copySurvivors promotes every marked nursery object to the old
// generation and fixes up the heap's own roots set, which otherwise would
// keep pointing at the (about-to-be-reset) young indices. This forwarding
// is limited to roots: other live objects' stored references to a
// promoted handle are not rewritten, the same simplification
// original_source's copy_survivors makes (see MinorGC's doc comment).
func (h *Heap) copySurvivors(marked map[int]bool) int {
	h.mu.Lock()
	survivors := make([]*Object, 0, len(marked))
	survivorIdx := make([]int, 0, len(marked))
	for idx := range marked {
		if idx >= 0 && idx < len(h.nursery) {
			survivors = append(survivors, h.nursery[idx])
			survivorIdx = append(survivorIdx, idx)
		}
	}
	h.mu.Unlock()

	forward := make(map[uint32]value.Handle, len(survivors))
	for i, obj := range survivors {
		obj.header.IncrementAge()
		newRef := h.allocateOld(obj, obj.SizeBytes())
		forward[uint32(survivorIdx[i])] = newRef
	}

	if len(forward) > 0 {
		h.mu.Lock()
		for root := range h.roots {
			if root.Region() != value.Young {
				continue
			}
			if newRef, ok := forward[root.Index()]; ok {
				delete(h.roots, root)
				h.roots[newRef] = struct{}{}
			}
		}
		h.mu.Unlock()
	}

	return len(survivors)
}

// MajorGC performs a full-heap collection: a minor GC to empty the
// nursery, then mark-sweep over the old generation (spec §4.5 "Major
// GC"). Resetting marks runs in parallel batches when the old gen exceeds
// the parallel threshold; marking and sweeping run sequentially.
func (h *Heap) MajorGC() {
	start := time.Now()

	h.MinorGC()

	h.mu.Lock()
	h.state = stateMarking
	h.mu.Unlock()

	h.resetMarks()
	h.markOldFromRoots()

	h.mu.Lock()
	h.state = stateSweeping
	h.mu.Unlock()

	freed := h.sweepOld()

	h.mu.Lock()
	h.state = stateIdle
	elapsed := time.Since(start)
	h.stats.MajorCollections++
	h.stats.LastPause = elapsed
	h.stats.TotalGCTime += elapsed
	h.stats.BytesFreed += freed
	h.oldGenBytes -= freed
	if h.oldGenBytes < 0 {
		h.oldGenBytes = 0
	}
	h.stats.OldGenSize = h.oldGenBytes
	h.mu.Unlock()
}

func (h *Heap) oldObjectsSnapshot() []*Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Object(nil), h.oldGen...)
}

func (h *Heap) resetMarks() {
	objs := h.oldObjectsSnapshot()
	runParallel(objs, h.config.ParallelThreshold, func(o *Object) {
		if o != nil {
			o.header.SetColor(White)
		}
	})
}

func (h *Heap) markOldFromRoots() {
	h.mu.RLock()
	roots := make([]value.Handle, 0, len(h.roots))
	for r := range h.roots {
		roots = append(roots, r)
	}
	h.mu.RUnlock()

	visited := make(map[uint32]bool)
	var visitMu sync.Mutex
	for _, r := range roots {
		h.markOld(r, visited, &visitMu)
	}
}

func (h *Heap) markOld(ref value.Handle, visited map[uint32]bool, mu *sync.Mutex) {
	if ref.Region() == value.Young {
		return
	}
	idx := ref.Index()

	mu.Lock()
	if visited[idx] {
		mu.Unlock()
		return
	}
	visited[idx] = true
	mu.Unlock()

	h.mu.RLock()
	var obj *Object
	if int(idx) < len(h.oldGen) {
		obj = h.oldGen[idx]
	}
	h.mu.RUnlock()
	if obj == nil {
		return
	}

	obj.header.SetColor(Gray)
	for _, child := range obj.TraceRefs() {
		h.markOld(child, visited, mu)
	}
	obj.header.SetColor(Black)
}

func (h *Heap) sweepOld() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	freed := 0
	for idx, obj := range h.oldGen {
		if obj == nil {
			continue
		}
		if obj.header.Color() == White {
			freed += obj.SizeBytes()
			h.oldGen[idx] = nil
			h.oldFreeList = append(h.oldFreeList, idx)
		}
	}
	return freed
}

// runParallel applies fn to every non-nil item, using an errgroup-managed
// worker batch once the slice is large enough to be worth the dispatch
// overhead (spec §4.5: "each have a parallel path ... enabled when the
// object count exceeds the parallel threshold"). This is the idiomatic-Go
// analogue of the original's rayon par_iter calls.
func runParallel[T any](items []T, threshold int, fn func(T)) {
	if len(items) < threshold {
		for _, it := range items {
			fn(it)
		}
		return
	}

	workers := 8
	chunk := (len(items) + workers - 1) / workers
	g, _ := errgroup.WithContext(context.Background())
	for start := 0; start < len(items); start += chunk {
		end := start + chunk
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		g.Go(func() error {
			for _, it := range batch {
				fn(it)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Collect forces a full garbage collection.
func (h *Heap) Collect() { h.MajorGC() }

// Stats returns a snapshot of collector statistics.
func (h *Heap) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// Config returns the heap's configuration.
func (h *Heap) Config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Len returns the number of live objects across both generations.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := len(h.nursery)
	for _, o := range h.oldGen {
		if o != nil {
			count++
		}
	}
	return count
}

// IsEmpty reports whether the heap has no live objects.
func (h *Heap) IsEmpty() bool { return h.Len() == 0 }
