package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nyx/pkg/value"
)

func TestAllocateAndGet(t *testing.T) {
	h := New()
	ref := h.Allocate(NewObject())
	obj, ok := h.Get(ref)
	require.True(t, ok)
	require.NotNil(t, obj)
}

func TestAllocateStartsInNursery(t *testing.T) {
	h := New()
	ref := h.Allocate(NewObject())
	assert.Equal(t, value.Young, ref.Region())
}

func TestMinorGCPromotesRootedObject(t *testing.T) {
	h := New()
	ref := h.Allocate(NewObject())
	h.AddRoot(ref)

	h.MinorGC()

	assert.Equal(t, 1, h.Stats().MinorCollections)
	assert.GreaterOrEqual(t, h.Stats().ObjectsPromoted, 1)
}

func TestMinorGCDropsUnrootedObjects(t *testing.T) {
	h := New()
	for i := 0; i < 5; i++ {
		h.Allocate(NewObject())
	}
	h.MinorGC()
	assert.Equal(t, 0, h.Stats().ObjectsPromoted)
}

func TestMajorGCSweepsUnreachableOldObjects(t *testing.T) {
	h := New()
	ref := h.Allocate(NewObject())
	h.AddRoot(ref)
	h.MinorGC() // promote to old gen

	h.RemoveRoot(ref)
	h.MajorGC()

	assert.Equal(t, 1, h.Stats().MajorCollections)
}

func TestMajorGCKeepsRootedObjectsAlive(t *testing.T) {
	h := New()
	ref := h.Allocate(NewObject())
	h.AddRoot(ref)
	h.MinorGC()

	h.MajorGC()

	assert.True(t, h.Len() >= 1)
}

func TestReferenceTracingKeepsChildAlive(t *testing.T) {
	h := New()
	childRef := h.Allocate(NewObject())

	parent := NewObject()
	parent.Set("child", value.Object(childRef))
	parentRef := h.Allocate(parent)
	h.AddRoot(parentRef)

	h.MinorGC()

	assert.GreaterOrEqual(t, h.Stats().ObjectsPromoted, 1)
}

func TestWriteBarrierMarksCardDirtyForOldWriter(t *testing.T) {
	h := New()
	ref := h.Allocate(NewObject())
	h.AddRoot(ref)
	h.MinorGC() // now in old gen

	h.mu.Lock()
	h.writeBarrierEnabled = true
	h.mu.Unlock()

	h.WriteBarrier(value.NewHandle(value.Old, 0))

	h.mu.RLock()
	dirty := false
	for _, c := range h.cardTable {
		if c == cardDirty {
			dirty = true
		}
	}
	h.mu.RUnlock()
	assert.True(t, dirty)
}

func TestWriteBarrierNoOpOutsideGC(t *testing.T) {
	h := New()
	h.WriteBarrier(value.NewHandle(value.Old, 0))
	h.mu.RLock()
	for _, c := range h.cardTable {
		assert.Equal(t, cardClean, c)
	}
	h.mu.RUnlock()
}

func TestArrayElementsAndLength(t *testing.T) {
	arr := NewArray(nil)
	arr.SetElement(0, value.Number(1))
	arr.SetElement(2, value.Number(3))

	assert.Equal(t, uint32(3), arr.Length())
	assert.Equal(t, value.Undefined, arr.GetElement(1))
	assert.Equal(t, float64(3), arr.GetElement(2).AsNumber())

	lenProp, ok := arr.Get("length")
	require.True(t, ok)
	assert.Equal(t, float64(3), lenProp.AsNumber())
}

func TestArraySetLengthTruncates(t *testing.T) {
	arr := NewArray([]value.Value{value.Number(1), value.Number(2), value.Number(3)})
	arr.SetLength(1)
	assert.Equal(t, uint32(1), arr.Length())
	assert.Equal(t, value.Undefined, arr.GetElement(1))
}

func TestFrozenObjectRejectsWrites(t *testing.T) {
	obj := NewObject()
	obj.Set("x", value.Number(1))
	obj.Freeze()

	assert.False(t, obj.Set("x", value.Number(2)))
	assert.False(t, obj.Set("y", value.Number(1)))
	assert.False(t, obj.Delete("x"))

	v, _ := obj.Get("x")
	assert.Equal(t, float64(1), v.AsNumber())
}

func TestSealedObjectRejectsAdditionsButAllowsWrites(t *testing.T) {
	obj := NewObject()
	obj.Set("x", value.Number(1))
	obj.Seal()

	assert.True(t, obj.Set("x", value.Number(2)))
	assert.False(t, obj.Set("y", value.Number(1)))
	assert.False(t, obj.Delete("x"))
}

func TestHeapLenAndIsEmpty(t *testing.T) {
	h := New()
	assert.True(t, h.IsEmpty())
	h.Allocate(NewObject())
	assert.False(t, h.IsEmpty())
	assert.Equal(t, 1, h.Len())
}

func TestMultipleMinorGCAccumulateStats(t *testing.T) {
	h := New()
	h.MinorGC()
	h.MinorGC()
	h.MinorGC()
	assert.Equal(t, 3, h.Stats().MinorCollections)
}

func TestGcStatsTracksBytesAllocated(t *testing.T) {
	h := New()
	for i := 0; i < 5; i++ {
		ref := h.Allocate(NewObject())
		h.AddRoot(ref)
	}
	assert.Greater(t, h.Stats().BytesAllocated, 0)
}

func TestParallelMarkSweepUsedAboveThreshold(t *testing.T) {
	h := NewWithConfig(Config{
		NurserySize:       4096,
		ArenaBlockSize:    1024,
		TenureThreshold:   1,
		MinorGCThreshold:  0.9,
		MajorGCThreshold:  2.0,
		ParallelThreshold: 2,
		CardSize:          512,
	})
	var refs []value.Handle
	for i := 0; i < 20; i++ {
		ref := h.Allocate(NewObject())
		refs = append(refs, ref)
		h.AddRoot(ref)
	}
	h.MajorGC()
	assert.Equal(t, 1, h.Stats().MajorCollections)
}
