package epoch

import (
	"testing"
	"unsafe"
)

func TestTaggedPtrRoundTrip(t *testing.T) {
	v := new(uint64)
	p := unsafe.Pointer(v)
	for tag := uint(0); tag <= MaxTag; tag++ {
		tp := MakeTaggedPtr(p, tag)
		assertEqual(t, int(tp.Tag()), int(tag))
		assertTrue(t, tp.Pointer() == p, "tag must not disturb the address")
		assertFalse(t, tp.IsNil())

		// retagging preserves the address
		for tag2 := uint(0); tag2 <= MaxTag; tag2++ {
			tp2 := tp.WithTag(tag2)
			assertEqual(t, int(tp2.Tag()), int(tag2))
			assertTrue(t, tp2.Pointer() == p)
		}
	}
}

func TestTaggedPtrNil(t *testing.T) {
	tp := MakeTaggedPtr(nil, 0)
	assertTrue(t, tp.IsNil())
	assertEqual(t, int(tp.Tag()), 0)

	// a nil pointer still carries a tag
	tp = MakeTaggedPtr(nil, MaxTag)
	assertTrue(t, tp.IsNil())
	assertEqual(t, int(tp.Tag()), int(MaxTag))
	assertTrue(t, tp.Pointer() == nil)

	// tags above MaxTag are truncated
	tp = MakeTaggedPtr(nil, MaxTag+1)
	assertEqual(t, int(tp.Tag()), 0)
}

func TestTaggedAtomic(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()
	h := c.Register()
	defer h.Release()

	v1 := new(uint64)
	v2 := new(uint64)

	h.Pin(func(p *Pin) {
		var cell TaggedAtomic
		assertTrue(t, cell.Load(p).IsNil())

		cell.Store(MakeTaggedPtr(unsafe.Pointer(v1), 2), p)
		got := cell.Load(p)
		assertTrue(t, got.Pointer() == unsafe.Pointer(v1))
		assertEqual(t, int(got.Tag()), 2)

		// a CAS expecting the wrong tag fails and reports the current value
		cur, ok := cell.CompareAndSwap(got.WithTag(0), MakeTaggedPtr(unsafe.Pointer(v2), 0), p)
		assertFalse(t, ok)
		assertEqual(t, int(cur.Tag()), 2)
		assertTrue(t, cur.Pointer() == unsafe.Pointer(v1))

		// tag and pointer swap as one unit
		cur, ok = cell.CompareAndSwap(got, MakeTaggedPtr(unsafe.Pointer(v2), 1), p)
		assertTrue(t, ok)
		assertEqual(t, int(cur.Tag()), 1)
		assertTrue(t, cur.Pointer() == unsafe.Pointer(v2))
	})
}

// Logical deletion: once a link's tag is set, an insert expecting the untagged
// link cannot succeed, so a deleted entry is never resurrected.
func TestTaggedAtomicLogicalDelete(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()
	h := c.Register()
	defer h.Release()

	succ := new(uint64)
	h.Pin(func(p *Pin) {
		var link TaggedAtomic
		link.Store(MakeTaggedPtr(unsafe.Pointer(succ), 0), p)

		old := link.Load(p)
		_, ok := link.CompareAndSwap(old, old.WithTag(tagDeleted), p)
		assertTrue(t, ok)

		// the insert racing on the same link loses
		_, ok = link.CompareAndSwap(old, MakeTaggedPtr(unsafe.Pointer(new(uint64)), 0), p)
		assertFalse(t, ok)
	})
}
