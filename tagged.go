package epoch

import (
	"sync/atomic"
	"unsafe"
)

const (
	// TagBits is the number of low pointer bits available for tags.
	// Everything stored in a TaggedAtomic must be at least 8 byte aligned.
	TagBits = 3

	// MaxTag is the largest tag value a TaggedPtr can carry.
	MaxTag = 1<<TagBits - 1

	tagMask = uintptr(MaxTag)
)

// A TaggedPtr is a pointer value loaded from a TaggedAtomic, carrying a small
// integer tag packed into its unused low bits. The pointer part may only be
// dereferenced while the pin it was loaded under is alive.
type TaggedPtr struct {
	data unsafe.Pointer
}

// taggedPtr packs a pointer and a tag. The result still points into the
// original allocation (tag < alignment), so the referent stays visible to the
// garbage collector.
func taggedPtr(p unsafe.Pointer, tag uint) TaggedPtr {
	return TaggedPtr{data: unsafe.Pointer(uintptr(p) | (uintptr(tag) & tagMask))}
}

// MakeTaggedPtr wraps a pointer and a tag for storing into a TaggedAtomic.
// The pointer must be at least 8 byte aligned; tags above MaxTag are truncated.
func MakeTaggedPtr(p unsafe.Pointer, tag uint) TaggedPtr {
	return taggedPtr(p, tag)
}

// Pointer returns the address part, with the tag bits cleared.
func (p TaggedPtr) Pointer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(p.data) & ^tagMask)
}

// Tag returns the tag part.
func (p TaggedPtr) Tag() uint {
	return uint(uintptr(p.data) & tagMask)
}

// WithTag returns a TaggedPtr carrying the same address with a different tag.
func (p TaggedPtr) WithTag(tag uint) TaggedPtr {
	return taggedPtr(p.Pointer(), tag)
}

// IsNil reports whether the address part is nil, regardless of tag.
func (p TaggedPtr) IsNil() bool {
	return uintptr(p.data) & ^tagMask == 0
}

// A TaggedAtomic is a cell holding a pointer and a small tag as one machine
// word, so that both can be read, written and compare-and-swapped atomically.
// This is the primitive for lock-free linked lists with logical deletion: an
// entry is deleted by swapping the tag on its forward link, atomically with
// the pointer, so a concurrent insert racing on the same link cannot resurrect
// the entry. The tag also guards against address-reuse (ABA) races.
//
// The zero value is a nil pointer with tag 0.
type TaggedAtomic struct {
	data unsafe.Pointer
}

// Load atomically reads the cell. The returned value may be dereferenced only
// while pin is alive.
func (a *TaggedAtomic) Load(pin *Pin) TaggedPtr {
	return a.rawLoad()
}

// Store atomically writes the cell. It does not retire the previous contents:
// the caller must retire the old value once no future Load can return it.
func (a *TaggedAtomic) Store(v TaggedPtr, pin *Pin) {
	a.rawStore(v)
}

// CompareAndSwap atomically replaces old with new if the cell still holds old,
// comparing address and tag as one unit. On failure it returns the current
// value and false; this is an expected outcome, not an error, and the caller
// retries with the updated value.
func (a *TaggedAtomic) CompareAndSwap(old, new TaggedPtr, pin *Pin) (TaggedPtr, bool) {
	if a.rawCas(old, new) {
		return new, true
	}
	return a.rawLoad(), false
}

// The raw variants skip the pin witness. They are reserved for the collector's
// registration and unregistration paths, which must touch the participants
// list before (or after) a legitimate pin can exist.

func (a *TaggedAtomic) rawLoad() TaggedPtr {
	return TaggedPtr{data: atomic.LoadPointer(&a.data)}
}

func (a *TaggedAtomic) rawStore(v TaggedPtr) {
	atomic.StorePointer(&a.data, v.data)
}

func (a *TaggedAtomic) rawCas(old, new TaggedPtr) bool {
	return atomic.CompareAndSwapPointer(&a.data, old.data, new.data)
}
