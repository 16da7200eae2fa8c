package epoch

import (
	"sync/atomic"
	"unsafe"
)

// A Ptr is a pointer value loaded from an Atomic. It may only be dereferenced
// while the pin it was loaded under is alive. Holding the raw value itself is
// always safe.
type Ptr struct {
	p unsafe.Pointer
}

// MakePtr wraps a pointer for storing into an Atomic. Typically used for a
// freshly allocated object not yet visible to any reader, in which case no pin
// is implicated.
func MakePtr(p unsafe.Pointer) Ptr {
	return Ptr{p: p}
}

// Pointer returns the raw pointer.
func (p Ptr) Pointer() unsafe.Pointer {
	return p.p
}

// IsNil reports whether the pointer is nil.
func (p Ptr) IsNil() bool {
	return p.p == nil
}

// Unlinked declares that p is no longer reachable through any atomic cell and
// schedules it for disposal. Disposal simply drops the collector's reference,
// leaving the object to the runtime once all deferred readers are done.
//
// It is the caller's responsibility that the declaration is truthful and made
// at most once per pointer. A false or duplicate declaration results in a
// reader observing a reclaimed object.
func (p Ptr) Unlinked(pin *Pin) {
	pin.DeferFree(nil, p.p)
}

// UnlinkedFunc is like Unlinked but runs d on the pointer at disposal time,
// for objects that return to a pool or hold resources of their own.
func (p Ptr) UnlinkedFunc(d Disposer, pin *Pin) {
	pin.DeferFree(d, p.p)
}

// An Atomic is a pointer cell protected by the epoch protocol. Readers load it
// under a pin, which guarantees the referent is not disposed of before the pin
// ends. Writers swap in replacements and retire the detached value.
//
// The zero value holds a nil pointer.
type Atomic struct {
	p unsafe.Pointer
}

// Load atomically reads the cell. The returned value may be dereferenced only
// while pin is alive.
func (a *Atomic) Load(pin *Pin) Ptr {
	return Ptr{p: atomic.LoadPointer(&a.p)}
}

// Store atomically writes the cell. It does not retire the previous contents:
// the caller must retire the old value once no future Load can return it.
func (a *Atomic) Store(v Ptr, pin *Pin) {
	atomic.StorePointer(&a.p, v.p)
}

// CompareAndSwap atomically replaces old with new if the cell still holds old.
// On failure it returns the current value and false; this is an expected
// outcome, not an error, and the caller retries with the updated value.
func (a *Atomic) CompareAndSwap(old, new Ptr, pin *Pin) (Ptr, bool) {
	if atomic.CompareAndSwapPointer(&a.p, old.p, new.p) {
		return new, true
	}
	return Ptr{p: atomic.LoadPointer(&a.p)}, false
}
