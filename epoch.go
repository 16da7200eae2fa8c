// Package epoch implements epoch-based memory reclamation for lock-free data structures.
//
// When a node is removed from a lock-free structure it cannot be released right away,
// since a concurrent reader may still hold a pointer to it. Instead the node is retired:
// handed to a collector which defers its disposal until every reader that could have
// observed it is provably done.
//
// Readers announce themselves by pinning a handle around each batch of reads. The
// collector tracks all registered handles in a lock-free list together with a global
// epoch counter. Pinned handles publish the epoch they entered at, and the global epoch
// only advances once every pinned handle has caught up. Anything retired two advances
// ago can no longer be observed and is disposed of.
//
// The typical use case is a lock-free index or queue where update operations detach
// nodes while lookups run concurrently without locks.
//
// Handles
//
// All operations go through a Handle obtained from Collector.Register. A handle is not
// safe for concurrent use: it belongs to one goroutine at a time. For bulk operations
// you get the best performance by registering a handle per worker goroutine:
//
//  h := c.Register()
//  for ... {
//    h.Pin(func(p *epoch.Pin) {
//      ...
//    })
//  }
//  h.Release()
//
// Collector.Pin borrows a handle from an internal pool for callers that don't hold one.
// Since goroutines migrate between OS threads, the package never relies on thread-local
// state. The handle is the unit of registration and must be passed explicitly.
//
// Unsafe usage
//
// Pointer cells store and hand out unsafe.Pointer values. A pointer loaded from a cell
// must not be dereferenced after the pin it was loaded under has ended, and a retired
// pointer must be retired exactly once. Neither rule is checked at runtime.
package epoch

import "sync/atomic"

// An epoch is a value of the global epoch counter, possibly combined with the
// pinned flag in its least significant bit. The counter itself advances in
// steps of 2, so the flag never collides with it. The counter wraps on
// overflow, which is fine since only relative distance within a small window
// matters.
type epoch uint64

// pinned reports whether the pinned flag is set.
func (e epoch) pinned() bool {
	return e&1 == 1
}

// pin returns e with the pinned flag set.
func (e epoch) pin() epoch {
	return e | 1
}

// unpin returns e with the pinned flag cleared.
func (e epoch) unpin() epoch {
	return e & ^epoch(1)
}

// next returns the successor epoch, one advance (+2) later.
func (e epoch) next() epoch {
	return e.unpin() + 2
}

// sub returns the number of advances separating e from an earlier epoch a,
// using wrapping arithmetic.
func (e epoch) sub(a epoch) int {
	return int(uint64(e.unpin())-uint64(a.unpin())) >> 1
}

type atomicEpoch struct {
	e uint64
}

func (a *atomicEpoch) load() epoch {
	return epoch(atomic.LoadUint64(&a.e))
}

func (a *atomicEpoch) store(e epoch) {
	atomic.StoreUint64(&a.e, uint64(e))
}

func (a *atomicEpoch) cas(old, new epoch) bool {
	return atomic.CompareAndSwapUint64(&a.e, uint64(old), uint64(new))
}
