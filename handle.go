package epoch

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// tagDeleted on a participant's forward link marks the entry as logically
// deleted, ready to be unlinked by a future advance scan.
const tagDeleted = 1

// A participant is one entry in the collector's lock-free list of registered
// handles. The state word combines the pinned flag (low bit) with the global
// epoch observed at pin time. It is only ever written by the owning handle and
// only read by advance scans, so stores need no read-modify-write cycle.
type participant struct {
	state uint64
	_     cpu.CacheLinePad
	next  TaggedAtomic
}

// setPinned announces the entry as pinned at the given epoch. The full
// barrier in announce orders the store before any subsequent load by this
// goroutine, so a concurrent scan either sees the entry unpinned or sees its
// true epoch, never a stale one paired with already visible reads.
func (e *participant) setPinned(global epoch) {
	announce(&e.state, uint64(global.pin()))
}

// setUnpinned clears the entry. The epoch bits need not be preserved.
func (e *participant) setUnpinned() {
	atomic.StoreUint64(&e.state, 0)
}

// A Pin is a witness that the handle it came from is currently pinned. Atomic
// cell operations require one as proof that whatever they load will not be
// disposed of while the pin is alive. A Pin is only valid inside the Handle.Pin
// call that produced it and must not be retained or shared.
type Pin struct {
	handle *Handle
}

// A Handle is a registered participant in a collector. It owns a private
// garbage bag and a pin counter driving periodic epoch advancement.
//
// A handle is not safe for concurrent use.
type Handle struct {
	c        *Collector
	entry    *participant
	id       int
	pinned   bool
	pinCount uint64
	bag      *bag
	pin      Pin
}

// Register adds a new participant entry at the head of the collector's list
// using a compare-and-swap retry loop, and returns a handle owning it. The
// loop races only against concurrent registrations; a lost round means the
// head moved and the prepend is simply retried.
//
// Registration runs before the handle can be pinned, so it uses the raw
// tagged-pointer path that skips the pin witness.
func (c *Collector) Register() *Handle {
	e := new(participant)
	for {
		head := c.participants.rawLoad()
		e.next.rawStore(head)
		if c.participants.rawCas(head, taggedPtr(unsafe.Pointer(e), 0)) {
			break
		}
	}
	h := &Handle{c: c, entry: e, id: -1, bag: new(bag)}
	h.pin.handle = h
	atomic.AddUint64(&handlesRegistered, 1)
	return h
}

// Pin marks the handle as pinned for the duration of fn and hands fn the
// witness. Objects loaded from atomic cells inside fn remain valid until fn
// returns, even if concurrently retired by other handles.
//
// Pinning is reentrant: calling Pin inside fn reuses the existing pin. Every
// PinsPerCollect-th pin also spares some cycles on epoch advancement and
// garbage collection. The handle is unpinned on every exit path, including a
// panic in fn, so a failing operation cannot stall the global epoch.
//
// Keeping a handle pinned for a long time holds back reclamation everywhere;
// fn should be quick.
func (h *Handle) Pin(fn func(*Pin)) {
	p := &h.pin
	if h.pinned {
		fn(p)
		return
	}

	h.pinned = true
	h.entry.setPinned(h.c.global.load())
	atomic.AddUint64(&totalPins, 1)

	h.pinCount++
	if h.pinCount%h.c.pinsPerCollect == 0 {
		h.c.tryAdvance(p)
		h.c.collect(p)
	}

	defer func() {
		h.entry.setUnpinned()
		h.pinned = false
	}()
	fn(p)
}

// Release flushes the handle's remaining garbage and unregisters it. The
// handle must not be used afterwards.
//
// The final flush needs queue access, which requires a pinned state, so the
// handle is pinned manually one last time. The bag is handed off before the
// entry is marked deleted: the other order would let a concurrent advance scan
// unlink this entry and skip its garbage.
func (h *Handle) Release() {
	if h.entry == nil {
		return
	}
	p := &h.pin

	h.entry.setPinned(h.c.global.load())

	// Spare some cycles on the way out. This may itself produce garbage,
	// which lands in the bag we are about to push.
	h.c.tryAdvance(p)
	h.c.collect(p)

	h.c.garbage.push(h.bag, h.c.global.load())
	h.bag = nil

	h.entry.setUnpinned()
	h.unregister()
	h.entry = nil
	atomic.AddUint64(&handlesReleased, 1)
}

// unregister marks the entry as logically deleted by tagging its forward
// link. Physical unlinking is left to a future advance scan. The CAS loop
// races only against inserts and unlinks updating the same link; the tag
// itself is only ever set here, by the owner.
func (h *Handle) unregister() {
	e := h.entry
	next := e.next.rawLoad()
	for next.Tag() != tagDeleted {
		if e.next.rawCas(next, next.WithTag(tagDeleted)) {
			break
		}
		next = e.next.rawLoad()
	}
}

// tryAdvance attempts to move the global epoch forward by one step. It scans
// the participants list and aborts if any entry is pinned at an epoch other
// than the current one. Entries with a tagged forward link are unlinked along
// the way and handed to the garbage queue.
func (c *Collector) tryAdvance(p *Pin) {
	atomic.AddUint64(&advanceAttempts, 1)
	global := c.global.load()

	pred := &c.participants
	curr := pred.rawLoad()

	for !curr.IsNil() {
		e := (*participant)(curr.Pointer())
		succ := e.next.rawLoad()

		if succ.Tag() == tagDeleted {
			// This handle has been released. Try unlinking its entry.
			succ = succ.WithTag(0)
			if !pred.rawCas(curr, succ) {
				// Lost the unlink race. The winner is progressing the
				// same scan, so leave the rest of the job to it.
				return
			}
			atomic.AddUint64(&entriesUnlinked, 1)
			p.DeferFree(nil, unsafe.Pointer(e))

			// Move forward without changing the predecessor.
			curr = succ
			continue
		}

		state := epoch(atomic.LoadUint64(&e.state))
		if state.pinned() && state.unpin() != global {
			// Pinned in an older epoch, cannot advance yet.
			return
		}
		pred = &e.next
		curr = succ
	}

	// Every pinned participant was pinned in the current epoch. A lost race
	// here means another handle advanced first, which is just as good.
	if c.global.cas(global, global.next()) {
		atomic.AddUint64(&advanceCount, 1)
	}
}
