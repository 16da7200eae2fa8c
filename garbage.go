package epoch

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	// bagSize is the number of retired objects buffered per handle before the
	// bag is flushed to the global queue.
	bagSize = 64

	// collectSteps bounds the number of bags disposed per collect call, so a
	// single pin never pays for the whole backlog.
	collectSteps = 8
)

// A Disposer releases one retired object. A nil disposer just drops the
// reference, leaving the object to the runtime.
type Disposer func(unsafe.Pointer)

type garbageItem struct {
	dispose Disposer
	object  unsafe.Pointer
}

// A bag buffers retired objects accumulated by one handle between collection
// checkpoints. While being filled it is owned by exactly one handle. Once
// flushed it is stamped with the epoch at flush time and pushed to the global
// queue, where its contents are shared but no longer mutated. The next link
// makes the bag double as a queue node.
type bag struct {
	epoch epoch
	next  unsafe.Pointer // *bag
	count int
	items [bagSize]garbageItem
}

// tryInsert appends one item to the bag. It returns false if the bag is at
// capacity, signaling the caller to flush and start a fresh one.
func (b *bag) tryInsert(d Disposer, obj unsafe.Pointer) bool {
	if b.count == bagSize {
		return false
	}
	b.items[b.count] = garbageItem{d, obj}
	b.count++
	return true
}

// dispose runs every buffered disposer and drops the references.
func (b *bag) dispose() {
	for i := 0; i < b.count; i++ {
		if d := b.items[i].dispose; d != nil {
			d(b.items[i].object)
		}
		b.items[i] = garbageItem{}
	}
	atomic.AddUint64(&objectsFreed, uint64(b.count))
	b.count = 0
}

// garbageQueue is a lock-free FIFO of retired bags, ordered by retirement.
// Bags are pushed at the tail and popped from the head once their stamped
// epoch is old enough. The queue is intrusive: the bags themselves are the
// nodes, with a permanent empty bag as the initial sentinel. A popped node
// becomes the new sentinel, so its storage is released by the runtime only
// after the next pop moves past it.
type garbageQueue struct {
	head unsafe.Pointer // *bag, the current sentinel
	_    cpu.CacheLinePad
	tail unsafe.Pointer // *bag
	_    cpu.CacheLinePad
}

func newGarbageQueue() *garbageQueue {
	sentinel := unsafe.Pointer(new(bag))
	return &garbageQueue{head: sentinel, tail: sentinel}
}

// push stamps b with the current global epoch and appends it to the queue.
func (q *garbageQueue) push(b *bag, e epoch) {
	b.epoch = e.unpin()
	b.next = nil
	n := unsafe.Pointer(b)
	for {
		tail := atomic.LoadPointer(&q.tail)
		next := atomic.LoadPointer(&(*bag)(tail).next)
		if next != nil {
			// tail is lagging, help it forward
			atomic.CompareAndSwapPointer(&q.tail, tail, next)
			continue
		}
		if atomic.CompareAndSwapPointer(&(*bag)(tail).next, nil, n) {
			atomic.CompareAndSwapPointer(&q.tail, tail, n)
			atomic.AddUint64(&bagsPushed, 1)
			return
		}
	}
}

// popIf pops the front bag if cond accepts it. It returns nil when the queue
// is empty, when the front bag is rejected, or when another collector won the
// pop race; in the last case that collector is making equivalent progress, so
// there is no point retrying.
func (q *garbageQueue) popIf(cond func(*bag) bool) *bag {
	head := atomic.LoadPointer(&q.head)
	next := atomic.LoadPointer(&(*bag)(head).next)
	if next == nil {
		return nil
	}
	b := (*bag)(next)
	if !cond(b) {
		return nil
	}
	if !atomic.CompareAndSwapPointer(&q.head, head, next) {
		return nil
	}
	return b
}

// collect disposes of bags whose retirement epoch lies at least two advances
// behind the current global epoch. The advance protocol guarantees that a
// handle pinned when such a bag was filled has unpinned at least once since,
// so nothing in the bag can still be observed. The queue is ordered by
// retirement, so the scan stops at the first bag that is still too young.
func (c *Collector) collect(pin *Pin) {
	global := c.global.load()
	cond := func(b *bag) bool {
		return global.sub(b.epoch) >= 2
	}
	for i := 0; i < collectSteps; i++ {
		b := c.garbage.popIf(cond)
		if b == nil {
			return
		}
		b.dispose()
		atomic.AddUint64(&bagsCollected, 1)
	}
}

// DeferFree stashes away an object that will be disposed of once the global
// epoch has moved far enough past the current one. A nil disposer releases
// the object by simply dropping the reference.
//
// The object goes into the handle's local bag. When the bag runs full it is
// flushed to the global queue and replaced, which also spares some cycles on
// epoch advancement and collection.
func (p *Pin) DeferFree(d Disposer, obj unsafe.Pointer) {
	h := p.handle
	for {
		if h.bag.tryInsert(d, obj) {
			return
		}
		full := h.bag
		h.bag = new(bag)

		// This may itself produce garbage, which lands in the fresh bag.
		h.c.tryAdvance(p)
		h.c.collect(p)

		h.c.garbage.push(full, h.c.global.load())
	}
}
