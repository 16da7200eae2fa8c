package epoch

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Options are used when creating a new Collector.
type Options struct {
	// Handles is the size of the internal handle pool backing Collector.Pin.
	// Default is runtime.NumCPU().
	Handles int

	// PinsPerCollect is the number of pins a handle performs between
	// opportunistic epoch-advance and collection attempts. Default is 128.
	PinsPerCollect int
}

func setDefaultOptions(options *Options) {
	if options.Handles <= 0 {
		options.Handles = runtime.NumCPU()
	}
	if options.PinsPerCollect <= 0 {
		options.PinsPerCollect = 128
	}
}

// A Collector tracks registered handles and defers disposal of retired
// objects until no handle can still observe them. All methods are safe for
// concurrent use; the handles it hands out are not.
type Collector struct {
	global atomicEpoch
	_      cpu.CacheLinePad

	// head of the lock-free participants list
	participants TaggedAtomic
	_            cpu.CacheLinePad

	garbage        *garbageQueue
	pinsPerCollect uint64

	handles     []*Handle
	handleQueue *slots

	closed int32
}

// NewCollector creates a new Collector.
func NewCollector(options *Options) *Collector {
	if options == nil {
		options = new(Options)
	}
	setDefaultOptions(options)

	c := &Collector{
		garbage:        newGarbageQueue(),
		pinsPerCollect: uint64(options.PinsPerCollect),
	}
	c.handles = make([]*Handle, options.Handles)
	c.handleQueue = newSlots(len(c.handles))
	for i := range c.handles {
		c.handles[i] = c.Register()
		c.handles[i].id = i
	}
	return c
}

// Pin borrows a pooled handle and pins it around fn. It blocks if all pooled
// handles are busy. Callers doing bulk work should register their own handle
// instead. Pin panics if the collector has been closed, since the pool it
// borrows from is gone.
func (c *Collector) Pin(fn func(*Pin)) {
	if atomic.LoadInt32(&c.closed) == 1 {
		panic("Pin on closed collector")
	}
	h := c.handles[c.handleQueue.get()]
	h.Pin(fn)
	c.handleQueue.put(h.id)
}

// Epoch returns the current value of the global epoch counter. It is only
// meaningful relative to recently observed values.
func (c *Collector) Epoch() uint64 {
	return uint64(c.global.load())
}

// Close releases the pooled handles, flushing their buffered garbage to the
// global queue. It blocks until all of them are returned to the pool. Retired
// objects whose disposers have not yet run stay queued; they are disposed of
// by collectors on other live handles, if any remain.
// If already closed, it returns silently. Collector.Pin must not be called
// after Close; handles from Register keep working.
func (c *Collector) Close() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	for range c.handles {
		_ = c.handleQueue.get()
	}
	for _, h := range c.handles {
		h.Release()
	}
}

// countParticipants walks the list and reports live and logically deleted
// entries. The walk is racy by nature and only meant for diagnostics.
func (c *Collector) countParticipants() (live, deleted int) {
	curr := c.participants.rawLoad()
	for !curr.IsNil() {
		e := (*participant)(curr.Pointer())
		next := e.next.rawLoad()
		if next.Tag() == tagDeleted {
			deleted++
		} else {
			live++
		}
		curr = next
	}
	return
}

// countGarbage walks the queue and reports queued bags and buffered objects.
// Diagnostics only: the walk races with concurrent pushes and pops.
func (c *Collector) countGarbage() (bags, objects int) {
	head := atomic.LoadPointer(&c.garbage.head)
	next := atomic.LoadPointer(&(*bag)(head).next)
	for next != nil {
		b := (*bag)(next)
		bags++
		objects += b.count
		next = atomic.LoadPointer(&b.next)
	}
	return
}
