package epoch

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type slot struct {
	taken uint64
	_     cpu.CacheLinePad
}

// slots hands out indexes [0, n) to at most one holder each. It backs the
// pooled handles behind Collector.Pin: an index is taken for the duration of
// one pin and returned right after, so contention is brief and the pool is
// never larger than a few dozen entries.
type slots struct {
	slots []slot
}

// newSlots returns a pool of n indexes, all free.
func newSlots(n int) *slots {
	return &slots{
		slots: make([]slot, n),
	}
}

// available counts the currently free indexes. Diagnostics only.
func (s *slots) available() (c int) {
	for i := 0; i < len(s.slots); i++ {
		if atomic.LoadUint64(&s.slots[i].taken) == 0 {
			c++
		}
	}
	return
}

// get claims a free index, blocking until one is returned.
func (s *slots) get() int {
	for {
		for i := 0; i < len(s.slots); i++ {
			// a plain load first, so scanning past taken slots does not
			// bounce their cache lines the way a failed CompareAndSwap would
			if atomic.LoadUint64(&s.slots[i].taken) == 0 &&
				atomic.CompareAndSwapUint64(&s.slots[i].taken, 0, 1) {
				return i
			}
		}
		runtime.Gosched()
	}
}

// put returns index i to the pool.
func (s *slots) put(i int) {
	atomic.StoreUint64(&s.slots[i].taken, 0)
}
