package epoch

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestConcurrentRegistration(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()

	N := 32
	var (
		wg      sync.WaitGroup
		handles = make([]*Handle, N)
	)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			handles[i] = c.Register()
			wg.Done()
		}(i)
	}
	wg.Wait()

	// every concurrently inserted entry is reachable from the head
	live, deleted := c.countParticipants()
	assertEqual(t, live, N+1) // plus the pooled handle
	assertEqual(t, deleted, 0)

	for _, h := range handles {
		h.Release()
	}
}

func TestNoFalseAdvance(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()

	var (
		pinned   = make(chan struct{})
		unblock  = make(chan struct{})
		finished = make(chan struct{})
	)
	go func() {
		h := c.Register()
		defer h.Release()
		h.Pin(func(p *Pin) {
			close(pinned)
			<-unblock
		})
		close(finished)
	}()
	<-pinned

	e0 := epoch(c.Epoch())
	h := c.Register()
	defer h.Release()

	// the blocked handle is pinned at the current epoch, so one advance goes through
	h.Pin(func(p *Pin) { c.tryAdvance(p) })
	assertEqual(t, c.Epoch(), uint64(e0.next()))

	// now it lags one generation behind and blocks any further advance
	for i := 0; i < 10; i++ {
		h.Pin(func(p *Pin) { c.tryAdvance(p) })
	}
	assertEqual(t, c.Epoch(), uint64(e0.next()))

	close(unblock)
	<-finished

	// once the blocker is gone the epoch moves again (its Release may
	// already have advanced it once)
	h.Pin(func(p *Pin) { c.tryAdvance(p) })
	assertTrue(t, epoch(c.Epoch()).sub(e0) >= 2, "epoch should advance after unpin")
}

func TestPinCadence(t *testing.T) {
	c := NewCollector(&Options{Handles: 1, PinsPerCollect: 128})
	defer c.Close()
	h := c.Register()
	defer h.Release()

	before := atomic.LoadUint64(&advanceAttempts)
	for i := 0; i < 127; i++ {
		h.Pin(func(p *Pin) {})
	}
	assertEqual(t, atomic.LoadUint64(&advanceAttempts)-before, uint64(0))

	// the 128th pin crosses the threshold, the 129th must not trigger again
	h.Pin(func(p *Pin) {})
	h.Pin(func(p *Pin) {})
	assertEqual(t, atomic.LoadUint64(&advanceAttempts)-before, uint64(1))
}

func TestReentrantPin(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()
	h := c.Register()
	defer h.Release()

	h.Pin(func(p *Pin) {
		state := epoch(atomic.LoadUint64(&h.entry.state))
		assertTrue(t, state.pinned())
		h.Pin(func(inner *Pin) {
			assertTrue(t, inner == p, "nested pin reuses the outer witness")
		})
		// the inner exit must not unpin the entry
		state = epoch(atomic.LoadUint64(&h.entry.state))
		assertTrue(t, state.pinned())
	})
	state := epoch(atomic.LoadUint64(&h.entry.state))
	assertFalse(t, state.pinned())
}

func TestPinUnpinsOnPanic(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()
	h := c.Register()
	defer h.Release()

	func() {
		defer func() { _ = recover() }()
		h.Pin(func(p *Pin) {
			panic("boom")
		})
	}()

	state := epoch(atomic.LoadUint64(&h.entry.state))
	assertFalse(t, state.pinned())
	assertFalse(t, h.pinned)

	// a failed operation must not stall the epoch
	e0 := epoch(c.Epoch())
	h.Pin(func(p *Pin) { c.tryAdvance(p) })
	assertEqual(t, c.Epoch(), uint64(e0.next()))
}

func TestReleaseUnlinksEntry(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()

	h := c.Register()
	h.Release()

	live, deleted := c.countParticipants()
	assertEqual(t, live, 1)
	assertEqual(t, deleted, 1)

	// releasing twice is a no-op
	h.Release()

	// an advance scan physically removes the entry, exactly once
	before := atomic.LoadUint64(&entriesUnlinked)
	h2 := c.Register()
	for i := 0; i < 3; i++ {
		h2.Pin(func(p *Pin) { c.tryAdvance(p) })
	}
	live, deleted = c.countParticipants()
	assertEqual(t, deleted, 0)
	assertEqual(t, live, 2)
	assertEqual(t, atomic.LoadUint64(&entriesUnlinked)-before, uint64(1))
	h2.Release()
}

func TestPinAfterClosePanics(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})

	// registered handles survive Close, only the pool does not
	h := c.Register()
	c.Close()
	h.Pin(func(p *Pin) {})
	h.Release()

	defer func() {
		assertTrue(t, recover() != nil, "Pin on a closed collector should panic")
	}()
	c.Pin(func(p *Pin) {})
}

func TestAdmin(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()

	for _, cmd := range [][]string{nil, {"info"}, {"epoch"}, {"participants"}, {"garbage"}, {"advance"}, {"collect"}} {
		var out bytes.Buffer
		c.Admin(&out, cmd)
		assertTrue(t, out.Len() > 0, "admin output expected")
	}

	var out bytes.Buffer
	c.Admin(&out, []string{"bogus"})
	assertTrue(t, strings.Contains(out.String(), "Unknown command"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewCollector(&Options{Handles: 1})
	defer c.Close()
	h := c.Register()

	var buf bytes.Buffer
	_, err := c.WriteSnapshot(&buf)
	assertTrue(t, err == nil, "snapshot write failed")

	header, detail, err := ReadSnapshot(&buf)
	assertTrue(t, err == nil, "snapshot read failed")
	assertEqual(t, header["epoch"], c.Epoch())
	assertEqual(t, header["participants"], uint64(2))
	assertTrue(t, strings.Contains(string(detail), "stat op_pins"))
	assertTrue(t, strings.Contains(string(detail), "participant 0"))

	h.Release()
}
