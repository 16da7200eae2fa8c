package epoch

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/jayloop/table"
)

// Admin provides some collector debug and admin functions for use by a CLI or terminal.
// It takes a writer and a slice with the command and arguments.
func (c *Collector) Admin(out io.Writer, argv []string) {
	if len(argv) == 0 {
		fmt.Fprint(out, "available commands for collector:\ninfo\nepoch\nparticipants\ngarbage\nadvance\ncollect\n")
		return
	}
	switch argv[0] {
	case "info":
		t := table.New("NAME", "VALUE")
		stats := make(map[string]interface{})
		c.Stats(stats)
		t.Precision(1, 2)
		for k, v := range stats {
			t.Row(k, v)
		}
		t.Sort(0)
		t.Print(out)

	case "epoch":
		fmt.Fprintf(out, "global epoch %d\n", c.Epoch())

	case "participants":
		t := table.New("ENTRY", "STATE", "PINNED", "EPOCH", "DELETED")
		t.FormatHeader(table.Format(table.Yellow))
		i := 0
		curr := c.participants.rawLoad()
		for !curr.IsNil() {
			e := (*participant)(curr.Pointer())
			next := e.next.rawLoad()
			state := epoch(atomic.LoadUint64(&e.state))
			t.Row(i, uint64(state), state.pinned(), uint64(state.unpin()), next.Tag() == tagDeleted)
			curr = next
			i++
		}
		t.Print(out)

	case "garbage":
		t := table.New("BAG", "EPOCH", "OBJECTS")
		t.FormatHeader(table.Format(table.Yellow))
		i := 0
		head := atomic.LoadPointer(&c.garbage.head)
		next := atomic.LoadPointer(&(*bag)(head).next)
		for next != nil {
			b := (*bag)(next)
			t.Row(i, uint64(b.epoch), b.count)
			next = atomic.LoadPointer(&b.next)
			i++
		}
		t.Print(out)
		fmt.Fprintf(out, "%d bags queued\n", i)

	case "advance":
		before := c.Epoch()
		c.Pin(func(p *Pin) {
			c.tryAdvance(p)
		})
		fmt.Fprintf(out, "epoch %d -> %d\n", before, c.Epoch())

	case "collect":
		before := atomic.LoadUint64(&bagsCollected)
		c.Pin(func(p *Pin) {
			c.collect(p)
		})
		fmt.Fprintf(out, "%d bags collected\n", atomic.LoadUint64(&bagsCollected)-before)

	default:
		fmt.Fprintf(out, "Unknown command '%s'\n", argv[0])
	}
}
