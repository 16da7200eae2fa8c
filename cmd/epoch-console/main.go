// Command epoch-console is an interactive console for exercising and
// inspecting an epoch collector. It runs a lock-free stack workload on a
// configurable number of worker goroutines and exposes the collector's debug
// commands on a readline prompt.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/chzyer/readline"
	"github.com/jayloop/epoch"
)

type node struct {
	value uint64
	next  epoch.Atomic
}

// stack is a Treiber stack built on the collector, the canonical consumer of
// the pin/retire API.
type stack struct {
	top epoch.Atomic
}

func (s *stack) push(v uint64, h *epoch.Handle) {
	n := &node{value: v}
	fresh := epoch.MakePtr(unsafe.Pointer(n))
	h.Pin(func(p *epoch.Pin) {
		for {
			top := s.top.Load(p)
			n.next.Store(top, p)
			if _, ok := s.top.CompareAndSwap(top, fresh, p); ok {
				return
			}
		}
	})
}

func (s *stack) pop(h *epoch.Handle) (v uint64, ok bool) {
	h.Pin(func(p *epoch.Pin) {
		for {
			top := s.top.Load(p)
			if top.IsNil() {
				return
			}
			n := (*node)(top.Pointer())
			next := n.next.Load(p)
			if _, swapped := s.top.CompareAndSwap(top, next, p); swapped {
				v, ok = n.value, true
				top.Unlinked(p)
				return
			}
		}
	})
	return
}

type workload struct {
	c      *epoch.Collector
	s      *stack
	wg     sync.WaitGroup
	done   chan struct{}
	pushes uint64
	pops   uint64
}

func startWorkload(c *epoch.Collector, workers int) *workload {
	w := &workload{
		c:    c,
		s:    new(stack),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go func(seed uint64) {
			defer w.wg.Done()
			h := c.Register()
			defer h.Release()
			for {
				select {
				case <-w.done:
					return
				default:
				}
				w.s.push(seed, h)
				atomic.AddUint64(&w.pushes, 1)
				if _, ok := w.s.pop(h); ok {
					atomic.AddUint64(&w.pops, 1)
				}
				seed++
			}
		}(uint64(i) << 32)
	}
	return w
}

func (w *workload) stop(out io.Writer) {
	close(w.done)
	w.wg.Wait()
	fmt.Fprintf(out, "workload stopped: %d pushes, %d pops\n",
		atomic.LoadUint64(&w.pushes), atomic.LoadUint64(&w.pops))
}

func main() {
	c := epoch.NewCollector(nil)

	completer := readline.NewPrefixCompleter(
		readline.PcItem("info"),
		readline.PcItem("epoch"),
		readline.PcItem("participants"),
		readline.PcItem("garbage"),
		readline.PcItem("advance"),
		readline.PcItem("collect"),
		readline.PcItem("start"),
		readline.PcItem("stop"),
		readline.PcItem("snapshot"),
		readline.PcItem("exit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "epoch> ",
		HistoryFile:     os.TempDir() + "/epoch-console.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	var w *workload
	out := rl.Stdout()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		argv := strings.Fields(line)
		if len(argv) == 0 {
			continue
		}
		switch argv[0] {
		case "exit", "quit":
			goto done

		case "start":
			if w != nil {
				fmt.Fprint(out, "workload already running\n")
				continue
			}
			workers := runtime.NumCPU()
			if len(argv) > 1 {
				if n, err := strconv.Atoi(argv[1]); err == nil && n > 0 {
					workers = n
				}
			}
			w = startWorkload(c, workers)
			fmt.Fprintf(out, "workload started with %d workers\n", workers)

		case "stop":
			if w == nil {
				fmt.Fprint(out, "no workload running\n")
				continue
			}
			w.stop(out)
			w = nil

		case "snapshot":
			if len(argv) != 2 {
				fmt.Fprint(out, "usage: snapshot <file>\n")
				continue
			}
			f, err := os.Create(argv[1])
			if err != nil {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			n, err := c.WriteSnapshot(f)
			f.Close()
			if err != nil {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			fmt.Fprintf(out, "%d bytes written to %s\n", n, argv[1])

		default:
			c.Admin(out, argv)
		}
	}
done:
	if w != nil {
		w.stop(out)
	}
	c.Close()
}
