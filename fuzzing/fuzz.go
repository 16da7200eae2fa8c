package fuzzing

import (
	"unsafe"

	"github.com/jayloop/epoch"
)

type payload struct {
	value uint64
}

// Fuzz drives a collector through a workload decoded from the input data.
// Each byte selects an operation on a small set of atomic cells: load, swap in
// a fresh payload and retire the old one, pin recursively, or recycle the
// handle. It tries to cover as much of the pin/retire/advance machinery as
// possible to increase the chance of finding bugs!
func Fuzz(data []byte) int {
	if len(data) == 0 {
		return -1
	}

	c := epoch.NewCollector(&epoch.Options{
		Handles:        1,
		PinsPerCollect: 4,
	})
	h := c.Register()

	var cells [4]epoch.Atomic
	allocated := 0

	for i, op := range data {
		// low bits select the operation, the next two bits the cell, so the
		// same cell sees mixed loads, swaps and retirements
		cell := &cells[int(op>>2)&3]
		switch op % 4 {
		case 0:
			h.Pin(func(p *epoch.Pin) {
				v := cell.Load(p)
				if !v.IsNil() {
					_ = (*payload)(v.Pointer()).value
				}
			})
		case 1:
			h.Pin(func(p *epoch.Pin) {
				fresh := epoch.MakePtr(unsafe.Pointer(&payload{value: uint64(i)}))
				allocated++
				old := cell.Load(p)
				if cur, ok := cell.CompareAndSwap(old, fresh, p); !ok {
					_ = cur
					return
				}
				if !old.IsNil() {
					old.Unlinked(p)
				}
			})
		case 2:
			// nested pin is a no-op reusing the outer one
			h.Pin(func(p *epoch.Pin) {
				h.Pin(func(inner *epoch.Pin) {
					_ = cell.Load(inner)
				})
			})
		case 3:
			h.Release()
			h = c.Register()
		}
	}

	h.Release()
	c.Close()
	return 1
}
