//go:build amd64 || 386

package epoch

import "sync/atomic"

// announce publishes a handle's state word with full-barrier semantics.
//
// On x86 both MFENCE and LOCK CMPXCHG act as full barriers, and the locked
// compare-and-swap is the cheaper of the two here. The CAS cannot fail: the
// state word is only ever written by its owning handle.
func announce(addr *uint64, value uint64) {
	old := atomic.LoadUint64(addr)
	atomic.CompareAndSwapUint64(addr, old, value)
}
