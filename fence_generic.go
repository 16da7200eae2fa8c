//go:build !amd64 && !386

package epoch

import "sync/atomic"

// announce publishes a handle's state word with full-barrier semantics.
//
// sync/atomic stores are sequentially consistent, so a plain atomic store
// already orders the announcement before any subsequent load by this
// goroutine.
func announce(addr *uint64, value uint64) {
	atomic.StoreUint64(addr, value)
}
