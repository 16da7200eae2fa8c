package epoch

import (
	"sync/atomic"
)

// global operation stats
// TODO: move these to the collector?
var (
	totalPins         uint64
	advanceAttempts   uint64
	advanceCount      uint64
	bagsPushed        uint64
	bagsCollected     uint64
	objectsFreed      uint64
	entriesUnlinked   uint64
	handlesRegistered uint64
	handlesReleased   uint64
)

// clearGlobalStats resets the global stat counters
func clearGlobalStats() {
	atomic.StoreUint64(&totalPins, 0)
	atomic.StoreUint64(&advanceAttempts, 0)
	atomic.StoreUint64(&advanceCount, 0)
	atomic.StoreUint64(&bagsPushed, 0)
	atomic.StoreUint64(&bagsCollected, 0)
	atomic.StoreUint64(&objectsFreed, 0)
	atomic.StoreUint64(&entriesUnlinked, 0)
	atomic.StoreUint64(&handlesRegistered, 0)
	atomic.StoreUint64(&handlesReleased, 0)
}

// Stats updates the given map with collector info and operation stats
func (c *Collector) Stats(stats map[string]interface{}) {
	live, deleted := c.countParticipants()
	bags, objects := c.countGarbage()

	stats["epoch"] = uint64(c.global.load())
	stats["participants_live"] = live
	stats["participants_deleted"] = deleted
	stats["pooled_handles"] = len(c.handles)
	stats["pooled_handles_available"] = c.handleQueue.available()
	stats["bag_size"] = bagSize
	stats["pins_per_collect"] = c.pinsPerCollect
	stats["garbage_bags_queued"] = bags
	stats["garbage_objects_queued"] = objects

	stats["op_pins"] = atomic.LoadUint64(&totalPins)
	stats["op_advance_attempts"] = atomic.LoadUint64(&advanceAttempts)
	stats["op_advances"] = atomic.LoadUint64(&advanceCount)
	stats["op_bags_pushed"] = atomic.LoadUint64(&bagsPushed)
	stats["op_bags_collected"] = atomic.LoadUint64(&bagsCollected)
	stats["op_objects_freed"] = atomic.LoadUint64(&objectsFreed)
	stats["op_entries_unlinked"] = atomic.LoadUint64(&entriesUnlinked)
	stats["op_handles_registered"] = atomic.LoadUint64(&handlesRegistered)
	stats["op_handles_released"] = atomic.LoadUint64(&handlesReleased)
}
