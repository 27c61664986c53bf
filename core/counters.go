package core

import "sync/atomic"

// Counters tracks the two diagnostic events spec.md §7 calls out as
// worth surfacing but never wires to a command: dropped DRDY samples
// (afe.Driver.WatchDRDY's onMissedSample hook) and serial receive FIFO
// overflow (transport/seriallink.Opts.OnOverflow). Both saturate at
// 0xFF rather than wrapping, so a host polling infrequently still sees
// "it happened a lot" instead of a misleadingly small wrapped value.
type Counters struct {
	droppedDRDY uint32
	rxOverflow  uint32
}

// IncDroppedDRDY records one missed-DRDY event.
func (c *Counters) IncDroppedDRDY() { atomic.AddUint32(&c.droppedDRDY, 1) }

// IncRXOverflow records one dropped receive-FIFO byte.
func (c *Counters) IncRXOverflow() { atomic.AddUint32(&c.rxOverflow, 1) }

// Snapshot returns both counters saturated to a byte, matching
// command.StatusCounters' signature so a Counters can be wired directly
// into command.Opts.StatusCounters.
func (c *Counters) Snapshot() (droppedDRDY, rxOverflow uint8) {
	return saturate(atomic.LoadUint32(&c.droppedDRDY)), saturate(atomic.LoadUint32(&c.rxOverflow))
}

// Reset zeroes both counters, matching the original firmware's "counter
// resets at start-of-acquisition" rule (§3) for the supplemented
// diagnostic counters.
func (c *Counters) Reset() {
	atomic.StoreUint32(&c.droppedDRDY, 0)
	atomic.StoreUint32(&c.rxOverflow, 0)
}

func saturate(v uint32) uint8 {
	if v > 0xFF {
		return 0xFF
	}
	return uint8(v)
}
