package core

import "testing"

func TestCountersIncrementAndSnapshot(t *testing.T) {
	var c Counters
	c.IncDroppedDRDY()
	c.IncDroppedDRDY()
	c.IncRXOverflow()

	dropped, overflow := c.Snapshot()
	if dropped != 2 || overflow != 1 {
		t.Fatalf("snapshot = (%d, %d), want (2, 1)", dropped, overflow)
	}
}

func TestCountersSaturateAt255(t *testing.T) {
	var c Counters
	for i := 0; i < 300; i++ {
		c.IncDroppedDRDY()
	}
	dropped, _ := c.Snapshot()
	if dropped != 0xFF {
		t.Fatalf("dropped = %d, want 255", dropped)
	}
}

func TestCountersReset(t *testing.T) {
	var c Counters
	c.IncDroppedDRDY()
	c.IncRXOverflow()
	c.Reset()
	dropped, overflow := c.Snapshot()
	if dropped != 0 || overflow != 0 {
		t.Fatalf("snapshot after reset = (%d, %d), want (0, 0)", dropped, overflow)
	}
}
