// Package core wires the subsystems together into the MainLoop /
// InterruptGate design: a component registry adapted from periph.io's
// driver registration, and an event gate replacing the firmware's
// single global wake flag and its atomic "enable-interrupts-and-sleep"
// primitive.
package core

import "context"

// Gate is the Go analogue of the firmware's wake flag. Any number of
// producer goroutines standing in for ISRs (seriallink's receive loop,
// afe.Driver's WatchDRDY, auxadc's conversion completion) call Wake to
// request a loop pass; Loop.Run consumes pending wakes with TryConsume
// and blocks in Wait only once none remain, exactly mirroring
// "disable_interrupts; if not wake: sleep_and_enable_interrupts".
//
// The buffered channel of capacity one is what removes the lost-wakeup
// race the original relied on a hardware atomic instruction for: a
// Wake that arrives between the last TryConsume and the next Wait is
// still observed, because it is queued in the channel rather than
// tested against a flag that could change out from under a
// check-then-sleep sequence.
type Gate struct {
	ch chan struct{}
}

// NewGate returns a Gate with no wake pending.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{}, 1)}
}

// Wake marks the gate open. It never blocks; multiple Wake calls before
// the next consume coalesce into a single pass, the same way the
// original's boolean wake flag coalesces multiple ISR firings.
func (g *Gate) Wake() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// TryConsume reports whether a wake was pending, clearing it if so.
func (g *Gate) TryConsume() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until Wake is called, or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
