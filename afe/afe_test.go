package afe

import (
	"sync"
	"testing"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/pins"

	"biocore.dev/biocore/transport/periphbus"
)

// fakeOut records every level written to it.
type fakeOut struct {
	pins.Pin
	mu      sync.Mutex
	history []gpio.Level
}

func newFakeOut() *fakeOut { return &fakeOut{Pin: &pins.BasicPin{Name: "RESET"}} }

func (f *fakeOut) Out(l gpio.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, l)
	return nil
}

func (f *fakeOut) PWM(int) error { return nil }

// fakeDRDY never actually edges; it satisfies gpio.PinIn for
// construction/init tests that do not drive WatchDRDY.
type fakeDRDY struct {
	pins.Pin
}

func newFakeDRDY() *fakeDRDY { return &fakeDRDY{Pin: &pins.BasicPin{Name: "DRDY"}} }

func (f *fakeDRDY) In(gpio.Pull, gpio.Edge) error      { return nil }
func (f *fakeDRDY) Read() gpio.Level                   { return gpio.High }
func (f *fakeDRDY) WaitForEdge(time.Duration) bool     { return false }
func (f *fakeDRDY) Pull() gpio.Pull                    { return gpio.PullNoChange }

// fakeConn is a minimal conn.Conn that always reports a fixed status +
// sample payload on Tx, regardless of what was written.
type fakeConn struct {
	mu      sync.Mutex
	payload []byte
}

func (c *fakeConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range r {
		if i < len(c.payload) {
			r[i] = c.payload[i]
		}
	}
	return nil
}

func TestInitReleasesAndPulsesReset(t *testing.T) {
	reset := newFakeOut()
	bus := periphbus.New(&fakeConn{})
	d := New(bus, reset, newFakeDRDY(), nil, &Opts{Sleep: func(time.Duration) {}})
	if err := d.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	if len(reset.history) != len(want) {
		t.Fatalf("reset history = %v, want %v", reset.history, want)
	}
	for i, w := range want {
		if reset.history[i] != w {
			t.Fatalf("reset.history[%d] = %v, want %v", i, reset.history[i], w)
		}
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", d.State())
	}
}

func TestStartStopTransitions(t *testing.T) {
	reset := newFakeOut()
	bus := periphbus.New(&fakeConn{})
	d := New(bus, reset, newFakeDRDY(), nil, &Opts{Sleep: func(time.Duration) {}})
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if d.State() != StateStreaming {
		t.Fatalf("state after start = %v, want Streaming", d.State())
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.State() != StateIdle {
		t.Fatalf("state after stop = %v, want Idle", d.State())
	}
	// Stop is idempotent.
	if err := d.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestDataReceivedPumpAndGetData(t *testing.T) {
	reset := newFakeOut()
	payload := []byte{0x01, 0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11}
	bus := periphbus.New(&fakeConn{payload: payload})
	d := New(bus, reset, newFakeDRDY(), nil, &Opts{Sleep: func(time.Duration) {}})
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for !d.DataReceived() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a sample")
		}
		time.Sleep(time.Millisecond)
	}

	got := d.GetData()
	want := payload[3:]
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("GetData()[%d] = %#x, want %#x", i, got[i], w)
		}
	}
}
