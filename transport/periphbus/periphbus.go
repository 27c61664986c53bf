// Package periphbus implements the synchronous peripheral bus used to
// talk to the analog front-end: a blocking single-byte exchange for
// register access, and asynchronous block transmit/receive for
// streaming sample data, mirroring the spi_exchange/spi_transmit/
// spi_read trio in the original firmware's uart_spi.c.
//
// The underlying transport is a conn.Conn exactly as periph.io defines
// it (Tx(w, r []byte) error) so the bus can be driven by a real
// spi.Conn on hardware or a conn/conntest fake in tests.
package periphbus

import (
	"errors"
	"sync"

	"periph.io/x/periph/conn"
)

// ErrBusy is returned by Exchange when an asynchronous transfer is in
// flight; the spec requires the driver to Flush before any exchange
// sequence rather than interleave the two modes.
var ErrBusy = errors.New("periphbus: bus busy with an asynchronous transfer")

// Bus wraps a synchronous conn.Conn and adds the asynchronous
// transmit/read-by-zeros operations the AFE driver needs for streaming.
type Bus struct {
	conn conn.Conn

	mu     sync.Mutex
	done   chan struct{} // non-nil and open while async transfer in flight
	err    error
	result []byte // populated once an async Read completes
}

// New wraps conn as a Bus.
func New(c conn.Conn) *Bus {
	return &Bus{conn: c}
}

// Exchange performs a blocking single-byte transfer, returning the byte
// simultaneously clocked in. It reports ErrBusy if an asynchronous
// transfer has not been flushed yet.
func (b *Bus) Exchange(out byte) (byte, error) {
	b.mu.Lock()
	if b.inFlightLocked() {
		b.mu.Unlock()
		return 0, ErrBusy
	}
	b.mu.Unlock()

	w := []byte{out}
	r := make([]byte, 1)
	if err := b.conn.Tx(w, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Transmit sends buf asynchronously; any bytes clocked in are
// discarded, matching the outbound-only contract.
func (b *Bus) Transmit(buf []byte) error {
	return b.startAsync(buf, nil)
}

// Read clocks n zero bytes out while capturing what comes back,
// asynchronously; the result is available via Result after
// TransferFinished or Flush.
func (b *Bus) Read(n int) error {
	return b.startAsync(make([]byte, n), make([]byte, n))
}

func (b *Bus) startAsync(w, r []byte) error {
	b.mu.Lock()
	if b.inFlightLocked() {
		b.mu.Unlock()
		return ErrBusy
	}
	done := make(chan struct{})
	b.done = done
	b.err = nil
	b.result = nil
	b.mu.Unlock()

	go func() {
		err := b.conn.Tx(w, r)
		b.mu.Lock()
		b.err = err
		if err == nil {
			b.result = r
		}
		b.mu.Unlock()
		close(done)
	}()
	return nil
}

// inFlightLocked reports whether an async transfer is outstanding. The
// caller must hold mu.
func (b *Bus) inFlightLocked() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// TransferFinished reports whether the last asynchronous Transmit/Read
// has completed, without blocking.
func (b *Bus) TransferFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.inFlightLocked()
}

// Flush blocks until the in-flight asynchronous transfer, if any,
// completes, and returns its error.
func (b *Bus) Flush() error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()
	return err
}

// Result returns the bytes captured by the most recently completed
// asynchronous Read. It is only meaningful after Flush or a true
// TransferFinished.
func (b *Bus) Result() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}
