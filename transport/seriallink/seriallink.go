// Package seriallink implements the asynchronous byte link between the
// device core and the host: a non-blocking transmit of a caller-owned
// buffer and an always-running receive path that feeds a bounded FIFO.
//
// Where the original firmware had a UART peripheral with a TX-ready and
// an RX-ready interrupt vector, this package has a background goroutine
// standing in for each: Transmit hands the buffer to a writer goroutine
// and returns immediately, and a receive goroutine, started by Run,
// reads from the underlying conn.Conn-like transport continuously and
// pushes every byte into a ringfifo.Fifo, mirroring the RX ISR in
// uart_spi.c that drops bytes silently on overflow.
package seriallink

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"biocore.dev/biocore/ringfifo"
)

// rxFifoSize matches the 32-byte receive FIFO sized in the original
// firmware's uart_spi.c.
const rxFifoSize = 32

// ErrTransmitInFlight is returned by Transmit when a previous transmit
// has not yet completed; the caller must Flush first.
var ErrTransmitInFlight = errors.New("seriallink: transmit already in flight")

// Opts configures a Link.
type Opts struct {
	// Logger receives structured diagnostics. A nil Logger disables
	// logging.
	Logger *logrus.Logger
	// OnOverflow, if set, is invoked (off the receive goroutine) each
	// time an incoming byte is dropped because the receive FIFO is
	// full.
	OnOverflow func()
}

// DefaultOpts is used by New when passed a nil *Opts.
var DefaultOpts = Opts{}

// Link is the asynchronous serial transport. It is safe for one
// transmitting goroutine and one receiving/draining goroutine (the one
// that calls Read) to use concurrently; Transmit/Flush must only be
// called from a single caller at a time, matching the "no concurrent
// calls from the same side" contract of the original peripheral.
type Link struct {
	conn io.ReadWriter
	opts Opts
	rx   *ringfifo.Fifo

	txMu   sync.Mutex
	txDone chan struct{} // non-nil and open while a transmit is in flight
	txErr  error
}

// New wraps conn, an already-opened asynchronous byte transport (a real
// go.bug.st/serial Port on the host side, or any io.ReadWriter standing
// in for one in tests), as a Link. A nil opts uses DefaultOpts.
func New(conn io.ReadWriter, opts *Opts) *Link {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	return &Link{
		conn: conn,
		opts: o,
		rx:   ringfifo.New(rxFifoSize),
	}
}

// Run drives the receive path until ctx is cancelled or the underlying
// transport returns an error. It must be started in its own goroutine;
// it stands in for the hardware's RX-ready interrupt vector.
func (l *Link) Run(ctx context.Context) error {
	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := l.conn.Read(buf)
		if err != nil {
			if l.opts.Logger != nil {
				l.opts.Logger.WithError(err).Warn("seriallink: receive path ended")
			}
			return err
		}
		if n == 0 {
			continue
		}
		if !l.rx.Write(buf[0]) {
			if l.opts.OnOverflow != nil {
				l.opts.OnOverflow()
			}
			if l.opts.Logger != nil {
				l.opts.Logger.Debug("seriallink: rx fifo overflow, byte dropped")
			}
		}
	}
}

// Transmit starts writing buf asynchronously. The caller must not
// mutate buf until Flush returns. It reports ErrTransmitInFlight if a
// previous transmit has not completed.
func (l *Link) Transmit(buf []byte) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	if l.txDone != nil {
		select {
		case <-l.txDone:
		default:
			return ErrTransmitInFlight
		}
	}
	done := make(chan struct{})
	l.txDone = done
	l.txErr = nil
	go func() {
		_, err := l.conn.Write(buf)
		l.txErr = err
		close(done)
	}()
	return nil
}

// Flush blocks until the in-flight transmit, if any, has completed, and
// returns its error.
func (l *Link) Flush() error {
	l.txMu.Lock()
	done := l.txDone
	l.txMu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	l.txMu.Lock()
	err := l.txErr
	l.txMu.Unlock()
	return err
}

// Read dequeues the next received byte, reporting false if none is
// available.
func (l *Link) Read() (byte, bool) {
	return l.rx.Read()
}

// AvailableForRead reports how many bytes are queued for Read.
func (l *Link) AvailableForRead() int {
	return l.rx.AvailableForRead()
}
