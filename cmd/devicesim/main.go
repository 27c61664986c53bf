// devicesim wires every subsystem in this module to in-memory fakes —
// a synthetic AFE bus, a ticking DRDY pin, and four synthetic analog
// channels — and runs the full acquisition and command pipeline over
// an in-process pipe standing in for the UART link, so the device core
// can be exercised end to end without any hardware attached.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/analog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/pins"

	"biocore.dev/biocore/afe"
	"biocore.dev/biocore/auxadc"
	"biocore.dev/biocore/batch"
	"biocore.dev/biocore/command"
	"biocore.dev/biocore/core"
	"biocore.dev/biocore/internal/wire"
	"biocore.dev/biocore/transport/periphbus"
	"biocore.dev/biocore/transport/seriallink"
)

// simAFEConn is a conn.Conn standing in for the analog front-end's SPI
// peer: single-byte register exchanges always read back zero, and
// 9-byte streaming reads return three status bytes of zero followed by a
// slowly ramping 24-bit value per channel, enough to see distinct
// frame counters and channel samples in the simulator's log without
// modeling real biosignal physics.
type simAFEConn struct {
	mu      sync.Mutex
	counter uint32
}

func (c *simAFEConn) Tx(w, r []byte) error {
	if len(r) != 9 {
		for i := range r {
			r[i] = 0
		}
		return nil
	}
	c.mu.Lock()
	c.counter++
	v := c.counter
	c.mu.Unlock()
	r[0], r[1], r[2] = 0, 0, 0
	put24(r[3:6], v*7)
	put24(r[6:9], v*13)
	return nil
}

func put24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

// discardOut is a gpio.PinOut that records nothing and always
// succeeds, standing in for the AFE reset line.
type discardOut struct{ pins.Pin }

func (discardOut) Out(gpio.Level) error { return nil }
func (discardOut) PWM(int) error        { return nil }

// tickerDRDY is a gpio.PinIn that reports an edge once per interval,
// standing in for the AFE's DRDY line.
type tickerDRDY struct {
	pins.Pin
	interval time.Duration
}

func (t *tickerDRDY) In(gpio.Pull, gpio.Edge) error { return nil }
func (t *tickerDRDY) Read() gpio.Level              { return gpio.Low }
func (t *tickerDRDY) Pull() gpio.Pull               { return gpio.PullNoChange }
func (t *tickerDRDY) WaitForEdge(time.Duration) bool {
	time.Sleep(t.interval)
	return true
}

// simADC is an analog.ADC reporting a slowly varying value, standing
// in for one of the three accelerometer axes or the battery channel.
type simADC struct {
	pins.Pin
	n uint32
}

func (s *simADC) ADC() error            { return nil }
func (s *simADC) Range() (int32, int32) { return 0, 1023 }
func (s *simADC) Measure() int32 {
	s.n++
	return int32(s.n % 1024)
}

// pipeTransport adapts a pair of unidirectional io.Pipe halves into
// the io.ReadWriter seriallink.Link expects.
type pipeTransport struct {
	io.Reader
	io.Writer
}

func namedPin(name string) pins.Pin { return &pins.BasicPin{Name: name} }

type namedComponent struct {
	name string
	init func() error
}

func (n namedComponent) String() string { return n.name }
func (n namedComponent) Init() error     { return n.init() }

func mainImpl() error {
	drdyInterval := flag.Duration("drdy-interval", 10*time.Millisecond, "simulated DRDY edge period")
	runFor := flag.Duration("run", 3*time.Second, "how long to run before stopping, 0 for until interrupted")
	verbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	deviceToHostR, deviceToHostW := io.Pipe()
	hostToDeviceR, hostToDeviceW := io.Pipe()
	deviceTransport := pipeTransport{Reader: hostToDeviceR, Writer: deviceToHostW}

	counters := &core.Counters{}

	link := seriallink.New(deviceTransport, &seriallink.Opts{
		Logger:     logger,
		OnOverflow: counters.IncRXOverflow,
	})

	bus := periphbus.New(&simAFEConn{})
	reset := discardOut{namedPin("AFE_RESET")}
	drdy := &tickerDRDY{Pin: namedPin("AFE_DRDY"), interval: *drdyInterval}

	var channels [auxadc.Channels]analog.ADC
	for i := range channels {
		channels[i] = &simADC{Pin: namedPin(fmt.Sprintf("AUX%d", i))}
	}

	gate := core.NewGate()
	aux := auxadc.New(channels, gate.Wake, &auxadc.Opts{Logger: logger})
	afeDriver := afe.New(bus, reset, drdy, func() { _ = aux.Begin() }, &afe.Opts{
		Sleep:  func(time.Duration) {},
		Logger: logger,
	})

	events := core.NewBus(8)
	assembler := batch.New(afeDriver, aux, link, batch.Opts{
		Logger:  logger,
		OnFrame: events.PublishFrame,
	})

	commands := command.New(link, afeDriver, assembler, &command.Opts{
		Logger:         logger,
		ChannelCount:   afe.Channels,
		StatusCounters: counters.Snapshot,
		OnDispatch:     events.PublishCommand,
	})

	registry := &core.Registry{Logger: logger}
	registry.MustRegister(namedComponent{"afe", afeDriver.Init})
	if _, _, err := registry.Init(); err != nil {
		return err
	}

	loop := core.New(commands, assembler, gate, &core.Opts{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	if *runFor > 0 {
		ctx, cancel = context.WithTimeout(ctx, *runFor)
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()

	runDone := make(chan struct{})
	drdyDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := link.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("link run")
		}
	}()
	go func() {
		defer close(drdyDone)
		afeDriver.WatchDRDY(ctx.Done(), gate.Wake, counters.IncDroppedDRDY)
	}()

	frames := events.SubscribeFrames()
	go func() {
		for range frames {
			// Drained here so PublishFrame never blocks on a full
			// channel; devicesim's own logging comes from the host
			// goroutine below decoding the same bytes off the wire.
		}
	}()

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		runHost(ctx, logger, hostToDeviceW, deviceToHostR)
	}()

	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("core loop")
		}
	}()

	<-ctx.Done()
	hostToDeviceW.Close()
	deviceToHostW.Close()
	<-hostDone
	return nil
}

// runHost plays the part of the host described in spec.md §8's S1-S3
// scenarios: request identity, start acquisition with confirmation,
// log a handful of decoded frames, then stop.
func runHost(ctx context.Context, logger *logrus.Logger, w io.Writer, r io.Reader) {
	scanner := wire.NewScanner(bufio.NewReader(r))
	type scanResult struct {
		kind wire.Kind
		buf  []byte
		err  error
	}
	scanned := make(chan scanResult)
	go func() {
		for {
			k, buf, err := scanner.Next()
			scanned <- scanResult{k, buf, err}
			if err != nil {
				return
			}
		}
	}()

	_, _ = w.Write(wire.Hello())
	_, _ = w.Write(wire.Hardware())
	_, _ = w.Write(wire.StartRecording([]byte{1, 1}))

	confirmed := false
	frameCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-scanned:
			if res.err != nil {
				return
			}
			switch res.kind {
			case wire.KindReply:
				logger.WithField("bytes", fmt.Sprintf("% x", res.buf)).Info("devicesim host: reply")
			case wire.KindEchoedCommand:
				logger.WithField("bytes", fmt.Sprintf("% x", res.buf)).Info("devicesim host: echoed command")
				if !confirmed {
					confirmed = true
					_, _ = w.Write(wire.Confirm())
				}
			case wire.KindFrame:
				f, err := wire.DecodeFrame(res.buf)
				if err != nil {
					logger.WithError(err).Warn("devicesim host: bad frame")
					continue
				}
				frameCount++
				logger.WithField("counter", f.Counter).WithField("battery", f.Battery).Debug("devicesim host: frame")
				if frameCount == 20 {
					_, _ = w.Write(wire.StopRecording())
				}
			}
		}
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %s\n", err)
		os.Exit(1)
	}
}
