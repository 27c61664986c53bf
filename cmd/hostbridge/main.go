// hostbridge opens a real serial port to the device and decodes its
// frame/reply/echo stream using package internal/wire, logging each
// decoded unit and optionally driving a start/stop acquisition cycle.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"biocore.dev/biocore/internal/wire"
)

func decodeLoop(logger *logrus.Logger, port serial.Port, done chan<- struct{}) {
	defer close(done)
	scanner := wire.NewScanner(bufio.NewReader(port))
	for {
		kind, buf, err := scanner.Next()
		if err != nil {
			logger.WithError(err).Warn("hostbridge: decode loop ended")
			return
		}
		switch kind {
		case wire.KindFrame:
			f, err := wire.DecodeFrame(buf)
			if err != nil {
				logger.WithError(err).Warn("hostbridge: bad frame")
				continue
			}
			logger.WithField("counter", f.Counter).
				WithField("z", f.AxisZ).WithField("y", f.AxisY).WithField("x", f.AxisX).
				WithField("battery", f.Battery).Info("hostbridge: frame")
		case wire.KindEchoedCommand:
			logger.WithField("bytes", fmt.Sprintf("% x", buf)).Info("hostbridge: echoed command")
		case wire.KindReply:
			logger.WithField("bytes", fmt.Sprintf("% x", buf)).Info("hostbridge: reply")
		}
	}
}

func mainImpl() error {
	portName := flag.String("port", "", "serial port name, e.g. /dev/ttyACM0 or COM3")
	baud := flag.Int("baud", 115200, "baud rate")
	start := flag.Bool("start", false, "send a start-recording command with dividers 1,1 after connecting")
	stopAfter := flag.Duration("stop-after", 0, "if -start is set and this is nonzero, send a stop-recording command after this long")
	verbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	if *portName == "" {
		return fmt.Errorf("hostbridge: -port is required")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	mode := &serial.Mode{
		BaudRate: *baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	logger.WithField("port", *portName).WithField("baud", *baud).Info("hostbridge: opening serial port")
	port, err := serial.Open(*portName, mode)
	if err != nil {
		return fmt.Errorf("hostbridge: open %s: %w", *portName, err)
	}
	defer port.Close()
	port.ResetInputBuffer()

	done := make(chan struct{})
	go decodeLoop(logger, port, done)

	if _, err := port.Write(wire.Hello()); err != nil {
		return fmt.Errorf("hostbridge: write hello: %w", err)
	}
	if _, err := port.Write(wire.Hardware()); err != nil {
		return fmt.Errorf("hostbridge: write hardware: %w", err)
	}

	if *start {
		if _, err := port.Write(wire.StartRecording([]byte{1, 1})); err != nil {
			return fmt.Errorf("hostbridge: write start: %w", err)
		}
		// The device echoes the buffered start command back because it
		// carries the two-phase confirmation trailer; Confirm must
		// follow before it actually dispatches. Confirm is sent right
		// away, without waiting for the echo or comparing it with what
		// was sent; decodeLoop only logs the echo.
		if _, err := port.Write(wire.Confirm()); err != nil {
			return fmt.Errorf("hostbridge: write confirm: %w", err)
		}
		if *stopAfter > 0 {
			go func() {
				time.Sleep(*stopAfter)
				if _, err := port.Write(wire.StopRecording()); err != nil {
					logger.WithError(err).Warn("hostbridge: write stop")
				}
			}()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	select {
	case <-sig:
	case <-done:
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "hostbridge: %s\n", err)
		os.Exit(1)
	}
}
