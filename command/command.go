// Package command implements the host command protocol: a byte-at-a-time
// frame parser, the two-phase confirmation dialect, and dispatch to
// register pokes, AFE control, and identity replies.
//
// The parser's states are implicit in fillIdx/length exactly as the
// original firmware's commands_process loop encoded them; the state
// names in the package doc below exist for review, not as a separate
// data structure: ExpectStart (fillIdx==0), ExpectCmd (fillIdx==1),
// ExpectLen (fillIdx==2), ExpectBody (2<fillIdx<length-1), and
// ExpectTrailerAndStop (fillIdx==length-1).
package command

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"biocore.dev/biocore/batch"
)

const (
	frameStart         = 0xAA
	commandStart       = 0x5A
	frameStop          = 0x55
	commandNeedConfirm = 0xCC
	maxCommandLength   = 16

	messageStart = 0xA5

	markerHelloReply    = 0xA0
	markerHardwareReply = 0xA4

	markerCPURegWrite     = 0xA1
	markerCPURegSetBits   = 0xA2
	markerCPURegClearBits = 0xA3
	markerCPURegRead      = 0xA4
	markerAfeRegWrite     = 0xA6
	markerAfeRegRead      = 0xA7
	markerStartRecording  = 0xA8
	markerStopRecording   = 0xA9
	markerHelloRequest    = 0xAB
	markerHardwareRequest = 0xAC
	markerPing            = 0xAD
	markerConfirm         = 0xAE
	markerStatusRequest   = 0xAF
)

// ErrRegisterAccessDisabled is returned for the CPU-register-poke
// markers when the binary was not built with the devregisters tag; see
// registers_enabled.go / registers_disabled.go.
var ErrRegisterAccessDisabled = errors.New("command: cpu register access disabled (build without devregisters)")

// DiagnosticKind distinguishes the parser's two debug-echo paths,
// letting a caller drive an indicator the way the original firmware's
// LED1/LED3 calls did without the parser depending on one directly.
type DiagnosticKind int

const (
	// DiagnosticUnexpectedByte fires when a byte violates the state
	// machine, including a terminal-position byte other than 0x55.
	DiagnosticUnexpectedByte DiagnosticKind = iota
	// DiagnosticBadTrailer fires when the terminal byte is 0x55 but
	// the second-to-last byte is neither 0x55 nor 0xCC.
	DiagnosticBadTrailer
)

// Transport is the subset of seriallink.Link the parser needs.
type Transport interface {
	Read() (byte, bool)
	Transmit(buf []byte) error
	Flush() error
}

// AfeController is the subset of afe.Driver the dispatcher drives.
type AfeController interface {
	Start() error
	Stop() error
	WriteRegs(addr byte, data []byte) error
	ReadReg(addr byte) (byte, error)
}

// BatchController is the subset of batch.Assembler the dispatcher
// drives.
type BatchController interface {
	Start(cfg batch.Config)
}

// StatusCounters reports the supplemented diagnostic counters the
// 0xAF status-request marker exposes: dropped-DRDY events and RX FIFO
// overflow events, each saturating at 0xFF.
type StatusCounters func() (droppedDRDY, rxOverflow uint8)

// Opts configures a Processor.
type Opts struct {
	Logger         *logrus.Logger
	ChannelCount   int
	OnDiagnostic   func(DiagnosticKind)
	StatusCounters StatusCounters
	// OnDispatch, if set, is invoked with the marker byte of every
	// command actually dispatched (not those merely buffered pending
	// confirmation), so a caller can fan it out (e.g. onto the
	// core.Bus "command" topic) without Processor depending on a
	// specific fan-out mechanism.
	OnDispatch func(marker byte)
}

// DefaultOpts matches the documented two-channel build.
var DefaultOpts = Opts{ChannelCount: 2}

// Processor parses host command frames off a Transport and dispatches
// them against an AfeController, a BatchController, and identity
// replies.
type Processor struct {
	link     Transport
	afe      AfeController
	batchCtl BatchController
	opts     Opts

	hello    []byte
	hardware []byte

	mu        sync.Mutex
	fill      [maxCommandLength]byte
	fillIdx   int
	length    int
	holding   [maxCommandLength]byte
	holdingLen int
	buffered  bool
}

// New builds a Processor. A nil opts uses DefaultOpts.
func New(link Transport, afeCtl AfeController, batchCtl BatchController, opts *Opts) *Processor {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	p := &Processor{link: link, afe: afeCtl, batchCtl: batchCtl, opts: o}
	p.hello = []byte{frameStart, messageStart, 0x05, markerHelloReply, frameStop}
	p.hardware = []byte{frameStart, messageStart, 0x06, markerHardwareReply, byte(o.ChannelCount), frameStop}
	return p
}

// Drain consumes every byte currently queued on the transport, feeding
// the parser one byte at a time. It should be called once per
// main-loop pass.
func (p *Processor) Drain() {
	for {
		b, ok := p.link.Read()
		if !ok {
			return
		}
		p.pushByte(b)
	}
}

func (p *Processor) pushByte(ch byte) {
	switch {
	case p.fillIdx == 0 && ch == frameStart:
		p.fill[0] = ch
		p.fillIdx = 1
	case p.fillIdx == 1 && ch == commandStart:
		p.fill[1] = ch
		p.fillIdx = 2
	case p.fillIdx == 2 && int(ch) < maxCommandLength:
		p.fill[2] = ch
		p.length = int(ch)
		p.fillIdx = 3
	case p.fillIdx > 2 && p.fillIdx < p.length-1:
		p.fill[p.fillIdx] = ch
		p.fillIdx++
	case p.length >= 2 && p.fillIdx == p.length-1 && ch == frameStop:
		p.fill[p.fillIdx] = ch
		p.terminal()
	default:
		p.invalid(ch)
	}
}

// terminal runs once the frame-stop byte lands at the expected
// position; it inspects the trailer byte at length-2 to decide between
// immediate dispatch, buffering for confirmation, or treating the
// frame as invalid.
func (p *Processor) terminal() {
	trailer := p.fill[p.length-2]
	switch trailer {
	case frameStop:
		cmd := append([]byte(nil), p.fill[:p.length]...)
		p.fillIdx = 0
		p.dispatch(cmd)
	case commandNeedConfirm:
		copy(p.holding[:], p.fill[:p.length])
		p.holdingLen = p.length
		p.buffered = true
		echo := append([]byte(nil), p.holding[:p.holdingLen]...)
		p.fillIdx = 0
		p.link.Flush()
		p.link.Transmit(echo)
	default:
		p.echoBroken()
		if p.opts.OnDiagnostic != nil {
			p.opts.OnDiagnostic(DiagnosticBadTrailer)
		}
		p.fillIdx = 0
	}
}

// invalid handles any byte that violates the expected state: a single
// out-of-place byte is echoed alone when nothing has been buffered yet,
// otherwise the partial frame is echoed back for debugging.
func (p *Processor) invalid(ch byte) {
	if p.fillIdx == 0 {
		p.link.Flush()
		p.link.Transmit([]byte{ch})
	} else {
		p.fill[p.fillIdx] = ch
		p.echoBroken()
	}
	if p.opts.OnDiagnostic != nil {
		p.opts.OnDiagnostic(DiagnosticUnexpectedByte)
	}
	p.fillIdx = 0
}

func (p *Processor) echoBroken() {
	n := p.fillIdx + 1
	if n > maxCommandLength {
		n = maxCommandLength
	}
	buf := append([]byte(nil), p.fill[:n]...)
	p.link.Flush()
	p.link.Transmit(buf)
}

// dispatch executes a fully-received command frame. cmd[3] is the
// marker; cmd[4:] is the payload.
func (p *Processor) dispatch(cmd []byte) {
	if len(cmd) < 4 {
		return
	}
	marker := cmd[3]
	payload := cmd[4:]

	if p.opts.OnDispatch != nil {
		p.opts.OnDispatch(marker)
	}

	switch marker {
	case markerCPURegWrite:
		if len(payload) >= 3 {
			registerWrite(decodeAddress(payload[0], payload[1]), payload[2])
		}
	case markerCPURegSetBits:
		if len(payload) >= 3 {
			registerSetBits(decodeAddress(payload[0], payload[1]), payload[2])
		}
	case markerCPURegClearBits:
		if len(payload) >= 3 {
			registerClearBits(decodeAddress(payload[0], payload[1]), payload[2])
		}
	case markerCPURegRead:
		if len(payload) >= 2 {
			v, err := registerRead(decodeAddress(payload[0], payload[1]))
			if err == nil {
				p.link.Flush()
				p.link.Transmit([]byte{v})
			}
		}
	case markerAfeRegWrite:
		if len(payload) >= 2 {
			p.afe.WriteRegs(payload[0], payload[1:2])
		}
	case markerAfeRegRead:
		if len(payload) >= 1 {
			v, err := p.afe.ReadReg(payload[0])
			if err == nil {
				p.link.Flush()
				p.link.Transmit([]byte{v})
			}
		}
	case markerStartRecording:
		var cfg batch.Config
		for i := 0; i < len(cfg.Dividers) && i < len(payload); i++ {
			cfg.Dividers[i] = payload[i]
		}
		p.batchCtl.Start(cfg)
		p.afe.Start()
	case markerStopRecording:
		p.afe.Stop()
	case markerHelloRequest:
		p.link.Flush()
		p.link.Transmit(p.hello)
	case markerHardwareRequest:
		p.link.Flush()
		p.link.Transmit(p.hardware)
	case markerPing:
		p.link.Flush()
		p.link.Transmit([]byte{frameStart, messageStart, 0x05, markerPing, frameStop})
	case markerStatusRequest:
		var dropped, overflow uint8
		if p.opts.StatusCounters != nil {
			dropped, overflow = p.opts.StatusCounters()
		}
		p.link.Flush()
		p.link.Transmit([]byte{frameStart, messageStart, 0x07, markerStatusRequest, dropped, overflow, frameStop})
	case markerConfirm:
		if p.buffered {
			p.buffered = false
			held := append([]byte(nil), p.holding[:p.holdingLen]...)
			p.dispatch(held)
		}
	}
}
