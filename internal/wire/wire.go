// Package wire implements the host side of the link protocol described
// in spec.md §6: encoding outbound command frames and decoding whatever
// the device sends back, whether that is a 73-byte acquisition frame,
// an echoed command (the two-phase confirmation dialect), or one of
// the fixed identity/status replies.
//
// It exists for cmd/hostbridge (a real serial port) and cmd/devicesim
// (an in-memory pipe standing in for one), both of which need the same
// byte-stream scanner the device's own command.Processor runs in
// reverse.
package wire

import (
	"bufio"
	"fmt"
)

// Wire framing constants, mirrored from package command and package
// batch so this package has no import-time dependency on either (it is
// the host side of the link, not the device side).
const (
	FrameStart         = 0xAA
	CommandStart       = 0x5A
	ReplyStart         = 0xA5
	FrameStop          = 0x55
	CommandNeedConfirm = 0xCC

	// FrameSize is the total size of one egress acquisition frame (see
	// batch.FrameSize): 4-byte header, 60 bytes of channel samples,
	// 6 aux bytes, 2 battery bytes, 1 stop byte.
	FrameSize = 73

	MarkerHelloReply    = 0xA0
	MarkerHardwareReply = 0xA4
	MarkerPingAck       = 0xAD
	MarkerStatusReply   = 0xAF

	MarkerCPURegWrite     = 0xA1
	MarkerCPURegSetBits   = 0xA2
	MarkerCPURegClearBits = 0xA3
	MarkerCPURegRead      = 0xA4
	MarkerAfeRegWrite     = 0xA6
	MarkerAfeRegRead      = 0xA7
	MarkerStartRecording  = 0xA8
	MarkerStopRecording   = 0xA9
	MarkerHelloRequest    = 0xAB
	MarkerHardwareRequest = 0xAC
	MarkerPing            = 0xAD
	MarkerConfirm         = 0xAE
	MarkerStatusRequest   = 0xAF
)

// Kind distinguishes what a Scanner read off the wire.
type Kind int

const (
	// KindFrame is a 73-byte acquisition frame.
	KindFrame Kind = iota
	// KindEchoedCommand is the device echoing a buffered
	// confirmation-pending or invalid command frame back.
	KindEchoedCommand
	// KindReply is one of the device's fixed AA A5-prefixed replies
	// (hello, hardware, ping ack, status).
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindEchoedCommand:
		return "echoed-command"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Frame is a decoded acquisition frame: ten 3-byte samples per channel
// (already restored to wire order by DecodeFrame), three
// aux-axis sums, and the battery sum.
type Frame struct {
	Counter  uint16
	ChannelA [10][3]byte
	ChannelB [10][3]byte
	AxisZ    uint16
	AxisY    uint16
	AxisX    uint16
	Battery  uint16
}

// Scanner reads a continuous device byte stream and yields one decoded
// unit at a time, resynchronizing on FrameStart the same way
// command.Processor's parser resyncs on the host's ingress side — the
// two are mirror images of the same framing rule.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps r.
func NewScanner(r *bufio.Reader) *Scanner {
	return &Scanner{r: r}
}

// Next blocks until a complete unit has been read, returning its kind
// and raw bytes (including the FrameStart byte and trailer). The caller
// decodes further with DecodeFrame as appropriate.
func (s *Scanner) Next() (Kind, []byte, error) {
	for {
		b0, err := s.r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b0 != FrameStart {
			continue
		}
		b1, err := s.r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		switch b1 {
		case FrameStart:
			buf := make([]byte, FrameSize)
			buf[0], buf[1] = b0, b1
			if _, err := readFull(s.r, buf[2:]); err != nil {
				return 0, nil, err
			}
			if buf[FrameSize-1] != FrameStop {
				continue // resync: not actually a frame
			}
			return KindFrame, buf, nil
		case ReplyStart:
			length, err := s.r.ReadByte()
			if err != nil {
				return 0, nil, err
			}
			buf := make([]byte, length)
			buf[0], buf[1], buf[2] = b0, b1, length
			if _, err := readFull(s.r, buf[3:]); err != nil {
				return 0, nil, err
			}
			return KindReply, buf, nil
		case CommandStart:
			length, err := s.r.ReadByte()
			if err != nil {
				return 0, nil, err
			}
			buf := make([]byte, length)
			buf[0], buf[1], buf[2] = b0, b1, length
			if _, err := readFull(s.r, buf[3:]); err != nil {
				return 0, nil, err
			}
			return KindEchoedCommand, buf, nil
		default:
			continue
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// DecodeFrame interprets a 73-byte buffer returned by Scanner.Next as a
// Frame, undoing the per-channel byte reversal and the Z/Y/X aux
// permutation batch.Assembler applies on the wire.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) != FrameSize {
		return Frame{}, fmt.Errorf("wire: frame is %d bytes, want %d", len(buf), FrameSize)
	}
	if buf[0] != FrameStart || buf[1] != FrameStart {
		return Frame{}, fmt.Errorf("wire: bad frame header % x", buf[:2])
	}
	if buf[FrameSize-1] != FrameStop {
		return Frame{}, fmt.Errorf("wire: bad frame trailer %#x", buf[FrameSize-1])
	}
	var f Frame
	f.Counter = uint16(buf[2]) | uint16(buf[3])<<8
	for i := 0; i < 10; i++ {
		reverseInto(f.ChannelA[i][:], buf[4+i*3:4+i*3+3])
		reverseInto(f.ChannelB[i][:], buf[34+i*3:34+i*3+3])
	}
	// Aux block starts right after the 60 bytes of channel-A/B samples
	// (4-byte header + 2*30): byte 64, not a round number, so it is
	// spelled out here rather than re-derived from package batch's
	// unexported layout constants.
	f.AxisZ = uint16(buf[64]) | uint16(buf[65])<<8
	f.AxisY = uint16(buf[66]) | uint16(buf[67])<<8
	f.AxisX = uint16(buf[68]) | uint16(buf[69])<<8
	f.Battery = uint16(buf[70]) | uint16(buf[71])<<8
	return f, nil
}

func reverseInto(dst, src []byte) {
	for i, b := range src {
		dst[len(src)-1-i] = b
	}
}

// encodeSimple builds a fire-and-forget command frame: FrameStart,
// CommandStart, length, marker, payload..., trailer(FrameStop),
// FrameStop. The trailer and the terminating byte are both FrameStop
// but occupy distinct positions (length-2 and length-1) per spec.md's
// HostCommand layout.
func encodeSimple(marker byte, payload ...byte) []byte {
	length := byte(4 + len(payload) + 2)
	buf := make([]byte, 0, length)
	buf = append(buf, FrameStart, CommandStart, length, marker)
	buf = append(buf, payload...)
	buf = append(buf, FrameStop, FrameStop)
	return buf
}

// Hello encodes a hello-identity request.
func Hello() []byte { return encodeSimple(MarkerHelloRequest) }

// Hardware encodes a hardware-identity request.
func Hardware() []byte { return encodeSimple(MarkerHardwareRequest) }

// Ping encodes the reserved no-op/ack marker.
func Ping() []byte { return encodeSimple(MarkerPing) }

// StatusRequest encodes the supplemented diagnostic-counters request.
func StatusRequest() []byte { return encodeSimple(MarkerStatusRequest) }

// StopRecording encodes a stop-acquisition command.
func StopRecording() []byte { return encodeSimple(MarkerStopRecording) }

// StartRecording encodes a start-acquisition command carrying one
// per-channel decimation divider, trailed with CommandNeedConfirm so
// the host must follow up with Confirm() once the echo arrives.
func StartRecording(dividers []byte) []byte {
	length := byte(4 + len(dividers) + 2)
	buf := make([]byte, 0, length)
	buf = append(buf, FrameStart, CommandStart, length, MarkerStartRecording)
	buf = append(buf, dividers...)
	buf = append(buf, CommandNeedConfirm, FrameStop)
	return buf
}

// Confirm encodes the two-phase confirmation command.
func Confirm() []byte { return encodeSimple(MarkerConfirm) }
