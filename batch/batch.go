// Package batch assembles numbered egress frames from AFE channel
// samples and auxiliary accumulator blocks, and forwards each finished
// frame to the serial transport.
//
// A frame is 4 header bytes, 30 bytes of channel-A samples (ten 3-byte
// samples, each byte-reversed relative to wire order), 30 bytes of
// channel-B samples likewise, 6 aux bytes (three axes, lo/hi pairs,
// reordered Z/Y/X), 2 battery bytes, and a 1-byte stop marker: 73 bytes
// total. (The original firmware's own batch_size computation —
// BATCH_HEADER_SIZE(4) + ADS_BATCH_SIZE(60) + 9 — agrees with this; a
// summary figure elsewhere that calls the frame "64 bytes" is counting
// only the header-plus-channel-sample prefix, the offset at which the
// aux block begins, not the frame's total length.)
package batch

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"biocore.dev/biocore/afe"
	"biocore.dev/biocore/auxadc"
)

const (
	headerSize    = 4
	channelRegion = 30 // ten 3-byte samples per AFE channel
	auxSize       = 6
	batterySize   = 2
	trailerSize   = 1

	// FrameSize is the total size in bytes of one egress frame.
	FrameSize = headerSize + channelRegion*afe.Channels + auxSize + batterySize + trailerSize

	auxOffset     = headerSize + channelRegion*afe.Channels
	batteryOffset = auxOffset + auxSize
	trailerOffset = batteryOffset + batterySize

	startMarker = 0xAA
	stopMarker  = 0x55
)

// auxPermutation is the byte-offset table mapping AuxAdc's raw
// accumulator bytes (battery lo/hi, then channel 1 lo/hi, channel 2
// lo/hi, channel 3 lo/hi) onto the frame's aux block, reproducing the
// Z,Y,X reordering the original firmware's make_batch performed
// positionally (batch[6],[7] first, then [4],[5], then [2],[3]).
var auxPermutation = [auxSize]int{6, 7, 4, 5, 2, 3}

// ErrTransmitNotReady is returned by Process when a frame is finalized
// but the injected Transmitter is nil; Assembler never calls a nil sender.
var ErrTransmitNotReady = errors.New("batch: no frame sender configured")

// Transmitter is the minimal serial contract Assembler needs: an
// asynchronous, non-blocking send of a caller-owned buffer, plus the
// flush primitive used to enforce "the previous frame's transmit must
// be complete before starting a new one."
type Transmitter interface {
	Transmit(buf []byte) error
	Flush() error
}

// Source is the subset of afe.Driver that Assembler consumes.
type Source interface {
	DataReceived() bool
	GetData() [3 * afe.Channels]byte
}

// AuxSource is the subset of auxadc.Adc that Assembler consumes.
type AuxSource interface {
	Get() [auxadc.Channels * 2]byte
}

// Config holds the per-channel decimation dividers passed to Start.
// In the documented two-channel build every divider is 1 (emit every
// sample); the hook exists so a future build can skip samples on a
// per-channel basis without changing the frame layout.
type Config struct {
	Dividers [afe.Channels]uint8
}

// DefaultConfig emits every sample on every channel.
var DefaultConfig = Config{Dividers: [afe.Channels]uint8{1, 1}}

// Opts configures logging and frame-completion fan-out for an
// Assembler. A nil Opts (or the zero value, via the variadic New
// parameter) disables both.
type Opts struct {
	// Logger receives per-frame diagnostics (counter, size) once a
	// frame has been finalized. Never called from addSample's hot
	// path beyond the finalizing sample.
	Logger *logrus.Logger
	// OnFrame, if set, is invoked with each finished frame right after
	// it is handed to the Transmitter, so a subscriber (e.g. the
	// "frame" pubsub topic core.Loop wires up) can observe it without
	// coupling Assembler to a specific fan-out mechanism.
	OnFrame func(frame []byte)
}

// Assembler builds one frame at a time from an afe.Driver's per-sample
// feed plus one auxadc.Adc hand-off every ten samples, and forwards the
// finished frame to a Transmitter.
type Assembler struct {
	afe   Source
	aux   AuxSource
	tx    Transmitter
	cfg   Config
	opts  Opts

	mu           sync.Mutex
	samplePtr    int
	counter      uint16
	sampleCounts [afe.Channels]uint8
	buffers      [2][FrameSize]byte
	fillIdx      int
}

// New builds an Assembler wired to its AFE sample source, aux source,
// and serial transmitter. opts is variadic so existing call sites that
// pass none keep working; at most the first value is used.
func New(src Source, aux AuxSource, tx Transmitter, opts ...Opts) *Assembler {
	a := &Assembler{afe: src, aux: aux, tx: tx, cfg: DefaultConfig}
	if len(opts) > 0 {
		a.opts = opts[0]
	}
	return a
}

// Start resets the frame counter and installs the per-channel dividers
// for a new acquisition session.
func (a *Assembler) Start(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter = 0
	a.samplePtr = 0
	a.cfg = cfg
	a.sampleCounts = [afe.Channels]uint8{}
}

// Process should be called once per main-loop pass. It checks whether
// the AFE has a new sample, writes it into the in-progress frame, and
// on the tenth sample finalizes and transmits the frame.
func (a *Assembler) Process() error {
	if !a.afe.DataReceived() {
		return nil
	}
	sample := a.afe.GetData()
	return a.addSample(sample)
}

func (a *Assembler) addSample(sample [3 * afe.Channels]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fill := &a.buffers[a.fillIdx]
	for ch := 0; ch < afe.Channels; ch++ {
		if a.cfg.Dividers[ch] == 0 {
			continue
		}
		a.sampleCounts[ch]++
		if a.sampleCounts[ch] < a.cfg.Dividers[ch] {
			continue
		}
		a.sampleCounts[ch] = 0
		reverseInto(fill[headerSize+ch*channelRegion+a.samplePtr:], sample[ch*3:ch*3+3])
	}

	a.samplePtr += 3
	if a.samplePtr < channelRegion {
		return nil
	}
	a.samplePtr = 0
	return a.finalizeLocked()
}

// finalizeLocked completes the in-progress frame, swaps buffers, and
// hands the finished frame to the transmitter. The caller must hold mu.
func (a *Assembler) finalizeLocked() error {
	fill := &a.buffers[a.fillIdx]

	auxBytes := a.aux.Get()
	for i, offset := range auxPermutation {
		fill[auxOffset+i] = auxBytes[offset]
	}
	fill[batteryOffset] = auxBytes[0]
	fill[batteryOffset+1] = auxBytes[1]

	fill[0] = startMarker
	fill[1] = startMarker
	fill[2] = byte(a.counter)
	fill[3] = byte(a.counter >> 8)
	fill[trailerOffset] = stopMarker

	counter := a.counter
	a.counter++

	frame := *fill
	a.fillIdx = 1 - a.fillIdx

	if a.opts.Logger != nil {
		a.opts.Logger.WithField("counter", counter).WithField("size", FrameSize).Debug("batch: frame assembled")
	}
	if a.tx == nil {
		return ErrTransmitNotReady
	}
	if err := a.tx.Flush(); err != nil {
		return err
	}
	err := a.tx.Transmit(frame[:])
	if a.opts.OnFrame != nil {
		a.opts.OnFrame(frame[:])
	}
	return err
}

// reverseInto writes src into dst in reverse byte order. dst must have
// at least len(src) bytes available.
func reverseInto(dst []byte, src []byte) {
	for i, b := range src {
		dst[len(src)-1-i] = b
	}
}
