package batch

import (
	"testing"

	"biocore.dev/biocore/afe"
	"biocore.dev/biocore/auxadc"
)

type fakeSource struct {
	samples [][3 * afe.Channels]byte
	pos     int
}

func (f *fakeSource) DataReceived() bool { return f.pos < len(f.samples) }

func (f *fakeSource) GetData() [3 * afe.Channels]byte {
	s := f.samples[f.pos]
	f.pos++
	return s
}

type fakeAux struct {
	block [auxadc.Channels * 2]byte
}

func (f *fakeAux) Get() [auxadc.Channels * 2]byte { return f.block }

type fakeTx struct {
	frames [][]byte
}

func (f *fakeTx) Transmit(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeTx) Flush() error { return nil }

func tenIdenticalSamples(chA, chB [3]byte) [][3 * afe.Channels]byte {
	var s [3 * afe.Channels]byte
	copy(s[0:3], chA[:])
	copy(s[3:6], chB[:])
	out := make([][3 * afe.Channels]byte, 10)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestFrameHeaderCounterAndTrailer(t *testing.T) {
	src := &fakeSource{samples: tenIdenticalSamples([3]byte{1, 2, 3}, [3]byte{4, 5, 6})}
	aux := &fakeAux{block: [auxadc.Channels * 2]byte{0xB1, 0xB2, 1, 2, 3, 4, 5, 6}}
	tx := &fakeTx{}
	a := New(src, aux, tx)
	a.Start(DefaultConfig)

	for i := 0; i < 10; i++ {
		if err := a.Process(); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if len(tx.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(tx.frames))
	}
	frame := tx.frames[0]
	if len(frame) != FrameSize {
		t.Fatalf("frame size = %d, want %d", len(frame), FrameSize)
	}
	if frame[0] != startMarker || frame[1] != startMarker {
		t.Fatalf("header = %#x %#x, want start markers", frame[0], frame[1])
	}
	if frame[len(frame)-1] != stopMarker {
		t.Fatalf("trailer = %#x, want stop marker", frame[len(frame)-1])
	}
	if frame[2] != 0 || frame[3] != 0 {
		t.Fatalf("counter bytes = %d,%d want 0,0 for first frame", frame[2], frame[3])
	}
}

func TestChannelBytesReversedIntoRegions(t *testing.T) {
	src := &fakeSource{samples: tenIdenticalSamples([3]byte{0x10, 0x20, 0x30}, [3]byte{0x40, 0x50, 0x60})}
	aux := &fakeAux{}
	tx := &fakeTx{}
	a := New(src, aux, tx)
	a.Start(DefaultConfig)
	for i := 0; i < 10; i++ {
		a.Process()
	}
	frame := tx.frames[0]
	// First channel-A sample lands reversed at frame[4:7].
	if frame[4] != 0x30 || frame[5] != 0x20 || frame[6] != 0x10 {
		t.Fatalf("channel A region = % x, want reversed 10 20 30", frame[4:7])
	}
	// First channel-B sample lands reversed at frame[34:37].
	if frame[34] != 0x60 || frame[35] != 0x50 || frame[36] != 0x40 {
		t.Fatalf("channel B region = % x, want reversed 40 50 60", frame[34:37])
	}
}

func TestAuxPermutationAndBattery(t *testing.T) {
	src := &fakeSource{samples: tenIdenticalSamples([3]byte{}, [3]byte{})}
	// battery=0xB1,0xB2; ch1(X)=0x01,0x02; ch2(Y)=0x03,0x04; ch3(Z)=0x05,0x06
	aux := &fakeAux{block: [auxadc.Channels * 2]byte{0xB1, 0xB2, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}
	tx := &fakeTx{}
	a := New(src, aux, tx)
	a.Start(DefaultConfig)
	for i := 0; i < 10; i++ {
		a.Process()
	}
	frame := tx.frames[0]
	auxBlock := frame[auxOffset : auxOffset+auxSize]
	want := []byte{0x05, 0x06, 0x03, 0x04, 0x01, 0x02}
	for i, w := range want {
		if auxBlock[i] != w {
			t.Fatalf("aux[%d] = %#x, want %#x", i, auxBlock[i], w)
		}
	}
	if frame[batteryOffset] != 0xB1 || frame[batteryOffset+1] != 0xB2 {
		t.Fatalf("battery bytes = %#x %#x, want B1 B2", frame[batteryOffset], frame[batteryOffset+1])
	}
}

func TestCounterIncrementsAcrossFrames(t *testing.T) {
	samples := append(tenIdenticalSamples([3]byte{}, [3]byte{}), tenIdenticalSamples([3]byte{}, [3]byte{})...)
	src := &fakeSource{samples: samples}
	aux := &fakeAux{}
	tx := &fakeTx{}
	a := New(src, aux, tx)
	a.Start(DefaultConfig)
	for i := 0; i < 20; i++ {
		a.Process()
	}
	if len(tx.frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(tx.frames))
	}
	c0 := uint16(tx.frames[0][2]) | uint16(tx.frames[0][3])<<8
	c1 := uint16(tx.frames[1][2]) | uint16(tx.frames[1][3])<<8
	if c1 != c0+1 {
		t.Fatalf("counter did not increment: %d -> %d", c0, c1)
	}
}
