package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestHelloMatchesSpecExample(t *testing.T) {
	want := []byte{0xAA, 0x5A, 0x06, 0xAB, 0x55, 0x55}
	got := Hello()
	if !bytes.Equal(got, want) {
		t.Fatalf("Hello() = % x, want % x", got, want)
	}
}

func TestStartRecordingMatchesSpecExample(t *testing.T) {
	want := []byte{0xAA, 0x5A, 0x08, 0xA8, 0x01, 0x01, 0xCC, 0x55}
	got := StartRecording([]byte{0x01, 0x01})
	if !bytes.Equal(got, want) {
		t.Fatalf("StartRecording() = % x, want % x", got, want)
	}
}

func TestScannerReadsReply(t *testing.T) {
	reply := []byte{0xAA, 0xA5, 0x05, 0xA0, 0x55}
	s := NewScanner(bufio.NewReader(bytes.NewReader(reply)))
	kind, buf, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if kind != KindReply {
		t.Fatalf("kind = %v, want %v", kind, KindReply)
	}
	if !bytes.Equal(buf, reply) {
		t.Fatalf("buf = % x, want % x", buf, reply)
	}
}

func TestScannerReadsEchoedCommand(t *testing.T) {
	echoed := []byte{0xAA, 0x5A, 0x08, 0xA8, 0x01, 0x01, 0xCC, 0x55}
	s := NewScanner(bufio.NewReader(bytes.NewReader(echoed)))
	kind, buf, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if kind != KindEchoedCommand {
		t.Fatalf("kind = %v, want %v", kind, KindEchoedCommand)
	}
	if !bytes.Equal(buf, echoed) {
		t.Fatalf("buf = % x, want % x", buf, echoed)
	}
}

func buildFrame(counter uint16) []byte {
	buf := make([]byte, FrameSize)
	buf[0], buf[1] = FrameStart, FrameStart
	buf[2] = byte(counter)
	buf[3] = byte(counter >> 8)
	for i := 0; i < 10; i++ {
		src := []byte{byte(i), byte(i + 1), byte(i + 2)}
		reverseInto(buf[4+i*3:4+i*3+3], src)
		reverseInto(buf[34+i*3:34+i*3+3], src)
	}
	buf[64], buf[65] = 0x01, 0x00 // AxisZ = 1
	buf[66], buf[67] = 0x02, 0x00 // AxisY = 2
	buf[68], buf[69] = 0x03, 0x00 // AxisX = 3
	buf[70], buf[71] = 0x04, 0x00 // Battery = 4
	buf[FrameSize-1] = FrameStop
	return buf
}

func TestScannerAndDecodeFrameRoundTrip(t *testing.T) {
	frame := buildFrame(42)
	s := NewScanner(bufio.NewReader(bytes.NewReader(frame)))
	kind, buf, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if kind != KindFrame {
		t.Fatalf("kind = %v, want %v", kind, KindFrame)
	}

	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Counter != 42 {
		t.Fatalf("Counter = %d, want 42", f.Counter)
	}
	if f.AxisZ != 1 || f.AxisY != 2 || f.AxisX != 3 || f.Battery != 4 {
		t.Fatalf("aux fields = %d,%d,%d,%d, want 1,2,3,4", f.AxisZ, f.AxisY, f.AxisX, f.Battery)
	}
	wantChannelA0 := [3]byte{0, 1, 2} // un-reversed back to original sample order
	if f.ChannelA[0] != wantChannelA0 {
		t.Fatalf("ChannelA[0] = %v, want %v", f.ChannelA[0], wantChannelA0)
	}
}

func TestScannerResyncsPastMalformedFrame(t *testing.T) {
	var buf bytes.Buffer
	bad := buildFrame(1)
	bad[FrameSize-1] = 0x00 // corrupt trailer, same total length
	buf.Write(bad)
	good := Hello()
	buf.Write(good)

	s := NewScanner(bufio.NewReader(&buf))
	kind, got, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if kind != KindEchoedCommand {
		t.Fatalf("kind = %v after resync, want %v", kind, KindEchoedCommand)
	}
	if !bytes.Equal(got, good) {
		t.Fatalf("resynced read = % x, want % x", got, good)
	}
}

func TestDecodeFrameRejectsBadTrailer(t *testing.T) {
	frame := buildFrame(1)
	frame[FrameSize-1] = 0x00
	if _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected an error for a bad trailer")
	}
}
