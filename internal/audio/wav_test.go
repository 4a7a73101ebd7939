package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}
	b := EncodeWAV(samples, 16000, 1)

	if len(b) != 44+len(samples)*2 {
		t.Fatalf("wav length = %d, want %d", len(b), 44+len(samples)*2)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", b[0:4], b[8:12])
	}
	if string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		t.Fatal("missing fmt/data chunks")
	}
	if got := binary.LittleEndian.Uint16(b[20:22]); got != 1 {
		t.Fatalf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(b[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(b[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(b[34:36]); got != 16 {
		t.Fatalf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(b[40:44]); got != uint32(len(samples)*2) {
		t.Fatalf("data size = %d, want %d", got, len(samples)*2)
	}

	// samples are little-endian in order
	if got := int16(binary.LittleEndian.Uint16(b[46:48])); got != 100 {
		t.Fatalf("sample[1] = %d, want 100", got)
	}
}

func TestSegmentWAVAndDuration(t *testing.T) {
	seg := Segment{
		PCM:        make([]int16, 16000),
		SampleRate: 16000,
		Channels:   1,
	}
	if got := seg.Duration().Seconds(); got != 1.0 {
		t.Fatalf("Duration = %v, want 1s", got)
	}
	if b := seg.WAV(); len(b) != 44+16000*2 {
		t.Fatalf("WAV size = %d", len(b))
	}
}
