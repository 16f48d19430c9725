package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := EncodeWAVPCM16LE(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
	if string(wav[44:]) != string(pcm) {
		t.Fatalf("payload bytes not preserved")
	}
}

func TestEncodeWAVPCM16LEDefaultsSampleRate(t *testing.T) {
	wav := EncodeWAVPCM16LE(nil, 0)
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000 default", rate)
	}
}

func TestDecodePCM16LE(t *testing.T) {
	// -32768, 0, 32767 little-endian.
	pcm := []byte{0x00, 0x80, 0x00, 0x00, 0xFF, 0x7F}
	samples := DecodePCM16LE(pcm)
	if len(samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(samples))
	}
	if samples[0] != -1.0 {
		t.Fatalf("samples[0] = %v, want -1.0", samples[0])
	}
	if samples[1] != 0 {
		t.Fatalf("samples[1] = %v, want 0", samples[1])
	}
	if samples[2] < 0.999 || samples[2] > 1.0 {
		t.Fatalf("samples[2] = %v, want just under 1.0", samples[2])
	}
}

func TestDecodePCM16LEIgnoresTrailingByte(t *testing.T) {
	if got := len(DecodePCM16LE([]byte{0x00, 0x00, 0x7F})); got != 1 {
		t.Fatalf("samples = %d, want 1", got)
	}
}
