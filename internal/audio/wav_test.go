package audio

import (
	"encoding/binary"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := []int16{1, -1, 2, -2, 3, -3, 4, -4}

	data, err := EncodeWAV(samples, 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", 44+len(samples)*2, len(data))
	}

	wav, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if wav.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", wav.SampleRate)
	}

	if wav.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", wav.Channels)
	}

	if wav.Frames() != 4 {
		t.Errorf("Expected 4 frames, got %d", wav.Frames())
	}

	for i := range samples {
		if wav.Samples[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], wav.Samples[i])
		}
	}
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	data, err := EncodeWAV([]int16{7, 8}, 8000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Insert a LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 0, 0, 0, 0, 'a', 'b', 'c'}
	binary.LittleEndian.PutUint32(list[4:], 3)
	list = append(list, 0) // pad byte
	withList := append(append(append([]byte{}, data[:36]...), list...), data[36:]...)

	wav, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if len(wav.Samples) != 2 || wav.Samples[0] != 7 || wav.Samples[1] != 8 {
		t.Errorf("Expected samples [7 8], got %v", wav.Samples)
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	valid, _ := EncodeWAV([]int16{1, 2}, 16000, 1)

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not wave", append([]byte("RIFX"), valid[4:]...)},
		{"eight bit", eightBit},
		{"no data chunk", valid[:36]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]int16{1, 2, 3}, 16000, 2); err == nil {
		t.Error("Expected error for odd sample count in stereo")
	}
}
