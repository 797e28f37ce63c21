package entities

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is fixed for the capture device and every
	// transcription session.
	DefaultSampleRate = 16000

	// DefaultBlockDuration is the capture cadence.
	DefaultBlockDuration = 100 * time.Millisecond

	// BytesPerSample for signed 16-bit PCM
	BytesPerSample = 2

	// EncodingPCMS16LE is the encoding tag sent to transcription services
	EncodingPCMS16LE = "pcm_s16le"
)

// AudioFormat describes the PCM layout shared by every block of a session.
// It never changes for the lifetime of a session.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BlockSize  int `json:"block_size"` // frames per block
}

// DefaultAudioFormat returns 16 kHz, 100 ms blocks with the given channel count
func DefaultAudioFormat(channels int) AudioFormat {
	if channels < 1 {
		channels = 1
	}
	return AudioFormat{
		SampleRate: DefaultSampleRate,
		Channels:   channels,
		BlockSize:  int(DefaultSampleRate * DefaultBlockDuration / time.Second),
	}
}

// BlockDuration returns the wall-clock length of one block
func (f AudioFormat) BlockDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.BlockSize) * time.Second / time.Duration(f.SampleRate)
}

// BlockSamples returns the number of interleaved samples in one block
func (f AudioFormat) BlockSamples() int {
	return f.BlockSize * f.Channels
}

// ChannelFrameBytes returns the byte length of one channel's block
func (f AudioFormat) ChannelFrameBytes() int {
	return f.BlockSize * BytesPerSample
}

// Validate validates the audio format
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 {
		return fmt.Errorf("channel count must be at least 1, got %d", f.Channels)
	}
	if f.BlockSize <= 0 {
		return errors.New("block size must be positive")
	}
	return nil
}
