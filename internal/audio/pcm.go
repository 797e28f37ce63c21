// Package audio holds the PCM helpers used on the capture path: channel
// splitting, down-mixing, byte encoding, level metering and WAV files.
package audio

import (
	"encoding/binary"
	"fmt"
)

// Deinterleave splits an interleaved buffer into one sample slice per
// channel. A buffer whose length is not a multiple of channels is a
// programming error and panics.
func Deinterleave(buf []int16, channels int) [][]int16 {
	if channels < 1 {
		panic(fmt.Sprintf("audio: invalid channel count %d", channels))
	}
	if len(buf)%channels != 0 {
		panic(fmt.Sprintf("audio: buffer length %d is not a multiple of %d channels", len(buf), channels))
	}

	frames := len(buf) / channels
	out := make([][]int16, channels)
	for ch := range out {
		out[ch] = make([]int16, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = buf[base+ch]
		}
	}
	return out
}

// Interleave is the inverse of Deinterleave. All channels must have the
// same length.
func Interleave(channels [][]int16) []int16 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]int16, frames*len(channels))
	for ch, samples := range channels {
		if len(samples) != frames {
			panic("audio: channels have different lengths")
		}
		for i, s := range samples {
			out[i*len(channels)+ch] = s
		}
	}
	return out
}

// Downmix averages all channels of an interleaved buffer into one
func Downmix(buf []int16, channels int) []int16 {
	if channels == 1 {
		out := make([]int16, len(buf))
		copy(out, buf)
		return out
	}
	if channels < 1 || len(buf)%channels != 0 {
		panic(fmt.Sprintf("audio: cannot downmix %d samples over %d channels", len(buf), channels))
	}

	frames := len(buf) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(buf[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian signed 16-bit PCM. The
// returned slice is freshly allocated so it can be handed off to another
// goroutine.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian signed 16-bit PCM. A trailing odd
// byte is ignored.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
