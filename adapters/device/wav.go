package device

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/internal/audio"
)

// WAVReader replays a 16-bit PCM WAV file block by block. With Realtime set
// each Read waits for the block's wall-clock slot, like a device would.
type WAVReader struct {
	path      string
	blockSize int
	realtime  bool
	logger    *zap.Logger

	wav    *audio.WAV
	format entities.AudioFormat
	offset int
	start  time.Time
	blocks int
}

// NewWAVReader creates a replay reader. blockSize <= 0 uses 100 ms blocks.
func NewWAVReader(path string, blockSize int, realtime bool, logger *zap.Logger) *WAVReader {
	return &WAVReader{
		path:      path,
		blockSize: blockSize,
		realtime:  realtime,
		logger:    logger,
	}
}

// Open loads and decodes the file
func (r *WAVReader) Open(ctx context.Context) (entities.AudioFormat, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return entities.AudioFormat{}, fmt.Errorf("%w: %v", domain.ErrDevice, err)
	}

	wav, err := audio.DecodeWAV(data)
	if err != nil {
		return entities.AudioFormat{}, fmt.Errorf("%w: %s: %v", domain.ErrDevice, r.path, err)
	}
	r.wav = wav

	blockSize := r.blockSize
	if blockSize <= 0 {
		blockSize = wav.SampleRate * int(entities.DefaultBlockDuration/time.Millisecond) / 1000
	}
	r.format = entities.AudioFormat{
		SampleRate: wav.SampleRate,
		Channels:   wav.Channels,
		BlockSize:  blockSize,
	}
	if err := r.format.Validate(); err != nil {
		return entities.AudioFormat{}, fmt.Errorf("%w: %v", domain.ErrDevice, err)
	}

	r.logger.Info("Replaying WAV file",
		zap.String("path", r.path),
		zap.Int("sampleRate", wav.SampleRate),
		zap.Int("channels", wav.Channels),
		zap.Int("frames", wav.Frames()),
		zap.Bool("realtime", r.realtime))

	return r.format, nil
}

// Read returns the next block, zero-padding the last one. It returns
// domain.ErrEndOfStream once the file is exhausted.
func (r *WAVReader) Read(ctx context.Context) ([]int16, error) {
	if r.wav == nil {
		return nil, fmt.Errorf("%w: reader is not open", domain.ErrDevice)
	}
	if r.offset >= len(r.wav.Samples) {
		return nil, domain.ErrEndOfStream
	}

	if r.realtime {
		if r.start.IsZero() {
			r.start = time.Now()
		}
		due := r.start.Add(time.Duration(r.blocks) * r.format.BlockDuration())
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	block := make([]int16, r.format.BlockSamples())
	n := copy(block, r.wav.Samples[r.offset:])
	r.offset += n
	r.blocks++
	return block, nil
}

// Close releases the decoded samples
func (r *WAVReader) Close() error {
	r.wav = nil
	return nil
}
