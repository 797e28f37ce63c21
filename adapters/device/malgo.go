package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/internal/audio"
)

const (
	DefaultReadTimeout = 2 * time.Second

	// callback buffers held between the device thread and Read
	pendingBuffers = 64
)

// MalgoConfig configures the capture device
type MalgoConfig struct {
	// DeviceIndex selects a capture device; negative means the system default
	DeviceIndex int
	// Channels requested from the device; 0 uses the device's native count
	Channels    int
	SampleRate  int
	BlockSize   int
	ReadTimeout time.Duration
}

// MalgoReader reads interleaved 16-bit blocks from a capture device
type MalgoReader struct {
	cfg    MalgoConfig
	logger *zap.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device
	format entities.AudioFormat

	buffers  chan []byte
	stopped  chan struct{}
	stopOnce sync.Once
	overruns atomic.Uint64

	pending []int16
}

// NewMalgoReader creates a reader; the device is opened by Open
func NewMalgoReader(cfg MalgoConfig, logger *zap.Logger) *MalgoReader {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = entities.DefaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = entities.DefaultAudioFormat(1).BlockSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &MalgoReader{
		cfg:     cfg,
		logger:  logger,
		buffers: make(chan []byte, pendingBuffers),
		stopped: make(chan struct{}),
	}
}

// Open initializes the audio backend and starts the capture device
func (r *MalgoReader) Open(ctx context.Context) (entities.AudioFormat, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		r.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return entities.AudioFormat{}, fmt.Errorf("%w: init audio context: %v", domain.ErrDevice, err)
	}
	r.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(r.cfg.Channels)
	deviceConfig.SampleRate = uint32(r.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(r.cfg.BlockSize)

	if r.cfg.DeviceIndex >= 0 {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			r.closeContext()
			return entities.AudioFormat{}, fmt.Errorf("%w: list capture devices: %v", domain.ErrDevice, err)
		}
		if r.cfg.DeviceIndex >= len(infos) {
			r.logger.Warn("Capture device index out of range, using default device",
				zap.Int("deviceIndex", r.cfg.DeviceIndex),
				zap.Int("devices", len(infos)))
		} else {
			info := infos[r.cfg.DeviceIndex]
			deviceConfig.Capture.DeviceID = info.ID.Pointer()
			r.logger.Info("Using capture device",
				zap.Int("deviceIndex", r.cfg.DeviceIndex),
				zap.String("name", info.Name()))
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: r.onData,
		Stop: func() {
			r.stopOnce.Do(func() { close(r.stopped) })
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		r.closeContext()
		return entities.AudioFormat{}, fmt.Errorf("%w: init capture device: %v", domain.ErrDevice, err)
	}
	r.device = device

	r.format = entities.AudioFormat{
		SampleRate: int(device.SampleRate()),
		Channels:   int(device.CaptureChannels()),
		BlockSize:  r.cfg.BlockSize,
	}
	if err := r.format.Validate(); err != nil {
		r.Close()
		return entities.AudioFormat{}, fmt.Errorf("%w: %v", domain.ErrDevice, err)
	}

	if err := device.Start(); err != nil {
		r.Close()
		return entities.AudioFormat{}, fmt.Errorf("%w: start capture device: %v", domain.ErrDevice, err)
	}

	r.logger.Info("Capture device started",
		zap.Int("sampleRate", r.format.SampleRate),
		zap.Int("channels", r.format.Channels),
		zap.Int("blockSize", r.format.BlockSize))

	return r.format, nil
}

// onData runs on the device thread and must not block
func (r *MalgoReader) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	buf := make([]byte, len(input))
	copy(buf, input)

	select {
	case r.buffers <- buf:
	default:
		r.overruns.Add(1)
	}
}

// Read blocks until one full block is available
func (r *MalgoReader) Read(ctx context.Context) ([]int16, error) {
	need := r.format.BlockSamples()
	if need == 0 {
		return nil, fmt.Errorf("%w: device is not open", domain.ErrDevice)
	}

	timer := time.NewTimer(r.cfg.ReadTimeout)
	defer timer.Stop()

	for len(r.pending) < need {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.stopped:
			return nil, fmt.Errorf("%w: capture device stopped", domain.ErrDevice)
		case <-timer.C:
			return nil, fmt.Errorf("%w: no audio for %s", domain.ErrDevice, r.cfg.ReadTimeout)
		case buf := <-r.buffers:
			r.pending = append(r.pending, audio.BytesToInt16(buf)...)
		}
	}

	block := make([]int16, need)
	copy(block, r.pending[:need])
	r.pending = append(r.pending[:0], r.pending[need:]...)
	return block, nil
}

// Overruns returns how many device buffers were dropped because Read fell behind
func (r *MalgoReader) Overruns() uint64 {
	return r.overruns.Load()
}

// Close stops the device and releases the audio backend
func (r *MalgoReader) Close() error {
	if r.device != nil {
		if err := r.device.Stop(); err != nil {
			r.logger.Warn("Failed to stop capture device", zap.Error(err))
		}
		r.device.Uninit()
		r.device = nil
	}
	r.closeContext()
	return nil
}

func (r *MalgoReader) closeContext() {
	if r.mctx == nil {
		return
	}
	if err := r.mctx.Uninit(); err != nil {
		r.logger.Warn("Failed to release audio context", zap.Error(err))
	}
	r.mctx.Free()
	r.mctx = nil
}
