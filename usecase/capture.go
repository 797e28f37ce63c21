package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
	"github.com/satriahrh/sidechain/internal/audio"
	"github.com/satriahrh/sidechain/internal/ducking"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/queue"
)

// ErrAllChannelsDead is returned by the capture loop once every channel's
// worker has stopped and no frame can be delivered anywhere.
var ErrAllChannelsDead = errors.New("all channel workers have stopped")

// CaptureService is the capture loop: read a block, split it, duck the local
// channel and hand one frame per channel to that channel's queue.
type CaptureService struct {
	session *entities.Session
	source  repositories.AudioSource
	ducker  *ducking.Processor
	queues  []*queue.Queue[[]byte]
	metrics *metrics.Metrics
	logger  *zap.Logger

	dead     []bool
	overruns uint64

	mu      sync.RWMutex
	ducking ducking.State
	blocks  int64
}

// NewCaptureService creates the capture loop. queues[i] feeds
// session.StreamChannels()[i]. ducker may be nil to disable ducking; it is
// ignored in mono sessions.
func NewCaptureService(
	session *entities.Session,
	source repositories.AudioSource,
	ducker *ducking.Processor,
	queues []*queue.Queue[[]byte],
	m *metrics.Metrics,
	logger *zap.Logger,
) (*CaptureService, error) {
	channels := session.StreamChannels()
	if len(queues) != len(channels) {
		return nil, fmt.Errorf("expected %d channel queues, got %d", len(channels), len(queues))
	}

	if session.Mono {
		ducker = nil
	}
	if ducker != nil {
		cfg := ducker.Config()
		if cfg.LocalChannel >= session.Format.Channels || cfg.RemoteChannel >= session.Format.Channels {
			return nil, fmt.Errorf("ducking channels %d/%d out of range for %d device channels",
				cfg.LocalChannel, cfg.RemoteChannel, session.Format.Channels)
		}
		if !slices.Contains(channels, cfg.LocalChannel) {
			return nil, fmt.Errorf("ducked channel %d is not transcribed; streamed channels are %v",
				cfg.LocalChannel, channels)
		}
	}

	return &CaptureService{
		session: session,
		source:  source,
		ducker:  ducker,
		queues:  queues,
		metrics: m,
		logger:  logger,
		dead:    make([]bool, len(queues)),
	}, nil
}

// Run reads blocks until ctx is cancelled or the source fails. Every queue
// is closed on return so the workers wake up and shut down.
func (c *CaptureService) Run(ctx context.Context) error {
	defer func() {
		for _, q := range c.queues {
			q.Close()
		}
	}()

	c.logger.Info("Capture loop started",
		zap.Int("sampleRate", c.session.Format.SampleRate),
		zap.Int("deviceChannels", c.session.Format.Channels),
		zap.Int("blockSize", c.session.Format.BlockSize),
		zap.Bool("mono", c.session.Mono),
		zap.Bool("ducking", c.ducker != nil))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		block, err := c.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.metrics.RecordBlock()
		c.recordOverruns()
		c.mu.Lock()
		c.blocks++
		c.mu.Unlock()

		frames := c.Process(block)
		if err := c.dispatch(ctx, frames); err != nil {
			return err
		}
	}
}

// OverrunCounter is implemented by sources that can lose audio when the
// capture loop falls behind the device
type OverrunCounter interface {
	Overruns() uint64
}

func (c *CaptureService) recordOverruns() {
	oc, ok := c.source.(OverrunCounter)
	if !ok {
		return
	}
	total := oc.Overruns()
	if total > c.overruns {
		c.logger.Warn("Device overrun, audio lost", zap.Uint64("overruns", total))
		c.metrics.RecordOverruns(int(total - c.overruns))
		c.overruns = total
	}
}

// Process turns one interleaved block into one sample slice per stream
// channel, ducking the local channel in place when configured.
func (c *CaptureService) Process(block []int16) [][]int16 {
	format := c.session.Format

	if c.session.Mono {
		return [][]int16{audio.Downmix(block, format.Channels)}
	}

	channels := audio.Deinterleave(block, format.Channels)

	if c.ducker != nil {
		cfg := c.ducker.Config()
		prev := c.ducker.State()
		state := c.ducker.Process(channels[cfg.LocalChannel], channels[cfg.RemoteChannel])

		changed := prev.Active != state.Active
		if changed {
			c.logger.Debug("Ducking state changed",
				zap.Bool("active", state.Active),
				zap.Float64("emaLevelDB", state.EMALevelDB))
		}
		c.metrics.RecordDucking(state.Active, changed, state.EMALevelDB)

		c.mu.Lock()
		c.ducking = state
		c.mu.Unlock()
	}

	streams := c.session.StreamChannels()
	out := make([][]int16, len(streams))
	for i, ch := range streams {
		out[i] = channels[ch]
	}
	return out
}

// dispatch pushes a fresh byte buffer to every live queue. A full queue
// blocks the loop; a closed queue marks its channel dead and is skipped.
func (c *CaptureService) dispatch(ctx context.Context, frames [][]int16) error {
	streams := c.session.StreamChannels()
	alive := 0

	for i, q := range c.queues {
		channelID := streams[i]
		if c.dead[i] {
			c.metrics.RecordFrameDropped(channelID)
			continue
		}

		// Ownership of the buffer passes to the worker on push
		if err := q.Push(ctx, audio.Int16ToBytes(frames[i])); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				c.dead[i] = true
				c.metrics.RecordFrameDropped(channelID)
				c.logger.Warn("Channel worker stopped, dropping its frames", zap.Int("channel", channelID))
				continue
			}
			return err
		}

		alive++
		c.metrics.SetQueueDepth(channelID, q.Len())
	}

	if alive == 0 {
		return ErrAllChannelsDead
	}
	return nil
}

// DuckingState returns the ducking state after the last block
func (c *CaptureService) DuckingState() ducking.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ducking
}

// Blocks returns the number of blocks read so far
func (c *CaptureService) Blocks() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks
}

// DuckingEnabled reports whether the local channel is being ducked
func (c *CaptureService) DuckingEnabled() bool {
	return c.ducker != nil
}

// QueueDepths returns the current depth of each channel queue
func (c *CaptureService) QueueDepths() []int {
	depths := make([]int, len(c.queues))
	for i, q := range c.queues {
		depths[i] = q.Len()
	}
	return depths
}
