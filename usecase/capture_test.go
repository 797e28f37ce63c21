package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/internal/audio"
	"github.com/satriahrh/sidechain/internal/ducking"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/queue"
)

func newQueues(n, capacity int) []*queue.Queue[[]byte] {
	qs := make([]*queue.Queue[[]byte], n)
	for i := range qs {
		qs[i] = queue.New[[]byte](capacity)
	}
	return qs
}

func drain(t *testing.T, q *queue.Queue[[]byte]) [][]int16 {
	t.Helper()
	var out [][]int16
	for {
		frame, err := q.Pop(context.Background())
		if err != nil {
			return out
		}
		out = append(out, audio.BytesToInt16(frame))
	}
}

func TestCaptureDucksLocalChannel(t *testing.T) {
	session := newTestSession(2)
	format := session.Format

	// channel 0 local speech, channel 1 loud remote
	source := &fakeSource{format: format, blocks: [][]int16{
		interleavedBlock(format, 3000, 16000),
		interleavedBlock(format, 3000, 16000),
		interleavedBlock(format, 3000, 16000),
	}}

	cfg := ducking.DefaultConfig()
	cfg.AttackFrames = 2
	ducker, err := ducking.NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	queues := newQueues(2, 10)
	capture, err := NewCaptureService(session, source, ducker, queues, metrics.NewMetrics(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewCaptureService failed: %v", err)
	}

	err = capture.Run(context.Background())
	if !errors.Is(err, domain.ErrEndOfStream) {
		t.Fatalf("Expected ErrEndOfStream, got %v", err)
	}

	local := drain(t, queues[0])
	remote := drain(t, queues[1])
	if len(local) != 3 || len(remote) != 3 {
		t.Fatalf("Expected 3 frames per channel, got %d and %d", len(local), len(remote))
	}

	// Block 1 passes, blocks 2 and 3 are ducked
	if local[0][0] != 3000 {
		t.Errorf("Expected first local block untouched, got %d", local[0][0])
	}
	for b := 1; b < 3; b++ {
		for i, s := range local[b] {
			if s != 0 {
				t.Fatalf("Block %d sample %d: expected muted local, got %d", b, i, s)
			}
		}
	}
	for b, frame := range remote {
		if len(frame) != format.BlockSize {
			t.Errorf("Block %d: expected %d samples, got %d", b, format.BlockSize, len(frame))
		}
		if frame[0] != 16000 {
			t.Errorf("Block %d: expected remote untouched, got %d", b, frame[0])
		}
	}

	if !capture.DuckingState().Active {
		t.Error("Expected ducking active in the snapshot")
	}
	if capture.Blocks() != 3 {
		t.Errorf("Expected 3 blocks, got %d", capture.Blocks())
	}
}

func TestCaptureMonoDownmix(t *testing.T) {
	format := entities.DefaultAudioFormat(2)
	session := entities.NewSession("mono", format, true)

	source := &fakeSource{format: format, blocks: [][]int16{interleavedBlock(format, 100, 300)}}
	queues := newQueues(1, 2)

	ducker, _ := ducking.NewProcessor(ducking.DefaultConfig())
	capture, err := NewCaptureService(session, source, ducker, queues, metrics.NewMetrics(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewCaptureService failed: %v", err)
	}
	if capture.DuckingEnabled() {
		t.Error("Expected ducking disabled in mono mode")
	}

	_ = capture.Run(context.Background())

	frames := drain(t, queues[0])
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if len(frames[0]) != format.BlockSize || frames[0][0] != 200 {
		t.Errorf("Expected down-mixed block of 200s, got len %d first %d", len(frames[0]), frames[0][0])
	}
}

func TestCaptureQueueCountMismatch(t *testing.T) {
	session := newTestSession(2)
	_, err := NewCaptureService(session, &fakeSource{}, nil, newQueues(1, 1), metrics.NewMetrics(), zap.NewNop())
	if err == nil {
		t.Error("Expected error for wrong number of queues")
	}
}

func TestCaptureRejectsUnstreamedDuckedChannel(t *testing.T) {
	session := newTestSession(4)

	cfg := ducking.DefaultConfig()
	cfg.LocalChannel = 2
	cfg.RemoteChannel = 3
	ducker, err := ducking.NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	_, err = NewCaptureService(session, &fakeSource{}, ducker, newQueues(2, 1), metrics.NewMetrics(), zap.NewNop())
	if err == nil {
		t.Error("Expected error when the ducked channel is not streamed")
	}

	// Ducking channel 1 against a side-chain on channel 3 is allowed
	cfg.LocalChannel = 1
	ducker, err = ducking.NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	if _, err := NewCaptureService(session, &fakeSource{}, ducker, newQueues(2, 1), metrics.NewMetrics(), zap.NewNop()); err != nil {
		t.Errorf("Expected streamed local channel to be accepted, got %v", err)
	}
}

func TestCaptureSkipsDeadChannel(t *testing.T) {
	session := newTestSession(2)
	format := session.Format
	source := &fakeSource{format: format, blocks: [][]int16{
		interleavedBlock(format, 1, 2),
		interleavedBlock(format, 1, 2),
	}}

	queues := newQueues(2, 1)
	queues[0].Close()

	capture, _ := NewCaptureService(session, source, nil, queues, metrics.NewMetrics(), zap.NewNop())

	// Drain channel 1 so its capacity of 1 never blocks the loop
	received := make(chan int, 1)
	go func() {
		received <- len(drain(t, queues[1]))
	}()

	err := capture.Run(context.Background())
	if !errors.Is(err, domain.ErrEndOfStream) {
		t.Fatalf("Expected ErrEndOfStream, got %v", err)
	}

	select {
	case n := <-received:
		if n != 2 {
			t.Errorf("Expected 2 frames on the live channel, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Live channel was not drained")
	}
}

func TestCaptureAllChannelsDead(t *testing.T) {
	session := newTestSession(2)
	format := session.Format
	source := &fakeSource{format: format, template: interleavedBlock(format, 0, 0)}

	queues := newQueues(2, 1)
	queues[0].Close()
	queues[1].Close()

	capture, _ := NewCaptureService(session, source, nil, queues, metrics.NewMetrics(), zap.NewNop())

	if err := capture.Run(context.Background()); !errors.Is(err, ErrAllChannelsDead) {
		t.Errorf("Expected ErrAllChannelsDead, got %v", err)
	}
}

func TestCaptureDeviceError(t *testing.T) {
	session := newTestSession(2)
	source := &fakeSource{format: session.Format, err: domain.ErrDevice}
	queues := newQueues(2, 1)

	capture, _ := NewCaptureService(session, source, nil, queues, metrics.NewMetrics(), zap.NewNop())

	if err := capture.Run(context.Background()); !errors.Is(err, domain.ErrDevice) {
		t.Errorf("Expected ErrDevice, got %v", err)
	}
	for i, q := range queues {
		if !q.Closed() {
			t.Errorf("Expected queue %d closed after capture exit", i)
		}
	}
}

// A stream whose send blocks fills only its own queue; the other channel's
// worker keeps draining what it was given.
func TestBackPressureIsPerChannel(t *testing.T) {
	session := newTestSession(2)
	format := session.Format
	source := &fakeSource{format: format, template: interleavedBlock(format, 10, 20)}
	m := metrics.NewMetrics()
	logger := zap.NewNop()

	const capacity = 2
	queues := newQueues(2, capacity)
	acc := NewTranscriptAccumulator()

	release := make(chan struct{})
	stuckSTT := &fakeSTT{newStream: func() *fakeStream {
		s := newFakeStream("stuck")
		s.release = release
		return s
	}}
	liveSTT := &fakeSTT{}

	stuck := NewStreamWorker(0, session, stuckSTT, queues[0], &fakeChunks{}, acc, nil, m, logger)
	live := NewStreamWorker(1, session, liveSTT, queues[1], &fakeChunks{}, acc, nil, m, logger)
	capture, _ := NewCaptureService(session, source, nil, queues, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 3)
	go func() { _ = stuck.Run(ctx); done <- struct{}{} }()
	go func() { _ = live.Run(ctx); done <- struct{}{} }()
	go func() { _ = capture.Run(ctx); done <- struct{}{} }()

	if !waitFor(2*time.Second, func() bool { return queues[0].Len() == capacity }) {
		t.Fatalf("Expected the stuck channel's queue to fill to %d, got %d", capacity, queues[0].Len())
	}

	// One frame is held by the blocked send, capacity frames sit in the
	// queue and the capture loop is parked on the next push. Every frame
	// handed to the live channel before that gets through.
	wantLive := int64(capacity + 1)
	if !waitFor(2*time.Second, func() bool {
		return queues[1].Len() == 0 && live.Status().FramesSent == wantLive
	}) {
		t.Errorf("Expected live channel to drain %d frames, sent %d with %d queued",
			wantLive, live.Status().FramesSent, queues[1].Len())
	}

	blocks := capture.Blocks()
	time.Sleep(50 * time.Millisecond)
	if capture.Blocks() != blocks {
		t.Errorf("Expected capture to be blocked by back-pressure, blocks went %d -> %d", blocks, capture.Blocks())
	}
	if blocks != wantLive+1 {
		t.Errorf("Expected %d blocks read, got %d", wantLive+1, blocks)
	}

	cancel()
	close(release)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Pipeline did not shut down")
		}
	}
}

// overrunSource reports one more device overrun on every read
type overrunSource struct {
	*fakeSource
	reads uint64
}

func (s *overrunSource) Read(ctx context.Context) ([]int16, error) {
	block, err := s.fakeSource.Read(ctx)
	if err == nil {
		s.reads++
	}
	return block, err
}

func (s *overrunSource) Overruns() uint64 {
	return s.reads
}

func TestCaptureRecordsDeviceOverruns(t *testing.T) {
	session := newTestSession(1)
	format := session.Format
	source := &overrunSource{fakeSource: &fakeSource{format: format, blocks: [][]int16{
		make([]int16, format.BlockSamples()),
		make([]int16, format.BlockSamples()),
		make([]int16, format.BlockSamples()),
	}, err: domain.ErrEndOfStream}}

	m := metrics.NewMetrics()
	queues := newQueues(1, 10)
	capture, err := NewCaptureService(session, source, nil, queues, m, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCaptureService failed: %v", err)
	}

	if err := capture.Run(context.Background()); !errors.Is(err, domain.ErrEndOfStream) {
		t.Fatalf("Expected ErrEndOfStream, got %v", err)
	}

	if got := testutil.ToFloat64(m.DeviceOverruns); got != 3 {
		t.Errorf("Expected 3 overruns, got %v", got)
	}
}
