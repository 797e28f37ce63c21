package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
)

const (
	googleDefaultLanguage = "en-US"
	googleDrainTimeout    = 3 * time.Second
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	logger *zap.Logger
}

// NewGoogleSpeechToText creates a Google Cloud Speech client factory.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	// Create Google Cloud Speech client
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create speech client: %v", domain.ErrConnection, err)
	}

	// The call outlives ctx; Close half-closes it so results in flight at
	// shutdown are still received
	stream, err := client.StreamingRecognize(context.WithoutCancel(ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to create streaming recognize: %v", domain.ErrConnection, err)
	}

	// Convert encoding string to Google Speech API enum
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, err
	}

	language := config.Language
	if language == "" {
		language = googleDefaultLanguage
	}

	// Continuous recognition: interim results feed the live view, and the
	// stream stays open across utterances
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("%w: failed to send streaming config: %v", domain.ErrConnection, err)
	}

	streamInstance := &GoogleSpeechToTextStream{
		id:     uuid.NewString(),
		client: client,
		stream: stream,
		ctx:    ctx,
		events: make(chan entities.TranscriptEvent, 64),
		done:   make(chan struct{}),
		logger: g.logger,
	}
	go streamInstance.receiveResults()

	return streamInstance, nil
}

// GoogleSpeechToTextStream is one open StreamingRecognize call. Google does
// not hand out a session id, so a local one is generated for diagnostics.
type GoogleSpeechToTextStream struct {
	id     string
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	events chan entities.TranscriptEvent
	done   chan struct{}
	logger *zap.Logger

	mu      sync.Mutex
	err     error
	closing bool

	closeOnce sync.Once
	closeErr  error
}

func (g *GoogleSpeechToTextStream) SessionID() string {
	return g.id
}

func (g *GoogleSpeechToTextStream) Events() <-chan entities.TranscriptEvent {
	return g.events
}

func (g *GoogleSpeechToTextStream) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	// Send audio data to Google
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}

	return nil
}

// Close half-closes the stream so Google flushes its last results, waits
// for them briefly and releases the client
func (g *GoogleSpeechToTextStream) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closing = true
		g.mu.Unlock()

		if err := g.stream.CloseSend(); err != nil {
			g.logger.Warn("Failed to close send stream", zap.Error(err))
		}

		select {
		case <-g.done:
		case <-time.After(googleDrainTimeout):
			g.logger.Warn("Timed out waiting for final Google results")
		}

		if g.client != nil {
			g.closeErr = g.client.Close()
		}
	})
	return g.closeErr
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.done)
	defer close(g.events)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			// Stream ended normally
			return
		}
		if err != nil {
			g.mu.Lock()
			closing := g.closing
			g.mu.Unlock()
			if !closing && g.ctx.Err() == nil {
				g.mu.Lock()
				g.err = fmt.Errorf("failed to receive response: %w", err)
				g.mu.Unlock()
			}
			return
		}

		if resp.Error != nil {
			g.mu.Lock()
			g.err = errors.New(resp.Error.GetMessage())
			g.mu.Unlock()
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			// Take the best alternative
			g.events <- entities.TranscriptEvent{
				Text:              result.Alternatives[0].Transcript,
				IsFinal:           result.IsFinal,
				Timestamp:         time.Now(),
				ProviderSessionID: g.id,
			}
		}
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case entities.EncodingPCMS16LE, "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
