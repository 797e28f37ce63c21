package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
)

const (
	// AssemblyAIEndpoint is the v3 realtime streaming endpoint
	AssemblyAIEndpoint = "wss://streaming.assemblyai.com/v3/ws"

	assemblyAIHandshakeTimeout   = 10 * time.Second
	assemblyAIWriteTimeout       = 5 * time.Second
	assemblyAITerminationTimeout = 3 * time.Second
)

// AssemblyAI message types
const (
	assemblyAIBegin       = "Begin"
	assemblyAITurn        = "Turn"
	assemblyAITermination = "Termination"
	assemblyAITerminate   = "Terminate"
)

// AssemblyAIConfig configures the realtime client
type AssemblyAIConfig struct {
	APIKey   string
	Endpoint string // defaults to AssemblyAIEndpoint
	// FormatTurns asks the service for punctuated, cased finals. A turn
	// only counts as final once its formatted version arrives.
	FormatTurns bool
}

// AssemblyAISpeechToText implements SpeechToText against AssemblyAI's
// realtime websocket API
type AssemblyAISpeechToText struct {
	cfg    AssemblyAIConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewAssemblyAISpeechToText creates a new AssemblyAI client
func NewAssemblyAISpeechToText(cfg AssemblyAIConfig, logger *zap.Logger) *AssemblyAISpeechToText {
	if cfg.Endpoint == "" {
		cfg.Endpoint = AssemblyAIEndpoint
	}
	return &AssemblyAISpeechToText{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: assemblyAIHandshakeTimeout,
		},
		logger: logger,
	}
}

// assemblyAIMessage covers every server message we care about
type assemblyAIMessage struct {
	Type string `json:"type"`

	// Begin
	ID        string `json:"id,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`

	// Turn
	TurnOrder       int    `json:"turn_order,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	EndOfTurn       bool   `json:"end_of_turn,omitempty"`
	TurnIsFormatted bool   `json:"turn_is_formatted,omitempty"`

	// Termination
	AudioDurationSeconds float64 `json:"audio_duration_seconds,omitempty"`

	Error string `json:"error,omitempty"`
}

// InitTranscribeStreaming dials the service and waits for the Begin message
func (a *AssemblyAISpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	endpoint, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", domain.ErrConnection, err)
	}

	encoding := config.Encoding
	if encoding == "" {
		encoding = entities.EncodingPCMS16LE
	}

	query := endpoint.Query()
	query.Set("sample_rate", strconv.Itoa(config.SampleRate))
	query.Set("encoding", encoding)
	query.Set("format_turns", strconv.FormatBool(a.cfg.FormatTurns))
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", a.cfg.APIKey)

	conn, resp, err := a.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: assemblyai dial failed with status %d: %v", domain.ErrConnection, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: assemblyai dial failed: %v", domain.ErrConnection, err)
	}

	// The first message must be Begin; anything else is a rejection
	conn.SetReadDeadline(time.Now().Add(assemblyAIHandshakeTimeout))
	var begin assemblyAIMessage
	if err := conn.ReadJSON(&begin); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: waiting for session begin: %v", domain.ErrConnection, err)
	}
	if begin.Type != assemblyAIBegin {
		conn.Close()
		return nil, fmt.Errorf("%w: expected Begin, got %q %s", domain.ErrConnection, begin.Type, begin.Error)
	}
	conn.SetReadDeadline(time.Time{})

	a.logger.Info("AssemblyAI session opened",
		zap.String("providerSessionID", begin.ID),
		zap.Int("sampleRate", config.SampleRate))

	stream := &AssemblyAIStream{
		conn:        conn,
		sessionID:   begin.ID,
		formatTurns: a.cfg.FormatTurns,
		events:      make(chan entities.TranscriptEvent, 64),
		done:        make(chan struct{}),
		logger:      a.logger.With(zap.String("providerSessionID", begin.ID)),
	}
	go stream.readLoop()

	return stream, nil
}

// AssemblyAIStream is one open realtime session
type AssemblyAIStream struct {
	conn        *websocket.Conn
	sessionID   string
	formatTurns bool
	events      chan entities.TranscriptEvent
	done        chan struct{}
	logger      *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	err     error
	closing bool

	closeOnce sync.Once
	closeErr  error
}

// SessionID returns the id assigned by AssemblyAI
func (s *AssemblyAIStream) SessionID() string {
	return s.sessionID
}

// Events returns the transcript events channel
func (s *AssemblyAIStream) Events() <-chan entities.TranscriptEvent {
	return s.events
}

// Err returns the error that ended the session, if any
func (s *AssemblyAIStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stream sends one PCM chunk as a binary frame
func (s *AssemblyAIStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	select {
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return errors.New("session already terminated")
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(assemblyAIWriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Close asks the service to terminate, waits briefly for the remaining
// turns and the Termination message, then closes the connection
func (s *AssemblyAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(assemblyAIWriteTimeout))
		err := s.conn.WriteJSON(map[string]string{"type": assemblyAITerminate})
		s.writeMu.Unlock()

		if err == nil {
			select {
			case <-s.done:
			case <-time.After(assemblyAITerminationTimeout):
				s.logger.Warn("Timed out waiting for AssemblyAI termination")
			}
		}

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *AssemblyAIStream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		var msg assemblyAIMessage
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(fmt.Errorf("read failed: %w", err))
			}
			return
		}

		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Failed to parse AssemblyAI message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case assemblyAITurn:
			final := msg.EndOfTurn && (!s.formatTurns || msg.TurnIsFormatted)
			s.events <- entities.TranscriptEvent{
				Text:              msg.Transcript,
				IsFinal:           final,
				Timestamp:         time.Now(),
				ProviderSessionID: s.sessionID,
			}
		case assemblyAITermination:
			s.logger.Info("AssemblyAI session terminated",
				zap.Float64("audioDurationSeconds", msg.AudioDurationSeconds))
			return
		case assemblyAIBegin:
		default:
			if msg.Error != "" {
				s.setErr(errors.New(msg.Error))
				return
			}
			s.logger.Debug("Ignoring AssemblyAI message", zap.String("type", msg.Type))
		}
	}
}

func (s *AssemblyAIStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
