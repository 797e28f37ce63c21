package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/internal/auth"
)

const (
	DefaultURL     = "http://localhost:5001/from-python"
	DefaultTimeout = 10 * time.Second

	tokenTTL     = 5 * time.Minute
	maxErrorBody = 512
)

// Config configures the HTTP dispatcher
type Config struct {
	URL     string
	Timeout time.Duration
	// JWTSecret signs a bearer token on every request when set
	JWTSecret string
	SessionID string
}

// HTTPDispatcher posts accumulated transcript text to the backend
type HTTPDispatcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPDispatcher creates a new HTTP dispatcher
func NewHTTPDispatcher(cfg Config, logger *zap.Logger) *HTTPDispatcher {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Dispatch implements repositories.Dispatcher
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error) {
	if req.Questions == nil {
		req.Questions = []string{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", domain.ErrDispatch, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", domain.ErrDispatch, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if d.cfg.JWTSecret != "" {
		token, err := auth.GenerateToken([]byte(d.cfg.JWTSecret), d.cfg.SessionID, auth.RoleCapture, tokenTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to sign token: %v", domain.ErrDispatch, err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", domain.ErrDispatch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: backend returned %d: %s", domain.ErrDispatch, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out domain.DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrDispatch, err)
	}
	if strings.TrimSpace(out.Reply) == "" {
		return nil, fmt.Errorf("%w: response has no reply", domain.ErrDispatch)
	}

	d.logger.Info("Backend replied",
		zap.String("type", out.Type),
		zap.Int("replyLength", len(out.Reply)))

	return &out, nil
}
