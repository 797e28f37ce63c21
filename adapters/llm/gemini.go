package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/sidechain/domain"
)

const (
	DefaultModel = "gemini-2.0-flash"

	maxAttempts = 3
)

// GeminiConfig configures the in-process dispatcher
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// GeminiDispatcher asks Gemini directly for the next interview question,
// standing in for the HTTP backend when no backend URL is configured.
type GeminiDispatcher struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *zap.Logger
}

// NewGeminiDispatcher creates a new Gemini dispatcher
func NewGeminiDispatcher(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiDispatcher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiDispatcher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Dispatch implements repositories.Dispatcher
func (g *GeminiDispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(BuildPrompt(req), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.cfg.Temperature),
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrDispatch, ctx.Err())
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", domain.ErrDispatch, err)
	}

	text := responseText(response)
	if text == "" {
		return nil, fmt.Errorf("%w: gemini returned no content", domain.ErrDispatch)
	}

	return &domain.DispatchResponse{
		Reply:     ExtractQuestion(text),
		Type:      string(domain.LiveEventLLMResponse),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// BuildPrompt renders the follow-up question prompt for a transcript and
// the questions asked so far
func BuildPrompt(req domain.DispatchRequest) string {
	var b strings.Builder
	b.WriteString("Based on our interview transcript and current list of interview questions, ")
	b.WriteString("suggest 1 additional question to ask the candidate. ")
	b.WriteString("It must not repeat a question already on the list. ")
	b.WriteString("Answer with a single line in this exact format:\n")
	b.WriteString("QUESTION: \"<your question>\"\n\n")
	b.WriteString("Transcript: ")
	b.WriteString(strings.TrimSpace(req.Transcript))
	b.WriteString("\n\nQuestions:\n")
	b.WriteString(strings.Join(req.Questions, "\n"))
	return b.String()
}

var questionLine = regexp.MustCompile(`(?i)QUESTION:\s*"?([^"\n]+)"?`)

// ExtractQuestion pulls the question out of a QUESTION: "..." reply, or
// returns the trimmed text when the model ignored the format
func ExtractQuestion(text string) string {
	if m := questionLine.FindStringSubmatch(text); m != nil {
		if q := strings.TrimSpace(m[1]); q != "" {
			return q
		}
	}
	return strings.TrimSpace(text)
}
