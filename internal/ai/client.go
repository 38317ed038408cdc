// Package ai implements reply drafting with Google's Gemini API. It turns
// conversation history into a suggested outbound reply with a confidence
// score the responder uses for its auto-send decision.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/database"
)

// ErrQuotaExceeded reports that the AI provider rejected the request for
// quota reasons. Surfaced distinctly so the caller can back off or notify
// the tenant instead of silently dropping the conversation.
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// Draft is a generated reply suggestion.
type Draft struct {
	Body       string
	Confidence float64
}

// Client defines the drafting interface used by the responder.
type Client interface {
	// GenerateDraft produces a reply for the conversation history. The last
	// entry of history is the message being answered.
	GenerateDraft(ctx context.Context, instruction string, history []*database.Message) (*Draft, error)
}

type sdkClient struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	model         string
	temperature   float32
	maxRetries    int
	retryDelay    time.Duration
	defaultPrompt string
}

// NewClient creates a new Gemini draft client with the provided
// configuration.
func NewClient(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "ai_client")
	logger.Info("AI client initialized", "model", cfg.Model)
	return &sdkClient{
		genaiClient:   gi,
		log:           logger,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		defaultPrompt: cfg.DefaultInstruction,
	}, nil
}

func formatMessageForAI(m *database.Message) string {
	role := "customer"
	if m.Direction == database.DirectionOutbound {
		role = "agent"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("2006-01-02 15:04:05"), role, m.Body)
}

func (c *sdkClient) GenerateDraft(ctx context.Context, instruction string, history []*database.Message) (*Draft, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("cannot draft a reply without history")
	}

	if instruction == "" {
		instruction = c.defaultPrompt
	}

	var contents []*genai.Content
	for _, m := range history {
		role := genai.RoleUser
		if m.Direction == database.DirectionOutbound {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: formatMessageForAI(m)}},
		})
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:       &c.temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: instruction}}},
	}

	resp, err := c.generateContentWithRetries(ctx, contents, genCfg)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	body := strings.TrimSpace(candidate.Content.Parts[0].Text)
	if body == "" {
		return nil, fmt.Errorf("gemini returned an empty draft")
	}

	return &Draft{
		Body:       body,
		Confidence: confidenceFromLogprobs(candidate.AvgLogprobs),
	}, nil
}

// confidenceFromLogprobs maps the candidate's average token log probability
// to (0, 1]. A zero value (field absent) yields a neutral 0.5.
func confidenceFromLogprobs(avgLogprobs float64) float64 {
	if avgLogprobs == 0 {
		return 0.5
	}
	return math.Exp(avgLogprobs)
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Code == 429 {
				c.log.WarnContext(ctx, "Gemini quota exceeded", "error", err)
				return nil, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
			}
			if apiErr.Code == 500 || apiErr.Code == 503 {
				if i < c.maxRetries {
					c.log.InfoContext(ctx, "Retrying Gemini call after retriable APIError",
						"attempt", i+1, "max_retries", c.maxRetries, "code", apiErr.Code, "delay", c.retryDelay)
					select {
					case <-time.After(c.retryDelay):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					continue
				}
				c.log.ErrorContext(ctx, "Gemini call failed after max retries", "error", err, "code", apiErr.Code)
				return nil, fmt.Errorf("gemini call failed after %d retries (code %d): %w", c.maxRetries, apiErr.Code, err)
			}
		}

		c.log.ErrorContext(ctx, "Gemini call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}
	return nil, err
}
