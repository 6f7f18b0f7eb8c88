package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"

	"github.com/tatianab/silver-tongue/internal/models"
)

const continueNudge = "(continue)"

var tracer = otel.Tracer("github.com/tatianab/silver-tongue/internal/llm")

// Gemini is a Backend that talks to the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	retry  RetryPolicy
	logger *slog.Logger
	send   func(ctx context.Context, req Request) (string, error)
}

// NewGemini creates a Gemini backend for the given model.
func NewGemini(ctx context.Context, apiKey, model string, retry RetryPolicy, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("llm: gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: creating gemini client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Gemini{
		client: client,
		model:  model,
		retry:  retry,
		logger: logger,
	}
	g.send = g.sendOnce
	return g, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// GenerateResponse implements Backend.
func (g *Gemini) GenerateResponse(ctx context.Context, req Request) Response {
	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.String("llm.label", req.Label),
		attribute.String("llm.effort", string(req.ThinkingEffort)),
		attribute.Int("llm.history_len", len(req.History)),
	)

	content, attempts, err := withRetry(ctx, g.retry, g.logger, func(ctx context.Context) (string, error) {
		return g.send(ctx, req)
	})
	span.SetAttributes(attribute.Int("llm.attempts", attempts), attribute.Bool("llm.success", err == nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("llm: generation failed", "label", req.Label, "attempts", attempts, "err", err)
		if attempts > g.retry.MaxRetries && IsRetryable(err) {
			return Failed(fmt.Sprintf("%v (max retries exceeded)", err))
		}
		return Failed(err.Error())
	}
	return Response{Success: true, Content: content}
}

// tokenBudget maps thinking effort onto an output budget; this SDK exposes no
// native thinking level.
func tokenBudget(effort models.ThinkingEffort) int32 {
	switch effort {
	case models.EffortHigh:
		return 2048
	case models.EffortMedium:
		return 1024
	default:
		return 512
	}
}

func (g *Gemini) sendOnce(ctx context.Context, req Request) (string, error) {
	// A fresh model per request keeps concurrent calls from sharing config.
	model := g.client.GenerativeModel(g.model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}
	model.SetTemperature(1.0)
	model.SetMaxOutputTokens(tokenBudget(req.ThinkingEffort))

	history, last := splitHistory(req.History)
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content returned from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}
	return strings.TrimSpace(sb.String()), nil
}

// splitHistory returns the chat history and the final user message to send.
// Gemini requires the sent message to come from the user.
func splitHistory(msgs []Message) ([]*genai.Content, string) {
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleUser {
		msgs = append(append([]Message(nil), msgs...), Message{Role: RoleUser, Content: continueNudge})
	}
	history := make([]*genai.Content, 0, len(msgs)-1)
	for _, m := range msgs[:len(msgs)-1] {
		role := m.Role
		if role != RoleModel {
			role = RoleUser
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, msgs[len(msgs)-1].Content
}
