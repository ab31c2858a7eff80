package types

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrPromptRequired  = errors.New("prompt is required")
	ErrEmptyReply      = errors.New("provider returned no text")
)

// PromptInput trims both values and rejects empty ones.
func PromptInput(sessionID string, prompt string) (string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", ErrSessionRequired
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", "", ErrPromptRequired
	}
	return sessionID, prompt, nil
}

// Request times one provider call and logs how it ended at debug level.
type Request struct {
	log     *slog.Logger
	started time.Time
}

func StartRequest(log *slog.Logger, operation string, attrs ...any) Request {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("operation", operation)
	log.Debug("Provider request started", attrs...)

	return Request{log: log, started: time.Now()}
}

// Fail logs err and hands it back so callers can return it directly.
func (r Request) Fail(err error) error {
	r.log.Debug("Provider request failed", "duration_ms", r.elapsed(), "error", err)
	return err
}

func (r Request) Done(attrs ...any) {
	r.log.Debug("Provider request completed", append([]any{"duration_ms", r.elapsed()}, attrs...)...)
}

func (r Request) elapsed() int64 {
	return time.Since(r.started).Milliseconds()
}

// WithTimeout bounds ctx by d. A non-positive d leaves ctx as is.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// SplitModelRef splits "provider/model". Both halves must be non-empty.
func SplitModelRef(ref string) (providerID string, modelID string, ok bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(ref), "/")
	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if !found || providerID == "" || modelID == "" {
		return "", "", false
	}
	return providerID, modelID, true
}

// OpenAIModel accepts "gpt-5.2" or "openai/gpt-5.2" and returns the bare id.
func OpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("agents.defaults.model is required")
	}
	if !strings.Contains(model, "/") {
		return model, nil
	}

	providerID, modelID, ok := SplitModelRef(model)
	if !ok {
		return "", fmt.Errorf("model %q is invalid", model)
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not served by the openai api", providerID)
	}
	return modelID, nil
}

// JoinLines trims each non-empty text and joins them with newlines.
func JoinLines(texts []string) string {
	lines := make([]string, 0, len(texts))
	for _, text := range texts {
		if text = strings.TrimSpace(text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}
