package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crabbybot/pkg/provider"
	providertypes "crabbybot/pkg/provider/types"
)

const defaultTranscriptLimit = 50

// Agent is the processing stage behind the gateway bridge. It lazily opens
// one provider session per session key and keeps a bounded local transcript
// of each.
type Agent struct {
	client          provider.Client
	log             *slog.Logger
	transcriptLimit int

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id        string
	history   *transcript
	startedAt time.Time
	usage     providertypes.TokenUsage
}

// SessionStats summarizes one conversation for status replies.
type SessionStats struct {
	ProviderSessionID string
	StartedAt         time.Time
	Entries           int
	Usage             providertypes.TokenUsage
}

type Option func(*Agent)

// WithTranscriptLimit bounds the local transcript kept per session. A
// non-positive limit keeps the default.
func WithTranscriptLimit(limit int) Option {
	return func(a *Agent) {
		if limit > 0 {
			a.transcriptLimit = limit
		}
	}
}

func New(client provider.Client, log *slog.Logger, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, errors.New("provider client is required")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &Agent{
		client:          client,
		log:             log.With("component", "agent"),
		transcriptLimit: defaultTranscriptLimit,
		sessions:        make(map[string]*session),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Process sends content to the provider session bound to sessionKey and
// returns the reply text.
func (a *Agent) Process(ctx context.Context, content string, sessionKey string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("prompt cannot be empty")
	}

	s, err := a.sessionFor(ctx, sessionKey)
	if err != nil {
		return "", err
	}

	startedAt := time.Now()
	result, err := a.client.Prompt(ctx, s.id, content)
	if err != nil {
		return "", err
	}

	s.history.record(content, result.Text)
	if usage := result.Metadata.Usage; usage != nil {
		a.mu.Lock()
		s.usage = s.usage.Add(*usage)
		a.mu.Unlock()
	}

	a.log.Debug("Prompt completed",
		"session_key", sessionKey,
		"session_id", s.id,
		"model", result.Metadata.Model,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	return result.Text, nil
}

// ResetSession forgets the provider session for sessionKey; the next message
// starts a fresh one. It reports whether a session existed.
func (a *Agent) ResetSession(sessionKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[sessionKey]; !ok {
		return false
	}
	delete(a.sessions, sessionKey)
	a.log.Info("Session reset", "session_key", sessionKey)

	return true
}

// SessionStats reports the conversation bound to sessionKey, if any.
func (a *Agent) SessionStats(sessionKey string) (SessionStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[sessionKey]
	if !ok {
		return SessionStats{}, false
	}

	return SessionStats{
		ProviderSessionID: s.id,
		StartedAt:         s.startedAt,
		Entries:           s.history.size(),
		Usage:             s.usage,
	}, true
}

// Transcript returns the recent exchanges of sessionKey, oldest first.
func (a *Agent) Transcript(sessionKey string) []TranscriptEntry {
	a.mu.Lock()
	s, ok := a.sessions[sessionKey]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	return s.history.snapshot()
}

// Health checks the provider backend.
func (a *Agent) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

func (a *Agent) sessionFor(ctx context.Context, sessionKey string) (*session, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionKey]
	a.mu.Unlock()
	if ok {
		return s, nil
	}

	sessionID, err := a.client.CreateSession(ctx, "crabbybot:"+sessionKey)
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", sessionKey, err)
	}

	s = &session{
		id:        sessionID,
		history:   newTranscript(a.transcriptLimit),
		startedAt: time.Now().UTC(),
	}

	a.mu.Lock()
	a.sessions[sessionKey] = s
	a.mu.Unlock()

	a.log.Info("Session started", "session_key", sessionKey, "session_id", sessionID)
	return s, nil
}
