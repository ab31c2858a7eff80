package agent

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	providertypes "crabbybot/pkg/provider/types"
)

type fakeProviderClient struct {
	mu sync.Mutex

	healthErr error
	createErr error
	promptErr error
	usage     *providertypes.TokenUsage

	createCalls int
	promptCalls int
	titles      []string

	lastSessionID string
	lastPrompt    string
}

func (f *fakeProviderClient) Health(context.Context) error {
	return f.healthErr
}

func (f *fakeProviderClient) CreateSession(_ context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	f.titles = append(f.titles, title)
	if f.createErr != nil {
		return "", f.createErr
	}
	return "session-" + strconv.Itoa(f.createCalls), nil
}

func (f *fakeProviderClient) Prompt(_ context.Context, sessionID string, prompt string) (providertypes.PromptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.promptCalls++
	f.lastSessionID = sessionID
	f.lastPrompt = prompt
	if f.promptErr != nil {
		return providertypes.PromptResult{}, f.promptErr
	}

	return providertypes.PromptResult{
		Text:     "echo: " + prompt,
		Metadata: providertypes.PromptMetadata{Model: "test-model", Usage: f.usage},
	}, nil
}

func newTestAgent(t *testing.T, client *fakeProviderClient, opts ...Option) *Agent {
	t.Helper()

	a, err := New(client, nil, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return a
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestProcessReusesSessionPerKey(t *testing.T) {
	client := &fakeProviderClient{}
	a := newTestAgent(t, client)
	ctx := context.Background()

	reply, err := a.Process(ctx, " hello ", "telegram:1")
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if reply != "echo: hello" {
		t.Fatalf("reply = %q", reply)
	}

	if _, err := a.Process(ctx, "again", "telegram:1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if _, err := a.Process(ctx, "other chat", "discord:9"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	if client.createCalls != 2 {
		t.Fatalf("create calls = %d, want 2", client.createCalls)
	}
	if client.titles[0] != "crabbybot:telegram:1" || client.titles[1] != "crabbybot:discord:9" {
		t.Fatalf("titles = %q", client.titles)
	}
	if client.lastSessionID != "session-2" {
		t.Fatalf("last session = %q, want session-2", client.lastSessionID)
	}

	stats, ok := a.SessionStats("telegram:1")
	if !ok || stats.Entries != 4 || stats.ProviderSessionID != "session-1" {
		t.Fatalf("stats = %+v, ok = %v", stats, ok)
	}
}

func TestProcessRejectsEmptyPrompt(t *testing.T) {
	client := &fakeProviderClient{}
	a := newTestAgent(t, client)

	if _, err := a.Process(context.Background(), "   ", "cli:local"); err == nil {
		t.Fatal("expected error for empty prompt")
	}
	if client.createCalls != 0 {
		t.Fatal("empty prompt must not open a session")
	}
}

func TestProcessPropagatesProviderErrors(t *testing.T) {
	client := &fakeProviderClient{promptErr: errors.New("429 rate_limit exceeded")}
	a := newTestAgent(t, client)

	_, err := a.Process(context.Background(), "hello", "cli:local")
	if err == nil || err.Error() != "429 rate_limit exceeded" {
		t.Fatalf("err = %v", err)
	}
	if got := a.Transcript("cli:local"); len(got) != 0 {
		t.Fatalf("transcript = %#v, want empty after failure", got)
	}

	client.createErr = errors.New("unreachable")
	if _, err := a.Process(context.Background(), "hello", "cli:other"); err == nil {
		t.Fatal("expected session start error")
	}
}

func TestResetSessionStartsFresh(t *testing.T) {
	client := &fakeProviderClient{}
	a := newTestAgent(t, client)
	ctx := context.Background()

	if a.ResetSession("cli:local") {
		t.Fatal("reset of unknown session reported true")
	}

	if _, err := a.Process(ctx, "one", "cli:local"); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !a.ResetSession("cli:local") {
		t.Fatal("expected reset to report an existing session")
	}
	if _, err := a.Process(ctx, "two", "cli:local"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	if client.lastSessionID != "session-2" {
		t.Fatalf("session after reset = %q, want session-2", client.lastSessionID)
	}
}

func TestProcessAccumulatesUsage(t *testing.T) {
	client := &fakeProviderClient{usage: &providertypes.TokenUsage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8}}
	a := newTestAgent(t, client, WithTranscriptLimit(2))

	for range 2 {
		if _, err := a.Process(context.Background(), "hi", "cli:local"); err != nil {
			t.Fatalf("Process error: %v", err)
		}
	}

	stats, _ := a.SessionStats("cli:local")
	if stats.Usage.TotalTokens != 16 {
		t.Fatalf("total tokens = %d, want 16", stats.Usage.TotalTokens)
	}
	if stats.Entries != 2 {
		t.Fatalf("entries = %d, want transcript limit 2", stats.Entries)
	}
}
