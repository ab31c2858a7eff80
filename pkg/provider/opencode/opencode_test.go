package opencode

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"crabbybot/pkg/config"

	sdk "github.com/sst/opencode-sdk-go"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(&config.Config{}, nil); err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}

func TestNewParsesModelRef(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:4096"
	cfg.Providers.OpenCode.Agent = " build "
	cfg.Agents.Defaults.Model = "anthropic/claude-sonnet"

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if client.providerID != "anthropic" || client.modelID != "claude-sonnet" {
		t.Fatalf("model = %q/%q", client.providerID, client.modelID)
	}

	params := client.promptParams("hello")
	if got := params.Agent.Value; got != "build" {
		t.Fatalf("agent = %q, want build", got)
	}
	if got := params.Model.Value.ModelID.Value; got != "claude-sonnet" {
		t.Fatalf("model id = %q", got)
	}
}

func TestNewRejectsBareModel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:4096"
	cfg.Agents.Defaults.Model = "gpt-5.2"

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for model without provider prefix")
	}
}

func TestPromptValidatesInput(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:1"

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := client.Prompt(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected error for empty session")
	}
	if _, err := client.Prompt(context.Background(), "ses_1", "  "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/global/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if healthy {
			_, _ = w.Write([]byte(`{"healthy":true,"version":"0.9.0"}`))
			return
		}
		_, _ = w.Write([]byte(`{"healthy":false}`))
	}))
	defer server.Close()

	cfg := &config.Config{}
	cfg.Providers.OpenCode.BaseURL = server.URL

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}

	healthy = false
	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy server to fail health check")
	}
}

func TestReplyTextKeepsTextParts(t *testing.T) {
	parts := []sdk.Part{
		{Type: sdk.PartTypeReasoning, Text: "should be ignored"},
		{Type: sdk.PartTypeText, Text: "  first line  "},
		{Type: sdk.PartTypeText, Text: ""},
		{Type: sdk.PartTypeText, Text: "second line"},
	}

	if got := replyText(parts); got != "first line\nsecond line" {
		t.Fatalf("replyText() = %q", got)
	}
}

func TestBasicAuthDefaultsUsername(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD", "secret")

	header, ok := basicAuth(config.OpenCodeProviderConfig{PasswordEnv: "TEST_OPENCODE_PASSWORD"})
	if !ok {
		t.Fatal("expected basic auth header")
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("opencode:secret"))
	if header != want {
		t.Fatalf("header = %q, want %q", header, want)
	}
}

func TestBasicAuthSkippedWithoutPassword(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD_EMPTY", "")

	if _, ok := basicAuth(config.OpenCodeProviderConfig{PasswordEnv: "TEST_OPENCODE_PASSWORD_EMPTY"}); ok {
		t.Fatal("expected no basic auth header")
	}
}

func TestMessageUsageRoundsCounters(t *testing.T) {
	if got := messageUsage(0, 0, 0, 0); got != nil {
		t.Fatalf("usage = %+v, want nil", got)
	}

	got := messageUsage(10.4, 5.6, 1, -3)
	if got == nil {
		t.Fatal("expected usage")
	}
	if got.InputTokens != 10 || got.OutputTokens != 6 || got.TotalTokens != 16 || got.CacheReadTokens != 0 {
		t.Fatalf("usage = %+v", got)
	}
}
