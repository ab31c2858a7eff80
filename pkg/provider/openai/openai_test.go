package openai

import (
	"testing"

	"crabbybot/pkg/config"

	"github.com/openai/openai-go/v3/responses"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Agents.Defaults.Model = "openai/gpt-5.2"
	return cfg
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(testConfig(), nil); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewRequiresModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	if _, err := New(&config.Config{}, nil); err == nil {
		t.Fatal("expected error when model is missing")
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	cfg := testConfig()
	cfg.Providers.OpenAI.APIKeyEnv = "TEST_OPENAI_API_KEY"

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.model != "gpt-5.2" {
		t.Fatalf("model = %q, want gpt-5.2", client.model)
	}
}

func TestNewFallsBackToDefaultAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "")

	cfg := testConfig()
	cfg.Providers.OpenAI.APIKeyEnv = "TEST_OPENAI_API_KEY"

	if _, err := New(cfg, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestResponseParamsCarryAgentDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := testConfig()
	cfg.Agents.Defaults.SystemPrompt = " You are a crab. "
	cfg.Agents.Defaults.MaxTokens = 512
	cfg.Agents.Defaults.Temperature = 0.4

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	params := client.responseParams("conv_1", "hello")
	if params.Model != "gpt-5.2" {
		t.Fatalf("model = %q", params.Model)
	}
	if got := params.Instructions.Value; got != "You are a crab." {
		t.Fatalf("instructions = %q", got)
	}
	if got := params.MaxOutputTokens.Value; got != 512 {
		t.Fatalf("max output tokens = %d", got)
	}
	if params.Conversation.OfConversationObject == nil || params.Conversation.OfConversationObject.ID != "conv_1" {
		t.Fatal("expected conversation id to be set")
	}
}

func TestNewRejectsForeignModelProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := testConfig()
	cfg.Agents.Defaults.Model = "anthropic/claude"

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for non-openai model")
	}
}

func TestRequestOptionsFollowSettings(t *testing.T) {
	base := requestOptions("sk-test", config.OpenAIProviderConfig{})

	extended := requestOptions("sk-test", config.OpenAIProviderConfig{
		BaseURL:               "http://127.0.0.1:9999/v1",
		Organization:          "org_1",
		Project:               " ",
		RequestTimeoutSeconds: 30,
	})
	if len(extended) != len(base)+3 {
		t.Fatalf("options = %d, want %d", len(extended), len(base)+3)
	}
}

func TestResponseUsageOmitsEmptyCounters(t *testing.T) {
	if got := responseUsage(responses.ResponseUsage{}); got != nil {
		t.Fatalf("usage = %+v, want nil", got)
	}

	got := responseUsage(responses.ResponseUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7})
	if got == nil || got.TotalTokens != 7 {
		t.Fatalf("usage = %+v", got)
	}
}
