package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crabbybot/pkg/agent/profile"
	"crabbybot/pkg/config"
	providertypes "crabbybot/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// Client talks to the OpenAI Responses API. Each chat session is one
// server-side conversation, so nothing is kept in process.
type Client struct {
	api      osdk.Client
	settings config.OpenAIProviderConfig
	log      *slog.Logger

	model        string
	instructions string
	maxTokens    int64
	temperature  float64
}

func New(cfg *config.Config, log *slog.Logger) (*Client, error) {
	settings := cfg.Providers.OpenAI
	apiKey := settings.APIKey()
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model, err := providertypes.OpenAIModel(cfg.Agents.Defaults.Model)
	if err != nil {
		return nil, err
	}

	instructions, err := profile.SystemPrompt(cfg.Agents.Defaults)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	return &Client{
		api:          osdk.NewClient(requestOptions(apiKey, settings)...),
		settings:     settings,
		log:          log.With("component", "provider.openai"),
		model:        model,
		instructions: instructions,
		maxTokens:    int64(max(0, cfg.Agents.Defaults.MaxTokens)),
		temperature:  cfg.Agents.Defaults.Temperature,
	}, nil
}

func requestOptions(apiKey string, settings config.OpenAIProviderConfig) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if v := strings.TrimSpace(settings.BaseURL); v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}
	if v := strings.TrimSpace(settings.Organization); v != "" {
		opts = append(opts, option.WithOrganization(v))
	}
	if v := strings.TrimSpace(settings.Project); v != "" {
		opts = append(opts, option.WithProject(v))
	}
	if timeout := settings.RequestTimeout(); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return opts
}

// Health lists models, which fails fast on a bad key or base URL.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "health")
	if _, err := c.api.Models.List(ctx); err != nil {
		return req.Fail(fmt.Errorf("health check failed: %w", err))
	}
	req.Done()
	return nil
}

// CreateSession opens a conversation. The title is only logged.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "create_session", "title", strings.TrimSpace(title))
	conversation, err := c.api.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", req.Fail(fmt.Errorf("create conversation: %w", err))
	}

	id := ""
	if conversation != nil {
		id = strings.TrimSpace(conversation.ID)
	}
	if id == "" {
		return "", req.Fail(errors.New("create conversation returned an empty id"))
	}

	req.Done("session_id", id)
	return id, nil
}

func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string) (providertypes.PromptResult, error) {
	sessionID, prompt, err := providertypes.PromptInput(sessionID, prompt)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "prompt", "session_id", sessionID, "model", c.model, "prompt_length", len(prompt))
	response, err := c.api.Responses.New(ctx, c.responseParams(sessionID, prompt))
	if err != nil {
		return providertypes.PromptResult{}, req.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		return providertypes.PromptResult{}, req.Fail(providertypes.ErrEmptyReply)
	}
	req.Done("response_length", len(text))

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: "openai",
			Model:    c.model,
			Usage:    responseUsage(response.Usage),
		},
	}, nil
}

func (c *Client) responseParams(sessionID string, prompt string) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: sessionID},
		},
	}
	if c.instructions != "" {
		params.Instructions = osdk.String(c.instructions)
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = osdk.Int(c.maxTokens)
	}
	if c.temperature > 0 {
		params.Temperature = osdk.Float(c.temperature)
	}

	return params
}

func responseUsage(u responses.ResponseUsage) *providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		TotalTokens:     u.TotalTokens,
		ReasoningTokens: u.OutputTokensDetails.ReasoningTokens,
		CacheReadTokens: u.InputTokensDetails.CachedTokens,
	}
	if usage.IsZero() {
		return nil
	}
	return &usage
}
