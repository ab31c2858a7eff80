package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"crabbybot/pkg/agent/profile"
	"crabbybot/pkg/config"
	providertypes "crabbybot/pkg/provider/types"
)

type modelSource interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)

// Client runs prompts through a fantasy agent over an OpenAI language model.
// Unlike the openai client, conversation history lives in this process.
type Client struct {
	models   modelSource
	modelID  string
	settings config.OpenAIProviderConfig
	log      *slog.Logger

	systemPrompt    string
	maxOutputTokens *int64
	temperature     *float64

	generate generateFunc
	history  *history
}

func New(cfg *config.Config, log *slog.Logger) (*Client, error) {
	settings := cfg.Providers.OpenAI
	apiKey := settings.APIKey()
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	modelID, err := providertypes.OpenAIModel(cfg.Agents.Defaults.Model)
	if err != nil {
		return nil, err
	}

	models, err := provideropenai.New(providerOptions(apiKey, settings)...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	systemPrompt, err := profile.SystemPrompt(cfg.Agents.Defaults)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	client := &Client{
		models:       models,
		modelID:      modelID,
		settings:     settings,
		log:          log.With("component", "provider.fantasy"),
		systemPrompt: systemPrompt,
		generate:     generateWithAgent,
		history:      newHistory(cfg.Agents.Defaults.HistoryLimit),
	}

	defaults := cfg.Agents.Defaults
	if defaults.MaxTokens > 0 {
		tokens := int64(defaults.MaxTokens)
		client.maxOutputTokens = &tokens
	}
	if defaults.Temperature > 0 {
		temperature := defaults.Temperature
		client.temperature = &temperature
	}

	return client, nil
}

func providerOptions(apiKey string, settings config.OpenAIProviderConfig) []provideropenai.Option {
	opts := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if v := strings.TrimSpace(settings.BaseURL); v != "" {
		opts = append(opts, provideropenai.WithBaseURL(v))
	}
	if v := strings.TrimSpace(settings.Organization); v != "" {
		opts = append(opts, provideropenai.WithOrganization(v))
	}
	if v := strings.TrimSpace(settings.Project); v != "" {
		opts = append(opts, provideropenai.WithProject(v))
	}
	return opts
}

// Health resolves the configured model.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "health", "model", c.modelID)
	if _, err := c.models.LanguageModel(ctx, c.modelID); err != nil {
		return req.Fail(fmt.Errorf("health check failed: %w", err))
	}
	req.Done()
	return nil
}

// CreateSession allocates an empty history. The title is only logged.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := c.history.open()
	c.log.Debug("Session created", "session_id", id, "title", strings.TrimSpace(title))
	return id, nil
}

func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string) (providertypes.PromptResult, error) {
	sessionID, prompt, err := providertypes.PromptInput(sessionID, prompt)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	past, ok := c.history.messages(sessionID)
	if !ok {
		return providertypes.PromptResult{}, fmt.Errorf("session %q is not started", sessionID)
	}

	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "prompt", "session_id", sessionID, "model", c.modelID, "history", len(past))
	model, err := c.models.LanguageModel(ctx, c.modelID)
	if err != nil {
		return providertypes.PromptResult{}, req.Fail(fmt.Errorf("resolve language model: %w", err))
	}

	result, err := c.generate(ctx, model, c.agentCall(prompt, past))
	if err != nil {
		return providertypes.PromptResult{}, req.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := replyText(result.Response.Content)
	if text == "" {
		return providertypes.PromptResult{}, req.Fail(providertypes.ErrEmptyReply)
	}
	req.Done("response_length", len(text))

	// Failed turns never reach the history.
	c.history.record(sessionID, core.NewUserMessage(prompt), core.Message{
		Role:    core.MessageRoleAssistant,
		Content: []core.MessagePart{core.TextPart{Text: text}},
	})

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: "openai",
			Model:    c.modelID,
			Usage:    agentUsage(result.TotalUsage),
		},
	}, nil
}

// agentCall puts the system prompt ahead of the stored turns. It is never
// stored itself.
func (c *Client) agentCall(prompt string, past []core.Message) core.AgentCall {
	messages := past
	if c.systemPrompt != "" {
		messages = make([]core.Message, 0, len(past)+1)
		messages = append(messages, core.Message{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: c.systemPrompt}},
		})
		messages = append(messages, past...)
	}

	return core.AgentCall{
		Prompt:          prompt,
		Messages:        messages,
		MaxOutputTokens: c.maxOutputTokens,
		Temperature:     c.temperature,
	}
}

func agentUsage(u core.Usage) *providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		TotalTokens:         u.TotalTokens,
		ReasoningTokens:     u.ReasoningTokens,
		CacheCreationTokens: u.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens,
	}
	if usage.IsZero() {
		return nil
	}
	return &usage
}

func replyText(content core.ResponseContent) string {
	texts := make([]string, 0, len(content))
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}
		if text, ok := core.AsContentType[core.TextContent](part); ok {
			texts = append(texts, text.Text)
		}
	}
	return providertypes.JoinLines(texts)
}

func generateWithAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	return core.NewAgent(model).Generate(ctx, call)
}
