package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"crabbybot/pkg/config"
	providertypes "crabbybot/pkg/provider/types"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
)

const defaultUsername = "opencode"

// Client drives an opencode server, which owns session history and tool use.
type Client struct {
	api      *sdk.Client
	settings config.OpenCodeProviderConfig
	log      *slog.Logger

	agent      string
	providerID string
	modelID    string
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func New(cfg *config.Config, log *slog.Logger) (*Client, error) {
	settings := cfg.Providers.OpenCode
	baseURL := strings.TrimSpace(settings.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if header, ok := basicAuth(settings); ok {
		opts = append(opts, option.WithHeader("Authorization", header))
	}

	if log == nil {
		log = slog.Default()
	}

	client := &Client{
		api:      sdk.NewClient(opts...),
		settings: settings,
		log:      log.With("component", "provider.opencode"),
		agent:    strings.TrimSpace(settings.Agent),
	}

	// An empty model lets the server pick its default.
	if model := strings.TrimSpace(cfg.Agents.Defaults.Model); model != "" {
		providerID, modelID, ok := providertypes.SplitModelRef(model)
		if !ok {
			return nil, fmt.Errorf("agents.defaults.model %q must be provider/model for opencode", model)
		}
		client.providerID, client.modelID = providerID, modelID
	}

	return client, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "health")
	var status healthResponse
	if err := c.api.Get(ctx, "/global/health", nil, &status); err != nil {
		return req.Fail(fmt.Errorf("health check failed: %w", err))
	}
	if !status.Healthy {
		return req.Fail(errors.New("opencode server reported unhealthy status"))
	}

	req.Done("version", status.Version)
	return nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	title = strings.TrimSpace(title)
	req := providertypes.StartRequest(c.log, "create_session", "title", title)

	params := sdk.SessionNewParams{}
	if title != "" {
		params.Title = sdk.F(title)
	}

	session, err := c.api.Session.New(ctx, params)
	if err != nil {
		return "", req.Fail(fmt.Errorf("create session: %w", err))
	}
	if session.ID == "" {
		return "", req.Fail(errors.New("create session returned an empty id"))
	}

	req.Done("session_id", session.ID)
	return session.ID, nil
}

func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string) (providertypes.PromptResult, error) {
	sessionID, prompt, err := providertypes.PromptInput(sessionID, prompt)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	ctx, cancel := providertypes.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	req := providertypes.StartRequest(c.log, "prompt",
		"session_id", sessionID,
		"model", c.providerID+"/"+c.modelID,
		"agent", c.agent,
		"prompt_length", len(prompt),
	)

	response, err := c.api.Session.Prompt(ctx, sessionID, c.promptParams(prompt))
	if err != nil {
		return providertypes.PromptResult{}, req.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := replyText(response.Parts)
	if text == "" {
		return providertypes.PromptResult{}, req.Fail(providertypes.ErrEmptyReply)
	}
	req.Done("response_length", len(text), "parts_count", len(response.Parts))

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: strings.TrimSpace(response.Info.ProviderID),
			Model:    strings.TrimSpace(response.Info.ModelID),
			Agent:    c.agent,
			Usage:    messageUsage(
				response.Info.Tokens.Input,
				response.Info.Tokens.Output,
				response.Info.Tokens.Reasoning,
				response.Info.Tokens.Cache.Read,
			),
		},
	}, nil
}

func (c *Client) promptParams(prompt string) sdk.SessionPromptParams {
	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(prompt),
			},
		}),
	}

	if c.agent != "" {
		params.Agent = sdk.F(c.agent)
	}
	if c.providerID != "" && c.modelID != "" {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(c.providerID),
			ModelID:    sdk.F(c.modelID),
		})
	}

	return params
}

// basicAuth builds the Authorization header when a password is configured.
func basicAuth(settings config.OpenCodeProviderConfig) (string, bool) {
	password := settings.Password()
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(settings.Username)
	if username == "" {
		username = defaultUsername
	}

	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), true
}

func replyText(parts []sdk.Part) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == sdk.PartTypeText {
			texts = append(texts, part.Text)
		}
	}
	return providertypes.JoinLines(texts)
}

func messageUsage(input, output, reasoning, cacheRead float64) *providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:     tokenCount(input),
		OutputTokens:    tokenCount(output),
		ReasoningTokens: tokenCount(reasoning),
		CacheReadTokens: tokenCount(cacheRead),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if usage.IsZero() {
		return nil
	}
	return &usage
}

// tokenCount rounds the server's float counters.
func tokenCount(value float64) int64 {
	if value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}
