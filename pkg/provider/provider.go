package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crabbybot/pkg/config"
	providerfantasy "crabbybot/pkg/provider/fantasy"
	provideropenai "crabbybot/pkg/provider/openai"
	"crabbybot/pkg/provider/opencode"
	providertypes "crabbybot/pkg/provider/types"
)

// Client is one LLM backend. Model and system prompt are fixed when the
// client is built; callers only choose the session.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string) (providertypes.PromptResult, error)
}

// New builds the client named by agents.defaults.provider (opencode by default).
func New(cfg *config.Config, log *slog.Logger) (Client, error) {
	if log == nil {
		log = slog.Default()
	}

	providerID := strings.TrimSpace(cfg.Agents.Defaults.Provider)
	if providerID == "" {
		providerID = "opencode"
	}
	log.Debug("Resolving provider client", "component", "provider.factory", "provider", providerID)

	switch providerID {
	case "opencode":
		return opencode.New(cfg, log)
	case "openai":
		return provideropenai.New(cfg, log)
	case "fantasy":
		return providerfantasy.New(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
