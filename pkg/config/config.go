package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envConfigPath        = "CRABBYBOT_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envDiscordBotToken   = "DISCORD_BOT_TOKEN"
	envDiscordAllowFrom  = "DISCORD_ALLOW_FROM"
)

const (
	defaultBusCapacity       = 32
	defaultDispatchTimeout   = 10 * time.Second
	defaultHeartbeatInterval = time.Hour
	defaultStreamReconnect   = 5 * time.Second
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Bus       BusConfig       `json:"bus"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Stream    StreamConfig    `json:"stream"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	// File receives log output instead of stderr. The terminal UI needs this
	// to keep logs off the screen.
	File      string `json:"file,omitempty"`
}

// AgentsConfig contains agent runtime defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults describes the model and prompt settings of the processing agent.
type AgentDefaults struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	HistoryLimit int     `json:"history_limit,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	Agent                 string `json:"agent,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client. The fantasy
// provider reuses it.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// APIKey reads the key from APIKeyEnv, falling back to OPENAI_API_KEY.
func (c OpenAIProviderConfig) APIKey() string {
	return firstEnv(c.APIKeyEnv, "OPENAI_API_KEY")
}

func (c OpenAIProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(max(0, c.RequestTimeoutSeconds)) * time.Second
}

func (c OpenCodeProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(max(0, c.RequestTimeoutSeconds)) * time.Second
}

// Password reads the basic auth password from PasswordEnv. It is empty when
// no variable is configured.
func (c OpenCodeProviderConfig) Password() string {
	return firstEnv(c.PasswordEnv)
}

func firstEnv(names ...string) string {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowFrom      []string `json:"allow_from"`
	SendIntervalMS int      `json:"send_interval_ms,omitempty"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowFrom      []string `json:"allow_from"`
	SendIntervalMS int      `json:"send_interval_ms,omitempty"`
}

// BusConfig sizes the message bus queues.
type BusConfig struct {
	Capacity               int `json:"capacity"`
	DispatchTimeoutSeconds int `json:"dispatch_timeout_seconds"`
}

// HeartbeatConfig controls the periodic system message.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalSeconds int    `json:"interval"`
	Message         string `json:"message"`
	Channel         string `json:"channel"`
	ChatID          string `json:"chat_id"`
}

// StreamConfig configures the websocket notification feed started by /stream.
type StreamConfig struct {
	URL              string          `json:"url"`
	Subscribe        json.RawMessage `json:"subscribe,omitempty"`
	ReconnectSeconds int             `json:"reconnect_seconds,omitempty"`
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// QueueCapacity returns the configured queue size or the default.
func (c BusConfig) QueueCapacity() int {
	if c.Capacity <= 0 {
		return defaultBusCapacity
	}

	return c.Capacity
}

// DispatchTimeout returns the per-subscriber delivery timeout.
func (c BusConfig) DispatchTimeout() time.Duration {
	if c.DispatchTimeoutSeconds <= 0 {
		return defaultDispatchTimeout
	}

	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// Interval returns the time between heartbeats.
func (c HeartbeatConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return defaultHeartbeatInterval
	}

	return time.Duration(c.IntervalSeconds) * time.Second
}

// ReconnectDelay returns the pause between websocket reconnect attempts.
func (c StreamConfig) ReconnectDelay() time.Duration {
	if c.ReconnectSeconds <= 0 {
		return defaultStreamReconnect
	}

	return time.Duration(c.ReconnectSeconds) * time.Second
}

// SendInterval converts send_interval_ms to a pacing interval.
func SendInterval(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}

	return time.Duration(ms) * time.Millisecond
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// loadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("load .env: %w", err)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if token := strings.TrimSpace(os.Getenv(envDiscordBotToken)); token != "" {
		cfg.Channels.Discord.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envDiscordAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Discord.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CRABBYBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
