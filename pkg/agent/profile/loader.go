// Package profile resolves the system prompt sent to providers that do not
// carry their own agent definition.
package profile

import (
	"embed"
	"fmt"
	"strings"

	"crabbybot/pkg/config"
)

const (
	defaultProfileName = "default"
	providerOpenCode   = "opencode"
)

//go:embed templates/*.md
var templatesFS embed.FS

// SystemPrompt returns the configured system prompt, or the bundled default
// profile when none is set. opencode selects its behavior through the
// configured opencode agent, so it gets no prompt unless one is configured.
func SystemPrompt(defaults config.AgentDefaults) (string, error) {
	if prompt := strings.TrimSpace(defaults.SystemPrompt); prompt != "" {
		return prompt, nil
	}

	provider := strings.TrimSpace(defaults.Provider)
	if provider == "" || strings.EqualFold(provider, providerOpenCode) {
		return "", nil
	}

	return load(defaultProfileName)
}

func load(name string) (string, error) {
	content, err := templatesFS.ReadFile(templatePath(name))
	if err != nil {
		return "", fmt.Errorf("load %s profile template: %w", name, err)
	}

	profile := strings.TrimSpace(string(content))
	if profile == "" {
		return "", fmt.Errorf("profile template %q is empty", name)
	}

	return profile, nil
}

func templatePath(name string) string {
	return "templates/" + strings.TrimSpace(name) + ".md"
}
