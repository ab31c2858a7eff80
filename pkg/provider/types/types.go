// Package types holds the provider-neutral prompt result shared by every
// provider client and the agent.
package types

// PromptResult is one provider reply.
type PromptResult struct {
	Text     string
	Metadata PromptMetadata
}

// PromptMetadata identifies who answered. Usage is nil when the backend does
// not report token accounting.
type PromptMetadata struct {
	Provider string
	Model    string
	Agent    string
	Usage    *TokenUsage
}

type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	TotalTokens         int64
	ReasoningTokens     int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// Add returns the counter-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:         u.InputTokens + other.InputTokens,
		OutputTokens:        u.OutputTokens + other.OutputTokens,
		TotalTokens:         u.TotalTokens + other.TotalTokens,
		ReasoningTokens:     u.ReasoningTokens + other.ReasoningTokens,
		CacheCreationTokens: u.CacheCreationTokens + other.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens + other.CacheReadTokens,
	}
}
