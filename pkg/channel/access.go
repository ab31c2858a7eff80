package channel

import "strings"

// AllowList gates inbound senders by user id. An empty list admits everyone.
type AllowList map[string]struct{}

// NewAllowList normalizes allow_from values into a lookup set.
func NewAllowList(ids []string) AllowList {
	allowed := make(AllowList, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// Allowed reports whether userID may talk to the bot.
func (a AllowList) Allowed(userID string) bool {
	if len(a) == 0 {
		return true
	}

	_, ok := a[strings.TrimSpace(userID)]
	return ok
}
