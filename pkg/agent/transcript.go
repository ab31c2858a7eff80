package agent

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TranscriptEntry struct {
	Role    Role
	Content string
	At      time.Time
}

// transcript is the local record of one chat session. Once it holds more
// than limit entries the oldest are dropped; a non-positive limit keeps all.
type transcript struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries []TranscriptEntry
}

func newTranscript(limit int) *transcript {
	return &transcript{limit: limit, now: time.Now}
}

// record stores one completed exchange. Both entries share a timestamp so a
// turn is never split by a concurrent reader.
func (t *transcript) record(prompt string, reply string) {
	at := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries,
		TranscriptEntry{Role: RoleUser, Content: prompt, At: at},
		TranscriptEntry{Role: RoleAssistant, Content: reply, At: at},
	)
	if over := len(t.entries) - t.limit; t.limit > 0 && over > 0 {
		t.entries = append([]TranscriptEntry(nil), t.entries[over:]...)
	}
}

func (t *transcript) snapshot() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return nil
	}
	return append([]TranscriptEntry(nil), t.entries...)
}

func (t *transcript) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}
