package fantasy

import (
	"slices"
	"strconv"
	"sync"

	core "charm.land/fantasy"
)

// history keeps the last limit messages of every open session. A limit of
// zero keeps everything.
type history struct {
	mu       sync.Mutex
	limit    int
	next     uint64
	sessions map[string][]core.Message
}

func newHistory(limit int) *history {
	return &history{limit: max(0, limit), sessions: make(map[string][]core.Message)}
}

func (h *history) open() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := "fantasy-session-" + strconv.FormatUint(h.next, 10)
	h.sessions[id] = nil
	return id
}

// messages returns a copy of the session's turns.
func (h *history) messages(id string) ([]core.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(stored), true
}

func (h *history) record(id string, turn ...core.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, ok := h.sessions[id]
	if !ok {
		return
	}

	stored = append(stored, turn...)
	if h.limit > 0 && len(stored) > h.limit {
		stored = slices.Clone(stored[len(stored)-h.limit:])
	}
	h.sessions[id] = stored
}
