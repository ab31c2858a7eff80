package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventPromptReceived  EventType = "prompt_received"
	EventPromptCompleted EventType = "prompt_completed"
	EventPromptFailed    EventType = "prompt_failed"
)

// Event describes one step of the bridge lifecycle for an inbound message.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Channel    string            `json:"channel,omitempty"`
	ChatID     string            `json:"chat_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// eventHub fans events out to buffered subscriber channels. Delivery is
// best effort: a full subscriber buffer drops the event.
type eventHub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[uint64]chan Event)}
}

func (h *eventHub) publish(event Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}

	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return true
}

func (h *eventHub) subscribe(buffer int) (uint64, chan Event) {
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return 0, ch
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	return id, ch
}

func (h *eventHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// PublishEvent fans event out to every event subscriber without blocking.
// It reports false once the bus is closed or ctx is done.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	return mb.events.publish(event)
}

// SubscribeEvents registers a buffered event stream. The channel is closed on
// unsubscribe, when ctx is done, or when the bus is closed.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = mb.capacity
	}

	id, ch := mb.events.subscribe(buffer)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { mb.events.unsubscribe(id) })
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
		}
	}()

	return ch, unsubscribe
}
