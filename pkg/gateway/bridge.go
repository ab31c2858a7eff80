package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"crabbybot/pkg/agent"
	"crabbybot/pkg/bus"

	"github.com/google/uuid"
)

// Processor turns one inbound message into a reply. Calls are never
// concurrent.
type Processor interface {
	Process(ctx context.Context, content string, sessionKey string) (string, error)
}

// SessionResetter is implemented by processors that keep per-session state.
type SessionResetter interface {
	ResetSession(sessionKey string) bool
}

// SessionReporter is implemented by processors that can summarize a session.
type SessionReporter interface {
	SessionStats(sessionKey string) (agent.SessionStats, bool)
}

// StreamReporter reports the chat the notification stream currently feeds.
type StreamReporter interface {
	Active() (bus.StreamControl, bool)
}

// Publisher is the part of the message bus the bridge writes to.
type Publisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
	PublishInternal(ctx context.Context, msg bus.InternalMessage) error
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Bridge drains the inbound queue, runs each message through the processor
// and publishes exactly one reply per message.
type Bridge struct {
	publisher Publisher
	processor Processor
	streams   StreamReporter
	log       *slog.Logger
	now       func() time.Time

	startedAt time.Time
	processed atomic.Int64
}

type BridgeOption func(*Bridge)

// WithStreamReporter lets /status show the notification stream state.
func WithStreamReporter(r StreamReporter) BridgeOption {
	return func(b *Bridge) {
		b.streams = r
	}
}

func withClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.now = now
	}
}

func NewBridge(publisher Publisher, processor Processor, log *slog.Logger, opts ...BridgeOption) (*Bridge, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if log == nil {
		log = slog.Default()
	}

	b := &Bridge{
		publisher: publisher,
		processor: processor,
		log:       log.With("component", "gateway.bridge"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.startedAt = b.now()

	return b, nil
}

// Run handles messages in receipt order until inbound is closed or ctx ends.
func (b *Bridge) Run(ctx context.Context, inbound <-chan bus.InboundMessage) error {
	b.log.Info("Bridge started")
	defer b.log.Info("Bridge stopped", "processed", b.processed.Load())

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

// Processed reports how many inbound messages have been answered.
func (b *Bridge) Processed() int64 {
	return b.processed.Load()
}

func (b *Bridge) handle(ctx context.Context, msg bus.InboundMessage) {
	sessionKey := msg.SessionKey()
	requestID := uuid.NewString()
	log := b.log.With("request_id", requestID, "session_key", sessionKey)

	b.publishEvent(ctx, bus.Event{
		Type:       bus.EventPromptReceived,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		SessionKey: sessionKey,
		RequestID:  requestID,
		Payload:    map[string]string{"system": boolString(msg.IsSystem), "media": itoa(len(msg.Media))},
	})

	var reply string
	if response, ok := b.handleCommand(ctx, msg); ok {
		log.Debug("Command handled", "command", commandName(msg.Content))
		reply = response
		b.publishEvent(ctx, bus.Event{
			Type:       bus.EventPromptCompleted,
			Channel:    msg.Channel,
			ChatID:     msg.ChatID,
			SessionKey: sessionKey,
			RequestID:  requestID,
			Payload:    map[string]string{"command": commandName(msg.Content)},
		})
	} else {
		started := b.now()
		response, err := b.processor.Process(ctx, msg.Content, sessionKey)
		if err != nil {
			log.Error("Processing failed", "error", err)
			reply = formatProcessError(err)
			b.publishEvent(ctx, bus.Event{
				Type:       bus.EventPromptFailed,
				Channel:    msg.Channel,
				ChatID:     msg.ChatID,
				SessionKey: sessionKey,
				RequestID:  requestID,
				Error:      err.Error(),
			})
		} else {
			reply = response
			b.publishEvent(ctx, bus.Event{
				Type:       bus.EventPromptCompleted,
				Channel:    msg.Channel,
				ChatID:     msg.ChatID,
				SessionKey: sessionKey,
				RequestID:  requestID,
				Payload:    map[string]string{"duration_ms": itoa(int(b.now().Sub(started).Milliseconds()))},
			})
		}
	}

	b.processed.Add(1)

	out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply}
	if err := b.publisher.PublishOutbound(ctx, out); err != nil {
		log.Warn("Reply dropped", "error", err)
	}
}

func (b *Bridge) publishEvent(ctx context.Context, event bus.Event) {
	if !b.publisher.PublishEvent(ctx, event) {
		b.log.Debug("Event not published", "event_type", event.Type)
	}
}

// formatProcessError renders a processing failure as a user-facing reply.
func formatProcessError(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "429") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "exhausted") ||
		strings.Contains(lower, "rate_limit") {
		return "⚠️ **LLM Quota / Rate-limit**\n\n" +
			"The language model provider is refusing requests right now because the quota or rate limit was reached.\n\n" +
			"**What you can do:**\n" +
			"• Wait a minute and try again\n" +
			"• Check the plan and billing of the provider account\n" +
			"• Switch to another model in the config"
	}

	return "⚠️ **Provider error**: " + msg
}
