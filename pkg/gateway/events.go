package gateway

import (
	"context"
	"log/slog"
	"time"

	"crabbybot/pkg/bus"
)

// logEvents writes bridge lifecycle events to log until ctx is done or the
// bus closes the subscription.
func logEvents(ctx context.Context, mb *bus.MessageBus, log *slog.Logger) {
	log = log.With("component", "bus.events")
	events, unsubscribe := mb.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"chat_id", event.ChatID,
		"session_key", event.SessionKey,
		"at", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventPromptFailed:
		log.Error("Bridge event", append(attrs, "error", event.Error)...)
	case bus.EventPromptReceived, bus.EventPromptCompleted:
		log.Info("Bridge event", attrs...)
	default:
		log.Debug("Bridge event", attrs...)
	}
}
