// Package heartbeat wakes the agent on a fixed interval by enqueueing a
// system message for a configured chat.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/config"
)

// UserID marks inbound messages produced by the heartbeat.
const UserID = "heartbeat"

const defaultMessage = "Heartbeat: check for anything that needs attention and report briefly."

// Sender is the inbound side of the message bus.
type Sender interface {
	Send(ctx context.Context, msg bus.InboundMessage) error
}

type Heartbeat struct {
	interval time.Duration
	message  string
	channel  string
	chatID   string
	sender   Sender
	log      *slog.Logger
}

func New(cfg config.HeartbeatConfig, sender Sender, log *slog.Logger) (*Heartbeat, error) {
	if sender == nil {
		return nil, errors.New("inbound sender is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	chatID := strings.TrimSpace(cfg.ChatID)
	if channel == "" || chatID == "" {
		return nil, errors.New("heartbeat requires channel and chat_id")
	}

	message := strings.TrimSpace(cfg.Message)
	if message == "" {
		message = defaultMessage
	}
	if log == nil {
		log = slog.Default()
	}

	return &Heartbeat{
		interval: cfg.Interval(),
		message:  message,
		channel:  channel,
		chatID:   chatID,
		sender:   sender,
		log:      log.With("component", "heartbeat"),
	}, nil
}

// Run beats until ctx is done or the inbound queue is closed. The first beat
// fires one interval after start.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.log.Info("Heartbeat started", "interval", h.interval, "channel", h.channel)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			msg := bus.InboundMessage{
				Channel:  h.channel,
				ChatID:   h.chatID,
				UserID:   UserID,
				Content:  h.message,
				IsSystem: true,
			}

			h.log.Debug("Heartbeat firing", "channel", h.channel, "chat_id", h.chatID)
			if err := h.sender.Send(ctx, msg); err != nil {
				if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
