// Package stream runs the notification feed that /stream switches on for a
// chat: a websocket consumer whose frames become unsolicited outbound
// messages.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/config"

	"github.com/coder/websocket"
)

const readLimit = 1 << 20

var errPublisherClosed = errors.New("outbound queue closed")

// Publisher is the outbound side of the message bus.
type Publisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
}

// Controller consumes StreamControl messages and keeps at most one feed
// worker running.
type Controller struct {
	url       string
	subscribe []byte
	reconnect time.Duration
	publisher Publisher
	log       *slog.Logger

	mu     sync.Mutex
	active bus.StreamControl
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(cfg config.StreamConfig, publisher Publisher, log *slog.Logger) (*Controller, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("stream url is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		url:       url,
		subscribe: []byte(cfg.Subscribe),
		reconnect: cfg.ReconnectDelay(),
		publisher: publisher,
		log:       log.With("component", "stream"),
	}, nil
}

// Run handles control messages until internal is closed or ctx ends, then
// stops the running worker.
func (c *Controller) Run(ctx context.Context, internal <-chan bus.InternalMessage) error {
	defer c.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-internal:
			if !ok {
				return nil
			}

			control, ok := msg.(bus.StreamControl)
			if !ok {
				c.log.Debug("Ignoring internal message", "type", fmt.Sprintf("%T", msg))
				continue
			}
			c.handleControl(ctx, control)
		}
	}
}

// Active reports the chat the feed is currently publishing to.
func (c *Controller) Active() (bus.StreamControl, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active, c.cancel != nil
}

func (c *Controller) handleControl(ctx context.Context, control bus.StreamControl) {
	switch control.Action {
	case bus.StreamStart:
		c.stop()
		c.start(ctx, control)
	case bus.StreamStop:
		c.stop()
	default:
		c.log.Warn("Unknown stream action", "action", control.Action)
	}
}

func (c *Controller) start(ctx context.Context, target bus.StreamControl) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.active = target
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info("Stream started", "channel", target.Channel, "chat_id", target.ChatID)
	go func() {
		defer close(done)
		c.work(workerCtx, target)
	}()
}

func (c *Controller) stop() {
	c.mu.Lock()
	cancel, done, target := c.cancel, c.done, c.active
	c.cancel = nil
	c.done = nil
	c.active = bus.StreamControl{}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("Stream stopped", "channel", target.Channel, "chat_id", target.ChatID)
}

func (c *Controller) work(ctx context.Context, target bus.StreamControl) {
	for {
		err := c.consume(ctx, target)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errPublisherClosed) {
			c.log.Info("Stream worker exiting, outbound queue closed")
			return
		}

		c.log.Warn("Stream disconnected", "error", err, "retry_in", c.reconnect)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Controller) consume(ctx context.Context, target bus.StreamControl) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	if len(c.subscribe) > 0 {
		if err := conn.Write(ctx, websocket.MessageText, c.subscribe); err != nil {
			return fmt.Errorf("send subscribe: %w", err)
		}
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		content, ok := formatFrame(data)
		if !ok {
			continue
		}

		out := bus.OutboundMessage{Channel: target.Channel, ChatID: target.ChatID, Content: content}
		if err := c.publisher.PublishOutbound(ctx, out); err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return errPublisherClosed
			}
			return err
		}
	}
}

// formatFrame renders one feed frame. Token events are summarized from their
// name, symbol and mint (or id); anything else is passed through as text.
func formatFrame(data []byte) (string, bool) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", false
	}

	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return raw, true
	}

	id := stringField(event, "mint")
	if id == "" {
		id = stringField(event, "id")
	}
	if id == "" {
		return raw, true
	}

	name := stringField(event, "name")
	if name == "" {
		name = "Unknown"
	}
	symbol := stringField(event, "symbol")
	if symbol == "" {
		symbol = "?"
	}

	return fmt.Sprintf("🚀 **New token launch**\n\nToken: **%s** (%s)\nMint: `%s`", name, symbol, id), true
}

func stringField(event map[string]any, key string) string {
	value, ok := event[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
