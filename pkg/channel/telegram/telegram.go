package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/channel"
	"crabbybot/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	ChannelName           = "telegram"
	maxMessageLength      = 4096
	typingRefreshInterval = 4 * time.Second
	typingMaxDuration     = 2 * time.Minute
)

// botAPI is the subset of *telego.Bot the adapter sends through.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Adapter bridges Telegram updates into the message bus.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom channel.AllowList
	pacer     *channel.Pacer
	log       *slog.Logger

	mu     sync.Mutex
	typing map[string]context.CancelFunc
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		pacer:     channel.NewPacer(config.SendInterval(cfg.SendIntervalMS), 3),
		log:       log.With("component", "channel.telegram"),
		typing:    make(map[string]context.CancelFunc),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return ChannelName
}

// Run subscribes the outbound renderer, then long-polls Telegram until ctx is done.
func (a *Adapter) Run(ctx context.Context, mb channel.Bus) error {
	if mb == nil {
		return errors.New("bus is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	mb.SubscribeOutbound(ChannelName, a.outboundSubscriber(bot))

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")
	sender := mb.InboundSender()

	for {
		select {
		case <-ctx.Done():
			a.stopAllTyping()
			return nil
		case update, ok := <-updates:
			if !ok {
				a.stopAllTyping()
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.handleUpdate(ctx, bot, sender, update)
		}
	}
}

// handleUpdate converts one Telegram update into an inbound message.
func (a *Adapter) handleUpdate(ctx context.Context, bot botAPI, sender bus.InboundSender, update telego.Update) {
	inbound, ok := a.toInbound(update)
	if !ok {
		return
	}

	a.log.Info("Received message", "chat_id", inbound.ChatID, "user_id", inbound.UserID, "content", channel.Preview(inbound.Content))

	a.startTyping(ctx, bot, update.Message.Chat.ID, inbound.ChatID)
	if err := sender.Send(ctx, inbound); err != nil {
		a.stopTyping(inbound.ChatID)
		a.log.Error("Failed to enqueue inbound message", "chat_id", inbound.ChatID, "error", err)
	}
}

// toInbound filters and normalizes an update. It reports false for updates
// that carry no usable message or come from a sender outside allow_from.
func (a *Adapter) toInbound(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		content = strings.TrimSpace(message.Caption)
	}
	media := mediaRefs(message)
	if content == "" && len(media) == 0 {
		return bus.InboundMessage{}, false
	}

	userID := strconv.FormatInt(message.From.ID, 10)
	if !a.allowFrom.Allowed(userID) {
		a.log.Warn("Rejected message from unauthorized sender", "user_id", userID, "chat_id", message.Chat.ID)
		return bus.InboundMessage{}, false
	}

	return bus.InboundMessage{
		Channel: ChannelName,
		ChatID:  strconv.FormatInt(message.Chat.ID, 10),
		UserID:  userID,
		Content: content,
		Media:   media,
	}, true
}

// mediaRefs lists attachments by Telegram file id.
func mediaRefs(message *telego.Message) []bus.MediaRef {
	var refs []bus.MediaRef
	if n := len(message.Photo); n > 0 {
		// Sizes are ascending; keep the largest.
		refs = append(refs, bus.MediaRef{Kind: "photo", URL: message.Photo[n-1].FileID})
	}
	if doc := message.Document; doc != nil {
		refs = append(refs, bus.MediaRef{Kind: "document", URL: doc.FileID, Name: doc.FileName, MIMEType: doc.MimeType})
	}
	if voice := message.Voice; voice != nil {
		refs = append(refs, bus.MediaRef{Kind: "voice", URL: voice.FileID, MIMEType: voice.MimeType})
	}

	return refs
}

// outboundSubscriber renders bus replies as Telegram messages.
func (a *Adapter) outboundSubscriber(bot botAPI) bus.Subscriber {
	return func(ctx context.Context, msg bus.OutboundMessage) error {
		a.stopTyping(msg.ChatID)

		chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
		if err != nil {
			return fmt.Errorf("parse telegram chat id %q: %w", msg.ChatID, err)
		}

		a.log.Info("Sending message", "chat_id", msg.ChatID, "content", channel.Preview(msg.Content))

		send := func(ctx context.Context, _ string, text string) error {
			_, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
			return err
		}

		return channel.Deliver(ctx, msg, maxMessageLength, a.pacer, send, a.log)
	}
}

// startTyping shows the typing indicator for a chat until a reply is
// delivered or typingMaxDuration passes.
func (a *Adapter) startTyping(ctx context.Context, bot botAPI, chatID int64, key string) {
	typingCtx, cancel := context.WithTimeout(ctx, typingMaxDuration)

	a.mu.Lock()
	if previous, ok := a.typing[key]; ok {
		previous()
	}
	a.typing[key] = cancel
	a.mu.Unlock()

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	go func() {
		defer cancel()
		sendTyping()

		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()
}

func (a *Adapter) stopTyping(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cancel, ok := a.typing[key]; ok {
		cancel()
		delete(a.typing, key)
	}
}

func (a *Adapter) stopAllTyping() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, cancel := range a.typing {
		cancel()
		delete(a.typing, key)
	}
}
