package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/channel"
	"crabbybot/pkg/config"

	"github.com/bwmarrin/discordgo"
)

const (
	ChannelName      = "discord"
	maxMessageLength = 2000
)

// Adapter bridges Discord gateway messages into the message bus.
type Adapter struct {
	cfg       config.DiscordConfig
	allowFrom channel.AllowList
	pacer     *channel.Pacer
	log       *slog.Logger

	mu        sync.RWMutex
	botUserID string
	typing    func(channelID string) error
}

// NewAdapter validates Discord configuration and constructs an adapter instance.
func NewAdapter(cfg config.DiscordConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.discord.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		pacer:     channel.NewPacer(config.SendInterval(cfg.SendIntervalMS), 3),
		log:       log.With("component", "channel.discord"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return ChannelName
}

// Run opens the gateway session and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, mb channel.Bus) error {
	if mb == nil {
		return errors.New("bus is required")
	}

	session, err := discordgo.New("Bot " + strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	mb.SubscribeOutbound(ChannelName, a.outboundSubscriber(func(_ context.Context, chatID string, text string) error {
		_, err := session.ChannelMessageSend(chatID, text)
		return err
	}))

	a.mu.Lock()
	a.typing = func(channelID string) error { return session.ChannelTyping(channelID) }
	a.mu.Unlock()

	sender := mb.InboundSender()
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.setBotUserID(r.User.ID)
		a.log.Info("Discord bot connected", "user", r.User.Username)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(ctx, sender, m)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	a.log.Info("Discord channel started")

	<-ctx.Done()

	if err := session.Close(); err != nil {
		a.log.Warn("Failed to close discord session", "error", err)
	}

	return nil
}

// handleMessage converts one MessageCreate event into an inbound message.
func (a *Adapter) handleMessage(ctx context.Context, sender bus.InboundSender, m *discordgo.MessageCreate) {
	inbound, ok := a.toInbound(m)
	if !ok {
		return
	}

	a.log.Info("Received message", "chat_id", inbound.ChatID, "user_id", inbound.UserID, "content", channel.Preview(inbound.Content))

	a.mu.RLock()
	typing := a.typing
	a.mu.RUnlock()
	if typing != nil {
		if err := typing(inbound.ChatID); err != nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", inbound.ChatID, "error", err)
		}
	}

	if err := sender.Send(ctx, inbound); err != nil {
		a.log.Error("Failed to enqueue inbound message", "chat_id", inbound.ChatID, "error", err)
	}
}

func (a *Adapter) toInbound(m *discordgo.MessageCreate) (bus.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return bus.InboundMessage{}, false
	}

	botUserID := a.currentBotUserID()
	if m.Author.Bot || (botUserID != "" && m.Author.ID == botUserID) {
		return bus.InboundMessage{}, false
	}

	text := m.Content
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
		text = strings.ReplaceAll(text, "<@!"+botUserID+">", "")
	}
	text = strings.TrimSpace(text)

	media := make([]bus.MediaRef, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		media = append(media, bus.MediaRef{
			Kind:     attachmentKind(att.ContentType),
			URL:      att.URL,
			Name:     att.Filename,
			MIMEType: att.ContentType,
		})
	}
	if len(media) == 0 {
		media = nil
	}

	if text == "" && media == nil {
		return bus.InboundMessage{}, false
	}

	if !a.allowFrom.Allowed(m.Author.ID) {
		a.log.Warn("Rejected message from unauthorized sender", "user_id", m.Author.ID, "chat_id", m.ChannelID)
		return bus.InboundMessage{}, false
	}

	return bus.InboundMessage{
		Channel: ChannelName,
		ChatID:  m.ChannelID,
		UserID:  m.Author.ID,
		Content: text,
		Media:   media,
	}, true
}

func (a *Adapter) outboundSubscriber(send channel.SendFunc) bus.Subscriber {
	return func(ctx context.Context, msg bus.OutboundMessage) error {
		a.log.Info("Sending message", "chat_id", msg.ChatID, "content", channel.Preview(msg.Content))
		return channel.Deliver(ctx, msg, maxMessageLength, a.pacer, send, a.log)
	}
}

func (a *Adapter) setBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) currentBotUserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

func attachmentKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "file"
	}
}
