package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/config"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	mu       sync.Mutex
	messages []*telego.SendMessageParams
	actions  int
	failOn   int
}

func (f *fakeBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, params)
	if f.failOn > 0 && len(f.messages) == f.failOn {
		return nil, errors.New("flood wait")
	}

	return &telego.Message{}, nil
}

func (f *fakeBot) SendChatAction(context.Context, *telego.SendChatActionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.actions++
	return nil
}

func (f *fakeBot) sent() []*telego.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*telego.SendMessageParams(nil), f.messages...)
}

func newTestAdapter(t *testing.T, allowFrom ...string) *Adapter {
	t.Helper()

	adapter, err := NewAdapter(config.TelegramConfig{Token: "123:abc", AllowFrom: allowFrom}, nil)
	require.NoError(t, err)
	return adapter
}

func textUpdate(userID int64, chatID int64, text string) telego.Update {
	return telego.Update{
		UpdateID: 1,
		Message: &telego.Message{
			From: &telego.User{ID: userID},
			Chat: telego.Chat{ID: chatID},
			Text: text,
		},
	}
}

func TestNewAdapterRequiresToken(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{Token: "  "}, nil)
	require.Error(t, err)
}

func TestHandleUpdateEnqueuesInboundMessage(t *testing.T) {
	adapter := newTestAdapter(t)
	mb, rx := bus.New(4)
	bot := &fakeBot{}

	adapter.handleUpdate(context.Background(), bot, mb.InboundSender(), textUpdate(7, 42, " hello "))

	select {
	case msg := <-rx.Inbound:
		require.Equal(t, bus.InboundMessage{Channel: "telegram", ChatID: "42", UserID: "7", Content: "hello"}, msg)
		require.Equal(t, "telegram:42", msg.SessionKey())
	case <-time.After(time.Second):
		t.Fatal("expected inbound message")
	}

	adapter.stopTyping("42")
}

func TestHandleUpdateRejectsUnauthorizedSender(t *testing.T) {
	adapter := newTestAdapter(t, "1")
	mb, _ := bus.New(4)

	adapter.handleUpdate(context.Background(), &fakeBot{}, mb.InboundSender(), textUpdate(2, 42, "hello"))

	inbound, _ := mb.Pending()
	require.Zero(t, inbound)
}

func TestToInboundIgnoresUnusableUpdates(t *testing.T) {
	adapter := newTestAdapter(t)

	_, ok := adapter.toInbound(telego.Update{})
	require.False(t, ok, "update without message")

	_, ok = adapter.toInbound(telego.Update{Message: &telego.Message{Text: "hi", Chat: telego.Chat{ID: 1}}})
	require.False(t, ok, "message without sender")

	_, ok = adapter.toInbound(textUpdate(1, 1, "   "))
	require.False(t, ok, "blank message")
}

func TestToInboundMapsMedia(t *testing.T) {
	adapter := newTestAdapter(t)
	update := telego.Update{Message: &telego.Message{
		From:    &telego.User{ID: 5},
		Chat:    telego.Chat{ID: 9},
		Caption: "look",
		Photo:   []telego.PhotoSize{{FileID: "small"}, {FileID: "large"}},
		Document: &telego.Document{
			FileID:   "doc-1",
			FileName: "report.pdf",
			MimeType: "application/pdf",
		},
	}}

	msg, ok := adapter.toInbound(update)
	require.True(t, ok)
	require.Equal(t, "look", msg.Content)
	require.Equal(t, []bus.MediaRef{
		{Kind: "photo", URL: "large"},
		{Kind: "document", URL: "doc-1", Name: "report.pdf", MIMEType: "application/pdf"},
	}, msg.Media)
}

func TestOutboundSubscriberChunksLongReplies(t *testing.T) {
	adapter := newTestAdapter(t)
	bot := &fakeBot{}
	subscriber := adapter.outboundSubscriber(bot)

	err := subscriber(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "42", Content: strings.Repeat("a", 5000)})
	require.NoError(t, err)

	sent := bot.sent()
	require.Len(t, sent, 2)
	require.Equal(t, int64(42), sent[0].ChatID.ID)
	require.Len(t, sent[0].Text, maxMessageLength)
	require.Len(t, sent[1].Text, 904)
}

func TestOutboundSubscriberContinuesAfterChunkFailure(t *testing.T) {
	adapter := newTestAdapter(t)
	bot := &fakeBot{failOn: 1}
	subscriber := adapter.outboundSubscriber(bot)

	err := subscriber(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "42", Content: strings.Repeat("b", 5000)})
	require.Error(t, err)
	require.Len(t, bot.sent(), 2)
}

func TestOutboundSubscriberRejectsNonNumericChat(t *testing.T) {
	adapter := newTestAdapter(t)
	bot := &fakeBot{}

	err := adapter.outboundSubscriber(bot)(context.Background(), bus.OutboundMessage{ChatID: "local", Content: "hi"})
	require.Error(t, err)
	require.Empty(t, bot.sent())
}

func TestReplyStopsTypingIndicator(t *testing.T) {
	adapter := newTestAdapter(t)
	bot := &fakeBot{}

	adapter.startTyping(context.Background(), bot, 42, "42")
	require.NoError(t, adapter.outboundSubscriber(bot)(context.Background(), bus.OutboundMessage{ChatID: "42", Content: "done"}))

	adapter.mu.Lock()
	_, active := adapter.typing["42"]
	adapter.mu.Unlock()
	require.False(t, active)
}
