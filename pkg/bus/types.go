package bus

import "context"

// MediaRef points at an attachment carried alongside an inbound message.
// The bus never dereferences it.
type MediaRef struct {
	Kind     string `json:"kind,omitempty"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// InboundMessage is a normalized message received by a transport.
type InboundMessage struct {
	Channel  string     `json:"channel"`
	ChatID   string     `json:"chat_id"`
	UserID   string     `json:"user_id"`
	Content  string     `json:"content"`
	Media    []MediaRef `json:"media,omitempty"`
	IsSystem bool       `json:"is_system,omitempty"`
}

// SessionKey scopes conversational state to one chat within one channel.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a normalized message addressed to a transport.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// InternalMessage is a control event for background workers. The bus only
// delivers it.
type InternalMessage interface {
	internalMessage()
}

type StreamAction string

const (
	StreamStart StreamAction = "start"
	StreamStop  StreamAction = "stop"
)

// StreamControl asks the notification stream worker to start or stop
// publishing to one chat.
type StreamControl struct {
	Action  StreamAction `json:"action"`
	Channel string       `json:"channel"`
	ChatID  string       `json:"chat_id"`
}

func (StreamControl) internalMessage() {}

// Subscriber renders an outbound message on a transport. It is called with a
// context that expires after the dispatch timeout.
type Subscriber func(ctx context.Context, msg OutboundMessage) error
