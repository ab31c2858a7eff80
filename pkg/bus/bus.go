package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCapacity is used when New is called with a non-positive capacity.
	DefaultCapacity = 32
	// DefaultDispatchTimeout bounds every subscriber invocation.
	DefaultDispatchTimeout = 10 * time.Second
)

var (
	ErrClosed          = errors.New("bus queue closed")
	ErrInvalidMessage  = errors.New("inbound message requires channel and chat id")
	ErrDispatchTimeout = errors.New("outbound subscriber timed out")
)

// MessageBus decouples transports from the agent bridge.
//
// Transports enqueue through an InboundSender, the bridge drains
// Receivers.Inbound, and DispatchOutbound fans Receivers.Outbound out to the
// subscribers registered per channel. All methods are safe for concurrent use.
type MessageBus struct {
	inbound  *queue[InboundMessage]
	outbound *queue[OutboundMessage]
	internal *queue[InternalMessage]

	capacity        int
	dispatchTimeout time.Duration
	log             *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]Subscriber

	events *eventHub

	done      chan struct{}
	closeOnce sync.Once
}

// Receivers are the consuming ends of the bus queues.
type Receivers struct {
	Inbound  <-chan InboundMessage
	Outbound <-chan OutboundMessage
	Internal <-chan InternalMessage
}

type Option func(*MessageBus)

// WithDispatchTimeout overrides DefaultDispatchTimeout.
func WithDispatchTimeout(timeout time.Duration) Option {
	return func(mb *MessageBus) {
		if timeout > 0 {
			mb.dispatchTimeout = timeout
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(mb *MessageBus) {
		if log != nil {
			mb.log = log
		}
	}
}

// New allocates the inbound, outbound and internal queues with the given
// capacity and returns the bus together with their receive ends.
func New(capacity int, opts ...Option) (*MessageBus, Receivers) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	mb := &MessageBus{
		inbound:         newQueue[InboundMessage](capacity),
		outbound:        newQueue[OutboundMessage](capacity),
		internal:        newQueue[InternalMessage](capacity),
		capacity:        capacity,
		dispatchTimeout: DefaultDispatchTimeout,
		log:             slog.Default(),
		subscribers:     make(map[string][]Subscriber),
		events:          newEventHub(),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mb)
	}
	mb.log = mb.log.With("component", "bus")

	return mb, Receivers{
		Inbound:  mb.inbound.receiver(),
		Outbound: mb.outbound.receiver(),
		Internal: mb.internal.receiver(),
	}
}

// InboundSender is a copyable handle transports use to enqueue messages.
type InboundSender struct {
	q *queue[InboundMessage]
}

// InboundSender returns a handle for enqueuing inbound messages.
func (mb *MessageBus) InboundSender() InboundSender {
	return InboundSender{q: mb.inbound}
}

// Send enqueues msg, suspending while the inbound queue is full.
func (s InboundSender) Send(ctx context.Context, msg InboundMessage) error {
	if s.q == nil {
		return ErrClosed
	}
	if strings.TrimSpace(msg.Channel) == "" || strings.TrimSpace(msg.ChatID) == "" {
		return ErrInvalidMessage
	}

	return s.q.send(ctx, msg)
}

// PublishOutbound enqueues msg for dispatch, suspending while the outbound
// queue is full. A closed queue drops the message with an error log.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	err := mb.outbound.send(ctx, msg)
	if errors.Is(err, ErrClosed) {
		mb.log.Error("Dropping outbound message", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
	if err != nil {
		return fmt.Errorf("publish outbound: %w", err)
	}

	return nil
}

// PublishInternal enqueues a control event for background workers.
func (mb *MessageBus) PublishInternal(ctx context.Context, msg InternalMessage) error {
	if msg == nil {
		return errors.New("internal message is nil")
	}

	err := mb.internal.send(ctx, msg)
	if errors.Is(err, ErrClosed) {
		mb.log.Error("Dropping internal message", "type", fmt.Sprintf("%T", msg), "error", err)
	}
	if err != nil {
		return fmt.Errorf("publish internal: %w", err)
	}

	return nil
}

// SubscribeOutbound appends sub to the subscribers of channel. It may be
// called while DispatchOutbound is running; records dispatched after it
// returns see the new subscriber.
func (mb *MessageBus) SubscribeOutbound(channel string, sub Subscriber) {
	if sub == nil {
		return
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.subscribers[channel] = append(mb.subscribers[channel], sub)
}

func (mb *MessageBus) subscribersFor(channel string) []Subscriber {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	subs := mb.subscribers[channel]
	if len(subs) == 0 {
		return nil
	}

	out := make([]Subscriber, len(subs))
	copy(out, subs)
	return out
}

// Pending reports how many messages are buffered in the inbound and outbound queues.
func (mb *MessageBus) Pending() (inbound int, outbound int) {
	return mb.inbound.pending(), mb.outbound.pending()
}

// CloseInbound stops accepting inbound messages. The bridge drains what is
// already buffered and then observes the closed receiver.
func (mb *MessageBus) CloseInbound() {
	mb.inbound.close()
}

// CloseOutbound stops accepting outbound messages; DispatchOutbound returns
// after the buffered records are delivered.
func (mb *MessageBus) CloseOutbound() {
	mb.outbound.close()
}

func (mb *MessageBus) CloseInternal() {
	mb.internal.close()
}

// Close closes every queue and all event subscriptions.
func (mb *MessageBus) Close() {
	mb.CloseInbound()
	mb.CloseOutbound()
	mb.CloseInternal()

	mb.closeOnce.Do(func() {
		close(mb.done)
		mb.events.close()
	})
}
