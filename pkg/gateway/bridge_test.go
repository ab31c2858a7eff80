package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crabbybot/pkg/agent"
	"crabbybot/pkg/bus"
	providertypes "crabbybot/pkg/provider/types"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	outbound []bus.OutboundMessage
	internal []bus.InternalMessage
	events   []bus.Event

	internalErr error
}

func (p *recordingPublisher) PublishOutbound(_ context.Context, msg bus.OutboundMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = append(p.outbound, msg)
	return nil
}

func (p *recordingPublisher) PublishInternal(_ context.Context, msg bus.InternalMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.internalErr != nil {
		return p.internalErr
	}
	p.internal = append(p.internal, msg)
	return nil
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event bus.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return true
}

func (p *recordingPublisher) replies() []bus.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.OutboundMessage(nil), p.outbound...)
}

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	err      error

	resetResult bool
	resets      []string
	stats       map[string]agent.SessionStats
}

func (p *fakeProcessor) Process(_ context.Context, content string, sessionKey string) (string, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.calls = append(p.calls, sessionKey+"|"+content)
	p.mu.Unlock()

	if p.err != nil {
		return "", p.err
	}
	return "echo: " + content, nil
}

func (p *fakeProcessor) ResetSession(sessionKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, sessionKey)
	return p.resetResult
}

func (p *fakeProcessor) SessionStats(sessionKey string) (agent.SessionStats, bool) {
	stats, ok := p.stats[sessionKey]
	return stats, ok
}

type fixedStream struct {
	active bus.StreamControl
	on     bool
}

func (s fixedStream) Active() (bus.StreamControl, bool) {
	return s.active, s.on
}

func runBridge(t *testing.T, b *Bridge, msgs ...bus.InboundMessage) {
	t.Helper()

	inbound := make(chan bus.InboundMessage, len(msgs))
	for _, msg := range msgs {
		inbound <- msg
	}
	close(inbound)

	require.NoError(t, b.Run(context.Background(), inbound))
}

func newTestBridge(t *testing.T, pub Publisher, proc Processor, opts ...BridgeOption) *Bridge {
	t.Helper()

	b, err := NewBridge(pub, proc, nil, opts...)
	require.NoError(t, err)
	return b
}

func TestBridgeRepliesOncePerMessageInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	proc := &fakeProcessor{delay: 5 * time.Millisecond}
	b := newTestBridge(t, pub, proc)

	runBridge(t, b,
		bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "first"},
		bus.InboundMessage{Channel: "discord", ChatID: "2", Content: "second"},
		bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "third"},
	)

	require.Equal(t, []bus.OutboundMessage{
		{Channel: "telegram", ChatID: "1", Content: "echo: first"},
		{Channel: "discord", ChatID: "2", Content: "echo: second"},
		{Channel: "telegram", ChatID: "1", Content: "echo: third"},
	}, pub.replies())
	require.Equal(t, []string{"telegram:1|first", "discord:2|second", "telegram:1|third"}, proc.calls)
	require.Equal(t, int32(1), proc.maxSeen.Load())
	require.Equal(t, int64(3), b.Processed())
}

func TestBridgeReportsProcessingFailure(t *testing.T) {
	pub := &recordingPublisher{}
	b := newTestBridge(t, pub, &fakeProcessor{err: errors.New("backend unreachable")})

	runBridge(t, b, bus.InboundMessage{Channel: "cli", ChatID: "local", Content: "hi"})

	replies := pub.replies()
	require.Len(t, replies, 1)
	require.Equal(t, "⚠️ **Provider error**: backend unreachable", replies[0].Content)
	require.Equal(t, "cli", replies[0].Channel)
	require.Equal(t, "local", replies[0].ChatID)
}

func TestBridgeExplainsRateLimits(t *testing.T) {
	for _, msg := range []string{"status 429 Too Many Requests", "RESOURCE_EXHAUSTED", "insufficient_quota", "rate_limit_exceeded"} {
		t.Run(msg, func(t *testing.T) {
			reply := formatProcessError(errors.New(msg))
			require.True(t, strings.HasPrefix(reply, "⚠️ **LLM Quota / Rate-limit**"), reply)
		})
	}
}

func TestBridgeHelpCommandSkipsProcessor(t *testing.T) {
	pub := &recordingPublisher{}
	proc := &fakeProcessor{}
	b := newTestBridge(t, pub, proc)

	runBridge(t, b,
		bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "/help"},
		bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "/start@crabbybot"},
	)

	replies := pub.replies()
	require.Len(t, replies, 2)
	require.Equal(t, helpText, replies[0].Content)
	require.Equal(t, helpText, replies[1].Content)
	require.Empty(t, proc.calls)
}

func TestBridgeUnknownCommandGoesToProcessor(t *testing.T) {
	pub := &recordingPublisher{}
	proc := &fakeProcessor{}
	b := newTestBridge(t, pub, proc)

	runBridge(t, b, bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "/weather berlin"})

	require.Equal(t, []string{"telegram:1|/weather berlin"}, proc.calls)
	require.Equal(t, "echo: /weather berlin", pub.replies()[0].Content)
}

func TestBridgeSystemMessagesBypassCommands(t *testing.T) {
	pub := &recordingPublisher{}
	proc := &fakeProcessor{}
	b := newTestBridge(t, pub, proc)

	runBridge(t, b, bus.InboundMessage{Channel: "telegram", ChatID: "1", UserID: "heartbeat", Content: "/status", IsSystem: true})

	require.Equal(t, []string{"telegram:1|/status"}, proc.calls)
}

func TestBridgeClearCommand(t *testing.T) {
	pub := &recordingPublisher{}
	proc := &fakeProcessor{resetResult: true}
	b := newTestBridge(t, pub, proc)

	runBridge(t, b, bus.InboundMessage{Channel: "discord", ChatID: "9", Content: "/clear"})

	require.Equal(t, []string{"discord:9"}, proc.resets)
	require.Equal(t, "✅ Conversation history cleared.", pub.replies()[0].Content)

	proc.resetResult = false
	pub2 := &recordingPublisher{}
	b2 := newTestBridge(t, pub2, proc)
	runBridge(t, b2, bus.InboundMessage{Channel: "discord", ChatID: "9", Content: "/clear"})
	require.Equal(t, "ℹ️ No conversation history to clear.", pub2.replies()[0].Content)
}

func TestBridgeStatusCommand(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	pub := &recordingPublisher{}
	proc := &fakeProcessor{stats: map[string]agent.SessionStats{
		"telegram:1": {Entries: 4, Usage: providertypes.TokenUsage{TotalTokens: 120}},
	}}
	b := newTestBridge(t, pub, proc,
		withClock(clock),
		WithStreamReporter(fixedStream{active: bus.StreamControl{Channel: "telegram", ChatID: "1"}, on: true}),
	)
	now = start.Add(time.Hour + 2*time.Minute + 3*time.Second)

	runBridge(t, b, bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "/status"})

	reply := pub.replies()[0].Content
	require.Contains(t, reply, "🤖 **Crabbybot Status**")
	require.Contains(t, reply, "⏱ Uptime: 1h 2m 3s")
	require.Contains(t, reply, "💬 Session: 4 entries, 120 tokens")
	require.Contains(t, reply, "📡 Stream: on (telegram:1)")
	require.Empty(t, proc.calls)
}

func TestBridgeStreamCommandPublishesControl(t *testing.T) {
	pub := &recordingPublisher{}
	b := newTestBridge(t, pub, &fakeProcessor{}, WithStreamReporter(fixedStream{}))

	runBridge(t, b,
		bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "/stream start"},
		bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "/stream stop"},
		bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "/stream"},
	)

	require.Equal(t, []bus.InternalMessage{
		bus.StreamControl{Action: bus.StreamStart, Channel: "telegram", ChatID: "42"},
		bus.StreamControl{Action: bus.StreamStop, Channel: "telegram", ChatID: "42"},
	}, pub.internal)

	replies := pub.replies()
	require.Len(t, replies, 3)
	require.Equal(t, "Usage: /stream start | /stream stop", replies[2].Content)
}

func TestBridgeStreamCommandWhenInternalQueueClosed(t *testing.T) {
	pub := &recordingPublisher{internalErr: bus.ErrClosed}
	b := newTestBridge(t, pub, &fakeProcessor{}, WithStreamReporter(fixedStream{}))

	runBridge(t, b, bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "/stream start"})

	require.Equal(t, "⚠️ Stream control is unavailable right now.", pub.replies()[0].Content)
}

func TestBridgeStreamCommandWithoutStream(t *testing.T) {
	pub := &recordingPublisher{}
	b := newTestBridge(t, pub, &fakeProcessor{})

	runBridge(t, b, bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "/stream start"})

	require.Equal(t, "📡 Live stream is not configured.", pub.replies()[0].Content)
	require.Empty(t, pub.internal)
}

func TestBridgePublishesLifecycleEvents(t *testing.T) {
	pub := &recordingPublisher{}
	b := newTestBridge(t, pub, &fakeProcessor{})

	runBridge(t, b, bus.InboundMessage{Channel: "cli", ChatID: "local", Content: "hello"})

	require.Len(t, pub.events, 2)
	require.Equal(t, bus.EventPromptReceived, pub.events[0].Type)
	require.Equal(t, bus.EventPromptCompleted, pub.events[1].Type)
	require.NotEmpty(t, pub.events[0].RequestID)
	require.Equal(t, pub.events[0].RequestID, pub.events[1].RequestID)
	require.Equal(t, "cli:local", pub.events[1].SessionKey)
}

func TestBridgeStopsOnContextCancel(t *testing.T) {
	b := newTestBridge(t, &recordingPublisher{}, &fakeProcessor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, make(chan bus.InboundMessage))
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestNewBridgeRequiresCollaborators(t *testing.T) {
	_, err := NewBridge(nil, &fakeProcessor{}, nil)
	require.Error(t, err)

	_, err = NewBridge(&recordingPublisher{}, nil, nil)
	require.Error(t, err)
}
