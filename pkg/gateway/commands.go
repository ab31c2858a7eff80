package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crabbybot/pkg/bus"
)

const helpText = "🦀 **Crabbybot Commands**\n\n" +
	"/help - show this message\n" +
	"/status - uptime and session info\n" +
	"/clear - forget the conversation in this chat\n" +
	"/stream start - post live token launches here\n" +
	"/stream stop - stop the live feed\n\n" +
	"Anything else is sent to the agent."

// handleCommand answers built-in slash commands. It reports false for
// system messages and for anything it does not recognize, which then goes to
// the processor.
func (b *Bridge) handleCommand(ctx context.Context, msg bus.InboundMessage) (string, bool) {
	if msg.IsSystem {
		return "", false
	}

	fields := strings.Fields(msg.Content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}

	switch commandName(msg.Content) {
	case "/help", "/start":
		return helpText, true
	case "/status":
		return b.statusText(msg.SessionKey()), true
	case "/clear":
		return b.clearSession(msg.SessionKey()), true
	case "/stream":
		return b.streamCommand(ctx, msg, fields[1:]), true
	default:
		return "", false
	}
}

// commandName returns the lowercased first word, without a Telegram
// "@botname" suffix.
func commandName(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}

	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name)
}

func (b *Bridge) statusText(sessionKey string) string {
	var sb strings.Builder
	sb.WriteString("🤖 **Crabbybot Status**\n\n")
	sb.WriteString("⏱ Uptime: " + formatUptime(b.now().Sub(b.startedAt)) + "\n")
	sb.WriteString("📨 Messages handled: " + strconv.FormatInt(b.processed.Load(), 10) + "\n")

	if reporter, ok := b.processor.(SessionReporter); ok {
		if stats, ok := reporter.SessionStats(sessionKey); ok {
			fmt.Fprintf(&sb, "💬 Session: %d entries, %d tokens\n", stats.Entries, stats.Usage.TotalTokens)
		} else {
			sb.WriteString("💬 Session: none yet\n")
		}
	}

	if b.streams != nil {
		if active, ok := b.streams.Active(); ok {
			fmt.Fprintf(&sb, "📡 Stream: on (%s:%s)\n", active.Channel, active.ChatID)
		} else {
			sb.WriteString("📡 Stream: off\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bridge) clearSession(sessionKey string) string {
	resetter, ok := b.processor.(SessionResetter)
	if !ok || !resetter.ResetSession(sessionKey) {
		return "ℹ️ No conversation history to clear."
	}

	return "✅ Conversation history cleared."
}

func (b *Bridge) streamCommand(ctx context.Context, msg bus.InboundMessage, args []string) string {
	if b.streams == nil {
		return "📡 Live stream is not configured."
	}
	if len(args) == 0 {
		return "Usage: /stream start | /stream stop"
	}

	var action bus.StreamAction
	switch strings.ToLower(args[0]) {
	case "start", "on":
		action = bus.StreamStart
	case "stop", "off":
		action = bus.StreamStop
	default:
		return "Usage: /stream start | /stream stop"
	}

	control := bus.StreamControl{Action: action, Channel: msg.Channel, ChatID: msg.ChatID}
	if err := b.publisher.PublishInternal(ctx, control); err != nil {
		b.log.Warn("Stream control dropped", "action", action, "error", err)
		return "⚠️ Stream control is unavailable right now."
	}

	if action == bus.StreamStart {
		return "📡 Live stream started for this chat."
	}
	return "🛑 Live stream stopped."
}

func formatUptime(d time.Duration) string {
	total := int64(d.Seconds())
	if total < 0 {
		total = 0
	}

	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}

func boolString(v bool) string {
	return strconv.FormatBool(v)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
