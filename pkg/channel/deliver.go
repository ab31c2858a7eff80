package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crabbybot/pkg/bus"
)

// SendFunc sends one already-chunked message to a chat on a platform.
type SendFunc func(ctx context.Context, chatID string, text string) error

// Deliver splits msg into platform-sized chunks and sends them in order.
// A failed chunk is logged and the remaining chunks are still sent; the
// returned error only summarizes the failures.
func Deliver(ctx context.Context, msg bus.OutboundMessage, maxLen int, pacer *Pacer, send SendFunc, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(msg.Content) == "" {
		log.Debug("Skipping empty outbound message", "chat_id", msg.ChatID)
		return nil
	}

	chunks := Chunk(msg.Content, maxLen)
	failed := 0
	var lastErr error
	for index, chunk := range chunks {
		if err := pacer.Wait(ctx, msg.ChatID); err != nil {
			return fmt.Errorf("wait to send chunk %d/%d: %w", index+1, len(chunks), err)
		}

		if err := send(ctx, msg.ChatID, chunk); err != nil {
			failed++
			lastErr = err
			log.Error("Failed to send message chunk", "chat_id", msg.ChatID, "chunk", index+1, "chunks", len(chunks), "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d chunks failed: %w", failed, len(chunks), lastErr)
	}

	return nil
}
