package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DispatchOutbound drains outbound and delivers every record to the
// subscribers of its channel until outbound is closed or ctx is done.
//
// Each destination channel gets its own lane: a goroutine that invokes the
// channel's subscribers sequentially, in registration order, one record at a
// time. A stalled channel therefore never delays another channel until its
// lane buffer is full. Subscriber errors, panics and timeouts are logged and
// never stop the loop.
func (mb *MessageBus) DispatchOutbound(ctx context.Context, outbound <-chan OutboundMessage) {
	if ctx == nil {
		ctx = context.Background()
	}

	log := mb.log.With("loop", "dispatch")
	lanes := make(map[string]chan OutboundMessage)
	var wg sync.WaitGroup

	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
		log.Debug("Outbound dispatch stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound:
			if !ok {
				return
			}

			if len(mb.subscribersFor(msg.Channel)) == 0 {
				log.Debug("No subscribers for outbound message", "channel", msg.Channel, "chat_id", msg.ChatID)
				continue
			}

			lane, exists := lanes[msg.Channel]
			if !exists {
				lane = make(chan OutboundMessage, mb.capacity)
				lanes[msg.Channel] = lane

				wg.Add(1)
				go func(channel string, lane <-chan OutboundMessage) {
					defer wg.Done()
					mb.runLane(ctx, lane, log.With("channel", channel))
				}(msg.Channel, lane)
			}

			select {
			case <-ctx.Done():
				return
			case lane <- msg:
			}
		}
	}
}

func (mb *MessageBus) runLane(ctx context.Context, lane <-chan OutboundMessage, log *slog.Logger) {
	for msg := range lane {
		if ctx.Err() != nil {
			return
		}
		mb.deliver(ctx, msg, log)
	}
}

func (mb *MessageBus) deliver(ctx context.Context, msg OutboundMessage, log *slog.Logger) {
	for index, sub := range mb.subscribersFor(msg.Channel) {
		if err := mb.invoke(ctx, sub, msg); err != nil {
			log.Error("Outbound subscriber failed", "channel", msg.Channel, "chat_id", msg.ChatID, "subscriber", index, "error", err)
		}
	}
}

// invoke runs sub under the dispatch timeout. A call that outlives the
// timeout is abandoned; its goroutine may still finish later.
func (mb *MessageBus) invoke(ctx context.Context, sub Subscriber, msg OutboundMessage) error {
	callCtx, cancel := context.WithTimeout(ctx, mb.dispatchTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		result <- sub(callCtx, msg)
	}()

	select {
	case err := <-result:
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrDispatchTimeout, mb.dispatchTimeout)
		}
		return callCtx.Err()
	}
}
