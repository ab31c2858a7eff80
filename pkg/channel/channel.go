package channel

import (
	"context"

	"crabbybot/pkg/bus"
)

// Bus is the part of the message bus a transport needs.
type Bus interface {
	InboundSender() bus.InboundSender
	SubscribeOutbound(channel string, sub bus.Subscriber)
}

// Adapter bridges one external transport (for example Telegram) into the bus.
//
// Run must subscribe the adapter's outbound renderer before it starts
// receiving platform events, and blocks until ctx is done or the transport
// fails.
type Adapter interface {
	Name() string
	Run(ctx context.Context, mb Bus) error
}
