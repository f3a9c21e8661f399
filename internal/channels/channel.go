// Package channels implements the chat transports: each adapter publishes
// inbound messages to the bus and subscribes for outbound delivery.
package channels

import (
	"context"

	"github.com/RelayClaw/RelayClaw/internal/bus"
)

// Channel is the interface all chat transports implement.
type Channel interface {
	// Name returns the channel name (e.g. "cli", "slack").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send delivers a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides the bus handle shared by all adapters.
type BaseChannel struct {
	Bus *bus.MessageBus
}
