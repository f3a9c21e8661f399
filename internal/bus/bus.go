// Package bus provides the async message bus between channel adapters and
// the agent runtime, including mid-turn intervention routing.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Well-known metadata keys and message type constants.
const (
	MetaKeyMessageType  = "message_type"
	MessageTypeInternal = "internal"
	MessageTypeExternal = "external"
)

// InboundMessage represents a message from a channel to the agent.
type InboundMessage struct {
	Channel   string         `json:"channel"`
	SenderID  string         `json:"sender_id"`
	ChatID    string         `json:"chat_id"`
	TraceID   string         `json:"trace_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConversationKey identifies the conversation a message belongs to.
func (m *InboundMessage) ConversationKey() string {
	return ConversationKey(m.Channel, m.ChatID)
}

// ConversationKey builds the canonical conversation identifier.
func ConversationKey(channel, chatID string) string {
	return fmt.Sprintf("%s:%s", channel, chatID)
}

// OutboundMessage represents a message from the agent to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	TraceID string `json:"trace_id"`
	Content string `json:"content"`
}

// MessageBus decouples channels from the agent core. A message arriving for
// a conversation whose turn is still executing is delivered to that turn's
// intervention queue instead of the inbound queue.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	busy     map[string]chan *InboundMessage
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
		busy:     make(map[string]chan *InboundMessage),
	}
}

// PublishInbound sends a message from a channel to the agent. If the
// conversation is mid-turn, the message becomes an intervention instead.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	iv := b.busy[msg.ConversationKey()]
	b.mu.RUnlock()

	if iv != nil {
		select {
		case iv <- msg:
			return
		default:
			// intervention queue full, fall through to normal delivery
		}
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BeginTurn claims the turn slot for a conversation. It returns the
// intervention queue for the turn and a release function that must be
// called at turn end. When the conversation already has a turn in flight
// the claim fails and ok is false; the caller must not start a second
// turn, since at most one runs per conversation at a time.
func (b *MessageBus) BeginTurn(conversationKey string) (iv <-chan *InboundMessage, release func(), ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, inFlight := b.busy[conversationKey]; inFlight {
		return nil, nil, false
	}

	queue := make(chan *InboundMessage, 8)
	b.busy[conversationKey] = queue

	release = func() {
		b.mu.Lock()
		delete(b.busy, conversationKey)
		b.mu.Unlock()
	}
	return queue, release, true
}

// PublishOutbound sends a message from the agent to channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
