package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/config"
)

// SlackChannel is the Slack transport over Socket Mode.
type SlackChannel struct {
	BaseChannel
	cfg    config.SlackConfig
	api    *slack.Client
	socket *socketmode.Client
	log    *slog.Logger
	botID  string
}

// NewSlackChannel creates a Slack Socket Mode channel.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, log *slog.Logger) *SlackChannel {
	if log == nil {
		log = slog.Default()
	}
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		log:         log,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start connects Socket Mode and pumps events until the context ends.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.BotToken == "" || c.cfg.AppToken == "" {
		return fmt.Errorf("slack channel needs botToken and appToken")
	}

	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	c.botID = auth.UserID
	c.socket = socketmode.New(c.api)

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			c.log.Error("slack send failed", "chat", msg.ChatID, "error", err)
		}
	})

	go c.pump(ctx)
	return c.socket.RunContext(ctx)
}

func (c *SlackChannel) Stop() error { return nil }

// Send posts the reply into the originating Slack channel.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("slack channel not started")
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID,
		slack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (c *SlackChannel) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			c.handleEvent(&evt)
		}
	}
}

func (c *SlackChannel) handleEvent(evt *socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	c.socket.Ack(*evt.Request)

	inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Ignore our own messages and edits.
	if inner.User == "" || inner.User == c.botID || inner.SubType != "" {
		return
	}
	if !c.senderAllowed(inner.User) {
		c.log.Warn("slack sender not allowed", "user", inner.User)
		return
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: inner.User,
		ChatID:   inner.Channel,
		Content:  strings.TrimSpace(inner.Text),
		Metadata: map[string]any{bus.MetaKeyMessageType: bus.MessageTypeExternal},
	})
}

func (c *SlackChannel) senderAllowed(user string) bool {
	if len(c.cfg.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range c.cfg.AllowFrom {
		if strings.EqualFold(allowed, user) {
			return true
		}
	}
	return false
}
