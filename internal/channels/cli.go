package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/config"
)

// CLIChannel is the interactive terminal transport. Lines typed while a
// turn is running become interventions via the bus routing.
type CLIChannel struct {
	BaseChannel
	cfg    config.CLIConfig
	in     io.Reader
	out    io.Writer
	chatID string

	mu      sync.Mutex
	stopped bool
}

// NewCLIChannel creates a terminal channel reading stdin.
func NewCLIChannel(cfg config.CLIConfig, messageBus *bus.MessageBus) *CLIChannel {
	user := os.Getenv("USER")
	if user == "" {
		user = "local"
	}
	return &CLIChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		in:          os.Stdin,
		out:         os.Stdout,
		chatID:      user,
	}
}

func (c *CLIChannel) Name() string { return "cli" }

// Start subscribes for outbound delivery and reads lines until the
// context ends or stdin closes.
func (c *CLIChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	color.NoColor = !c.cfg.Color

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		_ = c.Send(ctx, msg)
		c.prompt()
	})

	c.prompt()
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: c.chatID,
			ChatID:   c.chatID,
			Content:  line,
			Metadata: map[string]any{bus.MetaKeyMessageType: bus.MessageTypeExternal},
		})
	}
	return scanner.Err()
}

func (c *CLIChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

// Send prints the agent's reply to the terminal.
func (c *CLIChannel) Send(_ context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	label := color.New(color.FgCyan, color.Bold).Sprint("relayclaw")
	fmt.Fprintf(c.out, "\n%s> %s\n", label, msg.Content)
	return nil
}

func (c *CLIChannel) prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	fmt.Fprint(c.out, color.New(color.FgGreen).Sprint("you> "))
}
