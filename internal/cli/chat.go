package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RelayClaw/RelayClaw/internal/agent"
	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/hooks"
)

var (
	chatMessage string
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send one message to the agent and print the reply",
	Run:   runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Message to send to the agent")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "default", "Session name")
}

func runChat(cmd *cobra.Command, args []string) {
	if chatMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	bundle, err := buildRuntime(cfg)
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer bundle.Close()

	ctx := cmd.Context()
	key := bus.ConversationKey("cli", chatSession)
	hist := bundle.sessions.GetOrCreate(key)
	tc := agent.NewTurnContext(key, uuid.New().String(), hist, nil)

	// An interrupted previous turn resumes from its snapshot.
	if cfg.Loop.CheckpointEnabled {
		if iter, scratch, ok := bundle.rt.Checkpoints.Restore(ctx, key, hist); ok {
			tc.Iteration = iter
			if scratch != nil {
				tc.Scratch = scratch
			}
			bundle.rt.Hooks.Fire(ctx, hooks.CheckpointRestored, key, map[string]any{
				"iteration": iter,
				"trace_id":  tc.TraceID,
			})
		}
	}

	fmt.Printf("RelayClaw (%s)\nThinking...\n", cfg.Model.Name)

	reply, err := agent.NewController(bundle.rt).RunTurn(ctx, tc, chatMessage)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := bundle.sessions.Save(hist); err != nil {
		bundle.log.Error("session save failed", "conversation", key, "error", err)
	}

	fmt.Println("\n" + reply)
}
