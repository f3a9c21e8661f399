package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RelayClaw/RelayClaw/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("RelayClaw Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("RelayClaw Status")
		fmt.Printf("Version: %s\n", version)

		path, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:  found (" + path + ")")
			} else {
				fmt.Println("Config:  not found (run 'relayclaw onboard' first)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config load failed: %v\n", err)
			return
		}
		if _, perr := resolveProvider(cfg); perr == nil {
			fmt.Println("Provider: configured")
		} else {
			fmt.Println("Provider: not configured")
		}
		fmt.Printf("Model:    %s\n", cfg.Model.Name)
		fmt.Printf("Workspace: %s\n", cfg.Paths.Workspace)

		printDB := func(label, path string) {
			if dbExists(path) {
				fmt.Printf("%s: present (%s)\n", label, path)
			} else {
				fmt.Printf("%s: not created yet\n", label)
			}
		}
		printDB("Memory DB", cfg.Paths.MemoryDB)
		printDB("Checkpoint DB", cfg.Paths.CheckpointDB)

		onOff := func(b bool) string {
			if b {
				return "enabled"
			}
			return "disabled"
		}
		fmt.Printf("Channels: cli %s, slack %s\n",
			onOff(cfg.Channels.CLI.Enabled), onOff(cfg.Channels.Slack.Enabled))
		fmt.Printf("Self-heal: %s\n", onOff(cfg.SelfHeal.Enabled))
		fmt.Printf("Tracing:   %s\n", onOff(cfg.Tracing.Enabled))
	},
}
