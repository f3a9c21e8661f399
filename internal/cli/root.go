// Package cli implements the relayclaw command tree.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/RelayClaw/RelayClaw/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____      _              ____ _\n" +
		" |  _ \\ ___| | __ _ _   _ / ___| | __ ___      __\n" +
		" | |_) / _ \\ |/ _` | | | | |   | |/ _` \\ \\ /\\ / /\n" +
		" |  _ <  __/ | (_| | |_| | |___| | (_| |\\ V  V /\n" +
		" |_| \\_\\___|_|\\__,_|\\__, |\\____|_|\\__,_| \\_/\\_/\n" +
		"                    |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "relayclaw",
	Short: "RelayClaw - Autonomous conversational agent",
	Long:  color.CyanString(logo) + "\nAn autonomous agent runtime with self-healing tool dispatch, written in Go.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(gatewayCmd)
}

func printHeader(title string) {
	fmt.Println(color.New(color.FgCyan, color.Bold).Sprint(title))
}
