package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RelayClaw/RelayClaw/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Create the initial configuration",
	Run:   runOnboard,
}

func runOnboard(cmd *cobra.Command, args []string) {
	printHeader("RelayClaw Onboarding")

	path, err := config.ConfigPath()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Println("Config already exists at " + path)
		fmt.Println("Edit it directly, or delete it and run onboard again.")
		return
	}

	cfg := config.DefaultConfig()

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("OpenRouter API key (leave empty to configure later): ")
	if key, err := reader.ReadString('\n'); err == nil {
		cfg.Providers.OpenRouter.APIKey = strings.TrimSpace(key)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Printf("Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Config written to " + path)

	if err := os.MkdirAll(cfg.Paths.Workspace, 0o755); err != nil {
		fmt.Printf("Workspace error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Workspace created at " + cfg.Paths.Workspace)
	fmt.Println("\nNext: relayclaw chat -m \"hello\"  or  relayclaw gateway")
}
