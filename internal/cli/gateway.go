package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RelayClaw/RelayClaw/internal/agent"
	"github.com/RelayClaw/RelayClaw/internal/channels"
	"github.com/RelayClaw/RelayClaw/internal/config"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the agent gateway with all enabled channels",
	Run:   runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("RelayClaw Gateway")

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

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		bundle.log.Info("shutdown signal received")
		cancel()
	}()

	manager := agent.NewManager(bundle.rt, bundle.bus, bundle.sessions)
	go manager.Run(ctx)
	go bundle.bus.DispatchOutbound(ctx)

	list := channelList(bundle)
	if len(list) == 0 {
		fmt.Println("No channels enabled; enable cli or slack in the config.")
		os.Exit(1)
	}
	active := startChannels(ctx, bundle, list)

	fmt.Printf("Gateway running (model %s, channels %v). Ctrl-C to stop.\n",
		cfg.Model.Name, active)
	<-ctx.Done()

	for _, ch := range list {
		ch.Stop()
	}
	fmt.Println("Gateway stopped.")
}

// startChannels launches every enabled transport and returns their names.
func startChannels(ctx context.Context, bundle *runtimeBundle, list []channels.Channel) []string {
	var active []string
	for _, ch := range list {
		ch := ch
		active = append(active, ch.Name())
		go func() {
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				bundle.log.Error("channel stopped", "channel", ch.Name(), "error", err)
			}
		}()
	}
	return active
}

func channelList(bundle *runtimeBundle) []channels.Channel {
	var list []channels.Channel
	if bundle.cfg.Channels.CLI.Enabled {
		list = append(list, channels.NewCLIChannel(bundle.cfg.Channels.CLI, bundle.bus))
	}
	if bundle.cfg.Channels.Slack.Enabled {
		list = append(list, channels.NewSlackChannel(bundle.cfg.Channels.Slack, bundle.bus, bundle.log))
	}
	return list
}
