package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/RelayClaw/RelayClaw/internal/agent"
	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/checkpoint"
	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/hooks"
	"github.com/RelayClaw/RelayClaw/internal/memory"
	"github.com/RelayClaw/RelayClaw/internal/provider"
	"github.com/RelayClaw/RelayClaw/internal/provider/middleware"
	"github.com/RelayClaw/RelayClaw/internal/selfheal"
	"github.com/RelayClaw/RelayClaw/internal/session"
	"github.com/RelayClaw/RelayClaw/internal/tools"
)

// checkpointKeep is how many snapshots per conversation survive pruning.
const checkpointKeep = 3

// runtimeBundle holds everything a command needs to run turns, plus the
// handles that must be closed on shutdown.
type runtimeBundle struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	rt       *agent.Runtime
	sessions *session.Manager
	log      *slog.Logger

	memStore *memory.Store
	cpStore  *checkpoint.Store
	tracer   *hooks.KafkaTracePublisher
}

// buildRuntime assembles the full agent runtime from configuration:
// stores, provider chain, capability registry, hooks, recovery pipeline.
func buildRuntime(cfg *config.Config) (*runtimeBundle, error) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	prov, err := resolveProvider(cfg)
	if err != nil {
		return nil, err
	}

	memStore, err := memory.Open(cfg.Paths.MemoryDB)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	cpStore, err := checkpoint.OpenStore(cfg.Paths.CheckpointDB, checkpointKeep)
	if err != nil {
		memStore.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	chain := middleware.NewChain(prov)
	sanitizer := middleware.NewOutputSanitizer(cfg.Output)
	if cfg.Output.Enabled {
		chain.Use(sanitizer)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewResponseTool())
	registry.Register(tools.NewReadFileTool())
	registry.Register(tools.NewWriteFileTool(cfg.Paths.Workspace))
	registry.Register(tools.NewListDirTool())
	registry.Register(tools.NewExecTool(cfg.Tools.Exec.Timeout, cfg.Tools.Exec.RestrictToWorkspace, cfg.Paths.Workspace))
	registry.Register(tools.NewSearchWebTool())
	registry.Register(tools.NewRememberTool(memStore))
	registry.Register(tools.NewRecallTool(memStore))
	registry.Register(tools.NewForgetTool(memStore))

	runner := hooks.NewRunner()
	var tracer *hooks.KafkaTracePublisher
	if cfg.Tracing.Enabled && cfg.Tracing.KafkaBrokers != "" {
		tracer = hooks.NewKafkaTracePublisher(cfg.Tracing)
		tracer.Install(runner)
		log.Info("kafka tracing enabled", "brokers", cfg.Tracing.KafkaBrokers)
	}

	var heal *selfheal.Pipeline
	if cfg.SelfHeal.Enabled {
		utility := &provider.UtilityCaller{Provider: prov, Model: cfg.Model.UtilityName, Hooks: runner}
		heal = selfheal.New(cfg.SelfHeal, memStore, utility, log)
	}

	rt := &agent.Runtime{
		Config:      cfg,
		Chain:       chain,
		Registry:    registry,
		Hooks:       runner,
		Guard:       agent.NewGuard(cfg.Loop, log),
		Repeat:      agent.NewRepeatDetector(cfg.Loop.RepeatWindow),
		Dispatcher:  agent.NewDispatcher(registry, runner, heal, log),
		Checkpoints: checkpoint.NewManager(cpStore, cfg.Loop.CheckpointIntervalSteps, log),
		Sanitizer:   sanitizer,
		Log:         log,
	}

	return &runtimeBundle{
		cfg:      cfg,
		bus:      bus.NewMessageBus(),
		rt:       rt,
		sessions: session.NewManager(cfg.Paths.StateDir),
		log:      log,
		memStore: memStore,
		cpStore:  cpStore,
		tracer:   tracer,
	}, nil
}

// Close releases the stores and flushes the trace writer.
func (b *runtimeBundle) Close() {
	if b.tracer != nil {
		if err := b.tracer.Close(); err != nil {
			b.log.Warn("trace writer close failed", "error", err)
		}
	}
	if b.cpStore != nil {
		b.cpStore.Close()
	}
	if b.memStore != nil {
		b.memStore.Close()
	}
}

// resolveProvider picks the first configured LLM endpoint: OpenRouter,
// then OpenAI, then a local vLLM server.
func resolveProvider(cfg *config.Config) (provider.LLMProvider, error) {
	switch {
	case cfg.Providers.OpenRouter.APIKey != "":
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return provider.NewOpenAIProvider(cfg.Providers.OpenRouter.APIKey, base, cfg.Model.Name), nil
	case cfg.Providers.OpenAI.APIKey != "":
		return provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Model.Name), nil
	case cfg.Providers.VLLM.APIBase != "":
		return provider.NewOpenAIProvider(cfg.Providers.VLLM.APIKey, cfg.Providers.VLLM.APIBase, cfg.Model.Name), nil
	}
	return nil, fmt.Errorf("no LLM provider configured: set an API key for openrouter or openai, or an apiBase for vllm")
}

// dbExists reports whether a state database has been created yet.
func dbExists(path string) bool {
	_, err := os.Stat(filepath.Clean(path))
	return err == nil
}
