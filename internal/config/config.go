// Package config provides configuration types and loading for relayclaw.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Loop, SelfHeal, Channels, Providers,
// Tracing, Output, Tools.
type Config struct {
	Paths     PathsConfig              `json:"paths"`
	Model     ModelConfig              `json:"model"`
	Loop      LoopConfig               `json:"loop"`
	SelfHeal  SelfHealConfig           `json:"selfHeal"`
	Channels  ChannelsConfig           `json:"channels"`
	Providers ProvidersConfig          `json:"providers"`
	Tracing   TracingConfig            `json:"tracing"`
	Output    OutputSanitizationConfig `json:"output"`
	Tools     ToolsConfig              `json:"tools"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace    string `json:"workspace" envconfig:"WORKSPACE"`
	StateDir     string `json:"stateDir" envconfig:"STATE_DIR"`
	MemoryDB     string `json:"memoryDb" envconfig:"MEMORY_DB"`
	CheckpointDB string `json:"checkpointDb" envconfig:"CHECKPOINT_DB"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"MODEL"`
	UtilityName string  `json:"utilityName" envconfig:"UTILITY_MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// ---------------------------------------------------------------------------
// Loop – monologue budgets and cadences
// ---------------------------------------------------------------------------

// LoopConfig groups the agent loop budgets: iteration cap, wall-clock
// timeout, history cap, repeat detection and checkpoint cadence.
type LoopConfig struct {
	MaxIterations           int  `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
	TimeoutSeconds          int  `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
	RepeatDetection         bool `json:"repeatDetection" envconfig:"REPEAT_DETECTION"`
	RepeatWindow            int  `json:"repeatWindow" envconfig:"REPEAT_WINDOW"`
	CheckpointEnabled       bool `json:"checkpointEnabled" envconfig:"CHECKPOINT_ENABLED"`
	CheckpointIntervalSteps int  `json:"checkpointIntervalSteps" envconfig:"CHECKPOINT_INTERVAL_STEPS"`
	HistoryCap              int  `json:"historyCap" envconfig:"HISTORY_CAP"`
	// IterationWarnMargin is how close to MaxIterations the guard warns once.
	IterationWarnMargin int `json:"iterationWarnMargin" envconfig:"ITERATION_WARN_MARGIN"`
}

// Timeout returns the wall-clock budget as a duration.
func (c LoopConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// SelfHeal – automated recovery from capability failures
// ---------------------------------------------------------------------------

// SelfHealConfig groups recovery pipeline settings.
type SelfHealConfig struct {
	Enabled              bool `json:"enabled" envconfig:"ENABLED"`
	MaxRetriesPerFailure int  `json:"maxRetriesPerFailure" envconfig:"MAX_RETRIES_PER_FAILURE"`
	MaxRetriesPerTurn    int  `json:"maxRetriesPerTurn" envconfig:"MAX_RETRIES_PER_TURN"`
	LearnFixes           bool `json:"learnFixes" envconfig:"LEARN_FIXES"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	CLI   CLIConfig   `json:"cli"`
	Slack SlackConfig `json:"slack"`
}

// CLIConfig configures the interactive terminal channel.
type CLIConfig struct {
	Enabled bool `json:"enabled" envconfig:"CLI_ENABLED"`
	Color   bool `json:"color" envconfig:"CLI_COLOR"`
}

// SlackConfig configures the Slack Socket Mode channel.
type SlackConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string   `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken  string   `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	AllowFrom []string `json:"allowFrom"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	VLLM       ProviderConfig `json:"vllm"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Tracing – loop span publishing via Kafka
// ---------------------------------------------------------------------------

// TracingConfig contains settings for the Kafka trace publisher hook.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"ENABLED"`
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	TopicPrefix  string `json:"topicPrefix" envconfig:"TOPIC_PREFIX"`
	AgentID      string `json:"agentId" envconfig:"AGENT_ID"`
}

// ---------------------------------------------------------------------------
// Output – sanitization of agent replies before delivery
// ---------------------------------------------------------------------------

// OutputSanitizationConfig configures the output sanitizer middleware.
type OutputSanitizationConfig struct {
	Enabled              bool     `json:"enabled" envconfig:"ENABLED"`
	RedactPII            bool     `json:"redactPii" envconfig:"REDACT_PII"`
	RedactSecrets        bool     `json:"redactSecrets" envconfig:"REDACT_SECRETS"`
	DenyPatterns         []string `json:"denyPatterns"`
	CustomRedactPatterns []string `json:"customRedactPatterns"`
	MaxOutputLength      int      `json:"maxOutputLength" envconfig:"MAX_OUTPUT_LENGTH"`
}

// ---------------------------------------------------------------------------
// Tools – tool-specific behaviour
// ---------------------------------------------------------------------------

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	Exec ExecToolConfig `json:"exec"`
	Web  WebToolConfig  `json:"web"`
}

// ExecToolConfig contains shell execution tool settings.
type ExecToolConfig struct {
	Timeout             time.Duration `json:"timeout"`
	RestrictToWorkspace bool          `json:"restrictToWorkspace" envconfig:"EXEC_RESTRICT_WORKSPACE"`
}

// WebToolConfig contains web search tool settings.
type WebToolConfig struct {
	SearchEndpoint string `json:"searchEndpoint" envconfig:"SEARCH_ENDPOINT"`
	MaxResults     int    `json:"maxResults"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace: "~/RelayClaw-Workspace",
		},
		Model: ModelConfig{
			Name:        "anthropic/claude-sonnet-4-5",
			UtilityName: "anthropic/claude-haiku-4-5",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Loop: LoopConfig{
			MaxIterations:           25,
			TimeoutSeconds:          300,
			RepeatDetection:         true,
			RepeatWindow:            3,
			CheckpointEnabled:       true,
			CheckpointIntervalSteps: 5,
			HistoryCap:              200,
			IterationWarnMargin:     3,
		},
		SelfHeal: SelfHealConfig{
			Enabled:              true,
			MaxRetriesPerFailure: 3,
			MaxRetriesPerTurn:    10,
			LearnFixes:           true,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{Enabled: true, Color: true},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			TopicPrefix: "relayclaw.traces",
		},
		Output: OutputSanitizationConfig{
			Enabled:         true,
			RedactSecrets:   true,
			MaxOutputLength: 32768,
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{
				Timeout:             60 * time.Second,
				RestrictToWorkspace: true, // Secure default
			},
			Web: WebToolConfig{
				MaxResults: 10,
			},
		},
	}
}
