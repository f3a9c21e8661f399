package hooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RelayClaw/RelayClaw/internal/config"
)

// TraceSpan is the record published for every model call and tool
// execution when Kafka tracing is enabled.
type TraceSpan struct {
	AgentID      string `json:"agent_id"`
	Conversation string `json:"conversation"`
	TraceID      string `json:"trace_id"`
	SpanType     string `json:"span_type"` // LLM, TOOL, NUDGE, CHECKPOINT
	Title        string `json:"title"`
	Content      string `json:"content"`
	Iteration    int    `json:"iteration"`
	DurationMs   int64  `json:"duration_ms"`
	At           string `json:"at"`
}

// KafkaTracePublisher publishes loop spans to a Kafka topic. It registers
// itself on the after_main_llm_call, tool_execute_after, repeat_nudge, and
// checkpoint_saved hook points.
type KafkaTracePublisher struct {
	cfg    config.TracingConfig
	writer *kafka.Writer
}

// NewKafkaTracePublisher creates a publisher for the configured brokers.
func NewKafkaTracePublisher(cfg config.TracingConfig) *KafkaTracePublisher {
	topic := cfg.TopicPrefix
	if topic == "" {
		topic = "relayclaw.traces"
	}
	return &KafkaTracePublisher{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.KafkaBrokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// Install registers the publisher's handlers on the runner. Publishing is
// asynchronous; a broker outage never stalls the loop.
func (p *KafkaTracePublisher) Install(r *Runner) {
	r.Register(AfterMainLLMCall, "kafka-trace-llm", Async(p.publishSpan("LLM")))
	r.Register(ToolExecuteAfter, "kafka-trace-tool", Async(p.publishSpan("TOOL")))
	r.Register(RepeatNudge, "kafka-trace-nudge", Async(p.publishSpan("NUDGE")))
	r.Register(CheckpointSaved, "kafka-trace-checkpoint", Async(p.publishSpan("CHECKPOINT")))
}

// Close flushes and closes the underlying writer.
func (p *KafkaTracePublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaTracePublisher) publishSpan(spanType string) HandlerFunc {
	return func(ctx context.Context, ev *Event) error {
		span := TraceSpan{
			AgentID:      p.cfg.AgentID,
			Conversation: ev.Conversation,
			TraceID:      ev.String("trace_id"),
			SpanType:     spanType,
			Title:        ev.String("title"),
			Content:      ev.String("content"),
			At:           time.Now().Format(time.RFC3339),
		}
		if it, ok := ev.Payload["iteration"].(int); ok {
			span.Iteration = it
		}
		if d, ok := ev.Payload["duration_ms"].(int64); ok {
			span.DurationMs = d
		}

		value, err := json.Marshal(span)
		if err != nil {
			return err
		}

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(ev.Conversation),
			Value: value,
			Time:  time.Now(),
		}); err != nil {
			slog.Warn("Trace publish failed", "span", spanType, "error", err)
			return err
		}
		return nil
	}
}
