package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/memory"
	"github.com/RelayClaw/RelayClaw/internal/tools"
)

// Default retry caps, used when the config leaves them unset. The backoff
// schedule is indexed by the attempt number for the same fingerprint
// within one turn.
const (
	defaultMaxRetriesPerFingerprint = 3
	defaultMaxRetriesPerTurn        = 10
)

var backoffSchedule = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// FixStore is the learned-fix persistence the pipeline needs.
type FixStore interface {
	GetFix(ctx context.Context, fingerprint string) (*memory.LearnedFix, error)
	PutFix(ctx context.Context, fingerprint, remedy string) error
}

// Reasoner asks the utility model for a one-shot remedy suggestion.
type Reasoner interface {
	Call(ctx context.Context, system, user string) (string, error)
}

// RetryFunc re-invokes the failed capability with (possibly amended) args.
type RetryFunc func(ctx context.Context, args map[string]any) (*tools.Result, error)

// FailureRecord describes one capability failure as it moved through the
// pipeline. Unresolved records are rendered into the tool-result turn.
type FailureRecord struct {
	Capability  string
	Category    Category
	Severity    Severity
	Fingerprint string
	Message     string
	Remedy      string
	Attempts    int
	Resolved    bool
}

// TurnState tracks retry budgets for one conversation turn. Create a
// fresh one at turn start.
type TurnState struct {
	perFingerprint map[string]int
	total          int
}

// NewTurnState returns empty retry counters for a new turn.
func NewTurnState() *TurnState {
	return &TurnState{perFingerprint: make(map[string]int)}
}

// TotalRetries reports how many recovery retries this turn has used.
func (t *TurnState) TotalRetries() int { return t.total }

// Pipeline is the five-stage recovery pipeline: classify, remember,
// reason, retry, learn.
type Pipeline struct {
	store             FixStore
	reasoner          Reasoner
	learnFixes        bool
	maxPerFingerprint int
	maxPerTurn        int
	log               *slog.Logger

	// Sleep waits out the backoff schedule; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a recovery pipeline. Retry caps come from the config, falling
// back to the defaults when unset. store and reasoner may be nil; the
// corresponding stages are then skipped.
func New(cfg config.SelfHealConfig, store FixStore, reasoner Reasoner, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	perFingerprint := cfg.MaxRetriesPerFailure
	if perFingerprint <= 0 {
		perFingerprint = defaultMaxRetriesPerFingerprint
	}
	perTurn := cfg.MaxRetriesPerTurn
	if perTurn <= 0 {
		perTurn = defaultMaxRetriesPerTurn
	}
	return &Pipeline{
		store:             store,
		reasoner:          reasoner,
		learnFixes:        cfg.LearnFixes,
		maxPerFingerprint: perFingerprint,
		maxPerTurn:        perTurn,
		log:               log,
		Sleep:             sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recover runs the pipeline for a capability failure. It returns the
// successful result when a retry resolved the failure, and the failure
// record either way. Critical failures get exactly one retry.
func (p *Pipeline) Recover(ctx context.Context, turn *TurnState, capability string, args map[string]any, execErr error, retry RetryFunc) (*tools.Result, *FailureRecord) {
	msg := execErr.Error()
	category, severity := Classify(msg)
	rec := &FailureRecord{
		Capability:  capability,
		Category:    category,
		Severity:    severity,
		Fingerprint: Fingerprint(category, capability, msg),
		Message:     msg,
	}

	p.log.Warn("capability failed",
		"capability", capability,
		"category", category,
		"severity", severity,
		"error", msg)

	if severity == SeverityCritical {
		if res := p.retryOnce(ctx, turn, rec, args, retry); res != nil {
			p.log.Info("capability recovered",
				"capability", capability,
				"category", category,
				"attempts", rec.Attempts)
			return res, rec
		}
		return p.finish(rec)
	}

	remedy := p.lookupRemedy(ctx, rec)

	for turn.perFingerprint[rec.Fingerprint] < p.maxPerFingerprint &&
		turn.total < p.maxPerTurn {

		attempt := turn.perFingerprint[rec.Fingerprint]
		if err := p.Sleep(ctx, backoffFor(attempt)); err != nil {
			break
		}
		turn.perFingerprint[rec.Fingerprint]++
		turn.total++
		rec.Attempts++
		rec.Remedy = remedy

		res, err := retry(ctx, withRemedy(args, remedy))
		if err == nil {
			rec.Resolved = true
			if p.learnFixes && p.store != nil && remedy != "" {
				if perr := p.store.PutFix(ctx, rec.Fingerprint, remedy); perr != nil {
					p.log.Error("learn fix failed", "fingerprint", rec.Fingerprint, "error", perr)
				}
			}
			p.log.Info("capability recovered",
				"capability", capability,
				"category", category,
				"attempts", rec.Attempts)
			return res, rec
		}

		msg = err.Error()
		rec.Message = msg
		p.log.Warn("recovery retry failed",
			"capability", capability,
			"attempt", rec.Attempts,
			"error", msg)
	}

	return p.finish(rec)
}

// retryOnce runs the single bounded retry a critical failure gets. It
// returns the retry's result on success, nil otherwise.
func (p *Pipeline) retryOnce(ctx context.Context, turn *TurnState, rec *FailureRecord, args map[string]any, retry RetryFunc) *tools.Result {
	if turn.total >= p.maxPerTurn {
		return nil
	}
	if err := p.Sleep(ctx, backoffFor(0)); err != nil {
		return nil
	}
	turn.total++
	rec.Attempts++
	res, err := retry(ctx, args)
	if err == nil {
		rec.Resolved = true
		return res
	}
	rec.Message = err.Error()
	return nil
}

func (p *Pipeline) finish(rec *FailureRecord) (*tools.Result, *FailureRecord) {
	p.log.Warn("recovery exhausted",
		"capability", rec.Capability,
		"category", rec.Category,
		"attempts", rec.Attempts)
	return nil, rec
}

// lookupRemedy is stages two and three: learned fix first, then a
// category-scoped utility model call.
func (p *Pipeline) lookupRemedy(ctx context.Context, rec *FailureRecord) string {
	if p.store != nil {
		fix, err := p.store.GetFix(ctx, rec.Fingerprint)
		if err != nil {
			p.log.Error("fix lookup failed", "fingerprint", rec.Fingerprint, "error", err)
		} else if fix != nil {
			p.log.Info("learned fix found", "fingerprint", rec.Fingerprint, "hits", fix.HitCount)
			return fix.Remedy
		}
	}

	if p.reasoner == nil {
		return ""
	}
	system := fmt.Sprintf(
		"You are a repair assistant for a %s failure in an automation tool. "+
			"Suggest exactly one concrete remedy in a single short sentence. "+
			"No explanations.", rec.Category)
	user := fmt.Sprintf("Capability %q failed with: %s", rec.Capability, rec.Message)
	remedy, err := p.reasoner.Call(ctx, system, user)
	if err != nil {
		p.log.Error("remedy reasoning failed", "capability", rec.Capability, "error", err)
		return ""
	}
	return strings.TrimSpace(remedy)
}

func backoffFor(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		attempt = len(backoffSchedule) - 1
	}
	return backoffSchedule[attempt]
}

// withRemedy copies args and attaches the remedy so the capability can
// act on it. The original map is never mutated.
func withRemedy(args map[string]any, remedy string) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if remedy != "" {
		out["_remedy"] = remedy
	}
	return out
}

// Describe renders an unresolved failure for the history turn the model
// sees, plain language only.
func Describe(rec *FailureRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The %s capability failed (%s): %s.", rec.Capability, rec.Category, rec.Message)
	if rec.Attempts > 0 {
		fmt.Fprintf(&sb, " Automatic recovery was attempted %d time(s) without success.", rec.Attempts)
	}
	sb.WriteString(" Consider a different approach.")
	return sb.String()
}
