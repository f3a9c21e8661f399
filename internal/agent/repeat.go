package agent

import (
	"strings"

	"github.com/RelayClaw/RelayClaw/internal/session"
)

// repeatNudge is the synthetic system turn injected when the model starts
// looping on itself.
const repeatNudge = "You appear to be repeating yourself. Take a different approach or deliver your final answer with the response capability."

// RepeatDetector is a stateless trigger over the most recent agent
// outputs. It nudges, it never terminates; only the budget guard can end
// a turn.
type RepeatDetector struct {
	Window int
}

// NewRepeatDetector creates a detector over the last window agent outputs.
func NewRepeatDetector(window int) *RepeatDetector {
	if window <= 0 {
		window = 3
	}
	return &RepeatDetector{Window: window}
}

// Check reports whether the newest agent output repeats the immediately
// preceding one. Comparison is whitespace-normalized verbatim match.
func (d *RepeatDetector) Check(hist *session.History) bool {
	outputs := hist.LastAgentOutputs(d.Window)
	if len(outputs) < 2 {
		return false
	}
	newest := normalizeOutput(outputs[0])
	previous := normalizeOutput(outputs[1])
	if newest == "" {
		return false
	}
	return newest == previous
}

func normalizeOutput(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
