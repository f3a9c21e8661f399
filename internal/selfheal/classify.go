// Package selfheal recovers from capability failures: classify the error,
// look up or reason out a remedy, retry with backoff, and learn what worked.
package selfheal

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// Category is the failure class a capability error is sorted into.
type Category string

const (
	CategoryDependency Category = "dependency"
	CategoryNetwork    Category = "network"
	CategoryConfig     Category = "config"
	CategoryRuntime    Category = "runtime"
	CategoryTool       Category = "tool"
	CategoryResource   Category = "resource"
	CategorySecurity   Category = "security"
	CategoryData       Category = "data"
	CategoryUnknown    Category = "unknown"
)

// Severity decides the retry policy: repairable failures get the full
// pipeline, critical ones get exactly one retry before surfacing.
type Severity string

const (
	SeverityRepairable Severity = "repairable"
	SeverityCritical   Severity = "critical"
)

type pattern struct {
	re       *regexp.Regexp
	category Category
	severity Severity
}

var classifiers = []pattern{
	// Security first: permission errors often mention files or commands too.
	{regexp.MustCompile(`(?i)permission denied|access denied|operation not permitted|unauthorized|forbidden`), CategorySecurity, SeverityCritical},
	{regexp.MustCompile(`(?i)authentication failed|invalid credentials|api key`), CategorySecurity, SeverityCritical},

	{regexp.MustCompile(`(?i)no space left|disk full|out of memory|cannot allocate|resource temporarily unavailable|too many open files`), CategoryResource, SeverityCritical},
	{regexp.MustCompile(`(?i)quota exceeded|rate limit`), CategoryResource, SeverityRepairable},

	{regexp.MustCompile(`(?i)module not found|no module named|package .* is not|cannot find package|command not found|executable file not found|not installed`), CategoryDependency, SeverityRepairable},
	{regexp.MustCompile(`(?i)import error|undefined symbol|missing dependency`), CategoryDependency, SeverityRepairable},

	{regexp.MustCompile(`(?i)connection refused|connection reset|no such host|network is unreachable|timeout|timed out|tls|dial tcp|eof`), CategoryNetwork, SeverityRepairable},
	{regexp.MustCompile(`(?i)502|503|504|bad gateway|service unavailable`), CategoryNetwork, SeverityRepairable},

	{regexp.MustCompile(`(?i)config|configuration|invalid flag|unknown option|missing required|environment variable`), CategoryConfig, SeverityRepairable},

	{regexp.MustCompile(`(?i)invalid json|unmarshal|parse error|unexpected token|malformed|encoding|invalid utf-8`), CategoryData, SeverityRepairable},
	{regexp.MustCompile(`(?i)no such file|file not found|does not exist|is a directory|not a directory`), CategoryData, SeverityRepairable},

	{regexp.MustCompile(`(?i)exit code|exit status|non-zero|command failed|subprocess`), CategoryTool, SeverityRepairable},

	{regexp.MustCompile(`(?i)panic|nil pointer|index out of range|segmentation|stack overflow|deadlock`), CategoryRuntime, SeverityCritical},
	{regexp.MustCompile(`(?i)runtime error|assertion`), CategoryRuntime, SeverityRepairable},
}

// Classify sorts an error message into a category and severity. Unmatched
// errors land in unknown/repairable so they still get a recovery attempt.
func Classify(msg string) (Category, Severity) {
	for _, p := range classifiers {
		if p.re.MatchString(msg) {
			return p.category, p.severity
		}
	}
	return CategoryUnknown, SeverityRepairable
}

var (
	reDigits = regexp.MustCompile(`\d+`)
	reSpace  = regexp.MustCompile(`\s+`)
	reHex    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	rePath   = regexp.MustCompile(`(/[\w.\-]+)+`)
)

// normalizeMessage strips the volatile parts of an error message so the
// same failure fingerprints identically across occurrences.
func normalizeMessage(msg string) string {
	msg = strings.ToLower(msg)
	msg = reHex.ReplaceAllString(msg, "ADDR")
	msg = rePath.ReplaceAllString(msg, "PATH")
	msg = reDigits.ReplaceAllString(msg, "N")
	msg = reSpace.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}

// Fingerprint identifies a failure for the learned-fix store and the
// per-fingerprint retry cap.
func Fingerprint(category Category, capability, msg string) string {
	h := sha1.Sum([]byte(string(category) + "|" + capability + "|" + normalizeMessage(msg)))
	return hex.EncodeToString(h[:])
}
