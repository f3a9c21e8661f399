package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// DetectorMatch represents a single detection hit.
type DetectorMatch struct {
	Type  string // e.g. "email", "ssn", "api_key"
	Value string // the matched text
	Start int    // byte offset in source string
	End   int    // byte offset end
}

// Detector scans text for sensitive patterns.
type Detector struct {
	piiDetectors    []namedRegex
	secretDetectors []namedRegex
	customDetectors []namedRegex
}

type namedRegex struct {
	name string
	re   *regexp.Regexp
}

// Built-in PII patterns.
var builtinPII = map[string]string{
	"email":       `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
	"phone":       `(?:\+\d{1,3}[\s\-]?)?\(?\d{2,4}\)?[\s\-]?\d{3,4}[\s\-]?\d{3,4}\b`,
	"ssn":         `\b\d{3}-\d{2}-\d{4}\b`,
	"credit_card": `\b(?:\d{4}[\s\-]?){3}\d{4}\b`,
	"ip_address":  `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
}

// Built-in secret patterns.
var builtinSecrets = map[string]string{
	"api_key":          `\b(?:sk-[A-Za-z0-9]{20,}|pk_[A-Za-z0-9]{20,}|AKIA[A-Z0-9]{16}|ghp_[A-Za-z0-9]{36}|gho_[A-Za-z0-9]{36}|glpat-[A-Za-z0-9\-]{20,})\b`,
	"bearer_token":     `Bearer\s+[A-Za-z0-9\-._~+/]+=*`,
	"private_key":      `-----BEGIN\s+[A-Z\s]*PRIVATE\s+KEY-----`,
	"password_literal": `(?i)(?:password|passwd|pwd)\s*[:=]\s*\S+`,
}

// NewDetector creates a detector from the requested type names and extra
// custom patterns (compiled as-is, named custom_N).
func NewDetector(piiTypes, secretTypes, customPatterns []string) *Detector {
	d := &Detector{}

	for _, pt := range piiTypes {
		pattern, ok := builtinPII[pt]
		if !ok {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		d.piiDetectors = append(d.piiDetectors, namedRegex{name: pt, re: re})
	}

	for _, st := range secretTypes {
		pattern, ok := builtinSecrets[st]
		if !ok {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		d.secretDetectors = append(d.secretDetectors, namedRegex{name: st, re: re})
	}

	for i, cp := range customPatterns {
		re, err := regexp.Compile(cp)
		if err != nil {
			continue
		}
		d.customDetectors = append(d.customDetectors, namedRegex{name: fmt.Sprintf("custom_%d", i), re: re})
	}

	return d
}

// Scan returns all matches found in the text.
func (d *Detector) Scan(text string) []DetectorMatch {
	var matches []DetectorMatch
	for _, nr := range d.piiDetectors {
		matches = append(matches, findMatches(nr, text)...)
	}
	for _, nr := range d.secretDetectors {
		matches = append(matches, findMatches(nr, text)...)
	}
	for _, nr := range d.customDetectors {
		matches = append(matches, findMatches(nr, text)...)
	}
	return matches
}

// HasMatches returns true if any pattern matches the text.
func (d *Detector) HasMatches(text string) bool {
	all := [][]namedRegex{d.piiDetectors, d.secretDetectors, d.customDetectors}
	for _, group := range all {
		for _, nr := range group {
			if nr.re.MatchString(text) {
				return true
			}
		}
	}
	return false
}

// Redact replaces all detected matches in the text with [REDACTED:<type>].
func (d *Detector) Redact(text string) string {
	allDetectors := make([]namedRegex, 0, len(d.piiDetectors)+len(d.secretDetectors)+len(d.customDetectors))
	allDetectors = append(allDetectors, d.piiDetectors...)
	allDetectors = append(allDetectors, d.secretDetectors...)
	allDetectors = append(allDetectors, d.customDetectors...)

	result := text
	for _, nr := range allDetectors {
		replacement := "[REDACTED:" + strings.ToUpper(nr.name) + "]"
		result = nr.re.ReplaceAllString(result, replacement)
	}
	return result
}

func findMatches(nr namedRegex, text string) []DetectorMatch {
	locs := nr.re.FindAllStringIndex(text, -1)
	matches := make([]DetectorMatch, 0, len(locs))
	for _, loc := range locs {
		matches = append(matches, DetectorMatch{
			Type:  nr.name,
			Value: text[loc[0]:loc[1]],
			Start: loc[0],
			End:   loc[1],
		})
	}
	return matches
}
