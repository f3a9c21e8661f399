package middleware

import (
	"context"
	"regexp"

	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/provider"
)

// OutputSanitizer scans LLM responses for PII, secrets, and deny patterns
// before they reach the channel delivery path.
type OutputSanitizer struct {
	cfg          config.OutputSanitizationConfig
	detector     *Detector
	denyPatterns []*regexp.Regexp
}

// NewOutputSanitizer builds a sanitizer from config.
func NewOutputSanitizer(cfg config.OutputSanitizationConfig) *OutputSanitizer {
	var piiTypes, secretTypes []string
	if cfg.RedactPII {
		piiTypes = []string{"email", "phone", "ssn", "credit_card", "ip_address"}
	}
	if cfg.RedactSecrets {
		secretTypes = []string{"api_key", "bearer_token", "private_key", "password_literal"}
	}

	var deny []*regexp.Regexp
	for _, p := range cfg.DenyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		deny = append(deny, re)
	}

	return &OutputSanitizer{
		cfg:          cfg,
		detector:     NewDetector(piiTypes, secretTypes, cfg.CustomRedactPatterns),
		denyPatterns: deny,
	}
}

func (s *OutputSanitizer) Name() string { return "output-sanitizer" }

func (s *OutputSanitizer) ProcessRequest(_ context.Context, _ *provider.ChatRequest, _ *RequestMeta) error {
	return nil
}

func (s *OutputSanitizer) ProcessResponse(_ context.Context, _ *provider.ChatRequest, resp *provider.ChatResponse, meta *RequestMeta) error {
	if !s.cfg.Enabled {
		return nil
	}
	resp.Content = s.SanitizeText(resp.Content, meta)
	return nil
}

// SanitizeText applies deny patterns, redaction, and truncation to any text
// leaving the runtime. The loop uses this directly on terminal output.
func (s *OutputSanitizer) SanitizeText(content string, meta *RequestMeta) string {
	if !s.cfg.Enabled {
		return content
	}

	// Check deny patterns — replace entire response.
	for _, re := range s.denyPatterns {
		if re.MatchString(content) {
			if meta != nil {
				meta.Tags["output_sanitized"] = "denied"
			}
			return "[Response filtered by output sanitizer]"
		}
	}

	// Redact PII/secrets.
	if s.cfg.RedactPII || s.cfg.RedactSecrets || len(s.cfg.CustomRedactPatterns) > 0 {
		redacted := s.detector.Redact(content)
		if redacted != content {
			content = redacted
			if meta != nil {
				meta.Tags["output_sanitized"] = "redacted"
			}
		}
	}

	// Truncate if needed.
	if s.cfg.MaxOutputLength > 0 && len(content) > s.cfg.MaxOutputLength {
		content = content[:s.cfg.MaxOutputLength] + "\n[truncated by output sanitizer]"
		if meta != nil {
			if _, ok := meta.Tags["output_sanitized"]; !ok {
				meta.Tags["output_sanitized"] = "truncated"
			}
		}
	}
	return content
}
