package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/provider"
)

func TestSanitizerDisabledPassthrough(t *testing.T) {
	s := NewOutputSanitizer(config.OutputSanitizationConfig{Enabled: false})
	resp := &provider.ChatResponse{Content: "email me at a@b.com"}
	if err := s.ProcessResponse(context.Background(), nil, resp, NewRequestMeta("")); err != nil {
		t.Fatal(err)
	}
	if resp.Content != "email me at a@b.com" {
		t.Errorf("disabled sanitizer modified content: %q", resp.Content)
	}
}

func TestSanitizerRedactsSecrets(t *testing.T) {
	s := NewOutputSanitizer(config.OutputSanitizationConfig{
		Enabled:       true,
		RedactSecrets: true,
	})
	meta := NewRequestMeta("")
	resp := &provider.ChatResponse{Content: "key is sk-abcdefghijklmnopqrstuvwx"}
	if err := s.ProcessResponse(context.Background(), nil, resp, meta); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(resp.Content, "sk-abcdefghijklmnopqrstuvwx") {
		t.Errorf("secret not redacted: %q", resp.Content)
	}
	if meta.Tags["output_sanitized"] != "redacted" {
		t.Errorf("tag = %q", meta.Tags["output_sanitized"])
	}
}

func TestSanitizerDenyPattern(t *testing.T) {
	s := NewOutputSanitizer(config.OutputSanitizationConfig{
		Enabled:      true,
		DenyPatterns: []string{`(?i)internal use only`},
	})
	got := s.SanitizeText("This is INTERNAL USE ONLY data", nil)
	if got != "[Response filtered by output sanitizer]" {
		t.Errorf("deny pattern not applied: %q", got)
	}
}

func TestSanitizerTruncates(t *testing.T) {
	s := NewOutputSanitizer(config.OutputSanitizationConfig{
		Enabled:         true,
		MaxOutputLength: 10,
	})
	got := s.SanitizeText(strings.Repeat("x", 50), nil)
	if !strings.HasSuffix(got, "[truncated by output sanitizer]") {
		t.Errorf("not truncated: %q", got)
	}
}

func TestSanitizerRedactsPII(t *testing.T) {
	s := NewOutputSanitizer(config.OutputSanitizationConfig{
		Enabled:   true,
		RedactPII: true,
	})
	got := s.SanitizeText("reach me at jane@example.org", nil)
	if strings.Contains(got, "jane@example.org") {
		t.Errorf("email not redacted: %q", got)
	}
	if !strings.Contains(got, "[REDACTED:EMAIL]") {
		t.Errorf("missing redaction marker: %q", got)
	}
}
