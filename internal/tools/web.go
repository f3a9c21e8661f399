package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearchWebTool queries DuckDuckGo's HTML endpoint. It needs no API key.
// Results come from the open web, so the tool marks itself untrusted and
// the dispatcher wraps its output in delimiters before it reaches history.
type SearchWebTool struct {
	client  *http.Client
	baseURL string
}

// NewSearchWebTool creates the search_web tool.
func NewSearchWebTool() *SearchWebTool {
	return &SearchWebTool{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://html.duckduckgo.com/html/",
	}
}

func (t *SearchWebTool) Name() string { return "search_web" }

func (t *SearchWebTool) Untrusted() bool { return true }

func (t *SearchWebTool) Description() string {
	return "Search the web for information. Returns titles, URLs, and snippets from search results."
}

func (t *SearchWebTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default: 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchWebTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query := GetString(args, "query", "")
	limit := GetInt(args, "limit", 5)
	if query == "" {
		return &Result{Output: "Error: query is required", IsError: true}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayClaw/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search response: %w", err)
	}

	results := parseResultsHTML(string(body), limit)
	if len(results) == 0 {
		return &Result{Output: "No results found for: " + query}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n", i+1, r.title, r.url)
		if r.snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.snippet)
		}
		sb.WriteString("\n")
	}
	return &Result{Output: sb.String()}, nil
}

type webResult struct {
	title   string
	url     string
	snippet string
}

// parseResultsHTML extracts results from DuckDuckGo's HTML page. The page
// marks each hit with result__a (link) and result__snippet (summary).
func parseResultsHTML(html string, limit int) []webResult {
	var results []webResult

	parts := strings.Split(html, `class="result__body"`)
	for i, part := range parts[1:] {
		if i >= limit {
			break
		}

		var r webResult
		if idx := strings.Index(part, `class="result__a"`); idx != -1 {
			if hrefStart := strings.Index(part[idx:], `href="`); hrefStart != -1 {
				hrefStart += idx + 6
				if hrefEnd := strings.Index(part[hrefStart:], `"`); hrefEnd != -1 {
					rawURL := part[hrefStart : hrefStart+hrefEnd]
					// DuckDuckGo wraps hits in redirect URLs.
					if u, err := url.Parse(rawURL); err == nil {
						if uddg := u.Query().Get("uddg"); uddg != "" {
							r.url = uddg
						} else {
							r.url = rawURL
						}
					}
				}
			}
			if titleStart := strings.Index(part[idx:], ">"); titleStart != -1 {
				titleStart += idx + 1
				if titleEnd := strings.Index(part[titleStart:], "</a>"); titleEnd != -1 {
					r.title = strings.TrimSpace(stripHTML(part[titleStart : titleStart+titleEnd]))
				}
			}
		}

		if idx := strings.Index(part, `class="result__snippet"`); idx != -1 {
			if snipStart := strings.Index(part[idx:], ">"); snipStart != -1 {
				snipStart += idx + 1
				snipEnd := strings.Index(part[snipStart:], "</a>")
				if snipEnd == -1 {
					snipEnd = strings.Index(part[snipStart:], "</span>")
				}
				if snipEnd != -1 {
					r.snippet = strings.TrimSpace(stripHTML(part[snipStart : snipStart+snipEnd]))
				}
			}
		}

		if r.title != "" && r.url != "" {
			results = append(results, r)
		}
	}
	return results
}

func stripHTML(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	text := sb.String()
	for old, new := range map[string]string{
		"&amp;": "&", "&lt;": "<", "&gt;": ">",
		"&quot;": "\"", "&#x27;": "'", "&nbsp;": " ",
	} {
		text = strings.ReplaceAll(text, old, new)
	}
	return text
}
