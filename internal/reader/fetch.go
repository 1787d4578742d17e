// Package reader pulls the readable body out of a news page when a feed only
// carries a teaser.
package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	DefaultTimeout   = 12 * time.Second
	DefaultUserAgent = "newstoss-collector/1.0"

	maxBodyBytes = 2 << 20
)

type Reader struct {
	client    *http.Client
	userAgent string
	maxRunes  int
}

// New returns a Reader whose results are clipped to maxRunes (0 keeps the
// whole text).
func New(timeout time.Duration, userAgent string, maxRunes int) *Reader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Reader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxRunes:  maxRunes,
	}
}

// Text downloads pageURL and returns its main text. When readability finds
// nothing the title stands in.
func (r *Reader) Text(ctx context.Context, pageURL, title string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid article url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch article: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read article body: %w", err)
	}

	text, err := extract(body, resp.Header.Get("Content-Type"), parsed)
	if err != nil {
		return "", err
	}
	if text == "" {
		text = strings.Join(strings.Fields(title), " ")
	}
	if text == "" {
		return "", fmt.Errorf("no readable text at %s", parsed)
	}
	return clip(text, r.maxRunes), nil
}

func extract(body []byte, contentType string, pageURL *url.URL) (string, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/plain") {
		return clean(string(body)), nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}
	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return "", fmt.Errorf("render article text: %w", err)
	}
	if text := clean(rendered.String()); text != "" {
		return text, nil
	}
	return clean(article.Excerpt()), nil
}

// clean collapses whitespace inside lines and joins non-empty lines as
// paragraphs.
func clean(raw string) string {
	lines := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == '\r' })
	paragraphs := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			paragraphs = append(paragraphs, collapsed)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// clip cuts text to maxRunes, ending with an ellipsis when it had to cut.
func clip(text string, maxRunes int) string {
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}
	if maxRunes == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:maxRunes-1])) + "…"
}
