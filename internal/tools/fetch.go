package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const fetchMaxChars = 12000

// FetchTool retrieves a URL, extracts the readable article body, and strips
// any markup that survives extraction.
type FetchTool struct {
	client   *http.Client
	sanitize *bluemonday.Policy
}

// NewFetchTool builds a fetcher with the given request timeout.
func NewFetchTool(timeout time.Duration) *FetchTool {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FetchTool{
		client:   &http.Client{Timeout: timeout},
		sanitize: bluemonday.StrictPolicy(),
	}
}

func (f *FetchTool) Name() string { return "fetch" }

func (f *FetchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["url"].(string)
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return "", fmt.Errorf("fetch requires an absolute url argument")
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", target.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", target.Host, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("fetch %s: read body: %w", target.Host, err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), target)
	if err != nil {
		return "", fmt.Errorf("fetch %s: extract: %w", target.Host, err)
	}
	text := f.sanitize.Sanitize(article.TextContent)
	text = strings.TrimSpace(text)
	if len(text) > fetchMaxChars {
		text = text[:fetchMaxChars]
	}
	if article.Title != "" {
		return article.Title + "\n\n" + text, nil
	}
	return text, nil
}
