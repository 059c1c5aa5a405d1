package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteClient calls the HTTP tool server. Methods use namespace.method
// form and map onto the server's path layout, so rag.search posts to
// /rag/search.
type RemoteClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// RemoteOption configures the client.
type RemoteOption func(*RemoteClient)

// WithBearerToken attaches a bearer token to every call, for servers that
// put their tool routes behind JWT auth.
func WithBearerToken(token string) RemoteOption {
	return func(c *RemoteClient) { c.token = strings.TrimSpace(token) }
}

// NewRemoteClient builds a client for the given base URL.
func NewRemoteClient(baseURL string, timeout time.Duration, opts ...RemoteOption) *RemoteClient {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	c := &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type remoteResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Call posts the payload to the method's endpoint and returns the decoded
// result. Server-side errors come back as plain errors, not panics.
func (c *RemoteClient) Call(ctx context.Context, method string, payload map[string]any) (string, error) {
	path := "/" + strings.ReplaceAll(strings.TrimSpace(method), ".", "/")
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("remote %s: encode payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote %s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("remote %s: read response: %w", method, err)
	}

	var decoded remoteResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("remote %s: decode response: %w", method, err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("remote %s: %s", method, decoded.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("remote %s: status %d", method, resp.StatusCode)
	}

	var asString string
	if err := json.Unmarshal(decoded.Result, &asString); err == nil {
		return asString, nil
	}
	return string(decoded.Result), nil
}
