// Package anthropic implements the upstream adapter for the Anthropic
// Messages API, the single LLM provider this gateway proxies to.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"
)

// Client is a direct Anthropic API adapter, authenticated with a single
// static API key (no per-tenant credential resolution, no cloud-hosting
// variants -- this service has exactly one upstream).
type Client struct {
	apiKey            string
	baseURL           string
	http              *http.Client
	fallbackMaxTokens int
}

// New creates a Client against baseURL (defaulting to the public Anthropic
// API) authenticated with apiKey. fallbackMaxTokens is the max_tokens sent
// upstream when a request specifies none (UPSTREAM_MAX_TOKENS); pass 0 to
// use the package default.
func New(apiKey, baseURL string, httpClient *http.Client, fallbackMaxTokens int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:            apiKey,
		baseURL:           strings.TrimRight(baseURL, "/"),
		http:              httpClient,
		fallbackMaxTokens: fallbackMaxTokens,
	}
}

// CreateMessage sends a non-streaming request to the Anthropic Messages API
// and returns the raw response body. The native surface passes this body
// through unchanged; the chat-completion surface reshapes it with
// TranslateToOpenAI.
func (c *Client) CreateMessage(ctx context.Context, req *gateway.ChatRequest) ([]byte, error) {
	aReq, err := translateRequest(req, c.fallbackMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("anthropic: translate request: %w", err)
	}
	aReq.Stream = false

	body, err := marshalRequest(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	return respBody, nil
}

// CreateMessageStream opens a streaming request and returns a channel of
// decoded upstream events. The channel is closed once the stream ends
// (normally via message_stop, or early on error/context cancellation).
func (c *Client) CreateMessageStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamEvent, error) {
	aReq, err := translateRequest(req, c.fallbackMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("anthropic: translate request: %w", err)
	}
	aReq.Stream = true

	body, err := marshalRequest(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	ch := make(chan gateway.StreamEvent, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// HealthCheck verifies connectivity to the Anthropic API.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/messages", nil)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	c.setHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	resp.Body.Close()
	return nil
}

// setHeaders applies auth and content headers to an outbound request.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("content-type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", anthropicVersion)
}
