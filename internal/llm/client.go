// Package llm provides the AI provider client used by the story agents.
// Credentials and models are explicit per-call arguments: the client holds
// transport state only, never identity.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1/messages"
	apiVersion     = "2023-06-01"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversational context sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenParams are the generation parameters for a single call. Zero values are
// filled with adapter defaults before the call reaches the client.
type GenParams struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Client wraps the provider's messages endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Rate limiting: max calls per minute across all callers.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewClient creates a provider client. baseURL may be empty to use the
// default endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxPerMin: 30,
	}
}

// request is the provider request body.
type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

// response is the provider response body.
type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the message sequence and returns the raw response text.
// A leading system message is carried in the request's system field; the
// remainder must alternate user/assistant ending on user.
func (c *Client) Complete(ctx context.Context, credential, model string, msgs []Message, params GenParams) (string, error) {
	if credential == "" {
		return "", ErrNotConfigured
	}
	if err := c.reserve(); err != nil {
		return "", err
	}

	var system string
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		system = msgs[0].Content
		msgs = msgs[1:]
	}

	req := request{
		Model:       model,
		MaxTokens:   params.MaxTokens,
		System:      system,
		Messages:    msgs,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", credential)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &transportError{retryable: true, err: fmt.Errorf("provider call: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transportError{retryable: true, err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &transportError{
			retryable:  true,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			err:        fmt.Errorf("provider error %d: %s", resp.StatusCode, string(respBody)),
		}
	default:
		return "", fmt.Errorf("provider error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &transportError{retryable: true, err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("provider error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", &transportError{retryable: true, err: fmt.Errorf("empty response")}
	}

	slog.Debug("provider call",
		"model", model,
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// reserve consumes one rate-limit token or fails with a retryable error.
func (c *Client) reserve() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		return &transportError{
			retryable:  true,
			retryAfter: time.Until(c.resetAt),
			err:        fmt.Errorf("rate limit exceeded (%d calls/min)", c.maxPerMin),
		}
	}
	c.callCount++
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
