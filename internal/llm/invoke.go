package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// InvokeJSON sends the message sequence requesting strict JSON output and
// returns the parsed top-level object once every required key is present.
// Transient transport failures and malformed or incomplete responses are both
// retried with the same budget: the identical request is re-issued up to
// maxAttempts times before a classified InvokeError is surfaced. Missing
// optional fields are the calling adapter's problem, not filled in here.
func (c *Client) InvokeJSON(ctx context.Context, credential, model string, msgs []Message, params GenParams, required []string, maxAttempts int) (map[string]json.RawMessage, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		lastErr    error
		lastKind   ErrorKind
		retryAfter time.Duration
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := c.Complete(ctx, credential, model, msgs, params)
		if err != nil {
			var te *transportError
			if errors.As(err, &te) && te.retryable {
				lastErr, lastKind, retryAfter = err, KindTransient, te.retryAfter
				slog.Warn("provider attempt failed", "attempt", attempt, "kind", "transient", "error", err)
				continue
			}
			// Non-retryable: bad credential, bad request, cancelled context.
			return nil, err
		}

		obj, err := parseObject(text, required)
		if err != nil {
			lastErr, lastKind, retryAfter = err, KindFormat, 0
			slog.Warn("provider attempt failed", "attempt", attempt, "kind", "format", "error", err)
			continue
		}
		return obj, nil
	}

	return nil, &InvokeError{
		Kind:       lastKind,
		Attempts:   maxAttempts,
		RetryAfter: retryAfter,
		Err:        lastErr,
	}
}

// parseObject extracts the first JSON object from the response text and
// verifies the required top-level keys are present and non-null. Providers
// intermittently pad JSON with prose or truncate it; both are format errors.
func parseObject(text string, required []string) (map[string]json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	for _, key := range required {
		raw, ok := obj[key]
		if !ok || string(raw) == "null" {
			return nil, fmt.Errorf("response missing required field %q", key)
		}
	}
	return obj, nil
}
