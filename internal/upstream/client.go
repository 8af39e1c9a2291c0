// Package upstream carries the OpenAI chat-completions wire protocol for
// the relay: one streaming request per chat turn, the response consumed as
// server-sent events and exposed as a channel of content deltas.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// StatusError is returned when the provider answers with a non-2xx status.
// The whole turn is fatal at that point; the handler maps it to a JSON
// error response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the error may succeed on another attempt.
// Client errors (4xx) never retry; server errors and transport failures do.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}

// Client issues streaming chat-completion requests.
type Client struct {
	// completionsURL is the full chat-completions endpoint. Callers may
	// pass either a base host or the full URL; the standard path suffix is
	// appended when missing.
	completionsURL string
	apiKey         string
	model          string
	maxTokens      int
	temperature    float64
	// httpClient has no timeout: streams outlive any fixed deadline and
	// the per-turn context carries cancellation instead.
	httpClient *http.Client

	maxAttempts int
	baseBackoff time.Duration
}

// NewClient constructs a Client. maxTokens and temperature are fixed per
// deployment; they are never taken from the inbound request.
func NewClient(baseURL, apiKey, model string, maxTokens int, temperature float64) *Client {
	completionsURL := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(completionsURL, "/v1/chat/completions") {
		completionsURL += "/v1/chat/completions"
	}
	return &Client{
		completionsURL: completionsURL,
		apiKey:         apiKey,
		model:          model,
		maxTokens:      maxTokens,
		temperature:    temperature,
		httpClient:     &http.Client{},
		maxAttempts:    3,
		baseBackoff:    300 * time.Millisecond,
	}
}

// StreamChat posts the messages with stream=true and returns a channel of
// content deltas. A non-2xx status or an unreachable provider is returned
// as an error before any delta is emitted; transient failures (network,
// 5xx) are retried a bounded number of times with jitter before giving up.
// Once streaming has begun there are no retries.
func (c *Client) StreamChat(ctx context.Context, messages []Message) (<-chan Delta, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(c.baseBackoff)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.send(ctx, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !retryable(err) {
				return nil, err
			}
			continue
		}
		return readBody(ctx, resp), nil
	}
	return nil, fmt.Errorf("completion request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

// readBody runs the SSE reader in a goroutine and closes the response body
// when the stream ends or ctx is cancelled.
func readBody(ctx context.Context, resp *http.Response) <-chan Delta {
	out := make(chan Delta, 16)
	inner := ReadStream(resp.Body)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for delta := range inner {
			select {
			case out <- delta:
			case <-ctx.Done():
				// The reader may be parked on a send into inner. Closing
				// the body kicks it out of Scan; draining unblocks its
				// pending sends so the goroutine terminates.
				resp.Body.Close()
				for range inner {
				}
				return
			}
		}
	}()
	return out
}
