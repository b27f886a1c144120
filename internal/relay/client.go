// Package relay forwards assistant replies to the external conversation
// storage service.
//
// [Client] performs one POST to {base}/chat/send behind a circuit breaker.
// [Forwarder] decouples that call from the chat path: records are queued,
// sent by a small worker pool and retried with exponential backoff. A full
// queue drops the record rather than delaying the reply to the user.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/serene/internal/resilience"
)

const (
	sendPath       = "/chat/send"
	defaultTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// Record is one message handed to the storage service.
type Record struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender,omitempty"`
	Recipient      string `json:"recipient"`
	Text           string `json:"text"`

	// Key is sent as the Idempotency-Key header and stays the same across
	// retries of one record.
	Key string `json:"-"`
}

// StatusError is returned when the storage service answers with a non-2xx
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage responded %d", e.Code)
	}
	return fmt.Sprintf("storage responded %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth another attempt. Non-2xx answers
// are retryable only for 408, 429 and 5xx; transport errors and an open
// breaker always are. A cancelled context is not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// ClientConfig configures a [Client].
type ClientConfig struct {
	// BaseURL of the storage service, e.g. "http://127.0.0.1:8000".
	BaseURL string

	// ServiceEmail is sent as X-User-Email when set.
	ServiceEmail string

	// Timeout bounds one attempt. Defaults to 10s.
	Timeout time.Duration

	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client

	// Breaker guards the storage service. Nil creates a default breaker.
	Breaker *resilience.CircuitBreaker
}

// Client sends records to the storage service.
//
// All methods are safe for concurrent use.
type Client struct {
	endpoint string
	email    string
	timeout  time.Duration
	http     *http.Client
	breaker  *resilience.CircuitBreaker
}

// NewClient returns a [Client] for cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("relay: base URL is required")
	}
	c := &Client{
		endpoint: base + sendPath,
		email:    cfg.ServiceEmail,
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
		breaker:  cfg.Breaker,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(nil)
	}
	return c, nil
}

// NewBreaker returns the circuit breaker used for the storage service. Only
// retryable errors count against it: a 400 proves the service is up.
func NewBreaker(onChange func(name string, from, to resilience.State)) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "storage",
		MaxFailures:   5,
		ResetTimeout:  30 * time.Second,
		HalfOpenMax:   1,
		IsFailure:     func(err error) bool { return resilience.CountsAsFailure(err) && IsRetryable(err) },
		OnStateChange: onChange,
	})
}

// Healthy reports whether the storage breaker is accepting calls.
func (c *Client) Healthy() bool { return c.breaker.Healthy() }

// Send posts rec once. It returns a *StatusError for non-2xx answers and
// [resilience.ErrCircuitOpen] while the breaker is open.
func (c *Client) Send(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("relay: encode record: %w", err)
	}
	return c.breaker.Execute(func() error {
		return c.post(ctx, rec.Key, body)
	})
}

func (c *Client) post(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.email != "" {
		req.Header.Set("X-User-Email", c.email)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
