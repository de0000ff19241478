// Package webhook implements the outbound notification client.
// The schedule engine does not render notifications itself; it POSTs
// event payloads to a configured receiver (a chat bridge, a mailer, an
// automation hook) and lets the receiver decide how to present them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/planloop/schedule-hub/pkg/circuitbreaker"
	"github.com/planloop/schedule-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the webhook client.
type ClientConfig struct {
	// URL is the receiver endpoint. Empty disables delivery.
	URL string

	// Secret is sent in the X-Webhook-Secret header when non-empty.
	Secret string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	// MaxRetries is the total number of delivery attempts
	MaxRetries int

	// Circuit breaker tuning; zero values fall back to the
	// webhook defaults.
	FailureThreshold int
	BreakerTimeout   time.Duration
	HalfOpenMax      int

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults for the given endpoint.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:     url,
		Timeout: 10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Notification is the wire payload delivered to the receiver.
type Notification struct {
	// Event is the domain event type, e.g. "instance.week_advanced".
	Event string `json:"event"`

	// AggregateID identifies the entity the event is about.
	AggregateID string `json:"aggregate_id"`

	// OccurredAt is when the event happened, not when it was delivered.
	OccurredAt time.Time `json:"occurred_at"`

	// Payload carries the event-specific fields.
	Payload map[string]interface{} `json:"payload"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// ErrNotConfigured is returned by Send when no receiver URL is set.
var ErrNotConfigured = errors.New("webhook receiver is not configured")

// Client delivers notifications over HTTP with retries and a circuit
// breaker. Delivery is best-effort: the caller decides whether a failed
// delivery is worth more than a log line.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a new webhook client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
	c.retrier = newRetrier(config)
	c.breaker = newBreaker(config, c.logStateChange)

	return c
}

func newRetrier(config ClientConfig) *retry.Retrier {
	if config.MaxRetries <= 0 {
		return retry.WebhookRetrier()
	}
	return retry.New(
		retry.WithMaxAttempts(config.MaxRetries),
		retry.WithInitialDelay(500*time.Millisecond),
		retry.WithMaxDelay(10*time.Second),
		retry.WithMultiplier(2.0),
		retry.WithJitter(0.2),
	)
}

func newBreaker(config ClientConfig, onStateChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.CircuitBreaker {
	if config.FailureThreshold <= 0 && config.BreakerTimeout <= 0 && config.HalfOpenMax <= 0 {
		return circuitbreaker.WebhookBreaker(onStateChange)
	}
	return circuitbreaker.New(
		"notification-webhook",
		circuitbreaker.WithFailureThreshold(config.FailureThreshold),
		circuitbreaker.WithTimeout(config.BreakerTimeout),
		circuitbreaker.WithMaxHalfOpenRequests(config.HalfOpenMax),
		circuitbreaker.WithOnStateChange(onStateChange),
	)
}

func (c *Client) logStateChange(name string, from, to circuitbreaker.State) {
	c.logger.Warn("webhook circuit state changed",
		"breaker", name,
		"from", from.String(),
		"to", to.String(),
	)
}

// Enabled reports whether the client has a receiver to deliver to.
func (c *Client) Enabled() bool {
	return c.config.URL != ""
}

// Send delivers a notification to the receiver. Transport faults and
// 5xx responses are retried with backoff; 4xx responses are not, since
// resending the same payload cannot fix them. Repeated failures open
// the circuit and later sends fail fast with ErrCircuitOpen.
func (c *Client) Send(ctx context.Context, n Notification) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.post(ctx, body)
		})
	})
}

// post performs a single delivery attempt.
func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Secret != "" {
		req.Header.Set("X-Webhook-Secret", c.config.Secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("receiver returned status %d", resp.StatusCode))
	default:
		return retry.Permanent(fmt.Errorf("receiver rejected delivery with status %d", resp.StatusCode))
	}
}
