package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"coursebot/internal/domain"
)

// =============================================================================
// RetryConfig
// =============================================================================

// Config controls retry behaviour for external API calls.
type Config struct {
	MaxRetries     int           `json:"maxRetries"`     // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration `json:"initialBackoff"` // Delay before first retry
	MaxBackoff     time.Duration `json:"maxBackoff"`     // Upper bound on backoff duration
	Multiplier     float64       `json:"multiplier"`     // Backoff multiplier (e.g. 2.0 for exponential)
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

// retryableStatusCodes are HTTP status codes that indicate a transient
// failure; 529 is Anthropic's "overloaded".
var retryableStatusCodes = []int{429, 500, 502, 503, 504, 529}

// statusCoder is implemented by API errors that carry an HTTP status.
type statusCoder interface {
	Status() int
}

// IsRetryable returns true when err represents a transient failure that may
// succeed on retry (5xx, 429, timeout, connection refused, EOF).
// Context errors (Canceled, DeadlineExceeded) are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// net.Error timeout (wraps OS-level i/o timeout)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return slices.Contains(retryableStatusCodes, sc.Status())
	}

	msg := err.Error()
	for _, code := range retryableStatusCodes {
		if strings.Contains(msg, "status "+strconv.Itoa(code)) {
			return true
		}
	}

	// Connection-level transient failures
	if strings.Contains(msg, "connection refused") {
		return true
	}
	if strings.Contains(msg, "EOF") {
		return true
	}

	return false
}

// =============================================================================
// RetryableGateway (Decorator)
// =============================================================================

// RetryableGateway wraps a ModelGateway with retry-on-transient-error logic.
type RetryableGateway struct {
	inner     domain.ModelGateway
	config    Config
	sleepFunc func(context.Context, time.Duration) error // injectable for testing
}

// NewRetryableGateway returns a decorator that retries Complete calls on
// transient errors. inner must not be nil.
func NewRetryableGateway(inner domain.ModelGateway, cfg Config) *RetryableGateway {
	if inner == nil {
		panic("retry: inner gateway must not be nil")
	}
	return &RetryableGateway{
		inner:     inner,
		config:    cfg,
		sleepFunc: sleepCtx,
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete calls the inner gateway and retries on transient errors with
// exponential backoff. Returns the first successful completion, or the last
// error after retries are exhausted.
func (g *RetryableGateway) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	var lastErr error
	backoff := g.config.InitialBackoff

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		out, err := g.inner.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == g.config.MaxRetries {
			break
		}

		if err := g.sleepFunc(ctx, backoff); err != nil {
			return nil, err
		}

		next := time.Duration(float64(backoff) * g.config.Multiplier)
		if next > g.config.MaxBackoff {
			next = g.config.MaxBackoff
		}
		backoff = next
	}

	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", g.config.MaxRetries+1, lastErr)
}

var _ domain.ModelGateway = (*RetryableGateway)(nil)
