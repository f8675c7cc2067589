package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"coursebot/internal/domain"
)

// =============================================================================
// RetryConfig Tests
// =============================================================================

func TestDefaultRetryConfig_ShouldHaveReasonableDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("want MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Errorf("want InitialBackoff=500ms, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Errorf("want MaxBackoff=30s, got %v", cfg.MaxBackoff)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("want Multiplier=2.0, got %v", cfg.Multiplier)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"zero initial backoff", func(c *Config) { c.InitialBackoff = 0 }, true},
		{"zero max backoff", func(c *Config) { c.MaxBackoff = 0 }, true},
		{"multiplier below one", func(c *Config) { c.Multiplier = 0.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// IsRetryable Tests
// =============================================================================

type statusErr int

func (e statusErr) Error() string { return fmt.Sprintf("http %d", int(e)) }
func (e statusErr) Status() int   { return int(e) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{"net timeout", timeoutErr{}, true},
		{"typed 429", fmt.Errorf("anthropic api: %w", statusErr(429)), true},
		{"typed 529", statusErr(529), true},
		{"typed 400", statusErr(400), false},
		{"typed 401", statusErr(401), false},
		{"message 503", errors.New("api status 503: overloaded"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"plain", errors.New("bad request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// =============================================================================
// RetryableGateway Tests
// =============================================================================

type flakyGateway struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyGateway) Complete(_ context.Context, _ domain.CompletionRequest) (*domain.Completion, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, f.err
	}
	return &domain.Completion{Content: []domain.ContentBlock{domain.TextBlock{Text: "ok"}}}, nil
}

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}
}

func recordSleeps(g *RetryableGateway) *[]time.Duration {
	var sleeps []time.Duration
	g.sleepFunc = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return &sleeps
}

func TestNewRetryableGateway_WhenInnerNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil inner gateway")
		}
	}()
	NewRetryableGateway(nil, DefaultConfig())
}

func TestRetryableGateway_Complete_WhenTransientThenSuccess_ShouldRetry(t *testing.T) {
	inner := &flakyGateway{failures: 2, err: statusErr(503)}
	g := NewRetryableGateway(inner, fastConfig(3))
	sleeps := recordSleeps(g)

	out, err := g.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out == nil || inner.calls.Load() != 3 {
		t.Errorf("expected success on third call, got %d calls", inner.calls.Load())
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != time.Millisecond || (*sleeps)[1] != 2*time.Millisecond {
		t.Errorf("unexpected backoff sequence %v", *sleeps)
	}
}

func TestRetryableGateway_Complete_ShouldCapBackoff(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: statusErr(500)}
	g := NewRetryableGateway(inner, fastConfig(5))
	sleeps := recordSleeps(g)

	_, _ = g.Complete(context.Background(), domain.CompletionRequest{})

	for _, d := range *sleeps {
		if d > 4*time.Millisecond {
			t.Errorf("backoff %v exceeds max", d)
		}
	}
}

func TestRetryableGateway_Complete_WhenExhausted_ShouldWrapLastError(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: statusErr(429)}
	g := NewRetryableGateway(inner, fastConfig(2))
	recordSleeps(g)

	_, err := g.Complete(context.Background(), domain.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	var se statusErr
	if !errors.As(err, &se) || se != 429 {
		t.Errorf("expected wrapped 429, got %v", err)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("want 3 attempts, got %d", inner.calls.Load())
	}
}

func TestRetryableGateway_Complete_WhenNotRetryable_ShouldReturnImmediately(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: statusErr(401)}
	g := NewRetryableGateway(inner, fastConfig(3))
	recordSleeps(g)

	_, err := g.Complete(context.Background(), domain.CompletionRequest{})
	if err == nil || inner.calls.Load() != 1 {
		t.Errorf("expected single failed attempt, got %d calls, err %v", inner.calls.Load(), err)
	}
}

func TestRetryableGateway_Complete_WhenContextCanceledDuringBackoff_ShouldStop(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: statusErr(503)}
	g := NewRetryableGateway(inner, Config{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Complete(ctx, domain.CompletionRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want DeadlineExceeded, got %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("want 1 attempt, got %d", inner.calls.Load())
	}
}
