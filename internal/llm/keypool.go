package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"coursebot/internal/domain"
)

// KeyPool rotates round-robin over a fixed set of API keys. A key that hit a
// rate limit sits out for the cooldown period. Safe for concurrent use.
type KeyPool struct {
	mu       sync.Mutex
	keys     []string
	until    []time.Time // cooldown deadline per key; zero means available
	next     int
	cooldown time.Duration
	now      func() time.Time
}

// NewKeyPool returns a pool over keys. At least one key is required.
func NewKeyPool(keys []string, cooldown time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keypool: at least one key is required")
	}
	return &KeyPool{
		keys:     keys,
		until:    make([]time.Time, len(keys)),
		cooldown: cooldown,
		now:      time.Now,
	}, nil
}

func (kp *KeyPool) availableAt(i int, t time.Time) bool {
	return kp.until[i].IsZero() || t.After(kp.until[i])
}

// Next returns the next key not in cooldown together with its index.
func (kp *KeyPool) Next() (string, int, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	t := kp.now()
	for step := range kp.keys {
		i := (kp.next + step) % len(kp.keys)
		if kp.availableAt(i, t) {
			kp.next = (i + 1) % len(kp.keys)
			return kp.keys[i], i, nil
		}
	}
	return "", -1, fmt.Errorf("keypool: all %d keys are in cooldown", len(kp.keys))
}

// MarkCooldown benches key i. Out-of-range indices are ignored.
func (kp *KeyPool) MarkCooldown(i int) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if i >= 0 && i < len(kp.keys) {
		kp.until[i] = kp.now().Add(kp.cooldown)
	}
}

func (kp *KeyPool) Len() int { return len(kp.keys) }

// Available counts keys not in cooldown.
func (kp *KeyPool) Available() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	t := kp.now()
	n := 0
	for i := range kp.keys {
		if kp.availableAt(i, t) {
			n++
		}
	}
	return n
}

// =============================================================================
// Rate-limit detection
// =============================================================================

// isRateLimitError reports whether err is a 429 / rate-limit response.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// =============================================================================
// KeyPoolProvider (ModelGateway decorator)
// =============================================================================

// KeyPoolProvider wraps one gateway per API key and rotates between them using
// a KeyPool. On a 429 the current key is put in cooldown and the request is
// retried once with the next available key.
type KeyPoolProvider struct {
	pool      *KeyPool
	providers []domain.ModelGateway
}

// NewKeyPoolProvider creates a KeyPoolProvider. The pool and providers must have matching lengths.
func NewKeyPoolProvider(pool *KeyPool, providers []domain.ModelGateway) (*KeyPoolProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("keypool provider: pool must not be nil")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("keypool provider: at least one provider is required")
	}
	if pool.Len() != len(providers) {
		return nil, fmt.Errorf("keypool provider: pool size (%d) must match providers count (%d)", pool.Len(), len(providers))
	}
	return &KeyPoolProvider{
		pool:      pool,
		providers: providers,
	}, nil
}

// Complete implements domain.ModelGateway.
func (kpp *KeyPoolProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, idx, err := kpp.pool.Next()
	if err != nil {
		return nil, err
	}

	result, genErr := kpp.providers[idx].Complete(ctx, req)
	if genErr == nil {
		return result, nil
	}

	if !isRateLimitError(genErr) {
		return nil, genErr
	}

	kpp.pool.MarkCooldown(idx)

	_, idx2, err := kpp.pool.Next()
	if err != nil {
		return nil, fmt.Errorf("all keys in cooldown after rate limit: %w", genErr)
	}

	return kpp.providers[idx2].Complete(ctx, req)
}

// Compile-time check that KeyPoolProvider implements ModelGateway.
var _ domain.ModelGateway = (*KeyPoolProvider)(nil)
