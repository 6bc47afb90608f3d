// Package budget provides per-run token accounting and static plan
// admission checks. Budget violations are fatal to the current attempt;
// nothing in this package retries.
package budget

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unicode/utf8"
)

// charsPerToken is the coarse estimation heuristic: four characters per
// token, language-agnostic, chosen for cheap bounding rather than precision.
const charsPerToken = 4

// ErrInvalidConfig is returned when a budget is constructed with a
// non-positive or non-finite total.
var ErrInvalidConfig = errors.New("invalid token budget configuration")

// ErrExceeded is the sentinel for any token budget breach. Callers may
// treat it as retriable: resubmitting with a fresh budget is allowed,
// the current attempt is not.
var ErrExceeded = errors.New("token budget exceeded")

// ExceededError reports an attempt to consume past the remaining balance.
type ExceededError struct {
	Requested float64
	Remaining int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("token budget exceeded: requested %.0f, remaining %d", e.Requested, e.Remaining)
}

func (e *ExceededError) Unwrap() error { return ErrExceeded }

// Retriable marks the breach as a throttling condition rather than a
// permanent failure.
func (e *ExceededError) Retriable() bool { return true }

// TokenBudget tracks the remaining token allowance for a single run.
// It is scoped per run/session and must never be shared across runs.
type TokenBudget struct {
	mu        sync.Mutex
	total     float64
	remaining float64
	minimum   int
}

// TokenBudgetOption configures a TokenBudget.
type TokenBudgetOption func(*TokenBudget)

// WithMinimumTokens sets the floor returned by EstimatePromptTokens for
// non-empty input.
func WithMinimumTokens(n int) TokenBudgetOption {
	return func(b *TokenBudget) {
		if n > 0 {
			b.minimum = n
		}
	}
}

// NewTokenBudget creates a budget seeded with totalTokens. The total must
// be strictly positive and finite.
func NewTokenBudget(totalTokens float64, opts ...TokenBudgetOption) (*TokenBudget, error) {
	if totalTokens <= 0 || math.IsNaN(totalTokens) || math.IsInf(totalTokens, 0) {
		return nil, fmt.Errorf("%w: total %v must be a positive finite number", ErrInvalidConfig, totalTokens)
	}
	b := &TokenBudget{total: totalTokens, remaining: totalTokens}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// EstimatePromptTokens returns a deterministic token estimate for text:
// max(minimum, ceil(characters/4)), or 0 for empty input.
func (b *TokenBudget) EstimatePromptTokens(text string) int {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	est := (chars + charsPerToken - 1) / charsPerToken
	if est < b.minimum {
		est = b.minimum
	}
	return est
}

// Consume decrements the remaining balance by tokens. Non-positive or
// non-finite amounts are ignored. A decrement that would drive the balance
// negative returns an ExceededError and leaves the balance unchanged.
func (b *TokenBudget) Consume(tokens float64) error {
	if tokens <= 0 || math.IsNaN(tokens) || math.IsInf(tokens, 0) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining < tokens {
		return &ExceededError{Requested: tokens, Remaining: b.remainingLocked()}
	}
	b.remaining -= tokens
	return nil
}

// Remaining reports the current balance, floored at zero.
func (b *TokenBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked()
}

func (b *TokenBudget) remainingLocked() int {
	if b.remaining <= 0 {
		return 0
	}
	return int(math.Floor(b.remaining))
}

// Reset restores the balance to the original total.
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = b.total
}
