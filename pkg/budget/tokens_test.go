package budget_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cleargrid-labs/conductor/pkg/budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenBudgetRejectsInvalidTotals(t *testing.T) {
	for _, total := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := budget.NewTokenBudget(total)
		assert.ErrorIs(t, err, budget.ErrInvalidConfig, "total %v", total)
	}
}

func TestEstimatePromptTokens(t *testing.T) {
	b, err := budget.NewTokenBudget(1000)
	require.NoError(t, err)

	assert.Equal(t, 0, b.EstimatePromptTokens(""))
	assert.Equal(t, 1, b.EstimatePromptTokens("abc"))
	assert.Equal(t, 1, b.EstimatePromptTokens("abcd"))
	assert.Equal(t, 2, b.EstimatePromptTokens("abcde"))
	assert.Equal(t, 25, b.EstimatePromptTokens(strings.Repeat("x", 100)))
}

func TestEstimatePromptTokensHonorsMinimum(t *testing.T) {
	b, err := budget.NewTokenBudget(1000, budget.WithMinimumTokens(10))
	require.NoError(t, err)

	assert.Equal(t, 0, b.EstimatePromptTokens(""), "empty input stays zero")
	assert.Equal(t, 10, b.EstimatePromptTokens("ab"))
	assert.Equal(t, 25, b.EstimatePromptTokens(strings.Repeat("x", 100)))
}

func TestConsumeIgnoresNonPositiveAndNonFinite(t *testing.T) {
	b, err := budget.NewTokenBudget(100)
	require.NoError(t, err)

	for _, tokens := range []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		require.NoError(t, b.Consume(tokens), "tokens %v", tokens)
		assert.Equal(t, 100, b.Remaining())
	}
}

func TestConsumeDecrementsAndRejectsOverdraft(t *testing.T) {
	b, err := budget.NewTokenBudget(100)
	require.NoError(t, err)

	require.NoError(t, b.Consume(60))
	assert.Equal(t, 40, b.Remaining())

	err = b.Consume(41)
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrExceeded)

	var exceeded *budget.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, float64(41), exceeded.Requested)
	assert.Equal(t, 40, exceeded.Remaining)
	assert.True(t, exceeded.Retriable())

	// Balance is unchanged after the rejected overdraft.
	assert.Equal(t, 40, b.Remaining())
	require.NoError(t, b.Consume(40))
	assert.Equal(t, 0, b.Remaining())
}

func TestConsumeExactBalanceThenReset(t *testing.T) {
	b, err := budget.NewTokenBudget(32)
	require.NoError(t, err)

	require.NoError(t, b.Consume(32))
	assert.Equal(t, 0, b.Remaining())
	assert.Error(t, b.Consume(1))

	b.Reset()
	assert.Equal(t, 32, b.Remaining())
}

func TestRemainingNeverNegative(t *testing.T) {
	b, err := budget.NewTokenBudget(10)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_ = b.Consume(3)
		assert.GreaterOrEqual(t, b.Remaining(), 0)
	}
}

func TestConsumeIsSafeUnderConcurrency(t *testing.T) {
	b, err := budget.NewTokenBudget(1000)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				if err := b.Consume(1); err != nil {
					require.True(t, errors.Is(err, budget.ErrExceeded))
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, 0, b.Remaining())
}
