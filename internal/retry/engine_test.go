package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/circuitbreaker"
	"github.com/trytofly94/squash-booker/internal/retry"
)

func baseCfg() retry.Config {
	return retry.Config{
		MaxAttempts:       4,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          200 * time.Millisecond,
		BackoffMultiplier: 2,
		JitterRatio:       0.1,
	}
}

func TestEngine_SucceedsFirstTry(t *testing.T) {
	eng := retry.New(baseCfg(), nil, nil)
	res := eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		return nil
	})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	eng := retry.New(baseCfg(), nil, nil)
	calls := 0
	res := eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return bookingerr.New(bookingerr.KindNetwork, "test", "flaky", nil)
		}
		return nil
	})
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
}

func TestEngine_NonRetryableFailsImmediately(t *testing.T) {
	eng := retry.New(baseCfg(), nil, nil)
	calls := 0
	res := eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		calls++
		return bookingerr.New(bookingerr.KindValidation, "test", "bad input", nil)
	})
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
}

func TestEngine_ExhaustsAttempts(t *testing.T) {
	eng := retry.New(baseCfg(), nil, nil)
	calls := 0
	res := eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		calls++
		return bookingerr.New(bookingerr.KindTimeout, "test", "always fails", nil)
	})
	assert.False(t, res.Success)
	assert.Equal(t, 4, calls)
	assert.Len(t, res.RetryDetails, 4)
}

func TestEngine_CircuitOpenFailsFast(t *testing.T) {
	b := circuitbreaker.New(circuitbreaker.Config{Enabled: true, FailureThreshold: 1, OpenTimeout: time.Hour, SuccessThreshold: 1})
	eng := retry.New(baseCfg(), b, nil)

	calls := 0
	eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		calls++
		return bookingerr.New(bookingerr.KindNetwork, "test", "fail", nil)
	})
	require.Equal(t, circuitbreaker.Open, b.State())

	before := calls
	res := eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.False(t, res.Success)
	assert.Equal(t, bookingerr.KindCircuitOpen, bookingerr.KindOf(res.LastErr))
	assert.Equal(t, before, calls) // operation was never invoked
}

func TestEngine_CancellationIsNonRetryable(t *testing.T) {
	eng := retry.New(baseCfg(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := eng.Execute(ctx, retry.CategoryAction, func(ctx context.Context) error {
		return errors.New("should not be called")
	})
	assert.False(t, res.Success)
	assert.Equal(t, bookingerr.KindCancelled, bookingerr.KindOf(res.LastErr))
}

func TestEngine_DelayNeverBelow100msOrAboveMax(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 10, InitialDelay: 1 * time.Millisecond, MaxDelay: 150 * time.Millisecond, BackoffMultiplier: 5, JitterRatio: 0.9}
	eng := retry.New(cfg, nil, nil)

	res := eng.Execute(context.Background(), retry.CategoryAction, func(ctx context.Context) error {
		return bookingerr.New(bookingerr.KindTimeout, "test", "fail", nil)
	})
	for _, a := range res.RetryDetails {
		if a.Delay == 0 {
			continue
		}
		assert.GreaterOrEqual(t, a.Delay, 100*time.Millisecond)
		assert.LessOrEqual(t, a.Delay, 150*time.Millisecond)
	}
}

func TestClassify_MapsKnownPatterns(t *testing.T) {
	assert.Equal(t, bookingerr.KindTimeout, retry.Classify(errors.New("request timeout")))
	assert.Equal(t, bookingerr.KindNetwork, retry.Classify(errors.New("connection reset by peer")))
	assert.Equal(t, bookingerr.KindRateLimited, retry.Classify(errors.New("429 too many requests")))
	assert.Equal(t, bookingerr.KindServerError, retry.Classify(errors.New("500 internal server error")))
	assert.Equal(t, bookingerr.KindElementNotFound, retry.Classify(errors.New("element not found: selector")))
}
