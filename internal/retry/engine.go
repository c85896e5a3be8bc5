// Package retry implements RetryEngine: exponential backoff
// with jitter, per-error classification, and per-category delay
// multipliers, gated by an injected CircuitBreaker.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/circuitbreaker"
)

// Config mirrors the operator's retry.* options.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterRatio       float64
}

// Category names the booking step an Execute call belongs to. It is passed
// to Policy.Retryable; DefaultPolicy treats every category alike, and
// backoff timing does not depend on it.
type Category string

const (
	CategoryNavigation Category = "navigation"
	CategorySearch     Category = "search"
	CategoryAction     Category = "action"
	CategoryConfirm    Category = "confirm"
)

// delayMultipliers are applied on top of the base exponential delay:
// rate-limit gets the largest multiplier, element-not-found the smallest.
var delayMultipliers = map[bookingerr.Kind]float64{
	bookingerr.KindRateLimited:     3.0,
	bookingerr.KindServerError:     2.0,
	bookingerr.KindNetwork:         1.5,
	bookingerr.KindTimeout:         1.2,
	bookingerr.KindElementNotFound: 0.5,
}

const minDelay = 100 * time.Millisecond

// Policy decides whether a classified error is retryable in the context of
// a specific operation category.
type Policy interface {
	Retryable(category Category, kind bookingerr.Kind) bool
}

// DefaultPolicy retries everything Kind.Retryable() allows, regardless of
// category. Backoff timing depends on the error Kind via delayMultipliers.
type DefaultPolicy struct{}

func (DefaultPolicy) Retryable(_ Category, kind bookingerr.Kind) bool {
	return kind.Retryable()
}

// Attempt records one try within a RetryEngine.Execute call, surfaced to
// callers as the retry-details timeline of a booking result.
type Attempt struct {
	Number    int
	Err       error
	Kind      bookingerr.Kind
	Delay     time.Duration
	StartedAt time.Time
	Duration  time.Duration
}

// Result is returned by Execute.
type Result struct {
	Success       bool
	Attempts      int
	RetryDetails  []Attempt
	TotalDuration time.Duration
	LastErr       error
}

// Engine implements RetryEngine, gated by a CircuitBreaker.
type Engine struct {
	cfg     Config
	breaker *circuitbreaker.Breaker
	policy  Policy
	sleepFn func(context.Context, time.Duration) error
	rngFn   func() float64
}

// New constructs a RetryEngine. breaker may be nil to disable circuit
// breaking entirely (circuitBreaker.enabled=false upstream).
func New(cfg Config, breaker *circuitbreaker.Breaker, policy Policy) *Engine {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	return &Engine{
		cfg:     cfg,
		breaker: breaker,
		policy:  policy,
		sleepFn: cooperativeSleep,
		rngFn:   rand.Float64,
	}
}

func cooperativeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return bookingerr.New(bookingerr.KindCancelled, "retry", "sleep cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Operation is the unit of work RetryEngine executes and retries.
type Operation func(ctx context.Context) error

// Execute runs operation under the retry/circuit-breaker policy for the
// given category.
func (e *Engine) Execute(ctx context.Context, category Category, op Operation) Result {
	start := time.Now()

	if e.breaker != nil && !e.breaker.Allow() {
		return Result{
			Success: false,
			LastErr: bookingerr.New(bookingerr.KindCircuitOpen, "retry", "circuit open, failing fast", nil),
		}
	}

	var details []Attempt
	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			cancelErr := bookingerr.New(bookingerr.KindCancelled, "retry", "context cancelled", ctx.Err())
			details = append(details, Attempt{Number: attempt, Err: cancelErr, Kind: bookingerr.KindCancelled, StartedAt: time.Now()})
			if e.breaker != nil {
				e.breaker.RecordFailure()
			}
			return Result{Success: false, Attempts: attempt, RetryDetails: details, TotalDuration: time.Since(start), LastErr: cancelErr}
		}

		attemptStart := time.Now()
		err := op(ctx)
		duration := time.Since(attemptStart)

		if err == nil {
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			details = append(details, Attempt{Number: attempt, StartedAt: attemptStart, Duration: duration})
			return Result{Success: true, Attempts: attempt, RetryDetails: details, TotalDuration: time.Since(start)}
		}

		kind := Classify(err)
		retryable := e.policy.Retryable(category, kind) && attempt < maxAttempts

		var delay time.Duration
		if retryable {
			delay = e.computeDelay(attempt, kind)
		}

		details = append(details, Attempt{
			Number: attempt, Err: err, Kind: kind, Delay: delay,
			StartedAt: attemptStart, Duration: duration,
		})

		if !retryable {
			if e.breaker != nil {
				e.breaker.RecordFailure()
			}
			return Result{Success: false, Attempts: attempt, RetryDetails: details, TotalDuration: time.Since(start), LastErr: err}
		}

		if sleepErr := e.sleepFn(ctx, delay); sleepErr != nil {
			if e.breaker != nil {
				e.breaker.RecordFailure()
			}
			return Result{Success: false, Attempts: attempt, RetryDetails: details, TotalDuration: time.Since(start), LastErr: sleepErr}
		}
	}

	// Exhausted all attempts; the last recorded attempt carries the final error.
	var lastErr error
	if len(details) > 0 {
		lastErr = details[len(details)-1].Err
	}
	if e.breaker != nil {
		e.breaker.RecordFailure()
	}
	return Result{Success: false, Attempts: len(details), RetryDetails: details, TotalDuration: time.Since(start), LastErr: lastErr}
}

// computeDelay computes min(initialDelay * multiplier^(attempt-1), maxDelay)
// with symmetric jitter of +-jitterRatio*delay, floored at 100ms; when
// MaxDelay is set below 100ms, MaxDelay wins.
func (e *Engine) computeDelay(attempt int, kind bookingerr.Kind) time.Duration {
	base := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.BackoffMultiplier, float64(attempt-1))
	if catMult, ok := delayMultipliers[kind]; ok {
		base *= catMult
	}

	maxDelay := float64(e.cfg.MaxDelay)
	if maxDelay > 0 && base > maxDelay {
		base = maxDelay
	}

	jitterSpan := base * e.cfg.JitterRatio
	jitter := (e.rngFn()*2 - 1) * jitterSpan // uniform in [-jitterSpan, +jitterSpan]
	delay := time.Duration(base + jitter)

	if delay < minDelay {
		delay = minDelay
	}
	if e.cfg.MaxDelay > 0 && delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	return delay
}
