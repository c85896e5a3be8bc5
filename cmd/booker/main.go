// Command booker drives one (or, on a cron schedule, repeated) booking
// attempts against the configured court-booking site: flag parsing, viper
// config, a robfig/cron recurring run, and a dry-run safety switch in
// front of the resilience/selection/detection engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/trytofly94/squash-booker/internal/analytics"
	"github.com/trytofly94/squash-booker/internal/circuitbreaker"
	"github.com/trytofly94/squash-booker/internal/config"
	"github.com/trytofly94/squash-booker/internal/datetime"
	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/dryrun"
	"github.com/trytofly94/squash-booker/internal/logging"
	"github.com/trytofly94/squash-booker/internal/matrix"
	"github.com/trytofly94/squash-booker/internal/pattern"
	"github.com/trytofly94/squash-booker/internal/pattern/redispattern"
	"github.com/trytofly94/squash-booker/internal/retry"
	"github.com/trytofly94/squash-booker/internal/scoring"
	"github.com/trytofly94/squash-booker/internal/selector"
	"github.com/trytofly94/squash-booker/internal/sessionpool"
	"github.com/trytofly94/squash-booker/internal/slotpair"
	"github.com/trytofly94/squash-booker/internal/statemachine"
	"github.com/trytofly94/squash-booker/internal/success"
	"github.com/trytofly94/squash-booker/internal/timeslot"
	"github.com/trytofly94/squash-booker/pkg/chromedriver"
)

func main() {
	configPath := flag.String("config", "", "path to booker.yaml (defaults to ./booker.yaml if present)")
	once := flag.Bool("once", false, "run a single booking attempt and exit, instead of the cron schedule")
	forceDryRun := flag.Bool("dry-run", false, "force dryRun=true regardless of config (safety override)")
	forceLive := flag.Bool("live", false, "force dryRun=false regardless of config (DANGEROUS: issues a real booking)")
	cronSpec := flag.String("cron", "0 9 * * *", "cron schedule for the recurring attempt (default: 09:00 daily)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "booker: invalid configuration:", err)
		os.Exit(1)
	}
	if *forceDryRun {
		cfg.DryRun = true
	}
	if *forceLive {
		cfg.DryRun = false
	}

	log, err := logging.New(cfg.LogLevel, cfg.Production)
	if err != nil {
		fmt.Fprintln(os.Stderr, "booker: failed to init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	app, err := buildApp(cfg, log)
	if err != nil {
		log.Errorw("booker: failed to build application", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.DryRun {
		log.Infow("dry-run mode active: no commit action will be issued")
	} else {
		log.Warnw("LIVE mode active: this run can issue a real booking transaction")
	}

	runOnce := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		result := app.runAttempt(ctx)
		if result.Success {
			court, start := "", ""
			if result.BookedPair != nil {
				court, start = result.BookedPair.CourtID, result.BookedPair.Slot1.StartTime
			}
			log.Infow("booking attempt succeeded",
				"court", court, "startTime", start, "retryAttempts", result.RetryAttempts)
		} else {
			log.Warnw("booking attempt failed", "err", result.Err, "retryAttempts", result.RetryAttempts,
				"circuitBreakerTripped", result.CircuitBreakerTripped)
		}
	}

	if *once {
		runOnce()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*cronSpec, runOnce); err != nil {
		log.Errorw("booker: invalid cron schedule", "cron", *cronSpec, "err", err)
		os.Exit(1)
	}
	log.Infow("booker started", "cron", *cronSpec, "pressCtrlC", "to stop")
	c.Start()
	defer c.Stop()

	select {} // the cron scheduler runs forever until the process is killed
}

// app wires every engine component for one process lifetime: the
// CircuitBreaker and SelectorCache are shared across attempts, driver
// sessions come from the session pool and may be reused, and the
// CalendarMatrix and CourtScores are rebuilt every attempt.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	pool    *sessionpool.Pool
	breaker *circuitbreaker.Breaker
	cache   *selector.Cache
	calc    *datetime.Calculator
	patterns pattern.Updater
	patternQuery scoring.PatternQuery
	analyticsStore *analytics.Analytics
	sink    *analytics.LiveDetectionSink
	redisClient *redis.Client
}

func buildApp(cfg *config.Config, log *logging.Logger) (*app, error) {
	calc, err := datetime.New(cfg.Timezone, nil)
	if err != nil {
		return nil, err
	}

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreaker.Enabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			Enabled:          cfg.CircuitBreaker.Enabled,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			ResetOnSuccess:   cfg.CircuitBreaker.ResetOnSuccess,
		})
	}

	var cache *selector.Cache
	if cfg.SelectorCache.Enabled {
		cache = selector.NewCache(cfg.SelectorCache.MaxSize, cfg.SelectorCache.TTL)
	}

	patterns, patternQuery, redisClient, err := buildPatternStore(cfg)
	if err != nil {
		return nil, err
	}

	pool := sessionpool.New(sessionpool.Config{
		MaxSize: 4, MaxAge: 30 * time.Minute, MinWarm: 0, HealthCheckPeriod: 0,
	}, func(ctx context.Context) (driver.PageDriver, error) {
		return chromedriver.New(ctx, chromedriver.DefaultOptions(), log)
	}, nil, log)

	a := &app{
		cfg: cfg, log: log, pool: pool, breaker: breaker, cache: cache, calc: calc,
		patterns: patterns, patternQuery: patternQuery,
		analyticsStore: analytics.New(cfg.OutputDir),
		sink:           analytics.NewLiveDetectionSink(),
		redisClient:    redisClient,
	}
	return a, nil
}

// buildPatternStore selects the PatternStore backend per
// patternLearning.backend: "file" (the
// default JSON document) or "redis" (redispattern.Store, via a narrow
// Adapter so both backends satisfy the same pattern.Updater /
// scoring.PatternQuery ports).
func buildPatternStore(cfg *config.Config) (pattern.Updater, scoring.PatternQuery, *redis.Client, error) {
	if !cfg.PatternLearning.Enabled {
		return nil, nil, nil, nil
	}
	switch cfg.PatternLearning.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.PatternLearning.RedisAddr, DB: cfg.PatternLearning.RedisDB})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("booker: redis pattern store unreachable: %w", err)
		}
		store := redispattern.New(client, cfg.PatternLearning.RedisKeyPrefix)
		adapter := redispattern.NewAdapter(store)
		return adapter, adapter, client, nil
	default:
		store := pattern.New(cfg.PatternLearning.FilePath)
		if err := store.Load(); err != nil {
			return nil, nil, nil, fmt.Errorf("booker: loading pattern store: %w", err)
		}
		return store, store, nil, nil
	}
}

func (a *app) Close() {
	_ = a.pool.Close()
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
}

// runAttempt acquires a driver session from the pool (released back, or
// discarded if unhealthy, when the attempt ends), builds a fresh
// CalendarMatrix extractor, scorer and retry engines for the attempt,
// then drives the BookingStateMachine.
func (a *app) runAttempt(ctx context.Context) statemachine.Result {
	correlationID := uuid.NewString()
	log := a.log.WithCorrelation(correlationID, "booker")

	d, err := a.pool.Acquire(ctx)
	if err != nil {
		log.Errorw("failed to acquire driver session", "err", err)
		return statemachine.Result{Success: false, Err: err, Timestamp: time.Now()}
	}
	healthy := true
	defer func() {
		if healthy {
			a.pool.Release(d)
		} else {
			a.pool.Discard(d)
		}
	}()

	now := time.Now()
	bookingDate := a.calc.BookingDate(now, a.cfg.DaysAhead)
	dateStr := bookingDate.Format("2006-01-02")
	dayOfWeek := int(bookingDate.Weekday())

	scorer, err := scoring.New(scoring.Weights{
		Availability: a.cfg.CourtScoringWeights.Availability,
		Historical:   a.cfg.CourtScoringWeights.Historical,
		Preference:   a.cfg.CourtScoringWeights.Preference,
		Position:     a.cfg.CourtScoringWeights.Position,
	}, a.patternQuery, a.cfg.PatternLearning.MinAttempts)
	if err != nil {
		healthy = false
		return statemachine.Result{Success: false, Err: err, Timestamp: time.Now()}
	}

	generator := timeslot.New(a.calc, a.cfg.SelectorCache.TTL)
	pairSelector := slotpair.New(generator, scorer)

	engine := selector.New(d, a.cache, selector.DefaultTierSets(), a.log)
	extractor := matrix.New(d)

	detector := success.New(d, success.Config{
		NetworkTimeout:     a.cfg.SuccessDetection.NetworkTimeout,
		DOMTimeout:         a.cfg.SuccessDetection.DOMTimeout,
		URLCheckInterval:   a.cfg.SuccessDetection.URLCheckInterval,
		EnableNetwork:      a.cfg.SuccessDetection.EnableNetwork,
		EnableDOM:          a.cfg.SuccessDetection.EnableDOM,
		EnableURL:          a.cfg.SuccessDetection.EnableURL,
		EnableTextFallback: a.cfg.SuccessDetection.EnableTextFallback && !a.cfg.Production,
		TextKeywords:       a.cfg.SuccessDetection.TextKeywords,
	}, a.sink)

	deps := statemachine.Deps{
		Driver:          d,
		Selectors:       engine,
		SelectorCache:   a.cache,
		MatrixExtractor: extractor,
		PairSelector:    pairSelector,
		Detector:        detector,
		DryRunValidator: dryrun.New(),
		Patterns:        a.patterns,
		Analytics:       a.analyticsStore,
		DetectionSink:   a.sink,
		Logger:          a.log,
		BaseURL:         a.cfg.BaseURL,

		NavigationRetry: retry.New(a.retryConfig(), a.breaker, retry.DefaultPolicy{}),
		SearchRetry:     retry.New(a.retryConfig(), a.breaker, retry.DefaultPolicy{}),
		ActionRetry:     retry.New(a.retryConfig(), a.breaker, retry.DefaultPolicy{}),
		ConfirmRetry:    retry.New(a.retryConfig(), a.breaker, retry.DefaultPolicy{}),
	}

	machine := statemachine.New(deps)
	result := machine.Run(ctx, statemachine.Request{
		CorrelationID:   correlationID,
		Date:            dateStr,
		DayOfWeek:       dayOfWeek,
		PreferredCourts: a.cfg.PreferredCourts,
		DryRun:          a.cfg.DryRun,
		TimeSlotOptions: timeslot.Options{
			Target:        a.cfg.TargetStartTime,
			RangeMinutes:  a.cfg.FallbackTimeRange,
			StepMinutes:   30,
			Preferences:   a.cfg.TimePreferences,
			Strategy:      timeslot.StrategyGradual,
			BusinessOpen:  "08:00",
			BusinessClose: "22:00",
		},
	})

	if result.CircuitBreakerTripped {
		healthy = false
		log.Warnw("circuit breaker tripped during attempt", "correlationId", correlationID)
	}
	return result
}

func (a *app) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:       a.cfg.Retry.MaxAttempts,
		InitialDelay:      a.cfg.Retry.InitialDelay,
		MaxDelay:          a.cfg.Retry.MaxDelay,
		BackoffMultiplier: a.cfg.Retry.BackoffMultiplier,
		JitterRatio:       a.cfg.Retry.JitterRatio,
	}
}
