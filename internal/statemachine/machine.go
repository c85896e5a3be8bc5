// Package statemachine implements BookingStateMachine: the
// orchestrator driving one booking attempt through
// INIT → NAVIGATED → MATRIX_LOADED → PAIR_SELECTED → ACTED → CONFIRMED|FAILED,
// running the navigation, search, action and confirm steps each under its
// own RetryEngine from Deps with its own retry.Category; pair selection
// runs once, without retry.
package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trytofly94/squash-booker/internal/analytics"
	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/datetime"
	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/dryrun"
	"github.com/trytofly94/squash-booker/internal/logging"
	"github.com/trytofly94/squash-booker/internal/matrix"
	"github.com/trytofly94/squash-booker/internal/pattern"
	"github.com/trytofly94/squash-booker/internal/retry"
	"github.com/trytofly94/squash-booker/internal/selector"
	"github.com/trytofly94/squash-booker/internal/slotpair"
	"github.com/trytofly94/squash-booker/internal/success"
	"github.com/trytofly94/squash-booker/internal/timeslot"
)

// State is one step of the BookingStateMachine.
type State string

const (
	StateInit         State = "INIT"
	StateNavigated    State = "NAVIGATED"
	StateMatrixLoaded State = "MATRIX_LOADED"
	StatePairSelected State = "PAIR_SELECTED"
	StateActed        State = "ACTED"
	StateConfirmed    State = "CONFIRMED"
	StateFailed       State = "FAILED"
)

// Request is one booking attempt's input, built from operator config for a
// single target date.
type Request struct {
	CorrelationID   string
	Date            string // YYYY-MM-DD
	DayOfWeek       int
	PreferredCourts []string
	DryRun          bool
	TimeSlotOptions timeslot.Options
}

// Result is BookingResult.
type Result struct {
	Success               bool
	BookedPair            *slotpair.Pair
	Err                   error
	RetryAttempts         int
	RetryDetails          []retry.Attempt
	CircuitBreakerTripped bool
	Timestamp             time.Time
	FinalState            State
}

// Deps wires a Machine to its collaborators. Patterns is the narrow
// pattern.Updater write port, never the full *pattern.Store, so the state
// machine and CourtScorer (which depends on the read-only PatternQuery port)
// never import each other's concrete types.
type Deps struct {
	Driver          driver.PageDriver
	Selectors       *selector.Engine
	SelectorCache   *selector.Cache // may be nil; used only to report metrics
	MatrixExtractor *matrix.Extractor
	PairSelector    *slotpair.Selector
	Detector        *success.Detector
	DryRunValidator *dryrun.Validator
	Patterns        pattern.Updater
	Analytics       *analytics.Analytics
	// DetectionSink, if set, is bound to each attempt's RunBuilder so the
	// Detector's per-strategy records land in that attempt's report.
	// May be nil.
	DetectionSink *analytics.LiveDetectionSink
	Logger        *logging.Logger

	NavigationRetry *retry.Engine
	SearchRetry     *retry.Engine
	ActionRetry     *retry.Engine
	ConfirmRetry    *retry.Engine

	BaseURL string
}

// Machine implements BookingStateMachine.
type Machine struct {
	d Deps
}

// New constructs a Machine from its collaborators.
func New(d Deps) *Machine {
	if d.Logger == nil {
		d.Logger = logging.Noop()
	}
	return &Machine{d: d}
}

// Run drives one booking attempt end to end. It never panics on a
// collaborator failure: a step's error is classified, retried by that
// step's RetryEngine where the step has one, and surfaced as a FAILED
// Result.
func (m *Machine) Run(ctx context.Context, req Request) Result {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	log := m.d.Logger.WithCorrelation(req.CorrelationID, "statemachine")

	var run *analytics.RunBuilder
	if m.d.Analytics != nil {
		run = m.d.Analytics.NewRun(req.CorrelationID, req.DryRun)
	}
	if m.d.DetectionSink != nil {
		m.d.DetectionSink.Bind(run)
		defer m.d.DetectionSink.Clear()
	}

	state := StateInit
	var aggregateRetries []retry.Attempt
	var circuitTripped bool

	// Subscribe for the attempt's lifetime so network confirmations fired
	// any time after navigation (including mid-action) are captured for the
	// confirm step's Detect call.
	var eventsMu sync.Mutex
	var pendingEvents []driver.ResponseEvent
	unsubscribe := m.d.Driver.OnResponse(func(evt driver.ResponseEvent) {
		eventsMu.Lock()
		pendingEvents = append(pendingEvents, evt)
		eventsMu.Unlock()
	})
	defer unsubscribe()
	snapshotEvents := func() []driver.ResponseEvent {
		eventsMu.Lock()
		defer eventsMu.Unlock()
		out := make([]driver.ResponseEvent, len(pendingEvents))
		copy(out, pendingEvents)
		return out
	}

	record := func(res retry.Result) {
		aggregateRetries = append(aggregateRetries, res.RetryDetails...)
		if bookingerr.KindOf(res.LastErr) == bookingerr.KindCircuitOpen {
			circuitTripped = true
		}
	}

	// selectedPair is set once PAIR_SELECTED is reached, so late failures
	// are attributed to the pair's court in the pattern store. Failures
	// before a pair exists record nothing, and neither do circuit-open
	// aborts.
	var selectedPair *slotpair.Pair

	fail := func(err error) Result {
		state = StateFailed
		log.Warnw("booking attempt failed", "state", state, "err", err)
		if !circuitTripped {
			m.recordOutcome(req, selectedPair, pattern.Failure)
		}
		return m.finish(run, log, Result{
			Success: false, Err: err, RetryAttempts: len(aggregateRetries),
			RetryDetails: aggregateRetries, CircuitBreakerTripped: circuitTripped,
			FinalState: state,
		}, nil)
	}

	// INIT -> NAVIGATED
	navResult := m.d.NavigationRetry.Execute(ctx, retry.CategoryNavigation, func(ctx context.Context) error {
		return m.d.Driver.Navigate(ctx, m.buildURL(req))
	})
	record(navResult)
	if !navResult.Success {
		return fail(navResult.LastErr)
	}
	state = StateNavigated

	// NAVIGATED -> MATRIX_LOADED
	var m1 *matrix.Matrix
	searchResult := m.d.SearchRetry.Execute(ctx, retry.CategorySearch, func(ctx context.Context) error {
		found, err := m.d.Selectors.Find(ctx, selector.CategorySlot, "")
		if err != nil {
			return err
		}
		extracted, extractErr := m.d.MatrixExtractor.Extract(ctx, found.Selector, nil)
		if extractErr != nil {
			return extractErr
		}
		m1 = extracted
		return nil
	})
	record(searchResult)
	if !searchResult.Success {
		return fail(searchResult.LastErr)
	}
	state = StateMatrixLoaded

	// MATRIX_LOADED -> PAIR_SELECTED
	var pair slotpair.Pair
	pairErr := func() error {
		var err error
		pair, err = m.d.PairSelector.Select(m1, req.Date, req.TimeSlotOptions, req.PreferredCourts, req.DayOfWeek)
		return err
	}()
	if pairErr != nil {
		return fail(pairErr)
	}
	state = StatePairSelected
	selectedPair = &pair

	// PAIR_SELECTED -> ACTED
	preflight := dryrun.PreflightInput{
		DryRun: req.DryRun, CourtID: pair.CourtID,
		Slot1StartTime: pair.Slot1.StartTime, Slot2StartTime: pair.Slot2.StartTime,
	}
	var commitSelectors []string
	actionResult := m.d.ActionRetry.Execute(ctx, retry.CategoryAction, func(ctx context.Context) error {
		s1, err := m.clickSlot(ctx, req.Date, pair.Slot1.StartTime, pair.CourtID)
		if err != nil {
			return err
		}
		s2, err := m.clickSlot(ctx, req.Date, pair.Slot2.StartTime, pair.CourtID)
		if err != nil {
			return err
		}
		commit, err := m.d.Selectors.Find(ctx, selector.CategoryCheckout, "")
		if err != nil {
			return err
		}
		commitSelectors = []string{s1, s2, commit.Selector}
		preflight.CommitSelectors = commitSelectors
		if preflightErr := m.d.DryRunValidator.ValidatePreflight(preflight); preflightErr != nil {
			return preflightErr
		}
		if m.d.DryRunValidator.CommitGuard(req.DryRun) {
			return m.d.Driver.Click(ctx, commit.Selector)
		}
		return nil
	})
	record(actionResult)
	if !actionResult.Success {
		return fail(actionResult.LastErr)
	}
	state = StateActed

	// ACTED -> CONFIRMED | FAILED
	var outcome success.Result
	if req.DryRun {
		outcome = success.Result{
			Success: true, Method: success.MethodNone, Timestamp: time.Now(),
			AdditionalData: map[string]any{"dryRun": true},
		}
		if validateErr := m.d.DryRunValidator.ValidateSyntheticResult(outcome.AdditionalData); validateErr != nil {
			return fail(validateErr)
		}
	} else {
		confirmResult := m.d.ConfirmRetry.Execute(ctx, retry.CategoryConfirm, func(ctx context.Context) error {
			res := m.d.Detector.Detect(ctx, snapshotEvents())
			if !res.Success {
				return bookingerr.New(bookingerr.KindServerError, "statemachine", "success detection failed", nil)
			}
			outcome = res
			return nil
		})
		record(confirmResult)
		if !confirmResult.Success {
			return fail(confirmResult.LastErr)
		}
	}
	state = StateConfirmed

	if !circuitTripped {
		m.recordOutcome(req, &pair, pattern.Success)
	}

	return m.finish(run, log, Result{
		Success: true, BookedPair: &pair, RetryAttempts: len(aggregateRetries),
		RetryDetails: aggregateRetries, CircuitBreakerTripped: circuitTripped, FinalState: state,
	}, &outcome)
}

// clickSlot resolves the specific-slot selector for one half of the pair
// and clicks it, returning the selector it used.
func (m *Machine) clickSlot(ctx context.Context, date, startTime, courtID string) (string, error) {
	hhmm, err := datetime.HHMMToCompact(startTime)
	if err != nil {
		return "", err
	}
	found, err := m.d.Selectors.FindSpecificSlot(ctx, date, hhmm, courtID)
	if err != nil {
		return "", err
	}
	if err := m.d.Driver.Click(ctx, found.Selector); err != nil {
		return "", err
	}
	return found.Selector, nil
}

// recordOutcome feeds the attempt's result back into PatternStore,
// best-effort: a write error logs a warning and does not fail the booking.
func (m *Machine) recordOutcome(req Request, pair *slotpair.Pair, outcome pattern.Outcome) {
	if m.d.Patterns == nil {
		return
	}
	courtID := ""
	timeSlot := req.TimeSlotOptions.Target
	if pair != nil {
		courtID = pair.CourtID
		timeSlot = pair.Slot1.StartTime
	}
	if courtID == "" {
		return
	}
	if _, err := m.d.Patterns.Update(pattern.Key{CourtID: courtID, TimeSlot: timeSlot, DayOfWeek: req.DayOfWeek}, outcome); err != nil {
		m.d.Logger.Warnw("pattern store update failed", "courtId", courtID, "err", err)
	}
}

// buildURL renders the calendar URL for the requested date.
func (m *Machine) buildURL(req Request) string {
	if m.d.BaseURL == "" {
		return ""
	}
	return m.d.BaseURL + "?date=" + req.Date
}

func (m *Machine) finish(run *analytics.RunBuilder, log *logging.Logger, res Result, detected *success.Result) Result {
	res.Timestamp = time.Now()
	if run == nil {
		return res
	}
	sr := success.Result{Success: res.Success, Timestamp: res.Timestamp}
	if detected != nil {
		sr = *detected
	}
	courtID := ""
	if res.BookedPair != nil {
		courtID = res.BookedPair.CourtID
	}
	var cacheMetrics selector.Metrics
	if m.d.SelectorCache != nil {
		cacheMetrics = m.d.SelectorCache.Metrics()
	}
	retryResult := retry.Result{Attempts: res.RetryAttempts, RetryDetails: res.RetryDetails, Success: res.Success}
	if _, err := run.Finish(sr, courtID, retryResult, cacheMetrics); err != nil {
		log.Warnw("writing run report failed", "err", err)
	}
	return res
}
