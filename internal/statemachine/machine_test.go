package statemachine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trytofly94/squash-booker/internal/analytics"
	"github.com/trytofly94/squash-booker/internal/datetime"
	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/driver/fakedriver"
	"github.com/trytofly94/squash-booker/internal/dryrun"
	"github.com/trytofly94/squash-booker/internal/matrix"
	"github.com/trytofly94/squash-booker/internal/pattern"
	"github.com/trytofly94/squash-booker/internal/retry"
	"github.com/trytofly94/squash-booker/internal/scoring"
	"github.com/trytofly94/squash-booker/internal/selector"
	"github.com/trytofly94/squash-booker/internal/slotpair"
	"github.com/trytofly94/squash-booker/internal/statemachine"
	"github.com/trytofly94/squash-booker/internal/success"
	"github.com/trytofly94/squash-booker/internal/timeslot"
)

const slotCellSelector = `td[data-date][data-start][data-state][data-court]`

// memPatternStore is a minimal in-memory pattern.Updater/scoring.PatternQuery
// for tests that don't need the JSON-file store.
type memPatternStore struct{ records map[pattern.Key]pattern.Record }

func newMemPatternStore() *memPatternStore {
	return &memPatternStore{records: map[pattern.Key]pattern.Record{}}
}

func (s *memPatternStore) Update(key pattern.Key, outcome pattern.Outcome) (pattern.Record, error) {
	rec := s.records[key]
	rec.Attempts++
	if outcome == pattern.Success {
		rec.Successes++
	}
	if rec.Attempts > 0 {
		rec.SuccessRate = float64(rec.Successes) / float64(rec.Attempts)
	}
	s.records[key] = rec
	return rec, nil
}

func (s *memPatternStore) SuccessRate(courtID, timeSlot string, dayOfWeek int) (float64, int) {
	rec, ok := s.records[pattern.Key{CourtID: courtID, TimeSlot: timeSlot, DayOfWeek: dayOfWeek}]
	if !ok {
		return 0, 0
	}
	return rec.SuccessRate, rec.Attempts
}

func addCell(fd *fakedriver.Driver, id, date, start, state, court string) {
	h := fakedriver.Handle{Sel: slotCellSelector, ID: id}
	fd.LocateResults[slotCellSelector] = append(fd.LocateResults[slotCellSelector], h)
	fd.Attributes[h.Sel+"#"+h.ID+"|data-date"] = date
	fd.Attributes[h.Sel+"#"+h.ID+"|data-start"] = start
	fd.Attributes[h.Sel+"#"+h.ID+"|data-state"] = state
	fd.Attributes[h.Sel+"#"+h.ID+"|data-court"] = court
}

// harness wires a complete Machine around a fakedriver for one test,
// scripted so exactly one pair is eligible: court "1" at 14:00/14:30.
type harness struct {
	fd      *fakedriver.Driver
	deps    statemachine.Deps
	patterns *memPatternStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fd := fakedriver.New()
	fd.URL = "https://example.com/booking?venue=1&date=2026-08-21"

	addCell(fd, "c1-1400", "2026-08-21", "14:00", "free", "1")
	addCell(fd, "c1-1430", "2026-08-21", "14:30", "free", "1")

	tiers := map[selector.Category]selector.TierSet{
		selector.CategorySlot:     {{Priority: 1, Selectors: []string{slotCellSelector}}},
		selector.CategoryCheckout: {{Priority: 1, Selectors: []string{".btn-confirm"}}},
	}
	fd.LocateResults[".btn-confirm"] = []fakedriver.Handle{{Sel: ".btn-confirm"}}

	specSel1 := selector.SpecificSlotSelector("2026-08-21", "1400", "1")
	specSel2 := selector.SpecificSlotSelector("2026-08-21", "1430", "1")
	fd.LocateResults[specSel1] = []fakedriver.Handle{{Sel: specSel1}}
	fd.LocateResults[specSel2] = []fakedriver.Handle{{Sel: specSel2}}

	calc, err := datetime.New("UTC", nil)
	require.NoError(t, err)

	patterns := newMemPatternStore()
	scorer, err := scoring.New(scoring.Weights{Availability: 0.4, Historical: 0.3, Preference: 0.2, Position: 0.1}, patterns, 5)
	require.NoError(t, err)

	generator := timeslot.New(calc, time.Minute)
	pairSelector := slotpair.New(generator, scorer)

	cache := selector.NewCache(64, time.Hour)
	engine := selector.New(fd, cache, tiers, nil)
	extractor := matrix.New(fd)
	detector := success.New(fd, success.Config{
		EnableNetwork: true, EnableDOM: false, EnableURL: false, EnableTextFallback: false,
	}, nil)

	fastRetry := retry.New(retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1, JitterRatio: 0}, nil, nil)
	// confirm retries a few times at the engine's 100ms floor delay, giving
	// a concurrently emitted network event time to land before Detect gives up.
	confirmRetry := retry.New(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 200 * time.Millisecond, BackoffMultiplier: 1, JitterRatio: 0}, nil, nil)

	deps := statemachine.Deps{
		Driver:          fd,
		Selectors:       engine,
		SelectorCache:   cache,
		MatrixExtractor: extractor,
		PairSelector:    pairSelector,
		Detector:        detector,
		DryRunValidator: dryrun.New(),
		Patterns:        patterns,
		Analytics:       analytics.New(""),
		BaseURL:         "https://example.com/booking",
		NavigationRetry: fastRetry,
		SearchRetry:     fastRetry,
		ActionRetry:     fastRetry,
		ConfirmRetry:    confirmRetry,
	}

	return &harness{fd: fd, deps: deps, patterns: patterns}
}

func baseRequest() statemachine.Request {
	return statemachine.Request{
		Date:            "2026-08-21",
		DayOfWeek:       0,
		PreferredCourts: []string{"1"},
		TimeSlotOptions: timeslot.Options{
			Target:       "14:00",
			RangeMinutes: 60,
			StepMinutes:  30,
			Strategy:     timeslot.StrategyGradual,
		},
	}
}

func TestMachine_HappyPathNetworkConfirmation(t *testing.T) {
	h := newHarness(t)
	req := baseRequest()
	req.DryRun = false

	m := statemachine.New(h.deps)

	// Fire the network confirmation slightly after Run starts: the confirm
	// step's retry loop snapshots accumulated OnResponse events on each
	// attempt, so this lands before the retry budget is exhausted.
	go func() {
		time.Sleep(5 * time.Millisecond)
		h.fd.Emit(driver.ResponseEvent{URL: "https://example.com/booking/confirm", Status: 200, JSON: map[string]any{"booking_id": "B-42"}})
	}()

	result := m.Run(context.Background(), req)

	require.True(t, result.Success)
	assert.Equal(t, statemachine.StateConfirmed, result.FinalState)
	require.NotNil(t, result.BookedPair)
	assert.Equal(t, "1", result.BookedPair.CourtID)
	assert.Equal(t, "14:00", result.BookedPair.Slot1.StartTime)
	assert.Contains(t, h.fd.ClickedSelectors, ".btn-confirm")

	totals := h.deps.Analytics.Totals()
	assert.Equal(t, 1, totals.Runs)
	assert.Equal(t, 1, totals.Successes)
}

func TestMachine_DryRunNeverClicksCommit(t *testing.T) {
	h := newHarness(t)
	req := baseRequest()
	req.DryRun = true

	m := statemachine.New(h.deps)
	result := m.Run(context.Background(), req)

	require.True(t, result.Success)
	assert.Equal(t, statemachine.StateConfirmed, result.FinalState)
	assert.NotContains(t, h.fd.ClickedSelectors, ".btn-confirm")

	rate, attempts := h.patterns.SuccessRate("1", "14:00", 0)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1.0, rate)
}
