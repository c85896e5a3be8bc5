package redispattern

import (
	"context"

	"github.com/trytofly94/squash-booker/internal/pattern"
	"github.com/trytofly94/squash-booker/internal/scoring"
)

var (
	_ pattern.Updater     = (*Adapter)(nil)
	_ scoring.PatternQuery = (*Adapter)(nil)
)

// Adapter narrows Store's context-taking methods onto the pattern.Updater
// and scoring.PatternQuery ports the engine depends on, binding a single
// background context: pattern-store IO is best-effort and sits off the
// single-threaded booking-attempt path.
type Adapter struct {
	store *Store
}

// NewAdapter wraps store for use as pattern.Updater / scoring.PatternQuery.
func NewAdapter(store *Store) *Adapter {
	return &Adapter{store: store}
}

// Update implements pattern.Updater.
func (a *Adapter) Update(key pattern.Key, outcome pattern.Outcome) (pattern.Record, error) {
	return a.store.Update(context.Background(), key, outcome)
}

// SuccessRate implements scoring.PatternQuery.
func (a *Adapter) SuccessRate(courtID, timeSlot string, dayOfWeek int) (float64, int) {
	return a.store.SuccessRate(context.Background(), courtID, timeSlot, dayOfWeek)
}
