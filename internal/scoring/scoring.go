// Package scoring implements CourtScorer: ranks candidate
// courts by a weighted blend of live availability, historical success rate,
// operator preference, and court position.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// PatternQuery is the narrow read port CourtScorer depends on, breaking the
// BookingStateMachine <-> PatternStore <-> CourtScorer cycle:
// PatternStore implements this without CourtScorer depending on its write
// side.
type PatternQuery interface {
	SuccessRate(courtID, timeSlot string, dayOfWeek int) (rate float64, attempts int)
}

// Weights configures the four scoring components; must sum to 1.
type Weights struct {
	Availability float64
	Historical   float64
	Preference   float64
	Position     float64
}

// Validate checks the weights are non-negative and sum to ~1.
func (w Weights) Validate() error {
	if w.Availability < 0 || w.Historical < 0 || w.Preference < 0 || w.Position < 0 {
		return fmt.Errorf("scoring: weights must be non-negative")
	}
	sum := w.Availability + w.Historical + w.Preference + w.Position
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring: weights must sum to 1, got %f", sum)
	}
	return nil
}

// Components is the per-court breakdown backing a Score.
type Components struct {
	Availability float64
	Historical   float64
	Preference   float64
	Position     float64
}

// Score is CourtScorer's ranked output for one court. Ephemeral;
// recomputed each selection.
type Score struct {
	CourtID    string
	Score      float64
	Components Components
	Reason     string
}

// CourtInput is per-court live availability data fed into scoring.
type CourtInput struct {
	CourtID string
	// CurrentlyFree is whether the target timeSlot is free on this court.
	CurrentlyFree bool
	// NearbyFreeFraction is the fraction of nearby slots free, used as the
	// availability fallback when the exact slot isn't free.
	NearbyFreeFraction float64
}

// Scorer implements CourtScorer.
type Scorer struct {
	weights     Weights
	patterns    PatternQuery
	minAttempts int
}

// New constructs a Scorer. patterns may be nil, in which case the
// historical component always falls back to 0.5.
func New(weights Weights, patterns PatternQuery, minAttempts int) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights, patterns: patterns, minAttempts: minAttempts}, nil
}

// Score ranks courts descending by weighted score; ties break by lower
// courtId.
func (s *Scorer) Score(courts []CourtInput, preferredCourts []string, timeSlot string, dayOfWeek int) []Score {
	prefRank := make(map[string]int, len(preferredCourts))
	for i, c := range preferredCourts {
		prefRank[c] = i
	}

	ordinal := make(map[string]int, len(courts))
	ordered := make([]string, len(courts))
	for i, c := range courts {
		ordered[i] = c.CourtID
	}
	sort.Slice(ordered, func(i, j int) bool { return courtLess(ordered[i], ordered[j]) })
	for i, id := range ordered {
		ordinal[id] = i
	}
	total := len(ordered)

	out := make([]Score, 0, len(courts))
	for _, c := range courts {
		avail := c.NearbyFreeFraction
		if c.CurrentlyFree {
			avail = 1
		}

		hist := 0.5
		if s.patterns != nil {
			if rate, attempts := s.patterns.SuccessRate(c.CourtID, timeSlot, dayOfWeek); attempts >= s.minAttempts {
				hist = rate
			}
		}

		pref := 0.0
		if rank, ok := prefRank[c.CourtID]; ok && len(preferredCourts) > 0 {
			pref = float64(len(preferredCourts)-rank) / float64(len(preferredCourts))
		}

		pos := 1.0
		if total > 1 {
			pos = 1 - float64(ordinal[c.CourtID])/float64(total-1)
		}

		comp := Components{Availability: avail, Historical: hist, Preference: pref, Position: pos}
		weighted := s.weights.Availability*avail + s.weights.Historical*hist + s.weights.Preference*pref + s.weights.Position*pos

		out = append(out, Score{
			CourtID:    c.CourtID,
			Score:      weighted,
			Components: comp,
			Reason:     reasonFor(comp),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return courtLess(out[i].CourtID, out[j].CourtID)
	})
	return out
}

// courtLess orders court ids numerically when both parse as integers, so
// court "2" ranks below "10"; non-numeric ids fall back to lexical order.
func courtLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func reasonFor(c Components) string {
	switch {
	case c.Availability >= 1 && c.Preference > 0:
		return "free and preferred"
	case c.Availability >= 1:
		return "free"
	case c.Historical > 0.5:
		return "historically reliable"
	default:
		return "fallback availability"
	}
}
