// Package slotpair implements SlotPairSelector: finds a
// consecutive 30+30 minute slot pair on a court satisfying scoring and
// isolation constraints.
package slotpair

import (
	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/datetime"
	"github.com/trytofly94/squash-booker/internal/isolation"
	"github.com/trytofly94/squash-booker/internal/matrix"
	"github.com/trytofly94/squash-booker/internal/scoring"
	"github.com/trytofly94/squash-booker/internal/timeslot"
)

// Slot is one 30-minute booking unit.
type Slot struct {
	Date      string
	StartTime string
	CourtID   string
	State     matrix.State
}

// Pair is two consecutive Slots on the same court:
// slot1.courtId == slot2.courtId, same date, 30 minutes apart, both free.
type Pair struct {
	CourtID string
	Slot1   Slot
	Slot2   Slot
}

// Selector implements SlotPairSelector.
type Selector struct {
	generator *timeslot.Generator
	scorer    *scoring.Scorer
}

// New constructs a Selector from its collaborators.
func New(generator *timeslot.Generator, scorer *scoring.Scorer) *Selector {
	return &Selector{generator: generator, scorer: scorer}
}

// Select walks candidate times in TimeSlotGenerator order, scores the
// eligible courts per candidate time, and accepts the first non-isolating
// pair.
func (s *Selector) Select(
	m *matrix.Matrix,
	date string,
	opts timeslot.Options,
	preferredCourts []string,
	dayOfWeek int,
) (Pair, error) {
	candidates, err := s.generator.Generate(opts)
	if err != nil {
		return Pair{}, err
	}

	for _, cand := range candidates {
		next, nextErr := nextSlot(cand.StartTime)
		if nextErr != nil {
			continue
		}

		eligibleCourts := courtsWithBothFree(m, cand.StartTime, next)
		if len(eligibleCourts) == 0 {
			continue
		}

		scores := s.scorer.Score(eligibleCourts, preferredCourts, cand.StartTime, dayOfWeek)
		for _, sc := range scores {
			pair := Pair{
				CourtID: sc.CourtID,
				Slot1:   Slot{Date: date, StartTime: cand.StartTime, CourtID: sc.CourtID, State: matrix.StateFree},
				Slot2:   Slot{Date: date, StartTime: next, CourtID: sc.CourtID, State: matrix.StateFree},
			}

			tl := buildTimeline(m, sc.CourtID)
			i1, i2 := indexOf(tl.Times, cand.StartTime), indexOf(tl.Times, next)
			if i1 < 0 || i2 < 0 {
				continue
			}
			res := isolation.Check(tl, i1, i2)
			if !res.HasIsolation {
				return pair, nil
			}
		}
	}

	return Pair{}, bookingerr.New(bookingerr.KindNoEligiblePair, "slotpair", "no eligible consecutive pair found", nil)
}

func nextSlot(hhmm string) (string, error) {
	minutes, err := datetime.ParseHHMM(hhmm)
	if err != nil {
		return "", err
	}
	return datetime.FormatMinutes(minutes + 30), nil
}

func courtsWithBothFree(m *matrix.Matrix, t1, t2 string) []scoring.CourtInput {
	var out []scoring.CourtInput
	for _, court := range m.Courts() {
		if m.IsFree(court, t1) && m.IsFree(court, t2) {
			out = append(out, scoring.CourtInput{CourtID: court, CurrentlyFree: true})
		}
	}
	return out
}

func buildTimeline(m *matrix.Matrix, courtID string) isolation.Timeline {
	times := m.Timeline(courtID)
	free := make([]bool, len(times))
	for i, t := range times {
		free[i] = m.IsFree(courtID, t)
	}
	return isolation.Timeline{Times: times, Free: free}
}

func indexOf(times []string, target string) int {
	for i, t := range times {
		if t == target {
			return i
		}
	}
	return -1
}
