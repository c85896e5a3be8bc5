package slotpair_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/datetime"
	"github.com/trytofly94/squash-booker/internal/driver/fakedriver"
	"github.com/trytofly94/squash-booker/internal/matrix"
	"github.com/trytofly94/squash-booker/internal/scoring"
	"github.com/trytofly94/squash-booker/internal/slotpair"
	"github.com/trytofly94/squash-booker/internal/timeslot"
)

const cellSelector = `td[data-date][data-start][data-state][data-court]`

func seed(d *fakedriver.Driver, id, date, start, state, court string) fakedriver.Handle {
	h := fakedriver.Handle{Sel: cellSelector, ID: id}
	d.Attributes[h.Selector()+"#"+id+"|data-date"] = date
	d.Attributes[h.Selector()+"#"+id+"|data-start"] = start
	d.Attributes[h.Selector()+"#"+id+"|data-state"] = state
	d.Attributes[h.Selector()+"#"+id+"|data-court"] = court
	return h
}

func buildSelector(t *testing.T) *slotpair.Selector {
	t.Helper()
	calc, err := datetime.New("Europe/Vienna", nil)
	require.NoError(t, err)
	gen := timeslot.New(calc, time.Minute)
	scorer, err := scoring.New(scoring.Weights{Availability: 0.4, Historical: 0.3, Preference: 0.2, Position: 0.1}, nil, 5)
	require.NoError(t, err)
	return slotpair.New(gen, scorer)
}

func TestSelect_HappyPathPicksFirstFreeConsecutivePair(t *testing.T) {
	sel := buildSelector(t)

	d := fakedriver.New()
	handles := []fakedriver.Handle{
		seed(d, "1", "2026-08-21", "1400", "free", "1"),
		seed(d, "2", "2026-08-21", "1430", "free", "1"),
	}
	d.LocateResults[cellSelector] = handles
	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	pair, err := sel.Select(m, "2026-08-21", timeslotOpts("14:00"), []string{"1", "3"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "1", pair.CourtID)
	assert.Equal(t, "14:00", pair.Slot1.StartTime)
	assert.Equal(t, "14:30", pair.Slot2.StartTime)
}

func TestSelect_FallsBackToAlternativeTimeOnOtherCourt(t *testing.T) {
	sel := buildSelector(t)

	d := fakedriver.New()
	handles := []fakedriver.Handle{
		seed(d, "1", "2026-08-21", "1400", "booked", "1"),
		seed(d, "2", "2026-08-21", "1430", "free", "3"),
		seed(d, "3", "2026-08-21", "1500", "free", "3"),
	}
	d.LocateResults[cellSelector] = handles
	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	pair, err := sel.Select(m, "2026-08-21", timeslotOpts("14:00"), []string{"1", "3"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "3", pair.CourtID)
	assert.Equal(t, "14:30", pair.Slot1.StartTime)
}

func TestSelect_ReturnsNoEligiblePairWhenNoneAvailable(t *testing.T) {
	sel := buildSelector(t)

	d := fakedriver.New()
	d.LocateResults[cellSelector] = []fakedriver.Handle{
		seed(d, "1", "2026-08-21", "1400", "booked", "1"),
	}
	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	_, err = sel.Select(m, "2026-08-21", timeslotOpts("14:00"), nil, 2)
	require.Error(t, err)
	assert.Equal(t, bookingerr.KindNoEligiblePair, bookingerr.KindOf(err))
}

func timeslotOpts(target string) timeslot.Options {
	return timeslot.Options{Target: target, RangeMinutes: 90, StepMinutes: 30, Strategy: timeslot.StrategyGradual}
}
