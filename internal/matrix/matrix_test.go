package matrix_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/driver/fakedriver"
	"github.com/trytofly94/squash-booker/internal/matrix"
)

const cellSelector = `td[data-date][data-start][data-state][data-court]`

func seedCell(d *fakedriver.Driver, id, date, start, state, court string) fakedriver.Handle {
	h := fakedriver.Handle{Sel: cellSelector, ID: id}
	d.Attributes[h.Selector()+"#"+id+"|data-date"] = date
	d.Attributes[h.Selector()+"#"+id+"|data-start"] = start
	d.Attributes[h.Selector()+"#"+id+"|data-state"] = state
	d.Attributes[h.Selector()+"#"+id+"|data-court"] = court
	return h
}

func TestExtractor_BuildsMatrixFromCells(t *testing.T) {
	d := fakedriver.New()
	h1 := seedCell(d, "1", "2026-08-21", "1400", "free", "1")
	h2 := seedCell(d, "2", "2026-08-21", "1430", "booked", "1")
	h3 := seedCell(d, "3", "2026-08-21", "1400", "free", "3")
	d.LocateResults[cellSelector] = []fakedriver.Handle{h1, h2, h3}

	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	assert.True(t, m.IsFree("1", "14:00"))
	assert.False(t, m.IsFree("1", "14:30"))
	assert.True(t, m.IsFree("3", "14:00"))

	cell, ok := m.Lookup("1", "14:30")
	require.True(t, ok)
	assert.Equal(t, matrix.StateBooked, cell.State)

	assert.Equal(t, []string{"1", "3"}, m.Courts())
	assert.Equal(t, []string{"14:00", "14:30"}, m.TimeSlots())

	met := m.Metrics()
	assert.Equal(t, 3, met.TotalCells)
	assert.Equal(t, 2, met.FreeCells)
	assert.Equal(t, 1, met.BookedCells)
}

func TestExtractor_NormalizesHHMMLookup(t *testing.T) {
	d := fakedriver.New()
	h1 := seedCell(d, "1", "2026-08-21", "1400", "free", "1")
	d.LocateResults[cellSelector] = []fakedriver.Handle{h1}

	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	assert.True(t, m.IsFree("1", "14:00"))
}

func TestExtractor_SkipsCellsMissingRequiredAttrs(t *testing.T) {
	d := fakedriver.New()
	h1 := fakedriver.Handle{Sel: cellSelector, ID: "missing"}
	// no attributes seeded for h1
	d.LocateResults[cellSelector] = []fakedriver.Handle{h1}

	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Metrics().TotalCells)
	assert.Len(t, m.Metrics().Warnings, 1)
}

func TestExtractor_HybridReconciliationFlagsConflicts(t *testing.T) {
	d := fakedriver.New()
	h1 := seedCell(d, "1", "2026-08-21", "1400", "booked", "1")
	d.LocateResults[cellSelector] = []fakedriver.Handle{h1}

	ex := matrix.New(d)
	network := matrix.NetworkAvailability{
		"1": {"14:00": matrix.StateFree},
	}
	m, err := ex.Extract(context.Background(), cellSelector, network)
	require.NoError(t, err)

	conflicts := m.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, matrix.ResolutionMarkUncertain, conflicts[0].Resolution)
	assert.Equal(t, matrix.StateBooked, conflicts[0].DOMState)
	assert.Equal(t, matrix.StateFree, conflicts[0].NetworkState)
}

func TestExtractor_Timeline(t *testing.T) {
	d := fakedriver.New()
	h1 := seedCell(d, "1", "2026-08-21", "1400", "free", "1")
	h2 := seedCell(d, "2", "2026-08-21", "1430", "booked", "1")
	d.LocateResults[cellSelector] = []fakedriver.Handle{h1, h2}

	ex := matrix.New(d)
	m, err := ex.Extract(context.Background(), cellSelector, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"14:00", "14:30"}, m.Timeline("1"))
}

var _ driver.PageDriver = (*fakedriver.Driver)(nil)
