// Package matrix implements CalendarMatrix: a single-pass
// extraction of the booking calendar's court x time grid into an O(1)
// lookup structure, optionally reconciled against a network-sourced
// availability view.
package matrix

import (
	"context"
	"sort"
	"time"

	"github.com/trytofly94/squash-booker/internal/datetime"
	"github.com/trytofly94/squash-booker/internal/driver"
)

// State is the normalized state of a calendar cell.
type State string

const (
	StateFree        State = "free"
	StateBooked      State = "booked"
	StateUnavailable State = "unavailable"
	StateUnknown     State = "unknown"
)

// Cell is one (court, time) entry in the matrix.
type Cell struct {
	State    State
	ClassName string
	RawAttrs map[string]string
}

// ConflictResolution tags how a DOM/network disagreement was resolved.
type ConflictResolution string

const (
	ResolutionPreferDOM      ConflictResolution = "prefer-dom"
	ResolutionPreferNetwork  ConflictResolution = "prefer-network"
	ResolutionMarkUncertain  ConflictResolution = "mark-uncertain"
)

// Conflict records a disagreement between DOM and network-sourced state for
// one (court, time) cell.
type Conflict struct {
	CourtID      string
	Time         string
	DOMState     State
	NetworkState State
	Resolution   ConflictResolution
	Reason       string
}

// Metrics summarizes one extraction pass.
type Metrics struct {
	TotalCells            int
	FreeCells             int
	BookedCells           int
	UnavailableCells      int
	CourtsWithData        int
	TimeSlotsWithData     int
	ExtractionDurationMs  int64
	Warnings              []string
}

// Matrix is the nested courtId -> (HH:MM -> Cell) extraction result, plus
// derived indices.
type Matrix struct {
	cells     map[string]map[string]Cell
	courts    []string
	timeSlots []string
	dateRange [2]string
	metrics   Metrics
	conflicts []Conflict
}

// Lookup returns the cell at (courtID, hhmm), normalizing the time string,
// and whether it was present.
func (m *Matrix) Lookup(courtID, hhmm string) (Cell, bool) {
	norm, err := normalizeTime(hhmm)
	if err != nil {
		return Cell{}, false
	}
	row, ok := m.cells[courtID]
	if !ok {
		return Cell{}, false
	}
	c, ok := row[norm]
	return c, ok
}

// IsFree reports whether (courtID, hhmm) is free in the matrix.
func (m *Matrix) IsFree(courtID, hhmm string) bool {
	c, ok := m.Lookup(courtID, hhmm)
	return ok && c.State == StateFree
}

// Courts returns the sorted list of courts present in the matrix.
func (m *Matrix) Courts() []string { return append([]string(nil), m.courts...) }

// TimeSlots returns the sorted list of time-of-day slots present.
func (m *Matrix) TimeSlots() []string { return append([]string(nil), m.timeSlots...) }

// DateRange returns the [start, end] YYYY-MM-DD bounds covered.
func (m *Matrix) DateRange() [2]string { return m.dateRange }

// Metrics returns the extraction metrics for this pass.
func (m *Matrix) Metrics() Metrics { return m.metrics }

// Conflicts returns DOM/network disagreements recorded during hybrid
// reconciliation; empty when hybrid mode was not used.
func (m *Matrix) Conflicts() []Conflict { return append([]Conflict(nil), m.conflicts...) }

// Timeline returns the court's time-of-day keys (HH:MM) in ascending
// order, for isolation checking and scoring.
func (m *Matrix) Timeline(courtID string) []string {
	row, ok := m.cells[courtID]
	if !ok {
		return nil
	}
	times := make([]string, 0, len(row))
	for t := range row {
		times = append(times, t)
	}
	sort.Strings(times)
	return times
}

func normalizeTime(s string) (string, error) {
	if len(s) == 4 {
		return datetime.CompactToHHMM(s)
	}
	if _, err := datetime.ParseHHMM(s); err != nil {
		return "", err
	}
	return s, nil
}

// cellAttrs names the attribute combination proven to identify a calendar
// cell on the target site.
const (
	attrDate  = "data-date"
	attrStart = "data-start"
	attrState = "data-state"
	attrCourt = "data-court"
)

// NetworkAvailability is the optional network-sourced view for hybrid
// reconciliation: courtID -> HH:MM -> state.
type NetworkAvailability map[string]map[string]State

// Extractor builds a Matrix from the calendar page in a single pass.
type Extractor struct {
	d driver.PageDriver
}

// New constructs an Extractor bound to a page driver.
func New(d driver.PageDriver) *Extractor {
	return &Extractor{d: d}
}

// Extract performs a single DOM pass over the given cell selector
// (typically the "slot" category selector), optionally reconciling with a
// network-sourced view.
func (e *Extractor) Extract(ctx context.Context, cellSelector string, network NetworkAvailability) (*Matrix, error) {
	start := time.Now()

	handles, err := e.d.LocateAll(ctx, cellSelector)
	if err != nil {
		return nil, err
	}

	m := &Matrix{cells: map[string]map[string]Cell{}}
	var warnings []string
	courtSet := map[string]struct{}{}
	timeSet := map[string]struct{}{}
	var minDate, maxDate string

	for _, h := range handles {
		date, hasDate, errDate := e.d.GetAttribute(ctx, h, attrDate)
		startAttr, hasStart, errStart := e.d.GetAttribute(ctx, h, attrStart)
		stateAttr, hasState, errState := e.d.GetAttribute(ctx, h, attrState)
		court, hasCourt, errCourt := e.d.GetAttribute(ctx, h, attrCourt)

		if errDate != nil || errStart != nil || errCourt != nil || !hasCourt || !hasStart || !hasDate {
			warnings = append(warnings, "skipped cell missing required attributes")
			continue
		}

		hhmm, convErr := normalizeTime(startAttr)
		if convErr != nil {
			warnings = append(warnings, "skipped cell with unparseable data-start: "+startAttr)
			continue
		}

		state := StateUnknown
		if errState == nil && hasState {
			state = classifyState(stateAttr)
		}

		raw := map[string]string{attrDate: date, attrStart: startAttr}
		if hasState {
			raw[attrState] = stateAttr
		}
		raw[attrCourt] = court

		if m.cells[court] == nil {
			m.cells[court] = map[string]Cell{}
		}
		m.cells[court][hhmm] = Cell{State: state, ClassName: stateAttr2ClassName(hasState, stateAttr), RawAttrs: raw}

		courtSet[court] = struct{}{}
		timeSet[hhmm] = struct{}{}
		if minDate == "" || date < minDate {
			minDate = date
		}
		if maxDate == "" || date > maxDate {
			maxDate = date
		}
	}

	for c := range courtSet {
		m.courts = append(m.courts, c)
	}
	sort.Strings(m.courts)
	for t := range timeSet {
		m.timeSlots = append(m.timeSlots, t)
	}
	sort.Strings(m.timeSlots)
	m.dateRange = [2]string{minDate, maxDate}

	if network != nil {
		m.conflicts = reconcile(m, network)
	}

	m.metrics = computeMetrics(m, warnings, time.Since(start))
	return m, nil
}

func classifyState(raw string) State {
	switch raw {
	case "free":
		return StateFree
	case "booked", "reserved", "occupied":
		return StateBooked
	case "unavailable", "closed", "disabled":
		return StateUnavailable
	default:
		return StateUnknown
	}
}

func stateAttr2ClassName(has bool, stateAttr string) string {
	if !has {
		return ""
	}
	return "state-" + stateAttr
}

// reconcile compares DOM-derived state against the network view per cell,
// recording conflicts with a resolution tag. DOM wins ties by
// default (it reflects the most recently rendered page); an explicit
// mismatch where the network reports a strictly "more available" state is
// marked uncertain rather than silently overridden, since stale network
// caches are a known failure mode on the target site.
func reconcile(m *Matrix, network NetworkAvailability) []Conflict {
	var conflicts []Conflict
	for court, row := range m.cells {
		netRow, ok := network[court]
		if !ok {
			continue
		}
		for hhmm, cell := range row {
			netState, ok := netRow[hhmm]
			if !ok || netState == cell.State {
				continue
			}
			resolution := ResolutionPreferDOM
			reason := "DOM reflects the currently rendered page"
			if cell.State == StateUnknown {
				resolution = ResolutionPreferNetwork
				reason = "DOM state unclassified; network view used"
			} else if cell.State != StateFree && netState == StateFree {
				resolution = ResolutionMarkUncertain
				reason = "network reports free while DOM reports non-free; possible stale network cache"
			}
			conflicts = append(conflicts, Conflict{
				CourtID: court, Time: hhmm, DOMState: cell.State, NetworkState: netState,
				Resolution: resolution, Reason: reason,
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].CourtID != conflicts[j].CourtID {
			return conflicts[i].CourtID < conflicts[j].CourtID
		}
		return conflicts[i].Time < conflicts[j].Time
	})
	return conflicts
}

func computeMetrics(m *Matrix, warnings []string, dur time.Duration) Metrics {
	met := Metrics{
		CourtsWithData:       len(m.courts),
		TimeSlotsWithData:    len(m.timeSlots),
		ExtractionDurationMs: dur.Milliseconds(),
		Warnings:             warnings,
	}
	for _, row := range m.cells {
		for _, cell := range row {
			met.TotalCells++
			switch cell.State {
			case StateFree:
				met.FreeCells++
			case StateBooked:
				met.BookedCells++
			case StateUnavailable:
				met.UnavailableCells++
			}
		}
	}
	return met
}
