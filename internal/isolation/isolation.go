// Package isolation implements IsolationChecker: rejects a
// candidate slot pair if booking it would strand a single free slot on the
// court between two non-free neighbors.
package isolation

// Timeline reports, in time order, whether each slot on a court is free.
// Index i corresponds to the i-th time-of-day entry on the court.
type Timeline struct {
	Times []string // HH:MM, ascending
	Free  []bool   // Free[i] is whether Times[i] is currently free
}

// Result is IsolationChecker's verdict for one candidate pair.
type Result struct {
	HasIsolation bool
	Orphans      []string
}

// Check reports whether booking the two given time indices (which must be
// adjacent free slots) would leave any remaining free slot flanked on both
// sides by non-free slots. Both timeline boundaries count as non-free.
func Check(tl Timeline, bookedIndices ...int) Result {
	booked := make(map[int]bool, len(bookedIndices))
	for _, i := range bookedIndices {
		booked[i] = true
	}

	stateAfterBooking := func(i int) bool {
		if booked[i] {
			return false // now non-free
		}
		return tl.Free[i]
	}

	var orphans []string
	for i := range tl.Times {
		if !stateAfterBooking(i) {
			continue
		}
		leftFree := i > 0 && stateAfterBooking(i-1)
		rightFree := i < len(tl.Times)-1 && stateAfterBooking(i+1)
		if !leftFree && !rightFree {
			orphans = append(orphans, tl.Times[i])
		}
	}

	return Result{HasIsolation: len(orphans) > 0, Orphans: orphans}
}
