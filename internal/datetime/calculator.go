// Package datetime implements DateTimeCalculator: pure
// computation over a configured IANA timezone, with no dependency on any
// other engine component.
package datetime

import (
	"sort"
	"time"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
)

const timeLayout = "15:04"

// Calculator computes booking dates and time-slot enumerations in a fixed
// timezone. A zero Calculator is not usable; construct with New.
type Calculator struct {
	loc           *time.Location
	holidayOracle HolidayOracle
}

// HolidayOracle lets callers inject a holiday calendar; a nil oracle means
// every weekday is treated as a business day.
type HolidayOracle interface {
	IsHoliday(date time.Time) bool
}

// New constructs a Calculator for the given IANA timezone name.
func New(timezone string, oracle HolidayOracle) (*Calculator, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, bookingerr.New(bookingerr.KindInvalidConfig, "datetime", "invalid timezone", err)
	}
	return &Calculator{loc: loc, holidayOracle: oracle}, nil
}

// BookingDate returns the calendar date daysAhead days from now in the
// Calculator's timezone, DST-correct because it operates on the civil
// date rather than on elapsed duration.
func (c *Calculator) BookingDate(now time.Time, daysAhead int) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, daysAhead)
}

// IsBusinessDay reports whether date is a weekday and, if a holiday oracle
// was injected, not a holiday. Defaults to true for Mon-Fri with no oracle.
func (c *Calculator) IsBusinessDay(date time.Time) bool {
	wd := date.In(c.loc).Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.holidayOracle != nil && c.holidayOracle.IsHoliday(date) {
		return false
	}
	return true
}

// ParseHHMM parses an HH:MM 24h string into minutes-since-midnight,
// returning a KindValidation error on malformed input.
func ParseHHMM(s string) (int, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, bookingerr.New(bookingerr.KindValidation, "datetime", "invalid HH:MM time: "+s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinutes renders minutes-since-midnight back to HH:MM.
func FormatMinutes(minutes int) string {
	h := (minutes / 60) % 24
	m := minutes % 60
	return time.Date(0, 1, 1, h, m, 0, 0, time.UTC).Format(timeLayout)
}

// GenerateTimeSlots yields aligned HH:MM points starting at start, every
// stepMinutes, until durationMinutes have elapsed.
func (c *Calculator) GenerateTimeSlots(start string, durationMinutes, stepMinutes int) ([]string, error) {
	startMin, err := ParseHHMM(start)
	if err != nil {
		return nil, err
	}
	var out []string
	for m := 0; m < durationMinutes; m += stepMinutes {
		out = append(out, FormatMinutes(startMin+m))
	}
	return out, nil
}

// GenerateAlternativeTimeSlots returns slots within +-rangeMinutes of
// target, ordered by absolute distance then by earlier-before-later on
// ties.
func (c *Calculator) GenerateAlternativeTimeSlots(target string, rangeMinutes, stepMinutes int) ([]string, error) {
	targetMin, err := ParseHHMM(target)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		minutes  int
		distance int
	}
	var candidates []candidate
	for m := targetMin - rangeMinutes; m <= targetMin+rangeMinutes; m += stepMinutes {
		if m < 0 || m >= 24*60 {
			continue
		}
		d := m - targetMin
		if d < 0 {
			d = -d
		}
		candidates = append(candidates, candidate{minutes: m, distance: d})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].minutes < candidates[j].minutes
	})

	out := make([]string, len(candidates))
	for i, cnd := range candidates {
		out[i] = FormatMinutes(cnd.minutes)
	}
	return out, nil
}

// MinutesBetween returns the signed number of minutes between two HH:MM
// times (b - a).
func MinutesBetween(a, b string) (int, error) {
	am, err := ParseHHMM(a)
	if err != nil {
		return 0, err
	}
	bm, err := ParseHHMM(b)
	if err != nil {
		return 0, err
	}
	return bm - am, nil
}

// HHMMToCompact converts "HH:MM" to the "HHMM" form CalendarMatrix cells
// carry in data-start. Bijective with CompactToHHMM over 00:00..23:59.
func HHMMToCompact(s string) (string, error) {
	if _, err := ParseHHMM(s); err != nil {
		return "", err
	}
	return s[0:2] + s[3:5], nil
}

func CompactToHHMM(s string) (string, error) {
	if len(s) != 4 {
		return "", bookingerr.New(bookingerr.KindValidation, "datetime", "invalid HHMM time: "+s, nil)
	}
	hhmm := s[0:2] + ":" + s[2:4]
	if _, err := ParseHHMM(hhmm); err != nil {
		return "", err
	}
	return hhmm, nil
}
