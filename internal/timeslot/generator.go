// Package timeslot implements TimeSlotGenerator: a
// priority-ordered list of alternative booking times around a target,
// boosted by configured time preferences and cached by
// (target, preferencesHash, range, step) in a plain map with a TTL.
// Expired entries are replaced on the next lookup of the same key; the
// cache has no LRU ordering and no size bound, and it does not use
// SelectorCache (internal/selector).
package timeslot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/trytofly94/squash-booker/internal/config"
	"github.com/trytofly94/squash-booker/internal/datetime"
)

// Strategy selects a fallback-ordering heuristic.
type Strategy string

const (
	StrategyGradual       Strategy = "gradual"
	StrategyPeakAvoidance Strategy = "peak-avoidance"
	StrategyBusinessHours Strategy = "business-hours"
)

// Candidate is one ranked alternative time slot.
type Candidate struct {
	StartTime string
	Priority  int
	Distance  int // minutes from target, absolute value
}

type cacheKey struct {
	target          string
	preferencesHash string
	rangeMinutes    int
	step            int
}

type cacheEntry struct {
	candidates []Candidate
	expiresAt  time.Time
}

// Generator implements TimeSlotGenerator.
type Generator struct {
	calc *datetime.Calculator

	cacheTTL time.Duration
	cache    map[cacheKey]cacheEntry
	nowFn    func() time.Time
}

// New constructs a Generator backed by calc for the underlying alternative
// time-slot enumeration.
func New(calc *datetime.Calculator, cacheTTL time.Duration) *Generator {
	return &Generator{calc: calc, cacheTTL: cacheTTL, cache: map[cacheKey]cacheEntry{}, nowFn: time.Now}
}

func hashPreferences(prefs []config.TimePreference, strategy Strategy, businessOpen, businessClose string) string {
	h := sha256.New()
	fmt.Fprintf(h, "strategy=%s|open=%s|close=%s", strategy, businessOpen, businessClose)
	for _, p := range prefs {
		fmt.Fprintf(h, "|%s:%d:%d", p.StartTime, p.Priority, p.Flexibility)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Options configures one Generate call.
type Options struct {
	Target          string
	RangeMinutes    int
	StepMinutes     int
	Preferences     []config.TimePreference
	Strategy        Strategy
	BusinessOpen    string // HH:MM, used by StrategyBusinessHours
	BusinessClose   string // HH:MM, used by StrategyBusinessHours
	PeakStart       string // HH:MM, used by StrategyPeakAvoidance (default 17:00)
	PeakEnd         string // HH:MM, used by StrategyPeakAvoidance (default 20:00)
}

// Generate returns alternative start times around opts.Target, ordered by
// (priority DESC, distance ASC, startTime ASC).
func (g *Generator) Generate(opts Options) ([]Candidate, error) {
	prefsHash := hashPreferences(opts.Preferences, opts.Strategy, opts.BusinessOpen, opts.BusinessClose)
	key := cacheKey{target: opts.Target, preferencesHash: prefsHash, rangeMinutes: opts.RangeMinutes, step: opts.StepMinutes}

	if entry, ok := g.cache[key]; ok && g.nowFn().Before(entry.expiresAt) {
		return entry.candidates, nil
	}

	base, err := g.calc.GenerateAlternativeTimeSlots(opts.Target, opts.RangeMinutes, opts.StepMinutes)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(base))
	for _, slot := range base {
		dist, distErr := datetime.MinutesBetween(opts.Target, slot)
		if distErr != nil {
			continue
		}
		if dist < 0 {
			dist = -dist
		}
		priority := basePriority(opts, slot, dist)
		candidates = append(candidates, Candidate{StartTime: slot, Priority: priority, Distance: dist})
	}

	candidates = applyStrategy(opts, candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].StartTime < candidates[j].StartTime
	})

	if g.cacheTTL > 0 {
		g.cache[key] = cacheEntry{candidates: candidates, expiresAt: g.nowFn().Add(g.cacheTTL)}
	}
	return candidates, nil
}

// basePriority starts at 0 and inherits a preference's priority bonus when
// the slot falls within that preference's flexibility window.
func basePriority(opts Options, slot string, distFromTarget int) int {
	best := 0
	for _, p := range opts.Preferences {
		dist, err := minutesBetweenHHMM(p.StartTime, slot)
		if err != nil {
			continue
		}
		if dist <= p.Flexibility && p.Priority > best {
			best = p.Priority
		}
	}
	return best
}

// minutesBetweenHHMM computes absolute minute distance without requiring a
// Calculator instance (pure HH:MM arithmetic), since preference boosting
// runs once per candidate and shouldn't allocate through the calculator's
// timezone-aware path.
func minutesBetweenHHMM(a, b string) (int, error) {
	am, err := datetime.ParseHHMM(a)
	if err != nil {
		return 0, err
	}
	bm, err := datetime.ParseHHMM(b)
	if err != nil {
		return 0, err
	}
	d := am - bm
	if d < 0 {
		d = -d
	}
	return d, nil
}

func applyStrategy(opts Options, candidates []Candidate) []Candidate {
	switch opts.Strategy {
	case StrategyPeakAvoidance:
		peakStart, peakEnd := opts.PeakStart, opts.PeakEnd
		if peakStart == "" {
			peakStart = "17:00"
		}
		if peakEnd == "" {
			peakEnd = "20:00"
		}
		out := make([]Candidate, 0, len(candidates))
		for _, c := range candidates {
			if inRange(c.StartTime, peakStart, peakEnd) {
				c.Priority--
			}
			out = append(out, c)
		}
		return out
	case StrategyBusinessHours:
		if opts.BusinessOpen == "" || opts.BusinessClose == "" {
			return candidates
		}
		out := make([]Candidate, 0, len(candidates))
		for _, c := range candidates {
			if withinBusinessHours(c.StartTime, opts.BusinessOpen, opts.BusinessClose) {
				out = append(out, c)
			}
		}
		return out
	default: // StrategyGradual and unset: nearest-first via the base sort.
		return candidates
	}
}

func inRange(t, start, end string) bool {
	tm, err1 := datetime.ParseHHMM(t)
	sm, err2 := datetime.ParseHHMM(start)
	em, err3 := datetime.ParseHHMM(end)
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	return tm >= sm && tm < em
}

func withinBusinessHours(t, open, close string) bool {
	tm, err1 := datetime.ParseHHMM(t)
	om, err2 := datetime.ParseHHMM(open)
	cm, err3 := datetime.ParseHHMM(close)
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	return tm >= om && tm < cm
}
