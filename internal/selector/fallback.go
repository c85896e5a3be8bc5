package selector

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/logging"
)

// significantParams are the query parameters whose change invalidates the
// page-scoped cache.
var significantParams = []string{"sport", "venue", "date", "court"}

// Result is the outcome of a fallback search.
type Result struct {
	Success       bool
	ElementsFound int
	Tier          string // "cache", "<priority>", or "none"
	Selector      string
	Handles       []driver.Handle
}

// Engine implements SelectorFallbackEngine. It never imports a
// concrete browser library; all element location goes through the
// PageDriver capability interface.
type Engine struct {
	driver   driver.PageDriver
	cache    *Cache
	tierSets map[Category]TierSet
	logger   *logging.Logger

	lastURL string
}

// New constructs a SelectorFallbackEngine. cache may be nil to disable
// caching entirely (selectorCache.enabled=false).
func New(d driver.PageDriver, cache *Cache, tierSets map[Category]TierSet, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Engine{driver: d, cache: cache, tierSets: tierSets, logger: logger}
}

// Find searches for an element of category (optionally scoped to a
// specificID, e.g. a specific-slot template), trying the cached selector
// first and falling through the category's tiers otherwise.
func (e *Engine) Find(ctx context.Context, category Category, specificID string) (Result, error) {
	pageURL, err := e.driver.PageURL(ctx)
	if err != nil {
		return Result{}, bookingerr.New(bookingerr.KindElementNotFound, "selector", "reading page url", err)
	}
	e.checkURLBoundary(pageURL)

	pageHash := HashPage(pageURL)
	key := Key{PageHash: pageHash, Category: string(category), SpecificID: specificID}

	// Step 1: cached selector wins if it still matches.
	if e.cache != nil {
		if entry, ok := e.cache.Get(key); ok {
			start := time.Now()
			handles, lerr := e.driver.LocateAll(ctx, entry.Selector)
			elapsed := time.Since(start)
			if lerr == nil && len(handles) > 0 {
				e.cache.RecordHit(key)
				entry.HitCount++
				entry.ElementsFound = len(handles)
				entry.AvgResponseMs = (entry.AvgResponseMs + float64(elapsed.Milliseconds())) / 2
				e.cache.Set(key, entry)
				return Result{Success: true, ElementsFound: len(handles), Tier: "cache", Selector: entry.Selector, Handles: handles}, nil
			}
			// Cached selector stopped matching: counts as a miss and the
			// entry is invalidated before falling through to tiers.
			e.cache.RecordMiss(key)
			e.logger.Debugw("cached selector miss, invalidating", "category", category, "selector", entry.Selector)
		}
	}

	// Step 2: iterate tiers by priority, selectors within a tier in order.
	tiers := append(TierSet(nil), e.tierSets[category]...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Priority < tiers[j].Priority })

	for _, tier := range tiers {
		for _, sel := range tier.Selectors {
			if tier.Waiting {
				_ = e.driver.WaitForVisible(ctx, sel, tier.TimeoutMs)
			}
			handles, lerr := e.driver.LocateAll(ctx, sel)
			if lerr != nil || len(handles) == 0 {
				continue
			}
			if e.cache != nil {
				e.cache.Set(key, Entry{
					Selector:      sel,
					Tier:          tier.Priority,
					PageURLHash:   pageHash,
					HitCount:      1,
					ElementsFound: len(handles),
				})
			}
			return Result{Success: true, ElementsFound: len(handles), Tier: strconv.Itoa(tier.Priority), Selector: sel, Handles: handles}, nil
		}
	}

	return Result{Success: false, ElementsFound: 0, Tier: "none"}, bookingerr.New(bookingerr.KindElementNotFound, "selector",
		"no selector matched for category "+string(category), nil)
}

// FindSpecificSlot searches using the specific-slot template,
// caching under the specific-slot category keyed by the rendered id.
func (e *Engine) FindSpecificSlot(ctx context.Context, date, hhmmCompact, courtID string) (Result, error) {
	id := date + "|" + hhmmCompact + "|" + courtID
	pageURL, err := e.driver.PageURL(ctx)
	if err != nil {
		return Result{}, bookingerr.New(bookingerr.KindElementNotFound, "selector", "reading page url", err)
	}
	pageHash := HashPage(pageURL)
	key := Key{PageHash: pageHash, Category: string(CategorySpecificSlot), SpecificID: id}

	if e.cache != nil {
		if entry, ok := e.cache.Get(key); ok {
			handles, lerr := e.driver.LocateAll(ctx, entry.Selector)
			if lerr == nil && len(handles) > 0 {
				e.cache.RecordHit(key)
				return Result{Success: true, ElementsFound: len(handles), Tier: "cache", Selector: entry.Selector, Handles: handles}, nil
			}
			e.cache.RecordMiss(key)
		}
	}

	sel := SpecificSlotSelector(date, hhmmCompact, courtID)
	handles, lerr := e.driver.LocateAll(ctx, sel)
	if lerr != nil || len(handles) == 0 {
		return Result{Success: false, ElementsFound: 0, Tier: "none"}, bookingerr.New(bookingerr.KindElementNotFound, "selector",
			"specific slot not found: "+id, lerr)
	}
	if e.cache != nil {
		e.cache.Set(key, Entry{Selector: sel, Tier: 1, PageURLHash: pageHash, HitCount: 1, ElementsFound: len(handles)})
	}
	return Result{Success: true, ElementsFound: len(handles), Tier: "1", Selector: sel, Handles: handles}, nil
}

// checkURLBoundary drops cache entries scoped to the previous page when a
// significant query parameter changed.
func (e *Engine) checkURLBoundary(newURL string) {
	defer func() { e.lastURL = newURL }()
	if e.lastURL == "" || e.cache == nil {
		return
	}
	prev, err1 := url.Parse(e.lastURL)
	next, err2 := url.Parse(newURL)
	if err1 != nil || err2 != nil {
		return
	}
	prevQ, nextQ := prev.Query(), next.Query()
	for _, p := range significantParams {
		if prevQ.Get(p) != nextQ.Get(p) {
			e.cache.InvalidateForPage(HashPage(e.lastURL))
			return
		}
	}
}
