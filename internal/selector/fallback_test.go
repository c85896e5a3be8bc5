package selector_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trytofly94/squash-booker/internal/driver/fakedriver"
	"github.com/trytofly94/squash-booker/internal/selector"
)

func TestEngine_FindsTier1AndCaches(t *testing.T) {
	fd := fakedriver.New()
	fd.URL = "https://example.com/booking?venue=1"
	fd.LocateResults["td[data-state=\"free\"]"] = []fakedriver.Handle{{Sel: "td[data-state=\"free\"]"}}

	tiers := map[selector.Category]selector.TierSet{
		selector.CategoryFreeSlot: {{Priority: 1, Selectors: []string{`td[data-state="free"]`}}},
	}
	cache := selector.NewCache(10, time.Hour)
	eng := selector.New(fd, cache, tiers, nil)

	res, err := eng.Find(context.Background(), selector.CategoryFreeSlot, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ElementsFound)
	assert.Equal(t, "1", res.Tier)

	// Second call should hit the cache.
	res2, err := eng.Find(context.Background(), selector.CategoryFreeSlot, "")
	require.NoError(t, err)
	assert.Equal(t, "cache", res2.Tier)
}

func TestEngine_CachedSelectorMissFallsThroughTiers(t *testing.T) {
	fd := fakedriver.New()
	fd.URL = "https://example.com/booking?venue=1"

	tiers := map[selector.Category]selector.TierSet{
		selector.CategoryFreeSlot: {
			{Priority: 1, Selectors: []string{`td[data-state="free"]`}},
			{Priority: 2, Selectors: []string{`td.free`}},
		},
	}
	cache := selector.NewCache(10, time.Hour)
	// Pre-seed a stale cached selector that now returns zero elements.
	pageHash := selector.HashPage(fd.URL)
	cache.Set(selector.Key{PageHash: pageHash, Category: string(selector.CategoryFreeSlot)}, selector.Entry{Selector: `td[data-state="free"]`})

	fd.LocateResults["td.free"] = []fakedriver.Handle{{Sel: "td.free"}}

	eng := selector.New(fd, cache, tiers, nil)
	res, err := eng.Find(context.Background(), selector.CategoryFreeSlot, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "td.free", res.Selector)

	m := cache.Metrics()
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, int64(0), m.Hits)
}

func TestEngine_TotalFailureReturnsNoneTier(t *testing.T) {
	fd := fakedriver.New()
	fd.URL = "https://example.com/booking"
	tiers := map[selector.Category]selector.TierSet{
		selector.CategoryFreeSlot: {{Priority: 1, Selectors: []string{`td[data-state="free"]`}}},
	}
	eng := selector.New(fd, nil, tiers, nil)

	res, err := eng.Find(context.Background(), selector.CategoryFreeSlot, "")
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "none", res.Tier)
	assert.Equal(t, 0, res.ElementsFound)
}

func TestEngine_URLBoundaryInvalidatesCache(t *testing.T) {
	fd := fakedriver.New()
	fd.URL = "https://example.com/booking?venue=1&date=2026-08-01"

	tiers := map[selector.Category]selector.TierSet{
		selector.CategoryFreeSlot: {{Priority: 1, Selectors: []string{`td[data-state="free"]`}}},
	}
	fd.LocateResults["td[data-state=\"free\"]"] = []fakedriver.Handle{{Sel: "td[data-state=\"free\"]"}}
	cache := selector.NewCache(10, time.Hour)
	eng := selector.New(fd, cache, tiers, nil)

	_, err := eng.Find(context.Background(), selector.CategoryFreeSlot, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	// Crossing a significant-param boundary (date changes) should drop the
	// entries scoped to the old page.
	fd.URL = "https://example.com/booking?venue=1&date=2026-08-02"
	_, _ = eng.Find(context.Background(), selector.CategoryFreeSlot, "")
	// The old page's entry was invalidated; a new one is set for the new page.
	assert.Equal(t, 1, cache.Len())
}
