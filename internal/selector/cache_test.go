package selector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trytofly94/squash-booker/internal/selector"
)

func TestCache_SetGetWithinTTL(t *testing.T) {
	c := selector.NewCache(10, time.Hour)
	key := selector.Key{PageHash: "abc", Category: "slot"}
	c.Set(key, selector.Entry{Selector: "td[data-state]"})

	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "td[data-state]", got.Selector)
}

func TestCache_InvalidateThenMiss(t *testing.T) {
	c := selector.NewCache(10, time.Hour)
	key := selector.Key{PageHash: "abc", Category: "slot"}
	c.Set(key, selector.Entry{Selector: "td[data-state]"})
	c.Invalidate(key)

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := selector.NewCache(10, 10*time.Millisecond)
	key := selector.Key{PageHash: "abc", Category: "slot"}
	c.Set(key, selector.Entry{Selector: "td[data-state]"})

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Metrics().EvictionsTTL)
}

func TestCache_LRUEvictsLowestAccessCount(t *testing.T) {
	c := selector.NewCache(2, time.Hour)
	k1 := selector.Key{PageHash: "a", Category: "slot"}
	k2 := selector.Key{PageHash: "b", Category: "slot"}
	k3 := selector.Key{PageHash: "c", Category: "slot"}

	c.Set(k1, selector.Entry{Selector: "s1", HitCount: 5})
	c.Set(k2, selector.Entry{Selector: "s2", HitCount: 1})
	c.Set(k3, selector.Entry{Selector: "s3", HitCount: 0}) // should evict k2, the lowest hit count

	_, ok := c.Get(k2)
	assert.False(t, ok)
	_, ok = c.Get(k1)
	assert.True(t, ok)
}

func TestCache_InvalidateCategory(t *testing.T) {
	c := selector.NewCache(10, time.Hour)
	k1 := selector.Key{PageHash: "a", Category: "slot"}
	k2 := selector.Key{PageHash: "b", Category: "slot"}
	k3 := selector.Key{PageHash: "a", Category: "court"}

	c.Set(k1, selector.Entry{Selector: "s1"})
	c.Set(k2, selector.Entry{Selector: "s2"})
	c.Set(k3, selector.Entry{Selector: "s3"})

	n := c.InvalidateCategory("slot")
	assert.Equal(t, 2, n)

	_, ok := c.Get(k3)
	assert.True(t, ok)
}

func TestCache_InvalidateForPage(t *testing.T) {
	c := selector.NewCache(10, time.Hour)
	k1 := selector.Key{PageHash: "a", Category: "slot"}
	k2 := selector.Key{PageHash: "a", Category: "court"}
	k3 := selector.Key{PageHash: "b", Category: "slot"}

	c.Set(k1, selector.Entry{Selector: "s1"})
	c.Set(k2, selector.Entry{Selector: "s2"})
	c.Set(k3, selector.Entry{Selector: "s3"})

	n := c.InvalidateForPage("a")
	assert.Equal(t, 2, n)

	_, ok := c.Get(k3)
	assert.True(t, ok)
}

func TestCache_HitCountedOnlyWhenConfirmed(t *testing.T) {
	c := selector.NewCache(10, time.Hour)
	key := selector.Key{PageHash: "abc", Category: "slot"}
	c.Set(key, selector.Entry{Selector: "td[data-state]"})

	_, ok := c.Get(key)
	assert.True(t, ok)
	m := c.Metrics()
	assert.Equal(t, int64(0), m.Hits)

	c.RecordHit(key)
	assert.Equal(t, int64(1), c.Metrics().Hits)
}

func TestCache_RecordMissDropsEntryAndCountsMiss(t *testing.T) {
	c := selector.NewCache(10, time.Hour)
	key := selector.Key{PageHash: "abc", Category: "slot"}
	c.Set(key, selector.Entry{Selector: "td[data-state]"})

	_, ok := c.Get(key)
	assert.True(t, ok)
	c.RecordMiss(key)

	_, ok = c.Get(key)
	assert.False(t, ok)
	m := c.Metrics()
	assert.Equal(t, int64(2), m.Misses) // the RecordMiss plus the failed Get
	assert.Equal(t, int64(0), m.Hits)
}

func TestHashPage_IgnoresQueryAndFragment(t *testing.T) {
	h1 := selector.HashPage("https://example.com/booking?date=2026-08-01#frag")
	h2 := selector.HashPage("https://example.com/booking?date=2026-08-02")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}
