package planner

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/voicepane/voicepane/pkg/types"
)

// cacheKey derives a stable key from the parts of a StructuredQuery that
// determine its result set, deliberately excluding the raw natural-language
// text the user typed so that two different phrasings resolving to the same structured
// query share a cache entry.
func cacheKey(q types.StructuredQuery) string {
	q.ComplexityEstimate = 0 // derived, not part of identity
	b, _ := json.Marshal(q)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	key       string
	summary   string
	expiresAt time.Time
	elem      *list.Element
}

// ResultCache is a per-session, size-bounded, TTL-bounded cache mapping a
// compiled StructuredQuery to a short result summary. It is invalidated in
// bulk via Invalidate whenever the caller has written to any table the
// cached queries may have read — the cache does not track table-level
// dependencies itself, so callers own when to call Invalidate.
type ResultCache struct {
	maxEntries int
	ttl        time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // front = most recently used
}

// NewResultCache creates a cache holding at most maxEntries summaries, each
// valid for ttl.
func NewResultCache(maxEntries int, ttl time.Duration) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ResultCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*cacheEntry),
		order:      list.New(),
	}
}

// Get returns the cached summary for q, if present and unexpired.
func (c *ResultCache) Get(q types.StructuredQuery) (string, bool) {
	key := cacheKey(q)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		return "", false
	}
	c.order.MoveToFront(e.elem)
	return e.summary, true
}

// Put stores summary for q, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *ResultCache) Put(q types.StructuredQuery, summary string) {
	key := cacheKey(q)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.summary = summary
		existing.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(existing.elem)
		return
	}

	e := &cacheEntry{key: key, summary: summary, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
}

// Invalidate clears every cached entry. Called whenever a write lands on a
// table any cached query may have read from.
func (c *ResultCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

func (c *ResultCache) removeLocked(e *cacheEntry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}
