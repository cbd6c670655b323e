package ocr

import (
	"context"
	"sync"

	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/pkg/types"
)

// StableRegionSource reports which regions of the current frame have been
// visually unchanged for at least the stability window, and the hash each region was
// last computed under. changedet.Detector does not implement it; its
// Result.StableRegions carries the stable block indices.
type StableRegionSource interface {
	// StableRegions returns the block indices considered stable as of the
	// most recent Observe call.
	StableRegions() []int
	// RegionHash returns the last-known hash for a given block index.
	RegionHash(idx int) uint64
}

// CachingAdapter wraps a [Provider] with the region-stability cache
// policy: when a region has been stable for >= the stability window, its prior
// extractions are reused instead of re-invoking the underlying OCR engine.
//
// The cache is keyed per logical "screen area" (callers supply a stable
// session/window key, typically the foreground application identity) so
// that switching windows does not reuse stale text from an unrelated
// region. It is safe for concurrent use.
type CachingAdapter struct {
	inner   Provider
	metrics *observe.Metrics

	mu    sync.Mutex
	cache map[string]map[int]cachedRegion // sessionKey -> regionIdx -> entry
}

type cachedRegion struct {
	hash        uint64
	extractions []types.TextExtraction
}

// NewCachingAdapter wraps inner with the region-stability cache. metrics may
// be nil.
func NewCachingAdapter(inner Provider, metrics *observe.Metrics) *CachingAdapter {
	return &CachingAdapter{
		inner:   inner,
		metrics: metrics,
		cache:   make(map[string]map[int]cachedRegion),
	}
}

// ExtractFrame recognizes text for a full frame. When stableRegionIdx is
// non-empty and every index in it has a cached entry whose hash equals
// regionHash(idx), it returns the cached extractions without calling the
// underlying provider. Otherwise it runs the provider on the whole frame and
// caches the result under each index in stableRegionIdx.
//
// sessionKey scopes the cache (e.g. the foreground application identity, so
// that switching applications does not reuse an unrelated region's cached
// text). regionHash returns the current hash of a block index in
// stableRegionIdx, e.g. [StableRegionSource.RegionHash].
func (a *CachingAdapter) ExtractFrame(ctx context.Context, req ExtractRequest, sessionKey string, stableRegionIdx []int, regionHash func(idx int) uint64) ([]types.TextExtraction, error) {
	a.mu.Lock()
	sessionCache, ok := a.cache[sessionKey]
	if !ok {
		sessionCache = make(map[int]cachedRegion)
		a.cache[sessionKey] = sessionCache
	}

	reusable := make(map[int][]types.TextExtraction)
	stableSet := make(map[int]struct{}, len(stableRegionIdx))
	for _, idx := range stableRegionIdx {
		stableSet[idx] = struct{}{}
		h := regionHash(idx)
		if entry, found := sessionCache[idx]; found && entry.hash == h {
			reusable[idx] = entry.extractions
		}
	}
	a.mu.Unlock()

	// If every stable region is a cache hit, skip the provider call.
	// Otherwise invoke the underlying provider for the whole frame
	// (providers here do not support partial-region recognition requests
	// in general).
	if len(stableRegionIdx) > 0 && len(reusable) == len(stableRegionIdx) {
		out := make([]types.TextExtraction, 0)
		for _, idx := range stableRegionIdx {
			out = append(out, reusable[idx]...)
		}
		a.recordHit(ctx)
		return out, nil
	}

	extractions, err := a.inner.Extract(ctx, req)
	if err != nil {
		return nil, err
	}
	a.recordMiss(ctx)

	a.mu.Lock()
	for idx := range stableSet {
		h := regionHash(idx)
		sessionCache[idx] = cachedRegion{hash: h, extractions: extractionsInRegion(extractions, req)}
	}
	a.mu.Unlock()

	return extractions, nil
}

// extractionsInRegion is a placeholder selection: without per-region
// bounding-box-to-block mapping wired in by the caller, the caching layer
// stores the full extraction set per stable region. Callers that need exact
// per-block partitioning should pre-bucket req.Regions before calling
// ExtractFrame.
func extractionsInRegion(all []types.TextExtraction, _ ExtractRequest) []types.TextExtraction {
	return all
}

func (a *CachingAdapter) recordHit(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordProviderRequest(ctx, "ocr", "extract", "cache_hit")
}

func (a *CachingAdapter) recordMiss(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordProviderRequest(ctx, "ocr", "extract", "cache_miss")
}

// Invalidate drops all cached regions for sessionKey, for example when the
// foreground application changes.
func (a *CachingAdapter) Invalidate(sessionKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, sessionKey)
}

// CallCount is a test/diagnostic helper exposing how many times the
// underlying provider was actually invoked, via its own invocation counter
// if it exposes one (e.g. the mock provider). Returns -1 if inner does not
// support counting.
func (a *CachingAdapter) CallCount() int {
	type counter interface{ CallCount() int }
	if c, ok := a.inner.(counter); ok {
		return c.CallCount()
	}
	return -1
}
