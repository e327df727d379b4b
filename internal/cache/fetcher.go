package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// gapFillTimeout bounds one background gap-fill pass.
const gapFillTimeout = 30 * time.Second

// Strategy plugs one resource kind into the generic Fetcher.
type Strategy[T any] struct {
	Resource

	// Fetch loads the full payload for an entry key from the API.
	Fetch func(ctx context.Context, key string) (T, error)

	// FetchParts loads only the named parts (e.g. calendar months).
	// Optional; requires Merge.
	FetchParts func(ctx context.Context, key string, parts []string) (T, error)

	// Merge combines a cached payload with a freshly fetched partial one.
	Merge func(cached, fresh T) T

	// Counter summarizes a payload for the metadata record. Optional.
	Counter func(T) map[string]int

	// Gaps lists parts missing from a cached payload. When set, a cache hit
	// schedules a background FetchParts for them. Optional.
	Gaps func(cached T, now time.Time) []string
}

// Fetcher serves one resource kind with cache-first-unless-stale semantics
// and stale fallback on fetch failure.
type Fetcher[T any] struct {
	st Strategy[T]
	e  *Engine
}

// NewFetcher binds st to the engine.
func NewFetcher[T any](e *Engine, st Strategy[T]) *Fetcher[T] {
	return &Fetcher[T]{st: st, e: e}
}

// Resource returns the resource the fetcher serves.
func (f *Fetcher[T]) Resource() Resource {
	return f.st.Resource
}

// Fetch serves the default entry.
func (f *Fetcher[T]) Fetch(ctx context.Context, opts Options) Result[T] {
	return f.FetchKey(ctx, f.st.Key, opts)
}

// FetchKey serves the entry stored under key.
//
// Order of sources:
//  1. Unless opts.ForceRefresh: the cached payload if its metadata is unexpired.
//  2. The API. On success the cache is rewritten unless opts.SkipCacheUpdate.
//  3. On failure: the cached payload regardless of expiry.
//
// Fetch errors never escape; they are reported in Result.Kind and Result.Err.
func (f *Fetcher[T]) FetchKey(ctx context.Context, key string, opts Options) Result[T] {
	gen := f.e.generation(f.st.Partition)
	if !opts.ForceRefresh {
		if data, meta, ok := f.fresh(ctx, key); ok {
			f.scheduleGapFill(ctx, key, data, gen)
			return Result[T]{Data: data, Source: SourceCache, FetchedAt: meta.FetchedAt()}
		}
	}

	data, err := f.fetchNetwork(ctx, key)
	if err != nil {
		return f.fallback(ctx, key, err)
	}

	now := f.e.Now()
	if !opts.SkipCacheUpdate {
		unlock := f.e.locks.lock(f.entryID(key))
		f.store(ctx, key, data, f.ttl(opts), now, gen)
		unlock()
	}
	return Result[T]{Data: data, Source: SourceNetwork, FetchedAt: now}
}

// FetchPartial fetches only parts of the entry under key and merges them into
// whatever is cached, so parts fetched earlier are kept. Without FetchParts it
// behaves like a forced FetchKey.
func (f *Fetcher[T]) FetchPartial(ctx context.Context, key string, parts []string, opts Options) Result[T] {
	if f.st.FetchParts == nil || f.st.Merge == nil || len(parts) == 0 {
		opts.ForceRefresh = true
		return f.FetchKey(ctx, key, opts)
	}
	return f.fetchPartial(ctx, key, parts, opts, f.e.generation(f.st.Partition))
}

// fetchPartial merges parts into the entry unless the partition was
// invalidated after generation gen.
func (f *Fetcher[T]) fetchPartial(ctx context.Context, key string, parts []string, opts Options, gen uint64) Result[T] {
	fresh, err := f.st.FetchParts(ctx, key, parts)
	if err != nil {
		return f.fallback(ctx, key, err)
	}

	unlock := f.e.locks.lock(f.entryID(key))
	defer unlock()

	merged := fresh
	if cached, ok := f.Peek(ctx, key); ok {
		merged = f.st.Merge(cached, fresh)
	}
	now := f.e.Now()
	if !opts.SkipCacheUpdate {
		f.store(ctx, key, merged, f.ttl(opts), now, gen)
	}
	return Result[T]{Data: merged, Source: SourceNetwork, FetchedAt: now}
}

// Peek returns the cached payload under key regardless of expiry, without
// touching the network.
func (f *Fetcher[T]) Peek(ctx context.Context, key string) (T, bool) {
	var zero T
	raw, ok, err := f.e.backend.Get(ctx, f.st.Partition, key)
	if err != nil {
		f.e.log(fmt.Sprintf("Failed to read %s %s: %v", f.st.Partition, key, err))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		f.e.log(fmt.Sprintf("Discarding corrupt %s %s: %v", f.st.Partition, key, err))
		_ = f.e.backend.Delete(ctx, f.st.Partition, key)
		return zero, false
	}
	return data, true
}

// Metadata returns the metadata record of the entry under key.
func (f *Fetcher[T]) Metadata(key string) (Metadata, bool) {
	return f.e.readMeta(f.st.MetadataKey(key))
}

// fresh returns the cached payload when its metadata is present and
// unexpired. Metadata without a payload is a miss.
func (f *Fetcher[T]) fresh(ctx context.Context, key string) (T, Metadata, bool) {
	var zero T
	meta, ok := f.Metadata(key)
	if !ok {
		return zero, Metadata{}, false
	}
	if meta.Expired(f.e.Now()) {
		f.e.log(fmt.Sprintf("%s cache expired", f.st.Name))
		return zero, Metadata{}, false
	}
	data, ok := f.Peek(ctx, key)
	if !ok {
		f.e.log(fmt.Sprintf("%s metadata present but payload missing", f.st.Name))
		return zero, Metadata{}, false
	}
	f.e.log(fmt.Sprintf("Serving %s from cache", f.st.Name))
	return data, meta, true
}

// fetchNetwork calls the API. Concurrent calls for the same entry share one
// request. The shared request is detached from any single caller's
// cancellation; each caller stops waiting when its own ctx is done.
func (f *Fetcher[T]) fetchNetwork(ctx context.Context, key string) (T, error) {
	var zero T
	ch := f.e.flight.DoChan(f.entryID(key), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.e.FetchTimeout)
		defer cancel()
		return f.st.Fetch(shared, key)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			f.e.log(fmt.Sprintf("Joined in-flight %s request", f.st.Name))
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// fallback serves any cached payload after a failed fetch.
func (f *Fetcher[T]) fallback(ctx context.Context, key string, err error) Result[T] {
	kind := Classify(err)
	data, ok := f.Peek(ctx, key)
	if !ok {
		f.e.log(fmt.Sprintf("Fetching %s failed (%v); nothing cached", f.st.Name, err))
		return Result[T]{Source: SourceNone, Kind: kind, Err: err}
	}
	f.e.log(fmt.Sprintf("Fetching %s failed (%v); serving stale cache", f.st.Name, err))
	res := Result[T]{Data: data, Source: SourceStale, Kind: kind, Err: err}
	if meta, ok := f.Metadata(key); ok {
		res.FetchedAt = meta.FetchedAt()
	}
	return res
}

// store writes payload then metadata. Failures are logged and dropped; a
// payload that cannot be written gets no metadata. Data fetched before the
// partition was last invalidated (gen is stale) is not written. Callers hold
// the entry lock.
func (f *Fetcher[T]) store(ctx context.Context, key string, data T, ttl time.Duration, now time.Time, gen uint64) {
	f.e.clearMu.RLock()
	defer f.e.clearMu.RUnlock()
	if f.e.generationLocked(f.st.Partition) != gen {
		f.e.log(fmt.Sprintf("%s was invalidated during the fetch; not caching", f.st.Name))
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		f.e.log(fmt.Sprintf("Failed to encode %s: %v", f.st.Name, err))
		return
	}
	if err := f.e.backend.Put(ctx, f.st.Partition, key, raw); err != nil {
		f.e.log(fmt.Sprintf("Failed to write cache for %s: %v", f.st.Name, err))
		return
	}

	var counts map[string]int
	if f.st.Counter != nil {
		counts = f.st.Counter(data)
	}
	if err := f.e.writeMeta(f.st.MetadataKey(key), now, ttl, counts); err != nil {
		f.e.log(fmt.Sprintf("Failed to write metadata for %s: %v", f.st.Name, err))
	}
}

// scheduleGapFill starts a background FetchPartial for parts missing from a
// cached payload read at generation gen. At most one pass per entry runs at
// a time.
func (f *Fetcher[T]) scheduleGapFill(ctx context.Context, key string, cached T, gen uint64) {
	if f.st.Gaps == nil || f.st.FetchParts == nil || f.e.GapFillBatch <= 0 {
		return
	}
	parts := f.st.Gaps(cached, f.e.Now())
	if len(parts) == 0 {
		return
	}
	if len(parts) > f.e.GapFillBatch {
		parts = parts[:f.e.GapFillBatch]
	}

	id := f.entryID(key)
	if _, running := f.e.filling.LoadOrStore(id, struct{}{}); running {
		return
	}

	f.e.bg.Add(1)
	go func() {
		defer f.e.bg.Done()
		defer f.e.filling.Delete(id)

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gapFillTimeout)
		defer cancel()

		f.e.log(fmt.Sprintf("Gap-filling %s: %v", f.st.Name, parts))
		res := f.fetchPartial(bgCtx, key, parts, Options{}, gen)
		if res.Source != SourceNetwork {
			f.e.log(fmt.Sprintf("Gap-fill for %s failed: %v", f.st.Name, res.Err))
		}
	}()
}

func (f *Fetcher[T]) ttl(opts Options) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	return f.st.TTL
}

// entryID identifies an entry across resources for locks and coalescing.
func (f *Fetcher[T]) entryID(key string) string {
	return f.st.Partition + "\x00" + key
}

// MergeMaps returns the union of cached and fresh; fresh values win.
func MergeMaps[M ~map[K]V, K comparable, V any](cached, fresh M) M {
	out := make(M, len(cached)+len(fresh))
	for k, v := range cached {
		out[k] = v
	}
	for k, v := range fresh {
		out[k] = v
	}
	return out
}
