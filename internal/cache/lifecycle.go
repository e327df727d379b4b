package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/colthorp/portal-cache-go/internal/core"
)

// Stats summarizes one cached entry for display. Only Resource and Exists
// are set when nothing is cached.
type Stats struct {
	Resource           string         `json:"resource"`
	Key                string         `json:"key,omitempty"`
	Exists             bool           `json:"exists"`
	LastFetch          string         `json:"lastFetch,omitempty"`
	LastFetchAt        *time.Time     `json:"lastFetchAt,omitempty"`
	Expired            bool           `json:"expired,omitempty"`
	MinutesUntilExpiry int            `json:"minutesUntilExpiry,omitempty"`
	Value              string         `json:"value,omitempty"`
	Counts             map[string]int `json:"counts,omitempty"`
}

// Lifecycle invalidates cached resources and reports cache statistics.
type Lifecycle struct {
	e        *Engine
	registry *Registry
}

// NewLifecycle creates a lifecycle manager over the engine's stores.
func NewLifecycle(e *Engine, registry *Registry) *Lifecycle {
	return &Lifecycle{e: e, registry: registry}
}

// Invalidate deletes a resource's partition and its metadata keys. Fetches
// already in flight for the resource do not write their results back. It is
// idempotent.
func (l *Lifecycle) Invalidate(ctx context.Context, name string) error {
	if name == ResourceDayOrder {
		return errors.Join(
			l.e.meta.RemoveMeta(core.DayOrderKey),
			l.e.meta.RemoveMeta(core.DayOrderTimestampKey),
		)
	}

	res, ok := l.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown resource %q", name)
	}

	unlock := l.e.clearing(res.Partition)
	defer unlock()

	var errs []error
	if _, err := l.e.backend.DeletePartition(ctx, res.Partition); err != nil {
		errs = append(errs, err)
	}
	keys, err := l.e.meta.MetaKeys()
	if err != nil {
		errs = append(errs, err)
	}
	for _, key := range keys {
		if !res.ownsMetadataKey(key) {
			continue
		}
		if err := l.e.meta.RemoveMeta(key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		l.e.log(fmt.Sprintf("Cleared %s cache", name))
	}
	return errors.Join(errs...)
}

// InvalidateAll deletes every resource partition and all cache metadata, as
// on sign-out. Each deletion is attempted independently; failures are logged
// and never returned. It returns the number of partitions deleted.
func (l *Lifecycle) InvalidateAll(ctx context.Context) int {
	unlock := l.e.clearing("")
	defer unlock()

	deleted := 0

	partitions, err := l.e.backend.Partitions(ctx)
	if err != nil {
		l.e.log(fmt.Sprintf("Failed to list partitions: %v", err))
	}
	for _, p := range partitions {
		if !strings.Contains(p, core.PartitionMarker) {
			continue
		}
		existed, err := l.e.backend.DeletePartition(ctx, p)
		if err != nil {
			l.e.log(fmt.Sprintf("Failed to delete partition %s: %v", p, err))
			continue
		}
		if existed {
			deleted++
		}
	}

	keys, err := l.e.meta.MetaKeys()
	if err != nil {
		l.e.log(fmt.Sprintf("Failed to list metadata keys: %v", err))
	}
	for _, key := range keys {
		if !strings.Contains(key, core.MetadataSuffix) && key != core.DayOrderKey && key != core.DayOrderTimestampKey {
			continue
		}
		if err := l.e.meta.RemoveMeta(key); err != nil {
			l.e.log(fmt.Sprintf("Failed to remove metadata %s: %v", key, err))
		}
	}

	l.e.log(fmt.Sprintf("Cleared %d cache partitions", deleted))
	return deleted
}

// Stats reads the metadata of a resource entry; it never reads payloads.
// sub selects an entry of a keyed resource and is ignored otherwise.
func (l *Lifecycle) Stats(name, sub string) (Stats, error) {
	now := l.e.Now()
	if name == ResourceDayOrder {
		return l.dayOrderStats(now), nil
	}

	res, ok := l.registry.Lookup(name)
	if !ok {
		return Stats{}, fmt.Errorf("unknown resource %q", name)
	}
	key := res.Key
	if res.Keyed && sub != "" {
		key = res.SubKey(sub)
	}

	stats := Stats{Resource: name}
	if key != res.Key {
		stats.Key = key
	}
	meta, ok := l.e.readMeta(res.MetadataKey(key))
	if !ok {
		return stats, nil
	}

	fetchedAt := meta.FetchedAt()
	stats.Exists = true
	stats.LastFetch = humanize.RelTime(fetchedAt, now, "ago", "from now")
	stats.LastFetchAt = &fetchedAt
	stats.Expired = meta.Expired(now)
	if remaining := meta.Expiry().Sub(now); remaining > 0 {
		stats.MinutesUntilExpiry = int(remaining / time.Minute)
	}
	stats.Counts = meta.Counts
	return stats, nil
}

func (l *Lifecycle) dayOrderStats(now time.Time) Stats {
	stats := Stats{Resource: ResourceDayOrder}
	r := &DayOrderResolver{e: l.e}
	rec, ok := r.record()
	if !ok {
		return stats
	}
	stats.Exists = true
	stats.Value = rec.order.String()
	stats.Expired = !core.SameUTCDay(rec.day, now)
	if !rec.day.IsZero() {
		day := rec.day
		stats.LastFetchAt = &day
		stats.LastFetch = humanize.RelTime(day, now, "ago", "from now")
	}
	if !stats.Expired {
		stats.MinutesUntilExpiry = int(core.DateOnly(now).AddDate(0, 0, 1).Sub(now) / time.Minute)
	}
	return stats
}
