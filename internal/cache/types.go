// Package cache provides the offline cache layer for portal resources.
//
// # Overview
//
// Every resource (attendance, calendar, timetable, user info, documents) is
// fetched through one generic Fetcher. A fetcher keeps the last good payload
// in a partition of the persistent Backend and a small Metadata record in the
// MetaStore:
//
//	attendance-cache  /attendance   -> {"attendance": [...]}
//	attendance-metadata             -> {"timestamp": ..., "expiresAt": ..., "counts": {...}}
//
// # Fetch Rules
//
//   - Unless forced: serve the cached payload while now <= expiresAt. A cache
//     hit never touches the network.
//   - Metadata without a payload is a miss, not an error.
//   - Otherwise fetch from the API; on success write payload then metadata.
//   - On any fetch failure serve whatever payload is cached, expired or not.
//     Only when nothing is cached does the result come back empty.
//
// Failures are reported through Result.Kind rather than returned errors, so
// callers can tell an expired session (KindAuth) from a flaky network.
//
// # Day Order
//
// The day order has no single source of truth. DayOrderResolver tries, in
// order: today's stored record, the API (with a bounded retry), inference from
// the cached calendar, and finally any stored record at all.
package cache

import (
	"context"
	"time"
)

// Backend is the persistent partitioned key/value store holding payloads.
// Implementations: FilesystemBackend, SQLiteBackend and MemoryBackend.
type Backend interface {
	// Get returns the stored blob, or ok=false if absent.
	Get(ctx context.Context, partition, key string) (data []byte, ok bool, err error)

	// Put stores the blob, replacing any previous value.
	Put(ctx context.Context, partition, key string, data []byte) error

	// Delete removes one key. Deleting an absent key is not an error.
	Delete(ctx context.Context, partition, key string) error

	// DeletePartition removes a partition and everything in it. It reports
	// whether the partition existed.
	DeletePartition(ctx context.Context, partition string) (bool, error)

	// Partitions lists the names of all existing partitions.
	Partitions(ctx context.Context) ([]string, error)
}

// MetaStore is the small flat string store holding metadata records.
type MetaStore interface {
	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error
	RemoveMeta(key string) error
	MetaKeys() ([]string, error)
}

// Metadata describes the cached payload of one resource key.
//
// Timestamp and ExpiresAt are milliseconds since the epoch; ExpiresAt is
// always Timestamp + ttl at write time.
type Metadata struct {
	Timestamp int64          `json:"timestamp"`
	ExpiresAt int64          `json:"expiresAt"`
	Counts    map[string]int `json:"counts,omitempty"`
}

// FetchedAt returns the write time.
func (m Metadata) FetchedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Expiry returns the expiry time.
func (m Metadata) Expiry() time.Time {
	return time.UnixMilli(m.ExpiresAt)
}

// Expired reports whether now is past the expiry.
func (m Metadata) Expired(now time.Time) bool {
	return now.UnixMilli() > m.ExpiresAt
}

// Source tells where a Result's data came from.
type Source int

const (
	SourceNone     Source = iota // nothing available
	SourceCache                  // fresh cache hit
	SourceNetwork                // fetched from the API
	SourceStale                  // cached payload served after a failed fetch
	SourceInferred               // derived from another resource's cache
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceNetwork:
		return "network"
	case SourceStale:
		return "stale"
	case SourceInferred:
		return "inferred"
	default:
		return "none"
	}
}

// Kind classifies the failure behind a Result.
type Kind int

const (
	KindNone      Kind = iota // no failure
	KindTransient             // timeout, 5xx, connection failure
	KindAuth                  // session rejected; the user must sign in again
	KindMalformed             // the response was empty or undecodable
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	default:
		return "none"
	}
}

// Result is the outcome of a fetch. Data is meaningful only when OK is true.
// A stale Result carries both data and the failure that made it stale.
type Result[T any] struct {
	Data      T
	Source    Source
	Kind      Kind
	Err       error
	FetchedAt time.Time
}

// OK reports whether the result carries data.
func (r Result[T]) OK() bool {
	return r.Source != SourceNone
}

// NeedsLogin reports whether the failure was an authentication error.
func (r Result[T]) NeedsLogin() bool {
	return r.Kind == KindAuth
}

// Options controls a single fetch.
type Options struct {
	// ForceRefresh skips the cache-serve step.
	ForceRefresh bool
	// SkipCacheUpdate leaves the cache untouched after a successful fetch.
	SkipCacheUpdate bool
	// TTL overrides the resource TTL when non-zero.
	TTL time.Duration
}
