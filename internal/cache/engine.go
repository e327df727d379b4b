package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/colthorp/portal-cache-go/internal/api"
	"github.com/colthorp/portal-cache-go/internal/core"
)

// Engine is the state shared by every Fetcher: the stores, the per-key write
// locks, in-flight request coalescing and background gap-fill tracking.
type Engine struct {
	backend Backend
	meta    MetaStore
	verbose bool

	// Now is the clock used for expiry decisions. Tests replace it.
	Now func() time.Time
	// GapFillBatch caps how many parts one background gap-fill pass fetches.
	GapFillBatch int
	// FetchTimeout bounds a shared network fetch, which outlives the
	// caller that started it.
	FetchTimeout time.Duration

	locks   keyLocks
	flight  singleflight.Group
	filling sync.Map // entry id -> struct{} while a gap-fill runs
	bg      sync.WaitGroup

	// Invalidation generations. Writers hold clearMu for reading and drop
	// results fetched under an older generation.
	clearMu sync.RWMutex
	epoch   uint64
	gens    map[string]uint64
}

const defaultFetchTimeout = 30 * time.Second

// NewEngine creates an engine over the given stores.
func NewEngine(backend Backend, meta MetaStore, verbose bool) *Engine {
	return &Engine{
		backend:      backend,
		meta:         meta,
		verbose:      verbose,
		Now:          time.Now,
		GapFillBatch: 2,
		FetchTimeout: defaultFetchTimeout,
		locks:        keyLocks{locks: make(map[string]*keyLock)},
		gens:         make(map[string]uint64),
	}
}

// log writes a debug message if verbose mode is enabled.
func (e *Engine) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache] %s", msg), e.verbose)
}

// Wait blocks until background gap-fill passes have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// generation returns the invalidation generation of partition.
func (e *Engine) generation(partition string) uint64 {
	e.clearMu.RLock()
	defer e.clearMu.RUnlock()
	return e.generationLocked(partition)
}

func (e *Engine) generationLocked(partition string) uint64 {
	return e.epoch + e.gens[partition]
}

// clearing bumps the generation of partition, or of every partition when
// partition is empty, and blocks cache writes until the returned func is
// called.
func (e *Engine) clearing(partition string) func() {
	e.clearMu.Lock()
	if partition == "" {
		e.epoch++
	} else {
		e.gens[partition]++
	}
	return e.clearMu.Unlock
}

// readMeta loads the metadata record stored under key. Unreadable or corrupt
// records count as absent.
func (e *Engine) readMeta(key string) (Metadata, bool) {
	raw, ok, err := e.meta.GetMeta(key)
	if err != nil {
		e.log(fmt.Sprintf("Failed to read metadata %s: %v", key, err))
		return Metadata{}, false
	}
	if !ok {
		return Metadata{}, false
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		e.log(fmt.Sprintf("Discarding corrupt metadata %s: %v", key, err))
		return Metadata{}, false
	}
	return m, true
}

// writeMeta stores a metadata record with expiresAt = now + ttl.
func (e *Engine) writeMeta(key string, now time.Time, ttl time.Duration, counts map[string]int) error {
	m := Metadata{
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Counts:    counts,
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return e.meta.SetMeta(key, string(data))
}

// Classify maps a fetch error to a result Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if api.IsAuthError(err) {
		return KindAuth
	}
	var decodeErr *api.DecodeError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.Is(err, api.ErrEmptyPayload) || errors.Is(err, ErrInvalidDayOrder) || errors.As(err, &decodeErr) ||
		errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindMalformed
	}
	return KindTransient
}

// keyLocks serializes read-modify-write sequences per entry.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the lock for id and returns its release func.
func (k *keyLocks) lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
