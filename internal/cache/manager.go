package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colthorp/portal-cache-go/internal/api"
	"github.com/colthorp/portal-cache-go/internal/core"
)

// warmWorkers caps concurrent requests during Warm.
const warmWorkers = 3

// Manager wires one Fetcher per portal resource, the day order resolver and
// the lifecycle manager over a shared Engine.
//
// # Resources
//
//   - attendance, timetable, userinfo, documents: single-entry resources
//   - calendar: month-keyed; partial refreshes merge into the cached months
//     and cache hits gap-fill missing months in the background
//   - subject-documents: one entry per subject
//   - dayorder: resolved by DayOrderResolver, stored in the MetaStore only
type Manager struct {
	api      *api.PortalAPI
	engine   *Engine
	registry *Registry
	verbose  bool

	attendance       *Fetcher[api.Attendance]
	calendar         *Fetcher[api.Calendar]
	timetable        *Fetcher[api.Timetable]
	userInfo         *Fetcher[api.UserInfo]
	documents        *Fetcher[api.Documents]
	subjectDocuments *Fetcher[api.SubjectDocuments]
	dayOrder         *DayOrderResolver
	lifecycle        *Lifecycle
}

// NewManager creates a manager over the given API and stores. If backend or
// meta is nil, in-memory stores are used. If cfg is nil, defaults apply.
func NewManager(portal *api.PortalAPI, backend Backend, meta MetaStore, cfg *core.Config, verbose bool) *Manager {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if meta == nil {
		meta = NewMemoryMetaStore()
	}
	if cfg == nil {
		cfg = &core.Config{GapFillBatch: 2, GapFillWindow: 3, DayOrderAttempts: 2}
	}

	engine := NewEngine(backend, meta, verbose)
	engine.GapFillBatch = cfg.GapFillBatch
	if cfg.RequestTimeout > 0 {
		engine.FetchTimeout = cfg.RequestTimeout
	}

	registry := DefaultRegistry(withDefaultTTLs(cfg.TTL))
	m := &Manager{
		api:      portal,
		engine:   engine,
		registry: registry,
		verbose:  verbose,
	}

	res := func(name string) Resource {
		r, _ := registry.Lookup(name)
		return r
	}
	window := cfg.GapFillWindow

	m.attendance = NewFetcher(engine, Strategy[api.Attendance]{
		Resource: res(ResourceAttendance),
		Fetch: func(ctx context.Context, _ string) (api.Attendance, error) {
			return portal.Attendance(ctx)
		},
		Counter: func(a api.Attendance) map[string]int {
			return map[string]int{"records": len(a.Records)}
		},
	})

	m.calendar = NewFetcher(engine, Strategy[api.Calendar]{
		Resource: res(ResourceCalendar),
		Fetch: func(ctx context.Context, _ string) (api.Calendar, error) {
			return portal.Calendar(ctx, core.MonthsWindow(engine.Now(), window))
		},
		FetchParts: func(ctx context.Context, _ string, months []string) (api.Calendar, error) {
			return portal.Calendar(ctx, months)
		},
		Merge:   MergeMaps[api.Calendar],
		Counter: countCalendar,
		Gaps: func(cal api.Calendar, now time.Time) []string {
			return missingMonths(cal, core.MonthsWindow(now, window))
		},
	})

	m.timetable = NewFetcher(engine, Strategy[api.Timetable]{
		Resource: res(ResourceTimetable),
		Fetch: func(ctx context.Context, _ string) (api.Timetable, error) {
			return portal.TimetableDetails(ctx, cfg.Batch)
		},
		Counter: func(t api.Timetable) map[string]int {
			return map[string]int{"slots": len(t.Slots)}
		},
	})

	m.userInfo = NewFetcher(engine, Strategy[api.UserInfo]{
		Resource: res(ResourceUserInfo),
		Fetch: func(ctx context.Context, _ string) (api.UserInfo, error) {
			return portal.UserInfo(ctx)
		},
		Counter: countUserInfo,
	})

	m.documents = NewFetcher(engine, Strategy[api.Documents]{
		Resource: res(ResourceDocuments),
		Fetch: func(ctx context.Context, _ string) (api.Documents, error) {
			return portal.Documents(ctx)
		},
		Counter: func(d api.Documents) map[string]int {
			folders, files := countDocuments(d.Items)
			return map[string]int{"folders": folders, "files": files}
		},
	})

	subjectRes := res(ResourceSubjectDocuments)
	m.subjectDocuments = NewFetcher(engine, Strategy[api.SubjectDocuments]{
		Resource: subjectRes,
		Fetch: func(ctx context.Context, key string) (api.SubjectDocuments, error) {
			return portal.SubjectDocuments(ctx, strings.TrimPrefix(key, subjectRes.Key+"/"))
		},
		Counter: func(d api.SubjectDocuments) map[string]int {
			_, files := countDocuments(d.Files)
			return map[string]int{"files": files}
		},
	})

	m.dayOrder = NewDayOrderResolver(engine, portal.DayOrder, m.calendar)
	if cfg.DayOrderAttempts > 0 {
		m.dayOrder.Attempts = cfg.DayOrderAttempts
	}
	if cfg.DayOrderTimeout > 0 {
		m.dayOrder.Timeout = cfg.DayOrderTimeout
	}

	m.lifecycle = NewLifecycle(engine, registry)
	return m
}

// withDefaultTTLs fills unset TTLs with the registry defaults.
func withDefaultTTLs(ttl core.TTLConfig) core.TTLConfig {
	def := func(d, fallback time.Duration) time.Duration {
		if d <= 0 {
			return fallback
		}
		return d
	}
	return core.TTLConfig{
		Attendance: def(ttl.Attendance, 30*time.Minute),
		Calendar:   def(ttl.Calendar, 24*time.Hour),
		Timetable:  def(ttl.Timetable, 24*time.Hour),
		UserInfo:   def(ttl.UserInfo, 24*time.Hour),
		Documents:  def(ttl.Documents, 6*time.Hour),
	}
}

// log writes a debug message if verbose mode is enabled.
func (m *Manager) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache] %s", msg), m.verbose)
}

// Attendance returns the attendance report.
func (m *Manager) Attendance(ctx context.Context, opts Options) Result[api.Attendance] {
	return m.attendance.Fetch(ctx, opts)
}

// Calendar returns the cached calendar window.
func (m *Manager) Calendar(ctx context.Context, opts Options) Result[api.Calendar] {
	return m.calendar.Fetch(ctx, opts)
}

// CalendarMonths refreshes only the given months and returns the merged
// calendar.
func (m *Manager) CalendarMonths(ctx context.Context, months []string, opts Options) Result[api.Calendar] {
	return m.calendar.FetchPartial(ctx, m.calendar.Resource().Key, months, opts)
}

// Timetable returns the timetable.
func (m *Manager) Timetable(ctx context.Context, opts Options) Result[api.Timetable] {
	return m.timetable.Fetch(ctx, opts)
}

// UserInfo returns the student profile.
func (m *Manager) UserInfo(ctx context.Context, opts Options) Result[api.UserInfo] {
	return m.userInfo.Fetch(ctx, opts)
}

// Documents returns the document tree.
func (m *Manager) Documents(ctx context.Context, opts Options) Result[api.Documents] {
	return m.documents.Fetch(ctx, opts)
}

// SubjectDocuments returns the files of one subject.
func (m *Manager) SubjectDocuments(ctx context.Context, subject string, opts Options) Result[api.SubjectDocuments] {
	return m.subjectDocuments.FetchKey(ctx, m.subjectDocuments.Resource().SubKey(subject), opts)
}

// DayOrder resolves today's day order.
func (m *Manager) DayOrder(ctx context.Context, forceRefresh bool) Result[DayOrder] {
	return m.dayOrder.Resolve(ctx, forceRefresh)
}

// Stats reports cache statistics for a resource. sub selects a subject for
// subject-documents.
func (m *Manager) Stats(name, sub string) (Stats, error) {
	return m.lifecycle.Stats(name, sub)
}

// AllStats reports statistics for every resource's default entry, then the
// day order.
func (m *Manager) AllStats() []Stats {
	resources := m.registry.All()
	out := make([]Stats, 0, len(resources)+1)
	for _, res := range resources {
		if s, err := m.lifecycle.Stats(res.Name, ""); err == nil {
			out = append(out, s)
		}
	}
	day, _ := m.lifecycle.Stats(ResourceDayOrder, "")
	return append(out, day)
}

// Invalidate clears one resource.
func (m *Manager) Invalidate(ctx context.Context, name string) error {
	return m.lifecycle.Invalidate(ctx, name)
}

// InvalidateAll clears every resource and returns the number of partitions
// deleted.
func (m *Manager) InvalidateAll(ctx context.Context) int {
	return m.lifecycle.InvalidateAll(ctx)
}

// SignOut ends the server session and clears every cache. The server call
// failing does not stop the local clear; its error is returned for display.
func (m *Manager) SignOut(ctx context.Context) (int, error) {
	m.engine.Wait()
	err := m.api.SignOut(ctx)
	if err != nil {
		m.log(fmt.Sprintf("Sign-out request failed: %v", err))
	}
	return m.InvalidateAll(ctx), err
}

// WarmStatus is the outcome of warming one resource.
type WarmStatus struct {
	Source Source
	Kind   Kind
	Err    error
}

// Warm fetches every single-entry resource concurrently so later reads are
// served from cache.
func (m *Manager) Warm(ctx context.Context, force bool) map[string]WarmStatus {
	opts := Options{ForceRefresh: force}
	jobs := map[string]func() WarmStatus{
		ResourceAttendance: func() WarmStatus { return statusOf(m.Attendance(ctx, opts)) },
		ResourceCalendar:   func() WarmStatus { return statusOf(m.Calendar(ctx, opts)) },
		ResourceTimetable:  func() WarmStatus { return statusOf(m.Timetable(ctx, opts)) },
		ResourceUserInfo:   func() WarmStatus { return statusOf(m.UserInfo(ctx, opts)) },
		ResourceDocuments:  func() WarmStatus { return statusOf(m.Documents(ctx, opts)) },
		ResourceDayOrder:   func() WarmStatus { return statusOf(m.DayOrder(ctx, force)) },
	}

	var (
		mu  sync.Mutex
		out = make(map[string]WarmStatus, len(jobs))
		g   errgroup.Group
	)
	g.SetLimit(warmWorkers)
	for name, job := range jobs {
		g.Go(func() error {
			status := job()
			mu.Lock()
			out[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func statusOf[T any](r Result[T]) WarmStatus {
	return WarmStatus{Source: r.Source, Kind: r.Kind, Err: r.Err}
}

// Wait blocks until background gap-fill work has finished.
func (m *Manager) Wait() {
	m.engine.Wait()
}

// Engine returns the shared engine (for testing).
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Registry returns the resource table.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// OpenStores opens the backend and metadata store selected by cfg. The
// returned closer releases them.
func OpenStores(cfg *core.Config, verbose bool) (Backend, MetaStore, io.Closer, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	switch cfg.CacheBackend {
	case core.BackendSQLite:
		db, err := OpenSQLite(filepath.Join(cfg.CacheDir, "cache.db"))
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db, db, nil
	default:
		backend := NewFilesystemBackend(filepath.Join(cfg.CacheDir, "partitions"))
		meta := NewFileMetaStore(filepath.Join(cfg.CacheDir, "metadata.json"), verbose)
		return backend, meta, nopCloser{}, nil
	}
}

// nopCloser closes stores that hold no open handles.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func countCalendar(cal api.Calendar) map[string]int {
	days := 0
	for _, month := range cal {
		days += len(month)
	}
	return map[string]int{"months": len(cal), "days": days}
}

func countUserInfo(u api.UserInfo) map[string]int {
	n := 0
	for _, v := range []string{u.Name, u.RegNumber, u.Email, u.Program, u.Department, u.Semester, u.Batch} {
		if v != "" {
			n++
		}
	}
	return map[string]int{"fields": n}
}

func countDocuments(nodes []api.DocumentNode) (folders, files int) {
	for _, n := range nodes {
		if n.IsFolder() {
			folders++
			f, fl := countDocuments(n.Children)
			folders += f
			files += fl
		} else {
			files++
		}
	}
	return folders, files
}

// missingMonths returns the wanted months absent from cal, in order.
func missingMonths(cal api.Calendar, wanted []string) []string {
	var missing []string
	for _, m := range wanted {
		if _, ok := cal[m]; !ok {
			missing = append(missing, m)
		}
	}
	return missing
}
