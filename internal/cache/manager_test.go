package cache

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/colthorp/portal-cache-go/internal/api"
	"github.com/colthorp/portal-cache-go/internal/core"
)

var testStart = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

// testClock is a settable clock safe for use from gap-fill goroutines.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCalendar() api.Calendar {
	return api.Calendar{
		"2026-10": {
			{Date: "16", Day: "Fri", DayOrder: "3"},
			{Date: "17", Day: "Sat", DayOrder: "4"},
		},
		"2026-11": {{Date: "2", Day: "Mon", DayOrder: "1"}},
		"2026-12": {{Date: "1", Day: "Tue", DayOrder: "2"}},
		"2027-01": {{Date: "4", Day: "Mon", DayOrder: "5"}},
	}
}

func testConfig() *core.Config {
	return &core.Config{
		Batch:            "2",
		DayOrderAttempts: 2,
		DayOrderTimeout:  time.Second,
		GapFillBatch:     2,
		GapFillWindow:    3,
	}
}

// newTestManager builds a manager over a fully seeded in-memory portal, with
// the clock fixed at testStart. Nil stores default to memory stores.
func newTestManager(t *testing.T, backend Backend, meta MetaStore) (*Manager, *api.InMemoryTransport, *testClock) {
	t.Helper()

	transport := api.NewInMemoryTransport()
	transport.Respond(api.EndpointAttendance, api.Attendance{Records: []api.AttendanceRecord{
		{CourseCode: "MA101", CourseTitle: "Calculus", HoursConducted: 40, HoursAbsent: 2, Percentage: "95.00"},
		{CourseCode: "CS102", CourseTitle: "Data Structures", HoursConducted: 36, HoursAbsent: 6, Percentage: "83.33"},
	}})
	transport.SeedCalendar(testCalendar())
	transport.Respond(api.EndpointTimetableDetails, api.Timetable{Batch: "2", Slots: []api.TimetableSlot{
		{DayOrder: 1, Slot: "A", CourseCode: "MA101"},
		{DayOrder: 1, Slot: "B", CourseCode: "CS102"},
		{DayOrder: 2, Slot: "C", CourseCode: "MA101"},
	}})
	transport.Respond(api.EndpointUserInfo, map[string]interface{}{
		"userInfo": api.UserInfo{Name: "Asha", RegNumber: "RA001", Batch: "2"},
	})
	transport.Respond(api.EndpointDocuments, api.Documents{Items: []api.DocumentNode{
		{Name: "Maths", Children: []api.DocumentNode{
			{Name: "unit1.pdf", URL: "https://files/unit1.pdf"},
			{Name: "unit2.pdf", URL: "https://files/unit2.pdf"},
		}},
		{Name: "syllabus.pdf", URL: "https://files/syllabus.pdf"},
	}})
	transport.Handle(api.EndpointSubjectDocuments, func(params map[string]string, _ interface{}) (interface{}, error) {
		return api.SubjectDocuments{
			Subject: params["subject"],
			Files:   []api.DocumentNode{{Name: params["subject"] + ".pdf", URL: "https://files/x.pdf"}},
		}, nil
	})
	transport.Respond(api.EndpointDayOrder, map[string]interface{}{"dayOrder": 3})
	transport.Respond(api.EndpointSignOut, map[string]bool{"ok": true})

	m := NewManager(api.NewPortalAPI(transport), backend, meta, testConfig(), false)
	clock := &testClock{now: testStart}
	m.Engine().Now = clock.Now
	return m, transport, clock
}

func TestManagerDefaults(t *testing.T) {
	m := NewManager(api.NewPortalAPI(api.NewInMemoryTransport()), nil, nil, nil, false)

	res, ok := m.Registry().Lookup(ResourceAttendance)
	if !ok {
		t.Fatal("attendance not registered")
	}
	if res.TTL != 30*time.Minute {
		t.Errorf("attendance TTL = %v, want 30m", res.TTL)
	}
	if m.Engine().GapFillBatch != 2 {
		t.Errorf("GapFillBatch = %d, want 2", m.Engine().GapFillBatch)
	}
	if m.dayOrder.Attempts != 2 {
		t.Errorf("day order attempts = %d, want 2", m.dayOrder.Attempts)
	}
}

func TestManagerTimetablePostsBatch(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)

	r := m.Timetable(context.Background(), Options{})
	if r.Source != SourceNetwork || len(r.Data.Slots) != 3 {
		t.Fatalf("Timetable = %v with %d slots", r.Source, len(r.Data.Slots))
	}

	reqs := transport.Requests()
	if len(reqs) != 1 || reqs[0].Method != http.MethodPost || reqs[0].Endpoint != api.EndpointTimetableDetails {
		t.Errorf("unexpected requests: %+v", reqs)
	}

	meta, ok := m.timetable.Metadata(m.timetable.Resource().Key)
	if !ok || meta.Counts["slots"] != 3 {
		t.Errorf("timetable metadata = %+v, %v", meta, ok)
	}
}

func TestManagerCalendarFetchesWindow(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)

	r := m.Calendar(context.Background(), Options{})
	if r.Source != SourceNetwork {
		t.Fatalf("Calendar source = %v", r.Source)
	}
	if len(r.Data) != 4 {
		t.Errorf("expected 4 months, got %d", len(r.Data))
	}
	if got := transport.Requests()[0].Params["months"]; got != "2026-10,2026-11,2026-12,2027-01" {
		t.Errorf("months param = %q", got)
	}

	meta, _ := m.calendar.Metadata(m.calendar.Resource().Key)
	if diff := cmp.Diff(map[string]int{"months": 4, "days": 5}, meta.Counts); diff != "" {
		t.Errorf("calendar counts mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerCalendarPartialMerge(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	if r := m.CalendarMonths(ctx, []string{"2026-10"}, Options{}); len(r.Data) != 1 {
		t.Fatalf("first partial = %v", r.Data)
	}
	r := m.CalendarMonths(ctx, []string{"2026-12"}, Options{})
	if r.Source != SourceNetwork {
		t.Fatalf("second partial source = %v", r.Source)
	}

	months := keysOf(r.Data)
	if diff := cmp.Diff([]string{"2026-10", "2026-12"}, months); diff != "" {
		t.Errorf("merged months mismatch (-want +got):\n%s", diff)
	}

	cached, _ := m.calendar.Peek(ctx, m.calendar.Resource().Key)
	if diff := cmp.Diff(r.Data, cached); diff != "" {
		t.Errorf("cached calendar differs from result (-want +got):\n%s", diff)
	}
}

func TestManagerCalendarPartialFailureKeepsCache(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	m.CalendarMonths(ctx, []string{"2026-10"}, Options{})
	transport.Fail(api.EndpointCalendar, &api.APIError{StatusCode: http.StatusBadGateway, Message: "bad gateway"})

	r := m.CalendarMonths(ctx, []string{"2026-11"}, Options{})
	if r.Source != SourceStale || r.Kind != KindTransient {
		t.Fatalf("expected stale transient, got %v/%v", r.Source, r.Kind)
	}
	if _, ok := r.Data["2026-10"]; !ok || len(r.Data) != 1 {
		t.Errorf("expected cached 2026-10 only, got %v", keysOf(r.Data))
	}
}

func TestManagerCalendarConcurrentPartials(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	months := []string{"2026-10", "2026-11", "2026-12", "2027-01"}
	var wg sync.WaitGroup
	for _, month := range months {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.CalendarMonths(ctx, []string{month}, Options{})
		}()
	}
	wg.Wait()

	cached, ok := m.calendar.Peek(ctx, m.calendar.Resource().Key)
	if !ok {
		t.Fatal("expected calendar cached")
	}
	if diff := cmp.Diff(months, keysOf(cached)); diff != "" {
		t.Errorf("concurrent partial refreshes lost months (-want +got):\n%s", diff)
	}
}

func TestManagerCalendarGapFill(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	m.CalendarMonths(ctx, []string{"2026-10"}, Options{})

	r := m.Calendar(ctx, Options{})
	if r.Source != SourceCache {
		t.Fatalf("expected cache hit, got %v", r.Source)
	}
	if len(r.Data) != 1 {
		t.Errorf("cache hit should return the cached months only, got %v", keysOf(r.Data))
	}
	m.Wait()

	reqs := transport.Requests()
	if got := reqs[len(reqs)-1].Params["months"]; got != "2026-11,2026-12" {
		t.Errorf("gap-fill months = %q, want first two missing", got)
	}

	cached, _ := m.calendar.Peek(ctx, m.calendar.Resource().Key)
	if diff := cmp.Diff([]string{"2026-10", "2026-11", "2026-12"}, keysOf(cached)); diff != "" {
		t.Errorf("months after gap-fill (-want +got):\n%s", diff)
	}
}

func TestManagerSubjectDocuments(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	maths := m.SubjectDocuments(ctx, "Maths", Options{})
	if maths.Source != SourceNetwork || maths.Data.Subject != "Maths" {
		t.Fatalf("SubjectDocuments = %+v", maths)
	}
	if got := transport.Requests()[0].Params["subject"]; got != "Maths" {
		t.Errorf("subject param = %q", got)
	}

	if r := m.SubjectDocuments(ctx, "Maths", Options{}); r.Source != SourceCache {
		t.Errorf("second Maths fetch source = %v, want cache", r.Source)
	}
	if r := m.SubjectDocuments(ctx, "Physics", Options{}); r.Source != SourceNetwork || r.Data.Subject != "Physics" {
		t.Errorf("Physics fetch = %v %q", r.Source, r.Data.Subject)
	}

	stats, err := m.Stats(ResourceSubjectDocuments, "Physics")
	if err != nil || !stats.Exists || stats.Counts["files"] != 1 {
		t.Errorf("Physics stats = %+v, %v", stats, err)
	}
}

func TestManagerDocumentCounts(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	m.Documents(context.Background(), Options{})

	stats, err := m.Stats(ResourceDocuments, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{"folders": 1, "files": 3}, stats.Counts); diff != "" {
		t.Errorf("document counts mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerWarm(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	statuses := m.Warm(ctx, false)
	want := []string{ResourceAttendance, ResourceCalendar, ResourceDayOrder, ResourceDocuments, ResourceTimetable, ResourceUserInfo}
	got := make([]string, 0, len(statuses))
	for name, status := range statuses {
		got = append(got, name)
		if status.Source != SourceNetwork {
			t.Errorf("%s warmed from %v, want network", name, status.Source)
		}
	}
	sort.Strings(got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("warmed resources mismatch (-want +got):\n%s", diff)
	}

	before := transport.RequestsMade()
	for name, status := range m.Warm(ctx, false) {
		if status.Source != SourceCache {
			t.Errorf("second warm of %s from %v, want cache", name, status.Source)
		}
	}
	m.Wait()
	if transport.RequestsMade() != before {
		t.Errorf("second warm made %d requests", transport.RequestsMade()-before)
	}
}

func TestManagerSignOut(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	m.Warm(ctx, false)
	deleted, err := m.SignOut(ctx)
	if err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("expected 5 partitions deleted, got %d", deleted)
	}
	if transport.RequestsTo(api.EndpointSignOut) != 1 {
		t.Error("expected one sign-out request")
	}

	for _, s := range m.AllStats() {
		if s.Exists {
			t.Errorf("%s still cached after sign-out", s.Resource)
		}
	}
}

func TestManagerSignOutClearsDespiteServerFailure(t *testing.T) {
	m, transport, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	m.Attendance(ctx, Options{})
	transport.Fail(api.EndpointSignOut, &api.APIError{StatusCode: http.StatusServiceUnavailable, Message: "down"})

	deleted, err := m.SignOut(ctx)
	if err == nil {
		t.Error("expected server error to be reported")
	}
	if deleted != 1 {
		t.Errorf("expected 1 partition deleted, got %d", deleted)
	}
	if r := m.Attendance(ctx, Options{}); r.Source != SourceNetwork {
		t.Errorf("attendance after sign-out came from %v", r.Source)
	}
}

func TestOpenStores(t *testing.T) {
	tests := []struct {
		backend string
		check   func(Backend) bool
	}{
		{core.BackendFilesystem, func(b Backend) bool { _, ok := b.(*FilesystemBackend); return ok }},
		{core.BackendSQLite, func(b Backend) bool { _, ok := b.(*SQLiteBackend); return ok }},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &core.Config{CacheDir: t.TempDir(), CacheBackend: tt.backend}
			backend, meta, closer, err := OpenStores(cfg, false)
			if err != nil {
				t.Fatalf("OpenStores failed: %v", err)
			}
			defer func() {
				if err := closer.Close(); err != nil {
					t.Errorf("Close failed: %v", err)
				}
			}()

			if !tt.check(backend) {
				t.Errorf("unexpected backend type %T", backend)
			}
			testMetaStore(t, meta)
		})
	}
}

func keysOf(cal api.Calendar) []string {
	keys := make([]string, 0, len(cal))
	for k := range cal {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
