package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/colthorp/portal-cache-go/internal/api"
	"github.com/colthorp/portal-cache-go/internal/core"
)

// ErrInvalidDayOrder is returned when a source yields something that is
// neither "off" nor a finite number.
var ErrInvalidDayOrder = errors.New("invalid day order")

// DayOrder is the timetable rotation for a day: a number, or off for a
// holiday. The zero value is not a valid day order.
type DayOrder struct {
	off   bool
	n     float64
	valid bool
}

// DayOff returns the holiday day order.
func DayOff() DayOrder {
	return DayOrder{off: true, valid: true}
}

// DayNumber returns the numeric day order n.
func DayNumber(n float64) DayOrder {
	return DayOrder{n: n, valid: true}
}

// ParseDayOrder accepts the literal "off" or text parsing to a finite number.
// Anything else, including the empty string and other spellings of "off", is
// rejected.
func ParseDayOrder(raw string) (DayOrder, bool) {
	raw = strings.TrimSpace(raw)
	if raw == core.DayOrderOff {
		return DayOff(), true
	}
	if raw == "" {
		return DayOrder{}, false
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return DayOrder{}, false
	}
	return DayNumber(n), true
}

// IsOff reports whether the day is a holiday.
func (d DayOrder) IsOff() bool { return d.off }

// Number returns the rotation number; zero for a day off.
func (d DayOrder) Number() float64 { return d.n }

// Valid reports whether d holds a day order.
func (d DayOrder) Valid() bool { return d.valid }

func (d DayOrder) String() string {
	switch {
	case !d.valid:
		return ""
	case d.off:
		return core.DayOrderOff
	default:
		return strconv.FormatFloat(d.n, 'f', -1, 64)
	}
}

// MarshalJSON encodes a number, "off", or null.
func (d DayOrder) MarshalJSON() ([]byte, error) {
	switch {
	case !d.valid:
		return []byte("null"), nil
	case d.off:
		return json.Marshal(core.DayOrderOff)
	default:
		return json.Marshal(d.n)
	}
}

// DayOrderResolver works out today's day order from, in order: today's stored
// record, the API with a bounded retry, the cached calendar, and finally any
// stored record at all.
type DayOrderResolver struct {
	e        *Engine
	remote   func(ctx context.Context) (string, error)
	calendar *Fetcher[api.Calendar]

	// Attempts is how many times the API is tried before falling back.
	Attempts int
	// Timeout bounds each API attempt.
	Timeout time.Duration
}

// NewDayOrderResolver creates a resolver. remote fetches the raw day order
// text; calendar is read from its cache only.
func NewDayOrderResolver(e *Engine, remote func(ctx context.Context) (string, error), calendar *Fetcher[api.Calendar]) *DayOrderResolver {
	return &DayOrderResolver{
		e:        e,
		remote:   remote,
		calendar: calendar,
		Attempts: 2,
		Timeout:  5 * time.Second,
	}
}

func (r *DayOrderResolver) log(msg string) {
	core.Eprint(fmt.Sprintf("[DayOrder] %s", msg), r.e.verbose)
}

// Resolve returns today's day order. Source tells which tier answered:
// SourceCache (today's record), SourceNetwork (API), SourceInferred
// (calendar) or SourceStale (an older record).
func (r *DayOrderResolver) Resolve(ctx context.Context, forceRefresh bool) Result[DayOrder] {
	now := r.e.Now()

	if !forceRefresh {
		if rec, ok := r.record(); ok && core.SameUTCDay(rec.day, now) {
			r.log(fmt.Sprintf("Using today's stored day order %s", rec.order))
			return Result[DayOrder]{Data: rec.order, Source: SourceCache, FetchedAt: rec.day}
		}
	}

	order, err := r.fromAPI(ctx)
	if err == nil {
		r.persist(order, now)
		return Result[DayOrder]{Data: order, Source: SourceNetwork, FetchedAt: now}
	}
	kind := Classify(err)

	if order, ok := r.fromCalendar(ctx, now); ok {
		r.log(fmt.Sprintf("API unavailable (%v); inferred %s from calendar", err, order))
		r.persist(order, now)
		return Result[DayOrder]{Data: order, Source: SourceInferred, Kind: kind, Err: err, FetchedAt: now}
	}

	if rec, ok := r.record(); ok {
		r.log(fmt.Sprintf("Falling back to stored day order %s from %s", rec.order, core.FormatDate(rec.day)))
		return Result[DayOrder]{Data: rec.order, Source: SourceStale, Kind: kind, Err: err, FetchedAt: rec.day}
	}

	r.log(fmt.Sprintf("No day order available: %v", err))
	return Result[DayOrder]{Source: SourceNone, Kind: kind, Err: err}
}

// fromAPI tries the API up to Attempts times, retrying immediately. An auth
// failure is not retried.
func (r *DayOrderResolver) fromAPI(ctx context.Context) (DayOrder, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.Timeout)
		raw, err := r.remote(attemptCtx)
		cancel()

		if err == nil {
			if order, ok := ParseDayOrder(raw); ok {
				return order, nil
			}
			err = fmt.Errorf("%w: %q", ErrInvalidDayOrder, raw)
		}
		lastErr = err
		r.log(fmt.Sprintf("Attempt %d/%d failed: %v", attempt, attempts, err))

		if api.IsAuthError(err) || ctx.Err() != nil {
			break
		}
	}
	return DayOrder{}, lastErr
}

// fromCalendar infers the day order from today's entry in the cached
// calendar. It never fetches.
func (r *DayOrderResolver) fromCalendar(ctx context.Context, now time.Time) (DayOrder, bool) {
	if r.calendar == nil {
		return DayOrder{}, false
	}
	cal, ok := r.calendar.Peek(ctx, r.calendar.Resource().Key)
	if !ok {
		return DayOrder{}, false
	}

	now = now.UTC()
	for _, day := range cal[core.MonthKey(now)] {
		if calendarDayOfMonth(day.Date) != now.Day() {
			continue
		}
		if strings.TrimSpace(day.DayOrder) == core.CalendarHolidayToken || isHolidayEvent(day.Event) {
			return DayOff(), true
		}
		return ParseDayOrder(day.DayOrder)
	}
	return DayOrder{}, false
}

// calendarDayOfMonth reads the day of month from a calendar Date field,
// which is either a bare day number or a YYYY-MM-DD date. It returns 0 when
// the field is neither.
func calendarDayOfMonth(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if t, err := time.Parse(core.APIDateFmt, s); err == nil {
		return t.Day()
	}
	return 0
}

func isHolidayEvent(event string) bool {
	event = strings.ToLower(event)
	for _, kw := range core.HolidayKeywords {
		if strings.Contains(event, kw) {
			return true
		}
	}
	return false
}

type dayOrderRecord struct {
	order DayOrder
	day   time.Time
}

// record loads the stored day order. Records failing validation are ignored.
func (r *DayOrderResolver) record() (dayOrderRecord, bool) {
	meta := r.e.meta
	raw, ok, err := meta.GetMeta(core.DayOrderKey)
	if err != nil {
		r.log(fmt.Sprintf("Failed to read stored day order: %v", err))
		return dayOrderRecord{}, false
	}
	if !ok {
		return dayOrderRecord{}, false
	}
	order, ok := ParseDayOrder(raw)
	if !ok {
		r.log(fmt.Sprintf("Ignoring invalid stored day order %q", raw))
		return dayOrderRecord{}, false
	}
	rec := dayOrderRecord{order: order}
	ts, ok, err := meta.GetMeta(core.DayOrderTimestampKey)
	switch {
	case err != nil:
		r.log(fmt.Sprintf("Failed to read day order timestamp: %v", err))
	case ok:
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			rec.day = time.UnixMilli(ms).UTC()
		} else {
			r.log(fmt.Sprintf("Ignoring invalid day order timestamp %q", ts))
		}
	}
	return rec, true
}

// persist stores order as the record for now's UTC day.
func (r *DayOrderResolver) persist(order DayOrder, now time.Time) {
	day := core.DateOnly(now)
	if err := r.e.meta.SetMeta(core.DayOrderKey, order.String()); err != nil {
		r.log(fmt.Sprintf("Failed to store day order: %v", err))
		return
	}
	if err := r.e.meta.SetMeta(core.DayOrderTimestampKey, strconv.FormatInt(day.UnixMilli(), 10)); err != nil {
		r.log(fmt.Sprintf("Failed to store day order timestamp: %v", err))
	}
}
