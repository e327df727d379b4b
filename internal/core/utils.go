package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Stderr receives debug and progress output.
var Stderr io.Writer = os.Stderr

// Eprint writes msg to stderr when verbose is true.
func Eprint(msg string, verbose bool) {
	if verbose {
		fmt.Fprintln(Stderr, msg)
	}
}

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(Stderr, msg)
	}
}

// DateOnly returns a time.Time with only the UTC date portion (midnight UTC).
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate formats a time.Time as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(APIDateFmt)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	return FormatDate(a) == FormatDate(b)
}

// MonthKey returns the calendar partition key (YYYY-MM) for t in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format(MonthKeyFmt)
}

// ParseMonthKey parses a YYYY-MM month key.
func ParseMonthKey(s string) (time.Time, error) {
	t, err := time.Parse(MonthKeyFmt, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month '%s' (expected YYYY-MM)", s)
	}
	return t, nil
}

// MonthsWindow returns month keys from the month of t through ahead months
// after it, in ascending order.
func MonthsWindow(t time.Time, ahead int) []string {
	if ahead < 0 {
		ahead = 0
	}
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	months := make([]string, 0, ahead+1)
	for i := 0; i <= ahead; i++ {
		months = append(months, MonthKey(first.AddDate(0, i, 0)))
	}
	return months
}

// SplitList splits a comma-separated flag value, dropping blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
