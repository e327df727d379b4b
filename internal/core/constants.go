// Package core provides shared constants and configuration for the portal CLI.
package core

import (
	"os"
	"path/filepath"
)

// API configuration
const (
	DefaultAPIBaseURL    = "http://localhost:9000/api"
	DefaultSessionCookie = "session"

	// SessionExpiredMessage is the body message the API pairs with 401/403
	// when the session cookie is no longer accepted.
	SessionExpiredMessage = "Session expired - please login again"
)

// Date formats
const (
	APIDateFmt  = "2006-01-02"
	MonthKeyFmt = "2006-01"
)

// Cache backends
const (
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
)

// Partition naming. Every resource partition name carries PartitionMarker so
// sign-out can find them without a registry.
const (
	PartitionMarker = "-cache"
	MetadataSuffix  = "-metadata"
)

// Day order metadata keys and sentinels.
const (
	DayOrderKey          = "order"
	DayOrderTimestampKey = "order_timestamp"
	DayOrderOff          = "off"
	CalendarHolidayToken = "-"
)

// HolidayKeywords mark a calendar event as a day off.
var HolidayKeywords = []string{"holiday", "vacation"}

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".portal", "cache")
}

// Version is the current CLI version.
const Version = "0.3.0"
