package core

import (
	"reflect"
	"testing"
	"time"
)

func TestDateOnly(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		name  string
		input time.Time
		want  string
	}{
		{"utc midday", time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC), "2026-10-17"},
		{"just before midnight", time.Date(2026, 10, 17, 23, 59, 59, 0, time.UTC), "2026-10-17"},
		// 02:00 IST is still the previous day in UTC.
		{"offset zone", time.Date(2026, 10, 17, 2, 0, 0, 0, ist), "2026-10-16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DateOnly(tt.input)
			if got.Format(APIDateFmt) != tt.want {
				t.Errorf("DateOnly(%v) = %v, want %v", tt.input, got.Format(APIDateFmt), tt.want)
			}
			if got.Hour() != 0 || got.Location() != time.UTC {
				t.Errorf("DateOnly(%v) = %v, want UTC midnight", tt.input, got)
			}
		})
	}
}

func TestSameUTCDay(t *testing.T) {
	a := time.Date(2026, 10, 17, 0, 0, 1, 0, time.UTC)
	b := time.Date(2026, 10, 17, 23, 59, 59, 0, time.UTC)
	c := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	if !SameUTCDay(a, b) {
		t.Errorf("expected %v and %v to be the same UTC day", a, b)
	}
	if SameUTCDay(b, c) {
		t.Errorf("expected %v and %v to be different UTC days", b, c)
	}
}

func TestParseMonthKey(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2026-10", "2026-10", false},
		{" 2026-01 ", "2026-01", false},
		{"2026-13", "", true},
		{"October", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMonthKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMonthKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && MonthKey(got) != tt.want {
				t.Errorf("ParseMonthKey(%q) = %v, want %v", tt.input, MonthKey(got), tt.want)
			}
		})
	}
}

func TestMonthsWindow(t *testing.T) {
	now := time.Date(2026, 11, 30, 10, 0, 0, 0, time.UTC)

	got := MonthsWindow(now, 2)
	want := []string{"2026-11", "2026-12", "2027-01"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MonthsWindow = %v, want %v", got, want)
	}

	if got := MonthsWindow(now, -1); !reflect.DeepEqual(got, []string{"2026-11"}) {
		t.Errorf("MonthsWindow with negative ahead = %v, want current month only", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" 2026-01, ,2026-02,")
	want := []string{"2026-01", "2026-02"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if got := SplitList(""); len(got) != 0 {
		t.Errorf("SplitList(\"\") = %v, want empty", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{CacheBackend: BackendSQLite, DayOrderAttempts: 0, GapFillBatch: -3}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.CacheDir == "" {
		t.Error("expected CacheDir to default to the home cache root")
	}
	if cfg.DayOrderAttempts != 1 {
		t.Errorf("DayOrderAttempts = %d, want 1", cfg.DayOrderAttempts)
	}
	if cfg.GapFillBatch != 0 {
		t.Errorf("GapFillBatch = %d, want 0", cfg.GapFillBatch)
	}

	bad := &Config{CacheBackend: "redis"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORTAL_API_URL", "https://portal.test/api")
	t.Setenv("PORTAL_CACHE_DIR", t.TempDir())
	t.Setenv("PORTAL_TTL_ATTENDANCE", "5m")
	t.Setenv("PORTAL_DAYORDER_ATTEMPTS", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.APIBaseURL != "https://portal.test/api" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.TTL.Attendance != 5*time.Minute {
		t.Errorf("TTL.Attendance = %v, want 5m", cfg.TTL.Attendance)
	}
	if cfg.TTL.Calendar != 24*time.Hour {
		t.Errorf("TTL.Calendar = %v, want default 24h", cfg.TTL.Calendar)
	}
	if cfg.DayOrderAttempts != 3 {
		t.Errorf("DayOrderAttempts = %d, want 3", cfg.DayOrderAttempts)
	}
	if cfg.CacheBackend != BackendFilesystem {
		t.Errorf("CacheBackend = %q, want default filesystem", cfg.CacheBackend)
	}
}
