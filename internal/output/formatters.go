// Package output provides output formatting utilities for the portal CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/colthorp/portal-cache-go/internal/cache"
)

// Envelope wraps a resource payload with where it came from.
type Envelope struct {
	Resource  string      `json:"resource"`
	Source    string      `json:"source"`
	FetchedAt *time.Time  `json:"fetchedAt,omitempty"`
	Warning   string      `json:"warning,omitempty"`
	Data      interface{} `json:"data"`
}

// NewEnvelope builds the envelope for a fetch result.
func NewEnvelope[T any](resource string, r cache.Result[T]) Envelope {
	env := Envelope{
		Resource: resource,
		Source:   r.Source.String(),
		Data:     r.Data,
	}
	if !r.FetchedAt.IsZero() {
		at := r.FetchedAt.UTC()
		env.FetchedAt = &at
	}
	if r.Err != nil && r.OK() {
		env.Warning = r.Err.Error()
	}
	return env
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteStatsTable writes one row per resource.
func WriteStatsTable(w io.Writer, rows []cache.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tCACHED\tLAST FETCH\tEXPIRES IN\tDETAILS")
	for _, s := range rows {
		name := s.Resource
		if s.Key != "" {
			name += " " + s.Key
		}
		if !s.Exists {
			fmt.Fprintf(tw, "%s\tno\t-\t-\t-\n", name)
			continue
		}
		expires := "expired"
		if !s.Expired {
			expires = strconv.Itoa(s.MinutesUntilExpiry) + "m"
		}
		fmt.Fprintf(tw, "%s\tyes\t%s\t%s\t%s\n", name, orDash(s.LastFetch), expires, details(s))
	}
	return tw.Flush()
}

// WriteWarmTable writes the outcome of a warm pass, sorted by resource.
func WriteWarmTable(w io.Writer, statuses map[string]cache.WarmStatus) error {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tSOURCE\tERROR")
	for _, name := range names {
		s := statuses[name]
		errText := "-"
		if s.Err != nil {
			errText = fmt.Sprintf("%s: %v", s.Kind, s.Err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, s.Source, errText)
	}
	return tw.Flush()
}

func details(s cache.Stats) string {
	if s.Value != "" {
		return "value=" + s.Value
	}
	if len(s.Counts) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Counts[k]))
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
