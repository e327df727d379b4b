package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/colthorp/portal-cache-go/internal/core"
)

// Resource names.
const (
	ResourceAttendance       = "attendance"
	ResourceCalendar         = "calendar"
	ResourceTimetable        = "timetable"
	ResourceUserInfo         = "userinfo"
	ResourceDocuments        = "documents"
	ResourceSubjectDocuments = "subject-documents"
	ResourceDayOrder         = "dayorder"
)

// Resource describes where one resource kind lives in the stores.
type Resource struct {
	Name      string
	Partition string
	// Key is the default entry key. Keyed resources store further entries
	// under Key + "/" + sub-key.
	Key   string
	TTL   time.Duration
	Keyed bool
}

// MetadataKey returns the MetaStore key for the entry stored under key.
func (r Resource) MetadataKey(key string) string {
	if key == "" || key == r.Key {
		return r.Name + core.MetadataSuffix
	}
	return r.Name + core.MetadataSuffix + ":" + strings.TrimPrefix(key, r.Key+"/")
}

// SubKey returns the entry key of a keyed resource.
func (r Resource) SubKey(sub string) string {
	return r.Key + "/" + sub
}

// ownsMetadataKey reports whether key is one of this resource's metadata keys.
func (r Resource) ownsMetadataKey(key string) bool {
	base := r.Name + core.MetadataSuffix
	return key == base || strings.HasPrefix(key, base+":")
}

// Registry holds the resource table. It replaces per-module constants so the
// engine, lifecycle and CLI agree on names.
type Registry struct {
	resources map[string]Resource
}

// NewRegistry builds a registry from resources.
func NewRegistry(resources ...Resource) *Registry {
	r := &Registry{resources: make(map[string]Resource, len(resources))}
	for _, res := range resources {
		r.resources[res.Name] = res
	}
	return r
}

// DefaultRegistry returns the portal resource table with TTLs from cfg.
func DefaultRegistry(ttl core.TTLConfig) *Registry {
	return NewRegistry(
		Resource{Name: ResourceAttendance, Partition: "attendance-cache", Key: "/attendance", TTL: ttl.Attendance},
		Resource{Name: ResourceCalendar, Partition: "calendar-cache", Key: "/calendar", TTL: ttl.Calendar},
		Resource{Name: ResourceTimetable, Partition: "timetable-cache", Key: "/timetable", TTL: ttl.Timetable},
		Resource{Name: ResourceUserInfo, Partition: "userinfo-cache", Key: "/userinfo", TTL: ttl.UserInfo},
		Resource{Name: ResourceDocuments, Partition: "documents-cache", Key: "/documents", TTL: ttl.Documents},
		Resource{Name: ResourceSubjectDocuments, Partition: "subject-documents-cache", Key: "/documents", TTL: ttl.Documents, Keyed: true},
	)
}

// Lookup returns the named resource.
func (r *Registry) Lookup(name string) (Resource, bool) {
	res, ok := r.resources[name]
	return res, ok
}

// All returns every resource sorted by name.
func (r *Registry) All() []Resource {
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
