// internal/app/system/timezones/timezones.go
package timezones

import (
	"sort"
	"sync"
	"time"

	// Bundled zone database so LoadLocation works in minimal containers.
	_ "time/tzdata"
)

// Zone is one selectable IANA time zone.
type Zone struct {
	ID     string
	Label  string
	Region string
}

// ZoneGroup is a set of zones shown under one heading in a selector.
type ZoneGroup struct {
	Region string
	Zones  []Zone
}

// curated is the list offered by the audit log date filter.
var curated = []Zone{
	{ID: "UTC", Label: "UTC", Region: "UTC"},

	{ID: "America/New_York", Label: "Eastern Time (New York)", Region: "Americas"},
	{ID: "America/Chicago", Label: "Central Time (Chicago)", Region: "Americas"},
	{ID: "America/Denver", Label: "Mountain Time (Denver)", Region: "Americas"},
	{ID: "America/Phoenix", Label: "Mountain Time - no DST (Phoenix)", Region: "Americas"},
	{ID: "America/Los_Angeles", Label: "Pacific Time (Los Angeles)", Region: "Americas"},
	{ID: "America/Anchorage", Label: "Alaska Time (Anchorage)", Region: "Americas"},
	{ID: "Pacific/Honolulu", Label: "Hawaii Time (Honolulu)", Region: "Americas"},
	{ID: "America/Toronto", Label: "Eastern Time (Toronto)", Region: "Americas"},
	{ID: "America/Mexico_City", Label: "Mexico City", Region: "Americas"},
	{ID: "America/Sao_Paulo", Label: "Sao Paulo", Region: "Americas"},

	{ID: "Europe/London", Label: "London", Region: "Europe"},
	{ID: "Europe/Dublin", Label: "Dublin", Region: "Europe"},
	{ID: "Europe/Paris", Label: "Paris", Region: "Europe"},
	{ID: "Europe/Berlin", Label: "Berlin", Region: "Europe"},
	{ID: "Europe/Madrid", Label: "Madrid", Region: "Europe"},
	{ID: "Europe/Athens", Label: "Athens", Region: "Europe"},
	{ID: "Europe/Moscow", Label: "Moscow", Region: "Europe"},

	{ID: "Africa/Lagos", Label: "Lagos", Region: "Africa"},
	{ID: "Africa/Cairo", Label: "Cairo", Region: "Africa"},
	{ID: "Africa/Johannesburg", Label: "Johannesburg", Region: "Africa"},

	{ID: "Asia/Dubai", Label: "Dubai", Region: "Asia"},
	{ID: "Asia/Kolkata", Label: "India (Kolkata)", Region: "Asia"},
	{ID: "Asia/Singapore", Label: "Singapore", Region: "Asia"},
	{ID: "Asia/Shanghai", Label: "China (Shanghai)", Region: "Asia"},
	{ID: "Asia/Tokyo", Label: "Tokyo", Region: "Asia"},
	{ID: "Asia/Seoul", Label: "Seoul", Region: "Asia"},

	{ID: "Australia/Perth", Label: "Perth", Region: "Oceania"},
	{ID: "Australia/Sydney", Label: "Sydney", Region: "Oceania"},
	{ID: "Pacific/Auckland", Label: "Auckland", Region: "Oceania"},
}

var (
	byID = func() map[string]Zone {
		m := make(map[string]Zone, len(curated))
		for _, z := range curated {
			m[z.ID] = z
		}
		return m
	}()

	groupsOnce sync.Once
	groups     []ZoneGroup
)

// All returns the curated zones in display order.
func All() []Zone {
	return curated
}

// Label returns the human-friendly label for an ID, or the ID itself if not found.
func Label(id string) string {
	if z, ok := byID[id]; ok {
		return z.Label
	}
	return id
}

// Valid reports whether id is one of the curated zones.
func Valid(id string) bool {
	_, ok := byID[id]
	return ok
}

// Location resolves a curated zone ID. Empty and unknown IDs resolve to UTC,
// which is how audit timestamps are stored.
func Location(id string) *time.Location {
	if !Valid(id) {
		return time.UTC
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DayRange returns the instants bounding the calendar days start and end
// (formatted YYYY-MM-DD) in loc. Either bound is nil when its input is empty
// or malformed. The end bound is the last nanosecond of the end day.
func DayRange(start, end string, loc *time.Location) (since, until *time.Time) {
	if t, err := time.ParseInLocation(time.DateOnly, start, loc); err == nil {
		since = &t
	}
	if t, err := time.ParseInLocation(time.DateOnly, end, loc); err == nil {
		last := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		until = &last
	}
	return since, until
}

// Groups returns the curated zones grouped by region, UTC first and the rest
// alphabetically, each group sorted by label.
func Groups() []ZoneGroup {
	groupsOnce.Do(func() {
		byRegion := make(map[string][]Zone)
		for _, z := range curated {
			byRegion[z.Region] = append(byRegion[z.Region], z)
		}

		out := make([]ZoneGroup, 0, len(byRegion))
		for region, zs := range byRegion {
			sort.SliceStable(zs, func(i, j int) bool { return zs[i].Label < zs[j].Label })
			out = append(out, ZoneGroup{Region: region, Zones: zs})
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Region == "UTC" || out[j].Region == "UTC" {
				return out[i].Region == "UTC"
			}
			return out[i].Region < out[j].Region
		})
		groups = out
	})
	return groups
}
