package store

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Filter narrows the builds a read operates on. The zero value matches
// everything.
type Filter struct {
	// Statuses matches any of the listed statuses.
	Statuses []Status

	// Dimensions maps a parameter name to accepted values. Values of one
	// name are OR'ed, names are AND'ed.
	Dimensions map[string][]string

	// Search is a case-insensitive substring of the build number or of
	// any parameter value.
	Search string

	// Since and Until bound StartedAt as [Since, Until). Zero means unbounded.
	Since time.Time
	Until time.Time

	// WithDuration keeps only builds whose duration is known.
	WithDuration bool
}

// Matches evaluates the filter in memory.
func (f Filter) Matches(b *Build) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status) {
		return false
	}
	if f.WithDuration && b.DurationMs == nil {
		return false
	}
	if !f.Since.IsZero() && b.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !b.StartedAt.Before(f.Until) {
		return false
	}

	for name, values := range f.Dimensions {
		if len(values) == 0 {
			continue
		}
		if !hasParamValue(b, name, values) {
			return false
		}
	}

	if f.Search != "" {
		return matchesSearch(b, f.Search)
	}
	return true
}

func hasParamValue(b *Build, name string, values []string) bool {
	for _, p := range b.Parameters {
		if p.Name == name && slices.Contains(values, p.Value) {
			return true
		}
	}
	return false
}

func matchesSearch(b *Build, search string) bool {
	needle := strings.ToLower(search)
	if strings.Contains(strconv.Itoa(b.Number), needle) {
		return true
	}
	for _, p := range b.Parameters {
		if strings.Contains(strings.ToLower(p.Value), needle) {
			return true
		}
	}
	return false
}

// dimensionNames returns the non-empty dimension filters in a stable order.
func (f Filter) dimensionNames() []string {
	names := make([]string, 0, len(f.Dimensions))
	for name, values := range f.Dimensions {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// sortBuilds orders by build number descending, then job id.
func sortBuilds(builds []*Build) {
	sort.Slice(builds, func(i, j int) bool {
		if builds[i].Number != builds[j].Number {
			return builds[i].Number > builds[j].Number
		}
		return builds[i].JobID < builds[j].JobID
	})
}

// pageBounds converts a 1-based page into slice bounds over total items.
func pageBounds(total, page, pageSize int) (int, int) {
	if pageSize <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
