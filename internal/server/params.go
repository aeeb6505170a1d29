package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caevv/buildwatch/internal/analytics"
	"github.com/caevv/buildwatch/internal/query"
	"github.com/caevv/buildwatch/internal/store"
)

// dimensionPrefix marks dimension filters in the query string: dim.TRACK=main
const dimensionPrefix = "dim."

// paramError is an invalid request parameter; it maps to 400.
type paramError struct {
	name string
	msg  string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.name, e.msg)
}

func badParam(name, format string, args ...any) error {
	return &paramError{name: name, msg: fmt.Sprintf(format, args...)}
}

func buildNumberParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "number")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badParam("build number", "%q is not a positive integer", raw)
	}
	return n, nil
}

// intParam reads an optional positive integer, returning def when absent.
func intParam(q url.Values, name string, def, maxValue int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badParam(name, "%q is not a positive integer", raw)
	}
	if maxValue > 0 && n > maxValue {
		return 0, badParam(name, "must be at most %d", maxValue)
	}
	return n, nil
}

// splitList splits comma-separated values and drops empties.
func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// timeParam accepts RFC 3339 or a plain YYYY-MM-DD date (UTC midnight).
func timeParam(q url.Values, name string) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, badParam(name, "%q is neither RFC 3339 nor YYYY-MM-DD", raw)
}

func listOptions(q url.Values) (query.ListOptions, error) {
	var opts query.ListOptions

	for _, raw := range splitList(q.Get("status")) {
		st, err := store.ParseStatus(raw)
		if err != nil {
			return opts, badParam("status", "%v", err)
		}
		opts.Statuses = append(opts.Statuses, st)
	}

	for key, values := range q {
		name, ok := strings.CutPrefix(key, dimensionPrefix)
		if !ok || name == "" {
			continue
		}
		var vals []string
		for _, v := range values {
			vals = append(vals, splitList(v)...)
		}
		if len(vals) == 0 {
			continue
		}
		if opts.Dimensions == nil {
			opts.Dimensions = make(map[string][]string)
		}
		opts.Dimensions[name] = vals
	}

	opts.Search = strings.TrimSpace(q.Get("q"))

	var err error
	if opts.Page, err = intParam(q, "page", 1, 0); err != nil {
		return opts, err
	}
	if opts.PageSize, err = intParam(q, "page_size", query.DefaultPageSize, query.MaxPageSize); err != nil {
		return opts, err
	}
	return opts, nil
}

func statsScope(q url.Values) (analytics.Scope, error) {
	scope := analytics.Scope{
		JobID:     q.Get("job"),
		Dimension: q.Get("dimension"),
		Value:     q.Get("value"),
	}

	var err error
	if scope.Since, err = timeParam(q, "since"); err != nil {
		return scope, err
	}
	if scope.Until, err = timeParam(q, "until"); err != nil {
		return scope, err
	}
	if !scope.Since.IsZero() && !scope.Until.IsZero() && !scope.Until.After(scope.Since) {
		return scope, badParam("until", "must be after since")
	}
	if (scope.Dimension == "") != (scope.Value == "") {
		return scope, badParam("dimension", "dimension and value go together")
	}
	if scope.Dimension != "" && scope.JobID == "" {
		return scope, badParam("dimension", "a dimension filter needs a job")
	}
	return scope, nil
}
