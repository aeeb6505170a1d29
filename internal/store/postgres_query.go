package store

import (
	"fmt"
	"strings"
)

// whereBuilder accumulates SQL predicates and their positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// paramExists is a correlated subquery over the parameters of build b.
const paramExists = "EXISTS (SELECT 1 FROM build_parameters p WHERE p.job_id = b.job_id AND p.build_number = b.build_number AND %s)"

// buildWhere translates a Filter into a WHERE clause over "builds b".
func buildWhere(jobID string, f Filter) *whereBuilder {
	w := &whereBuilder{}

	if jobID != "" {
		w.add("b.job_id = " + w.arg(jobID))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("b.status = ANY(" + w.arg(statuses) + ")")
	}

	for _, name := range f.dimensionNames() {
		nameArg := w.arg(name)
		valuesArg := w.arg(f.Dimensions[name])
		w.add(fmt.Sprintf(paramExists, "p.name = "+nameArg+" AND p.value = ANY("+valuesArg+")"))
	}

	if f.Search != "" {
		pattern := w.arg("%" + escapeLike(f.Search) + "%")
		w.add("(CAST(b.build_number AS TEXT) ILIKE " + pattern +
			" OR " + fmt.Sprintf(paramExists, "p.value ILIKE "+pattern) + ")")
	}

	if !f.Since.IsZero() {
		w.add("b.started_at >= " + w.arg(f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		w.add("b.started_at < " + w.arg(f.Until.UTC()))
	}
	if f.WithDuration {
		w.add("b.duration_ms IS NOT NULL")
	}

	return w
}

// escapeLike neutralizes LIKE metacharacters using the default backslash escape.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
