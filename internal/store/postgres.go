package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
//
// Upserts rely on row-level locking from ON CONFLICT, so distinct builds can
// be written in parallel.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const buildColumns = "b.job_id, b.build_number, b.status, b.duration_ms, b.started_at, b.url, b.triggered_by, b.tag"

// NewPostgresStore connects to Postgres and applies the schema migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Upsert replaces the build row and its parameters in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, build *Build) error {
	if err := validateBuild(build); err != nil {
		return err
	}
	params := NormalizeParameters(build.Parameters)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO builds (job_id, build_number, status, duration_ms, started_at, url, triggered_by, tag, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (job_id, build_number) DO UPDATE SET
			status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms,
			started_at = EXCLUDED.started_at,
			url = EXCLUDED.url,
			triggered_by = EXCLUDED.triggered_by,
			tag = EXCLUDED.tag,
			updated_at = now()
	`, build.JobID, build.Number, string(build.Status), build.DurationMs, build.StartedAt.UTC(), build.URL,
		nullText(build.TriggeredBy), nullText(build.Tag))
	if err != nil {
		return fmt.Errorf("upsert build %s#%d: %w", build.JobID, build.Number, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM build_parameters WHERE job_id = $1 AND build_number = $2`,
		build.JobID, build.Number); err != nil {
		return fmt.Errorf("delete parameters of %s#%d: %w", build.JobID, build.Number, err)
	}

	if len(params) > 0 {
		rows := make([][]any, len(params))
		for i, p := range params {
			rows[i] = []any{build.JobID, build.Number, i, p.Name, p.Value}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"build_parameters"},
			[]string{"job_id", "build_number", "position", "name", "value"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("insert parameters of %s#%d: %w", build.JobID, build.Number, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit build %s#%d: %w", build.JobID, build.Number, err)
	}
	return nil
}

// Get returns one build with parameters and cached console log.
func (s *PostgresStore) Get(ctx context.Context, jobID string, number int) (*Build, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+buildColumns+", b.console_log FROM builds b WHERE b.job_id = $1 AND b.build_number = $2",
		jobID, number)

	var consoleLog pgtype.Text
	b, err := scanBuild(row, &consoleLog)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotFound, jobID, number)
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s#%d: %w", jobID, number, err)
	}
	b.ConsoleLog = consoleLog.String

	if err := s.loadParameters(ctx, []*Build{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// List returns one page of matching builds and the total match count.
func (s *PostgresStore) List(ctx context.Context, jobID string, f Filter, page, pageSize int) ([]*Build, int, error) {
	w := buildWhere(jobID, f)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM builds b"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count builds: %w", err)
	}

	query := "SELECT " + buildColumns + " FROM builds b" + w.String() + " ORDER BY b.build_number DESC, b.job_id ASC"
	args := w.args
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", w.arg(pageSize), w.arg((page-1)*pageSize))
		args = w.args
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list builds: %w", err)
	}

	if err := s.loadParameters(ctx, builds); err != nil {
		return nil, 0, err
	}
	return builds, total, nil
}

// DistinctParameterValues returns sorted distinct values of a parameter.
func (s *PostgresStore) DistinctParameterValues(ctx context.Context, jobID, name string) ([]string, error) {
	query := "SELECT DISTINCT p.value FROM build_parameters p WHERE p.name = $1"
	args := []any{name}
	if jobID != "" {
		query += " AND p.job_id = $2"
		args = append(args, jobID)
	}
	query += " ORDER BY p.value"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("distinct values of %s: %w", name, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("distinct values of %s: %w", name, err)
	}
	return values, nil
}

// Aggregate counts matching builds by status.
func (s *PostgresStore) Aggregate(ctx context.Context, jobID string, f Filter) (*Aggregate, error) {
	w := buildWhere(jobID, f)
	rows, err := s.pool.Query(ctx,
		"SELECT b.status, count(*), COALESCE(sum(b.duration_ms), 0)::BIGINT, count(b.duration_ms) FROM builds b"+
			w.String()+" GROUP BY b.status", w.args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate builds: %w", err)
	}
	defer rows.Close()

	agg := newAggregate()
	for rows.Next() {
		var (
			status  string
			n, durN int
			durSum  int64
		)
		if err := rows.Scan(&status, &n, &durSum, &durN); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		agg.add(Status(status), n, durSum, durN)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate builds: %w", err)
	}
	return agg, nil
}

// Daily groups matching builds by UTC date.
func (s *PostgresStore) Daily(ctx context.Context, jobID string, f Filter) ([]DailyAggregate, error) {
	w := buildWhere(jobID, f)
	rows, err := s.pool.Query(ctx,
		"SELECT to_char(b.started_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, b.status, count(*), "+
			"COALESCE(sum(b.duration_ms), 0)::BIGINT, count(b.duration_ms) FROM builds b"+
			w.String()+" GROUP BY day, b.status ORDER BY day", w.args...)
	if err != nil {
		return nil, fmt.Errorf("daily aggregate: %w", err)
	}
	defer rows.Close()

	var out []DailyAggregate
	for rows.Next() {
		var (
			day, status string
			n, durN     int
			durSum      int64
		)
		if err := rows.Scan(&day, &status, &n, &durSum, &durN); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Date != day {
			out = append(out, DailyAggregate{Date: day, Aggregate: newAggregate()})
		}
		out[len(out)-1].add(Status(status), n, durSum, durN)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily aggregate: %w", err)
	}
	return out, nil
}

// SetConsoleLog caches the console output of an existing build.
func (s *PostgresStore) SetConsoleLog(ctx context.Context, jobID string, number int, log string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE builds SET console_log = $3 WHERE job_id = $1 AND build_number = $2`,
		jobID, number, log)
	if err != nil {
		return fmt.Errorf("set console log %s#%d: %w", jobID, number, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s#%d", ErrNotFound, jobID, number)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type buildKeyPair struct {
	jobID  string
	number int
}

// loadParameters attaches parameters, in declaration order, to builds.
func (s *PostgresStore) loadParameters(ctx context.Context, builds []*Build) error {
	if len(builds) == 0 {
		return nil
	}

	index := make(map[buildKeyPair]*Build, len(builds))
	jobIDs := make([]string, 0, len(builds))
	numbers := make([]int, 0, len(builds))
	for _, b := range builds {
		b.Parameters = []Parameter{}
		index[buildKeyPair{b.JobID, b.Number}] = b
		jobIDs = append(jobIDs, b.JobID)
		numbers = append(numbers, b.Number)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_id, build_number, name, value FROM build_parameters
		WHERE job_id = ANY($1) AND build_number = ANY($2)
		ORDER BY job_id, build_number, position
	`, jobIDs, numbers)
	if err != nil {
		return fmt.Errorf("load parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key buildKeyPair
			p   Parameter
		)
		if err := rows.Scan(&key.jobID, &key.number, &p.Name, &p.Value); err != nil {
			return fmt.Errorf("scan parameter: %w", err)
		}
		// The ANY/ANY predicate is a superset; keep only requested builds.
		if b, ok := index[key]; ok {
			b.Parameters = append(b.Parameters, p)
		}
	}
	return rows.Err()
}

func scanBuild(row pgx.Row, consoleLog *pgtype.Text) (*Build, error) {
	var (
		b           Build
		status      string
		triggeredBy pgtype.Text
		tag         pgtype.Text
	)
	dest := []any{&b.JobID, &b.Number, &status, &b.DurationMs, &b.StartedAt, &b.URL, &triggeredBy, &tag}
	if consoleLog != nil {
		dest = append(dest, consoleLog)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.StartedAt = b.StartedAt.UTC()
	b.TriggeredBy = triggeredBy.String
	b.Tag = tag.String
	return &b, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
