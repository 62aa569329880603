package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/metrics"
)

const (
	storePostgres         = "postgres"
	defaultPostgresPrefix = "match_"
)

// PostgresStore keeps records as JSONB rows keyed by (job_id, resume_id).
// Results carry their overall score in a column so ranking is an index scan.
type PostgresStore struct {
	pool   *pgxpool.Pool
	prefix string
}

// ConnectPostgres opens a pool, verifies it and creates the tables if they
// do not exist.
func ConnectPostgres(ctx context.Context, databaseURL string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewPostgresStore(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. The store closes it on Close.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, prefix: defaultPostgresPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) table(name string) string { return s.prefix + name }

// Migrate creates the tables and the ranking index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			job_id     TEXT NOT NULL,
			resume_id  TEXT NOT NULL,
			state      TEXT NOT NULL,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (job_id, resume_id)
		)`, s.table("pending")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			job_id     TEXT PRIMARY KEY,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.table("jobs")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			job_id        TEXT NOT NULL,
			resume_id     TEXT NOT NULL,
			overall_score INTEGER NOT NULL,
			fingerprint   TEXT NOT NULL,
			published     BOOLEAN NOT NULL DEFAULT FALSE,
			generation    INTEGER NOT NULL DEFAULT 0,
			result        JSONB NOT NULL,
			computed_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (job_id, resume_id)
		)`, s.table("results")),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS generation INTEGER NOT NULL DEFAULT 0`, s.table("results")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_rank ON %s (job_id, overall_score DESC, resume_id ASC)`,
			s.table("results"), s.table("results")),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) fail(op string, err error) error {
	metrics.RecordStoreError(storePostgres, op)
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (s *PostgresStore) GetPending(ctx context.Context, key model.Key) (model.PendingCorrelation, bool, error) {
	var p model.PendingCorrelation
	ok, err := s.getJSON(ctx, "get pending",
		fmt.Sprintf(`SELECT record FROM %s WHERE job_id = $1 AND resume_id = $2`, s.table("pending")),
		&p, key.JobID, key.ResumeID)
	return p, ok, err
}

func (s *PostgresStore) UpsertPending(ctx context.Context, p model.PendingCorrelation) error {
	defer observeStore(storePostgres, "upsert_pending", time.Now())
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (job_id, resume_id, state, record, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id, resume_id) DO UPDATE SET state = $3, record = $4, updated_at = $5`, s.table("pending")),
		p.Key.JobID, p.Key.ResumeID, string(p.State), b, p.UpdatedAt,
	)
	if err != nil {
		return s.fail("upsert pending", err)
	}
	return nil
}

func (s *PostgresStore) DeletePending(ctx context.Context, key model.Key) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1 AND resume_id = $2`, s.table("pending")),
		key.JobID, key.ResumeID)
	if err != nil {
		return s.fail("delete pending", err)
	}
	return nil
}

func (s *PostgresStore) ListPendingByJob(ctx context.Context, jobID string) ([]model.Key, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT resume_id FROM %s WHERE job_id = $1 ORDER BY resume_id`, s.table("pending")),
		jobID)
	if err != nil {
		return nil, s.fail("list pending", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.fail("list pending", err)
	}
	keys := make([]model.Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, model.Key{JobID: jobID, ResumeID: id})
	}
	return keys, nil
}

func (s *PostgresStore) ScanPending(ctx context.Context, fn func(model.PendingCorrelation) bool) error {
	return scanRows(ctx, s, "scan pending", fmt.Sprintf(`SELECT record FROM %s`, s.table("pending")), fn)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (model.JobEntry, bool, error) {
	var j model.JobEntry
	ok, err := s.getJSON(ctx, "get job",
		fmt.Sprintf(`SELECT record FROM %s WHERE job_id = $1`, s.table("jobs")), &j, jobID)
	return j, ok, err
}

func (s *PostgresStore) UpsertJob(ctx context.Context, j model.JobEntry) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (job_id, record, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (job_id) DO UPDATE SET record = $2, updated_at = $3`, s.table("jobs")),
		j.JobID, b, j.UpdatedAt)
	if err != nil {
		return s.fail("upsert job", err)
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.table("jobs")), jobID); err != nil {
		return s.fail("delete job", err)
	}
	return nil
}

func (s *PostgresStore) ScanJobs(ctx context.Context, fn func(model.JobEntry) bool) error {
	return scanRows(ctx, s, "scan jobs", fmt.Sprintf(`SELECT record FROM %s`, s.table("jobs")), fn)
}

func (s *PostgresStore) GetResult(ctx context.Context, key model.Key) (model.StoredResult, bool, error) {
	var (
		raw []byte
		r   model.StoredResult
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT result, fingerprint, published, generation FROM %s WHERE job_id = $1 AND resume_id = $2`, s.table("results")),
		key.JobID, key.ResumeID,
	).Scan(&raw, &r.Fingerprint, &r.Published, &r.Generation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, false, nil
		}
		return r, false, s.fail("get result", err)
	}
	if err := json.Unmarshal(raw, &r.Result); err != nil {
		return r, false, fmt.Errorf("%w: result %s: %w", ErrCorrupt, key, err)
	}
	return r, true, nil
}

func (s *PostgresStore) UpsertResult(ctx context.Context, r model.StoredResult) error {
	defer observeStore(storePostgres, "upsert_result", time.Now())
	b, err := json.Marshal(r.Result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (job_id, resume_id, overall_score, fingerprint, published, generation, result, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_id, resume_id) DO UPDATE
		 SET overall_score = $3, fingerprint = $4, published = $5, generation = $6, result = $7, computed_at = $8`, s.table("results")),
		r.Result.JobID, r.Result.ResumeID, r.Result.OverallScore, r.Fingerprint, r.Published, r.Generation, b, r.Result.ComputedAt,
	)
	if err != nil {
		return s.fail("upsert result", err)
	}
	return nil
}

func (s *PostgresStore) ListByJob(ctx context.Context, jobID string, limit int) ([]model.MatchResult, error) {
	defer observeStore(storePostgres, "list_by_job", time.Now())
	if limit < 1 {
		metrics.RecordStoreError(storePostgres, "invalid_limit")
		return nil, ErrInvalidLimit
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT result FROM %s WHERE job_id = $1
		 ORDER BY overall_score DESC, resume_id ASC LIMIT $2`, s.table("results")),
		jobID, limit)
	if err != nil {
		return nil, s.fail("list results", err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, s.fail("list results", err)
	}
	out := make([]model.MatchResult, 0, len(raws))
	for _, raw := range raws {
		var r model.MatchResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: result of job %s: %w", ErrCorrupt, jobID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) Rank(ctx context.Context, key model.Key) (int, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE job_id = $1`, s.table("results")), key.JobID,
	).Scan(&total)
	if err != nil {
		return 0, 0, s.fail("count job results", err)
	}
	var pos int
	err = s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT pos FROM (
			SELECT resume_id, ROW_NUMBER() OVER (ORDER BY overall_score DESC, resume_id ASC) AS pos
			FROM %s WHERE job_id = $1
		) ranked WHERE resume_id = $2`, s.table("results")),
		key.JobID, key.ResumeID,
	).Scan(&pos)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, total, nil
		}
		return 0, 0, s.fail("rank result", err)
	}
	return pos, total, nil
}

func (s *PostgresStore) CountResults(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table("results"))).Scan(&n); err != nil {
		return 0, s.fail("count results", err)
	}
	return n, nil
}

func (s *PostgresStore) getJSON(ctx context.Context, op, query string, out any, args ...any) (bool, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, s.fail(op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrCorrupt, op, err)
	}
	return true, nil
}

// scanRows reads every row before calling fn, so fn may use the pool.
func scanRows[T any](ctx context.Context, s *PostgresStore, op, query string, fn func(T) bool) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return s.fail(op, err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return s.fail(op, err)
	}
	for _, raw := range raws {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorrupt, op, err)
		}
		if !fn(v) {
			return nil
		}
	}
	return nil
}
