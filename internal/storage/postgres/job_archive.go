// Package postgres archives finished crawl jobs in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the archive.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobArchive stores one row per job: summary columns plus the full job,
// pages included, as JSONB.
type JobArchive struct {
	pool  pgxIface
	table string
}

// New connects a pool and returns an archive.
func New(ctx context.Context, cfg Config) (*JobArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	archive, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return archive, nil
}

// NewWithPool constructs an archive from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, table string) (*JobArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobArchive{pool: pool, table: table}, nil
}

// EnsureSchema creates the archive table if it does not exist.
func (a *JobArchive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	root_url        TEXT NOT NULL,
	status          TEXT NOT NULL,
	pages_processed INTEGER NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	payload         JSONB NOT NULL
)`, a.table)
	if _, err := a.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", a.table, err)
	}
	return nil
}

// SaveJob upserts the job snapshot.
func (a *JobArchive) SaveJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, root_url, status, pages_processed, created_at, finished_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	root_url = EXCLUDED.root_url,
	status = EXCLUDED.status,
	pages_processed = EXCLUDED.pages_processed,
	finished_at = EXCLUDED.finished_at,
	payload = EXCLUDED.payload`, a.table)

	args := []any{
		job.ID,
		job.RootURL,
		string(job.Status),
		len(job.Pages),
		job.CreatedAt,
		job.FinishedAt,
		payload,
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// LoadJob returns the archived job or crawler.ErrJobNotFound.
func (a *JobArchive) LoadJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, a.table)
	var payload []byte
	if err := a.pool.QueryRow(ctx, query, jobID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
		}
		return crawler.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job crawler.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// DeleteJob removes the archived row.
func (a *JobArchive) DeleteJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, a.table)
	tag, err := a.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// Close releases the pool.
func (a *JobArchive) Close() error {
	if a == nil || a.pool == nil {
		return nil
	}
	a.pool.Close()
	return nil
}
