// Package sqlite archives finished crawl jobs in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Config points at the database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// JobArchive is a crawler.JobArchive backed by database/sql and modernc.org/sqlite.
type JobArchive struct {
	db *sql.DB
}

// New opens (creating if needed) the database at cfg.Path and ensures the schema.
func New(ctx context.Context, cfg Config) (*JobArchive, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("archive.sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	archive := &JobArchive{db: db}
	if err := archive.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return archive, nil
}

func (a *JobArchive) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS crawl_jobs (
		id TEXT PRIMARY KEY,
		root_url TEXT NOT NULL,
		status TEXT NOT NULL,
		pages_processed INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		finished_at DATETIME,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status);`
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
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
	var finished any
	if job.FinishedAt != nil {
		finished = job.FinishedAt.UTC()
	}
	const query = `
	INSERT INTO crawl_jobs (id, root_url, status, pages_processed, created_at, finished_at, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		root_url = excluded.root_url,
		status = excluded.status,
		pages_processed = excluded.pages_processed,
		finished_at = excluded.finished_at,
		payload = excluded.payload`
	_, err = a.db.ExecContext(ctx, query,
		job.ID, job.RootURL, string(job.Status), len(job.Pages), job.CreatedAt.UTC(), finished, string(payload))
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// LoadJob returns the archived job or crawler.ErrJobNotFound.
func (a *JobArchive) LoadJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var payload string
	err := a.db.QueryRowContext(ctx, `SELECT payload FROM crawl_jobs WHERE id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job crawler.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// DeleteJob removes the archived row.
func (a *JobArchive) DeleteJob(ctx context.Context, jobID string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM crawl_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// Close closes the database.
func (a *JobArchive) Close() error {
	return a.db.Close()
}
