package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

func openArchive(t *testing.T) *JobArchive {
	t.Helper()
	archive, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "db", "archive.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func TestJobArchive_SaveLoadDelete(t *testing.T) {
	t.Parallel()

	archive := openArchive(t)
	ctx := context.Background()
	finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := crawler.Job{
		ID:         "job-1",
		RootURL:    "https://example.com",
		Status:     crawler.JobStatusRunning,
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: nil,
	}
	require.NoError(t, archive.SaveJob(ctx, job))

	job.Status = crawler.JobStatusCompleted
	job.FinishedAt = &finished
	job.Pages = []crawler.PageRecord{{URL: "https://example.com", Status: crawler.PageStatusSuccess}}
	require.NoError(t, archive.SaveJob(ctx, job))

	got, err := archive.LoadJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Len(t, got.Pages, 1)
	require.NotNil(t, got.FinishedAt)
	require.True(t, finished.Equal(*got.FinishedAt))

	var count int
	require.NoError(t, archive.db.QueryRow(`SELECT COUNT(*) FROM crawl_jobs`).Scan(&count))
	require.Equal(t, 1, count)

	require.NoError(t, archive.DeleteJob(ctx, "job-1"))
	_, err = archive.LoadJob(ctx, "job-1")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.ErrorIs(t, archive.DeleteJob(ctx, "job-1"), crawler.ErrJobNotFound)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	archive := openArchive(t)
	require.Error(t, archive.SaveJob(context.Background(), crawler.Job{}))
}
