// Package service is the crawl surface shared by the HTTP API and the CLI:
// start, poll, read pages, list and delete jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Scheduler queues jobs for the worker pool and cancels running ones.
type Scheduler interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
	Cancel(jobID string) bool
}

// Config holds scope defaults and limits applied on job start.
type Config struct {
	DefaultMaxPages       int
	MaxPagesCap           int
	DefaultRateLimitDelay time.Duration
	EnqueueTimeout        time.Duration
}

// CrawlService coordinates the job store, the scheduler and the optional archive.
type CrawlService struct {
	store     crawler.JobStore
	scheduler Scheduler
	archive   crawler.JobArchive
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a CrawlService. archive may be nil.
func New(
	store crawler.JobStore,
	scheduler Scheduler,
	archive crawler.JobArchive,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *CrawlService {
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 20
	}
	if cfg.MaxPagesCap <= 0 {
		cfg.MaxPagesCap = 50
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlService{
		store:     store,
		scheduler: scheduler,
		archive:   archive,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// DefaultScope returns the scope a request gets when it sets nothing.
func (s *CrawlService) DefaultScope() crawler.ScopeConfig {
	return crawler.ScopeConfig{
		MaxPages:       s.cfg.DefaultMaxPages,
		RateLimitDelay: s.cfg.DefaultRateLimitDelay,
	}
}

// StartJob registers a Pending job and queues it. Only an unusable root URL is
// rejected here; an invalid scope (negative max_pages or delay) still creates
// the job, which the worker then fails with the scope error.
// A zero MaxPages takes the default; anything above the cap is clamped.
func (s *CrawlService) StartJob(ctx context.Context, rootURL string, scope crawler.ScopeConfig) (string, error) {
	if _, err := crawler.ParseHTTPURL(rootURL); err != nil {
		return "", err
	}
	if scope.MaxPages == 0 {
		scope.MaxPages = s.cfg.DefaultMaxPages
	}
	if scope.MaxPages > s.cfg.MaxPagesCap {
		scope.MaxPages = s.cfg.MaxPagesCap
	}
	if err := scope.Validate(); err != nil {
		s.logger.Warn("queuing job with invalid scope", zap.String("root_url", rootURL), zap.Error(err))
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		RootURL:   rootURL,
		Scope:     scope,
		Status:    crawler.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{JobID: jobID, Attempt: 1, Submitted: now.Unix()}
	if err := s.scheduler.Enqueue(queueCtx, item); err != nil {
		if delErr := s.store.DeleteJob(ctx, jobID); delErr != nil {
			s.logger.Warn("rollback of unqueued job failed", zap.String("job_id", jobID), zap.Error(delErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job queued",
		zap.String("job_id", jobID),
		zap.String("root_url", rootURL),
		zap.Int("max_pages", scope.MaxPages),
		zap.Bool("allow_backward", scope.AllowBackward),
	)
	return jobID, nil
}

// Job returns the full job, falling back to the archive once it left memory.
func (s *CrawlService) Job(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, crawler.ErrJobNotFound) || s.archive == nil {
		return crawler.Job{}, err
	}
	archived, archErr := s.archive.LoadJob(ctx, jobID)
	if archErr != nil {
		if errors.Is(archErr, crawler.ErrJobNotFound) {
			return crawler.Job{}, err
		}
		return crawler.Job{}, fmt.Errorf("load archived job: %w", archErr)
	}
	return archived, nil
}

// Status returns the polling snapshot for a job.
func (s *CrawlService) Status(ctx context.Context, jobID string) (crawler.StatusView, error) {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return crawler.StatusView{}, err
	}
	return statusView(job), nil
}

// Page returns the page record at index.
func (s *CrawlService) Page(ctx context.Context, jobID string, index int) (crawler.PageRecord, error) {
	page, err := s.store.GetPage(ctx, jobID, index)
	if err == nil || !errors.Is(err, crawler.ErrJobNotFound) {
		return page, err
	}
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	if index < 0 || index >= len(job.Pages) {
		return crawler.PageRecord{}, fmt.Errorf("%w: job %s index %d", crawler.ErrPageNotFound, jobID, index)
	}
	return job.Pages[index], nil
}

// Pages returns every page record of the job in crawl order.
func (s *CrawlService) Pages(ctx context.Context, jobID string) ([]crawler.PageRecord, error) {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Pages, nil
}

// List returns the jobs held in memory, oldest first.
func (s *CrawlService) List(ctx context.Context) ([]crawler.JobSummary, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes the job, stops its loop and drops its archive entry.
func (s *CrawlService) Delete(ctx context.Context, jobID string) error {
	storeErr := s.store.DeleteJob(ctx, jobID)
	if storeErr != nil && !errors.Is(storeErr, crawler.ErrJobNotFound) {
		return fmt.Errorf("delete job: %w", storeErr)
	}
	canceled := s.scheduler.Cancel(jobID)

	archived := false
	if s.archive != nil {
		err := s.archive.DeleteJob(ctx, jobID)
		switch {
		case err == nil:
			archived = true
		case !errors.Is(err, crawler.ErrJobNotFound):
			return fmt.Errorf("delete archived job: %w", err)
		}
	}
	if storeErr != nil && !archived {
		return storeErr
	}
	s.logger.Info("job deleted",
		zap.String("job_id", jobID),
		zap.Bool("was_running", canceled),
		zap.Bool("archived", archived),
	)
	return nil
}

func statusView(job crawler.Job) crawler.StatusView {
	errs := append([]string{}, job.RecentErrors...)
	return crawler.StatusView{
		JobID:          job.ID,
		Status:         job.Status,
		PagesProcessed: len(job.Pages),
		PagesTotalCap:  job.Scope.MaxPages,
		RecentErrors:   errs,
		CurrentURL:     job.Progress.CurrentURL,
		ErrorText:      job.ErrorText,
		ArtifactURI:    job.ArtifactURI,
	}
}
