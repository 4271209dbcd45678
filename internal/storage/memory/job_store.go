package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// MaxRecentErrors bounds the per-job recent error ring.
const MaxRecentErrors = 10

type jobEntry struct {
	job  crawler.Job
	urls map[string]struct{}
}

// JobStore is the process-wide job registry. Every read returns a deep copy,
// and a page plus its counters are published under one lock.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
	now  func() time.Time
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*jobEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob registers a new job. A zero status becomes pending.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", crawler.ErrJobExists, job.ID)
	}
	now := s.now()
	job = job.Clone()
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	entry := &jobEntry{job: job, urls: make(map[string]struct{}, len(job.Pages))}
	for _, page := range job.Pages {
		entry.urls[page.URL] = struct{}{}
	}
	if entry.job.Pages == nil {
		entry.job.Pages = []crawler.PageRecord{}
	}
	s.jobs[job.ID] = entry
	return nil
}

// GetJob returns a snapshot of the job including its pages.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, notFound(jobID)
	}
	return entry.job.Clone(), nil
}

// Exists reports whether the job is still registered.
func (s *JobStore) Exists(_ context.Context, jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

// DeleteJob removes the job and its pages.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return notFound(jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// ListJobs returns summaries ordered by creation time.
func (s *JobStore) ListJobs(_ context.Context) ([]crawler.JobSummary, error) {
	s.mu.RLock()
	out := make([]crawler.JobSummary, 0, len(s.jobs))
	for _, entry := range s.jobs {
		out = append(out, entry.job.Clone().Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateJobStatus applies a lifecycle transition. Illegal moves return ErrInvalidTransition.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status crawler.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	job := &entry.job
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", crawler.ErrInvalidTransition, job.Status, status)
	}
	now := s.now()
	job.Status = status
	job.UpdatedAt = now
	if status == crawler.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		finished := now
		job.FinishedAt = &finished
		job.Progress.CurrentURL = ""
	}
	if status == crawler.JobStatusFailed {
		job.ErrorText = errText
	}
	return nil
}

// UpdateProgress records the URL being fetched and frontier counters.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, currentURL string, pending, discovered int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	entry.job.Progress.CurrentURL = currentURL
	entry.job.Progress.Pending = pending
	entry.job.Progress.LinksDiscovered = discovered
	entry.job.UpdatedAt = s.now()
	return nil
}

// AppendPage publishes a finished page and returns its index.
func (s *JobStore) AppendPage(_ context.Context, jobID string, page crawler.PageRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return 0, notFound(jobID)
	}
	job := &entry.job
	if job.Scope.MaxPages > 0 && len(job.Pages) >= job.Scope.MaxPages {
		return 0, fmt.Errorf("%w: job %s already has %d pages", crawler.ErrPageLimit, jobID, len(job.Pages))
	}
	if _, dup := entry.urls[page.URL]; dup {
		return 0, fmt.Errorf("%w: %s", crawler.ErrDuplicatePage, page.URL)
	}

	page = page.Clone()
	page.JobID = jobID
	page.Index = len(job.Pages)
	job.Pages = append(job.Pages, page)
	entry.urls[page.URL] = struct{}{}
	switch page.Status {
	case crawler.PageStatusSuccess:
		job.Progress.PagesSucceeded++
	case crawler.PageStatusFailed:
		job.Progress.PagesFailed++
	case crawler.PageStatusSkipped:
		job.Progress.PagesSkipped++
	}
	job.UpdatedAt = s.now()
	return page.Index, nil
}

// GetPage returns the page at index.
func (s *JobStore) GetPage(_ context.Context, jobID string, index int) (crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return crawler.PageRecord{}, notFound(jobID)
	}
	if index < 0 || index >= len(entry.job.Pages) {
		return crawler.PageRecord{}, fmt.Errorf("%w: index %d of %d", crawler.ErrPageNotFound, index, len(entry.job.Pages))
	}
	return entry.job.Pages[index].Clone(), nil
}

// RecordError appends msg to the job's recent errors, keeping the newest MaxRecentErrors.
func (s *JobStore) RecordError(_ context.Context, jobID string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	errs := append(entry.job.RecentErrors, msg)
	if len(errs) > MaxRecentErrors {
		errs = append([]string(nil), errs[len(errs)-MaxRecentErrors:]...)
	}
	entry.job.RecentErrors = errs
	entry.job.UpdatedAt = s.now()
	return nil
}

// SetArtifact records where the job's exported documents live.
func (s *JobStore) SetArtifact(_ context.Context, jobID string, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	entry.job.ArtifactURI = uri
	entry.job.UpdatedAt = s.now()
	return nil
}

func notFound(jobID string) error {
	return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
}
