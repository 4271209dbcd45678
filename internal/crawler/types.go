// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// PageStatus is the outcome recorded for one visited URL.
type PageStatus string

// Page outcomes.
const (
	PageStatusSuccess PageStatus = "success"
	PageStatusFailed  PageStatus = "failed"
	PageStatusSkipped PageStatus = "skipped"
)

// ScopeConfig bounds a single crawl.
type ScopeConfig struct {
	MaxPages       int           `json:"max_pages" mapstructure:"max_pages"`
	AllowBackward  bool          `json:"allow_backward" mapstructure:"allow_backward"`
	RateLimitDelay time.Duration `json:"rate_limit_delay" mapstructure:"rate_limit_delay"`
}

// Validate rejects scopes that cannot be crawled.
func (s ScopeConfig) Validate() error {
	if s.MaxPages <= 0 {
		return fmt.Errorf("%w: max_pages must be > 0, got %d", ErrInvalidScope, s.MaxPages)
	}
	if s.RateLimitDelay < 0 {
		return fmt.Errorf("%w: rate_limit_delay must be >= 0, got %s", ErrInvalidScope, s.RateLimitDelay)
	}
	return nil
}

// Job is the unit of work created by a crawl request.
type Job struct {
	ID           string       `json:"id"`
	RootURL      string       `json:"root_url"`
	Scope        ScopeConfig  `json:"scope"`
	Status       JobStatus    `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	ErrorText    string       `json:"error_text,omitempty"`
	Progress     Progress     `json:"progress"`
	RecentErrors []string     `json:"recent_errors,omitempty"`
	ArtifactURI  string       `json:"artifact_uri,omitempty"`
	Pages        []PageRecord `json:"pages"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (j Job) Clone() Job {
	cp := j
	if j.StartedAt != nil {
		ts := *j.StartedAt
		cp.StartedAt = &ts
	}
	if j.FinishedAt != nil {
		ts := *j.FinishedAt
		cp.FinishedAt = &ts
	}
	cp.RecentErrors = append([]string(nil), j.RecentErrors...)
	if j.Pages != nil {
		cp.Pages = make([]PageRecord, len(j.Pages))
		for i, page := range j.Pages {
			cp.Pages[i] = page.Clone()
		}
	}
	return cp
}

// Summary condenses the job for listings.
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:             j.ID,
		RootURL:        j.RootURL,
		Status:         j.Status,
		PagesProcessed: len(j.Pages),
		MaxPages:       j.Scope.MaxPages,
		CreatedAt:      j.CreatedAt,
		FinishedAt:     j.FinishedAt,
	}
}

// Progress holds the counters clients poll while a job runs.
type Progress struct {
	CurrentURL      string `json:"current_url,omitempty"`
	PagesSucceeded  int    `json:"pages_succeeded"`
	PagesFailed     int    `json:"pages_failed"`
	PagesSkipped    int    `json:"pages_skipped"`
	LinksDiscovered int    `json:"links_discovered"`
	Pending         int    `json:"pending"`
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	ID             string     `json:"id"`
	RootURL        string     `json:"root_url"`
	Status         JobStatus  `json:"status"`
	PagesProcessed int        `json:"pages_processed"`
	MaxPages       int        `json:"max_pages"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// StatusView is the polling snapshot returned by get-status.
type StatusView struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	PagesProcessed int       `json:"pages_processed"`
	PagesTotalCap  int       `json:"pages_total_cap"`
	RecentErrors   []string  `json:"recent_errors"`
	CurrentURL     string    `json:"current_url,omitempty"`
	ErrorText      string    `json:"error,omitempty"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
}

// PageMetadata is the structured content extracted from one page.
type PageMetadata struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Keywords      string   `json:"keywords,omitempty"`
	Robots        string   `json:"robots,omitempty"`
	CanonicalURL  string   `json:"canonical_url,omitempty"`
	Language      string   `json:"language,omitempty"`
	H1            []string `json:"h1"`
	H2            []string `json:"h2"`
	H3            []string `json:"h3,omitempty"`
	ImageAltTexts []string `json:"image_alt_texts,omitempty"`
	InternalLinks int      `json:"internal_links"`
	ExternalLinks int      `json:"external_links"`
	WordCount     int      `json:"word_count"`
}

// PageRecord is the immutable outcome of visiting one URL.
type PageRecord struct {
	JobID           string          `json:"job_id"`
	Index           int             `json:"index"`
	URL             string          `json:"url"`
	FinalURL        string          `json:"final_url,omitempty"`
	Status          PageStatus      `json:"status"`
	StatusCode      int             `json:"status_code,omitempty"`
	UsedHeadless    bool            `json:"used_headless"`
	FetchedAt       time.Time       `json:"fetched_at"`
	DurationMs      int64           `json:"duration_ms"`
	ContentHash     string          `json:"content_hash,omitempty"`
	Metadata        PageMetadata    `json:"metadata"`
	SchemaHint      SchemaType      `json:"schema_hint,omitempty"`
	ContentPreview  string          `json:"content_preview,omitempty"`
	StructuredData  json.RawMessage `json:"structured_data,omitempty"`
	GenerationError string          `json:"generation_error,omitempty"`
	ErrorKind       FetchErrorKind  `json:"error_kind,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Clone deep-copies the slices held by the record.
func (p PageRecord) Clone() PageRecord {
	cp := p
	cp.Metadata.H1 = append([]string(nil), p.Metadata.H1...)
	cp.Metadata.H2 = append([]string(nil), p.Metadata.H2...)
	cp.Metadata.H3 = append([]string(nil), p.Metadata.H3...)
	cp.Metadata.ImageAltTexts = append([]string(nil), p.Metadata.ImageAltTexts...)
	if p.StructuredData != nil {
		cp.StructuredData = append(json.RawMessage(nil), p.StructuredData...)
	}
	return cp
}

// RenderResult is what a render capability returns for one URL.
type RenderResult struct {
	URL          string
	StatusCode   int
	ContentType  string
	HTML         []byte
	Links        []string
	Title        string
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}

// CompletionEvent is published once a job reaches a terminal state.
type CompletionEvent struct {
	JobID          string    `json:"job_id"`
	RootURL        string    `json:"root_url"`
	Status         JobStatus `json:"status"`
	PagesProcessed int       `json:"pages_processed"`
	PagesFailed    int       `json:"pages_failed"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
	ErrorText      string    `json:"error_text,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}
