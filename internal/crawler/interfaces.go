package crawler

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// JobStore is the registry of jobs and their page records.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	Exists(ctx context.Context, jobID string) bool
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context) ([]JobSummary, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	UpdateProgress(ctx context.Context, jobID string, currentURL string, pending, discovered int) error
	AppendPage(ctx context.Context, jobID string, page PageRecord) (int, error)
	GetPage(ctx context.Context, jobID string, index int) (PageRecord, error)
	RecordError(ctx context.Context, jobID string, msg string) error
	SetArtifact(ctx context.Context, jobID string, uri string) error
}

// JobArchive keeps one snapshot per finished job, keyed by job id.
type JobArchive interface {
	SaveJob(ctx context.Context, job Job) error
	LoadJob(ctx context.Context, jobID string) (Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Exporter packages a finished job's documents and returns the artifact location.
type Exporter interface {
	Export(ctx context.Context, job Job) (string, error)
}

// Publisher pushes completion events to Pub/Sub, Kafka or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Renderer loads a URL and returns the rendered document plus its links.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderResult, error)
}

// HeadlessDetector decides whether a headless render is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe RenderResult) bool
}

// GenerateRequest is the normalized page handed to a structured-data generator.
type GenerateRequest struct {
	URL            string
	RootURL        string
	Metadata       PageMetadata
	ContentPreview string
	Hint           SchemaType
	FetchedAt      time.Time
}

// Generator produces a JSON-LD document for one page.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
