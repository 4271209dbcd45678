// Package worker implements the job controller: one sequential crawl loop per job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/fetcher"
	"github.com/JakeFAU/schema-crawler/internal/frontier"
	"github.com/JakeFAU/schema-crawler/internal/metrics"
	"github.com/JakeFAU/schema-crawler/internal/progress"
	"github.com/JakeFAU/schema-crawler/internal/urlfilter"
)

// PageFetcher renders one URL under the job's rate limit and timeout.
type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (crawler.RenderResult, error)
}

// PageProcessor turns a render result into a page record.
type PageProcessor interface {
	Process(ctx context.Context, rootURL, pageURL string, res crawler.RenderResult) crawler.PageRecord
}

// Limiter holds per-job request spacing.
type Limiter interface {
	Register(key string, delay time.Duration)
	Forget(key string)
}

const archiveCleanupTimeout = 10 * time.Second

// Config controls Worker behavior.
type Config struct {
	Topic string
}

// Worker consumes queue items and runs each job's crawl loop to a terminal state.
type Worker struct {
	queue     crawler.Queue
	store     crawler.JobStore
	fetcher   PageFetcher
	processor PageProcessor
	limiter   Limiter
	exporter  crawler.Exporter
	archive   crawler.JobArchive
	publisher crawler.Publisher
	events    progress.Emitter
	clock     crawler.Clock
	tracker   *Tracker
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. exporter, archive, publisher and events are optional.
func New(
	queue crawler.Queue,
	store crawler.JobStore,
	pageFetcher PageFetcher,
	processor PageProcessor,
	limiter Limiter,
	exporter crawler.Exporter,
	archive crawler.JobArchive,
	publisher crawler.Publisher,
	events progress.Emitter,
	clock crawler.Clock,
	tracker *Tracker,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		fetcher:   pageFetcher,
		processor: processor,
		limiter:   limiter,
		exporter:  exporter,
		archive:   archive,
		publisher: publisher,
		events:    events,
		clock:     clock,
		tracker:   tracker,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.RunJob(ctx, item)
	}
}

// RunJob crawls one job until it completes, fails, is deleted, or ctx ends.
func (w *Worker) RunJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	job, err := w.store.GetJob(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			logger.Debug("job deleted before start")
			return
		}
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status != crawler.JobStatusPending {
		logger.Warn("job is not pending; skipping", zap.String("status", string(job.Status)))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.tracker.Track(job.ID, cancel)
	defer w.tracker.Untrack(job.ID)

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	start := time.Now()
	status, errText, ok := w.crawl(jobCtx, job, logger)
	if !ok {
		logger.Info("crawl aborted", zap.NamedError("cause", context.Cause(jobCtx)))
		return
	}
	if err := w.store.UpdateJobStatus(ctx, job.ID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
	stage := progress.StageJobDone
	if status == crawler.JobStatusFailed {
		stage = progress.StageJobError
	}
	w.emit(progress.Event{JobID: job.ID, TS: w.now(), Stage: stage, URL: job.RootURL, Dur: time.Since(start), Note: errText})
	logger.Info("crawl finished",
		zap.String("status", string(status)),
		zap.String("error", errText),
		zap.Duration("elapsed", time.Since(start)),
	)
	w.finish(jobCtx, job.ID, logger)
}

// crawl runs the loop. ok is false when the job was deleted or ctx ended,
// in which case no terminal status is written.
func (w *Worker) crawl(ctx context.Context, job crawler.Job, logger *zap.Logger) (crawler.JobStatus, string, bool) {
	if err := job.Scope.Validate(); err != nil {
		return crawler.JobStatusFailed, err.Error(), true
	}
	front, err := frontier.New(job.RootURL, job.Scope)
	if err != nil {
		return crawler.JobStatusFailed, err.Error(), true
	}
	root := front.RootURL()
	if err := front.Seed(root); err != nil {
		return crawler.JobStatusFailed, err.Error(), true
	}
	if w.limiter != nil {
		w.limiter.Register(job.ID, job.Scope.RateLimitDelay)
		defer w.limiter.Forget(job.ID)
	}
	site := metrics.SanitizeSite(root)

	started := false
	processed := 0
	for {
		if ctx.Err() != nil || !w.store.Exists(ctx, job.ID) {
			return "", "", false
		}
		if processed >= job.Scope.MaxPages {
			return crawler.JobStatusCompleted, "", true
		}
		next, more := front.DequeueNext()
		if !more {
			return crawler.JobStatusCompleted, "", true
		}
		if !started {
			if err := w.store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, ""); err != nil {
				logger.Warn("mark running failed", zap.Error(err))
				return "", "", false
			}
			started = true
			w.emit(progress.Event{JobID: job.ID, TS: w.now(), Stage: progress.StageJobStart, URL: root})
		}
		if err := w.store.UpdateProgress(ctx, job.ID, next, front.Len(), front.Discovered()); err != nil {
			return "", "", false
		}

		v, err := w.visit(ctx, job, front, root, next)
		if err != nil {
			return "", "", false
		}
		idx, err := w.store.AppendPage(ctx, job.ID, v.record)
		switch {
		case errors.Is(err, crawler.ErrJobNotFound):
			return "", "", false
		case errors.Is(err, crawler.ErrPageLimit):
			return crawler.JobStatusCompleted, "", true
		case err != nil:
			logger.Warn("append page failed", zap.String("url", next), zap.Error(err))
		default:
			processed = idx + 1
			metrics.ObservePage(site, string(v.record.Status), v.bytes)
			rec := v.record
			rec.JobID, rec.Index = job.ID, idx
			w.emit(progress.PageEvent(rec))
			logger.Debug("page recorded",
				zap.String("url", next),
				zap.String("status", string(v.record.Status)),
				zap.Int("index", idx),
				zap.Int("pending", front.Len()),
			)
		}
		if v.record.Status == crawler.PageStatusFailed {
			if err := w.store.RecordError(ctx, job.ID, next+": "+v.record.Error); err != nil {
				logger.Debug("record page error failed", zap.Error(err))
			}
		}
		if v.fatal {
			return crawler.JobStatusFailed, "root url unreachable: " + v.record.Error, true
		}
	}
}

type visitResult struct {
	record crawler.PageRecord
	bytes  int
	fatal  bool
}

// visit fetches and processes one URL. A non-nil error means the job was canceled
// mid-fetch and nothing should be recorded.
func (w *Worker) visit(
	ctx context.Context,
	job crawler.Job,
	front *frontier.Frontier,
	root string,
	pageURL string,
) (visitResult, error) {
	isRoot := pageURL == root
	res, err := w.fetcher.Fetch(ctx, fetcher.Request{JobID: job.ID, URL: pageURL})
	if err != nil {
		fe, ok := crawler.AsFetchError(err)
		if !ok {
			return visitResult{}, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
		return visitResult{record: w.failedRecord(pageURL, fe), fatal: isRoot}, nil
	}

	base := pageURL
	if final, err := crawler.NormalizeURL(res.URL); err == nil && final != pageURL {
		base = final
		alreadyVisited := front.MarkVisited(final)
		if !isRoot {
			if alreadyVisited {
				return visitResult{record: w.skippedRecord(pageURL, final, "redirected to an already visited url")}, nil
			}
			if !urlfilter.IsAllowed(final, root, job.Scope) {
				return visitResult{record: w.skippedRecord(pageURL, final, "redirected out of scope")}, nil
			}
		}
	}

	rec := w.processor.Process(ctx, root, pageURL, res)
	if rec.Status == crawler.PageStatusSuccess {
		front.EnqueueDiscovered(res.Links, base)
	}
	return visitResult{record: rec, bytes: len(res.HTML)}, nil
}

func (w *Worker) failedRecord(pageURL string, fe *crawler.FetchError) crawler.PageRecord {
	return crawler.PageRecord{
		URL:       pageURL,
		Status:    crawler.PageStatusFailed,
		FetchedAt: w.now(),
		ErrorKind: fe.Kind,
		Error:     fe.Error(),
	}
}

func (w *Worker) skippedRecord(pageURL, finalURL, reason string) crawler.PageRecord {
	return crawler.PageRecord{
		URL:       pageURL,
		FinalURL:  finalURL,
		Status:    crawler.PageStatusSkipped,
		FetchedAt: w.now(),
		Error:     reason,
	}
}

// finish runs the post-completion steps under the job's tracked context, so a
// delete cancels them. Only completed jobs are exported. Failures here never
// change the terminal status, and a deleted job is never archived or published.
func (w *Worker) finish(ctx context.Context, jobID string, logger *zap.Logger) {
	job, ok := w.liveJob(ctx, jobID, logger)
	if !ok {
		return
	}

	if w.exporter != nil && job.Status == crawler.JobStatusCompleted {
		uri, err := w.exporter.Export(ctx, job)
		metrics.ObserveExport("export", err)
		switch {
		case ctx.Err() != nil:
			logger.Info("post-completion steps canceled", zap.String("step", "export"))
			return
		case err != nil:
			w.recordError(ctx, jobID, logger, "export", err)
		default:
			if err := w.store.SetArtifact(ctx, jobID, uri); err != nil {
				logger.Warn("set artifact failed", zap.Error(err))
			} else {
				logger.Info("job exported", zap.String("artifact_uri", uri))
			}
		}
	}

	if w.archive != nil {
		if job, ok = w.liveJob(ctx, jobID, logger); !ok {
			return
		}
		err := w.archive.SaveJob(ctx, job)
		metrics.ObserveExport("archive", err)
		if !w.store.Exists(context.WithoutCancel(ctx), jobID) {
			w.dropArchived(ctx, jobID, logger)
			return
		}
		if err != nil {
			w.recordError(ctx, jobID, logger, "archive", err)
		}
	}

	if w.publisher != nil && w.cfg.Topic != "" {
		if job, ok = w.liveJob(ctx, jobID, logger); !ok {
			return
		}
		_, err := w.publisher.Publish(ctx, w.cfg.Topic, completionEvent(job, w.now()))
		metrics.ObserveExport("publish", err)
		if err != nil {
			w.recordError(ctx, jobID, logger, "publish", err)
		}
	}
}

// liveJob reloads the job for the next post-completion step. ok is false when
// the job was deleted or its context canceled.
func (w *Worker) liveJob(ctx context.Context, jobID string, logger *zap.Logger) (crawler.Job, bool) {
	if ctx.Err() != nil {
		logger.Info("post-completion steps canceled")
		return crawler.Job{}, false
	}
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			logger.Info("job deleted before post-completion steps finished")
		} else {
			logger.Warn("load finished job failed", zap.Error(err))
		}
		return crawler.Job{}, false
	}
	return job, true
}

// dropArchived removes an archive entry written while the job was being deleted.
func (w *Worker) dropArchived(ctx context.Context, jobID string, logger *zap.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveCleanupTimeout)
	defer cancel()
	err := w.archive.DeleteJob(cleanupCtx, jobID)
	if err != nil && !errors.Is(err, crawler.ErrJobNotFound) {
		logger.Error("remove archive entry of deleted job failed", zap.Error(err))
		return
	}
	logger.Info("job deleted during archiving; archive entry removed")
}

func (w *Worker) emit(evt progress.Event) {
	if w.events != nil {
		w.events.Emit(evt)
	}
}

func (w *Worker) recordError(ctx context.Context, jobID string, logger *zap.Logger, step string, err error) {
	logger.Warn("post-completion step failed", zap.String("step", step), zap.Error(err))
	if recErr := w.store.RecordError(ctx, jobID, fmt.Sprintf("%s: %v", step, err)); recErr != nil {
		logger.Warn("record error failed", zap.Error(recErr))
	}
}

func completionEvent(job crawler.Job, now time.Time) crawler.CompletionEvent {
	finished := now
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	return crawler.CompletionEvent{
		JobID:          job.ID,
		RootURL:        job.RootURL,
		Status:         job.Status,
		PagesProcessed: len(job.Pages),
		PagesFailed:    job.Progress.PagesFailed,
		ArtifactURI:    job.ArtifactURI,
		ErrorText:      job.ErrorText,
		FinishedAt:     finished,
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
