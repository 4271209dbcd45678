// Package fetcher turns a render capability into a rate-limited, time-bounded fetch
// with a closed set of failure kinds.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/metrics"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRetryBackoff = time.Second
)

// Waiter spaces the keyed caller's requests. Done reports that a request
// has ended so the next spacing counts from there.
type Waiter interface {
	Wait(ctx context.Context, key string) error
	Done(key string)
}

// Config controls Fetcher behavior.
type Config struct {
	Timeout time.Duration
	// Retries is how many extra attempts a timeout or network failure gets.
	Retries int
	// RetryBackoff grows linearly: attempt n waits n*RetryBackoff.
	RetryBackoff time.Duration
}

// Request identifies one fetch.
type Request struct {
	JobID string
	URL   string
}

// Fetcher applies the per-job delay, a hard timeout and bounded retries around a Renderer.
type Fetcher struct {
	renderer crawler.Renderer
	limiter  Waiter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Fetcher. limiter may be nil to disable spacing.
func New(renderer crawler.Renderer, limiter Waiter, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		renderer: renderer,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

type renderOutcome struct {
	result crawler.RenderResult
	err    error
}

// Fetch renders the URL, retrying timeouts and network failures up to
// cfg.Retries times. Every attempt waits for the job's rate-limit slot.
// Failures are returned as *crawler.FetchError; cancellation of ctx is returned unwrapped
// so callers can tell an aborted job from a failed page.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (crawler.RenderResult, error) {
	for attempt := 0; ; attempt++ {
		res, err := f.attempt(ctx, req)
		if err == nil || attempt >= f.cfg.Retries || !retryable(err) {
			return res, err
		}
		backoff := time.Duration(attempt+1) * f.cfg.RetryBackoff
		f.logger.Debug("retrying fetch",
			zap.String("job_id", req.JobID),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.RenderResult{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
		case <-timer.C:
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, req Request) (crawler.RenderResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, req.JobID); err != nil {
			if ctx.Err() != nil {
				return crawler.RenderResult{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
			}
			return crawler.RenderResult{}, crawler.NewFetchError(crawler.FetchErrorRender, req.URL, err)
		}
		defer f.limiter.Done(req.JobID)
	}

	renderCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan renderOutcome, 1)
	go func() {
		res, err := f.renderer.Render(renderCtx, req.URL)
		done <- renderOutcome{result: res, err: err}
	}()

	var out renderOutcome
	select {
	case out = <-done:
	case <-renderCtx.Done():
		// The renderer may ignore its context; abandon it.
		out = renderOutcome{err: renderCtx.Err()}
	}
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return crawler.RenderResult{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
	}
	if out.err != nil {
		fe := classify(req.URL, out.err)
		metrics.ObserveFetch(string(fe.Kind), elapsed)
		f.logger.Debug("fetch failed",
			zap.String("job_id", req.JobID),
			zap.String("url", req.URL),
			zap.String("kind", string(fe.Kind)),
			zap.Error(out.err),
		)
		return crawler.RenderResult{}, fe
	}

	res := out.result
	if !isHTML(res.ContentType) {
		metrics.ObserveFetch(string(crawler.FetchErrorNonHTML), elapsed)
		return crawler.RenderResult{}, crawler.NewFetchError(
			crawler.FetchErrorNonHTML,
			req.URL,
			fmt.Errorf("%w: %s", crawler.ErrNonHTML, res.ContentType),
		)
	}
	if res.URL == "" {
		res.URL = req.URL
	}
	if res.Duration == 0 {
		res.Duration = elapsed
	}
	metrics.ObserveFetch("ok", elapsed)
	return res, nil
}

// retryable reports whether a failed attempt may succeed when repeated.
func retryable(err error) bool {
	fe, ok := crawler.AsFetchError(err)
	if !ok {
		return false
	}
	return fe.Kind == crawler.FetchErrorTimeout || fe.Kind == crawler.FetchErrorNetwork
}

func classify(url string, err error) *crawler.FetchError {
	if fe, ok := crawler.AsFetchError(err); ok {
		return fe
	}
	if errors.Is(err, crawler.ErrNonHTML) {
		return crawler.NewFetchError(crawler.FetchErrorNonHTML, url, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.NewFetchError(crawler.FetchErrorTimeout, url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return crawler.NewFetchError(crawler.FetchErrorTimeout, url, err)
		}
		return crawler.NewFetchError(crawler.FetchErrorNetwork, url, err)
	}
	return crawler.NewFetchError(crawler.FetchErrorRender, url, err)
}

// isHTML accepts an empty content type, since headless renders do not always report one.
func isHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
