// Package server builds the crawl service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/schema-crawler/internal/api"
	"github.com/JakeFAU/schema-crawler/internal/clock/system"
	"github.com/JakeFAU/schema-crawler/internal/config"
	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/dispatcher"
	"github.com/JakeFAU/schema-crawler/internal/export"
	"github.com/JakeFAU/schema-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/schema-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/schema-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/schema-crawler/internal/hash/sha256"
	"github.com/JakeFAU/schema-crawler/internal/headless/detector"
	"github.com/JakeFAU/schema-crawler/internal/id/uuid"
	"github.com/JakeFAU/schema-crawler/internal/metrics"
	"github.com/JakeFAU/schema-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/schema-crawler/internal/processor"
	"github.com/JakeFAU/schema-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/schema-crawler/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/schema-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/schema-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/schema-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/schema-crawler/internal/queue/memory"
	"github.com/JakeFAU/schema-crawler/internal/schema"
	"github.com/JakeFAU/schema-crawler/internal/service"
	gcsstorage "github.com/JakeFAU/schema-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/schema-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/schema-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/schema-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/schema-crawler/internal/storage/redis"
	sqlitestore "github.com/JakeFAU/schema-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/schema-crawler/internal/worker"
)

const pollInterval = 200 * time.Millisecond

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *memoryStorage.JobStore
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	service   *service.CrawlService
	apiServer *api.Server
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// Build creates the application's dependencies. On error, anything already
// opened is closed before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		store:  memoryStorage.NewJobStore(),
		queue:  queueMemory.NewQueue(cfg.Crawler.QueueDepth),
	}
	defer func() {
		if err != nil {
			app.closeAll()
		}
	}()
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Crawler.Workers),
		zap.String("render_mode", cfg.Render.Mode),
		zap.String("export_backend", cfg.Export.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
	)

	clock := system.New()
	renderer, err := app.setupRenderer()
	if err != nil {
		return nil, err
	}
	exporter, err := app.setupExporter(ctx, clock)
	if err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	events := app.setupEvents()

	limiter := ratelimit.New()
	pageFetcher := fetcher.New(renderer, limiter, fetcher.Config{
		Timeout:      cfg.Crawler.FetchTimeout,
		Retries:      cfg.Crawler.FetchRetries,
		RetryBackoff: cfg.Crawler.RetryBackoff,
	}, logger.Named("fetcher"))
	proc := processor.New(
		schema.NewFallback(),
		sha256.New(),
		clock,
		processor.Config{PreviewRunes: cfg.Crawler.PreviewRunes},
		logger.Named("processor"),
	)

	tracker := worker.NewTracker()
	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		runners = append(runners, worker.New(
			app.queue,
			app.store,
			pageFetcher,
			proc,
			limiter,
			exporter,
			archive,
			publisher,
			events,
			clock,
			tracker,
			worker.Config{Topic: cfg.Publisher.Topic},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, runners, tracker)

	app.service = service.New(
		app.store,
		app.dispatch,
		archive,
		uuid.New(),
		clock,
		service.Config{
			DefaultMaxPages:       cfg.Crawler.DefaultMaxPages,
			MaxPagesCap:           cfg.Crawler.MaxPagesCap,
			DefaultRateLimitDelay: cfg.Crawler.DefaultRateLimitDelay,
		},
		logger.Named("service"),
	)
	app.apiServer = api.NewServer(app.service, cfg, logger)
	return app, nil
}

// Service exposes the crawl surface.
func (a *App) Service() *service.CrawlService {
	return a.service
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the dispatcher and the HTTP server until ctx is canceled or the
// listener fails, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Crawl runs a single job to completion and returns its final state. The
// dispatcher runs only for the duration of the call, so Crawl must not be
// mixed with Serve on the same App.
func (a *App) Crawl(ctx context.Context, rootURL string, scope crawler.ScopeConfig) (crawler.Job, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.dispatch.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	jobID, err := a.service.StartJob(ctx, rootURL, scope)
	if err != nil {
		return crawler.Job{}, err
	}
	a.logger.Info("crawl started", zap.String("job_id", jobID), zap.String("url", rootURL))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := a.service.Job(ctx, jobID)
		if err != nil {
			return crawler.Job{}, err
		}
		// Post-completion steps run before the loop is untracked.
		if job.Status.IsTerminal() && a.dispatch.Running() == 0 {
			return a.service.Job(ctx, jobID)
		}
		select {
		case <-ctx.Done():
			if delErr := a.service.Delete(context.Background(), jobID); delErr != nil {
				a.logger.Warn("delete interrupted job failed", zap.String("job_id", jobID), zap.Error(delErr))
			}
			return crawler.Job{}, fmt.Errorf("crawl interrupted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases queues, clients and browsers.
func (a *App) Close() {
	a.queue.Close()
	a.closeAll()
	a.logger.Info("shutdown complete")
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupRenderer() (crawler.Renderer, error) {
	cfg := a.cfg
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.FetchTimeout,
		MaxBodySize:   cfg.Crawler.MaxBodyBytes,
	})
	if cfg.Render.Mode == config.RenderStatic || cfg.Render.Mode == "" {
		a.logger.Info("using colly renderer", zap.String("user_agent", cfg.Crawler.UserAgent))
		return static, nil
	}

	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Render.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.Render.NavTimeout,
		SettleDelay:       cfg.Render.SettleDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	a.onClose("headless renderer", func() error {
		headless.Close()
		return nil
	})
	if cfg.Render.Mode == config.RenderHeadless {
		a.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Render.MaxParallel))
		return headless, nil
	}
	a.logger.Info("using colly renderer with headless promotion",
		zap.Int("max_parallel", cfg.Render.MaxParallel),
		zap.Int("promotion_min_bytes", cfg.Render.PromotionMinBytes),
	)
	return fetcher.NewPromotingRenderer(
		static,
		headless,
		detector.NewHeuristic(cfg.Render.PromotionMinBytes),
		a.logger.Named("promote"),
	), nil
}

func (a *App) setupEvents() progress.Emitter {
	if !a.cfg.Logging.Events {
		return nil
	}
	hub := progress.NewHub(progress.Config{Logger: a.logger.Named("events")},
		progresssinks.NewLogSink(a.logger.Named("job_events")),
	)
	a.onClose("job event hub", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hub.Close(ctx)
	})
	a.logger.Info("job event logging enabled")
	return hub
}

func (a *App) setupExporter(ctx context.Context, clock crawler.Clock) (crawler.Exporter, error) {
	cfg := a.cfg.Export
	var blobs crawler.BlobStore
	switch cfg.Backend {
	case config.BackendNone:
		a.logger.Info("export disabled")
		return nil, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs client", client.Close)
		blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket:       cfg.GCSBucket,
			Prefix:       cfg.GCSPrefix,
			CacheControl: cfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS export backend", zap.String("bucket", cfg.GCSBucket))
	case config.BackendLocal:
		var err error
		blobs, err = localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local export backend", zap.String("path", cfg.LocalDir))
	default:
		a.logger.Info("using in-memory export backend")
		blobs = memoryStorage.NewBlobStore()
	}
	return export.New(blobs, clock, export.Config{Parallelism: cfg.Parallelism}, a.logger.Named("export")), nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.JobArchive, error) {
	cfg := a.cfg.Archive
	var (
		archive crawler.JobArchive
		err     error
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		archive, err = pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
	case config.BackendRedis:
		archive, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
	case config.BackendSQLite:
		archive, err = sqlitestore.New(ctx, sqlitestore.Config{Path: cfg.SQLite.Path})
	default:
		a.logger.Info("job archive disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s archive init failed: %w", cfg.Backend, err)
	}
	a.onClose(cfg.Backend+" archive", archive.Close)
	a.logger.Info("job archive initialized", zap.String("backend", cfg.Backend))
	return archive, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.cfg.Publisher
	switch cfg.Backend {
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.onClose("pubsub client", client.Close)
		pub := gcppublisher.New(client, cfg.Topic)
		a.onClose("pubsub publisher", pub.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
		return pub, nil
	case config.BackendKafka:
		pub, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.Topic,
			BatchTimeout: cfg.KafkaBatchDur,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.onClose("kafka publisher", pub.Close)
		a.logger.Info("kafka publisher initialized", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.Topic))
		return pub, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("completion publishing disabled")
		return nil, nil
	}
}

// DefaultScope returns the scope a crawl gets when nothing overrides it.
func (a *App) DefaultScope() crawler.ScopeConfig {
	return a.service.DefaultScope()
}
