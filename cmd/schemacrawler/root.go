package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/config"
	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/logging"
	"github.com/JakeFAU/schema-crawler/internal/server"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the surface commands use. Tests inject a fake through newApp.
type App interface {
	Serve(ctx context.Context) error
	Crawl(ctx context.Context, rootURL string, scope crawler.ScopeConfig) (crawler.Job, error)
	DefaultScope() crawler.ScopeConfig
	Close()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &loggedApp{App: app, logger: logger}, nil
}

// loggedApp flushes the logger after the app closes.
type loggedApp struct {
	*server.App
	logger *zap.Logger
}

func (a *loggedApp) Close() {
	a.App.Close()
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "schemacrawler",
		Short:         "Crawl a website and build schema.org JSON-LD for every page.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML); SCHEMACRAWLER_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
