package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

type fakeApp struct {
	served  bool
	closed  bool
	scope   crawler.ScopeConfig
	rootURL string
	job     crawler.Job
	err     error
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return f.err
}

func (f *fakeApp) Crawl(_ context.Context, rootURL string, scope crawler.ScopeConfig) (crawler.Job, error) {
	f.rootURL = rootURL
	f.scope = scope
	return f.job, f.err
}

func (f *fakeApp) DefaultScope() crawler.ScopeConfig {
	return crawler.ScopeConfig{MaxPages: 20, RateLimitDelay: 1500 * time.Millisecond}
}

func (f *fakeApp) Close() {
	f.closed = true
}

func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	cfgPath := withFakeApp(t, app)

	_, err := execute(t, "serve", "--config", "crawler.yaml")
	require.NoError(t, err)
	require.True(t, app.served)
	require.True(t, app.closed)
	require.Equal(t, "crawler.yaml", *cfgPath)
}

func TestServeCommand_CanceledIsClean(t *testing.T) {
	app := &fakeApp{err: context.Canceled}
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.NoError(t, err)
}

func TestCrawlCommand_PrintsJob(t *testing.T) {
	app := &fakeApp{job: crawler.Job{ID: "job-1", Status: crawler.JobStatusCompleted, RootURL: "https://example.com"}}
	withFakeApp(t, app)

	out, err := execute(t, "crawl", "https://example.com", "--max-pages", "5", "--allow-backward", "--rate-limit-delay", "0s")
	require.NoError(t, err)
	require.Contains(t, out, `"id": "job-1"`)
	require.Equal(t, "https://example.com", app.rootURL)
	require.Equal(t, crawler.ScopeConfig{MaxPages: 5, AllowBackward: true}, app.scope)
	require.True(t, app.closed)
}

func TestCrawlCommand_DefaultsScope(t *testing.T) {
	app := &fakeApp{job: crawler.Job{ID: "job-1", Status: crawler.JobStatusCompleted}}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 20, app.scope.MaxPages)
	require.Equal(t, 1500*time.Millisecond, app.scope.RateLimitDelay)
}

func TestCrawlCommand_FailedJobIsError(t *testing.T) {
	app := &fakeApp{job: crawler.Job{ID: "job-1", Status: crawler.JobStatusFailed, ErrorText: "root url unreachable: boom"}}
	withFakeApp(t, app)

	out, err := execute(t, "crawl", "https://example.com")
	require.ErrorContains(t, err, "root url unreachable")
	require.Contains(t, out, `"status": "failed"`)
}

func TestCrawlCommand_RequiresURL(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "crawl")
	require.Error(t, err)
}

func TestRootCommand_AppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) {
		return nil, errors.New("bad config")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "bad config")
}
