// Package collyfetcher implements the static render capability using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Renderer implements crawler.Renderer with a plain HTTP GET through Colly.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// renderState is filled by collector callbacks during a single visit.
type renderState struct {
	result   crawler.RenderResult
	fetchErr error
}

// New builds a Renderer.
func New(cfg Config) *Renderer {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Renderer{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Render fetches url and collects its HTML, title and raw anchor hrefs.
func (r *Renderer) Render(ctx context.Context, url string) (crawler.RenderResult, error) {
	state := &renderState{}
	start := time.Now()
	collector := r.buildCollector()
	r.configureCollectorHooks(collector, start, state)

	if err := r.runCollector(ctx, collector, url, state); err != nil {
		return crawler.RenderResult{}, err
	}
	return state.result, nil
}

func (r *Renderer) buildCollector() *colly.Collector {
	collector := r.baseCollector.Clone()
	// Clones share the visited store; every job may revisit URLs another job saw.
	collector.AllowURLRevisit = true
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !r.cfg.RespectRobots
	if r.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = r.cfg.MaxBodySize
	}
	timeout := r.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (r *Renderer) configureCollectorHooks(hooks collectorHooks, start time.Time, state *renderState) {
	hooks.OnResponse(func(resp *colly.Response) {
		state.result.URL = requestURL(resp)
		state.result.StatusCode = resp.StatusCode
		state.result.HTML = append([]byte(nil), resp.Body...)
		state.result.Duration = time.Since(start)
		if resp.Headers != nil {
			state.result.ContentType = resp.Headers.Get("Content-Type")
		}
	})

	hooks.OnHTML("title", func(e *colly.HTMLElement) {
		if state.result.Title == "" {
			state.result.Title = strings.TrimSpace(e.Text)
		}
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if href := strings.TrimSpace(e.Attr("href")); href != "" {
			state.result.Links = append(state.result.Links, href)
		}
	})

	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			state.fetchErr = crawler.NewFetchError(
				crawler.FetchErrorRender,
				requestURL(resp),
				fmt.Errorf("http status %d: %w", resp.StatusCode, err),
			)
			return
		}
		state.fetchErr = err
	})
}

func (r *Renderer) runCollector(ctx context.Context, collector *colly.Collector, url string, state *renderState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if state.fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", state.fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func requestURL(resp *colly.Response) string {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
