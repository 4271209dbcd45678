// Package headless renders pages in headless Chrome so client-side content is visible.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Renderer implements crawler.Renderer using chromedp.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

const collectLinksJS = `Array.from(document.querySelectorAll('a[href]')).map(a => a.getAttribute('href'))`

// NewChromedp starts a browser allocator. Browsers launch lazily on first render.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser allocator down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url and returns the DOM after scripts have run.
func (r *Renderer) Render(ctx context.Context, url string) (crawler.RenderResult, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.RenderResult{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()
	// Tie the browser tab to the caller so job cancellation closes it.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	page, err := r.run(taskCtx, url)
	if err != nil {
		return crawler.RenderResult{}, renderError(url, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, page.finalURL)
	return crawler.RenderResult{
		URL:          responseURL,
		StatusCode:   status,
		ContentType:  headers.Get("Content-Type"),
		HTML:         []byte(page.html),
		Links:        compactLinks(page.links),
		Title:        strings.TrimSpace(page.title),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// renderError maps a navigation failure to a fetch error kind. Hitting the
// navigation deadline is a timeout, anything else a render failure.
func renderError(url string, err error) *crawler.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.NewFetchError(crawler.FetchErrorTimeout, url, err)
	}
	return crawler.NewFetchError(crawler.FetchErrorRender, url, err)
}

type renderedPage struct {
	html     string
	title    string
	finalURL string
	links    []string
}

func (r *Renderer) run(ctx context.Context, url string) (renderedPage, error) {
	var page renderedPage
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&page.finalURL),
		chromedp.Title(&page.title),
		chromedp.Evaluate(collectLinksJS, &page.links),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots == nil {
		return
	}
	select {
	case <-r.slots:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func compactLinks(links []string) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// responseMeta records the main document response seen by the browser.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the first document response belongs to the navigation itself.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers := m.status, m.headers.Clone()
	m.mu.RUnlock()

	url := finalURL
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
