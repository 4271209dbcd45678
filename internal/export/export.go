// Package export writes a finished job's per-page JSON-LD documents and an
// index to a blob store under a "<domain>_<job id>/" folder.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

const (
	homepageFile = "homepage.json"
	indexFile    = "index.json"
	jsonType     = "application/json"
)

var unsafeChars = regexp.MustCompile(`[^\w\-.]`)

// Config tunes the exporter.
type Config struct {
	// Parallelism bounds concurrent uploads. Zero means 4.
	Parallelism int
}

// Exporter implements crawler.Exporter on top of a crawler.BlobStore.
type Exporter struct {
	blobs  crawler.BlobStore
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New builds an Exporter.
func New(blobs crawler.BlobStore, clock crawler.Clock, cfg Config, logger *zap.Logger) *Exporter {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{blobs: blobs, clock: clock, cfg: cfg, logger: logger}
}

// PageInfo is the summary block of a page document.
type PageInfo struct {
	URL                string             `json:"url"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	WordCount          int                `json:"word_count"`
	CrawledAt          time.Time          `json:"crawled_at"`
	H1Tags             []string           `json:"h1_tags"`
	H2Tags             []string           `json:"h2_tags"`
	InternalLinksCount int                `json:"internal_links_count"`
	ExternalLinksCount int                `json:"external_links_count"`
	SchemaHint         crawler.SchemaType `json:"schema_hint"`
}

// PageDocument is written once per successful page.
type PageDocument struct {
	PageInfo       PageInfo             `json:"page_info"`
	JSONLD         json.RawMessage      `json:"json_ld"`
	Metadata       crawler.PageMetadata `json:"metadata"`
	ContentPreview string               `json:"content_preview"`
}

// IndexEntry points at one page document.
type IndexEntry struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// Website describes the crawl in the index.
type Website struct {
	Domain     string            `json:"domain"`
	RootURL    string            `json:"root_url"`
	JobID      string            `json:"job_id"`
	Status     crawler.JobStatus `json:"status"`
	CrawlDate  time.Time         `json:"crawl_date"`
	TotalPages int               `json:"total_pages"`
}

// Index is the folder's index.json.
type Index struct {
	Website Website      `json:"website"`
	Pages   []IndexEntry `json:"pages"`
}

type upload struct {
	name string
	doc  any
}

// Export writes every successful page that has a document, then the index.
// It returns the folder URI.
func (e *Exporter) Export(ctx context.Context, job crawler.Job) (string, error) {
	domain := FolderDomain(job.RootURL)
	folder := domain + "_" + job.ID
	names := newNamer()

	var uploads []upload
	index := Index{
		Website: Website{
			Domain:    domain,
			RootURL:   job.RootURL,
			JobID:     job.ID,
			Status:    job.Status,
			CrawlDate: e.now(),
		},
		Pages: []IndexEntry{},
	}
	for _, page := range job.Pages {
		if page.Status != crawler.PageStatusSuccess || len(page.StructuredData) == 0 {
			continue
		}
		name := names.next(page.URL)
		uploads = append(uploads, upload{name: name, doc: pageDocument(page)})
		index.Pages = append(index.Pages, IndexEntry{Filename: name, URL: page.URL, Title: page.Metadata.Title})
	}
	index.Website.TotalPages = len(index.Pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for _, u := range uploads {
		g.Go(func() error {
			_, err := e.put(gctx, folder+"/"+u.name, u.doc)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("export pages for job %s: %w", job.ID, err)
	}

	uri, err := e.put(ctx, folder+"/"+indexFile, index)
	if err != nil {
		return "", fmt.Errorf("export index for job %s: %w", job.ID, err)
	}
	e.logger.Info("job exported",
		zap.String("job_id", job.ID),
		zap.Int("documents", len(uploads)),
		zap.String("uri", uri),
	)
	return strings.TrimSuffix(uri, indexFile), nil
}

func (e *Exporter) put(ctx context.Context, name string, doc any) (string, error) {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	uri, err := e.blobs.PutObject(ctx, name, jsonType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

func (e *Exporter) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}

func pageDocument(page crawler.PageRecord) PageDocument {
	meta := page.Metadata
	return PageDocument{
		PageInfo: PageInfo{
			URL:                page.URL,
			Title:              meta.Title,
			Description:        meta.Description,
			WordCount:          meta.WordCount,
			CrawledAt:          page.FetchedAt,
			H1Tags:             nonNil(meta.H1),
			H2Tags:             nonNil(meta.H2),
			InternalLinksCount: meta.InternalLinks,
			ExternalLinksCount: meta.ExternalLinks,
			SchemaHint:         page.SchemaHint,
		},
		JSONLD:         page.StructuredData,
		Metadata:       meta,
		ContentPreview: page.ContentPreview,
	}
}

// FolderDomain returns the root host with filesystem-unsafe characters replaced.
func FolderDomain(rootURL string) string {
	host := "site"
	if u, err := url.Parse(rootURL); err == nil && u.Host != "" {
		host = strings.ToLower(u.Host)
	}
	return unsafeChars.ReplaceAllString(host, "_")
}

// namer derives unique file names from page paths.
type namer struct {
	used map[string]struct{}
}

func newNamer() *namer {
	return &namer{used: make(map[string]struct{})}
}

func (n *namer) next(pageURL string) string {
	base := FileName(pageURL)
	name := base
	stem := strings.TrimSuffix(base, ".json")
	for i := 1; ; i++ {
		if _, taken := n.used[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s_%d.json", stem, i)
	}
	n.used[name] = struct{}{}
	return name
}

// FileName maps a page URL to its document name: the root is homepage.json,
// other paths become underscore-joined segments.
func FileName(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "page.json"
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return homepageFile
	}
	name := unsafeChars.ReplaceAllString(strings.ReplaceAll(p, "/", "_"), "_")
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return name
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
