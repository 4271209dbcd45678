// Package processor turns a render result into a page record with metadata,
// a schema type hint and, when a generator is wired, a JSON-LD document.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// DefaultPreviewRunes is the content preview budget when none is configured.
const DefaultPreviewRunes = 1000

var errInvalidDocument = errors.New("generator returned invalid json")

// Config tunes extraction.
type Config struct {
	PreviewRunes int
}

// Processor builds PageRecords. It is stateless and safe for concurrent use.
type Processor struct {
	generator crawler.Generator
	hasher    crawler.Hasher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New wires a Processor. generator may be nil, in which case records carry no document.
func New(generator crawler.Generator, hasher crawler.Hasher, clock crawler.Clock, cfg Config, logger *zap.Logger) *Processor {
	if cfg.PreviewRunes <= 0 {
		cfg.PreviewRunes = DefaultPreviewRunes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		generator: generator,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process extracts metadata from res and returns a Success record. pageURL is
// the URL that was dequeued; links and canonical resolve against the final URL.
func (p *Processor) Process(ctx context.Context, rootURL, pageURL string, res crawler.RenderResult) crawler.PageRecord {
	rec := crawler.PageRecord{
		URL:          pageURL,
		Status:       crawler.PageStatusSuccess,
		StatusCode:   res.StatusCode,
		UsedHeadless: res.UsedHeadless,
		FetchedAt:    p.now(),
		DurationMs:   res.Duration.Milliseconds(),
	}
	base := pageURL
	if final, err := crawler.NormalizeURL(res.URL); err == nil && res.URL != "" && final != pageURL {
		rec.FinalURL = final
		base = final
	}
	if p.hasher != nil {
		if digest, err := p.hasher.Hash(res.HTML); err == nil {
			rec.ContentHash = digest
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.HTML))
	if err != nil {
		rec.Status = crawler.PageStatusFailed
		rec.ErrorKind = crawler.FetchErrorRender
		rec.Error = fmt.Sprintf("parse html: %v", err)
		return rec
	}

	ex := extract(doc, base, rootURL, res.Title)
	rec.Metadata = ex.meta
	rec.ContentPreview = truncateRunes(ex.text, p.cfg.PreviewRunes)
	rec.SchemaHint = Classify(ex.signals)

	if p.generator == nil {
		return rec
	}
	document, err := p.generate(ctx, crawler.GenerateRequest{
		URL:            base,
		RootURL:        rootURL,
		Metadata:       rec.Metadata,
		ContentPreview: rec.ContentPreview,
		Hint:           rec.SchemaHint,
		FetchedAt:      rec.FetchedAt,
	})
	if err != nil {
		p.logger.Warn("structured data generation failed",
			zap.String("url", pageURL),
			zap.String("schema_hint", string(rec.SchemaHint)),
			zap.Error(err),
		)
		rec.GenerationError = err.Error()
		return rec
	}
	rec.StructuredData = document
	return rec
}

func (p *Processor) generate(ctx context.Context, req crawler.GenerateRequest) (json.RawMessage, error) {
	doc, err := p.generator.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", req.Hint, err)
	}
	if !json.Valid(doc) {
		return nil, errInvalidDocument
	}
	return doc, nil
}

func (p *Processor) now() time.Time {
	if p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}
