package processor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/hash/sha256"
)

const aboutPage = `<!doctype html>
<html lang="en"><head><title> Acme | About </title>
<meta name="description" content="We make anvils.">
<meta name="keywords" content="anvils, rockets">
<meta name="robots" content="index,follow">
<link rel="canonical" href="/about/">
</head><body><header><a href="/">Home</a></header><nav><a href="/products">Products</a></nav>
<h1>About Acme</h1><h2>History</h2><h2>Team</h2><h3>Founders</h3>
<img src="a.png" alt=" Factory   floor "><img src="b.png" alt="">
<p>Acme has built anvils since 1920.</p>
<a href="/contact">Contact</a><a href="https://blog.acme.test/post">Blog</a>
<a href="https://facebook.com/acme">FB</a><a href="mailto:hi@acme.test">Mail</a><a href="#top">Top</a>
<script>var hidden = "script words";</script>
<footer>Copyright Acme</footer>
</body></html>`

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubGenerator struct {
	doc  json.RawMessage
	err  error
	reqs []crawler.GenerateRequest
}

func (g *stubGenerator) Generate(_ context.Context, req crawler.GenerateRequest) (json.RawMessage, error) {
	g.reqs = append(g.reqs, req)
	return g.doc, g.err
}

func newTestProcessor(gen crawler.Generator, cfg Config) *Processor {
	clock := fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(gen, sha256.New(), clock, cfg, zap.NewNop())
}

func aboutResult() crawler.RenderResult {
	return crawler.RenderResult{
		URL:         "https://acme.test/about/",
		StatusCode:  200,
		ContentType: "text/html",
		HTML:        []byte(aboutPage),
		Duration:    1500 * time.Millisecond,
	}
}

func TestProcess_ExtractsMetadata(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(nil, Config{})
	rec := p.Process(context.Background(), "https://acme.test", "https://acme.test/about", aboutResult())

	require.Equal(t, crawler.PageStatusSuccess, rec.Status)
	require.Equal(t, "https://acme.test/about", rec.URL)
	require.Empty(t, rec.FinalURL)
	require.Equal(t, int64(1500), rec.DurationMs)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rec.FetchedAt)
	require.Len(t, rec.ContentHash, 64)

	meta := rec.Metadata
	require.Equal(t, "Acme | About", meta.Title)
	require.Equal(t, "We make anvils.", meta.Description)
	require.Equal(t, "anvils, rockets", meta.Keywords)
	require.Equal(t, "index,follow", meta.Robots)
	require.Equal(t, "https://acme.test/about", meta.CanonicalURL)
	require.Equal(t, "en", meta.Language)
	require.Equal(t, []string{"About Acme"}, meta.H1)
	require.Equal(t, []string{"History", "Team"}, meta.H2)
	require.Equal(t, []string{"Founders"}, meta.H3)
	require.Equal(t, []string{"Factory floor"}, meta.ImageAltTexts)
	require.Equal(t, 4, meta.InternalLinks)
	require.Equal(t, 1, meta.ExternalLinks)

	require.NotContains(t, rec.ContentPreview, "script words")
	require.NotContains(t, rec.ContentPreview, "Copyright")
	require.NotContains(t, rec.ContentPreview, "Products")
	require.True(t, strings.HasPrefix(rec.ContentPreview, "About Acme History Team Founders"))
	// About Acme History Team Founders / Acme has built anvils since 1920. / Contact Blog FB Mail Top
	require.Equal(t, 16, meta.WordCount)

	require.Equal(t, crawler.SchemaAboutPage, rec.SchemaHint)
	require.Nil(t, rec.StructuredData)
	require.Empty(t, rec.GenerationError)
}

func TestProcess_TitleFallsBackToRenderTitle(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(nil, Config{})
	res := crawler.RenderResult{HTML: []byte("<html><body><p>hi</p></body></html>"), Title: "Rendered Title"}
	rec := p.Process(context.Background(), "https://acme.test", "https://acme.test/x", res)
	require.Equal(t, "Rendered Title", rec.Metadata.Title)
	require.Equal(t, 1, rec.Metadata.WordCount)
}

func TestProcess_RecordsRedirectTarget(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(nil, Config{})
	res := aboutResult()
	res.URL = "https://acme.test/company/about"
	rec := p.Process(context.Background(), "https://acme.test", "https://acme.test/about", res)
	require.Equal(t, "https://acme.test/company/about", rec.FinalURL)
	require.Equal(t, "https://acme.test/about", rec.Metadata.CanonicalURL)
}

func TestProcess_TruncatesPreviewByRunes(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(nil, Config{PreviewRunes: 5})
	res := crawler.RenderResult{HTML: []byte("<p>héllo wörld</p>")}
	rec := p.Process(context.Background(), "https://acme.test", "https://acme.test/x", res)
	require.Equal(t, "héllo", rec.ContentPreview)
	require.Equal(t, 2, rec.Metadata.WordCount)
}

func TestProcess_AttachesGeneratedDocument(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{doc: json.RawMessage(`{"@type":"AboutPage"}`)}
	p := newTestProcessor(gen, Config{})
	rec := p.Process(context.Background(), "https://acme.test", "https://acme.test/about", aboutResult())

	require.JSONEq(t, `{"@type":"AboutPage"}`, string(rec.StructuredData))
	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	require.Equal(t, crawler.SchemaAboutPage, req.Hint)
	require.Equal(t, "https://acme.test", req.RootURL)
	require.Equal(t, "Acme | About", req.Metadata.Title)
	require.Equal(t, rec.ContentPreview, req.ContentPreview)
}

func TestProcess_GenerationFailureKeepsSuccess(t *testing.T) {
	t.Parallel()

	cases := map[string]*stubGenerator{
		"error":        {err: errors.New("quota exceeded")},
		"invalid json": {doc: json.RawMessage(`{"@type":`)},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newTestProcessor(gen, Config{})
			rec := p.Process(context.Background(), "https://acme.test", "https://acme.test/about", aboutResult())
			require.Equal(t, crawler.PageStatusSuccess, rec.Status)
			require.Nil(t, rec.StructuredData)
			require.NotEmpty(t, rec.GenerationError)
			require.Equal(t, "About Acme", rec.Metadata.H1[0])
		})
	}
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.co.uk", registrableDomain("www.shop.example.co.uk"))
	require.Equal(t, "example.com", registrableDomain("EXAMPLE.com."))
	require.Equal(t, "127.0.0.1", registrableDomain("127.0.0.1"))
	require.Equal(t, "localhost", registrableDomain("localhost"))
}
