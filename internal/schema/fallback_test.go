package schema

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

var fetchedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFallback_GenerateRootOrganization(t *testing.T) {
	t.Parallel()

	raw, err := NewFallback().Generate(context.Background(), crawler.GenerateRequest{
		URL:       "https://www.acme.test",
		RootURL:   "https://www.acme.test",
		Hint:      crawler.SchemaOrganization,
		FetchedAt: fetchedAt,
		Metadata:  crawler.PageMetadata{Title: "Acme", WordCount: 42, Language: "en"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"@context": "https://schema.org",
		"@type": "Organization",
		"name": "Acme",
		"url": "https://www.acme.test",
		"description": "No description available",
		"inLanguage": "en",
		"dateModified": "2026-03-01T12:00:00Z",
		"wordCount": 42
	}`, string(raw))
}

func TestFallback_GenerateNestedArticle(t *testing.T) {
	t.Parallel()

	raw, err := NewFallback().Generate(context.Background(), crawler.GenerateRequest{
		URL:       "https://www.acme.test/blog/rocket-skates",
		RootURL:   "https://www.acme.test",
		Hint:      crawler.SchemaArticle,
		FetchedAt: fetchedAt,
		Metadata: crawler.PageMetadata{
			Title:       "Rocket Skates | Acme Blog",
			Description: "Launch notes.",
			H1:          []string{"Rocket Skates"},
		},
	})
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "Article", doc.Type)
	require.Equal(t, "Rocket Skates", doc.Headline)
	require.Equal(t, "Launch notes.", doc.Description)
	require.NotNil(t, doc.Publisher)
	require.Equal(t, "acme.test", doc.Publisher.Name)
	require.Equal(t, "https://www.acme.test", doc.Publisher.URL)

	require.NotNil(t, doc.Breadcrumb)
	require.Equal(t, []ListItem{
		{Type: "ListItem", Position: 1, Name: "Home", Item: "https://www.acme.test"},
		{Type: "ListItem", Position: 2, Name: "Blog", Item: "https://www.acme.test/blog"},
		{Type: "ListItem", Position: 3, Name: "Rocket Skates | Acme Blog", Item: "https://www.acme.test/blog/rocket-skates"},
	}, doc.Breadcrumb.Elements)
}

func TestBuild_Defaults(t *testing.T) {
	t.Parallel()

	doc, err := Build(crawler.GenerateRequest{
		URL:      "https://acme.test/misc",
		Hint:     crawler.SchemaType("Spaceship"),
		Metadata: crawler.PageMetadata{H1: []string{"Heading Name"}},
	})
	require.NoError(t, err)
	require.Equal(t, "WebPage", doc.Type)
	require.Equal(t, "Heading Name", doc.Name)
	require.NotEmpty(t, doc.DateModified)
	require.Equal(t, "https://acme.test", doc.Publisher.URL)

	doc, err = Build(crawler.GenerateRequest{URL: "https://acme.test/x"})
	require.NoError(t, err)
	require.Equal(t, untitledName, doc.Name)
}

func TestBuild_RejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := Build(crawler.GenerateRequest{URL: "mailto:a@b.com"})
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestFallback_HonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFallback().Generate(ctx, crawler.GenerateRequest{URL: "https://acme.test"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHumanize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "About Us", humanize("about-us"))
	require.Equal(t, "Über Uns", humanize("%C3%BCber_uns.html"))
}
