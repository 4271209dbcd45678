// Package schema builds schema.org JSON-LD documents for crawled pages.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

const (
	schemaContext      = "https://schema.org"
	untitledName       = "Untitled Page"
	missingDescription = "No description available"
)

// Document is the JSON-LD emitted per page.
type Document struct {
	Context      string          `json:"@context"`
	Type         string          `json:"@type"`
	Name         string          `json:"name"`
	Headline     string          `json:"headline,omitempty"`
	URL          string          `json:"url"`
	Description  string          `json:"description"`
	InLanguage   string          `json:"inLanguage,omitempty"`
	Keywords     string          `json:"keywords,omitempty"`
	DateModified string          `json:"dateModified"`
	WordCount    int             `json:"wordCount"`
	Breadcrumb   *BreadcrumbList `json:"breadcrumb,omitempty"`
	Publisher    *Organization   `json:"publisher,omitempty"`
}

// BreadcrumbList mirrors schema.org/BreadcrumbList.
type BreadcrumbList struct {
	Type     string     `json:"@type"`
	Elements []ListItem `json:"itemListElement"`
}

// ListItem is one breadcrumb step.
type ListItem struct {
	Type     string `json:"@type"`
	Position int    `json:"position"`
	Name     string `json:"name"`
	Item     string `json:"item"`
}

// Organization is the publisher node.
type Organization struct {
	Type string `json:"@type"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Fallback is a deterministic crawler.Generator that derives JSON-LD from
// extracted metadata alone. It never calls out to a model.
type Fallback struct{}

// NewFallback returns a Fallback generator.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Generate implements crawler.Generator.
func (Fallback) Generate(ctx context.Context, req crawler.GenerateRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Build(req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal json-ld: %w", err)
	}
	return raw, nil
}

// Build assembles the document for req.
func Build(req crawler.GenerateRequest) (Document, error) {
	pageURL, err := crawler.ParseHTTPURL(req.URL)
	if err != nil {
		return Document{}, fmt.Errorf("page url: %w", err)
	}
	schemaType := req.Hint
	if !schemaType.Valid() {
		schemaType = crawler.SchemaWebPage
	}
	modified := req.FetchedAt
	if modified.IsZero() {
		modified = time.Now().UTC()
	}

	doc := Document{
		Context:      schemaContext,
		Type:         string(schemaType),
		Name:         firstNonEmpty(req.Metadata.Title, firstOf(req.Metadata.H1), untitledName),
		URL:          pageURL.String(),
		Description:  firstNonEmpty(req.Metadata.Description, missingDescription),
		InLanguage:   req.Metadata.Language,
		Keywords:     req.Metadata.Keywords,
		DateModified: modified.Format(time.RFC3339),
		WordCount:    req.Metadata.WordCount,
	}
	if schemaType == crawler.SchemaArticle {
		doc.Headline = firstNonEmpty(firstOf(req.Metadata.H1), req.Metadata.Title)
	}
	doc.Breadcrumb = breadcrumbs(pageURL, doc.Name)
	if schemaType != crawler.SchemaOrganization {
		doc.Publisher = publisher(req.RootURL, pageURL)
	}
	return doc, nil
}

// breadcrumbs returns nil for the site root.
func breadcrumbs(pageURL *url.URL, pageName string) *BreadcrumbList {
	segments := strings.FieldsFunc(pageURL.Path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return nil
	}
	origin := pageURL.Scheme + "://" + pageURL.Host
	list := &BreadcrumbList{Type: "BreadcrumbList"}
	list.Elements = append(list.Elements, ListItem{Type: "ListItem", Position: 1, Name: "Home", Item: origin})
	path := ""
	for i, seg := range segments {
		path += "/" + seg
		name := humanize(seg)
		if i == len(segments)-1 {
			name = pageName
		}
		list.Elements = append(list.Elements, ListItem{
			Type:     "ListItem",
			Position: i + 2,
			Name:     name,
			Item:     origin + path,
		})
	}
	return list
}

func publisher(rootURL string, pageURL *url.URL) *Organization {
	root, err := crawler.ParseHTTPURL(rootURL)
	if err != nil {
		root = pageURL
	}
	host := strings.TrimPrefix(strings.ToLower(root.Hostname()), "www.")
	return &Organization{
		Type: string(crawler.SchemaOrganization),
		Name: host,
		URL:  root.Scheme + "://" + root.Host,
	}
}

func humanize(segment string) string {
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	segment = strings.TrimSuffix(strings.TrimSuffix(segment, ".html"), ".htm")
	words := strings.FieldsFunc(segment, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
