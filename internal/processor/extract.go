package processor

import (
	"net"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// nonContent is removed before visible text is measured.
const nonContent = "script, style, noscript, template, nav, header, footer, aside, iframe, svg"

// extraction is everything pulled out of one parsed document.
type extraction struct {
	meta    crawler.PageMetadata
	text    string
	signals Signals
}

func extract(doc *goquery.Document, pageURL, rootURL, fallbackTitle string) extraction {
	var out extraction
	meta := &out.meta

	meta.Title = cleanText(doc.Find("title").First().Text())
	if meta.Title == "" {
		meta.Title = cleanText(fallbackTitle)
	}
	meta.Description = metaContent(doc, `meta[name="description"]`)
	if meta.Description == "" {
		meta.Description = metaContent(doc, `meta[property="og:description"]`)
	}
	meta.Keywords = metaContent(doc, `meta[name="keywords"]`)
	meta.Robots = metaContent(doc, `meta[name="robots"]`)
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if abs, err := crawler.ResolveReference(pageURL, href); err == nil {
			meta.CanonicalURL = abs
		}
	}
	meta.Language = metaContent(doc, `meta[name="language"]`)
	if meta.Language == "" {
		meta.Language = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))
	}

	meta.H1 = texts(doc.Find("h1"))
	meta.H2 = texts(doc.Find("h2"))
	meta.H3 = texts(doc.Find("h3"))
	doc.Find("img[alt]").Each(func(_ int, s *goquery.Selection) {
		if alt := cleanText(s.AttrOr("alt", "")); alt != "" {
			meta.ImageAltTexts = append(meta.ImageAltTexts, alt)
		}
	})

	meta.InternalLinks, meta.ExternalLinks = countLinks(doc, pageURL, rootURL)

	out.signals = Signals{
		URL:            pageURL,
		RootURL:        rootURL,
		Title:          meta.Title,
		Headings:       concat(meta.H1, meta.H2, meta.H3),
		HasArticleTag:  doc.Find("article").Length() > 0,
		OGType:         strings.ToLower(metaContent(doc, `meta[property="og:type"]`)),
		HasAddressTag:  doc.Find(`address, [itemprop="address"], [itemtype*="PostalAddress"]`).Length() > 0,
		HasPriceMarkup: doc.Find(`[itemprop="price"], meta[property="product:price:amount"]`).Length() > 0,
		HasHoursMarkup: doc.Find(`[itemprop="openingHours"], [itemprop="openingHoursSpecification"]`).Length() > 0,
	}

	// Visible text is measured last because it mutates the document.
	doc.Find(nonContent).Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	out.text = visibleText(body)
	out.signals.Text = out.text
	meta.WordCount = len(strings.Fields(out.text))
	return out
}

func countLinks(doc *goquery.Document, pageURL, rootURL string) (internal, external int) {
	rootDomain := registrableDomain(hostOf(rootURL))
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, err := crawler.ResolveReference(pageURL, href)
		if err != nil {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if registrableDomain(u.Hostname()) == rootDomain {
			internal++
		} else {
			external++
		}
	})
	return internal, external
}

// registrableDomain returns eTLD+1, or the bare host for IPs and single-label hosts.
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// visibleText joins text nodes with spaces so adjacent blocks do not fuse words.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return cleanText(b.String())
}

func metaContent(doc *goquery.Document, selector string) string {
	return cleanText(doc.Find(selector).First().AttrOr("content", ""))
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
