package processor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Signals are the page features the schema classifier looks at.
type Signals struct {
	URL            string
	RootURL        string
	Title          string
	Headings       []string
	Text           string
	HasArticleTag  bool
	OGType         string
	HasAddressTag  bool
	HasPriceMarkup bool
	HasHoursMarkup bool
}

type keywordRule struct {
	schema   crawler.SchemaType
	keywords []string
}

// pathRules match whole path segments, in priority order.
var pathRules = []keywordRule{
	{crawler.SchemaFAQPage, []string{"faq", "faqs", "frequently-asked-questions", "help-center"}},
	{crawler.SchemaContactPage, []string{"contact", "contact-us", "contactus", "get-in-touch", "reach-us"}},
	{crawler.SchemaAboutPage, []string{"about", "about-us", "aboutus", "our-story", "team", "our-team", "who-we-are", "history"}},
	{crawler.SchemaArticle, []string{"blog", "blogs", "news", "article", "articles", "post", "posts", "insights", "press"}},
	{crawler.SchemaProduct, []string{"product", "products", "shop", "store", "catalog", "item", "items"}},
	{crawler.SchemaService, []string{"service", "services", "solutions", "consulting", "what-we-do"}},
	{crawler.SchemaLocalBusiness, []string{"location", "locations", "store-locator", "find-us", "directions", "visit-us"}},
}

// headingRules match phrases in the title and headings.
var headingRules = []keywordRule{
	{crawler.SchemaFAQPage, []string{"frequently asked", "faq"}},
	{crawler.SchemaContactPage, []string{"contact us", "get in touch", "reach us"}},
	{crawler.SchemaAboutPage, []string{"about us", "our story", "our team", "who we are", "our history"}},
	{crawler.SchemaService, []string{"our services", "services", "solutions", "consulting"}},
	{crawler.SchemaProduct, []string{"our products", "shop now", "buy now"}},
	{crawler.SchemaArticle, []string{"blog", "latest news"}},
}

var (
	pricePattern    = regexp.MustCompile(`(?:[$€£¥₹]\s?\d[\d,]*(?:\.\d{2})?)|(?:\b\d[\d,]*(?:\.\d{2})?\s?(?:USD|EUR|GBP)\b)`)
	commercePattern = regexp.MustCompile(`(?i)\b(add to (cart|bag|basket)|buy now|in stock|out of stock)\b`)
	hoursPattern    = regexp.MustCompile(`(?i)\b(opening hours|business hours|hours of operation|open (daily|24/7)|mon(day)?\s*[-–]\s*(fri|sat|sun)(day)?)\b`)
)

const minQuestionHeadings = 3

// Classify picks a schema.org type hint for a page. It is pure: path keywords
// win, then structural markers, then title and heading keywords, then the
// root page becomes an Organization and anything else a WebPage.
func Classify(s Signals) crawler.SchemaType {
	path := pagePath(s.URL)
	if t, ok := matchPath(path); ok {
		return t
	}
	if t, ok := matchStructure(s); ok {
		return t
	}
	if t, ok := matchPhrases(strings.ToLower(s.Title+"\n"+strings.Join(s.Headings, "\n"))); ok {
		return t
	}
	if path == "" || path == strings.TrimSuffix(pagePath(s.RootURL), "/") {
		return crawler.SchemaOrganization
	}
	return crawler.SchemaWebPage
}

func matchPath(path string) (crawler.SchemaType, bool) {
	for _, segment := range strings.Split(strings.ToLower(path), "/") {
		if segment == "" {
			continue
		}
		segment = strings.TrimSuffix(strings.TrimSuffix(segment, ".html"), ".htm")
		for _, rule := range pathRules {
			for _, kw := range rule.keywords {
				if segment == kw {
					return rule.schema, true
				}
			}
		}
	}
	return "", false
}

func matchStructure(s Signals) (crawler.SchemaType, bool) {
	if s.HasPriceMarkup || (pricePattern.MatchString(s.Text) && commercePattern.MatchString(s.Text)) {
		return crawler.SchemaProduct, true
	}
	if looksLikeFAQ(s.Headings) {
		return crawler.SchemaFAQPage, true
	}
	if s.HasArticleTag || s.OGType == "article" {
		return crawler.SchemaArticle, true
	}
	if s.HasHoursMarkup || (s.HasAddressTag && hoursPattern.MatchString(s.Text)) {
		return crawler.SchemaLocalBusiness, true
	}
	return "", false
}

func looksLikeFAQ(headings []string) bool {
	questions := 0
	for _, h := range headings {
		lower := strings.ToLower(h)
		if strings.Contains(lower, "frequently asked") || strings.Contains(lower, "faq") {
			return true
		}
		if strings.HasSuffix(strings.TrimSpace(h), "?") {
			questions++
		}
	}
	return questions >= minQuestionHeadings
}

func matchPhrases(text string) (crawler.SchemaType, bool) {
	for _, rule := range headingRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.schema, true
			}
		}
	}
	return "", false
}

func pagePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}
