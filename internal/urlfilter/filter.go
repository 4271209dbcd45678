// Package urlfilter decides which discovered URLs are eligible for crawling.
package urlfilter

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Reason names the rule that rejected a URL.
type Reason string

// Rejection reasons. An allowed URL carries ReasonNone.
const (
	ReasonNone            Reason = ""
	ReasonMalformed       Reason = "malformed"
	ReasonFragment        Reason = "fragment_only"
	ReasonScheme          Reason = "scheme"
	ReasonExtension       Reason = "download_extension"
	ReasonSocialProfile   Reason = "social_profile"
	ReasonExcludedHost    Reason = "excluded_host"
	ReasonLinkedInProfile Reason = "linkedin_profile"
	ReasonOutOfScope      Reason = "out_of_scope"
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

var ignoredExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {}, ".tar": {}, ".gz": {}, ".7z": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".webm": {},
	".mp3": {}, ".wav": {}, ".flac": {}, ".aac": {}, ".ogg": {},
	".exe": {}, ".msi": {}, ".dmg": {}, ".deb": {}, ".rpm": {},
	".css": {}, ".js": {}, ".xml": {}, ".json": {}, ".txt": {},
}

var socialHosts = newHostBlocklist([]string{
	"*.facebook.com", "*.fb.com",
	"*.twitter.com", "*.x.com",
	"*.instagram.com",
	"*.youtube.com", "*.youtu.be",
	"*.pinterest.com",
	"*.tiktok.com",
	"*.snapchat.com",
})

var excludedHosts = newHostBlocklist([]string{
	"maps.google.com",
	"docs.google.com",
	"*.goo.gl",
	"*.bit.ly",
	"t.co",
	"*.tinyurl.com",
	"*.forms.gle",
})

var linkedInHosts = newHostBlocklist([]string{"*.linkedin.com"})

var linkedInBusinessPrefixes = []string{"/company/", "/school/", "/showcase/"}

// IsAllowed reports whether rawURL may be crawled for a job rooted at rootURL.
// rawURL must be absolute; relative references are resolved by the frontier.
func IsAllowed(rawURL, rootURL string, scope crawler.ScopeConfig) bool {
	return Check(rawURL, rootURL, scope).Allowed
}

// Check is IsAllowed with the rejecting rule attached.
func Check(rawURL, rootURL string, scope crawler.ScopeConfig) Decision {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return deny(ReasonMalformed)
	}
	if strings.HasPrefix(trimmed, "#") {
		return deny(ReasonFragment)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return deny(ReasonMalformed)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return deny(ReasonScheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return deny(ReasonMalformed)
	}
	if hasIgnoredExtension(u.Path) {
		return deny(ReasonExtension)
	}
	if linkedInHosts.Matches(host) {
		if isLinkedInBusinessPage(u.Path) {
			return Decision{Allowed: true}
		}
		return deny(ReasonLinkedInProfile)
	}
	if socialHosts.Matches(host) {
		return deny(ReasonSocialProfile)
	}
	if excludedHosts.Matches(host) {
		return deny(ReasonExcludedHost)
	}
	if !scope.AllowBackward && !withinRoot(u, rootURL) {
		return deny(ReasonOutOfScope)
	}
	return Decision{Allowed: true}
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func hasIgnoredExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, ok := ignoredExtensions[ext]
	return ok
}

func isLinkedInBusinessPage(p string) bool {
	lower := strings.ToLower(p) + "/"
	for _, prefix := range linkedInBusinessPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// withinRoot requires the same host as the root and a path equal to or below the root path.
func withinRoot(candidate *url.URL, rootURL string) bool {
	normalizedRoot, err := crawler.NormalizeURL(rootURL)
	if err != nil {
		return false
	}
	root, err := url.Parse(normalizedRoot)
	if err != nil || root.Host == "" {
		return false
	}
	normalizedCandidate, err := crawler.NormalizeURL(candidate.String())
	if err != nil {
		return false
	}
	cand, err := url.Parse(normalizedCandidate)
	if err != nil {
		return false
	}
	if cand.Host != root.Host {
		return false
	}
	return crawler.PathWithin(root.Path, cand.Path)
}
