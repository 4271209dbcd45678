package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so equivalent spellings dedupe to one key.
// It lowercases the scheme and host, removes default ports, drops the fragment
// and strips a trailing slash from the path.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalizeParsed(u).String(), nil
}

// ResolveReference resolves href against base and normalizes the result.
func ResolveReference(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}
	return normalizeParsed(baseURL.ResolveReference(ref)).String(), nil
}

// ParseHTTPURL parses an absolute http(s) URL.
func ParseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http(s)", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// PathWithin reports whether path equals root or is a descendant of it.
// Both inputs are expected to be normalized (no trailing slash).
func PathWithin(root, path string) bool {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return true
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

func normalizeParsed(in *url.URL) *url.URL {
	u := *in
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	return &u
}
