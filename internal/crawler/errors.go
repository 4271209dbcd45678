package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores, the service and the API layer.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrPageNotFound      = errors.New("page not found")
	ErrInvalidScope      = errors.New("invalid scope")
	ErrInvalidURL        = errors.New("invalid root url")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicatePage     = errors.New("page already recorded")
	ErrPageLimit         = errors.New("page limit reached")
	ErrNonHTML           = errors.New("content is not html")
)

// FetchErrorKind classifies why a fetch did not yield a page.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorNetwork FetchErrorKind = "network"
	FetchErrorRender  FetchErrorKind = "render"
	FetchErrorNonHTML FetchErrorKind = "non_html"
)

// FetchError is the normalized failure returned by the fetcher.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

// NewFetchError wraps err with a kind.
func NewFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError extracts a FetchError from a wrapped chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
