package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerPagesTotal == nil || crawlerJobsTotal == nil ||
		httpRequestsTotal == nil || crawlerRateLimitDelaysSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	ObservePage("https://observe.test/a", "success", 128)
	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("observe.test", "success")); val != 1 {
		t.Errorf("expected one success page, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("observe.test")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	ObserveExport("archive", nil)
	ObserveExport("archive", errors.New("boom"))
	if val := testutil.ToFloat64(crawlerExportsTotal.WithLabelValues("archive", "error")); val != 1 {
		t.Errorf("expected one archive error, got %f", val)
	}

	before := testutil.ToFloat64(crawlerActiveJobs)
	IncActiveJobs()
	DecActiveJobs()
	if val := testutil.ToFloat64(crawlerActiveJobs); val != before {
		t.Errorf("expected active jobs to return to %f, got %f", before, val)
	}

	ObserveFetch("ok", 10*time.Millisecond)
	ObserveRateLimitDelay(time.Second)
	if val := testutil.CollectAndCount(crawlerFetchDurationSeconds); val <= 0 {
		t.Errorf("expected fetch duration to be observed, got %d", val)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
