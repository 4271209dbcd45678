package fetcher

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/policy/ratelimit"
)

type stubRenderer struct {
	mu     sync.Mutex
	calls  []string
	result crawler.RenderResult
	err    error
	block  chan struct{}
	ignore bool
}

func (s *stubRenderer) Render(ctx context.Context, url string) (crawler.RenderResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()
	if s.block != nil {
		if s.ignore {
			<-s.block
		} else {
			select {
			case <-s.block:
			case <-ctx.Done():
				return crawler.RenderResult{}, ctx.Err()
			}
		}
	}
	if s.err != nil {
		return crawler.RenderResult{}, s.err
	}
	res := s.result
	res.URL = url
	return res, nil
}

func (s *stubRenderer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func htmlResult() crawler.RenderResult {
	return crawler.RenderResult{
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		HTML:        []byte("<html><body>ok</body></html>"),
	}
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	r := &stubRenderer{result: htmlResult()}
	f := New(r, nil, Config{Timeout: time.Second}, zap.NewNop())

	res, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com", res.URL)
	require.Equal(t, 200, res.StatusCode)
	require.Positive(t, res.Duration)
}

func TestFetch_AppliesDelayBetweenCalls(t *testing.T) {
	t.Parallel()

	const delay = 100 * time.Millisecond
	limiter := ratelimit.New()
	limiter.Register("job", delay)
	r := &stubRenderer{result: htmlResult()}
	f := New(r, limiter, Config{Timeout: time.Second}, zap.NewNop())

	start := time.Now()
	for _, u := range []string{"https://example.com", "https://example.com/a", "https://example.com/b"} {
		_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: u})
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 2*delay)
	require.Equal(t, 3, r.callCount())
}

// timedRenderer takes `work` per render and records when each render started and ended.
type timedRenderer struct {
	mu     sync.Mutex
	work   time.Duration
	starts []time.Time
	ends   []time.Time
}

func (r *timedRenderer) Render(_ context.Context, url string) (crawler.RenderResult, error) {
	start := time.Now()
	time.Sleep(r.work)
	r.mu.Lock()
	r.starts = append(r.starts, start)
	r.ends = append(r.ends, time.Now())
	r.mu.Unlock()
	res := htmlResult()
	res.URL = url
	return res, nil
}

func TestFetch_DelayCountsFromEndOfSlowFetch(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	limiter := ratelimit.New()
	limiter.Register("job", delay)
	r := &timedRenderer{work: 150 * time.Millisecond}
	f := New(r, limiter, Config{Timeout: time.Second}, zap.NewNop())

	for _, u := range []string{"https://example.com", "https://example.com/a"} {
		_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: u})
		require.NoError(t, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.starts, 2)
	require.GreaterOrEqual(t, r.starts[1].Sub(r.ends[0]), delay)
}

// scriptedRenderer fails with errs in order, then succeeds.
type scriptedRenderer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *scriptedRenderer) Render(_ context.Context, url string) (crawler.RenderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return crawler.RenderResult{}, err
	}
	res := htmlResult()
	res.URL = url
	return res, nil
}

func (r *scriptedRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{errs: []error{
		timeoutErr{},
		&net.DNSError{Err: "server misbehaving", Name: "example.com"},
	}}
	f := New(r, nil, Config{Timeout: time.Second, Retries: 2, RetryBackoff: 10 * time.Millisecond}, zap.NewNop())

	res, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, 3, r.callCount())
}

func TestFetch_RetriesAreBounded(t *testing.T) {
	t.Parallel()

	refused := crawler.NewFetchError(crawler.FetchErrorNetwork, "https://example.com", errors.New("connection refused"))
	r := &scriptedRenderer{errs: []error{refused, refused, refused, refused}}
	f := New(r, nil, Config{Timeout: time.Second, Retries: 2, RetryBackoff: 5 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com"})
	fe, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, crawler.FetchErrorNetwork, fe.Kind)
	require.Equal(t, 3, r.callCount())
	// Linear backoff: 1*5ms + 2*5ms.
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestFetch_DoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	cases := []error{
		crawler.NewFetchError(crawler.FetchErrorRender, "https://example.com", errors.New("http status 404")),
		crawler.ErrNonHTML,
	}
	for _, failure := range cases {
		r := &scriptedRenderer{errs: []error{failure}}
		f := New(r, nil, Config{Timeout: time.Second, Retries: 3, RetryBackoff: time.Millisecond}, zap.NewNop())
		_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com"})
		require.Error(t, err)
		require.Equal(t, 1, r.callCount())
	}
}

func TestFetch_RetryBackoffHonorsCancellation(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{errs: []error{timeoutErr{}, timeoutErr{}}}
	f := New(r, nil, Config{Timeout: time.Second, Retries: 5, RetryBackoff: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := f.Fetch(ctx, Request{JobID: "job", URL: "https://example.com"})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, r.callCount())
}

func TestFetch_RetryWaitsForRateLimit(t *testing.T) {
	t.Parallel()

	const delay = 80 * time.Millisecond
	limiter := ratelimit.New()
	limiter.Register("job", delay)
	r := &scriptedRenderer{errs: []error{timeoutErr{}}}
	f := New(r, limiter, Config{Timeout: time.Second, Retries: 1, RetryBackoff: time.Millisecond}, zap.NewNop())

	start := time.Now()
	_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, 2, r.callCount())
	require.GreaterOrEqual(t, time.Since(start), delay)
}

func TestFetch_TimeoutAbandonsRenderer(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	r := &stubRenderer{result: htmlResult(), block: block, ignore: true}
	f := New(r, nil, Config{Timeout: 50 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com/slow"})
	fe, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, crawler.FetchErrorTimeout, fe.Kind)
	require.Less(t, time.Since(start), time.Second)
}

func TestFetch_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		kind crawler.FetchErrorKind
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, crawler.FetchErrorNetwork},
		{"net timeout", timeoutErr{}, crawler.FetchErrorTimeout},
		{"non html sentinel", crawler.ErrNonHTML, crawler.FetchErrorNonHTML},
		{"engine", errors.New("chrome crashed"), crawler.FetchErrorRender},
		{"typed", crawler.NewFetchError(crawler.FetchErrorNetwork, "x", errors.New("reset")), crawler.FetchErrorNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := New(&stubRenderer{err: tc.err}, nil, Config{Timeout: time.Second}, zap.NewNop())
			_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com"})
			fe, ok := crawler.AsFetchError(err)
			require.True(t, ok)
			require.Equal(t, tc.kind, fe.Kind)
		})
	}
}

func TestFetch_NonHTMLContentType(t *testing.T) {
	t.Parallel()

	res := htmlResult()
	res.ContentType = "application/pdf"
	f := New(&stubRenderer{result: res}, nil, Config{}, zap.NewNop())

	_, err := f.Fetch(context.Background(), Request{JobID: "job", URL: "https://example.com/file"})
	fe, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, crawler.FetchErrorNonHTML, fe.Kind)
	require.ErrorIs(t, err, crawler.ErrNonHTML)
}

func TestFetch_ParentCancellationIsNotAFetchError(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	r := &stubRenderer{result: htmlResult(), block: block}
	f := New(r, nil, Config{Timeout: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.Fetch(ctx, Request{JobID: "job", URL: "https://example.com"})
	require.ErrorIs(t, err, context.Canceled)
	_, isFetchErr := crawler.AsFetchError(err)
	require.False(t, isFetchErr)
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	require.True(t, isHTML(""))
	require.True(t, isHTML("text/html"))
	require.True(t, isHTML("TEXT/HTML; charset=UTF-8"))
	require.True(t, isHTML("application/xhtml+xml"))
	require.False(t, isHTML("application/json"))
	require.False(t, isHTML("image/png"))
}
