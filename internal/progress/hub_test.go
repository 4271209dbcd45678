package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.isClosed())

	hub.Emit(sampleEvent(StageJobDone))
	require.Len(t, sink.Batches(), 1)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageJobStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.Dropped())
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bad := &stubSink{err: errors.New("disk full")}
	good := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, bad, good)
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, good.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageJobStart).Validate())

	cases := map[string]Event{
		"missing job":  {TS: time.Now(), Stage: StageJobStart},
		"missing ts":   {JobID: "job-1", Stage: StageJobStart},
		"bad stage":    {JobID: "job-1", TS: time.Now(), Stage: "NOPE"},
		"page no url":  {JobID: "job-1", TS: time.Now(), Stage: StagePageDone, PageStatus: crawler.PageStatusSuccess},
		"page no stat": {JobID: "job-1", TS: time.Now(), Stage: StagePageDone, URL: "https://example.com"},
		"negative dur": {JobID: "job-1", TS: time.Now(), Stage: StageJobDone, Dur: -time.Second},
	}
	for name, evt := range cases {
		require.Error(t, evt.Validate(), name)
	}
}

func TestPageEvent(t *testing.T) {
	t.Parallel()

	ts := time.Unix(100, 0)
	evt := PageEvent(crawler.PageRecord{
		JobID:      "job-1",
		Index:      3,
		URL:        "https://example.com/a",
		Status:     crawler.PageStatusFailed,
		StatusCode: 500,
		FetchedAt:  ts,
		DurationMs: 1200,
		Error:      "boom",
	})
	require.NoError(t, evt.Validate())
	require.Equal(t, StagePageDone, evt.Stage)
	require.Equal(t, 3, evt.PageIndex)
	require.Equal(t, 1200*time.Millisecond, evt.Dur)
	require.Equal(t, "boom", evt.Note)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func sampleEvent(stage Stage) Event {
	return Event{JobID: "job-1", TS: time.Now(), Stage: stage, URL: "https://example.com"}
}
