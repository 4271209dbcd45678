package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 2)}
	runners := []Runner{queueRunner{queue}, queueRunner{queue}}
	dispatch := New(queue, runners, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherCancel(t *testing.T) {
	t.Parallel()

	tracker := worker.NewTracker()
	dispatch := New(&errorQueue{}, nil, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.Track("job-1", cancel)
	require.Equal(t, 1, dispatch.Running())

	require.True(t, dispatch.Cancel("job-1"))
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.False(t, dispatch.Cancel("job-1"))
	require.Zero(t, dispatch.Running())
}

type queueRunner struct {
	queue crawler.Queue
}

func (r queueRunner) Run(ctx context.Context) {
	_, _ = r.queue.Dequeue(ctx)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	q.started <- struct{}{}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}
