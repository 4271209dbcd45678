// Package dispatcher bounds how many crawl jobs run at once by fanning the
// job queue out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/worker"
)

// Runner consumes the queue until ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers and cancels running jobs.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	tracker *worker.Tracker
}

// New creates a Dispatcher. tracker must be the one shared with the workers.
func New(queue crawler.Queue, workers []Runner, tracker *worker.Tracker) *Dispatcher {
	if tracker == nil {
		tracker = worker.NewTracker()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		tracker: tracker,
	}
}

// Run starts all workers and blocks until the context finishes and every worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel interrupts the loop running jobID, if any.
func (d *Dispatcher) Cancel(jobID string) bool {
	return d.tracker.Cancel(jobID)
}

// Running returns how many job loops are active.
func (d *Dispatcher) Running() int {
	return d.tracker.Running()
}
