// Package dispatcher manages worker fan-out over the scan queue.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/worker"
)

// Runner is a long-lived queue consumer.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   monitor.Queue
	workers []Runner
	now     func() time.Time
}

// New creates a Dispatcher.
func New(queue monitor.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		now:     time.Now,
	}
}

// NewPool builds a Dispatcher with concurrency scan workers sharing queue.
func NewPool(
	concurrency int,
	queue monitor.Queue,
	scanner worker.Scanner,
	letters worker.DeadLetterStore,
	logger *zap.Logger,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]Runner, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(i, queue, scanner, letters, logger.Named("worker")))
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until the context finishes and every worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var g errgroup.Group
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	<-ctx.Done()
	_ = g.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item monitor.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit enqueues a first-attempt scan of companyID.
func (d *Dispatcher) Submit(ctx context.Context, companyID int64, trigger string) error {
	return d.Enqueue(ctx, monitor.QueueItem{
		CompanyID: companyID,
		Trigger:   trigger,
		Attempt:   1,
		Submitted: d.now().Unix(),
	})
}
