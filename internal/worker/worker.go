// Package worker implements the scan execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/metrics"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/orchestrator"
	"github.com/JakeFAU/realtime-ir-watcher/internal/queue/memory"
)

// TaskRunScan names scan work in dead-letter rows.
const TaskRunScan = "run_scan"

// Scanner runs one company scan.
type Scanner interface {
	RunScan(ctx context.Context, companyID int64) orchestrator.Result
}

// DeadLetterStore records work that ended in error.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, letter monitor.DeadLetter) error
}

// Worker consumes queue items and runs scans.
type Worker struct {
	id      int
	queue   monitor.Queue
	scanner Scanner
	letters DeadLetterStore
	logger  *zap.Logger
}

// New constructs a Worker.
func New(id int, queue monitor.Queue, scanner Scanner, letters DeadLetterStore, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   queue,
		scanner: scanner,
		letters: letters,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued scan", zap.Int64("company_id", item.CompanyID), zap.String("trigger", item.Trigger))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item monitor.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	res := w.scanner.RunScan(ctx, item.CompanyID)
	fields := []zap.Field{
		zap.Int64("company_id", item.CompanyID),
		zap.String("trigger", item.Trigger),
		zap.String("status", string(res.Status)),
		zap.Int64("scan_run_id", res.ScanRunID),
	}
	if res.Status != orchestrator.StatusError {
		w.logger.Info("scan finished", fields...)
		return
	}

	w.logger.Warn("scan failed", append(fields, zap.String("error", res.Message))...)
	if w.letters == nil {
		return
	}
	letter := monitor.DeadLetter{
		TaskName: TaskRunScan,
		Payload: map[string]any{
			"company_id":  item.CompanyID,
			"trigger":     item.Trigger,
			"attempt":     item.Attempt,
			"submitted":   item.Submitted,
			"scan_run_id": res.ScanRunID,
		},
		ErrorMessage: res.Message,
		RetryCount:   item.Attempt,
	}
	if err := w.letters.InsertDeadLetter(context.WithoutCancel(ctx), letter); err != nil {
		w.logger.Error("dead letter write failed", zap.Int64("company_id", item.CompanyID), zap.Error(err))
	}
}
