// Package scheduler enqueues scans for companies whose next scan is due.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/metrics"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

// TriggerScheduler marks scans submitted by the tick.
const TriggerScheduler = "scheduler"

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 5 * time.Minute

// Store is the slice of persistence the scheduler needs.
type Store interface {
	ListDueCompanies(ctx context.Context, now time.Time) ([]monitor.Company, error)
	TouchSchedulerState(ctx context.Context, tickAt time.Time, meta map[string]any) error
}

// Submitter accepts scan work.
type Submitter interface {
	Submit(ctx context.Context, companyID int64, trigger string) error
}

// TickResult reports one tick.
type TickResult struct {
	Enqueued   int     `json:"enqueued"`
	CompanyIDs []int64 `json:"company_ids"`
}

// Scheduler periodically enqueues due companies.
type Scheduler struct {
	store    Store
	submit   Submitter
	clock    monitor.Clock
	interval time.Duration
	logger   *zap.Logger
}

// New wires a Scheduler.
func New(store Store, submit Submitter, clock monitor.Clock, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, submit: submit, clock: clock, interval: interval, logger: logger}
}

// Tick enqueues every due company and records the heartbeat.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	now := s.clock.Now()
	due, err := s.store.ListDueCompanies(ctx, now)
	if err != nil {
		return TickResult{}, fmt.Errorf("list due companies: %w", err)
	}

	res := TickResult{CompanyIDs: make([]int64, 0, len(due))}
	for _, c := range due {
		if err := s.submit.Submit(ctx, c.ID, TriggerScheduler); err != nil {
			s.logger.Warn("enqueue scan", zap.Int64("company_id", c.ID), zap.Error(err))
			continue
		}
		res.CompanyIDs = append(res.CompanyIDs, c.ID)
	}
	res.Enqueued = len(res.CompanyIDs)

	meta := map[string]any{
		"enqueued":    res.Enqueued,
		"due":         len(due),
		"company_ids": slices.Clone(res.CompanyIDs),
	}
	if err := s.store.TouchSchedulerState(ctx, now, meta); err != nil {
		return res, fmt.Errorf("touch scheduler state: %w", err)
	}
	metrics.ObserveSchedulerTick(res.Enqueued)
	s.logger.Info("scheduler tick", zap.Int("due", len(due)), zap.Int("enqueued", res.Enqueued))
	return res, nil
}

// Run ticks immediately and then every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
