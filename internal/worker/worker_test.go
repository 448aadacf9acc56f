package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/orchestrator"
	"github.com/JakeFAU/realtime-ir-watcher/internal/queue/memory"
)

type fakeScanner struct {
	mu      sync.Mutex
	results map[int64]orchestrator.Result
	calls   []int64
}

func (s *fakeScanner) RunScan(_ context.Context, companyID int64) orchestrator.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, companyID)
	if res, ok := s.results[companyID]; ok {
		return res
	}
	return orchestrator.Result{Status: orchestrator.StatusOK, CompanyID: companyID}
}

func (s *fakeScanner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeLetters struct {
	mu      sync.Mutex
	letters []monitor.DeadLetter
	err     error
}

func (f *fakeLetters) InsertDeadLetter(_ context.Context, letter monitor.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.letters = append(f.letters, letter)
	return nil
}

func (f *fakeLetters) all() []monitor.DeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]monitor.DeadLetter(nil), f.letters...)
}

func TestWorkerWritesDeadLetterOnError(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	scanner := &fakeScanner{results: map[int64]orchestrator.Result{
		2: {Status: orchestrator.StatusError, CompanyID: 2, ScanRunID: 11, Message: "fetch: status 500"},
	}}
	letters := &fakeLetters{}
	w := New(0, queue, scanner, letters, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, monitor.QueueItem{CompanyID: 1, Trigger: "scheduler", Attempt: 1}))
	require.NoError(t, queue.Enqueue(ctx, monitor.QueueItem{CompanyID: 2, Trigger: "manual", Attempt: 1, Submitted: 100}))

	require.Eventually(t, func() bool { return len(letters.all()) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 2, scanner.callCount())

	letter := letters.all()[0]
	assert.Equal(t, TaskRunScan, letter.TaskName)
	assert.Equal(t, "fetch: status 500", letter.ErrorMessage)
	assert.Equal(t, 1, letter.RetryCount)
	assert.Equal(t, int64(2), letter.Payload["company_id"])
	assert.Equal(t, "manual", letter.Payload["trigger"])
	assert.Equal(t, int64(11), letter.Payload["scan_run_id"])
}

func TestWorkerSkippedIsNotDeadLettered(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	scanner := &fakeScanner{results: map[int64]orchestrator.Result{
		5: {Status: orchestrator.StatusSkipped, CompanyID: 5},
	}}
	letters := &fakeLetters{}
	w := New(0, queue, scanner, letters, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, monitor.QueueItem{CompanyID: 5}))
	require.Eventually(t, func() bool { return scanner.callCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, letters.all())
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	letters := &fakeLetters{err: errors.New("db down")}
	scanner := &fakeScanner{results: map[int64]orchestrator.Result{
		1: {Status: orchestrator.StatusError, CompanyID: 1, Message: "boom"},
	}}
	w := New(0, queue, scanner, letters, zap.NewNop())

	require.NoError(t, queue.Enqueue(context.Background(), monitor.QueueItem{CompanyID: 1}))
	queue.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
	assert.Equal(t, 1, scanner.callCount())
}
