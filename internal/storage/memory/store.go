package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

// Store implements monitor.Store in memory. Every method is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	// now stamps rows; tests may override it.
	now func() time.Time

	nextID      int64
	companies   map[int64]monitor.Company
	scanRuns    map[int64]monitor.ScanRun
	runsByKey   map[string]int64
	snapshots   map[int64]monitor.Snapshot
	documents   []monitor.Document
	metrics     map[int64][]monitor.FinancialMetric
	changes     []monitor.Change
	llmEvents   []monitor.LLMEvent
	deadLetters []monitor.DeadLetter
	scheduler   monitor.SchedulerState
}

var _ monitor.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		companies: make(map[int64]monitor.Company),
		scanRuns:  make(map[int64]monitor.ScanRun),
		runsByKey: make(map[string]int64),
		snapshots: make(map[int64]monitor.Snapshot),
		metrics:   make(map[int64][]monitor.FinancialMetric),
		scheduler: monitor.SchedulerState{ID: 1, HeartbeatMeta: map[string]any{}},
	}
}

// WithClock overrides the timestamp source used for created_at/updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateCompany stores a new company. A duplicate base_url yields monitor.ErrConflict.
func (s *Store) CreateCompany(_ context.Context, company monitor.Company) (monitor.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if strings.EqualFold(c.BaseURL, company.BaseURL) {
			return monitor.Company{}, fmt.Errorf("company %q: %w", company.BaseURL, monitor.ErrConflict)
		}
	}
	now := s.now()
	company.ID = s.id()
	company.CreatedAt = now
	company.UpdatedAt = now
	s.companies[company.ID] = company
	return company, nil
}

// GetCompany fetches a company by id.
func (s *Store) GetCompany(_ context.Context, id int64) (monitor.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return monitor.Company{}, fmt.Errorf("company %d: %w", id, monitor.ErrNotFound)
	}
	return c, nil
}

// GetCompanyByBaseURL fetches a company by its unique base URL.
func (s *Store) GetCompanyByBaseURL(_ context.Context, baseURL string) (monitor.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.companies {
		if strings.EqualFold(c.BaseURL, baseURL) {
			return c, nil
		}
	}
	return monitor.Company{}, fmt.Errorf("company %q: %w", baseURL, monitor.ErrNotFound)
}

// ListCompanies returns every company ordered by id.
func (s *Store) ListCompanies(_ context.Context) ([]monitor.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateCompany overwrites the mutable fields of a company.
func (s *Store) UpdateCompany(_ context.Context, company monitor.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.companies[company.ID]
	if !ok {
		return fmt.Errorf("company %d: %w", company.ID, monitor.ErrNotFound)
	}
	company.CreatedAt = existing.CreatedAt
	company.UpdatedAt = s.now()
	s.companies[company.ID] = company
	return nil
}

// ListDueCompanies returns active companies whose next scan is unset or not after now.
func (s *Store) ListDueCompanies(ctx context.Context, now time.Time) ([]monitor.Company, error) {
	all, err := s.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	due := make([]monitor.Company, 0, len(all))
	for _, c := range all {
		if !c.IsActive {
			continue
		}
		if c.NextScanAt == nil || !c.NextScanAt.After(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

// UpdateScanSchedule records a completed scan and the next due time.
func (s *Store) UpdateScanSchedule(_ context.Context, id int64, lastScannedAt, nextScanAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return fmt.Errorf("company %d: %w", id, monitor.ErrNotFound)
	}
	last, next := lastScannedAt.UTC(), nextScanAt.UTC()
	c.LastScannedAt = &last
	c.NextScanAt = &next
	c.UpdatedAt = s.now()
	s.companies[id] = c
	return nil
}

// UpdateIRURL persists a discovered investor-relations URL.
func (s *Store) UpdateIRURL(_ context.Context, id int64, irURL string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return fmt.Errorf("company %d: %w", id, monitor.ErrNotFound)
	}
	c.IRURL = irURL
	c.IRConfidence = confidence
	c.UpdatedAt = s.now()
	s.companies[id] = c
	return nil
}

// GetOrCreateScanRun returns the run keyed by key, creating a queued one atomically.
func (s *Store) GetOrCreateScanRun(_ context.Context, companyID int64, key string, now time.Time) (monitor.ScanRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.runsByKey[key]; ok {
		return cloneRun(s.scanRuns[id]), nil
	}
	started := now.UTC()
	run := monitor.ScanRun{
		ID:             s.id(),
		CompanyID:      companyID,
		Status:         monitor.ScanStatusQueued,
		IdempotencyKey: key,
		StartedAt:      &started,
		Meta:           map[string]any{},
		CreatedAt:      s.now(),
	}
	s.scanRuns[run.ID] = run
	s.runsByKey[key] = run.ID
	return cloneRun(run), nil
}

// UpdateScanRun overwrites status, timestamps, error and meta of a run.
func (s *Store) UpdateScanRun(_ context.Context, run monitor.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.scanRuns[run.ID]
	if !ok {
		return fmt.Errorf("scan run %d: %w", run.ID, monitor.ErrNotFound)
	}
	existing.Status = run.Status
	existing.StartedAt = run.StartedAt
	existing.CompletedAt = run.CompletedAt
	existing.ErrorMessage = run.ErrorMessage
	existing.Meta = cloneMap(run.Meta)
	s.scanRuns[run.ID] = existing
	return nil
}

// ListScanRuns returns a company's runs, newest first.
func (s *Store) ListScanRuns(_ context.Context, companyID int64, limit int) ([]monitor.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.ScanRun
	for _, r := range s.scanRuns {
		if r.CompanyID == companyID {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return truncate(out, limit), nil
}

// LatestSnapshot returns the newest snapshot by created_at, or nil.
func (s *Store) LatestSnapshot(_ context.Context, companyID int64) (*monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *monitor.Snapshot
	for _, snap := range s.snapshots {
		if snap.CompanyID != companyID {
			continue
		}
		if latest == nil || newer(snap, *latest) {
			cp := snap
			latest = &cp
		}
	}
	return latest, nil
}

// InsertSnapshot stores a snapshot, promoting an existing (company, page_hash) row on revert.
func (s *Store) InsertSnapshot(_ context.Context, snapshot monitor.Snapshot) (monitor.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.CreatedAt = s.now()
	for id, existing := range s.snapshots {
		if existing.CompanyID == snapshot.CompanyID && existing.PageHash == snapshot.PageHash {
			snapshot.ID = id
			s.snapshots[id] = snapshot
			return snapshot, nil
		}
	}
	snapshot.ID = s.id()
	s.snapshots[snapshot.ID] = snapshot
	return snapshot, nil
}

// GetSnapshot fetches a snapshot by id.
func (s *Store) GetSnapshot(_ context.Context, id int64) (monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return monitor.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, monitor.ErrNotFound)
	}
	return snap, nil
}

// ListSnapshots returns a company's snapshots, newest first.
func (s *Store) ListSnapshots(_ context.Context, companyID int64, limit int) ([]monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Snapshot
	for _, snap := range s.snapshots {
		if snap.CompanyID == companyID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return truncate(out, limit), nil
}

// LatestDocument returns the newest document for (company, url), or nil.
func (s *Store) LatestDocument(_ context.Context, companyID int64, url string) (*monitor.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.documents) - 1; i >= 0; i-- {
		d := s.documents[i]
		if d.CompanyID == companyID && d.URL == url {
			return &d, nil
		}
	}
	return nil, nil
}

// InsertDocument stores a document, promoting an existing (company, url, hash) row on revert.
func (s *Store) InsertDocument(_ context.Context, doc monitor.Document) (monitor.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.CreatedAt = s.now()
	for i, d := range s.documents {
		if d.CompanyID == doc.CompanyID && d.URL == doc.URL && d.DocHash == doc.DocHash {
			doc.ID = d.ID
			s.documents = append(s.documents[:i], s.documents[i+1:]...)
			s.documents = append(s.documents, doc)
			return doc, nil
		}
	}
	doc.ID = s.id()
	s.documents = append(s.documents, doc)
	return doc, nil
}

// ListDocuments returns a company's documents, newest first.
func (s *Store) ListDocuments(_ context.Context, companyID int64, limit int) ([]monitor.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Document
	for i := len(s.documents) - 1; i >= 0; i-- {
		if s.documents[i].CompanyID == companyID {
			out = append(out, s.documents[i])
		}
	}
	return truncate(out, limit), nil
}

// ReplaceMetrics sets the metric rows of a snapshot.
func (s *Store) ReplaceMetrics(_ context.Context, snapshotID int64, metrics []monitor.FinancialMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]monitor.FinancialMetric, 0, len(metrics))
	for _, m := range metrics {
		m.ID = s.id()
		m.SnapshotID = snapshotID
		m.CreatedAt = s.now()
		rows = append(rows, m)
	}
	s.metrics[snapshotID] = rows
	return nil
}

// ListMetrics returns the metric rows of a snapshot.
func (s *Store) ListMetrics(_ context.Context, snapshotID int64) ([]monitor.FinancialMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]monitor.FinancialMetric(nil), s.metrics[snapshotID]...), nil
}

// InsertChange appends a change.
func (s *Store) InsertChange(_ context.Context, change monitor.Change) (monitor.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change.ID = s.id()
	change.CreatedAt = s.now()
	change.Details = cloneMap(change.Details)
	s.changes = append(s.changes, change)
	return change, nil
}

// ListChanges returns changes matching filter, newest first.
func (s *Store) ListChanges(_ context.Context, filter monitor.ChangeFilter) ([]monitor.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Change
	for i := len(s.changes) - 1; i >= 0; i-- {
		c := s.changes[i]
		if filter.CompanyID != nil && c.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.Severity != "" && c.Severity != filter.Severity {
			continue
		}
		if filter.Since != nil && c.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && c.CreatedAt.After(*filter.Until) {
			continue
		}
		out = append(out, c)
	}
	return truncate(out, filter.Limit), nil
}

// InsertLLMEvent appends an audit row.
func (s *Store) InsertLLMEvent(_ context.Context, event monitor.LLMEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.id()
	event.CreatedAt = s.now()
	s.llmEvents = append(s.llmEvents, event)
	return nil
}

// LLMEvents returns the recorded audit rows.
func (s *Store) LLMEvents() []monitor.LLMEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]monitor.LLMEvent(nil), s.llmEvents...)
}

// InsertDeadLetter appends a dead letter.
func (s *Store) InsertDeadLetter(_ context.Context, letter monitor.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	letter.ID = s.id()
	letter.CreatedAt = s.now()
	s.deadLetters = append(s.deadLetters, letter)
	return nil
}

// DeadLetters returns the recorded dead letters.
func (s *Store) DeadLetters() []monitor.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]monitor.DeadLetter(nil), s.deadLetters...)
}

// TouchSchedulerState upserts the singleton heartbeat row.
func (s *Store) TouchSchedulerState(_ context.Context, tickAt time.Time, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := tickAt.UTC()
	s.scheduler = monitor.SchedulerState{ID: 1, LastTickAt: &at, HeartbeatMeta: cloneMap(meta)}
	return nil
}

// GetSchedulerState returns the heartbeat row.
func (s *Store) GetSchedulerState(_ context.Context) (monitor.SchedulerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduler, nil
}

func newer(a, b monitor.Snapshot) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func cloneRun(r monitor.ScanRun) monitor.ScanRun {
	r.Meta = cloneMap(r.Meta)
	return r
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	if rows == nil {
		return []T{}
	}
	return rows
}
