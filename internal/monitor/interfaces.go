package monitor

import (
	"context"
	"io"
	"time"
)

// CompanyStore persists monitored companies.
type CompanyStore interface {
	CreateCompany(ctx context.Context, company Company) (Company, error)
	GetCompany(ctx context.Context, id int64) (Company, error)
	GetCompanyByBaseURL(ctx context.Context, baseURL string) (Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	UpdateCompany(ctx context.Context, company Company) error
	ListDueCompanies(ctx context.Context, now time.Time) ([]Company, error)
	UpdateScanSchedule(ctx context.Context, id int64, lastScannedAt, nextScanAt time.Time) error
	UpdateIRURL(ctx context.Context, id int64, irURL string, confidence float64) error
}

// ScanRunStore persists scan runs keyed by idempotency key.
type ScanRunStore interface {
	// GetOrCreateScanRun returns the run for key, creating a queued one if none exists.
	GetOrCreateScanRun(ctx context.Context, companyID int64, key string, now time.Time) (ScanRun, error)
	UpdateScanRun(ctx context.Context, run ScanRun) error
	ListScanRuns(ctx context.Context, companyID int64, limit int) ([]ScanRun, error)
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	// LatestSnapshot returns nil and no error when the company has no snapshots.
	LatestSnapshot(ctx context.Context, companyID int64) (*Snapshot, error)
	// InsertSnapshot stores a snapshot. A page that returns to an earlier
	// (company, page_hash) refreshes and promotes that row instead of adding one.
	InsertSnapshot(ctx context.Context, snapshot Snapshot) (Snapshot, error)
	GetSnapshot(ctx context.Context, id int64) (Snapshot, error)
	ListSnapshots(ctx context.Context, companyID int64, limit int) ([]Snapshot, error)
}

// DocumentStore persists downloaded documents.
type DocumentStore interface {
	// LatestDocument returns nil and no error when no document exists for the pair.
	LatestDocument(ctx context.Context, companyID int64, url string) (*Document, error)
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	ListDocuments(ctx context.Context, companyID int64, limit int) ([]Document, error)
}

// MetricStore persists extracted financial metrics.
type MetricStore interface {
	// ReplaceMetrics sets the metric rows of one snapshot.
	ReplaceMetrics(ctx context.Context, snapshotID int64, metrics []FinancialMetric) error
	ListMetrics(ctx context.Context, snapshotID int64) ([]FinancialMetric, error)
}

// ChangeStore persists the change audit trail.
type ChangeStore interface {
	InsertChange(ctx context.Context, change Change) (Change, error)
	ListChanges(ctx context.Context, filter ChangeFilter) ([]Change, error)
}

// AuditStore persists operational records.
type AuditStore interface {
	InsertLLMEvent(ctx context.Context, event LLMEvent) error
	InsertDeadLetter(ctx context.Context, letter DeadLetter) error
	TouchSchedulerState(ctx context.Context, tickAt time.Time, meta map[string]any) error
	GetSchedulerState(ctx context.Context) (SchedulerState, error)
}

// Store is the full persistence collaborator.
type Store interface {
	CompanyStore
	ScanRunStore
	SnapshotStore
	DocumentStore
	MetricStore
	ChangeStore
	AuditStore
	Close()
}

// BlobStore writes raw artifacts and returns a storage pointer.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Fetcher retrieves remote resources.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (FetchResponse, error)
	Head(ctx context.Context, url string) (HeadResponse, error)
}

// Queue provides enqueue/dequeue semantics for company scans.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes change notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes hex digests.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
