// Package monitor defines the domain types and collaborator interfaces shared
// across the scan pipeline.
package monitor

import (
	"errors"
	"net/http"
	"time"
)

// Store sentinels.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// ScanStatus represents the lifecycle state of a scan run.
type ScanStatus string

// Scan status values persisted on scan runs.
const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusSucceeded ScanStatus = "succeeded"
	ScanStatusFailed    ScanStatus = "failed"
	// ScanStatusRetrying is reserved; nothing transitions into it yet.
	ScanStatusRetrying ScanStatus = "retrying"
)

// ChangeType classifies a detected change.
type ChangeType string

// Change types recorded on Change rows.
const (
	ChangeTypeFinancial  ChangeType = "FINANCIAL"
	ChangeTypeDocument   ChangeType = "DOCUMENT"
	ChangeTypeGovernance ChangeType = "GOVERNANCE"
	ChangeTypeText       ChangeType = "TEXT"
)

// Severity is the materiality label attached to a change, ordered from Minor to Critical.
type Severity string

// Severity values in ascending order.
const (
	SeverityMinor       Severity = "Minor"
	SeverityModerate    Severity = "Moderate"
	SeveritySignificant Severity = "Significant"
	SeverityCritical    Severity = "Critical"
)

// Company is a monitored website.
type Company struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	BaseURL             string     `json:"base_url"`
	IRURL               string     `json:"ir_url,omitempty"`
	IRConfidence        float64    `json:"ir_confidence"`
	ScanIntervalMinutes int        `json:"scan_interval_minutes"`
	IsActive            bool       `json:"is_active"`
	LastScannedAt       *time.Time `json:"last_scanned_at,omitempty"`
	NextScanAt          *time.Time `json:"next_scan_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TargetURL returns the page a scan should fetch.
func (c Company) TargetURL() string {
	if c.IRURL != "" {
		return c.IRURL
	}
	return c.BaseURL
}

// ScanRun is one attempt to scan a company within an idempotency window.
type ScanRun struct {
	ID             int64          `json:"id"`
	CompanyID      int64          `json:"company_id"`
	Status         ScanStatus     `json:"status"`
	IdempotencyKey string         `json:"idempotency_key"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Meta           map[string]any `json:"meta"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Section is one structured text fragment extracted from a page.
type Section struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NormalizedPage is the deterministic, hashed representation of a page.
type NormalizedPage struct {
	CleanText     string            `json:"clean_text"`
	Sections      []Section         `json:"structured_sections"`
	PDFLinks      []string          `json:"pdf_links"`
	Numbers       []string          `json:"numbers"`
	PageHash      string            `json:"page_hash"`
	SectionHashes map[string]string `json:"section_hashes"`
	NumbersHash   string            `json:"numbers_hash"`
}

// Snapshot is one deduplicated capture of a page's normalized content.
type Snapshot struct {
	ID            int64             `json:"id"`
	CompanyID     int64             `json:"company_id"`
	ScanRunID     *int64            `json:"scan_run_id,omitempty"`
	SourceURL     string            `json:"source_url"`
	PageHash      string            `json:"page_hash"`
	NumbersHash   string            `json:"numbers_hash"`
	SectionHashes map[string]string `json:"section_hashes"`
	Normalized    NormalizedPage    `json:"normalized"`
	RawBlobPath   string            `json:"raw_blob_path,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Document is a downloaded PDF linked from a page.
type Document struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"company_id"`
	SnapshotID  *int64    `json:"snapshot_id,omitempty"`
	URL         string    `json:"url"`
	DocHash     string    `json:"doc_hash"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FinancialMetric is one canonical metric value tied to a snapshot.
type FinancialMetric struct {
	ID         int64     `json:"id"`
	SnapshotID int64     `json:"snapshot_id"`
	CompanyID  int64     `json:"company_id"`
	Name       string    `json:"metric_name"`
	Value      float64   `json:"metric_value"`
	Unit       string    `json:"unit,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Period     string    `json:"period,omitempty"`
	ReportType string    `json:"report_type,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Change is the append-only outcome of comparing two snapshots.
type Change struct {
	ID             int64          `json:"id"`
	CompanyID      int64          `json:"company_id"`
	FromSnapshotID *int64         `json:"from_snapshot_id,omitempty"`
	ToSnapshotID   int64          `json:"to_snapshot_id"`
	Type           ChangeType     `json:"change_type"`
	Severity       Severity       `json:"severity"`
	Score          float64        `json:"score"`
	Confidence     float64        `json:"confidence"`
	Summary        string         `json:"summary"`
	Details        map[string]any `json:"details"`
	CreatedAt      time.Time      `json:"created_at"`
}

// LLMEvent audits one language-model call.
type LLMEvent struct {
	ID               int64          `json:"id"`
	ScanRunID        *int64         `json:"scan_run_id,omitempty"`
	Purpose          string         `json:"purpose"`
	Model            string         `json:"model"`
	PromptVersion    string         `json:"prompt_version"`
	InputHash        string         `json:"input_hash"`
	Output           map[string]any `json:"output_json"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	LatencyMs        int64          `json:"latency_ms"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DeadLetter records a queued task that ended in error.
type DeadLetter struct {
	ID           int64          `json:"id"`
	TaskName     string         `json:"task_name"`
	Payload      map[string]any `json:"payload"`
	ErrorMessage string         `json:"error_message"`
	RetryCount   int            `json:"retry_count"`
	Resolved     bool           `json:"resolved"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SchedulerState is the singleton scheduler heartbeat row.
type SchedulerState struct {
	ID            int64          `json:"id"`
	LastTickAt    *time.Time     `json:"last_tick_at,omitempty"`
	HeartbeatMeta map[string]any `json:"heartbeat_meta"`
}

// ChangeFilter narrows change listings.
type ChangeFilter struct {
	CompanyID *int64
	Severity  Severity
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// FetchOptions carries optional conditional request headers.
type FetchOptions struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// FetchResponse is the result of a GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
}

// HeadResponse surfaces caching and size hints from a HEAD request.
type HeadResponse struct {
	URL           string
	StatusCode    int
	ETag          string
	LastModified  string
	ContentType   string
	ContentLength *int64
}

// QueueItem wraps a company scan ready to run.
type QueueItem struct {
	CompanyID int64
	Trigger   string
	Attempt   int
	Submitted int64
}
