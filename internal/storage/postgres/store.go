// Package postgres provides the Postgres-backed monitor.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements monitor.Store on Postgres.
type Store struct {
	pool pgxIface
}

var _ monitor.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const companyColumns = `id, name, base_url, ir_url, ir_confidence, scan_interval_minutes, is_active,
	last_scanned_at, next_scan_at, created_at, updated_at`

func scanCompany(row pgx.Row) (monitor.Company, error) {
	var c monitor.Company
	err := row.Scan(&c.ID, &c.Name, &c.BaseURL, &c.IRURL, &c.IRConfidence, &c.ScanIntervalMinutes,
		&c.IsActive, &c.LastScannedAt, &c.NextScanAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateCompany inserts a company. A duplicate base_url yields monitor.ErrConflict.
func (s *Store) CreateCompany(ctx context.Context, company monitor.Company) (monitor.Company, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO companies (name, base_url, ir_url, ir_confidence, scan_interval_minutes, is_active, next_scan_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+companyColumns,
		company.Name, company.BaseURL, company.IRURL, company.IRConfidence,
		company.ScanIntervalMinutes, company.IsActive, company.NextScanAt)
	created, err := scanCompany(row)
	if err != nil {
		if isUniqueViolation(err) {
			return monitor.Company{}, fmt.Errorf("company %q: %w", company.BaseURL, monitor.ErrConflict)
		}
		return monitor.Company{}, fmt.Errorf("insert company: %w", err)
	}
	return created, nil
}

// GetCompany fetches a company by id.
func (s *Store) GetCompany(ctx context.Context, id int64) (monitor.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return monitor.Company{}, notFound(err, fmt.Sprintf("company %d", id))
	}
	return c, nil
}

// GetCompanyByBaseURL fetches a company by base URL.
func (s *Store) GetCompanyByBaseURL(ctx context.Context, baseURL string) (monitor.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE base_url = $1`, baseURL))
	if err != nil {
		return monitor.Company{}, notFound(err, fmt.Sprintf("company %q", baseURL))
	}
	return c, nil
}

// ListCompanies returns every company ordered by id.
func (s *Store) ListCompanies(ctx context.Context) ([]monitor.Company, error) {
	return s.queryCompanies(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY id`)
}

// ListDueCompanies returns active companies whose next scan is unset or due.
func (s *Store) ListDueCompanies(ctx context.Context, now time.Time) ([]monitor.Company, error) {
	return s.queryCompanies(ctx, `SELECT `+companyColumns+` FROM companies
WHERE is_active AND (next_scan_at IS NULL OR next_scan_at <= $1)
ORDER BY id`, now)
}

func (s *Store) queryCompanies(ctx context.Context, query string, args ...any) ([]monitor.Company, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()
	out := []monitor.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCompany overwrites the mutable fields of a company.
func (s *Store) UpdateCompany(ctx context.Context, company monitor.Company) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE companies
SET name = $2, ir_url = $3, ir_confidence = $4, scan_interval_minutes = $5, is_active = $6,
	last_scanned_at = $7, next_scan_at = $8, updated_at = NOW()
WHERE id = $1`,
		company.ID, company.Name, company.IRURL, company.IRConfidence, company.ScanIntervalMinutes,
		company.IsActive, company.LastScannedAt, company.NextScanAt)
	return affected(tag, err, fmt.Sprintf("company %d", company.ID))
}

// UpdateScanSchedule records a completed scan and the next due time.
func (s *Store) UpdateScanSchedule(ctx context.Context, id int64, lastScannedAt, nextScanAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE companies SET last_scanned_at = $2, next_scan_at = $3, updated_at = NOW() WHERE id = $1`,
		id, lastScannedAt.UTC(), nextScanAt.UTC())
	return affected(tag, err, fmt.Sprintf("company %d", id))
}

// UpdateIRURL persists a discovered investor-relations URL.
func (s *Store) UpdateIRURL(ctx context.Context, id int64, irURL string, confidence float64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE companies SET ir_url = $2, ir_confidence = $3, updated_at = NOW() WHERE id = $1`,
		id, irURL, confidence)
	return affected(tag, err, fmt.Sprintf("company %d", id))
}

const scanRunColumns = `id, company_id, status, idempotency_key, started_at, completed_at, error_message, meta, created_at`

func scanScanRun(row pgx.Row) (monitor.ScanRun, error) {
	var (
		r      monitor.ScanRun
		status string
		meta   []byte
	)
	if err := row.Scan(&r.ID, &r.CompanyID, &status, &r.IdempotencyKey, &r.StartedAt, &r.CompletedAt,
		&r.ErrorMessage, &meta, &r.CreatedAt); err != nil {
		return monitor.ScanRun{}, err
	}
	r.Status = monitor.ScanStatus(status)
	r.Meta = map[string]any{}
	if err := decodeJSON(meta, &r.Meta); err != nil {
		return monitor.ScanRun{}, err
	}
	return r, nil
}

// GetOrCreateScanRun returns the run for key, inserting a queued one when absent.
func (s *Store) GetOrCreateScanRun(ctx context.Context, companyID int64, key string, now time.Time) (monitor.ScanRun, error) {
	run, err := scanScanRun(s.pool.QueryRow(ctx, `
INSERT INTO scan_runs (company_id, status, idempotency_key, started_at, meta)
VALUES ($1, $2, $3, $4, '{}'::jsonb)
ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
RETURNING `+scanRunColumns,
		companyID, string(monitor.ScanStatusQueued), key, now.UTC()))
	if err != nil {
		return monitor.ScanRun{}, fmt.Errorf("get or create scan run: %w", err)
	}
	return run, nil
}

// UpdateScanRun overwrites status, timestamps, error and meta of a run.
func (s *Store) UpdateScanRun(ctx context.Context, run monitor.ScanRun) error {
	meta, err := encodeJSON(run.Meta)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scan_runs SET status = $2, started_at = $3, completed_at = $4, error_message = $5, meta = $6
WHERE id = $1`,
		run.ID, string(run.Status), run.StartedAt, run.CompletedAt, run.ErrorMessage, meta)
	return affected(tag, err, fmt.Sprintf("scan run %d", run.ID))
}

// ListScanRuns returns a company's runs, newest first.
func (s *Store) ListScanRuns(ctx context.Context, companyID int64, limit int) ([]monitor.ScanRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scanRunColumns+` FROM scan_runs
WHERE company_id = $1 ORDER BY id DESC LIMIT $2`, companyID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	defer rows.Close()
	out := []monitor.ScanRun{}
	for rows.Next() {
		r, err := scanScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const snapshotColumns = `id, company_id, scan_run_id, source_url, page_hash, numbers_hash, section_hashes,
	normalized, raw_blob_path, created_at`

func scanSnapshot(row pgx.Row) (monitor.Snapshot, error) {
	var (
		snap       monitor.Snapshot
		sections   []byte
		normalized []byte
	)
	if err := row.Scan(&snap.ID, &snap.CompanyID, &snap.ScanRunID, &snap.SourceURL, &snap.PageHash,
		&snap.NumbersHash, &sections, &normalized, &snap.RawBlobPath, &snap.CreatedAt); err != nil {
		return monitor.Snapshot{}, err
	}
	if err := decodeJSON(sections, &snap.SectionHashes); err != nil {
		return monitor.Snapshot{}, err
	}
	if err := decodeJSON(normalized, &snap.Normalized); err != nil {
		return monitor.Snapshot{}, err
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot for a company, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, companyID int64) (*monitor.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots
WHERE company_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

// InsertSnapshot inserts a snapshot, refreshing and promoting the row for a repeated page hash.
func (s *Store) InsertSnapshot(ctx context.Context, snapshot monitor.Snapshot) (monitor.Snapshot, error) {
	sections, err := encodeJSON(snapshot.SectionHashes)
	if err != nil {
		return monitor.Snapshot{}, err
	}
	normalized, err := encodeJSON(snapshot.Normalized)
	if err != nil {
		return monitor.Snapshot{}, err
	}
	err = s.pool.QueryRow(ctx, `
INSERT INTO snapshots (company_id, scan_run_id, source_url, page_hash, numbers_hash, section_hashes, normalized, raw_blob_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (company_id, page_hash) DO UPDATE SET
	scan_run_id = EXCLUDED.scan_run_id,
	source_url = EXCLUDED.source_url,
	numbers_hash = EXCLUDED.numbers_hash,
	section_hashes = EXCLUDED.section_hashes,
	normalized = EXCLUDED.normalized,
	raw_blob_path = EXCLUDED.raw_blob_path,
	created_at = NOW()
RETURNING id, created_at`,
		snapshot.CompanyID, snapshot.ScanRunID, snapshot.SourceURL, snapshot.PageHash, snapshot.NumbersHash,
		sections, normalized, snapshot.RawBlobPath).Scan(&snapshot.ID, &snapshot.CreatedAt)
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snapshot, nil
}

// GetSnapshot fetches a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id int64) (monitor.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if err != nil {
		return monitor.Snapshot{}, notFound(err, fmt.Sprintf("snapshot %d", id))
	}
	return snap, nil
}

// ListSnapshots returns a company's snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, companyID int64, limit int) ([]monitor.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots
WHERE company_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, companyID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()
	out := []monitor.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

const documentColumns = `id, company_id, snapshot_id, url, doc_hash, file_size, content_type, storage_path, created_at`

func scanDocument(row pgx.Row) (monitor.Document, error) {
	var d monitor.Document
	err := row.Scan(&d.ID, &d.CompanyID, &d.SnapshotID, &d.URL, &d.DocHash, &d.FileSize,
		&d.ContentType, &d.StoragePath, &d.CreatedAt)
	return d, err
}

// LatestDocument returns the newest document for (company, url), or nil.
func (s *Store) LatestDocument(ctx context.Context, companyID int64, url string) (*monitor.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents
WHERE company_id = $1 AND url = $2 ORDER BY created_at DESC, id DESC LIMIT 1`, companyID, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest document: %w", err)
	}
	return &d, nil
}

// InsertDocument inserts a document, refreshing and promoting the row for a repeated hash.
func (s *Store) InsertDocument(ctx context.Context, doc monitor.Document) (monitor.Document, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO documents (company_id, snapshot_id, url, doc_hash, file_size, content_type, storage_path)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (company_id, url, doc_hash) DO UPDATE SET
	snapshot_id = EXCLUDED.snapshot_id,
	file_size = EXCLUDED.file_size,
	content_type = EXCLUDED.content_type,
	storage_path = EXCLUDED.storage_path,
	created_at = NOW()
RETURNING id, created_at`,
		doc.CompanyID, doc.SnapshotID, doc.URL, doc.DocHash, doc.FileSize, doc.ContentType, doc.StoragePath).
		Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return monitor.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns a company's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, companyID int64, limit int) ([]monitor.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE company_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, companyID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	out := []monitor.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReplaceMetrics swaps the metric rows of a snapshot in one transaction.
func (s *Store) ReplaceMetrics(ctx context.Context, snapshotID int64, metrics []monitor.FinancialMetric) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, `DELETE FROM financial_metrics WHERE snapshot_id = $1`, snapshotID); err != nil {
		return fmt.Errorf("delete metrics: %w", err)
	}
	for _, m := range metrics {
		if _, err = tx.Exec(ctx, `
INSERT INTO financial_metrics (snapshot_id, company_id, metric_name, metric_value, unit, currency, period, report_type, confidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			snapshotID, m.CompanyID, m.Name, m.Value, m.Unit, m.Currency, m.Period, m.ReportType, m.Confidence); err != nil {
			return fmt.Errorf("insert metric %s: %w", m.Name, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit metrics: %w", err)
	}
	return nil
}

// ListMetrics returns the metric rows of a snapshot.
func (s *Store) ListMetrics(ctx context.Context, snapshotID int64) ([]monitor.FinancialMetric, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, snapshot_id, company_id, metric_name, metric_value, unit, currency, period, report_type, confidence, created_at
FROM financial_metrics WHERE snapshot_id = $1 ORDER BY id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()
	out := []monitor.FinancialMetric{}
	for rows.Next() {
		var m monitor.FinancialMetric
		if err := rows.Scan(&m.ID, &m.SnapshotID, &m.CompanyID, &m.Name, &m.Value, &m.Unit, &m.Currency,
			&m.Period, &m.ReportType, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertChange appends a change row.
func (s *Store) InsertChange(ctx context.Context, change monitor.Change) (monitor.Change, error) {
	details, err := encodeJSON(change.Details)
	if err != nil {
		return monitor.Change{}, err
	}
	err = s.pool.QueryRow(ctx, `
INSERT INTO changes (company_id, from_snapshot_id, to_snapshot_id, change_type, severity, score, confidence, summary, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at`,
		change.CompanyID, change.FromSnapshotID, change.ToSnapshotID, string(change.Type), string(change.Severity),
		change.Score, change.Confidence, change.Summary, details).Scan(&change.ID, &change.CreatedAt)
	if err != nil {
		return monitor.Change{}, fmt.Errorf("insert change: %w", err)
	}
	return change, nil
}

// ListChanges returns changes matching filter, newest first.
func (s *Store) ListChanges(ctx context.Context, filter monitor.ChangeFilter) ([]monitor.Change, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CompanyID != nil {
		add("company_id = $%d", *filter.CompanyID)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.Since != nil {
		add("created_at >= $%d", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("created_at <= $%d", filter.Until.UTC())
	}
	query := `SELECT id, company_id, from_snapshot_id, to_snapshot_id, change_type, severity, score, confidence,
	summary, details, created_at FROM changes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrAll(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()
	out := []monitor.Change{}
	for rows.Next() {
		var (
			c                    monitor.Change
			changeType, severity string
			details              []byte
		)
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.FromSnapshotID, &c.ToSnapshotID, &changeType, &severity,
			&c.Score, &c.Confidence, &c.Summary, &details, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Type = monitor.ChangeType(changeType)
		c.Severity = monitor.Severity(severity)
		c.Details = map[string]any{}
		if err := decodeJSON(details, &c.Details); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertLLMEvent appends an audit row for a model call.
func (s *Store) InsertLLMEvent(ctx context.Context, event monitor.LLMEvent) error {
	output, err := encodeJSON(event.Output)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO llm_events (scan_run_id, purpose, model, prompt_version, input_hash, output_json, prompt_tokens, completion_tokens, latency_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ScanRunID, event.Purpose, event.Model, event.PromptVersion, event.InputHash, output,
		event.PromptTokens, event.CompletionTokens, event.LatencyMs); err != nil {
		return fmt.Errorf("insert llm event: %w", err)
	}
	return nil
}

// InsertDeadLetter appends a failed task record.
func (s *Store) InsertDeadLetter(ctx context.Context, letter monitor.DeadLetter) error {
	payload, err := encodeJSON(letter.Payload)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO dead_letters (task_name, payload, error_message, retry_count, resolved)
VALUES ($1, $2, $3, $4, $5)`,
		letter.TaskName, payload, letter.ErrorMessage, letter.RetryCount, letter.Resolved); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// TouchSchedulerState upserts the singleton heartbeat row.
func (s *Store) TouchSchedulerState(ctx context.Context, tickAt time.Time, meta map[string]any) error {
	payload, err := encodeJSON(meta)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO scheduler_state (id, last_tick_at, heartbeat_meta) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET last_tick_at = EXCLUDED.last_tick_at, heartbeat_meta = EXCLUDED.heartbeat_meta`,
		tickAt.UTC(), payload); err != nil {
		return fmt.Errorf("touch scheduler state: %w", err)
	}
	return nil
}

// GetSchedulerState returns the heartbeat row, or an empty state before the first tick.
func (s *Store) GetSchedulerState(ctx context.Context) (monitor.SchedulerState, error) {
	state := monitor.SchedulerState{ID: 1, HeartbeatMeta: map[string]any{}}
	var meta []byte
	err := s.pool.QueryRow(ctx, `SELECT id, last_tick_at, heartbeat_meta FROM scheduler_state WHERE id = 1`).
		Scan(&state.ID, &state.LastTickAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return monitor.SchedulerState{}, fmt.Errorf("scheduler state: %w", err)
	}
	if err := decodeJSON(meta, &state.HeartbeatMeta); err != nil {
		return monitor.SchedulerState{}, err
	}
	return state, nil
}

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	if string(b) == "null" {
		return []byte("{}"), nil
	}
	return b, nil
}

func decodeJSON(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, monitor.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func affected(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, monitor.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// limitOrAll maps a non-positive limit to Postgres' LIMIT ALL.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
