package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

var companyCols = []string{
	"id", "name", "base_url", "ir_url", "ir_confidence", "scan_interval_minutes", "is_active",
	"last_scanned_at", "next_scan_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn")

	_, err = NewWithPool(nil)
	require.Error(t, err)
}

func TestCreateCompany(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	next := now.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO companies")).
		WithArgs("Acme", "https://acme.example", "", 0.0, 0, true, &next).
		WillReturnRows(pgxmock.NewRows(companyCols).
			AddRow(int64(1), "Acme", "https://acme.example", "", 0.0, 0, true, nil, &next, now, now))

	created, err := store.CreateCompany(context.Background(), monitor.Company{
		Name: "Acme", BaseURL: "https://acme.example", IsActive: true, NextScanAt: &next,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)
	require.Nil(t, created.LastScannedAt)
	require.True(t, next.Equal(*created.NextScanAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCompanyConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO companies")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := store.CreateCompany(context.Background(), monitor.Company{BaseURL: "https://acme.example"})
	require.True(t, errors.Is(err, monitor.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompanyNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM companies WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetCompany(context.Background(), 9)
	require.True(t, errors.Is(err, monitor.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueCompanies(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_active AND (next_scan_at IS NULL OR next_scan_at <= $1)")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(companyCols).
			AddRow(int64(1), "A", "https://a.example", "", 0.0, 0, true, nil, nil, now, now).
			AddRow(int64(2), "B", "https://b.example", "https://b.example/ir", 0.5, 60, true, nil, nil, now, now))

	due, err := store.ListDueCompanies(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "https://b.example/ir", due[1].TargetURL())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScanScheduleMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	last := time.Unix(1700000000, 0).UTC()
	next := last.Add(90 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE companies SET last_scanned_at")).
		WithArgs(int64(3), last, next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateScanSchedule(context.Background(), 3, last, next)
	require.True(t, errors.Is(err, monitor.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateScanRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	key := "1:2023-11-14T22:00:00Z"

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (idempotency_key)")).
		WithArgs(int64(1), "queued", key, now).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_id", "status", "idempotency_key", "started_at", "completed_at", "error_message", "meta", "created_at",
		}).AddRow(int64(5), int64(1), "running", key, &now, nil, "", []byte(`{"attempt":1}`), now))

	run, err := store.GetOrCreateScanRun(context.Background(), 1, key, now)
	require.NoError(t, err)
	require.Equal(t, int64(5), run.ID)
	require.Equal(t, monitor.ScanStatusRunning, run.Status)
	require.Nil(t, run.CompletedAt)
	require.Equal(t, float64(1), run.Meta["attempt"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshotEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT 1")).
		WithArgs(int64(1)).
		WillReturnError(pgx.ErrNoRows)

	snap, err := store.LatestSnapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, snap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSnapshotUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	runID := int64(4)
	snap := monitor.Snapshot{
		CompanyID:     1,
		ScanRunID:     &runID,
		SourceURL:     "https://acme.example/ir",
		PageHash:      "p",
		NumbersHash:   "n",
		SectionHashes: map[string]string{"0": "h"},
		RawBlobPath:   "memory://raw/1/x/page.html",
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (company_id, page_hash) DO UPDATE")).
		WithArgs(int64(1), &runID, snap.SourceURL, "p", "n", []byte(`{"0":"h"}`), pgxmock.AnyArg(), snap.RawBlobPath).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))

	stored, err := store.InsertSnapshot(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, int64(11), stored.ID)
	require.True(t, now.Equal(stored.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDocumentUpsertsRepeatedHash(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	snapID := int64(3)
	doc := monitor.Document{
		CompanyID:   1,
		SnapshotID:  &snapID,
		URL:         "https://a.example/r.pdf",
		DocHash:     "abc",
		FileSize:    42,
		ContentType: "application/pdf",
		StoragePath: "memory://docs/1/x/document-abc.pdf",
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (company_id, url, doc_hash) DO UPDATE")).
		WithArgs(int64(1), &snapID, doc.URL, "abc", int64(42), doc.ContentType, doc.StoragePath).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), now))

	stored, err := store.InsertDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, int64(9), stored.ID)
	require.True(t, now.Equal(stored.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDocumentError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnError(errors.New("connection reset"))

	_, err := store.InsertDocument(context.Background(), monitor.Document{CompanyID: 1, URL: "https://a.example/r.pdf"})
	require.ErrorContains(t, err, "insert document")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceMetricsCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM financial_metrics WHERE snapshot_id = $1")).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO financial_metrics")).
		WithArgs(int64(7), int64(1), "revenue", 1.5e9, "INR", "INR", "Q1", "quarterly", 0.8).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.ReplaceMetrics(context.Background(), 7, []monitor.FinancialMetric{{
		CompanyID: 1, Name: "revenue", Value: 1.5e9, Unit: "INR", Currency: "INR",
		Period: "Q1", ReportType: "quarterly", Confidence: 0.8,
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceMetricsRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM financial_metrics")).
		WithArgs(int64(7)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.ReplaceMetrics(context.Background(), 7, nil)
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListChangesBuildsFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	company := int64(1)
	from := int64(2)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE company_id = $1 AND severity = $2 AND created_at >= $3 ORDER BY created_at DESC, id DESC LIMIT $4")).
		WithArgs(company, "Critical", now, 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_id", "from_snapshot_id", "to_snapshot_id", "change_type", "severity", "score",
			"confidence", "summary", "details", "created_at",
		}).AddRow(int64(3), company, &from, int64(4), "FINANCIAL", "Critical", 0.95, 0.6, "Revenue moved",
			[]byte(`{"financial_delta":0.3}`), now))

	changes, err := store.ListChanges(context.Background(), monitor.ChangeFilter{
		CompanyID: &company, Severity: monitor.SeverityCritical, Since: &now, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, monitor.ChangeTypeFinancial, changes[0].Type)
	require.Equal(t, from, *changes[0].FromSnapshotID)
	require.InDelta(t, 0.3, changes[0].Details["financial_delta"], 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	tick := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduler_state")).
		WithArgs(tick, []byte(`{"enqueued":2}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduler_state WHERE id = 1")).
		WillReturnError(pgx.ErrNoRows)

	require.NoError(t, store.TouchSchedulerState(context.Background(), tick, map[string]any{"enqueued": 2}))
	state, err := store.GetSchedulerState(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), state.ID)
	require.Nil(t, state.LastTickAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
