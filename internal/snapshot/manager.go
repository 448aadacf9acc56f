// Package snapshot decides when a normalized page deserves a new snapshot row.
package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/storage"
)

// Decision reasons.
const (
	ReasonUnchanged = "No meaningful change"
	ReasonCreated   = "Snapshot created"
)

const rawFilename = "page.html"

// Store is the slice of persistence the manager needs.
type Store interface {
	LatestSnapshot(ctx context.Context, companyID int64) (*monitor.Snapshot, error)
	InsertSnapshot(ctx context.Context, snapshot monitor.Snapshot) (monitor.Snapshot, error)
}

// Decision reports whether a snapshot was created.
type Decision struct {
	Changed bool
	// Snapshot is the new row when Changed, otherwise the unchanged latest row.
	Snapshot *monitor.Snapshot
	// Previous is the latest snapshot before this decision, or nil.
	Previous *monitor.Snapshot
	Reason   string
}

// Capture is the input of one decision.
type Capture struct {
	CompanyID int64
	ScanRunID *int64
	SourceURL string
	Page      monitor.NormalizedPage
	Raw       []byte
}

// Manager deduplicates page captures against the latest snapshot.
type Manager struct {
	store  Store
	blobs  monitor.BlobStore
	clock  monitor.Clock
	logger *zap.Logger
}

// NewManager wires a Manager.
func NewManager(store Store, blobs monitor.BlobStore, clock monitor.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, blobs: blobs, clock: clock, logger: logger}
}

// Decide stores a new snapshot unless the latest one has the same page and numbers hashes.
func (m *Manager) Decide(ctx context.Context, capture Capture) (Decision, error) {
	previous, err := m.store.LatestSnapshot(ctx, capture.CompanyID)
	if err != nil {
		return Decision{}, fmt.Errorf("load latest snapshot: %w", err)
	}
	if previous != nil &&
		previous.PageHash == capture.Page.PageHash &&
		previous.NumbersHash == capture.Page.NumbersHash {
		return Decision{Changed: false, Snapshot: previous, Previous: previous, Reason: ReasonUnchanged}, nil
	}

	path := storage.BuildPath(storage.ContainerRaw, capture.CompanyID, m.clock.Now(), rawFilename)
	uri, err := m.blobs.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(capture.Raw))
	if err != nil {
		return Decision{}, fmt.Errorf("store raw page: %w", err)
	}

	created, err := m.store.InsertSnapshot(ctx, monitor.Snapshot{
		CompanyID:     capture.CompanyID,
		ScanRunID:     capture.ScanRunID,
		SourceURL:     capture.SourceURL,
		PageHash:      capture.Page.PageHash,
		NumbersHash:   capture.Page.NumbersHash,
		SectionHashes: capture.Page.SectionHashes,
		Normalized:    capture.Page,
		RawBlobPath:   uri,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("insert snapshot: %w", err)
	}
	m.logger.Debug("snapshot created",
		zap.Int64("company_id", capture.CompanyID),
		zap.Int64("snapshot_id", created.ID),
		zap.String("raw_blob_path", uri),
	)
	return Decision{Changed: true, Snapshot: &created, Previous: previous, Reason: ReasonCreated}, nil
}
