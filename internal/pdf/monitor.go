package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/hash/sha256"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/storage"
)

const pdfContentType = "application/pdf"

// DocumentStore is the slice of persistence the monitor needs.
type DocumentStore interface {
	LatestDocument(ctx context.Context, companyID int64, url string) (*monitor.Document, error)
	InsertDocument(ctx context.Context, doc monitor.Document) (monitor.Document, error)
}

// TextParser turns document bytes into text.
type TextParser interface {
	Parse(data []byte) (Parsed, error)
}

// Result summarizes one batch of links.
type Result struct {
	Downloaded  int
	Changed     int
	ParsedTexts []string
}

// Monitor downloads, deduplicates, stores and parses linked PDFs.
type Monitor struct {
	fetcher  monitor.Fetcher
	store    DocumentStore
	blobs    monitor.BlobStore
	parser   TextParser
	clock    monitor.Clock
	maxBytes int64
	logger   *zap.Logger
}

// NewMonitor wires a Monitor. maxBytes <= 0 disables the size ceiling.
func NewMonitor(
	fetcher monitor.Fetcher,
	store DocumentStore,
	blobs monitor.BlobStore,
	parser TextParser,
	clock monitor.Clock,
	maxBytes int64,
	logger *zap.Logger,
) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		fetcher:  fetcher,
		store:    store,
		blobs:    blobs,
		parser:   parser,
		clock:    clock,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// ProcessLinks handles every link in order. Per-link failures are logged and skipped;
// only context cancellation aborts the batch.
func (m *Monitor) ProcessLinks(ctx context.Context, companyID int64, snapshotID *int64, links []string) (Result, error) {
	res := Result{ParsedTexts: []string{}}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := m.processLink(ctx, companyID, snapshotID, link, &res); err != nil {
			m.logger.Debug("pdf skipped",
				zap.Int64("company_id", companyID),
				zap.String("url", link),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

var errSkipped = errors.New("skipped")

func (m *Monitor) processLink(ctx context.Context, companyID int64, snapshotID *int64, link string, res *Result) error {
	head, err := m.fetcher.Head(ctx, link)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	if !IsPDF(head.ContentType) {
		return fmt.Errorf("content type %q: %w", head.ContentType, errSkipped)
	}
	if m.maxBytes > 0 && head.ContentLength != nil && *head.ContentLength > m.maxBytes {
		return fmt.Errorf("content length %d over limit: %w", *head.ContentLength, errSkipped)
	}
	resp, err := m.fetcher.Fetch(ctx, link, monitor.FetchOptions{})
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %w", resp.StatusCode, errSkipped)
	}
	if m.maxBytes > 0 && int64(len(resp.Body)) > m.maxBytes {
		return fmt.Errorf("body of %d bytes over limit: %w", len(resp.Body), errSkipped)
	}
	res.Downloaded++

	docHash := sha256.Sum(resp.Body)
	latest, err := m.store.LatestDocument(ctx, companyID, link)
	if err != nil {
		return fmt.Errorf("latest document: %w", err)
	}
	if latest != nil && latest.DocHash == docHash {
		return nil
	}
	res.Changed++

	path := storage.BuildPath(storage.ContainerDocs, companyID, m.clock.Now(), "document-"+docHash[:16]+".pdf")
	uri, err := m.blobs.PutObject(ctx, path, pdfContentType, bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	parsed, err := m.parser.Parse(resp.Body)
	if err != nil {
		m.logger.Debug("pdf text unavailable", zap.String("url", link), zap.Error(err))
	} else if strings.TrimSpace(parsed.Text) != "" {
		res.ParsedTexts = append(res.ParsedTexts, parsed.Text)
	}

	if _, err := m.store.InsertDocument(ctx, monitor.Document{
		CompanyID:   companyID,
		SnapshotID:  snapshotID,
		URL:         link,
		DocHash:     docHash,
		FileSize:    int64(len(resp.Body)),
		ContentType: head.ContentType,
		StoragePath: uri,
	}); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// IsPDF reports whether a Content-Type header names application/pdf.
func IsPDF(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType)) == pdfContentType
}
