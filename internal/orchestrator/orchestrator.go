// Package orchestrator runs one company scan end to end: lock, fetch,
// snapshot, documents, extraction, change detection and scheduling.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-ir-watcher/internal/crawler"
	"github.com/JakeFAU/realtime-ir-watcher/internal/financial"
	"github.com/JakeFAU/realtime-ir-watcher/internal/intelligence"
	"github.com/JakeFAU/realtime-ir-watcher/internal/llm"
	"github.com/JakeFAU/realtime-ir-watcher/internal/lock"
	"github.com/JakeFAU/realtime-ir-watcher/internal/metrics"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/normalize"
	"github.com/JakeFAU/realtime-ir-watcher/internal/pdf"
	"github.com/JakeFAU/realtime-ir-watcher/internal/snapshot"
)

// Status is the outcome of one scan.
type Status string

// Scan outcomes.
const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

const (
	defaultIntervalMinutes = 90
	defaultWindowMinutes   = 30
	defaultLockTTL         = 900 * time.Second
	defaultMetricConf      = 0.5
)

// Result summarizes one scan for callers and logs.
type Result struct {
	Status        Status `json:"status"`
	CompanyID     int64  `json:"company_id"`
	ScanRunID     int64  `json:"scan_run_id,omitempty"`
	SnapshotID    *int64 `json:"snapshot_id,omitempty"`
	ChangeID      *int64 `json:"change_id,omitempty"`
	MetricsFound  int    `json:"metrics_found"`
	PDFDownloaded int    `json:"pdf_downloaded"`
	PDFChanged    int    `json:"pdf_changed"`
	Message       string `json:"message,omitempty"`
}

// Decider stores a snapshot when the page changed.
type Decider interface {
	Decide(ctx context.Context, capture snapshot.Capture) (snapshot.Decision, error)
}

// DocumentProcessor downloads and parses linked documents.
type DocumentProcessor interface {
	ProcessLinks(ctx context.Context, companyID int64, snapshotID *int64, links []string) (pdf.Result, error)
}

// Discoverer finds a company's investor-relations page.
type Discoverer interface {
	Discover(ctx context.Context, companyURL string) (crawler.DiscoveryResult, error)
}

// Config tunes scheduling and locking.
type Config struct {
	IntervalMinutes int
	WindowMinutes   int
	LockTTL         time.Duration
	DiscoverIR      bool
	ChangeTopic     string
}

// Deps are the collaborators of an Orchestrator. Discovery, Validator and
// Publisher are optional.
type Deps struct {
	Store       monitor.Store
	Fetcher     monitor.Fetcher
	Locks       lock.Provider
	Snapshots   Decider
	Documents   DocumentProcessor
	Extractor   *financial.Extractor
	Validator   *llm.Validator
	Detector    *intelligence.Detector
	Materiality *intelligence.MaterialityEngine
	Discovery   Discoverer
	Publisher   monitor.Publisher
	Clock       monitor.Clock
	Logger      *zap.Logger
}

// Orchestrator executes scans. It is safe for concurrent use; the company lock
// serializes scans of the same company.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New wires an Orchestrator, filling unset tunables with defaults.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = defaultIntervalMinutes
	}
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = defaultWindowMinutes
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if deps.Extractor == nil {
		deps.Extractor = financial.NewExtractor()
	}
	if deps.Detector == nil {
		deps.Detector = intelligence.NewDetector(0)
	}
	if deps.Materiality == nil {
		deps.Materiality = intelligence.NewMaterialityEngine(intelligence.DefaultThresholds())
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: deps.Logger.Named("orchestrator")}
}

// IdempotencyKey names the scan run of companyID for the window containing now.
func IdempotencyKey(companyID int64, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%d:%s", companyID, now.UTC().Truncate(window).Format(time.RFC3339))
}

// RunScan scans one company. Failures are reported in the Result, never panicked.
func (o *Orchestrator) RunScan(ctx context.Context, companyID int64) Result {
	start := time.Now()
	defer func() { metrics.ObserveScanDuration(time.Since(start)) }()

	logger := o.log.With(zap.Int64("company_id", companyID))
	lease, err := o.deps.Locks.Acquire(ctx, lock.CompanyScanKey(companyID), o.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		metrics.ObserveScanLockSkipped()
		logger.Info("scan skipped, lock held")
		return Result{Status: StatusSkipped, CompanyID: companyID, Message: "Scan already running"}
	}
	if err != nil {
		return o.fail(ctx, companyID, nil, fmt.Errorf("acquire lock: %w", err), logger)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release lock", zap.Error(err))
		}
	}()

	var run *monitor.ScanRun
	res, err := o.scan(ctx, companyID, &run, logger)
	if err != nil {
		return o.fail(ctx, companyID, run, err, logger)
	}
	metrics.ObserveScanSuccess()
	logger.Info("scan complete",
		zap.Int64("scan_run_id", res.ScanRunID),
		zap.Int("metrics_found", res.MetricsFound),
		zap.Int("pdf_changed", res.PDFChanged),
	)
	return res
}

func (o *Orchestrator) scan(ctx context.Context, companyID int64, runOut **monitor.ScanRun, logger *zap.Logger) (Result, error) {
	store := o.deps.Store
	company, err := store.GetCompany(ctx, companyID)
	if err != nil {
		return Result{}, fmt.Errorf("load company: %w", err)
	}

	now := o.deps.Clock.Now()
	key := IdempotencyKey(companyID, now, time.Duration(o.cfg.WindowMinutes)*time.Minute)
	run, err := store.GetOrCreateScanRun(ctx, companyID, key, now)
	if err != nil {
		return Result{}, fmt.Errorf("get scan run: %w", err)
	}
	*runOut = &run
	run.Status = monitor.ScanStatusRunning
	run.StartedAt = &now
	run.CompletedAt = nil
	run.ErrorMessage = ""
	if err := store.UpdateScanRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("mark run running: %w", err)
	}
	logger = logger.With(zap.Int64("scan_run_id", run.ID))

	if company.IRURL == "" && o.cfg.DiscoverIR && o.deps.Discovery != nil {
		company = o.discover(ctx, company, logger)
	}

	target := company.TargetURL()
	resp, err := o.deps.Fetcher.Fetch(ctx, target, monitor.FetchOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	page, err := normalize.HTML(resp.Body, target)
	if err != nil {
		return Result{}, fmt.Errorf("normalize %s: %w", target, err)
	}
	runID := run.ID
	decision, err := o.deps.Snapshots.Decide(ctx, snapshot.Capture{
		CompanyID: companyID,
		ScanRunID: &runID,
		SourceURL: target,
		Page:      page,
		Raw:       resp.Body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("decide snapshot: %w", err)
	}

	var snapshotID *int64
	if decision.Snapshot != nil {
		id := decision.Snapshot.ID
		snapshotID = &id
	}
	docs, err := o.deps.Documents.ProcessLinks(ctx, companyID, snapshotID, page.PDFLinks)
	if err != nil {
		return Result{}, fmt.Errorf("process documents: %w", err)
	}

	text := page.CleanText + "\n" + strings.Join(docs.ParsedTexts, "\n")
	extraction := o.deps.Extractor.Extract(text)
	validation := o.deps.Validator.Validate(ctx, &runID, text, extraction.Metrics)
	finalMetrics := validation.Metrics
	if finalMetrics == nil {
		finalMetrics = map[string]float64{}
	}

	heading := 0.3
	if len(finalMetrics) > 0 {
		heading = 0.8
	}
	conf := intelligence.ScoreConfidence(intelligence.ConfidenceInputs{
		HasTables:         strings.Contains(strings.ToLower(string(resp.Body)), "table"),
		HeadingMatchRatio: heading,
		UnitConsistency:   0.8,
		LLMAgreement:      validation.Agreement,
	}, finalMetrics)

	var oldPage *monitor.NormalizedPage
	oldMetrics := map[string]float64{}
	if prev := decision.Previous; prev != nil {
		normalized := prev.Normalized
		oldPage = &normalized
		rows, err := store.ListMetrics(ctx, prev.ID)
		if err != nil {
			return Result{}, fmt.Errorf("load previous metrics: %w", err)
		}
		for _, m := range rows {
			oldMetrics[m.Name] = m.Value
		}
	}

	// An unchanged page keeps its metrics unless new document text was read.
	if decision.Snapshot != nil && (decision.Changed || docs.Changed > 0) {
		rows := metricRows(company.ID, decision.Snapshot.ID, extraction, finalMetrics, conf.Metrics)
		if err := store.ReplaceMetrics(ctx, decision.Snapshot.ID, rows); err != nil {
			return Result{}, fmt.Errorf("store metrics: %w", err)
		}
	}

	detection := o.deps.Detector.Detect(oldPage, page, oldMetrics, finalMetrics, docs.Changed > 0)
	grade := o.deps.Materiality.Score(detection.Score)

	result := Result{
		Status:        StatusOK,
		CompanyID:     companyID,
		ScanRunID:     run.ID,
		SnapshotID:    snapshotID,
		MetricsFound:  len(finalMetrics),
		PDFDownloaded: docs.Downloaded,
		PDFChanged:    docs.Changed,
		Message:       decision.Reason,
	}

	if decision.Snapshot != nil && grade.Score > 0 {
		var from *int64
		if decision.Previous != nil {
			id := decision.Previous.ID
			from = &id
		}
		change, err := store.InsertChange(ctx, monitor.Change{
			CompanyID:      companyID,
			FromSnapshotID: from,
			ToSnapshotID:   decision.Snapshot.ID,
			Type:           detection.Type,
			Severity:       grade.Severity,
			Score:          grade.Score,
			Confidence:     conf.Snapshot,
			Summary:        detection.Summary,
			Details:        detection.Details,
			CreatedAt:      now,
		})
		if err != nil {
			return Result{}, fmt.Errorf("store change: %w", err)
		}
		result.ChangeID = &change.ID
		o.publish(ctx, company, change, logger)
	}

	interval := company.ScanIntervalMinutes
	if interval <= 0 {
		interval = o.cfg.IntervalMinutes
	}
	finished := o.deps.Clock.Now()
	if err := store.UpdateScanSchedule(ctx, companyID, finished, finished.Add(time.Duration(interval)*time.Minute)); err != nil {
		return Result{}, fmt.Errorf("update schedule: %w", err)
	}

	run.Status = monitor.ScanStatusSucceeded
	run.CompletedAt = &finished
	run.Meta = map[string]any{
		"target_url":     target,
		"changed":        decision.Changed,
		"metrics_found":  result.MetricsFound,
		"pdf_downloaded": result.PDFDownloaded,
		"pdf_changed":    result.PDFChanged,
	}
	if snapshotID != nil {
		run.Meta["snapshot_id"] = *snapshotID
	}
	if err := store.UpdateScanRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("mark run succeeded: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) discover(ctx context.Context, company monitor.Company, logger *zap.Logger) monitor.Company {
	found, err := o.deps.Discovery.Discover(ctx, company.BaseURL)
	if err != nil {
		logger.Warn("ir discovery failed", zap.Error(err))
		return company
	}
	if !found.Found() {
		return company
	}
	if err := o.deps.Store.UpdateIRURL(ctx, company.ID, found.IRURL, found.Confidence); err != nil {
		logger.Warn("store ir url", zap.Error(err))
		return company
	}
	logger.Info("ir page discovered", zap.String("ir_url", found.IRURL), zap.Float64("confidence", found.Confidence))
	company.IRURL = found.IRURL
	company.IRConfidence = found.Confidence
	return company
}

func (o *Orchestrator) publish(ctx context.Context, company monitor.Company, change monitor.Change, logger *zap.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"change_id":        change.ID,
		"company_id":       company.ID,
		"company_name":     company.Name,
		"change_type":      change.Type,
		"severity":         change.Severity,
		"score":            change.Score,
		"confidence":       change.Confidence,
		"summary":          change.Summary,
		"from_snapshot_id": change.FromSnapshotID,
		"to_snapshot_id":   change.ToSnapshotID,
		"created_at":       change.CreatedAt,
	}
	msgID, err := o.deps.Publisher.Publish(ctx, o.cfg.ChangeTopic, payload)
	if err != nil {
		logger.Warn("publish change", zap.Int64("change_id", change.ID), zap.Error(err))
		return
	}
	logger.Debug("change published", zap.Int64("change_id", change.ID), zap.String("message_id", msgID))
}

// fail records err on the run, creating it if the scan never got that far.
func (o *Orchestrator) fail(ctx context.Context, companyID int64, run *monitor.ScanRun, cause error, logger *zap.Logger) Result {
	metrics.ObserveScanFailed()
	logger.Error("scan failed", zap.Error(cause))

	ctx = context.WithoutCancel(ctx)
	now := o.deps.Clock.Now()
	if run == nil {
		key := IdempotencyKey(companyID, now, time.Duration(o.cfg.WindowMinutes)*time.Minute)
		created, err := o.deps.Store.GetOrCreateScanRun(ctx, companyID, key, now)
		if err != nil {
			logger.Warn("record failed run", zap.Error(err))
			return Result{Status: StatusError, CompanyID: companyID, Message: cause.Error()}
		}
		run = &created
	}
	run.Status = monitor.ScanStatusFailed
	run.ErrorMessage = cause.Error()
	run.CompletedAt = &now
	if err := o.deps.Store.UpdateScanRun(ctx, *run); err != nil {
		logger.Warn("mark run failed", zap.Error(err))
	}
	return Result{Status: StatusError, CompanyID: companyID, ScanRunID: run.ID, Message: cause.Error()}
}

// RunBatch scans ids with at most concurrency scans in flight. Results keep input order.
func (o *Orchestrator) RunBatch(ctx context.Context, ids []int64, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = o.RunScan(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func metricRows(
	companyID, snapshotID int64,
	extraction financial.Extraction,
	values map[string]float64,
	confidence map[string]float64,
) []monitor.FinancialMetric {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]monitor.FinancialMetric, 0, len(names))
	for _, name := range names {
		c, ok := confidence[name]
		if !ok {
			c = defaultMetricConf
		}
		rows = append(rows, monitor.FinancialMetric{
			SnapshotID: snapshotID,
			CompanyID:  companyID,
			Name:       name,
			Value:      values[name],
			Currency:   extraction.Currency,
			Period:     extraction.Period,
			ReportType: extraction.ReportType,
			Confidence: c,
		})
	}
	return rows
}
