// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/api"
	"github.com/JakeFAU/realtime-ir-watcher/internal/clock/system"
	"github.com/JakeFAU/realtime-ir-watcher/internal/config"
	"github.com/JakeFAU/realtime-ir-watcher/internal/crawler"
	"github.com/JakeFAU/realtime-ir-watcher/internal/database"
	"github.com/JakeFAU/realtime-ir-watcher/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/realtime-ir-watcher/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-ir-watcher/internal/financial"
	"github.com/JakeFAU/realtime-ir-watcher/internal/intelligence"
	"github.com/JakeFAU/realtime-ir-watcher/internal/llm"
	"github.com/JakeFAU/realtime-ir-watcher/internal/lock"
	"github.com/JakeFAU/realtime-ir-watcher/internal/logging"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/orchestrator"
	"github.com/JakeFAU/realtime-ir-watcher/internal/pdf"
	"github.com/JakeFAU/realtime-ir-watcher/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-ir-watcher/internal/policy/ssrf"
	memorypublisher "github.com/JakeFAU/realtime-ir-watcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-ir-watcher/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/realtime-ir-watcher/internal/queue/memory"
	"github.com/JakeFAU/realtime-ir-watcher/internal/scheduler"
	"github.com/JakeFAU/realtime-ir-watcher/internal/snapshot"
	gcsstorage "github.com/JakeFAU/realtime-ir-watcher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-ir-watcher/internal/storage/local"
	memoryStorage "github.com/JakeFAU/realtime-ir-watcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-ir-watcher/internal/storage/postgres"
	s3storage "github.com/JakeFAU/realtime-ir-watcher/internal/storage/s3"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	clock        monitor.Clock
	store        monitor.Store
	blobs        monitor.BlobStore
	publisher    monitor.Publisher
	discovery    *crawler.Discovery
	locks        *lock.Selector
	orchestrator *orchestrator.Orchestrator
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server
	ready        map[string]api.ReadyCheck
	closers      []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		Database       bool   `json:"database"`
		Redis          bool   `json:"redis"`
		LLM            bool   `json:"llm"`
	}
	logger.Info("Creating application", zap.Any("config", SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		Database:       cfg.Database.DSN != "",
		Redis:          cfg.Redis.URL != "",
		LLM:            cfg.LLM.Enabled,
	}))
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ready:  make(map[string]api.ReadyCheck),
	}, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the persistence layer.
func (a *App) Store() monitor.Store {
	return a.store
}

// RunBatch scans companies synchronously with bounded concurrency.
func (a *App) RunBatch(ctx context.Context, ids []int64, concurrency int) []orchestrator.Result {
	return a.orchestrator.RunBatch(ctx, ids, concurrency)
}

// Tick runs one scheduler pass.
func (a *App) Tick(ctx context.Context) (scheduler.TickResult, error) {
	return a.scheduler.Tick(ctx)
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API, drains the scan queue and ticks the scheduler until the
// context is canceled or a termination signal arrives. The caller closes the App.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(ctx)
	}()

	schedulerDone := make(chan struct{})
	if a.cfg.Scheduler.Enabled {
		go func() {
			defer close(schedulerDone)
			a.logger.Info("scheduler started", zap.Int("interval_seconds", a.cfg.Scheduler.IntervalSeconds))
			a.scheduler.Run(ctx)
		}()
	} else {
		close(schedulerDone)
		a.logger.Info("scheduler disabled; scans run only on demand")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("scheduler still ticking at shutdown deadline")
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if a.store != nil {
		a.store.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		if app.store != nil {
			app.store.Close()
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.blobs, err = setupStorage(ctx, a); err != nil {
		return err
	}
	if a.store, err = setupDatabase(ctx, a); err != nil {
		return err
	}
	if a.locks, err = setupLocks(a); err != nil {
		return err
	}
	if a.publisher, err = setupPublisher(ctx, a); err != nil {
		return err
	}
	validator, err := setupValidator(a)
	if err != nil {
		return err
	}
	setupPipeline(a, validator)
	setupDispatcher(a)

	a.apiServer = api.NewServer(api.Services{
		Store:     a.store,
		Scanner:   a.orchestrator,
		Submitter: a.dispatch,
		Ticker:    a.scheduler,
		Discovery: a.discovery,
		Ready:     a.ready,
	}, a.clock, *a.cfg, a.logger.Named("api"))
	return nil
}

func setupStorage(ctx context.Context, app *App) (monitor.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		blobStore, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.onClose("gcs", blobStore.Close)
		return blobStore, nil
	case "s3":
		s3cfg := app.cfg.Storage.S3
		app.logger.Info("using S3 storage backend",
			zap.String("bucket", s3cfg.Bucket),
			zap.String("endpoint", s3cfg.Endpoint),
		)
		blobStore, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Bucket:    s3cfg.Bucket,
			UseSSL:    s3cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDownloadPath))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDownloadPath})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) (monitor.Store, error) {
	dbCfg := app.cfg.Database
	if dbCfg.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory store")
		return memoryStorage.NewStore(), nil
	}
	if dbCfg.AutoMigrate {
		if err := database.Migrate(ctx, dbCfg.DSN, app.logger.Named("migrate")); err != nil {
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             dbCfg.DSN,
		MaxConns:        dbCfg.MaxConns,
		MinConns:        dbCfg.MinConns,
		MaxConnLifetime: dbCfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	app.ready["database"] = store.Ping
	app.logger.Info("postgres store initialized", zap.Int32("max_conns", dbCfg.MaxConns))
	return store, nil
}

func setupLocks(app *App) (*lock.Selector, error) {
	ping := time.Duration(app.cfg.Lock.PingTimeoutMs) * time.Millisecond
	if app.cfg.Redis.URL == "" {
		app.logger.Warn("No redis URL configured, company locks are process-local")
		return lock.NewSelector(nil, lock.NewLocal(), ping, app.logger.Named("lock")), nil
	}
	remote, err := lock.NewRedisFromURL(app.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis lock init failed: %w", err)
	}
	app.onClose("redis", remote.Close)
	app.ready["redis"] = remote.Ping
	app.logger.Info("redis lock provider configured", zap.Duration("ping_timeout", ping))
	return lock.NewSelector(remote, lock.NewLocal(), ping, app.logger.Named("lock")), nil
}

func setupPublisher(ctx context.Context, app *App) (monitor.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, gcppublisher.Config{
		ProjectID: app.cfg.PubSub.ProjectID,
		TopicName: app.cfg.PubSub.TopicName,
	}, app.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.onClose("pubsub", publisher.Close)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func setupValidator(app *App) (*llm.Validator, error) {
	logger := app.logger.Named("validator")
	if !app.cfg.LLM.Enabled {
		app.logger.Info("llm validation disabled")
		return llm.NewValidator(nil, app.store, app.cfg.LLM.MaxChars, logger), nil
	}
	client, err := llm.NewClient(llm.Config{
		Endpoint: app.cfg.LLM.Endpoint,
		Model:    app.cfg.LLM.Model,
		APIKey:   app.cfg.LLM.APIKey,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	app.logger.Info("llm validation enabled", zap.String("model", app.cfg.LLM.Model))
	return llm.NewValidator(client, app.store, app.cfg.LLM.MaxChars, logger), nil
}

func setupPipeline(app *App, validator *llm.Validator) {
	cfg := app.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyMB * 1024 * 1024,
		MaxAttempts:   cfg.HTTP.MaxRetries,
		BackoffMin:    time.Duration(cfg.HTTP.BackoffMinMs) * time.Millisecond,
		BackoffMax:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		DialControl:   ssrf.DialControl,
	}, ssrf.New(nil), ratelimit.New(ratelimit.Config{Interval: cfg.RateInterval()}), app.logger.Named("fetcher"))
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.HTTP.UserAgent),
		zap.Duration("rate_interval", cfg.RateInterval()),
	)

	controller := crawler.NewController(fetcher, crawler.Config{
		MaxDepth: cfg.Crawler.MaxDepth,
		MaxPages: cfg.Crawler.MaxPages,
	}, app.logger.Named("crawler"))
	app.discovery = crawler.NewDiscovery(controller)

	th := cfg.Thresholds
	app.orchestrator = orchestrator.New(orchestrator.Config{
		IntervalMinutes: cfg.Scan.IntervalMinutes,
		WindowMinutes:   cfg.Scan.IdempotencyWindowMinutes,
		LockTTL:         cfg.LockTTL(),
		DiscoverIR:      cfg.Scan.DiscoverIR,
		ChangeTopic:     cfg.PubSub.TopicName,
	}, orchestrator.Deps{
		Store:     app.store,
		Fetcher:   fetcher,
		Locks:     app.locks,
		Snapshots: snapshot.NewManager(app.store, app.blobs, app.clock, app.logger.Named("snapshot")),
		Documents: pdf.NewMonitor(
			fetcher,
			app.store,
			app.blobs,
			pdf.NewParser(),
			app.clock,
			cfg.MaxPDFBytes(),
			app.logger.Named("pdf"),
		),
		Extractor: financial.NewExtractor(),
		Validator: validator,
		Detector:  intelligence.NewDetector(th.FinancialChange),
		Materiality: intelligence.NewMaterialityEngine(intelligence.Thresholds{
			Minor:       th.Minor,
			Moderate:    th.Moderate,
			Significant: th.Significant,
			Critical:    th.Critical,
		}),
		Discovery: app.discovery,
		Publisher: app.publisher,
		Clock:     app.clock,
		Logger:    app.logger,
	})
}

func setupDispatcher(app *App) {
	app.queue = queueMemory.NewQueue(app.cfg.Worker.QueueDepth)
	app.dispatch = dispatcher.NewPool(
		app.cfg.Worker.Concurrency,
		app.queue,
		app.orchestrator,
		app.store,
		app.logger,
	)
	app.scheduler = scheduler.New(
		app.store,
		app.dispatch,
		app.clock,
		time.Duration(app.cfg.Scheduler.IntervalSeconds)*time.Second,
		app.logger.Named("scheduler"),
	)
	app.logger.Info("worker pool configured",
		zap.Int("concurrency", app.cfg.Worker.Concurrency),
		zap.Int("queue_depth", app.cfg.Worker.QueueDepth),
	)
}
