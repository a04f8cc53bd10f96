package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/config"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/alma"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/libris"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/mail"
	redisclient "github.com/kth-biblioteket/almatools-tasks/internal/infra/redis"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage/memory"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage/postgres"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile/retry"
)

// App wires the import pipeline together and manages its lifecycle: storage,
// remote clients, the reconciliation engine, the importer and the retry
// worker, and the HTTP control surface.
type App struct {
	cfg *config.AppConfig

	importer *reconcile.Importer
	retry    *retry.Worker
	server   *Server

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewApp creates the application with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {

	// 1. Initialize Storage
	var failedRepo storage.FailedRecordRepository
	var cursorRepo storage.CursorRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		failedRepo = postgres.NewFailedRecordRepo(db)
		cursorRepo = postgres.NewCursorRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		failedRepo = memory.NewFailedRecordRepo(store)
		cursorRepo = memory.NewCursorRepo(store)
		slog.Info("Using Memory storage; queue state is lost on restart")
	}

	// 2. Remote Clients
	timeout := cfg.Import.RequestTimeout
	almaClient := alma.NewClient(cfg.Alma, timeout)
	sruClient := alma.NewSRUClient(cfg.Alma, timeout)
	librisClient := libris.NewClient(cfg.Libris, timeout)
	mailer := mail.NewMailer(cfg.Mail, timeout)

	engine := reconcile.NewEngine(
		almaClient,
		sruClient,
		librisClient,
		cfg.Libris.Sigel,
		cfg.Libris.ImportMarker,
		slog.Default(),
	)

	// 3. Cross-process Record Lock (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, cross-process locking disabled", "error", err)
		}
	}

	// 4. Workers. The shared mutex keeps the importer and the retry worker
	// from reconciling concurrently inside this process.
	var mu sync.Mutex

	retryWorker := retry.NewWorker(
		failedRepo,
		engine,
		mailer,
		lockerOrNil(redisClient),
		&mu,
		cfg.Import.MaxAttempts,
		cfg.Import.RetryInterval,
		slog.Default(),
	)

	importer := reconcile.NewImporter(
		librisClient,
		engine,
		cursorRepo,
		retryWorker,
		importLockerOrNil(redisClient),
		&mu,
		cfg.Import.Interval,
		slog.Default(),
	)

	server := NewServer(cfg.Server.Port, db, failedRepo)

	return &App{
		cfg:         cfg,
		importer:    importer,
		retry:       retryWorker,
		server:      server,
		db:          db,
		redisClient: redisClient,
		log:         slog.Default(),
	}, nil
}

// A nil *redisclient.Client must become a nil interface, not a non-nil
// interface wrapping nil.

func lockerOrNil(c *redisclient.Client) retry.Locker {
	if c == nil {
		return nil
	}
	return c
}

func importLockerOrNil(c *redisclient.Client) reconcile.RecordLocker {
	if c == nil {
		return nil
	}
	return c
}

// Start starts the control server and both workers.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("Control server failed", "error", err)
		}
	}()

	a.log.Info("Starting importer", "interval", a.cfg.Import.Interval)
	go a.importer.Start(ctx)

	a.log.Info("Starting retry worker",
		"interval", a.cfg.Import.RetryInterval,
		"max_attempts", a.cfg.Import.MaxAttempts)
	go a.retry.Start(ctx)

	return nil
}

// Stop shuts the application down.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	return a.server.Stop(ctx)
}
