package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/database"
	"github.com/vipul43/ledgersync/internal/events"
	"github.com/vipul43/ledgersync/internal/lock"
	"github.com/vipul43/ledgersync/internal/logger"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/provider"
	"github.com/vipul43/ledgersync/internal/repository"
	"github.com/vipul43/ledgersync/internal/service"
	"github.com/vipul43/ledgersync/internal/xero"
)

// app holds every wired component. Commands build one and close it on exit.
type app struct {
	cfg          *config.Config
	log          *logrus.Logger
	db           *gorm.DB
	metrics      *metrics.Metrics
	queueJobs    *repository.QueueJobRepository
	orchestrator *service.Orchestrator
	dispatcher   *service.Dispatcher

	closers []func() error
}

func newApp(ctx context.Context, migrate bool) (*app, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.LogLevel)
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: db, metrics: metrics.New()}
	a.closers = append(a.closers, func() error { return database.Close(db) })
	log.Info("Database connected successfully")

	if migrate {
		log.Info("Running database migrations...")
		if err := database.RunMigrations(db); err != nil {
			a.Close()
			return nil, err
		}
		log.Info("Migrations completed successfully")
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedisLocker(client, "ledgersync:lock:")
		log.Info("Using redis for token refresh locks")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		a.closers = append(a.closers, kp.Close)
		publisher = kp
		log.WithField("topic", cfg.KafkaTopic).Info("Publishing sync events to kafka")
	}

	// Initialize repositories
	integrationRepo := repository.NewIntegrationRepository(db)
	syncJobRepo := repository.NewSyncJobRepository(db)
	a.queueJobs = repository.NewQueueJobRepository(db)
	batchRepo := repository.NewImportBatchRepository(db)
	lookupRepo := repository.NewLookupRepository(db)

	// Initialize services
	xeroClient := xero.NewClient(cfg.Xero, nil)
	tokens := service.NewTokenManager(cfg.Token, integrationRepo, xeroClient, locker, publisher, a.metrics, log)
	providerClient := provider.NewClient(cfg.Provider, tokens, a.metrics, log)
	batches := service.NewBatchTracker(batchRepo, publisher, a.metrics, log)
	pipeline := service.NewPipeline(cfg.Import, providerClient, service.NewLookupService(lookupRepo), batches, syncJobRepo, a.metrics, log)

	importers := []service.Importer{
		service.NewAccountImporter(pipeline, xeroClient, repository.NewRecordRepository[*models.LedgerAccount](db)),
		service.NewSupplierImporter(pipeline, xeroClient, repository.NewRecordRepository[*models.Supplier](db)),
		service.NewInvoiceImporter(pipeline, xeroClient, repository.NewInvoiceRepository(db)),
		service.NewBankTransactionImporter(pipeline, xeroClient, repository.NewRecordRepository[*models.BankTransaction](db)),
		service.NewManualJournalImporter(pipeline, xeroClient, repository.NewRecordRepository[*models.ManualJournal](db)),
	}

	a.orchestrator = service.NewOrchestrator(cfg, integrationRepo, syncJobRepo, a.queueJobs, batchRepo, tokens, publisher, a.metrics, log)
	a.dispatcher = service.NewDispatcher(a.orchestrator, importers, log)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Failed to close resource")
		}
	}
}
