package main

import (
	"context"
	"time"

	"medwarehouse/internal/handlers"
	"medwarehouse/internal/ingest"
	"medwarehouse/internal/pipeline"
	"medwarehouse/internal/scheduler"
	"medwarehouse/internal/store"
	"medwarehouse/pkg/config"
	"medwarehouse/pkg/database"
	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/monitoring"
	"medwarehouse/pkg/server"
	"medwarehouse/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("stockroom")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithField("version", version.Version).Info("Starting Stockroom (Medical Telegram Warehouse)")

	// Connect to Postgres
	db := database.MustConnect(database.ConfigFromEnv(), logger)
	defer db.Close()

	warehouseStore := store.NewStore(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := warehouseStore.EnsureSchema(ctx); err != nil {
		cancel()
		logger.WithError(err).Fatal("Failed to apply warehouse schema")
	}
	cancel()

	// Optionally land raw scraper output before the first rebuild
	if config.GetEnvBool("LOAD_ON_START", false) {
		loadRawData(warehouseStore, logger)
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("stockroom", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("stockroom", version.Version, version.GitCommit)

	warehouseStore.SetMetrics(store.NewMetrics(metricsCollector))

	pipelineMetrics := pipeline.NewMetrics(metricsCollector)
	warehousePipeline := pipeline.NewPipeline(warehouseStore, logger, pipelineMetrics, nil)
	pipelineScheduler := scheduler.NewScheduler(warehousePipeline, logger)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("last_run", monitoring.LastRunHealthCheck(func() (int64, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return warehouseStore.LastRunFailureCount(ctx)
	}))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DB_HOST": config.GetEnv("DB_HOST", ""),
		"DB_NAME": config.GetEnv("DB_NAME", ""),
	}))

	// Initialize handlers and scheduled rebuilds
	handlers.Init(db, logger, pipelineScheduler)
	pipelineScheduler.Start()
	defer pipelineScheduler.Stop()

	if config.GetEnvBool("RUN_ON_START", true) {
		go func() {
			if _, err := pipelineScheduler.RunNow(); err != nil {
				logger.WithError(err).Error("Initial warehouse rebuild reported errors")
			}
		}()
	}

	// Setup HTTP server
	router := server.SetupServiceRouter(logger, "stockroom", healthChecker, metricsCollector)
	handlers.SetupRoutes(router)

	serverConfig := server.DefaultConfig("stockroom", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}

// loadRawData lands scraped messages and detection results in the raw
// schema. Missing inputs are logged and skipped so a partial lake still
// loads.
func loadRawData(warehouseStore *store.Store, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	messagesDir := config.GetEnv("MESSAGES_DIR", "data/raw/telegram_messages")
	if msgs, err := ingest.LoadMessagesDir(messagesDir, logger); err != nil {
		logger.WithError(err).Warn("Skipping message load")
	} else if err := warehouseStore.InsertRawMessages(ctx, msgs); err != nil {
		logger.WithError(err).Fatal("Failed to land raw messages")
	}

	detectionsCSV := config.GetEnv("DETECTIONS_CSV", "data/processed/yolo_detections.csv")
	if dets, err := ingest.LoadDetectionsCSV(detectionsCSV, logger); err != nil {
		logger.WithError(err).Warn("Skipping detection load")
	} else if err := warehouseStore.InsertDetections(ctx, dets); err != nil {
		logger.WithError(err).Fatal("Failed to land detections")
	}
}
