package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ai4ckd/platform/pkg/common/config"
	"github.com/ai4ckd/platform/pkg/common/database"
	"github.com/ai4ckd/platform/pkg/common/kafka"
	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/common/middleware"
	"github.com/ai4ckd/platform/pkg/dlp"
	"github.com/ai4ckd/platform/pkg/geo"
	"github.com/ai4ckd/platform/pkg/ingestion"
	"github.com/ai4ckd/platform/pkg/normalizer"
	"github.com/ai4ckd/platform/pkg/screening"
	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
	"github.com/ai4ckd/platform/pkg/terminology"
	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	// Reference data
	catalog, err := terminology.Load(cfg.TerminologyFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load terminology catalog")
	}
	weights, err := srirc.LoadWeights(cfg.SRIRCWeightsFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load SR-IRC weights")
	}
	scorer, err := srirc.NewScorer(weights)
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid SR-IRC weights")
	}
	registry, err := geo.LoadRegistry(cfg.RegionsFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load region registry")
	}
	dlpRules, err := dlp.LoadRules(cfg.DLPRulesFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load DLP rules")
	}
	detector, err := dlp.NewDetector(dlpRules)
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid DLP rules")
	}

	// Storage
	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.ClosePostgres(db)

	records := screening.NewRecordRepository(db)
	events := screening.NewEventRepository(db)
	jobs := ingestion.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"patient_records": records.AutoMigrate,
		"score_events":    events.AutoMigrate,
		"import_jobs":     jobs.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("table", name).Fatal("Failed to migrate")
		}
	}

	opts := screening.Options{
		Store:      records,
		Normalizer: normalizer.New(catalog),
		Classifier: newClassifier(cfg),
		Scorer:     scorer,
		Registry:   registry,
		Events:     events,
		Workers:    cfg.Workers,
	}

	var producer, dlq *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.ScoredTopic)
		defer producer.Close()
		dlq = kafka.NewProducer(cfg.KafkaBrokers, cfg.IntakeDLQTopic)
		defer dlq.Close()
		opts.Publisher = producer
	}

	engine, err := screening.New(opts)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to build screening engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := engine.Rebuild(ctx); err != nil {
		logger.Log.WithError(err).Fatal("Failed to rebuild screening state")
	}

	// Snapshot cache for dashboards
	redisClient := database.NewRedis(cfg)
	defer database.CloseRedis(redisClient)
	cache := screening.NewSnapshotCache(screening.NewRedisKVStore(redisClient), cfg.SnapshotPrefix, cfg.SnapshotTTL)
	go cache.Run(ctx, engine, cfg.SnapshotInterval, cfg.SnapshotTopN)

	// Intake consumer
	if cfg.KafkaEnabled {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.IntakeTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		intake := screening.NewIntake(engine, dlq, detector)
		go func() {
			if err := consumer.Consume(ctx, intake.Handle); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Fatal("Consumer error")
			}
		}()
	}

	imports := ingestion.NewService(ingestion.NewExportPolicy(cfg.ImportSources, nil), jobs, engine, cfg.ImportJobTTL)
	go cleanupImports(ctx, imports)

	// Router
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	handler := screening.NewHTTPHandler(engine, cache)
	handler.RegisterOps(router)
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(apiRouter)
	ingestion.NewHTTPHandler(imports, cfg.MaxRequestBody).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":       cfg.ServerHost,
			"port":       cfg.ServerPort,
			"classifier": cfg.ClassifierMode,
			"kafka":      cfg.KafkaEnabled,
		}).Info("Triage Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Triage Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := engine.Close(); err != nil {
		logger.Log.WithError(err).Error("Failed to close screening engine")
	}

	logger.Log.Info("Triage Service stopped")
}

// newClassifier builds the stage adapter for CLASSIFIER_MODE. Any mode
// without a model stages every patient from eDFG bands.
func newClassifier(cfg *config.Config) *staging.Adapter {
	var primary staging.Classifier
	switch cfg.ClassifierMode {
	case "artifact":
		primary = staging.NewModelClassifier(staging.NewArtifactModel(cfg.ModelArtifactDir, cfg.ModelName))
	case "remote":
		primary = staging.NewModelClassifier(staging.NewRemoteModel(cfg.ModelRemoteURL, cfg.ModelName, cfg.ClassifierTimeout))
	case "none", "":
	default:
		logger.Log.WithField("mode", cfg.ClassifierMode).Warn("Unknown classifier mode, using eDFG bands only")
	}
	return staging.NewAdapter(primary, nil, cfg.ClassifierTimeout)
}

func cleanupImports(ctx context.Context, imports *ingestion.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := imports.Cleanup(ctx); err != nil {
				logger.Log.WithError(err).Warn("Failed to clean up import jobs")
			}
		}
	}
}
