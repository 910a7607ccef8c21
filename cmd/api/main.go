package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docmerge/docs"
	"docmerge/internal/config"
	"docmerge/internal/database"
	"docmerge/internal/database/migration"
	"docmerge/internal/effects"
	handlers "docmerge/internal/http/handler"
	"docmerge/internal/http/middleware"
	"docmerge/internal/logging"
	tracing "docmerge/internal/otel"
	"docmerge/internal/repository"
	mongorepo "docmerge/internal/repository/mongo"
	"docmerge/internal/repository/postgres"
	"docmerge/internal/service"
	"docmerge/internal/storage"
)

// @title Document Merge API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	repo, closeRepo, err := openRecordStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("record_store", cfg.RecordStore).Msg("failed to open record store")
	}
	defer closeRepo()

	objStore, err := openStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("storage_backend", cfg.Storage.Backend).Msg("failed to initialize storage")
	}

	exec, err := effects.New(objStore,
		effects.WithLogger(log.With().Str("component", "effects").Logger()),
		effects.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage executor")
	}
	svc := service.NewRecordService(repo, exec,
		service.WithLogger(log.With().Str("component", "service").Logger()),
		service.WithLimits(service.Limits{
			MaxIndexedGroups: cfg.Engine.MaxIndexedGroups,
			MaxFieldIndex:    cfg.Engine.MaxFieldIndex,
		}),
	)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger(log))

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register http metrics")
	}
	app.Use(promMiddleware.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(otelhttp.NewHandler(promhttp.Handler(), "metrics")))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, repo, svc)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()
	log.Info().Str("addr", addr).Str("record_store", cfg.RecordStore).Str("storage_backend", cfg.Storage.Backend).Msg("server started")

	<-ctx.Done()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openRecordStore selects the record backend named by RECORD_STORE.
func openRecordStore(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (repository.RecordRepository, func(), error) {
	switch cfg.RecordStore {
	case "mongo":
		repo, err := mongorepo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close(context.Background()) }, nil
	case "postgres", "":
		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewRecordPostgres(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown record store %q (postgres, mongo)", cfg.RecordStore)
	}
}

// openStorage selects the attachment backend named by STORAGE_BACKEND.
func openStorage(cfg *config.AppConfig) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "disk":
		return storage.NewDisk(cfg.Storage.DiskRoot)
	case "minio", "":
		// Initialize reusable S3-compatible object storage client (MinIO-supported)
		return storage.NewMinIO(cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (minio, disk)", cfg.Storage.Backend)
	}
}
