package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"catalog-ingest-service/internal/api"
	"catalog-ingest-service/internal/config"
	"catalog-ingest-service/internal/ingest"
	"catalog-ingest-service/internal/logging"
	"catalog-ingest-service/internal/source"
	"catalog-ingest-service/internal/store"
)

const (
	serviceName     = "catalog-ingest-service"
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Error loading configuration: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Error building logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", serviceName))
	if envErr != nil {
		logger.Info("No .env file found, relying on system environment")
	}
	logger.Info("Configuration loaded",
		zap.String("app_env", cfg.AppEnv),
		zap.String("source", cfg.Ingest.Source),
	)

	// --- Database Connection ---
	db := openDatabase(cfg, logger)
	dbStore := store.NewPostgresStore(sqlx.NewDb(db, "postgres"), logger)
	defer dbStore.Close()

	pipeline := ingest.NewPipeline(dbStore, logger)

	if cfg.Ingest.Source == config.SourceWebhook {
		serve(cfg, logger, pipeline, dbStore)
		return
	}
	if err := runBatch(cfg, logger, pipeline); err != nil {
		dbStore.Close()
		logger.Fatal("Ingestion run failed", zap.Error(err))
	}
}

// openDatabase connects and pings Postgres. Any failure is fatal: nothing is
// read from the source before storage is known to be reachable.
func openDatabase(cfg *config.Config, logger *zap.Logger) *sql.DB {
	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		logger.Fatal("Failed to initialize database connection", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		logger.Fatal("Could not connect to database", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL database")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			db.Close()
			logger.Fatal("Schema migration failed", zap.Error(err))
		}
		logger.Info("Catalog schema migrated")
	}
	return db
}

func newSource(cfg *config.Config, logger *zap.Logger) (source.Source, error) {
	switch cfg.Ingest.Source {
	case config.SourceLive:
		live, err := source.NewLive(source.LiveConfig{
			BaseURL:         cfg.Storefront.BaseURL,
			CollectionPath:  cfg.Storefront.CollectionPath,
			UserAgent:       cfg.Storefront.UserAgent,
			RequestInterval: cfg.Storefront.RequestInterval,
			MaxPages:        cfg.Storefront.MaxPages,
			MaxRetries:      cfg.Storefront.MaxRetries,
		}, &http.Client{Timeout: cfg.Storefront.RequestTimeout}, logger)
		if err != nil {
			return nil, err
		}
		return live, nil
	default:
		replay := source.NewReplay(cfg.Ingest.PayloadDir)
		pending, err := replay.Pending()
		if err != nil {
			return nil, err
		}
		logger.Info("Replaying captured payloads", zap.String("dir", cfg.Ingest.PayloadDir), zap.Int("files", pending))
		return replay, nil
	}
}

// runBatch drains the configured source once. SIGINT and SIGTERM stop the
// run after the product being written.
func runBatch(cfg *config.Config, logger *zap.Logger, pipeline *ingest.Pipeline) error {
	src, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := pipeline.Run(ctx, src); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Ingestion stopped by signal")
			return nil
		}
		return err
	}
	return nil
}

// serve accepts pushed products over HTTP until a shutdown signal arrives.
func serve(cfg *config.Config, logger *zap.Logger, pipeline *ingest.Pipeline, dbStore *store.PostgresStore) {
	httpAPIHandler := api.NewHTTPHandler(pipeline, dbStore, logger)

	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter, logger)
	httpAPIHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HttpServer.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe error", zap.Error(err))
		}
		logger.Info("HTTP server has stopped")
	}()

	grpcServer, healthServer := setupGRPCServer(logger)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.String("port", cfg.GrpcServer.Port), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.GrpcServer.Port))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Fatal("gRPC server Serve error", zap.Error(err))
		}
		logger.Info("gRPC server has stopped")
	}()

	waitForShutdown(logger, httpServer, grpcServer, healthServer)
	logger.Info("Service shutdown sequence finished")
}

func setupBaseMiddleware(router *chi.Mux, logger *zap.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func setupGRPCServer(logger *zap.Logger) (*grpc.Server, *health.Server) {
	s := grpc.NewServer()

	// Register gRPC Health Checking Protocol service.
	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	// Enable gRPC server reflection (useful for tools like grpcurl).
	reflection.Register(s)
	logger.Debug("gRPC health and reflection services registered")

	return s, healthServer
}

func waitForShutdown(logger *zap.Logger, httpServer *http.Server, grpcServer *grpc.Server, healthServer *health.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	receivedSignal := <-sigChan
	logger.Info("Received signal, starting graceful shutdown", zap.String("signal", receivedSignal.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	// Probes see NOT_SERVING while in-flight requests drain.
	healthServer.Shutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		logger.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		logger.Warn("gRPC server graceful shutdown timed out, forcing stop", zap.Error(shutdownCtx.Err()))
		grpcServer.Stop()
	}
}
