package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/zerovault/internal/api"
	"github.com/kenneth/zerovault/internal/audit"
	"github.com/kenneth/zerovault/internal/config"
	"github.com/kenneth/zerovault/internal/crypto"
	"github.com/kenneth/zerovault/internal/gate"
	"github.com/kenneth/zerovault/internal/metrics"
	"github.com/kenneth/zerovault/internal/middleware"
	"github.com/kenneth/zerovault/internal/store"
	"github.com/kenneth/zerovault/internal/tracing"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level from config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
	}).Info("Starting ZeroVault")

	// Initialize tracing
	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	// Initialize metrics
	m := metrics.NewMetrics()

	// Initialize access gate
	accessGate, err := gate.NewLocalGate(cfg.Gate.PrimaryCredential, cfg.Gate.SecondaryCredentials, cfg.Gate.GrantTTL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create access gate")
	}

	// Initialize ciphertext store
	var ciphertextStore store.CiphertextStore
	switch cfg.Store.Backend {
	case "s3":
		ciphertextStore, err = store.NewS3Store(context.Background(), cfg.Store.S3, accessGate)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create S3 store")
		}
		logger.WithFields(logrus.Fields{
			"bucket":   cfg.Store.S3.Bucket,
			"endpoint": cfg.Store.S3.Endpoint,
		}).Info("Using S3 ciphertext store")
	default:
		ciphertextStore = store.NewMemoryStore(accessGate)
		logger.Info("Using in-memory ciphertext store")
	}

	// Initialize encryption engine
	engine, err := crypto.NewEngine(
		crypto.WithAlgorithm(cfg.Vault.Algorithm),
		crypto.WithChunkSize(cfg.Vault.ChunkSize),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create encryption engine")
	}

	// Initialize audit logger
	auditLogger := audit.NewLogger(cfg.Audit.MaxEvents, audit.NewLogrusWriter(logger))
	logger.WithField("max_events", cfg.Audit.MaxEvents).Info("Audit logging enabled")

	// Watch the config file for safe-to-apply changes
	reloader, err := config.NewConfigReloader(configPath, cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("Config reloader unavailable, continuing without hot reload")
	} else {
		defer reloader.Stop()
	}

	// Initialize API handler
	handler := api.NewHandler(engine, ciphertextStore, accessGate, auditLogger, m, logger, cfg.Vault.TextPreviewLimit)

	// Setup router
	router := mux.NewRouter()

	// Register metrics endpoint
	router.Handle("/metrics", m.Handler()).Methods("GET")

	// Register API routes
	handler.RegisterRoutes(router)

	// Apply middleware
	httpHandler := middleware.Recovery(logger)(router)
	httpHandler = middleware.Logging(logger, m)(httpHandler)
	httpHandler = middleware.SecurityHeaders()(httpHandler)
	if cfg.Tracing.Enabled {
		httpHandler = middleware.Tracing()(httpHandler)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpHandler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	} else {
		logger.Info("Server stopped gracefully")
	}

	if err := shutdownTracing(ctx); err != nil {
		logger.WithError(err).Error("Tracing shutdown failed")
	}
}
