package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tmcalister/rampart/internal/auth"
	"github.com/tmcalister/rampart/internal/background"
	"github.com/tmcalister/rampart/internal/config"
	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/geo"
	"github.com/tmcalister/rampart/internal/handlers"
	"github.com/tmcalister/rampart/internal/repositories"
	"github.com/tmcalister/rampart/internal/routes"
	"github.com/tmcalister/rampart/internal/services"
	pkglogger "github.com/tmcalister/rampart/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate("migrations"); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	codeRepo := repositories.NewEmergencyCodeRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Security logging
	seclog := pkglogger.NewSecurityLogger(logger)

	// TOTP secrets at rest. Development falls back to an ephemeral key;
	// enrollments will not survive a restart without a configured one.
	totpKey := cfg.Risk.TOTPEncryptionKey
	if len(totpKey) == 0 {
		totpKey = make([]byte, 32)
		if _, err := rand.Read(totpKey); err != nil {
			logger.Error("failed to generate ephemeral totp key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("TOTP_ENCRYPTION_KEY not set, using ephemeral key")
	}
	totpManager, err := auth.NewTOTPManager(totpKey, "rampart")
	if err != nil {
		logger.Error("failed to initialize totp manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Geolocation is best-effort; without a provider configured every
	// lookup resolves to unknown
	var resolver geo.Resolver = geo.NoopResolver{}

	// AWS SES notifications
	notifier, err := services.NewAWSSESNotifier(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize notifier", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	auditService := services.NewAuditService(auditRepo, logger)
	riskService := services.NewRiskService(attemptRepo, cfg.Risk, logger)
	throttleService := services.NewThrottleService(
		accountRepo, attemptRepo, riskService, auditService,
		notifier, resolver, seclog, logger, cfg.Throttle,
	)
	monitorService := services.NewMonitorService(
		attemptRepo, alertRepo, auditService, notifier,
		logger, cfg.Monitor, cfg.Email.AdminAddress,
	)
	emergencyService := services.NewEmergencyService(
		codeRepo, accountRepo, auditService, notifier,
		seclog, logger, cfg.Emergency,
	)
	secondFactorService := services.NewSecondFactorService(
		accountRepo, attemptRepo, totpManager, auditService,
		seclog, logger, cfg.Throttle.RetentionWindow,
	)

	// Background workers
	monitorScheduler := background.NewMonitorScheduler(monitorService, logger, cfg.Monitor.CheckInterval)
	cleanupManager := background.NewCleanupManager(attemptRepo, codeRepo, logger, 1*time.Hour)

	// Initialize handlers
	attemptHandler := handlers.NewAttemptHandler(throttleService, secondFactorService, emergencyService)
	adminHandler := handlers.NewAdminHandler(throttleService, monitorService, emergencyService, secondFactorService, auditService)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, attemptHandler, adminHandler)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go monitorScheduler.Start(workerCtx)
	go cleanupManager.Start(workerCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	workerCancel()
	monitorScheduler.Stop()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
