package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/qistpay/authcore/internal/auth"
	"github.com/qistpay/authcore/internal/background"
	"github.com/qistpay/authcore/internal/config"
	"github.com/qistpay/authcore/internal/database"
	"github.com/qistpay/authcore/internal/handlers"
	"github.com/qistpay/authcore/internal/metrics"
	middlewareCustom "github.com/qistpay/authcore/internal/middleware"
	"github.com/qistpay/authcore/internal/ratelimit"
	"github.com/qistpay/authcore/internal/repositories"
	"github.com/qistpay/authcore/internal/risk"
	"github.com/qistpay/authcore/internal/routes"
	"github.com/qistpay/authcore/internal/security"
	"github.com/qistpay/authcore/internal/services"
	pkglogger "github.com/qistpay/authcore/pkg/logger"
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

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	resetTokenRepo := repositories.NewResetTokenRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)

	// Metrics registry
	metrics.Register(prometheus.DefaultRegisterer)

	// Security event feed with audit and metrics sinks
	auditLogger := pkglogger.NewAuditLogger(logger)
	feed := security.NewMemoryFeed(
		cfg.RateLimit.FeedRetention,
		cfg.RateLimit.FeedMaxEvents,
		security.WithSinks(security.NewAuditSink(logger), metrics.FeedSink{}),
	)

	// Adaptive rate limiter
	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.ThreatWindow = cfg.RateLimit.ThreatWindow
	limiterConfig.BlockDuration = cfg.RateLimit.BlockDuration
	limiterConfig.SweepRetention = cfg.RateLimit.SweepRetention

	var limiterStore ratelimit.StateStore
	if cfg.RateLimit.Backend == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		entryTTL := cfg.RateLimit.ThreatWindow + cfg.RateLimit.SweepRetention
		limiterStore = ratelimit.NewRedisStore(redisClient, entryTTL, logger)
		logger.Info("rate limiter using redis backend", slog.String("addr", cfg.Redis.Addr))
	} else {
		limiterStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(limiterStore, feed, limiterConfig, logger)

	// Risk scoring engine
	profiles := risk.NewProfileStore()
	riskEngine := risk.NewEngine(profiles, feed, risk.DefaultConfig(), logger)

	// Token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	// TOTP manager for step-up verification
	if cfg.Auth.TOTPEncryptionKey == "" {
		logger.Error("TOTP_ENCRYPTION_KEY is required")
		os.Exit(1)
	}
	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.ResetURLBase,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	resetService := services.NewPasswordResetService(
		resetTokenRepo,
		feed,
		logger,
		cfg.Reset.TokenTTL,
		cfg.Reset.TokenRetention,
		cfg.Reset.DBTimeout,
	)
	authService := services.NewAuthService(
		userRepo,
		loginAttemptRepo,
		riskEngine,
		limiter,
		feed,
		tokenManager,
		totpManager,
		timingDelay,
		logger,
		auditLogger,
		cfg.Auth.AttemptRetention,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	resetHandler := handlers.NewPasswordResetHandler(resetService, userRepo, emailService, logger, auditLogger)
	mfaHandler := handlers.NewMFAHandler(authService)
	adminHandler := handlers.NewAdminHandler(limiter, profiles, logger, auditLogger)

	// Maintenance runner: token cleanup, attempt purge, limiter sweep
	maintenance := background.NewMaintenanceRunner(
		resetService,
		loginAttemptRepo,
		limiter,
		logger,
		cfg.Reset.CleanupInterval,
		cfg.RateLimit.SweepInterval,
	)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(
		router,
		authHandler,
		resetHandler,
		mfaHandler,
		adminHandler,
		tokenManager,
		userRepo,
		limiter,
		middlewareCustom.EdgeLimitConfig{RequestsPerMinute: cfg.RateLimit.EdgeRequestsPerMinute},
	)

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

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start maintenance loop
	maintenanceCtx, maintenanceCancel := context.WithCancel(context.Background())
	defer maintenanceCancel()

	go maintenance.Start(maintenanceCtx)

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

	maintenanceCancel()
	maintenance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
