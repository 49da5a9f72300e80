package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-service/config"
	"wallet-service/internal/adapter/cache"
	"wallet-service/internal/adapter/gateway/paystack"
	httpHandler "wallet-service/internal/adapter/http/handler"
	"wallet-service/internal/adapter/oauth"
	pgStorage "wallet-service/internal/adapter/storage/postgres"
	redisStorage "wallet-service/internal/adapter/storage/redis"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/service"
	"wallet-service/pkg/logger"
)

func main() {
	configPath := os.Getenv("WLT_CONFIG_FILE")

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting wallet service")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required (WLT_JWT_SECRET)")
	}
	if cfg.Paystack.SecretKey == "" {
		log.Warn().Msg("paystack.secret_key is empty: deposits and webhooks will be rejected")
	}

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	userRepo := pgStorage.NewUserRepo(pool)
	apiKeyRepo := pgStorage.NewAPIKeyRepo(pool)
	blacklistRepo := pgStorage.NewTokenBlacklistRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool, cfg.Database.LockTimeout)

	// Initialize Redis stores
	revokedStore := redisStorage.NewRevokedTokenStore(rdb)
	settledStore := redisStorage.NewSettledDepositStore(rdb)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService(cfg.Auth.Argon2)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	gateway := paystack.NewClient(cfg.Paystack, log)

	// Initialize business services
	auditSvc := service.NewAuditService(auditRepo, logger.Component(log, "audit"))
	revocationSvc := service.NewRevocationService(blacklistRepo, revokedStore, cfg.Auth.RevocationPurgeInterval, log)
	walletSvc := service.NewWalletService(walletRepo, txRepo, transactor, logger.Component(log, "wallet"))
	apiKeySvc := service.NewAPIKeyService(
		apiKeyRepo,
		userRepo,
		transactor,
		cache.NewAPIKeyCache(cfg.APIKey.CacheTTL),
		hashSvc,
		cfg.APIKey,
		logger.Component(log, "apikey"),
	)
	authSvc := service.NewAuthService(
		userRepo,
		walletSvc,
		hashSvc,
		tokenSvc,
		revocationSvc,
		apiKeySvc,
		cfg.Auth,
		logger.Component(log, "auth"),
	)
	depositSvc := service.NewDepositService(
		userRepo,
		walletRepo,
		txRepo,
		transactor,
		gateway,
		settledStore,
		logger.Component(log, "deposit"),
	)
	gate := service.NewAuthGate(tokenSvc, revocationSvc, userRepo, apiKeySvc, log)

	var oauthProvider ports.OAuthProvider
	if cfg.OAuth.Enabled() {
		oauthProvider = oauth.NewGoogleProvider(cfg.OAuth)
		log.Info().Msg("Google sign-in enabled")
	}

	deps := httpHandler.RouterDeps{
		AuthSvc:          authSvc,
		APIKeySvc:        apiKeySvc,
		WalletSvc:        walletSvc,
		DepositSvc:       depositSvc,
		Gate:             gate,
		SigSvc:           sigSvc,
		OAuth:            oauthProvider,
		AuditSvc:         auditSvc,
		HealthCheckers:   []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		PaystackSecret:   cfg.Paystack.SecretKey,
		ExposeResetToken: cfg.Auth.ExposeResetToken,
		Logger:           log,
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimitStore = redisStorage.NewRateLimitStore(rdb)
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(deps)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
