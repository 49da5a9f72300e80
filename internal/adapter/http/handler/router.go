package handler

import (
	"wallet-service/internal/adapter/http/middleware"
	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc          ports.AuthService
	APIKeySvc        ports.APIKeyService
	WalletSvc        ports.WalletService
	DepositSvc       ports.DepositService
	Gate             ports.AuthGate
	SigSvc           ports.SignatureService
	OAuth            ports.OAuthProvider       // nil = Google sign-in disabled
	RateLimitStore   middleware.RateLimitStore // nil = rate limiting disabled
	AuditSvc         ports.AuditService        // nil = audit logging disabled
	HealthCheckers   []ports.HealthChecker
	PaystackSecret   string
	ExposeResetToken bool
	Logger           zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	authn := middleware.Authenticate(deps.Gate, deps.Logger)
	userOnly := middleware.RequireUser()
	can := middleware.RequirePermission

	v1 := r.Group("/api/v1")

	// --- Credentials ---
	authHandler := NewAuthHandler(deps.AuthSvc, deps.OAuth, deps.ExposeResetToken, deps.Logger)
	auth := v1.Group("/auth")
	{
		auth.POST("/signup", rl(middleware.RuleSignup), authHandler.Signup)
		auth.POST("/login", rl(middleware.RuleLogin), authHandler.Login)
		auth.POST("/forgot-password", rl(middleware.RulePasswordFlow), authHandler.ForgotPassword)
		auth.POST("/reset-password", rl(middleware.RulePasswordFlow), authHandler.ResetPassword)
		auth.GET("/google", authHandler.GoogleLogin)
		auth.GET("/google/callback", rl(middleware.RuleLogin), authHandler.GoogleCallback)

		auth.GET("/me", authn, authHandler.Me)
		auth.POST("/logout", authn, userOnly, authHandler.Logout)
		auth.POST("/change-password", authn, userOnly, rl(middleware.RulePasswordFlow), authHandler.ChangePassword)
		auth.POST("/deactivate", authn, userOnly, authHandler.Deactivate)
	}

	// --- Service keys (user session only) ---
	keyHandler := NewAPIKeyHandler(deps.APIKeySvc)
	keys := v1.Group("/keys", authn, userOnly)
	{
		keys.POST("", rl(middleware.RuleWalletWrite), keyHandler.Create)
		keys.GET("", rl(middleware.RuleWalletRead), keyHandler.List)
		keys.POST("/rollover", rl(middleware.RuleWalletWrite), keyHandler.Rollover)
		keys.POST("/:id/revoke", rl(middleware.RuleWalletWrite), keyHandler.Revoke)
		keys.DELETE("/:id", rl(middleware.RuleWalletWrite), keyHandler.Delete)
	}

	// --- Wallet ---
	walletHandler := NewWalletHandler(deps.WalletSvc, deps.DepositSvc)
	webhookHandler := NewWebhookHandler(deps.DepositSvc, deps.Logger)

	// gateway callback authenticates by signature, not by principal
	v1.POST("/wallet/paystack/webhook",
		middleware.PaystackSignature(deps.SigSvc, deps.PaystackSecret, deps.Logger),
		webhookHandler.Paystack)

	wallet := v1.Group("/wallet", authn)
	{
		wallet.GET("/balance", can(domain.PermissionRead), rl(middleware.RuleWalletRead), walletHandler.GetBalance)
		wallet.GET("/transactions", can(domain.PermissionRead), rl(middleware.RuleWalletRead), walletHandler.ListTransactions)
		wallet.GET("/deposit/:reference/status", can(domain.PermissionRead), rl(middleware.RuleWalletRead), walletHandler.DepositStatus)
		wallet.POST("/deposit", can(domain.PermissionDeposit), rl(middleware.RuleWalletWrite), walletHandler.Deposit)
		wallet.POST("/transfer", can(domain.PermissionTransfer), rl(middleware.RuleWalletWrite), walletHandler.Transfer)
	}

	return r
}
