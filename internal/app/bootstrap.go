package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"roadpress-admin/internal/admission"
	"roadpress-admin/internal/auth"
	"roadpress-admin/internal/db"
	"roadpress-admin/internal/debuglog"
	"roadpress-admin/internal/license"
	"roadpress-admin/internal/maintenance"
	"roadpress-admin/internal/observability"
	"roadpress-admin/internal/password"
	"roadpress-admin/internal/pending"
	"roadpress-admin/internal/twofactor"
	"roadpress-admin/internal/user"
	"roadpress-admin/internal/web"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  Config
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations || cfg.RunMigrationsOnStartup {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	handler, err := newHandler(ctx, cfg, database, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func newHandler(ctx context.Context, cfg Config, database *sql.DB, logger *observability.Logger) (http.Handler, error) {
	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}
	cipher, err := twofactor.NewCipher(cfg.TwoFactorEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init two-factor cipher: %w", err)
	}
	engine := twofactor.NewEngine(cfg.TOTPIssuer, cipher)
	ledger := pending.NewLedger(cfg.SessionSecret, cfg.SecureCookies())

	userRepo := user.NewRepository(database)
	authRepo := auth.NewRepository(database)
	licenseRepo := license.NewRepository(database)
	debugLogRepo := debuglog.NewRepository(database)

	authService := auth.NewService(userRepo, authRepo, hasher, engine, cfg.SessionSecret, logger).
		WithSecurityConfig(cfg.LoginMaxAttempts, cfg.LoginLockDuration, cfg.SessionTTL)

	if err := bootstrapAdminFromEnv(ctx, authService, cfg, logger); err != nil {
		return nil, err
	}

	pages, err := web.NewPages(ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("parse page templates: %w", err)
	}

	authHandler := auth.NewHandler(authService, ledger, logger, cfg.SecureCookies(), cfg.AdminBootstrapSecret)
	pendingHandler := pending.NewHandler(ledger, logger, cfg.InternalAPISecret)
	plugins := license.NewPluginAuthenticator(licenseRepo, logger)
	licenseHandler := license.NewHandler(licenseRepo, logger)
	debugLogHandler := debuglog.NewHandler(debugLogRepo, logger)
	cleanupHandler := maintenance.NewCleanupHandler(authRepo, debugLogRepo, logger, cfg.CronSecret, cfg.CleanupRetention)
	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)
	if cfg.TrustProxyHeaders {
		loginLimiter.TrustForwardedFor()
	}

	requireSession := func(h http.HandlerFunc) http.Handler {
		return auth.RequireSession(authService, h)
	}
	requireAdmin := func(h http.HandlerFunc) http.Handler {
		return auth.RequireSession(authService, auth.RequireAdmin(h))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/2fa/verify", loginLimiter.Middleware(http.HandlerFunc(authHandler.VerifyTwoFactor)))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /api/auth/bootstrap", authHandler.Bootstrap)
	mux.Handle("GET /api/auth/me", requireSession(authHandler.Me))
	mux.Handle("GET /api/auth/2fa/status", requireSession(authHandler.TwoFactorStatus))
	mux.Handle("POST /api/auth/2fa/setup", requireSession(authHandler.SetupTwoFactor))
	mux.Handle("POST /api/auth/2fa/enable", requireSession(authHandler.EnableTwoFactor))
	mux.Handle("POST /api/auth/2fa/disable", requireSession(authHandler.DisableTwoFactor))
	mux.Handle("POST /api/auth/2fa/backup-codes", requireSession(authHandler.RegenerateBackupCodes))
	mux.HandleFunc("POST /api/auth/2fa/pending", pendingHandler.Create)
	mux.HandleFunc("GET /api/auth/2fa/pending", pendingHandler.Get)
	mux.HandleFunc("DELETE /api/auth/2fa/pending", pendingHandler.Delete)

	mux.Handle("POST /api/license/verify", plugins.Require(http.HandlerFunc(licenseHandler.Verify)))
	mux.Handle("POST /api/license/disassociate", plugins.Require(http.HandlerFunc(licenseHandler.Disassociate)))
	mux.Handle("POST /api/debug/logs", plugins.Require(http.HandlerFunc(debugLogHandler.Ingest)))

	mux.Handle("GET /api/licenses", requireAdmin(licenseHandler.ListLicenses))
	mux.Handle("POST /api/licenses", requireAdmin(licenseHandler.CreateLicense))
	mux.Handle("PATCH /api/licenses/{id}/status", requireAdmin(licenseHandler.UpdateStatus))
	mux.Handle("GET /api/debug-logs", requireSession(debugLogHandler.List))
	mux.Handle("GET /api/debug-logs/{id}", requireSession(debugLogHandler.Get))
	mux.Handle("DELETE /api/debug-logs/{id}", requireAdmin(debugLogHandler.Delete))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	mux.HandleFunc("GET /login", pages.Login)
	mux.HandleFunc("GET /login/2fa", pages.TwoFactor)
	mux.HandleFunc("GET /{$}", pages.Dashboard)
	mux.HandleFunc("GET /dashboard", pages.Dashboard)

	var handler http.Handler = admission.Middleware(admission.DefaultRules(), authService, logger, mux)
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	return observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, handler)), nil
}

// bootstrapAdminFromEnv creates the first admin from ADMIN_EMAIL and
// ADMIN_PASSWORD. It is a no-op once any admin exists.
func bootstrapAdminFromEnv(ctx context.Context, service *auth.Service, cfg Config, logger *observability.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	created, err := service.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if errors.Is(err, auth.ErrBootstrapComplete) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	logger.Info("admin_bootstrapped", map[string]any{"user_id": created.ID, "source": "env"})
	return nil
}
