package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/ads"
	"github.com/adpilot-io/adpilot-engine/pkg/auth"
	"github.com/adpilot-io/adpilot-engine/pkg/config"
	"github.com/adpilot-io/adpilot-engine/pkg/crypto"
	"github.com/adpilot-io/adpilot-engine/pkg/database"
	"github.com/adpilot-io/adpilot-engine/pkg/handlers"
	"github.com/adpilot-io/adpilot-engine/pkg/llm"
	"github.com/adpilot-io/adpilot-engine/pkg/logging"
	"github.com/adpilot-io/adpilot-engine/pkg/middleware"
	"github.com/adpilot-io/adpilot-engine/pkg/repositories"
	"github.com/adpilot-io/adpilot-engine/pkg/retry"
	"github.com/adpilot-io/adpilot-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Database),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Bool("ai_configured", cfg.AI.IsConfigured()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// The database may still be coming up when we are; retry the
	// initial connection instead of crash-looping.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	cipher, err := crypto.NewTokenCipher(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to create token cipher", zap.Error(err))
	}

	gateway := ads.NewGoogleGateway(ads.Config{
		DeveloperToken:  cfg.GoogleAds.DeveloperToken,
		ClientID:        cfg.GoogleAds.ClientID,
		ClientSecret:    cfg.GoogleAds.ClientSecret,
		LoginCustomerID: cfg.GoogleAds.LoginCustomerID,
		Endpoint:        cfg.GoogleAds.Endpoint,
		Timeout:         time.Duration(cfg.GoogleAds.TimeoutSeconds) * time.Second,
	}, logger)

	recommendationRepo := repositories.NewRecommendationRepository()
	campaignRepo := repositories.NewCampaignRepository()
	applyRunRepo := repositories.NewApplyRunRepository()
	adsAccountRepo := repositories.NewAdsAccountRepository()
	auditRepo := repositories.NewAuditLogRepository()

	guardrails := services.NewGuardrailService(cfg.Guardrails)
	applyService := services.NewApplyService(
		recommendationRepo, campaignRepo, applyRunRepo, adsAccountRepo, auditRepo,
		gateway, guardrails, cipher, logger)
	recommendationService := services.NewRecommendationService(recommendationRepo, logger)
	syncService := services.NewSyncService(adsAccountRepo, campaignRepo, gateway, cipher, logger)

	var generator handlers.Generator
	if cfg.AI.IsConfigured() {
		llmClient, err := llm.NewClient(cfg.AI)
		if err != nil {
			logger.Fatal("Failed to create LLM client", zap.Error(err))
		}
		logger.Info("AI generation enabled", zap.String("model", llmClient.Model()))
		generator = services.NewRecommendationGenerator(campaignRepo, recommendationRepo, llmClient, logger)
	} else {
		logger.Warn("AI generation disabled; AI_MODEL or AI_API_KEY not set")
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantContext(db, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewRecommendationsHandler(recommendationService, applyService, generator, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewCampaignsHandler(campaignRepo, syncService, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewApplyRunsHandler(applyRunRepo, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewAuditHandler(auditRepo, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting adpilot-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer migrationDB.Close()

	return database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger)
}
