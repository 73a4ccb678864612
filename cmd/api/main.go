package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/kpessa/delphi-webapp/docs" // This is for Swagger
	"github.com/kpessa/delphi-webapp/internal/auth"
	"github.com/kpessa/delphi-webapp/internal/config"
	"github.com/kpessa/delphi-webapp/internal/database"
	"github.com/kpessa/delphi-webapp/internal/email"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/handlers"
	"github.com/kpessa/delphi-webapp/internal/logger"
	"github.com/kpessa/delphi-webapp/internal/middleware"
	"github.com/kpessa/delphi-webapp/internal/repository"
	"github.com/kpessa/delphi-webapp/internal/scheduler"
	"github.com/kpessa/delphi-webapp/internal/service"
	"github.com/kpessa/delphi-webapp/internal/vault"

	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Delphi API
// @version 1.0
// @description Backend API for Delphi-method expert panels: topics, feedback rounds, consensus and notifications
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@delphi.example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the identity provider's ID token.

//go:generate swag init -g cmd/api/main.go -d ../.. -o ../../docs

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logger
	logger.Setup(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.App.Name,
	})

	slog.Info("Starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
		"log_level", cfg.Log.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets from Vault override values from the environment
	if cfg.Vault.Enabled {
		vaultClient, err := vault.NewClient(&cfg.Vault)
		if err != nil {
			slog.Error("Failed to initialize Vault client", "error", err)
			os.Exit(1)
		}
		secrets, err := vaultClient.LoadSecrets(ctx)
		if err != nil {
			slog.Error("Failed to load secrets from Vault", "path", cfg.Vault.SecretPath, "error", err)
			os.Exit(1)
		}
		cfg.ApplySecrets(secrets)
		slog.Info("Loaded secrets from Vault", "vault_addr", cfg.Vault.Address, "keys", len(secrets))
	} else {
		slog.Info("Vault is disabled - using secrets from the environment")
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func(db *database.Database) {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}(db)

	slog.Info("Database connection established")

	// Run database migrations
	migrator := database.NewMigrationExecutor(db.DB)
	applied, err := migrator.RunMigrations(ctx, cfg.Database.MigrationsPath)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations completed", "applied", applied)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db.DB)
	panelRepo := repository.NewPanelRepository(db.DB)
	expertRepo := repository.NewExpertRepository(db.DB)
	invitationRepo := repository.NewInvitationRepository(db.DB)
	topicRepo := repository.NewTopicRepository(db.DB)
	roundRepo := repository.NewRoundRepository(db.DB)
	feedbackRepo := repository.NewFeedbackRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)
	preferencesRepo := repository.NewPreferencesRepository(db.DB)
	digestRepo := repository.NewDigestRepository(db.DB)

	// Initialize services
	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		slog.Error("Failed to initialize token verifier", "error", err)
		os.Exit(1)
	}
	emailService := email.NewService(&cfg.Email)
	if !emailService.Configured() {
		slog.Warn("SMTP is not configured - invitation and notification emails are disabled")
	}

	catalog, err := service.DefaultNotificationCatalog()
	if err != nil {
		slog.Error("Failed to load notification templates", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()

	llmService := service.NewLLMService(cfg.LLM)
	if !llmService.Enabled() {
		slog.Warn("LLM is not configured - topic extraction and round summaries are unavailable")
	}
	aiService := service.NewAIService(llmService, feedbackRepo, cfg.LLM)
	panelService := service.NewPanelService(panelRepo, expertRepo)
	topicService := service.NewTopicService(topicRepo, panelRepo, aiService, bus)
	roundService := service.NewRoundService(db.DB, topicRepo, roundRepo, panelRepo, feedbackRepo,
		aiService, bus, cfg.Consensus.ReachedThreshold)
	feedbackService := service.NewFeedbackService(db.DB, feedbackRepo, topicRepo, roundRepo, panelRepo, bus)
	invitationService := service.NewInvitationService(db.DB, panelRepo, expertRepo, invitationRepo,
		userRepo, emailService, emailService.AppURL(), bus)
	trendService := service.NewTrendService(topicRepo, panelRepo, roundRepo, feedbackRepo)
	exportService := service.NewExportService(trendService)

	notificationLimiter := middleware.NewUserLimiter(&cfg.NotificationLimit)
	notificationService := service.NewNotificationService(service.NotificationDeps{
		Store:             notificationRepo,
		Preferences:       preferencesRepo,
		Digests:           digestRepo,
		Users:             userRepo,
		Topics:            topicRepo,
		Panels:            panelRepo,
		Mailer:            emailService,
		Limiter:           notificationLimiter,
		Catalog:           catalog,
		AppURL:            emailService.AppURL(),
		DigestConcurrency: cfg.Scheduler.DigestConcurrency,
	})
	notificationService.RegisterTriggers(bus)

	// Initialize scheduler
	schedulerService := scheduler.NewScheduler(notificationService, invitationService, notificationService, &cfg.Scheduler)
	schedulerService.Start(ctx)
	defer schedulerService.Stop()

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(authService, userRepo)
	corsMw := middleware.NewCORSMiddleware(&cfg.CORS)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit)
	defer rateLimiter.Stop()

	// Initialize handlers
	aiHandler := handlers.NewAIHandler(aiService, topicService)
	panelHandler := handlers.NewPanelHandler(panelService)
	invitationHandler := handlers.NewInvitationHandler(invitationService)
	topicHandler := handlers.NewTopicHandler(topicService)
	roundHandler := handlers.NewRoundHandler(roundService, trendService, exportService)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService)
	notificationHandler := handlers.NewNotificationHandler(notificationService, authService)

	protected := func(h http.HandlerFunc) http.Handler {
		return authMw.Authenticate(h)
	}

	// Setup router
	mux := http.NewServeMux()

	// AI callables
	mux.Handle("POST /api/v1/ai/extract-topic", protected(aiHandler.ExtractTopic))
	mux.Handle("POST /api/v1/ai/round-summary", protected(aiHandler.RoundSummary))

	// Panel routes
	mux.Handle("POST /api/v1/panels", protected(panelHandler.Create))
	mux.Handle("GET /api/v1/panels", protected(panelHandler.List))
	mux.Handle("GET /api/v1/panels/{id}", protected(panelHandler.Get))
	mux.Handle("POST /api/v1/panels/{id}/archive", protected(panelHandler.Archive))
	mux.Handle("GET /api/v1/panels/{id}/experts", protected(panelHandler.ListExperts))
	mux.Handle("DELETE /api/v1/panels/{id}/experts/{userId}", protected(panelHandler.RemoveExpert))
	mux.Handle("POST /api/v1/panels/{id}/invitations", protected(invitationHandler.Invite))
	mux.Handle("GET /api/v1/panels/{id}/invitations", protected(invitationHandler.List))

	// Invitation routes. Looking up an invitation by its token is public.
	mux.HandleFunc("GET /api/v1/invitations/{token}", invitationHandler.Get)
	mux.Handle("POST /api/v1/invitations/send-email", protected(invitationHandler.SendEmail))
	mux.Handle("POST /api/v1/invitations/{token}/accept", protected(invitationHandler.Accept))
	mux.Handle("POST /api/v1/invitations/{token}/decline", protected(invitationHandler.Decline))
	mux.Handle("POST /api/v1/invitations/{id}/resend", protected(invitationHandler.Resend))
	mux.Handle("POST /api/v1/invitations/{id}/cancel", protected(invitationHandler.Cancel))

	// Topic routes
	mux.Handle("POST /api/v1/topics", protected(topicHandler.Create))
	mux.Handle("GET /api/v1/topics", protected(topicHandler.List))
	mux.Handle("GET /api/v1/topics/{id}", protected(topicHandler.Get))
	mux.Handle("PUT /api/v1/topics/{id}", protected(topicHandler.Update))
	mux.Handle("DELETE /api/v1/topics/{id}", protected(topicHandler.Delete))

	// Round lifecycle routes
	mux.Handle("POST /api/v1/topics/{id}/open", protected(roundHandler.Open))
	mux.Handle("POST /api/v1/topics/{id}/rounds", protected(roundHandler.Advance))
	mux.Handle("POST /api/v1/topics/{id}/rounds/{n}/close", protected(roundHandler.Close))
	mux.Handle("POST /api/v1/topics/{id}/complete", protected(roundHandler.Complete))
	mux.Handle("GET /api/v1/topics/{id}/rounds", protected(roundHandler.List))
	mux.Handle("GET /api/v1/topics/{id}/rounds/current", protected(roundHandler.Current))
	mux.Handle("GET /api/v1/topics/{id}/rounds/{n}/consensus", protected(roundHandler.Consensus))
	mux.Handle("GET /api/v1/topics/{id}/rounds/{n}/export", protected(roundHandler.Export))
	mux.Handle("GET /api/v1/topics/{id}/trends", protected(roundHandler.Trends))

	// Feedback routes
	mux.Handle("POST /api/v1/topics/{id}/feedback", protected(feedbackHandler.Submit))
	mux.Handle("GET /api/v1/topics/{id}/feedback", protected(feedbackHandler.List))
	mux.Handle("GET /api/v1/topics/{id}/feedback/previous-agreements", protected(feedbackHandler.PreviousAgreements))
	mux.Handle("PUT /api/v1/feedback/{id}/agreement", protected(feedbackHandler.SetAgreement))
	mux.Handle("POST /api/v1/feedback/{id}/vote", protected(feedbackHandler.Vote))

	// Notification routes
	mux.Handle("POST /api/v1/notifications", protected(notificationHandler.Create))
	mux.Handle("GET /api/v1/notifications", protected(notificationHandler.List))
	mux.Handle("GET /api/v1/notifications/unread-count", protected(notificationHandler.UnreadCount))
	mux.Handle("POST /api/v1/notifications/{id}/read", protected(notificationHandler.MarkRead))
	mux.Handle("POST /api/v1/notifications/read-all", protected(notificationHandler.MarkAllRead))
	mux.Handle("GET /api/v1/notifications/preferences", protected(notificationHandler.GetPreferences))
	mux.Handle("PUT /api/v1/notifications/preferences", protected(notificationHandler.UpdatePreferences))
	mux.Handle("POST /api/v1/notifications/stream-ticket", protected(notificationHandler.StreamTicket))
	mux.Handle("GET /api/v1/notifications/stream",
		authMw.AuthenticateStream(http.HandlerFunc(notificationHandler.Stream)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(r.Context()); err != nil {
			slog.Warn("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte(`{"status":"unhealthy","database":"error"}`)); err != nil {
				slog.Error("Failed to write health check response", "error", err)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy","version":"` + cfg.App.Version + `"}`)); err != nil {
			slog.Error("Failed to write health check response", "error", err)
		}
	})

	// Swagger documentation
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	// Apply global middleware
	handler := middleware.LoggingMiddleware(
		middleware.SecurityHeaders(
			corsMw.Handler(
				rateLimiter.Limit(mux),
			),
		),
	)

	// Create server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.TimeoutRead,
		WriteTimeout: cfg.Server.TimeoutWrite,
		IdleTimeout:  cfg.Server.TimeoutIdle,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
	}

	slog.Info("Server shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
