package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"coach21/internal/config"
	"coach21/internal/database"
	"coach21/internal/guard"
	"coach21/internal/handlers"
	"coach21/internal/logger"
	"coach21/internal/progression"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	mode := "dev"
	if cfg.IsProduction() {
		mode = "prod"
	}
	log, err := logger.New(mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	unlockMode, err := progression.ParseMode(cfg.UnlockMode)
	if err != nil {
		log.Fatal("Invalid unlock mode", "unlock_mode", cfg.UnlockMode, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database (sqlite, postgres or mysql)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close()
	log.Info("Database connection established", "type", cfg.DatabaseType)

	if err := db.RunMigrations(ctx, nil); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	log.Info("Migrations completed successfully")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	dayRepo := repository.NewDayRepository(db)
	revivalRepo := repository.NewRevivalRepository(db)
	chatRepo := repository.NewChatRepository(db)

	// Submission guard: Redis when shared across instances, in-process otherwise
	var submissionGuard guard.SubmissionGuard = guard.NewMemoryGuard()
	if cfg.RedisAddr != "" {
		redisGuard, err := guard.NewRedisGuard(cfg.RedisAddr)
		if err != nil {
			log.Fatal("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer redisGuard.Close()
		submissionGuard = redisGuard
		log.Info("Using Redis submission guard", "addr", cfg.RedisAddr)
	}

	// LINE Messaging API
	var bot *linebot.Client
	var messenger service.LineMessenger
	var parser handlers.EventParser
	if cfg.LineChannelSecret != "" && cfg.LineChannelAccessToken != "" {
		bot, err = linebot.New(cfg.LineChannelSecret, cfg.LineChannelAccessToken)
		if err != nil {
			log.Fatal("Failed to create LINE client", "error", err)
		}
		messenger = service.NewLineMessenger(bot)
		parser = bot
	} else {
		log.Warn("LINE Messaging API not configured; notifications and webhook disabled")
	}

	// Generative suggestions fall back to canned text without an API key
	var generator service.Generator
	if cfg.GenAIAPIKey != "" {
		generator, err = service.NewGenAIGenerator(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			log.Warn("Failed to create GenAI client; using fallback suggestions", "error", err)
		}
	}

	emailService, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AdminEmail, cfg.AppBaseURL, log)
	if err != nil {
		log.Warn("Failed to initialize email service", "error", err)
		emailService = service.NewEmailServiceWithClient(nil, "", "", "", "", log)
	}
	notifier := service.NewNotificationService(messenger, log)

	// Initialize services
	opts := service.ProgressOptions{
		Mode:     unlockMode,
		Location: cfg.Location(),
		LockTTL:  cfg.SubmissionLockTTL,
	}
	liffVerifier := security.NewLineIDVerifier(cfg.LineChannelID, cfg.LineChannelSecret)
	suggester := service.NewSuggestionService(generator, cfg.GenAITimeout, log)
	authService := service.NewAuthService(userRepo, cfg.SessionDuration)
	progressService := service.NewProgressService(progressRepo, settingsRepo, dayRepo, submissionGuard, liffVerifier, notifier, suggester, opts, log)
	adminService := service.NewAdminService(progressRepo, settingsRepo, dayRepo, security.NewResetConfirmer(cfg.ResetTokenSecret, 5*time.Minute), opts, log)
	revivalService := service.NewRevivalService(revivalRepo, progressRepo, emailService, notifier, cfg.RevivalMinLength, log)
	chatService := service.NewChatService(chatRepo, progressRepo, notifier, suggester, log)
	contentService := service.NewContentService(dayRepo, settingsRepo, log)

	// Seed day content on first boot
	if n, err := contentService.Seed(ctx, cfg.ContentPath); err != nil {
		log.Warn("Failed to seed day content", "path", cfg.ContentPath, "error", err)
	} else if n > 0 {
		log.Info("Seeded day content", "days", n)
	}

	// Initialize handlers
	tokens := security.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	csrf := security.NewCSRFGenerator(cfg.CSRFSecret)
	middleware := handlers.NewMiddleware(authService, tokens, csrf, log)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, handlers.Routes{
		Middleware:  middleware,
		Participant: handlers.NewParticipantHandler(progressService, revivalService, tokens, log),
		Admin:       handlers.NewAdminHandler(adminService, revivalService, chatService, log),
		Auth: handlers.NewAuthHandler(authService, csrf,
			handlers.NewLineLoginConfig(cfg.LineLoginChannelID, cfg.LineLoginChannelSecret),
			security.NewLineIDVerifier(cfg.LineLoginChannelID, cfg.LineLoginChannelSecret),
			cfg.OAuthRedirectBaseURL, log),
		Webhook:        handlers.NewWebhookHandler(parser, chatService, log),
		SessionLimiter: security.NewRateLimiter(ctx, 20, time.Minute),
	})

	// Wrap with logging middleware
	handler := handlers.Logging(log, mux)

	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background session cleanup
	go cleanupExpiredSessions(ctx, authService, log)
	go enforceDeadlines(ctx, progressService, cfg.DeadlineSweepInterval, log)

	go func() {
		log.Info("Server starting", "addr", addr, "unlock_mode", unlockMode.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}

	// Let in-flight pushes and emails finish
	notifier.Close()
	emailService.Close()
}

// cleanupExpiredSessions periodically removes expired admin sessions
func cleanupExpiredSessions(ctx context.Context, authService *service.AuthService, log *logger.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authService.CleanupExpiredSessions(ctx)
			if err != nil {
				log.Error("Error cleaning up expired sessions", "error", err)
				continue
			}
			log.Info("Expired sessions cleaned up", "count", n)
		}
	}
}

// enforceDeadlines periodically locks participants who missed an assignment deadline
func enforceDeadlines(ctx context.Context, progressService *service.ProgressService, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		log.Info("Deadline lockout sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := progressService.EnforceDeadlines(ctx)
			if err != nil {
				log.Error("Error enforcing deadlines", "error", err)
				continue
			}
			if n > 0 {
				log.Info("Participants locked after missed deadlines", "count", n)
			}
		}
	}
}
