package main

import (
	"context"
	"fmt"
	"time"

	"coach21/internal/config"
	"coach21/internal/database"
	"coach21/internal/logger"
	"coach21/internal/progression"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/service"
)

// app is the slice of the server's wiring the CLI needs
type app struct {
	db     *database.DB
	log    *logger.Logger
	backup *service.BackupService
	admin  *service.AdminService
	auth   *service.AuthService
}

func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	log, err := logger.New("dev")
	if err != nil {
		return nil, err
	}
	mode, err := progression.ParseMode(cfg.UnlockMode)
	if err != nil {
		return nil, err
	}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(ctx, nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	progressRepo := repository.NewProgressRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	dayRepo := repository.NewDayRepository(db)
	opts := service.ProgressOptions{Mode: mode, Location: cfg.Location(), LockTTL: cfg.SubmissionLockTTL}

	return &app{
		db:     db,
		log:    log,
		backup: service.NewBackupService(progressRepo, settingsRepo, dayRepo, log),
		admin:  service.NewAdminService(progressRepo, settingsRepo, dayRepo, security.NewResetConfirmer(cfg.ResetTokenSecret, time.Minute), opts, log),
		auth:   service.NewAuthService(repository.NewUserRepository(db), cfg.SessionDuration),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Sync()
}
