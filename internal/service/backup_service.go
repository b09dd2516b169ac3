package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/repository"
)

const backupFormatVersion = "1.0"

// BackupData is the complete export document
type BackupData struct {
	Version    string                    `json:"version"`
	ExportedAt time.Time                 `json:"exported_at"`
	SiteConfig *models.SiteConfiguration `json:"site_config"`
	Days       []models.DaySetting       `json:"days"`
	Records    []models.ProgressRecord   `json:"records"`
}

// ImportStats summarizes an import
type ImportStats struct {
	Records int `json:"records"`
	Days    int `json:"days"`
}

// BackupService handles export and restore of program data
type BackupService struct {
	progressRepo *repository.ProgressRepository
	settingsRepo *repository.SettingsRepository
	dayRepo      *repository.DayRepository
	log          *logger.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(progressRepo *repository.ProgressRepository, settingsRepo *repository.SettingsRepository, dayRepo *repository.DayRepository, log *logger.Logger) *BackupService {
	return &BackupService{progressRepo: progressRepo, settingsRepo: settingsRepo, dayRepo: dayRepo, log: log}
}

// Export writes every record (with daily logs), the day content and the site
// configuration to w as indented JSON.
func (s *BackupService) Export(ctx context.Context, w io.Writer) (*BackupData, error) {
	s.log.Info("Starting database export")

	backup := &BackupData{
		Version:    backupFormatVersion,
		ExportedAt: time.Now().UTC(),
	}

	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export site configuration: %w", err)
	}
	backup.SiteConfig = cfg

	if backup.Days, err = s.dayRepo.List(ctx); err != nil {
		return nil, fmt.Errorf("failed to export days: %w", err)
	}

	records, err := s.progressRepo.List(ctx, repository.ProgressFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to export records: %w", err)
	}
	for i := range records {
		logs, err := s.progressRepo.ListDailyLogs(ctx, records[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to export daily logs: %w", err)
		}
		records[i].DailyLogs = logs
	}
	backup.Records = records

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	s.log.Info("Database exported", "records", len(backup.Records), "days", len(backup.Days))
	return backup, nil
}

// Import restores a backup. With clear set every existing record is removed
// first; otherwise records in the backup replace ones with the same id.
func (s *BackupService) Import(ctx context.Context, r io.Reader, clear bool) (*ImportStats, error) {
	var backup BackupData
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if backup.Version != backupFormatVersion {
		return nil, fmt.Errorf("unsupported backup version %q", backup.Version)
	}
	s.log.Info("Starting database import", "exported_at", backup.ExportedAt, "clear", clear)

	if clear {
		if err := s.progressRepo.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear records: %w", err)
		}
	}

	stats := &ImportStats{}
	if backup.SiteConfig != nil {
		if err := s.settingsRepo.SaveSiteConfig(ctx, backup.SiteConfig); err != nil {
			return nil, fmt.Errorf("failed to import site configuration: %w", err)
		}
	}
	for i := range backup.Days {
		if err := s.dayRepo.Upsert(ctx, &backup.Days[i]); err != nil {
			return stats, fmt.Errorf("failed to import day %d: %w", backup.Days[i].Day, err)
		}
		stats.Days++
	}
	for i := range backup.Records {
		rec := &backup.Records[i]
		if rec.Version < 1 {
			rec.Version = 1
		}
		if err := s.progressRepo.Restore(ctx, rec); err != nil {
			return stats, fmt.Errorf("failed to import record %s: %w", rec.ID, err)
		}
		stats.Records++
	}

	s.log.Info("Database import completed", "records", stats.Records, "days", stats.Days)
	return stats, nil
}
