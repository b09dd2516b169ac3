package service

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/repository"
	"coach21/internal/validation"
)

// ContentFile is the layout of the day content seed file
type ContentFile struct {
	ActiveDays []int                      `yaml:"active_days"`
	Schedule   map[int]models.DaySchedule `yaml:"schedule"`
	Days       []models.DaySetting        `yaml:"days"`
}

// ContentService seeds day content and the initial site configuration
type ContentService struct {
	dayRepo      *repository.DayRepository
	settingsRepo *repository.SettingsRepository
	log          *logger.Logger
}

func NewContentService(dayRepo *repository.DayRepository, settingsRepo *repository.SettingsRepository, log *logger.Logger) *ContentService {
	return &ContentService{dayRepo: dayRepo, settingsRepo: settingsRepo, log: log}
}

// LoadContentFile parses and validates a seed file
func LoadContentFile(path string) (*ContentFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	var file ContentFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse content file: %w", err)
	}
	for _, d := range file.Days {
		if err := validation.ValidateDay(d.Day); err != nil {
			return nil, fmt.Errorf("content file: %w", err)
		}
	}
	if err := validation.ValidateDays(file.ActiveDays); err != nil {
		return nil, fmt.Errorf("content file: %w", err)
	}
	return &file, nil
}

// Seed loads path into empty tables. Existing day content or an already
// saved site configuration is never overwritten. It returns the number of
// days inserted.
func (s *ContentService) Seed(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.log.Info("No content file found, skipping seed", "path", path)
		return 0, nil
	}

	file, err := LoadContentFile(path)
	if err != nil {
		return 0, err
	}

	inserted := 0
	count, err := s.dayRepo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		for i := range file.Days {
			d := file.Days[i]
			if d.Prompts == nil {
				d.Prompts = []string{}
			}
			if err := s.dayRepo.Upsert(ctx, &d); err != nil {
				return inserted, err
			}
			inserted++
		}
	}

	hasConfig, err := s.settingsRepo.HasSiteConfig(ctx)
	if err != nil {
		return inserted, err
	}
	if !hasConfig && len(file.ActiveDays) > 0 {
		cfg := &models.SiteConfiguration{
			ActiveDays: models.NewDaySet(file.ActiveDays...),
			Days:       file.Schedule,
		}
		if err := s.settingsRepo.SaveSiteConfig(ctx, cfg); err != nil {
			return inserted, err
		}
		s.log.Info("Seeded site configuration", "active_days", len(cfg.ActiveDays))
	}

	if inserted > 0 {
		s.log.Info("Seeded day content", "days", inserted, "path", path)
	}
	return inserted, nil
}
