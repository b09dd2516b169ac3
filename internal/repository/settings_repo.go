package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coach21/internal/database"
	"coach21/internal/models"
)

const siteConfigKey = "site_configuration"

type SettingsRepository struct {
	db *database.DB
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetSetting retrieves a setting value by key. sql.ErrNoRows is returned unchanged when unset.
func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT setting_value FROM settings WHERE setting_key = ?`, key).Scan(&value)
	return value, err
}

// SetSetting updates or inserts a setting
func (r *SettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	query := r.db.Dialect.UpsertQuery("settings",
		[]string{"setting_key"},
		[]string{"setting_key", "setting_value", "updated_at"},
		[]string{"setting_value", "updated_at"},
	)
	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// HasSiteConfig reports whether a site configuration was ever saved
func (r *SettingsRepository) HasSiteConfig(ctx context.Context) (bool, error) {
	_, err := r.GetSetting(ctx, siteConfigKey)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check site configuration: %w", err)
	}
	return true, nil
}

// GetSiteConfig loads the site configuration singleton. An unset configuration
// is returned as an empty one (no active days).
func (r *SettingsRepository) GetSiteConfig(ctx context.Context) (*models.SiteConfiguration, error) {
	cfg := &models.SiteConfiguration{ActiveDays: models.DaySet{}, Days: map[int]models.DaySchedule{}}

	raw, err := r.GetSetting(ctx, siteConfigKey)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site configuration: %w", err)
	}
	if err := unmarshalColumn(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode site configuration: %w", err)
	}
	cfg.ActiveDays = models.NewDaySet(cfg.ActiveDays...)
	if cfg.Days == nil {
		cfg.Days = map[int]models.DaySchedule{}
	}
	return cfg, nil
}

// SaveSiteConfig replaces the site configuration singleton
func (r *SettingsRepository) SaveSiteConfig(ctx context.Context, cfg *models.SiteConfiguration) error {
	stored := *cfg
	stored.ActiveDays = models.NewDaySet(cfg.ActiveDays...)
	if stored.Days == nil {
		stored.Days = map[int]models.DaySchedule{}
	}
	raw, err := marshalColumn(stored)
	if err != nil {
		return fmt.Errorf("failed to encode site configuration: %w", err)
	}
	return r.SetSetting(ctx, siteConfigKey, raw)
}
