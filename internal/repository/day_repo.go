package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coach21/internal/database"
	"coach21/internal/models"
)

// DayRepository stores per-day content
type DayRepository struct {
	db *database.DB
}

func NewDayRepository(db *database.DB) *DayRepository {
	return &DayRepository{db: db}
}

const dayColumns = "day, title, prompts, video_url, reward_url, reward_message"

func scanDay(row rowScanner) (*models.DaySetting, error) {
	var (
		d       models.DaySetting
		prompts string
	)
	if err := row.Scan(&d.Day, &d.Title, &prompts, &d.VideoURL, &d.RewardURL, &d.RewardMessage); err != nil {
		return nil, err
	}
	d.Prompts = []string{}
	if err := unmarshalColumn(prompts, &d.Prompts); err != nil {
		return nil, fmt.Errorf("failed to decode prompts: %w", err)
	}
	return &d, nil
}

// List returns all day settings ordered by day
func (r *DayRepository) List(ctx context.Context) ([]models.DaySetting, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+dayColumns+" FROM day_settings ORDER BY day")
	if err != nil {
		return nil, fmt.Errorf("failed to query day settings: %w", err)
	}
	defer rows.Close()

	days := []models.DaySetting{}
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan day setting: %w", err)
		}
		days = append(days, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating day settings: %w", err)
	}
	return days, nil
}

// Get returns one day's settings or nil when the day is not configured
func (r *DayRepository) Get(ctx context.Context, day int) (*models.DaySetting, error) {
	d, err := scanDay(r.db.QueryRowContext(ctx, "SELECT "+dayColumns+" FROM day_settings WHERE day = ?", day))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day setting: %w", err)
	}
	return d, nil
}

// Upsert inserts or replaces a day's settings
func (r *DayRepository) Upsert(ctx context.Context, d *models.DaySetting) error {
	prompts := d.Prompts
	if prompts == nil {
		prompts = []string{}
	}
	encoded, err := marshalColumn(prompts)
	if err != nil {
		return fmt.Errorf("failed to encode prompts: %w", err)
	}
	query := r.db.Dialect.UpsertQuery("day_settings",
		[]string{"day"},
		[]string{"day", "title", "prompts", "video_url", "reward_url", "reward_message", "updated_at"},
		[]string{"title", "prompts", "video_url", "reward_url", "reward_message", "updated_at"},
	)
	_, err = r.db.ExecContext(ctx, query, d.Day, d.Title, encoded, d.VideoURL, d.RewardURL, d.RewardMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert day %d: %w", d.Day, err)
	}
	return nil
}

// Count returns the number of configured days
func (r *DayRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM day_settings").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count day settings: %w", err)
	}
	return n, nil
}
