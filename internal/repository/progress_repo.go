package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coach21/internal/database"
	"coach21/internal/models"
)

// ErrVersionConflict is returned when a write loses the optimistic version check
var ErrVersionConflict = errors.New("progress record was modified concurrently")

const progressColumns = `id, external_identity, device_id, phase, brain_type, day_fields, day_reward_viewed,
	unlocked_days_override, is_locked, deadlines_waived_at, progress_percent, vision_images, gift_sent, version,
	created_at, updated_at`

// ProgressFilter narrows the admin participant list
type ProgressFilter struct {
	Phase  models.Phase
	Locked *bool
	// SortBy is "progress" or "updated" (default)
	SortBy string
}

// ProgressRepository stores participant progress records and their daily logs
type ProgressRepository struct {
	db *database.DB
}

func NewProgressRepository(db *database.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row rowScanner) (*models.ProgressRecord, error) {
	var (
		rec                                       models.ProgressRecord
		externalIdentity, deviceID, brainType     sql.NullString
		dayFields, rewardViewed, override, images string
		phase                                     string
		waivedAt                                  sql.NullTime
	)
	err := row.Scan(
		&rec.ID,
		&externalIdentity,
		&deviceID,
		&phase,
		&brainType,
		&dayFields,
		&rewardViewed,
		&override,
		&rec.IsLocked,
		&waivedAt,
		&rec.ProgressPercent,
		&images,
		&rec.GiftSent,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Phase = models.Phase(phase)
	if externalIdentity.Valid {
		v := externalIdentity.String
		rec.ExternalIdentity = &v
	}
	rec.DeviceID = deviceID.String
	if waivedAt.Valid {
		t := waivedAt.Time.UTC()
		rec.DeadlinesWaivedAt = &t
	}
	if brainType.Valid && brainType.String != "" {
		bt := models.BrainType(brainType.String)
		rec.BrainType = &bt
	}

	rec.DayFields = map[int]map[string]string{}
	rec.DayRewardViewed = map[int]bool{}
	rec.VisionImages = []string{}
	if err := unmarshalColumn(dayFields, &rec.DayFields); err != nil {
		return nil, fmt.Errorf("failed to decode day_fields: %w", err)
	}
	if err := unmarshalColumn(rewardViewed, &rec.DayRewardViewed); err != nil {
		return nil, fmt.Errorf("failed to decode day_reward_viewed: %w", err)
	}
	var days []int
	if err := unmarshalColumn(override, &days); err != nil {
		return nil, fmt.Errorf("failed to decode unlocked_days_override: %w", err)
	}
	if len(days) > 0 {
		rec.UnlockedDaysOverride = models.NewDaySet(days...)
	}
	if err := unmarshalColumn(images, &rec.VisionImages); err != nil {
		return nil, fmt.Errorf("failed to decode vision_images: %w", err)
	}
	rec.DailyLogs = map[string]models.DailyLog{}
	return &rec, nil
}

func unmarshalColumn(raw string, dst interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func marshalColumn(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type encodedProgress struct {
	dayFields, rewardViewed, override, images string
}

func encodeProgress(rec *models.ProgressRecord) (encodedProgress, error) {
	var enc encodedProgress
	var err error
	dayFields := rec.DayFields
	if dayFields == nil {
		dayFields = map[int]map[string]string{}
	}
	if enc.dayFields, err = marshalColumn(dayFields); err != nil {
		return enc, err
	}
	rewardViewed := rec.DayRewardViewed
	if rewardViewed == nil {
		rewardViewed = map[int]bool{}
	}
	if enc.rewardViewed, err = marshalColumn(rewardViewed); err != nil {
		return enc, err
	}
	override := []int(rec.UnlockedDaysOverride)
	if override == nil {
		override = []int{}
	}
	if enc.override, err = marshalColumn(override); err != nil {
		return enc, err
	}
	images := rec.VisionImages
	if images == nil {
		images = []string{}
	}
	if enc.images, err = marshalColumn(images); err != nil {
		return enc, err
	}
	return enc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func brainTypeValue(bt *models.BrainType) sql.NullString {
	if bt == nil {
		return sql.NullString{}
	}
	return nullString(string(*bt))
}

// Create inserts a new record. Version starts at 1.
func (r *ProgressRepository) Create(ctx context.Context, rec *models.ProgressRecord) error {
	now := time.Now().UTC()
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.Phase == "" {
		rec.Phase = models.PhasePassenger
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return insertProgress(ctx, r.db, rec)
}

func insertProgress(ctx context.Context, q database.DBTX, rec *models.ProgressRecord) error {
	enc, err := encodeProgress(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}
	query := `INSERT INTO progress_records (` + progressColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = q.ExecContext(ctx, query,
		rec.ID,
		nullStringPtr(rec.ExternalIdentity),
		nullString(rec.DeviceID),
		string(rec.Phase),
		brainTypeValue(rec.BrainType),
		enc.dayFields,
		enc.rewardViewed,
		enc.override,
		rec.IsLocked,
		nullTime(rec.DeadlinesWaivedAt),
		rec.ProgressPercent,
		enc.images,
		rec.GiftSent,
		rec.Version,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create progress record: %w", err)
	}
	return nil
}

// Restore writes rec and its daily logs exactly as given. An existing row
// with the same id is overwritten in place so revival requests and chat
// messages that reference it stay attached. Used by backup import.
func (r *ProgressRepository) Restore(ctx context.Context, rec *models.ProgressRecord) error {
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM progress_records WHERE id = ?", rec.ID).Scan(&existing); err != nil {
			return fmt.Errorf("failed to check progress record: %w", err)
		}
		write := insertProgress
		if existing > 0 {
			write = overwriteProgress
		}
		if err := write(ctx, tx, rec); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM daily_logs WHERE progress_id = ?", rec.ID); err != nil {
			return fmt.Errorf("failed to delete daily logs: %w", err)
		}
		for date, log := range rec.DailyLogs {
			if err := upsertDailyLog(ctx, tx, rec.ID, date, log); err != nil {
				return err
			}
		}
		return nil
	})
}

// overwriteProgress replaces every column of an existing row, version and
// timestamps included, without a version check.
func overwriteProgress(ctx context.Context, q database.DBTX, rec *models.ProgressRecord) error {
	enc, err := encodeProgress(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}
	query := `
		UPDATE progress_records
		SET external_identity = ?, device_id = ?, phase = ?, brain_type = ?, day_fields = ?,
			day_reward_viewed = ?, unlocked_days_override = ?, is_locked = ?, deadlines_waived_at = ?,
			progress_percent = ?, vision_images = ?, gift_sent = ?, version = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = q.ExecContext(ctx, query,
		nullStringPtr(rec.ExternalIdentity),
		nullString(rec.DeviceID),
		string(rec.Phase),
		brainTypeValue(rec.BrainType),
		enc.dayFields,
		enc.rewardViewed,
		enc.override,
		rec.IsLocked,
		nullTime(rec.DeadlinesWaivedAt),
		rec.ProgressPercent,
		enc.images,
		rec.GiftSent,
		rec.Version,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to restore progress record: %w", err)
	}
	return nil
}

// DeleteAll removes every record and daily log
func (r *ProgressRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM daily_logs"); err != nil {
			return fmt.Errorf("failed to delete daily logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM progress_records"); err != nil {
			return fmt.Errorf("failed to delete progress records: %w", err)
		}
		return nil
	})
}

func (r *ProgressRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records WHERE ` + where
	rec, err := scanProgress(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress record: %w", err)
	}

	logs, err := r.ListDailyLogs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.DailyLogs = logs
	return rec, nil
}

// GetByID returns the record or nil when it does not exist
func (r *ProgressRepository) GetByID(ctx context.Context, id string) (*models.ProgressRecord, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByExternalIdentity looks a record up by its linked LINE user id
func (r *ProgressRepository) GetByExternalIdentity(ctx context.Context, lineUserID string) (*models.ProgressRecord, error) {
	return r.getOne(ctx, "external_identity = ?", lineUserID)
}

// GetByDeviceID looks a record up by the device key used before linking
func (r *ProgressRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.ProgressRecord, error) {
	return r.getOne(ctx, "device_id = ?", deviceID)
}

// Update writes every mutable column of rec if the stored version still
// equals rec.Version. On success rec.Version and rec.UpdatedAt are advanced.
func (r *ProgressRepository) Update(ctx context.Context, rec *models.ProgressRecord) error {
	return updateProgress(ctx, r.db, rec)
}

func updateProgress(ctx context.Context, q database.DBTX, rec *models.ProgressRecord) error {
	enc, err := encodeProgress(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}
	now := time.Now().UTC()

	query := `
		UPDATE progress_records
		SET external_identity = ?, device_id = ?, phase = ?, brain_type = ?, day_fields = ?,
			day_reward_viewed = ?, unlocked_days_override = ?, is_locked = ?, deadlines_waived_at = ?,
			progress_percent = ?, vision_images = ?, gift_sent = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := q.ExecContext(ctx, query,
		nullStringPtr(rec.ExternalIdentity),
		nullString(rec.DeviceID),
		string(rec.Phase),
		brainTypeValue(rec.BrainType),
		enc.dayFields,
		enc.rewardViewed,
		enc.override,
		rec.IsLocked,
		nullTime(rec.DeadlinesWaivedAt),
		rec.ProgressPercent,
		enc.images,
		rec.GiftSent,
		now,
		rec.ID,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// LinkExternalIdentity attaches a verified LINE user id to the record
func (r *ProgressRepository) LinkExternalIdentity(ctx context.Context, id string, version int64, lineUserID string) (int64, error) {
	query := `
		UPDATE progress_records
		SET external_identity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, query, lineUserID, time.Now().UTC(), id, version)
	if err != nil {
		return 0, fmt.Errorf("failed to link external identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return version + 1, nil
}

// Reset stores an already-reset record and drops its daily logs in one
// transaction. Nothing is written if the version check fails.
func (r *ProgressRepository) Reset(ctx context.Context, rec *models.ProgressRecord) error {
	updated := *rec
	err := r.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := updateProgress(ctx, tx, &updated); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM daily_logs WHERE progress_id = ?", rec.ID); err != nil {
			return fmt.Errorf("failed to delete daily logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	*rec = updated
	rec.DailyLogs = map[string]models.DailyLog{}
	return nil
}

// List returns records without their daily logs
func (r *ProgressRepository) List(ctx context.Context, filter ProgressFilter) ([]models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records WHERE 1 = 1`
	var args []interface{}
	if filter.Phase != "" {
		query += " AND phase = ?"
		args = append(args, string(filter.Phase))
	}
	if filter.Locked != nil {
		query += " AND is_locked = " + r.db.Dialect.BoolValue(*filter.Locked)
	}
	switch filter.SortBy {
	case "progress":
		query += " ORDER BY progress_percent DESC, updated_at DESC"
	default:
		query += " ORDER BY updated_at DESC"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress records: %w", err)
	}
	defer rows.Close()

	records := []models.ProgressRecord{}
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress records: %w", err)
	}
	return records, nil
}

// UpsertDailyLog stores the check-in for date, overwriting any earlier one that day
func (r *ProgressRepository) UpsertDailyLog(ctx context.Context, progressID, date string, log models.DailyLog) error {
	return upsertDailyLog(ctx, r.db, progressID, date, log)
}

func upsertDailyLog(ctx context.Context, q database.DBTX, progressID, date string, log models.DailyLog) error {
	flags := log.Flags
	if flags == nil {
		flags = map[string]bool{}
	}
	encoded, err := marshalColumn(flags)
	if err != nil {
		return fmt.Errorf("failed to encode daily log flags: %w", err)
	}
	query := q.GetDialect().UpsertQuery("daily_logs",
		[]string{"progress_id", "log_date"},
		[]string{"progress_id", "log_date", "score", "flags", "updated_at"},
		[]string{"score", "flags", "updated_at"},
	)
	if _, err := q.ExecContext(ctx, query, progressID, date, log.Score, encoded, log.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert daily log: %w", err)
	}
	return nil
}

// ListDailyLogs returns all check-ins for a record keyed by date
func (r *ProgressRepository) ListDailyLogs(ctx context.Context, progressID string) (map[string]models.DailyLog, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT log_date, score, flags, updated_at FROM daily_logs WHERE progress_id = ? ORDER BY log_date",
		progressID)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily logs: %w", err)
	}
	defer rows.Close()

	logs := map[string]models.DailyLog{}
	for rows.Next() {
		var (
			date, flags string
			log         models.DailyLog
		)
		if err := rows.Scan(&date, &log.Score, &flags, &log.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily log: %w", err)
		}
		if err := unmarshalColumn(flags, &log.Flags); err != nil {
			return nil, fmt.Errorf("failed to decode daily log flags: %w", err)
		}
		logs[date] = log
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily logs: %w", err)
	}
	return logs, nil
}
