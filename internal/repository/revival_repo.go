package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coach21/internal/database"
	"coach21/internal/models"
)

// ErrAlreadyDecided is returned when a revival request is no longer pending
var ErrAlreadyDecided = errors.New("revival request already decided")

// RevivalRepository stores locked participants' petitions
type RevivalRepository struct {
	db *database.DB
}

func NewRevivalRepository(db *database.DB) *RevivalRepository {
	return &RevivalRepository{db: db}
}

const revivalColumns = "id, progress_id, reason, status, decided_by, created_at, decided_at"

func scanRevival(row rowScanner) (*models.RevivalRequest, error) {
	var (
		req       models.RevivalRequest
		status    string
		decidedBy sql.NullInt64
		decidedAt sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.ProgressID, &req.Reason, &status, &decidedBy, &req.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	req.Status = models.RevivalStatus(status)
	if decidedBy.Valid {
		v := decidedBy.Int64
		req.DecidedBy = &v
	}
	if decidedAt.Valid {
		v := decidedAt.Time
		req.DecidedAt = &v
	}
	return &req, nil
}

// Create stores a new pending request
func (r *RevivalRepository) Create(ctx context.Context, progressID, reason string) (*models.RevivalRequest, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO revival_requests (progress_id, reason, status, created_at)
		VALUES (?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, progressID, reason, string(models.RevivalPending), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create revival request: %w", err)
	}
	return &models.RevivalRequest{
		ID:         id,
		ProgressID: progressID,
		Reason:     reason,
		Status:     models.RevivalPending,
		CreatedAt:  now,
	}, nil
}

// GetByID returns the request or nil
func (r *RevivalRepository) GetByID(ctx context.Context, id int64) (*models.RevivalRequest, error) {
	req, err := scanRevival(r.db.QueryRowContext(ctx, "SELECT "+revivalColumns+" FROM revival_requests WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revival request: %w", err)
	}
	return req, nil
}

// List returns requests with the given status, or all when status is empty, newest first
func (r *RevivalRepository) List(ctx context.Context, status models.RevivalStatus) ([]models.RevivalRequest, error) {
	query := "SELECT " + revivalColumns + " FROM revival_requests"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query revival requests: %w", err)
	}
	defer rows.Close()

	reqs := []models.RevivalRequest{}
	for rows.Next() {
		req, err := scanRevival(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revival request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revival requests: %w", err)
	}
	return reqs, nil
}

// HasPending reports whether the participant already has an open request
func (r *RevivalRepository) HasPending(ctx context.Context, progressID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revival_requests WHERE progress_id = ? AND status = ?",
		progressID, string(models.RevivalPending)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count pending revival requests: %w", err)
	}
	return n > 0, nil
}

// Decide moves a pending request to status. Only one decision wins.
func (r *RevivalRepository) Decide(ctx context.Context, id int64, status models.RevivalStatus, adminID int64) error {
	query := `
		UPDATE revival_requests
		SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query, string(status), adminID, time.Now().UTC(), id, string(models.RevivalPending))
	if err != nil {
		return fmt.Errorf("failed to decide revival request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyDecided
	}
	return nil
}
