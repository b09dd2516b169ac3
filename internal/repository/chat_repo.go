package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coach21/internal/database"
	"coach21/internal/models"
)

// ChatRepository keeps the LINE conversation log shown in the admin console
type ChatRepository struct {
	db *database.DB
}

func NewChatRepository(db *database.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create stores msg and fills in its ID and CreatedAt
func (r *ChatRepository) Create(ctx context.Context, msg *models.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO chat_messages (progress_id, line_user_id, direction, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, nullStringPtr(msg.ProgressID), msg.LineUserID, string(msg.Direction), msg.Text, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	msg.ID = id
	return nil
}

// ListRecent returns the newest limit messages for a LINE user, oldest first
func (r *ChatRepository) ListRecent(ctx context.Context, lineUserID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, progress_id, line_user_id, direction, text, created_at
		FROM chat_messages
		WHERE line_user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, lineUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var (
			m          models.ChatMessage
			progressID sql.NullString
			direction  string
		)
		if err := rows.Scan(&m.ID, &progressID, &m.LineUserID, &direction, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		if progressID.Valid {
			id := progressID.String
			m.ProgressID = &id
		}
		m.Direction = models.MessageDirection(direction)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
