package models

import "time"

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// ChatMessage is one LINE message exchanged with a participant
type ChatMessage struct {
	ID         int64            `json:"id"`
	ProgressID *string          `json:"progress_id,omitempty"`
	LineUserID string           `json:"line_user_id"`
	Direction  MessageDirection `json:"direction"`
	Text       string           `json:"text"`
	CreatedAt  time.Time        `json:"created_at"`
}
