package models

import "time"

type RevivalStatus string

const (
	RevivalPending  RevivalStatus = "pending"
	RevivalApproved RevivalStatus = "approved"
	RevivalRejected RevivalStatus = "rejected"
)

// RevivalRequest is a locked participant's petition to be let back in
type RevivalRequest struct {
	ID         int64         `json:"id"`
	ProgressID string        `json:"progress_id"`
	Reason     string        `json:"reason"`
	Status     RevivalStatus `json:"status"`
	DecidedBy  *int64        `json:"decided_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	DecidedAt  *time.Time    `json:"decided_at,omitempty"`
}

// IsPending reports whether an admin still has to decide
func (r *RevivalRequest) IsPending() bool {
	return r.Status == RevivalPending
}
