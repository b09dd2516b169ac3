package models

import (
	"sort"
	"strings"
	"time"
)

// Phase is the participant's standing in the program
type Phase string

const (
	PhasePassenger Phase = "passenger"
	PhaseCommander Phase = "commander"
)

// BrainType is the outcome of the diagnostic quiz
type BrainType string

const (
	BrainLeft2D  BrainType = "left_2d"
	BrainLeft3D  BrainType = "left_3d"
	BrainRight2D BrainType = "right_2d"
	BrainRight3D BrainType = "right_3d"
)

// Valid reports whether b is one of the four diagnostic outcomes
func (b BrainType) Valid() bool {
	switch b {
	case BrainLeft2D, BrainLeft3D, BrainRight2D, BrainRight3D:
		return true
	}
	return false
}

// PrimaryField is the answer slot that decides whether a day counts as done
const PrimaryField = "field1"

// DaySet is an ascending, duplicate-free list of day numbers
type DaySet []int

// NewDaySet normalizes days into ascending order without duplicates or non-positive values
func NewDaySet(days ...int) DaySet {
	seen := make(map[int]struct{}, len(days))
	out := make(DaySet, 0, len(days))
	for _, d := range days {
		if d < 1 {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// Contains reports whether day is in the set
func (s DaySet) Contains(day int) bool {
	i := sort.SearchInts(s, day)
	return i < len(s) && s[i] == day
}

// With returns a new set that also contains day
func (s DaySet) With(day int) DaySet {
	return NewDaySet(append(append([]int(nil), s...), day)...)
}

// Clone returns an independent copy
func (s DaySet) Clone() DaySet {
	if s == nil {
		return nil
	}
	return append(DaySet{}, s...)
}

// DailyLog is one day's check-in, keyed by YYYY-MM-DD on the record
type DailyLog struct {
	Score     int             `json:"score"`
	Flags     map[string]bool `json:"flags,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProgressRecord is the full persisted state of one participant
type ProgressRecord struct {
	ID                   string                    `json:"id"`
	ExternalIdentity     *string                   `json:"external_identity,omitempty"`
	DeviceID             string                    `json:"device_id,omitempty"`
	Phase                Phase                     `json:"phase"`
	BrainType            *BrainType                `json:"brain_type,omitempty"`
	DayFields            map[int]map[string]string `json:"day_fields"`
	DayRewardViewed      map[int]bool              `json:"day_reward_viewed"`
	UnlockedDaysOverride DaySet                    `json:"unlocked_days_override"`
	IsLocked             bool                      `json:"is_locked"`
	// DeadlinesWaivedAt forgives every assignment deadline up to this instant
	DeadlinesWaivedAt *time.Time          `json:"deadlines_waived_at,omitempty"`
	ProgressPercent   int                 `json:"progress_percent"`
	VisionImages      []string            `json:"vision_images"`
	GiftSent          bool                `json:"gift_sent"`
	DailyLogs         map[string]DailyLog `json:"daily_logs,omitempty"`
	Version           int64               `json:"version"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// NewProgressRecord returns a fresh passenger record
func NewProgressRecord(id, deviceID string, now time.Time) *ProgressRecord {
	return &ProgressRecord{
		ID:              id,
		DeviceID:        deviceID,
		Phase:           PhasePassenger,
		DayFields:       map[int]map[string]string{},
		DayRewardViewed: map[int]bool{},
		VisionImages:    []string{},
		DailyLogs:       map[string]DailyLog{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Field returns a stored answer and whether the slot was ever written
func (p *ProgressRecord) Field(day int, slot string) (string, bool) {
	fields, ok := p.DayFields[day]
	if !ok {
		return "", false
	}
	v, ok := fields[slot]
	return v, ok
}

// DayDone reports whether the primary answer for day is non-empty.
// Absent and stored-empty both count as not done.
func (p *ProgressRecord) DayDone(day int) bool {
	v, _ := p.Field(day, PrimaryField)
	return strings.TrimSpace(v) != ""
}

// SetFields merges the given slots into day, creating maps as needed
func (p *ProgressRecord) SetFields(day int, fields map[string]string) {
	if p.DayFields == nil {
		p.DayFields = map[int]map[string]string{}
	}
	dayFields, ok := p.DayFields[day]
	if !ok {
		dayFields = make(map[string]string, len(fields))
		p.DayFields[day] = dayFields
	}
	for k, v := range fields {
		dayFields[k] = v
	}
}

// Clone returns a deep copy so pure functions never alias the caller's maps
func (p ProgressRecord) Clone() ProgressRecord {
	out := p
	if p.ExternalIdentity != nil {
		id := *p.ExternalIdentity
		out.ExternalIdentity = &id
	}
	if p.BrainType != nil {
		bt := *p.BrainType
		out.BrainType = &bt
	}
	if p.DayFields != nil {
		out.DayFields = make(map[int]map[string]string, len(p.DayFields))
		for day, fields := range p.DayFields {
			cp := make(map[string]string, len(fields))
			for k, v := range fields {
				cp[k] = v
			}
			out.DayFields[day] = cp
		}
	}
	if p.DayRewardViewed != nil {
		out.DayRewardViewed = make(map[int]bool, len(p.DayRewardViewed))
		for k, v := range p.DayRewardViewed {
			out.DayRewardViewed[k] = v
		}
	}
	out.UnlockedDaysOverride = p.UnlockedDaysOverride.Clone()
	if p.DeadlinesWaivedAt != nil {
		t := *p.DeadlinesWaivedAt
		out.DeadlinesWaivedAt = &t
	}
	if p.VisionImages != nil {
		out.VisionImages = append([]string{}, p.VisionImages...)
	}
	if p.DailyLogs != nil {
		out.DailyLogs = make(map[string]DailyLog, len(p.DailyLogs))
		for k, v := range p.DailyLogs {
			out.DailyLogs[k] = v
		}
	}
	return out
}

// Unlock clears the lock and waives every deadline that passed before now,
// so the lockout sweep does not close the record again for the same miss.
func (p *ProgressRecord) Unlock(now time.Time) {
	p.IsLocked = false
	waived := now.UTC()
	p.DeadlinesWaivedAt = &waived
}

// DeadlineBaseline is the instant after which missed deadlines count against
// the participant: creation, or the last waiver if later.
func (p *ProgressRecord) DeadlineBaseline() time.Time {
	if p.DeadlinesWaivedAt != nil && p.DeadlinesWaivedAt.After(p.CreatedAt) {
		return *p.DeadlinesWaivedAt
	}
	return p.CreatedAt
}

// LineUserID returns the linked LINE user id or ""
func (p *ProgressRecord) LineUserID() string {
	if p.ExternalIdentity == nil {
		return ""
	}
	return *p.ExternalIdentity
}
