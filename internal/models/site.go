package models

// DaySchedule holds the raw operator-entered thresholds for one day.
// Values are kept as strings so malformed input survives a round trip and can be shown back to the operator.
type DaySchedule struct {
	UnlockAt           string `json:"unlock_at,omitempty" yaml:"unlock_at"`
	ArchiveDeadline    string `json:"archive_deadline,omitempty" yaml:"archive_deadline"`
	AssignmentDeadline string `json:"assignment_deadline,omitempty" yaml:"assignment_deadline"`
}

// SiteConfiguration is the program-wide singleton
type SiteConfiguration struct {
	ActiveDays DaySet              `json:"active_days"`
	Days       map[int]DaySchedule `json:"days"`
}

// Schedule returns the schedule for day, zero-valued when unset
func (c *SiteConfiguration) Schedule(day int) DaySchedule {
	if c == nil || c.Days == nil {
		return DaySchedule{}
	}
	return c.Days[day]
}

// DaySetting is the per-day content shown to participants
type DaySetting struct {
	Day           int      `json:"day" yaml:"day"`
	Title         string   `json:"title" yaml:"title"`
	Prompts       []string `json:"prompts" yaml:"prompts"`
	VideoURL      string   `json:"video_url,omitempty" yaml:"video_url"`
	RewardURL     string   `json:"reward_url,omitempty" yaml:"reward_url"`
	RewardMessage string   `json:"reward_message,omitempty" yaml:"reward_message"`
}
