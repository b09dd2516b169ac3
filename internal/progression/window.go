package progression

import (
	"time"

	"coach21/internal/models"
)

// deadlineOpen: no deadline means open; an unparseable one means closed.
func deadlineOpen(raw string, now time.Time) bool {
	if raw == "" {
		return true
	}
	t, ok := ParseThreshold(raw, now.Location())
	if !ok {
		return false
	}
	return now.Before(t)
}

// SubmissionOpen reports whether answers for day are still accepted
func SubmissionOpen(cfg *models.SiteConfiguration, day int, now time.Time) bool {
	return deadlineOpen(cfg.Schedule(day).AssignmentDeadline, now)
}

// ArchiveOpen reports whether day's archive (video replay) is still available
func ArchiveOpen(cfg *models.SiteConfiguration, day int, now time.Time) bool {
	return deadlineOpen(cfg.Schedule(day).ArchiveDeadline, now)
}

// MissedDeadline returns the first unlocked day that is still undone although
// its assignment deadline passed after the record's deadline baseline. Only
// well-formed deadlines count here: a malformed one closes submissions but
// never locks a participant out.
func MissedDeadline(p *models.ProgressRecord, cfg *models.SiteConfiguration, mode Mode, now time.Time) (int, bool) {
	since := p.DeadlineBaseline()
	for _, day := range ComputeUnlockedDays(p, cfg, mode, now) {
		raw := cfg.Schedule(day).AssignmentDeadline
		if raw == "" || p.DayDone(day) {
			continue
		}
		deadline, ok := ParseThreshold(raw, now.Location())
		if !ok {
			continue
		}
		if deadline.After(since) && !now.Before(deadline) {
			return day, true
		}
	}
	return 0, false
}
