package progression

import (
	"coach21/internal/models"
)

// progressSignalWeight is the percentage each of the five signals contributes
const progressSignalWeight = 20

// ShouldPromote reports whether a passenger has finished days 1 and 2
func ShouldPromote(p *models.ProgressRecord) bool {
	return p.Phase != models.PhaseCommander && p.DayDone(1) && p.DayDone(2)
}

// Promote moves the record to commander. When day 1 is missing from unlocked
// it is written into the override (together with the rest of unlocked) and the
// lock is cleared. Promoting a commander returns an unchanged copy.
func Promote(p models.ProgressRecord, unlocked models.DaySet) models.ProgressRecord {
	out := p.Clone()
	if out.Phase == models.PhaseCommander {
		return out
	}
	out.Phase = models.PhaseCommander
	if !unlocked.Contains(1) {
		out.UnlockedDaysOverride = unlocked.With(1)
		out.IsLocked = false
	}
	return out
}

// Reset wipes all participant progress. Identity, version and creation time
// are kept so the write still goes through the version check.
func Reset(p models.ProgressRecord) models.ProgressRecord {
	return models.ProgressRecord{
		ID:               p.ID,
		ExternalIdentity: p.Clone().ExternalIdentity,
		DeviceID:         p.DeviceID,
		Phase:            models.PhasePassenger,
		DayFields:        map[int]map[string]string{},
		DayRewardViewed:  map[int]bool{},
		VisionImages:     []string{},
		DailyLogs:        map[string]models.DailyLog{},
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// DeriveProgress counts five signals (days 1-3 done, any vision image, gift
// sent) at 20% each.
func DeriveProgress(p *models.ProgressRecord) int {
	count := 0
	for day := 1; day <= 3; day++ {
		if p.DayDone(day) {
			count++
		}
	}
	if len(p.VisionImages) >= 1 {
		count++
	}
	if p.GiftSent {
		count++
	}
	return count * progressSignalWeight
}
