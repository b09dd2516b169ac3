// Package progression decides which program days a participant may see.
//
// Every function here is pure: it takes a snapshot of a progress record and the
// site configuration and returns a value, never touching storage. Callers
// re-derive unlock state on every read instead of persisting it.
package progression

import (
	"fmt"
	"strings"
	"time"

	"coach21/internal/models"
)

// Mode selects the unlock policy
type Mode int

const (
	// ModeProgress unlocks days by completion, with date thresholds as a fallback
	ModeProgress Mode = iota
	// ModeDate unlocks days purely by date threshold
	ModeDate
)

func (m Mode) String() string {
	if m == ModeDate {
		return "date"
	}
	return "progress"
}

// ParseMode maps a configuration value to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "progress":
		return ModeProgress, nil
	case "date":
		return ModeDate, nil
	}
	return ModeProgress, fmt.Errorf("unknown unlock mode %q", s)
}

const dateOnlyLayout = "2006-01-02"

// ParseThreshold parses an operator-entered timestamp. RFC 3339 values carry
// their own offset; YYYY-MM-DD means midnight in loc. ok is false for empty or
// malformed input.
func ParseThreshold(raw string, loc *time.Location) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(dateOnlyLayout, raw, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// thresholdPassed is the fail-closed date check: anything that does not parse
// counts as "not yet".
func thresholdPassed(cfg *models.SiteConfiguration, day int, now time.Time) bool {
	t, ok := ParseThreshold(cfg.Schedule(day).UnlockAt, now.Location())
	if !ok {
		return false
	}
	return !now.Before(t)
}

// ComputeUnlockedDays returns the days the record has unlocked at now.
//
// A non-empty override is returned as-is. Otherwise each active day is checked
// in ascending order:
//
//	day 1:  PROGRESS: brain type set OR threshold passed;  DATE: threshold passed
//	day 2:  PROGRESS: day 1 done OR threshold passed;      DATE: threshold passed
//	day 3+: PROGRESS: day d-1 done AND threshold passed;   DATE: threshold passed
//
// Date-only thresholds are read in now's location. The lock flag is not
// consulted here; see AccessibleDays.
func ComputeUnlockedDays(p *models.ProgressRecord, cfg *models.SiteConfiguration, mode Mode, now time.Time) models.DaySet {
	if p != nil && len(p.UnlockedDaysOverride) > 0 {
		return p.UnlockedDaysOverride.Clone()
	}
	if cfg == nil || len(cfg.ActiveDays) == 0 {
		return models.DaySet{}
	}
	if p == nil {
		p = &models.ProgressRecord{}
	}

	eligible := make([]int, 0, len(cfg.ActiveDays))
	for _, d := range models.NewDaySet(cfg.ActiveDays...) {
		passed := thresholdPassed(cfg, d, now)
		var ok bool
		switch {
		case mode == ModeDate:
			ok = passed
		case d == 1:
			ok = p.BrainType != nil || passed
		case d == 2:
			ok = p.DayDone(1) || passed
		default:
			// Stricter than day 2: completion alone is not enough from day 3 on.
			ok = p.DayDone(d-1) && passed
		}
		if ok {
			eligible = append(eligible, d)
		}
	}
	return models.NewDaySet(eligible...)
}

// AccessibleDays is the set of days whose content may be shown. A locked
// record sees nothing, whatever its unlock set.
func AccessibleDays(p *models.ProgressRecord, cfg *models.SiteConfiguration, mode Mode, now time.Time) models.DaySet {
	if p != nil && p.IsLocked {
		return models.DaySet{}
	}
	return ComputeUnlockedDays(p, cfg, mode, now)
}

// CanViewDay reports whether day's content may be shown to the record
func CanViewDay(p *models.ProgressRecord, cfg *models.SiteConfiguration, mode Mode, day int, now time.Time) bool {
	return AccessibleDays(p, cfg, mode, now).Contains(day)
}
