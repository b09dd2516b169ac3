package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/progression"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/validation"
)

// ParticipantView is a record together with its derived unlock state
type ParticipantView struct {
	Record         *models.ProgressRecord `json:"record"`
	UnlockedDays   models.DaySet          `json:"unlocked_days"`
	AccessibleDays models.DaySet          `json:"accessible_days"`
}

// AdminService backs the admin console
type AdminService struct {
	progressRepo *repository.ProgressRepository
	settingsRepo *repository.SettingsRepository
	dayRepo      *repository.DayRepository
	confirmer    *security.ResetConfirmer
	opts         ProgressOptions
	log          *logger.Logger
	now          func() time.Time
}

// NewAdminService creates a new admin service
func NewAdminService(
	progressRepo *repository.ProgressRepository,
	settingsRepo *repository.SettingsRepository,
	dayRepo *repository.DayRepository,
	confirmer *security.ResetConfirmer,
	opts ProgressOptions,
	log *logger.Logger,
) *AdminService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &AdminService{
		progressRepo: progressRepo,
		settingsRepo: settingsRepo,
		dayRepo:      dayRepo,
		confirmer:    confirmer,
		opts:         opts,
		log:          log,
		now:          time.Now,
	}
}

func (s *AdminService) view(rec *models.ProgressRecord, cfg *models.SiteConfiguration) ParticipantView {
	now := s.now().In(s.opts.Location)
	return ParticipantView{
		Record:         rec,
		UnlockedDays:   progression.ComputeUnlockedDays(rec, cfg, s.opts.Mode, now),
		AccessibleDays: progression.AccessibleDays(rec, cfg, s.opts.Mode, now),
	}
}

// ListParticipants returns every matching participant with computed unlock state
func (s *AdminService) ListParticipants(ctx context.Context, filter repository.ProgressFilter) ([]ParticipantView, error) {
	records, err := s.progressRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ParticipantView, 0, len(records))
	for i := range records {
		views = append(views, s.view(&records[i], cfg))
	}
	return views, nil
}

// GetParticipant returns a single participant including daily logs
func (s *AdminService) GetParticipant(ctx context.Context, id string) (*ParticipantView, error) {
	rec, err := s.progressRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	v := s.view(rec, cfg)
	return &v, nil
}

// SetUnlockedDays replaces the override list. An empty list clears the
// override and returns the record to computed unlocking.
func (s *AdminService) SetUnlockedDays(ctx context.Context, id string, version int64, days []int) (*ParticipantView, error) {
	if err := validation.ValidateDays(days); err != nil {
		return nil, err
	}
	override := models.NewDaySet(days...)
	rec, err := mutateRecord(ctx, s.progressRepo, id, version, func(rec *models.ProgressRecord) (bool, error) {
		if len(override) == 0 {
			rec.UnlockedDaysOverride = nil
		} else {
			rec.UnlockedDaysOverride = override
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Unlocked days overridden", "progress_id", id, "days", override)
	return s.viewOf(ctx, rec)
}

// SetLocked locks or unlocks a participant's content
func (s *AdminService) SetLocked(ctx context.Context, id string, version int64, locked bool) (*ParticipantView, error) {
	rec, err := mutateRecord(ctx, s.progressRepo, id, version, func(rec *models.ProgressRecord) (bool, error) {
		if rec.IsLocked == locked {
			return false, nil
		}
		if locked {
			rec.IsLocked = true
		} else {
			rec.Unlock(s.now())
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Participant lock changed", "progress_id", id, "locked", locked)
	return s.viewOf(ctx, rec)
}

// viewOf wraps an already loaded record with its unlock state
func (s *AdminService) viewOf(ctx context.Context, rec *models.ProgressRecord) (*ParticipantView, error) {
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	v := s.view(rec, cfg)
	return &v, nil
}

// ResetChallenge is the first step of a two-step reset
type ResetChallenge struct {
	Token     string    `json:"token"`
	Version   int64     `json:"version"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestReset issues a confirmation token bound to the record's current version
func (s *AdminService) RequestReset(ctx context.Context, id string) (*ResetChallenge, error) {
	rec, err := s.progressRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	token, expires := s.confirmer.Issue(rec.ID, rec.Version)
	return &ResetChallenge{Token: token, Version: rec.Version, ExpiresAt: expires}, nil
}

// ConfirmReset performs the reset if the token is valid and nobody has
// written to the record since it was issued.
func (s *AdminService) ConfirmReset(ctx context.Context, id, token string) (*ParticipantView, error) {
	version, err := s.confirmer.Verify(id, token)
	if err != nil {
		return nil, err
	}
	return s.reset(ctx, id, version)
}

// ResetNow resets whatever version is current. Used by the ops CLI.
func (s *AdminService) ResetNow(ctx context.Context, id string) (*ParticipantView, error) {
	return s.reset(ctx, id, anyVersion)
}

func (s *AdminService) reset(ctx context.Context, id string, version int64) (*ParticipantView, error) {
	rec, err := s.progressRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if version != anyVersion && rec.Version != version {
		return nil, repository.ErrVersionConflict
	}
	cleared := progression.Reset(*rec)
	cleared.Unlock(s.now())
	if err := s.progressRepo.Reset(ctx, &cleared); err != nil {
		return nil, err
	}
	s.log.Info("Participant reset", "progress_id", id)
	return s.viewOf(ctx, &cleared)
}

// SiteConfigView is the stored configuration plus any thresholds that will
// never pass because they do not parse.
type SiteConfigView struct {
	Config   *models.SiteConfiguration `json:"config"`
	Warnings []string                  `json:"warnings"`
}

func (s *AdminService) GetSiteConfig(ctx context.Context) (*SiteConfigView, error) {
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &SiteConfigView{Config: cfg, Warnings: scheduleWarnings(cfg, s.opts.Location)}, nil
}

// SaveSiteConfig stores cfg. Malformed thresholds are kept as entered and
// reported back as warnings.
func (s *AdminService) SaveSiteConfig(ctx context.Context, cfg *models.SiteConfiguration) (*SiteConfigView, error) {
	if cfg == nil {
		return nil, validation.ValidationError{Field: "config", Message: "configuration is required"}
	}
	if err := validation.ValidateDays(cfg.ActiveDays); err != nil {
		return nil, err
	}
	for day := range cfg.Days {
		if err := validation.ValidateDay(day); err != nil {
			return nil, err
		}
	}
	if err := s.settingsRepo.SaveSiteConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info("Site configuration saved", "active_days", len(cfg.ActiveDays))
	return s.GetSiteConfig(ctx)
}

func scheduleWarnings(cfg *models.SiteConfiguration, loc *time.Location) []string {
	warnings := []string{}
	for _, day := range cfg.ActiveDays {
		sched := cfg.Schedule(day)
		for _, f := range []struct{ name, raw string }{
			{"unlock_at", sched.UnlockAt},
			{"archive_deadline", sched.ArchiveDeadline},
			{"assignment_deadline", sched.AssignmentDeadline},
		} {
			if strings.TrimSpace(f.raw) == "" {
				continue
			}
			if _, ok := progression.ParseThreshold(f.raw, loc); !ok {
				warnings = append(warnings, fmt.Sprintf("day %d: %s %q is not a valid date", day, f.name, f.raw))
			}
		}
	}
	return warnings
}

func (s *AdminService) ListDays(ctx context.Context) ([]models.DaySetting, error) {
	return s.dayRepo.List(ctx)
}

// UpsertDay validates and stores one day's content
func (s *AdminService) UpsertDay(ctx context.Context, d *models.DaySetting) (*models.DaySetting, error) {
	if err := validation.ValidateDay(d.Day); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.Title) == "" {
		return nil, validation.ValidationError{Field: "title", Message: "title is required"}
	}
	for _, u := range []string{d.VideoURL, d.RewardURL} {
		if u == "" {
			continue
		}
		if err := validation.ValidateImageURL(u); err != nil {
			return nil, err
		}
	}
	if err := s.dayRepo.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return s.dayRepo.Get(ctx, d.Day)
}
