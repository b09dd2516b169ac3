package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"coach21/internal/guard"
	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/progression"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/validation"
)

const (
	maxVisionImages = 12
	logDateLayout   = "2006-01-02"
)

// ProgressOptions holds the unlock policy and timing knobs
type ProgressOptions struct {
	Mode     progression.Mode
	Location *time.Location
	// LockTTL bounds how long one submission may hold the per-participant guard
	LockTTL time.Duration
}

// ProgressService implements everything a participant can do from the LIFF app
type ProgressService struct {
	progressRepo *repository.ProgressRepository
	settingsRepo *repository.SettingsRepository
	dayRepo      *repository.DayRepository
	guard        guard.SubmissionGuard
	verifier     *security.LineIDVerifier
	notifier     *NotificationService
	suggester    *SuggestionService
	opts         ProgressOptions
	log          *logger.Logger
	now          func() time.Time
}

// NewProgressService creates a new progress service
func NewProgressService(
	progressRepo *repository.ProgressRepository,
	settingsRepo *repository.SettingsRepository,
	dayRepo *repository.DayRepository,
	submissionGuard guard.SubmissionGuard,
	verifier *security.LineIDVerifier,
	notifier *NotificationService,
	suggester *SuggestionService,
	opts ProgressOptions,
	log *logger.Logger,
) *ProgressService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &ProgressService{
		progressRepo: progressRepo,
		settingsRepo: settingsRepo,
		dayRepo:      dayRepo,
		guard:        submissionGuard,
		verifier:     verifier,
		notifier:     notifier,
		suggester:    suggester,
		opts:         opts,
		log:          log,
		now:          time.Now,
	}
}

// clock returns the current time in the program time zone so date-only
// thresholds resolve to local midnight.
func (s *ProgressService) clock() time.Time {
	return s.now().In(s.opts.Location)
}

// StartSession finds or creates the participant's record. A verified LINE
// identity wins over the device id; an unlinked device record gets linked.
func (s *ProgressService) StartSession(ctx context.Context, deviceID, idToken string) (*models.ProgressRecord, error) {
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	deviceID = strings.TrimSpace(deviceID)

	var identity *security.LineIdentity
	if idToken != "" {
		id, err := s.verifier.Verify(ctx, idToken, "")
		if err != nil {
			s.log.Warn("LIFF id token rejected", "error", err)
			return nil, ErrInvalidIdentity
		}
		identity = id
	}

	if identity != nil {
		rec, err := s.progressRepo.GetByExternalIdentity(ctx, identity.UserID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}

	rec, err := s.progressRepo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		switch {
		case identity == nil:
			return rec, nil
		case rec.ExternalIdentity == nil:
			version, err := s.progressRepo.LinkExternalIdentity(ctx, rec.ID, rec.Version, identity.UserID)
			if err != nil {
				return nil, err
			}
			rec.ExternalIdentity = &identity.UserID
			rec.Version = version
			s.log.Info("Linked LINE identity to device record", "progress_id", rec.ID, "line_user_id", identity.UserID)
			return rec, nil
		}
		// The device belongs to someone else's linked record; the new
		// identity gets its own record without a device key.
		deviceID = ""
	}

	rec = models.NewProgressRecord(uuid.NewString(), deviceID, s.clock())
	if identity != nil {
		rec.ExternalIdentity = &identity.UserID
	}
	if err := s.progressRepo.Create(ctx, rec); err != nil {
		// A concurrent first contact may have created it already
		if existing, lookupErr := s.lookupExisting(ctx, deviceID, identity); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	s.log.Info("Created progress record", "progress_id", rec.ID)
	return rec, nil
}

func (s *ProgressService) lookupExisting(ctx context.Context, deviceID string, identity *security.LineIdentity) (*models.ProgressRecord, error) {
	if identity != nil {
		return s.progressRepo.GetByExternalIdentity(ctx, identity.UserID)
	}
	if deviceID == "" {
		return nil, nil
	}
	return s.progressRepo.GetByDeviceID(ctx, deviceID)
}

// DayView is one active day as shown on the dashboard. Content is only
// filled in for days the participant may open.
type DayView struct {
	Day            int                `json:"day"`
	Title          string             `json:"title"`
	Accessible     bool               `json:"accessible"`
	Done           bool               `json:"done"`
	RewardViewed   bool               `json:"reward_viewed"`
	SubmissionOpen bool               `json:"submission_open"`
	ArchiveOpen    bool               `json:"archive_open"`
	Content        *models.DaySetting `json:"content,omitempty"`
}

// Snapshot is the dashboard payload recomputed on every read
type Snapshot struct {
	Record          *models.ProgressRecord `json:"record"`
	Phase           models.Phase           `json:"phase"`
	ProgressPercent int                    `json:"progress_percent"`
	UnlockedDays    models.DaySet          `json:"unlocked_days"`
	AccessibleDays  models.DaySet          `json:"accessible_days"`
	Days            []DayView              `json:"days"`
}

// Snapshot loads the record, site configuration and day content concurrently
// and derives the unlock state from them.
func (s *ProgressService) Snapshot(ctx context.Context, progressID string) (*Snapshot, error) {
	var (
		rec  *models.ProgressRecord
		cfg  *models.SiteConfiguration
		days []models.DaySetting
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = s.progressRepo.GetByID(gctx, progressID)
		return err
	})
	g.Go(func() error {
		var err error
		cfg, err = s.settingsRepo.GetSiteConfig(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		days, err = s.dayRepo.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load dashboard: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	now := s.clock()
	unlocked := progression.ComputeUnlockedDays(rec, cfg, s.opts.Mode, now)
	accessible := progression.AccessibleDays(rec, cfg, s.opts.Mode, now)

	byDay := make(map[int]models.DaySetting, len(days))
	for _, d := range days {
		byDay[d.Day] = d
	}
	views := make([]DayView, 0, len(cfg.ActiveDays))
	for _, day := range cfg.ActiveDays {
		setting := byDay[day]
		view := DayView{
			Day:            day,
			Title:          setting.Title,
			Accessible:     accessible.Contains(day),
			Done:           rec.DayDone(day),
			RewardViewed:   rec.DayRewardViewed[day],
			SubmissionOpen: progression.SubmissionOpen(cfg, day, now),
			ArchiveOpen:    progression.ArchiveOpen(cfg, day, now),
		}
		if view.Accessible {
			content := setting
			content.Day = day
			view.Content = &content
		}
		views = append(views, view)
	}

	return &Snapshot{
		Record:          rec,
		Phase:           rec.Phase,
		ProgressPercent: rec.ProgressPercent,
		UnlockedDays:    unlocked,
		AccessibleDays:  accessible,
		Days:            views,
	}, nil
}

// GetDay returns one day's content if the participant may view it
func (s *ProgressService) GetDay(ctx context.Context, progressID string, day int) (*DayView, error) {
	if err := validation.ValidateDay(day); err != nil {
		return nil, err
	}
	rec, cfg, err := s.load(ctx, progressID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if !progression.CanViewDay(rec, cfg, s.opts.Mode, day, now) {
		return nil, ErrDayLocked
	}
	setting, err := s.dayRepo.Get(ctx, day)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		setting = &models.DaySetting{Day: day, Prompts: []string{}}
	}
	return &DayView{
		Day:            day,
		Title:          setting.Title,
		Accessible:     true,
		Done:           rec.DayDone(day),
		RewardViewed:   rec.DayRewardViewed[day],
		SubmissionOpen: progression.SubmissionOpen(cfg, day, now),
		ArchiveOpen:    progression.ArchiveOpen(cfg, day, now),
		Content:        setting,
	}, nil
}

func (s *ProgressService) load(ctx context.Context, progressID string) (*models.ProgressRecord, *models.SiteConfiguration, error) {
	rec, err := s.progressRepo.GetByID(ctx, progressID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrNotFound
	}
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rec, cfg, nil
}

// SubmitDiagnosis stores the brain-type quiz result
func (s *ProgressService) SubmitDiagnosis(ctx context.Context, progressID string, version int64, brainType string) (*models.ProgressRecord, error) {
	if err := validation.ValidateBrainType(brainType); err != nil {
		return nil, err
	}
	bt := models.BrainType(brainType)
	return mutateRecord(ctx, s.progressRepo, progressID, version, func(rec *models.ProgressRecord) (bool, error) {
		if rec.IsLocked {
			return false, ErrParticipantLocked
		}
		if rec.BrainType != nil && *rec.BrainType == bt {
			return false, nil
		}
		rec.BrainType = &bt
		return true, nil
	})
}

// SubmitResult is returned after a day's answers are stored
type SubmitResult struct {
	Record        *models.ProgressRecord `json:"record"`
	UnlockedDays  models.DaySet          `json:"unlocked_days"`
	Promoted      bool                   `json:"promoted"`
	Encouragement string                 `json:"encouragement"`
}

// SubmitAnswers merges a day's answers into the record. Only one submission
// per participant runs at a time.
func (s *ProgressService) SubmitAnswers(ctx context.Context, progressID string, day int, version int64, fields map[string]string) (*SubmitResult, error) {
	if err := validation.ValidateDay(day); err != nil {
		return nil, err
	}
	if err := validation.ValidateAnswerFields(fields); err != nil {
		return nil, err
	}

	key := "progress:" + progressID
	token, err := s.guard.TryAcquire(ctx, key, s.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("Failed to release submission guard", "progress_id", progressID, "error", err)
		}
	}()

	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	promoted := false
	rec, err := mutateRecord(ctx, s.progressRepo, progressID, version, func(rec *models.ProgressRecord) (bool, error) {
		if rec.IsLocked {
			return false, ErrParticipantLocked
		}
		if !progression.CanViewDay(rec, cfg, s.opts.Mode, day, now) {
			return false, ErrDayLocked
		}
		if !progression.SubmissionOpen(cfg, day, now) {
			return false, ErrWindowClosed
		}

		rec.SetFields(day, fields)
		rec.ProgressPercent = progression.DeriveProgress(rec)
		if progression.ShouldPromote(rec) {
			unlocked := progression.ComputeUnlockedDays(rec, cfg, s.opts.Mode, now)
			*rec = progression.Promote(*rec, unlocked)
			promoted = true
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if promoted {
		s.log.Info("Participant promoted", "progress_id", rec.ID)
		s.notifier.DispatchAsync(Notification{Recipient: rec.LineUserID(), Kind: KindPromoted})
	}

	return &SubmitResult{
		Record:        rec,
		UnlockedDays:  progression.ComputeUnlockedDays(rec, cfg, s.opts.Mode, now),
		Promoted:      promoted,
		Encouragement: s.suggester.Encourage(ctx, rec, day),
	}, nil
}

// RewardResult carries the reward content for a day
type RewardResult struct {
	Record    *models.ProgressRecord `json:"record"`
	Day       int                    `json:"day"`
	RewardURL string                 `json:"reward_url,omitempty"`
	Message   string                 `json:"message,omitempty"`
	FirstView bool                   `json:"first_view"`
}

// ViewReward marks a day's reward as seen. The first view also pushes a LINE message.
func (s *ProgressService) ViewReward(ctx context.Context, progressID string, day int, version int64) (*RewardResult, error) {
	if err := validation.ValidateDay(day); err != nil {
		return nil, err
	}
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	setting, err := s.dayRepo.Get(ctx, day)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		setting = &models.DaySetting{Day: day}
	}
	now := s.clock()

	first := false
	rec, err := mutateRecord(ctx, s.progressRepo, progressID, version, func(rec *models.ProgressRecord) (bool, error) {
		if !progression.CanViewDay(rec, cfg, s.opts.Mode, day, now) {
			return false, ErrDayLocked
		}
		if rec.DayRewardViewed[day] {
			return false, nil
		}
		if rec.DayRewardViewed == nil {
			rec.DayRewardViewed = map[int]bool{}
		}
		rec.DayRewardViewed[day] = true
		first = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if first {
		s.notifier.DispatchAsync(Notification{
			Recipient: rec.LineUserID(),
			Kind:      KindRewardUnlocked,
			Fields: map[string]string{
				"day":     fmt.Sprint(day),
				"message": setting.RewardMessage,
				"url":     setting.RewardURL,
			},
		})
	}
	return &RewardResult{
		Record:    rec,
		Day:       day,
		RewardURL: setting.RewardURL,
		Message:   setting.RewardMessage,
		FirstView: first,
	}, nil
}

// AddVisionImage appends an uploaded vision-board image URL
func (s *ProgressService) AddVisionImage(ctx context.Context, progressID string, version int64, url string) (*models.ProgressRecord, error) {
	if err := validation.ValidateImageURL(url); err != nil {
		return nil, err
	}
	url = strings.TrimSpace(url)
	return mutateRecord(ctx, s.progressRepo, progressID, version, func(rec *models.ProgressRecord) (bool, error) {
		if rec.IsLocked {
			return false, ErrParticipantLocked
		}
		if len(rec.VisionImages) >= maxVisionImages {
			return false, ErrTooManyImages
		}
		rec.VisionImages = append(rec.VisionImages, url)
		rec.ProgressPercent = progression.DeriveProgress(rec)
		return true, nil
	})
}

// MarkGiftSent records that the participant sent their gift
func (s *ProgressService) MarkGiftSent(ctx context.Context, progressID string, version int64) (*models.ProgressRecord, error) {
	return mutateRecord(ctx, s.progressRepo, progressID, version, func(rec *models.ProgressRecord) (bool, error) {
		if rec.IsLocked {
			return false, ErrParticipantLocked
		}
		if rec.GiftSent {
			return false, nil
		}
		rec.GiftSent = true
		rec.ProgressPercent = progression.DeriveProgress(rec)
		return true, nil
	})
}

// SaveDailyLog stores the check-in for date. Today's entry (in the program
// time zone) may be rewritten; an earlier day can be filled in once and is
// final after that. Future dates are rejected.
func (s *ProgressService) SaveDailyLog(ctx context.Context, progressID, date string, score int, flags map[string]bool) (*models.DailyLog, error) {
	if err := validation.ValidateLogDate(date); err != nil {
		return nil, err
	}
	if err := validation.ValidateScore(score); err != nil {
		return nil, err
	}
	today := s.clock().Format(logDateLayout)
	if date > today {
		return nil, validation.ValidationError{Field: "date", Message: "date cannot be in the future"}
	}
	rec, err := s.progressRepo.GetByID(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if _, exists := rec.DailyLogs[date]; exists && date != today {
		return nil, ErrDailyLogFinal
	}
	if flags == nil {
		flags = map[string]bool{}
	}
	entry := models.DailyLog{Score: score, Flags: flags, UpdatedAt: s.now().UTC()}
	if err := s.progressRepo.UpsertDailyLog(ctx, progressID, date, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// EnforceDeadlines locks every unlocked participant who let an assignment
// deadline pass on an unlocked, undone day, and tells them over LINE that
// they can ask to be let back in. It returns how many records were locked.
func (s *ProgressService) EnforceDeadlines(ctx context.Context) (int, error) {
	cfg, err := s.settingsRepo.GetSiteConfig(ctx)
	if err != nil {
		return 0, err
	}
	unlocked := false
	records, err := s.progressRepo.List(ctx, repository.ProgressFilter{Locked: &unlocked})
	if err != nil {
		return 0, err
	}
	now := s.clock()

	locked := 0
	for i := range records {
		if _, missed := progression.MissedDeadline(&records[i], cfg, s.opts.Mode, now); !missed {
			continue
		}
		var missedDay int
		rec, err := mutateRecord(ctx, s.progressRepo, records[i].ID, anyVersion, func(rec *models.ProgressRecord) (bool, error) {
			if rec.IsLocked {
				return false, nil
			}
			day, missed := progression.MissedDeadline(rec, cfg, s.opts.Mode, now)
			if !missed {
				return false, nil
			}
			missedDay = day
			rec.IsLocked = true
			return true, nil
		})
		if err != nil {
			// A participant write raced the sweep; the next run sees the new state.
			s.log.Warn("Failed to apply deadline lockout", "progress_id", records[i].ID, "error", err)
			continue
		}
		if missedDay == 0 {
			continue
		}
		locked++
		s.log.Info("Participant locked after missed deadline", "progress_id", rec.ID, "day", missedDay)
		s.notifier.DispatchAsync(Notification{
			Recipient: rec.LineUserID(),
			Kind:      KindLockedOut,
			Fields:    map[string]string{"day": fmt.Sprint(missedDay)},
		})
	}
	return locked, nil
}
