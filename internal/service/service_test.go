package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"coach21/internal/database"
	"coach21/internal/guard"
	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/progression"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/validation"
)

func TestMain(m *testing.M) {
	// The genai client's dependencies start an opencensus stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	testChannelID     = "1650000000"
	testChannelSecret = "line-channel-secret"
)

type fakeMessenger struct {
	mu      sync.Mutex
	pushes  []string
	replies []string
	err     error
}

func (f *fakeMessenger) Push(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, to+"|"+text)
	return nil
}

func (f *fakeMessenger) Reply(_ context.Context, replyToken, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replyToken+"|"+text)
	return nil
}

func (f *fakeMessenger) pushed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushes...)
}

type fakeGenerator struct {
	out string
	err error
}

func (f *fakeGenerator) Generate(context.Context, string, string) (string, error) {
	return f.out, f.err
}

type fakeSES struct {
	mu   sync.Mutex
	sent []*sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sesv2.SendEmailOutput{}, nil
}

type testEnv struct {
	db        *database.DB
	progress  *ProgressService
	admin     *AdminService
	revival   *RevivalService
	chat      *ChatService
	auth      *AuthService
	backup    *BackupService
	content   *ContentService
	notifier  *NotificationService
	email     *EmailService
	guard     *guard.MemoryGuard
	messenger *fakeMessenger
	ses       *fakeSES
	repo      *repository.ProgressRepository
	settings  *repository.SettingsRepository
	days      *repository.DayRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)

	log := logger.NewNop()
	env := &testEnv{
		db:        db,
		guard:     guard.NewMemoryGuard(),
		messenger: &fakeMessenger{},
		ses:       &fakeSES{},
		repo:      repository.NewProgressRepository(db),
		settings:  repository.NewSettingsRepository(db),
		days:      repository.NewDayRepository(db),
	}
	env.notifier = NewNotificationService(env.messenger, log)
	env.email = NewEmailServiceWithClient(env.ses, "coach@example.com", "Coach21", "admin@example.com", "https://coach.example.com", log)
	suggester := NewSuggestionService(nil, time.Second, log)
	opts := ProgressOptions{Mode: progression.ModeProgress, Location: time.UTC, LockTTL: time.Minute}
	verifier := security.NewLineIDVerifier(testChannelID, testChannelSecret)

	env.progress = NewProgressService(env.repo, env.settings, env.days, env.guard, verifier, env.notifier, suggester, opts, log)
	env.admin = NewAdminService(env.repo, env.settings, env.days, security.NewResetConfirmer("reset-secret", time.Minute), opts, log)
	env.revival = NewRevivalService(repository.NewRevivalRepository(db), env.repo, env.email, env.notifier, 20, log)
	env.chat = NewChatService(repository.NewChatRepository(db), env.repo, env.notifier, suggester, log)
	env.auth = NewAuthService(repository.NewUserRepository(db), time.Hour)
	env.backup = NewBackupService(env.repo, env.settings, env.days, log)
	env.content = NewContentService(env.days, env.settings, log)

	t.Cleanup(func() {
		env.notifier.Close()
		env.email.Close()
		db.Close()
	})
	return env
}

// openProgram activates days 1..n with thresholds long passed
func (e *testEnv) openProgram(t *testing.T, n int) {
	t.Helper()
	cfg := &models.SiteConfiguration{Days: map[int]models.DaySchedule{}}
	for d := 1; d <= n; d++ {
		cfg.ActiveDays = append(cfg.ActiveDays, d)
		cfg.Days[d] = models.DaySchedule{UnlockAt: "2020-01-01"}
	}
	require.NoError(t, e.settings.SaveSiteConfig(context.Background(), cfg))
}

func signLineToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    security.LineIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{testChannelID},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testChannelSecret))
	require.NoError(t, err)
	return signed
}

func TestStartSessionFindsOrCreates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.progress.StartSession(ctx, "device-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PhasePassenger, first.Phase)
	assert.Nil(t, first.ExternalIdentity)

	again, err := env.progress.StartSession(ctx, "device-1", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// presenting a LINE token links the device record
	linked, err := env.progress.StartSession(ctx, "device-1", signLineToken(t, "U-alice"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, linked.ID)
	assert.Equal(t, "U-alice", linked.LineUserID())
	assert.Equal(t, first.Version+1, linked.Version)

	// the LINE identity wins on a new device
	other, err := env.progress.StartSession(ctx, "device-2", signLineToken(t, "U-alice"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, other.ID)

	// a second LINE user on the first device gets a separate record
	bob, err := env.progress.StartSession(ctx, "device-1", signLineToken(t, "U-bob"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, bob.ID)
	assert.Equal(t, "U-bob", bob.LineUserID())

	_, err = env.progress.StartSession(ctx, "device-3", "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestSubmitAnswersSequentialUnlockAndPromotion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openProgram(t, 3)

	rec, err := env.progress.StartSession(ctx, "dev", signLineToken(t, "U-carol"))
	require.NoError(t, err)

	rec, err = env.progress.SubmitDiagnosis(ctx, rec.ID, rec.Version, string(models.BrainLeft3D))
	require.NoError(t, err)

	res, err := env.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version, map[string]string{"field1": "walk 10 minutes"})
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.Equal(t, 20, res.Record.ProgressPercent)
	assert.NotEmpty(t, res.Encouragement)
	// day 3 also needs day 2 done
	assert.Equal(t, models.DaySet{1, 2}, res.UnlockedDays)

	res, err = env.progress.SubmitAnswers(ctx, rec.ID, 2, res.Record.Version, map[string]string{"field1": "drink water"})
	require.NoError(t, err)
	assert.True(t, res.Promoted)
	assert.Equal(t, models.PhaseCommander, res.Record.Phase)
	assert.Equal(t, 40, res.Record.ProgressPercent)

	env.notifier.Close()
	pushes := env.messenger.pushed()
	require.Len(t, pushes, 1)
	assert.Contains(t, pushes[0], "U-carol|")

	snap, err := env.progress.Snapshot(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCommander, snap.Phase)
	require.Len(t, snap.Days, 3)
	assert.True(t, snap.Days[0].Done)
	assert.True(t, snap.Days[1].Done)
	assert.False(t, snap.Days[2].Done)
}

func TestSubmitAnswersRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openProgram(t, 3)

	rec, err := env.progress.StartSession(ctx, "dev", "")
	require.NoError(t, err)

	t.Run("blank primary answer", func(t *testing.T) {
		_, err := env.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version, map[string]string{"field1": "  "})
		require.Error(t, err)
	})

	t.Run("day 3 without day 2 done", func(t *testing.T) {
		_, err := env.progress.SubmitAnswers(ctx, rec.ID, 3, rec.Version, map[string]string{"field1": "skip ahead"})
		assert.ErrorIs(t, err, ErrDayLocked)
	})

	t.Run("stale version", func(t *testing.T) {
		_, err := env.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version+5, map[string]string{"field1": "x"})
		assert.ErrorIs(t, err, repository.ErrVersionConflict)
	})

	t.Run("submission in progress", func(t *testing.T) {
		token, err := env.guard.TryAcquire(ctx, "progress:"+rec.ID, time.Minute)
		require.NoError(t, err)
		defer env.guard.Release(ctx, "progress:"+rec.ID, token)

		_, err = env.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version, map[string]string{"field1": "x"})
		assert.ErrorIs(t, err, guard.ErrHeld)
	})

	t.Run("window closed", func(t *testing.T) {
		cfg, err := env.settings.GetSiteConfig(ctx)
		require.NoError(t, err)
		cfg.Days[1] = models.DaySchedule{UnlockAt: "2020-01-01", AssignmentDeadline: "2020-01-02"}
		require.NoError(t, env.settings.SaveSiteConfig(ctx, cfg))

		_, err = env.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version, map[string]string{"field1": "late"})
		assert.ErrorIs(t, err, ErrWindowClosed)
	})

	t.Run("locked participant", func(t *testing.T) {
		view, err := env.admin.SetLocked(ctx, rec.ID, rec.Version, true)
		require.NoError(t, err)
		assert.Empty(t, view.AccessibleDays)

		_, err = env.progress.SubmitAnswers(ctx, rec.ID, 2, view.Record.Version, map[string]string{"field1": "x"})
		assert.ErrorIs(t, err, ErrParticipantLocked)
	})
}

func TestViewRewardNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openProgram(t, 1)
	require.NoError(t, env.days.Upsert(ctx, &models.DaySetting{Day: 1, Title: "Start", RewardURL: "https://cdn.example.com/r1.png", RewardMessage: "Well done"}))

	rec, err := env.progress.StartSession(ctx, "dev", signLineToken(t, "U-dave"))
	require.NoError(t, err)

	first, err := env.progress.ViewReward(ctx, rec.ID, 1, rec.Version)
	require.NoError(t, err)
	assert.True(t, first.FirstView)
	assert.Equal(t, "https://cdn.example.com/r1.png", first.RewardURL)

	second, err := env.progress.ViewReward(ctx, rec.ID, 1, first.Record.Version)
	require.NoError(t, err)
	assert.False(t, second.FirstView)
	assert.Equal(t, first.Record.Version, second.Record.Version)

	_, err = env.progress.ViewReward(ctx, rec.ID, 2, second.Record.Version)
	assert.ErrorIs(t, err, ErrDayLocked)

	env.notifier.Close()
	pushes := env.messenger.pushed()
	require.Len(t, pushes, 1)
	assert.Contains(t, pushes[0], "Well done")
}

func TestProgressSignals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.progress.StartSession(ctx, "dev", "")
	require.NoError(t, err)

	rec, err = env.progress.AddVisionImage(ctx, rec.ID, rec.Version, "https://cdn.example.com/vision.jpg")
	require.NoError(t, err)
	assert.Equal(t, 20, rec.ProgressPercent)

	rec, err = env.progress.MarkGiftSent(ctx, rec.ID, rec.Version)
	require.NoError(t, err)
	assert.Equal(t, 40, rec.ProgressPercent)

	_, err = env.progress.AddVisionImage(ctx, rec.ID, rec.Version, "ftp://nope")
	require.Error(t, err)

}

func TestSaveDailyLogRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.progress.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	rec, err := env.progress.StartSession(ctx, "dev", "")
	require.NoError(t, err)

	entry, err := env.progress.SaveDailyLog(ctx, rec.ID, "2026-03-01", 7, map[string]bool{"walk": true})
	require.NoError(t, err)
	assert.Equal(t, 7, entry.Score)
	_, err = env.progress.SaveDailyLog(ctx, rec.ID, "2026-03-01", 3, nil)
	require.NoError(t, err, "today's check-in can be rewritten")

	_, err = env.progress.SaveDailyLog(ctx, rec.ID, "2026-02-27", 9, nil)
	require.NoError(t, err, "a missed earlier day can be filled in once")
	_, err = env.progress.SaveDailyLog(ctx, rec.ID, "2026-02-27", 1, nil)
	assert.ErrorIs(t, err, ErrDailyLogFinal)

	_, err = env.progress.SaveDailyLog(ctx, rec.ID, "2026-03-02", 5, nil)
	var ve validation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "date", ve.Field)

	got, err := env.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.DailyLogs["2026-03-01"].Score)
	assert.Equal(t, 9, got.DailyLogs["2026-02-27"].Score)
	assert.NotContains(t, got.DailyLogs, "2026-03-02")
	// daily logs do not move the record version
	assert.Equal(t, rec.Version, got.Version)
}

func TestEnforceDeadlinesLocksMissedDays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// day 1 opened by date, its deadline an hour away
	deadline := time.Now().Add(time.Hour).UTC()
	cfg := &models.SiteConfiguration{
		ActiveDays: models.DaySet{1, 2},
		Days: map[int]models.DaySchedule{
			1: {UnlockAt: "2020-01-01", AssignmentDeadline: deadline.Format(time.RFC3339)},
			2: {UnlockAt: "2099-01-01"},
		},
	}
	require.NoError(t, env.settings.SaveSiteConfig(ctx, cfg))

	rec, err := env.progress.StartSession(ctx, "dev-late", signLineToken(t, "U-late"))
	require.NoError(t, err)
	onTime, err := env.progress.StartSession(ctx, "dev-ontime", signLineToken(t, "U-ontime"))
	require.NoError(t, err)
	_, err = env.progress.SubmitAnswers(ctx, onTime.ID, 1, onTime.Version, map[string]string{"field1": "done"})
	require.NoError(t, err)

	n, err := env.progress.EnforceDeadlines(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is locked before the deadline")

	env.progress.now = func() time.Time { return deadline.Add(time.Minute) }
	n, err = env.progress.EnforceDeadlines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLocked)
	other, err := env.repo.GetByID(ctx, onTime.ID)
	require.NoError(t, err)
	assert.False(t, other.IsLocked, "completed day is not a miss")

	// a second sweep has nothing left to do
	n, err = env.progress.EnforceDeadlines(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the locked participant can now petition, and approval sticks
	req, err := env.revival.Submit(ctx, rec.ID, "I was away for work and missed the deadline")
	require.NoError(t, err)
	coach, err := env.auth.CreateAdmin(ctx, "coach@example.com", "password123", "Coach")
	require.NoError(t, err)
	env.revival.now = func() time.Time { return deadline.Add(time.Hour) }
	_, err = env.revival.Approve(ctx, req.ID, coach.ID)
	require.NoError(t, err)

	env.progress.now = func() time.Time { return deadline.Add(2 * time.Hour) }
	n, err = env.progress.EnforceDeadlines(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a waived deadline does not lock again")

	env.notifier.Close()
	lockedOut := Notification{Kind: KindLockedOut, Fields: map[string]string{"day": "1"}}
	assert.Contains(t, env.messenger.pushed(), "U-late|"+lockedOut.Text())
}

func TestAdminTwoStepReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openProgram(t, 2)

	rec, err := env.progress.StartSession(ctx, "dev", "")
	require.NoError(t, err)
	rec, err = env.progress.SubmitDiagnosis(ctx, rec.ID, rec.Version, string(models.BrainRight2D))
	require.NoError(t, err)
	res, err := env.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version, map[string]string{"field1": "a"})
	require.NoError(t, err)
	_, err = env.progress.SaveDailyLog(ctx, rec.ID, "2026-03-02", 5, nil)
	require.NoError(t, err)

	challenge, err := env.admin.RequestReset(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.Version, challenge.Version)

	_, err = env.admin.ConfirmReset(ctx, rec.ID, "bogus")
	assert.ErrorIs(t, err, security.ErrInvalidConfirmation)

	// a write after the challenge invalidates it
	_, err = env.progress.MarkGiftSent(ctx, rec.ID, res.Record.Version)
	require.NoError(t, err)
	_, err = env.admin.ConfirmReset(ctx, rec.ID, challenge.Token)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	challenge, err = env.admin.RequestReset(ctx, rec.ID)
	require.NoError(t, err)
	view, err := env.admin.ConfirmReset(ctx, rec.ID, challenge.Token)
	require.NoError(t, err)

	got := view.Record
	assert.Equal(t, models.PhasePassenger, got.Phase)
	assert.Nil(t, got.BrainType)
	assert.Empty(t, got.DayFields)
	assert.Equal(t, 0, got.ProgressPercent)
	assert.False(t, got.GiftSent)
	// both thresholds have passed, so the reset record still sees days 1 and 2
	assert.Equal(t, models.DaySet{1, 2}, view.UnlockedDays)

	stored, err := env.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.DailyLogs)
}

func TestAdminOverridesAndSiteConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openProgram(t, 5)

	rec, err := env.progress.StartSession(ctx, "dev", "")
	require.NoError(t, err)

	view, err := env.admin.SetUnlockedDays(ctx, rec.ID, rec.Version, []int{3, 3, 1})
	require.NoError(t, err)
	assert.Equal(t, models.DaySet{1, 3}, view.UnlockedDays)

	_, err = env.admin.SetUnlockedDays(ctx, rec.ID, view.Record.Version, []int{0})
	require.Error(t, err)

	view, err = env.admin.SetUnlockedDays(ctx, rec.ID, view.Record.Version, nil)
	require.NoError(t, err)
	assert.Nil(t, view.Record.UnlockedDaysOverride)

	saved, err := env.admin.SaveSiteConfig(ctx, &models.SiteConfiguration{
		ActiveDays: models.DaySet{1, 2},
		Days: map[int]models.DaySchedule{
			1: {UnlockAt: "2026-02-30"},
			2: {UnlockAt: "2026-03-01T09:00:00+09:00"},
		},
	})
	require.NoError(t, err)
	require.Len(t, saved.Warnings, 1)
	assert.Contains(t, saved.Warnings[0], "day 1")
	assert.Equal(t, "2026-02-30", saved.Config.Days[1].UnlockAt)

	list, err := env.admin.ListParticipants(ctx, repository.ProgressFilter{Phase: models.PhasePassenger})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.admin.GetParticipant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevivalFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.progress.StartSession(ctx, "dev", signLineToken(t, "U-erin"))
	require.NoError(t, err)
	reason := "I was sick for a week and want to continue"

	_, err = env.revival.Submit(ctx, rec.ID, reason)
	assert.ErrorIs(t, err, ErrNotLocked)

	view, err := env.admin.SetLocked(ctx, rec.ID, rec.Version, true)
	require.NoError(t, err)

	_, err = env.revival.Submit(ctx, rec.ID, "too short")
	require.Error(t, err)

	req, err := env.revival.Submit(ctx, rec.ID, reason)
	require.NoError(t, err)
	assert.Equal(t, models.RevivalPending, req.Status)

	_, err = env.revival.Submit(ctx, rec.ID, reason)
	assert.ErrorIs(t, err, ErrRevivalPending)

	env.email.Close()
	require.Len(t, env.ses.sent, 1)

	coach, err := env.auth.CreateAdmin(ctx, "coach@example.com", "password123", "Coach")
	require.NoError(t, err)

	decided, err := env.revival.Approve(ctx, req.ID, coach.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RevivalApproved, decided.Status)

	_, err = env.revival.Reject(ctx, req.ID, coach.ID)
	assert.ErrorIs(t, err, repository.ErrAlreadyDecided)

	got, err := env.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLocked)
	assert.NotNil(t, got.DeadlinesWaivedAt)
	assert.Greater(t, got.Version, view.Record.Version)

	env.notifier.Close()
	assert.Len(t, env.messenger.pushed(), 1)
}

func TestChatLogAndReplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.progress.StartSession(ctx, "dev", signLineToken(t, "U-frank"))
	require.NoError(t, err)

	msg, err := env.chat.RecordInbound(ctx, "U-frank", "I finished today!")
	require.NoError(t, err)
	require.NotNil(t, msg.ProgressID)
	assert.Equal(t, rec.ID, *msg.ProgressID)

	stranger, err := env.chat.RecordInbound(ctx, "U-unknown", "hello?")
	require.NoError(t, err)
	assert.Nil(t, stranger.ProgressID)

	_, err = env.chat.SendReply(ctx, rec.ID, "Great job!")
	require.NoError(t, err)
	assert.Len(t, env.messenger.pushed(), 1)

	msgs, err := env.chat.ListMessages(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, models.DirectionOutbound, msgs[1].Direction)

	sugg, err := env.chat.SuggestReplies(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, sugg.Fallback)
	assert.NotEmpty(t, sugg.Items)

	anon, err := env.progress.StartSession(ctx, "dev-anon", "")
	require.NoError(t, err)
	_, err = env.chat.SendReply(ctx, anon.ID, "hi")
	assert.ErrorIs(t, err, ErrNoLineIdentity)

	require.NoError(t, env.chat.HandleFollow(ctx, "U-frank", "reply-token"))
	assert.Len(t, env.messenger.replies, 1)
}

func TestAuthServiceLoginAndSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.CreateAdmin(ctx, "Admin@Example.com", "password123", "Admin")
	require.NoError(t, err)
	_, err = env.auth.CreateAdmin(ctx, "admin@example.com", "password123", "Admin")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = env.auth.Login(ctx, "admin@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	session, user, err := env.auth.Login(ctx, "ADMIN@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)

	got, err := env.auth.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, _, err = env.auth.LineLogin(ctx, "line-sub")
	assert.ErrorIs(t, err, ErrLineNotLinked)
	require.NoError(t, env.auth.LinkLine(ctx, "admin@example.com", "line-sub"))
	_, lineUser, err := env.auth.LineLogin(ctx, "line-sub")
	require.NoError(t, err)
	assert.Equal(t, user.ID, lineUser.ID)

	require.NoError(t, env.auth.Logout(ctx, session.ID))
	_, err = env.auth.ValidateSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSuggestionFallbacks(t *testing.T) {
	log := logger.NewNop()
	ctx := context.Background()
	req := SuggestionRequest{Subject: "reply", Context: []string{"hello"}}

	tests := []struct {
		name         string
		gen          Generator
		wantFallback bool
		wantFirst    string
	}{
		{name: "no generator", gen: nil, wantFallback: true},
		{name: "generator error", gen: &fakeGenerator{err: errors.New("quota")}, wantFallback: true},
		{name: "malformed json", gen: &fakeGenerator{out: "sure! here you go"}, wantFallback: true},
		{name: "empty list", gen: &fakeGenerator{out: `{"suggestions": ["  "]}`}, wantFallback: true},
		{name: "valid", gen: &fakeGenerator{out: `{"suggestions": ["Keep going!", "Nice"]}`}, wantFirst: "Keep going!"},
		{name: "fenced", gen: &fakeGenerator{out: "```json\n{\"suggestions\": [\"Fenced\"]}\n```"}, wantFirst: "Fenced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewSuggestionService(tt.gen, time.Second, log)
			out := svc.Suggest(ctx, req)
			assert.Equal(t, tt.wantFallback, out.Fallback)
			require.NotEmpty(t, out.Items)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, out.Items[0])
			}
		})
	}
}

func TestNotificationServiceDisabledAndFailures(t *testing.T) {
	log := logger.NewNop()
	ctx := context.Background()

	disabled := NewNotificationService(nil, log)
	assert.False(t, disabled.IsEnabled())
	assert.NoError(t, disabled.Dispatch(ctx, Notification{Recipient: "U1", Kind: KindPromoted}))
	assert.ErrorIs(t, disabled.Dispatch(ctx, Notification{Kind: KindPromoted}), ErrNoRecipient)

	failing := NewNotificationService(&fakeMessenger{err: errors.New("LINE down")}, log)
	assert.Error(t, failing.Dispatch(ctx, Notification{Recipient: "U1", Kind: KindPromoted}))
	// async failures are swallowed
	failing.DispatchAsync(Notification{Recipient: "U1", Kind: KindPromoted})
	failing.Close()
}

func TestNotificationText(t *testing.T) {
	n := Notification{Kind: KindRewardUnlocked, Fields: map[string]string{"day": "3", "url": "https://x.example/r.png"}}
	assert.Equal(t, "Day 3 reward unlocked!\nhttps://x.example/r.png", n.Text())

	reply := Notification{Kind: KindAdminReply, Fields: map[string]string{"text": "hi"}}
	assert.Equal(t, "hi", reply.Text())
}

func TestBackupRoundTrip(t *testing.T) {
	src := newTestEnv(t)
	ctx := context.Background()
	src.openProgram(t, 2)
	require.NoError(t, src.days.Upsert(ctx, &models.DaySetting{Day: 1, Title: "Kickoff", Prompts: []string{"Why now?"}}))

	rec, err := src.progress.StartSession(ctx, "dev", signLineToken(t, "U-gina"))
	require.NoError(t, err)
	res, err := src.progress.SubmitAnswers(ctx, rec.ID, 1, rec.Version, map[string]string{"field1": "because"})
	require.NoError(t, err)
	_, err = src.progress.SaveDailyLog(ctx, rec.ID, "2026-04-01", 8, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	exported, err := src.backup.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Len(t, exported.Records, 1)

	dst := newTestEnv(t)
	stats, err := dst.backup.Import(ctx, &buf, true)
	require.NoError(t, err)
	assert.Equal(t, &ImportStats{Records: 1, Days: 1}, stats)

	got, err := dst.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.Record.Version, got.Version)
	assert.Equal(t, "U-gina", got.LineUserID())
	assert.True(t, got.DayDone(1))
	assert.Equal(t, 8, got.DailyLogs["2026-04-01"].Score)

	cfg, err := dst.settings.GetSiteConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DaySet{1, 2}, cfg.ActiveDays)

	_, err = dst.backup.Import(ctx, strings.NewReader(`{"version":"9"}`), false)
	require.Error(t, err)
}

func TestContentSeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "days.yaml")
	content := `active_days: [1, 2]
schedule:
  1:
    unlock_at: "2026-05-01"
  2:
    unlock_at: "2026-05-02"
    assignment_deadline: "2026-05-03T23:59:00+09:00"
days:
  - day: 1
    title: Know yourself
    prompts:
      - What do you want to change?
  - day: 2
    title: First step
    reward_url: https://cdn.example.com/r2.png
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	n, err := env.content.Seed(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cfg, err := env.settings.GetSiteConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DaySet{1, 2}, cfg.ActiveDays)
	assert.Equal(t, "2026-05-03T23:59:00+09:00", cfg.Days[2].AssignmentDeadline)

	// seeding twice leaves existing content alone
	n, err = env.content.Seed(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = env.content.Seed(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
