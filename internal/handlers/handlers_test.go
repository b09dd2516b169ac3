package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/line/line-bot-sdk-go/v7/linebot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/oauth2"

	"coach21/internal/apierr"
	"coach21/internal/database"
	"coach21/internal/guard"
	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/progression"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/service"
)

func TestMain(m *testing.M) {
	// The genai client's dependencies start an opencensus stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	liffChannelID      = "1650000000"
	liffChannelSecret  = "liff-secret"
	loginChannelID     = "1660000000"
	loginChannelSecret = "login-secret"
	botChannelSecret   = "bot-secret"
	csrfSecret         = "csrf-secret"
)

type fakeMessenger struct {
	mu      sync.Mutex
	pushes  []string
	replies []string
}

func (f *fakeMessenger) Push(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, to+"|"+text)
	return nil
}

func (f *fakeMessenger) Reply(_ context.Context, token, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, token+"|"+text)
	return nil
}

type testServer struct {
	handler   http.Handler
	auth      *service.AuthService
	settings  *repository.SettingsRepository
	messenger *fakeMessenger
	tokenURL  string
}

type serverOptions struct {
	parser    EventParser
	lineLogin *oauth2.Config
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	db, err := database.Initialize(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)

	log := logger.NewNop()
	progressRepo := repository.NewProgressRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	dayRepo := repository.NewDayRepository(db)
	userRepo := repository.NewUserRepository(db)

	messenger := &fakeMessenger{}
	notifier := service.NewNotificationService(messenger, log)
	email := service.NewEmailServiceWithClient(nil, "", "", "", "", log)
	suggester := service.NewSuggestionService(nil, time.Second, log)
	progressOpts := service.ProgressOptions{Mode: progression.ModeProgress, Location: time.UTC, LockTTL: time.Minute}

	authService := service.NewAuthService(userRepo, time.Hour)
	progressService := service.NewProgressService(progressRepo, settingsRepo, dayRepo, guard.NewMemoryGuard(),
		security.NewLineIDVerifier(liffChannelID, liffChannelSecret), notifier, suggester, progressOpts, log)
	adminService := service.NewAdminService(progressRepo, settingsRepo, dayRepo,
		security.NewResetConfirmer("reset-secret", time.Minute), progressOpts, log)
	revivalService := service.NewRevivalService(repository.NewRevivalRepository(db), progressRepo, email, notifier, 20, log)
	chatService := service.NewChatService(repository.NewChatRepository(db), progressRepo, notifier, suggester, log)

	ctx, cancel := context.WithCancel(context.Background())
	tokens := security.NewTokenIssuer("participant-secret", time.Hour)
	csrf := security.NewCSRFGenerator(csrfSecret)
	mw := NewMiddleware(authService, tokens, csrf, log)

	mux := http.NewServeMux()
	RegisterRoutes(mux, Routes{
		Middleware:     mw,
		Participant:    NewParticipantHandler(progressService, revivalService, tokens, log),
		Admin:          NewAdminHandler(adminService, revivalService, chatService, log),
		Auth:           NewAuthHandler(authService, csrf, opts.lineLogin, security.NewLineIDVerifier(loginChannelID, loginChannelSecret), "https://coach.example.com", log),
		Webhook:        NewWebhookHandler(opts.parser, chatService, log),
		SessionLimiter: security.NewRateLimiter(ctx, 100, time.Minute),
	})

	t.Cleanup(func() {
		cancel()
		notifier.Close()
		email.Close()
		db.Close()
	})

	return &testServer{
		handler:   Logging(log, mux),
		auth:      authService,
		settings:  settingsRepo,
		messenger: messenger,
	}
}

type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
	Data    json.RawMessage `json:"data"`
	status  int
	header  http.Header
	cookies []*http.Cookie
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withAdmin(a adminSession) requestOption {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: a.sessionID})
		r.Header.Set(CSRFHeaderName, a.csrf)
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, opts ...requestOption) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, req)

	var resp response
	if recorder.Body.Len() > 0 && strings.HasPrefix(recorder.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	}
	resp.status = recorder.Code
	resp.header = recorder.Header()
	resp.cookies = recorder.Result().Cookies()
	return resp
}

func (r response) decode(t *testing.T, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, dst))
}

// openProgram activates days 1..n. Day 1 is open by date; later days only
// open by completing the day before.
func (s *testServer) openProgram(t *testing.T, n int) {
	t.Helper()
	cfg := &models.SiteConfiguration{Days: map[int]models.DaySchedule{}}
	for d := 1; d <= n; d++ {
		cfg.ActiveDays = append(cfg.ActiveDays, d)
		cfg.Days[d] = models.DaySchedule{UnlockAt: "2099-01-01"}
	}
	cfg.Days[1] = models.DaySchedule{UnlockAt: "2020-01-01"}
	require.NoError(t, s.settings.SaveSiteConfig(context.Background(), cfg))
}

type participant struct {
	token   string
	id      string
	version int64
}

func (s *testServer) startSession(t *testing.T, deviceID, idToken string) participant {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/session", map[string]string{"device_id": deviceID, "id_token": idToken})
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var out sessionResponse
	resp.decode(t, &out)
	require.NotEmpty(t, out.Token)
	return participant{token: out.Token, id: out.ProgressID, version: out.Version}
}

type adminSession struct {
	sessionID string
	csrf      string
}

func (s *testServer) loginAdmin(t *testing.T) adminSession {
	t.Helper()
	_, err := s.auth.CreateAdmin(context.Background(), "coach@example.com", "correct-horse", "Coach")
	require.NoError(t, err)

	resp := s.do(t, http.MethodPost, "/admin/login", loginRequest{Email: "coach@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var out loginResponse
	resp.decode(t, &out)

	var sessionID string
	for _, c := range resp.cookies {
		if c.Name == SessionCookieName {
			sessionID = c.Value
		}
	}
	require.NotEmpty(t, sessionID)
	return adminSession{sessionID: sessionID, csrf: out.CSRFToken}
}

func signIDToken(t *testing.T, channelID, secret, subject, nonce string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": security.LineIssuer,
		"sub": subject,
		"aud": channelID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParticipantProgressFlow(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.openProgram(t, 3)
	p := srv.startSession(t, "device-1", "")

	resp := srv.do(t, http.MethodGet, "/api/me", nil, withBearer(p.token))
	require.Equal(t, http.StatusOK, resp.status)
	var snap service.Snapshot
	resp.decode(t, &snap)
	assert.Equal(t, p.id, snap.Record.ID)
	assert.Equal(t, models.PhasePassenger, snap.Phase)
	assert.Equal(t, models.DaySet{1}, snap.UnlockedDays)

	// day 2 is not open yet
	resp = srv.do(t, http.MethodGet, "/api/days/2", nil, withBearer(p.token))
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, apierr.CodeLocked, resp.Error)

	resp = srv.do(t, http.MethodPost, "/api/days/1/answers", answersRequest{
		Fields:  map[string]string{"field1": "I want to run a marathon"},
		Version: p.version,
	}, withBearer(p.token))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var submitted service.SubmitResult
	resp.decode(t, &submitted)
	assert.Equal(t, models.DaySet{1, 2}, submitted.UnlockedDays)
	assert.NotEmpty(t, submitted.Encouragement)
	assert.Equal(t, p.version+1, submitted.Record.Version)

	// replaying the old version loses the optimistic check
	resp = srv.do(t, http.MethodPost, "/api/days/1/answers", answersRequest{
		Fields:  map[string]string{"field1": "again"},
		Version: p.version,
	}, withBearer(p.token))
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, apierr.CodeVersionConflict, resp.Error)

	resp = srv.do(t, http.MethodGet, "/api/days/2", nil, withBearer(p.token))
	require.Equal(t, http.StatusOK, resp.status)
	var day service.DayView
	resp.decode(t, &day)
	assert.True(t, day.Accessible)
	assert.False(t, day.Done)

	resp = srv.do(t, http.MethodPost, "/api/days/1/reward", versionRequest{Version: submitted.Record.Version}, withBearer(p.token))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var reward service.RewardResult
	resp.decode(t, &reward)
	assert.True(t, reward.FirstView)
}

func TestParticipantRequestValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.openProgram(t, 1)
	p := srv.startSession(t, "device-1", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		field  string
	}{
		{"blank primary answer", http.MethodPost, "/api/days/1/answers", answersRequest{Fields: map[string]string{"field1": "  "}, Version: p.version}, http.StatusUnprocessableEntity, "field1"},
		{"missing version", http.MethodPost, "/api/days/1/answers", answersRequest{Fields: map[string]string{"field1": "x"}}, http.StatusUnprocessableEntity, "version"},
		{"day out of range", http.MethodGet, "/api/days/22", nil, http.StatusUnprocessableEntity, "day"},
		{"day not a number", http.MethodGet, "/api/days/one", nil, http.StatusBadRequest, ""},
		{"bad log date", http.MethodPut, "/api/daily-logs/2024-13-01", dailyLogRequest{Score: 5}, http.StatusUnprocessableEntity, "date"},
		{"unknown body field", http.MethodPost, "/api/gift", map[string]interface{}{"version": p.version, "extra": 1}, http.StatusBadRequest, ""},
		{"revival while unlocked", http.MethodPost, "/api/revival", revivalRequest{Reason: strings.Repeat("please ", 5)}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, tt.method, tt.path, tt.body, withBearer(p.token))
			assert.Equal(t, tt.status, resp.status, resp.Message)
			if tt.field != "" {
				assert.Equal(t, tt.field, resp.Field)
			}
		})
	}
}

func TestParticipantRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	resp := srv.do(t, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = srv.do(t, http.MethodGet, "/api/me", nil, withBearer("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, apierr.CodeUnauthorized, resp.Error)
}

func TestDailyLogSave(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	p := srv.startSession(t, "device-1", "")

	resp := srv.do(t, http.MethodPut, "/api/daily-logs/2024-05-01", dailyLogRequest{Score: 7, Flags: map[string]bool{"walk": true}}, withBearer(p.token))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var entry models.DailyLog
	resp.decode(t, &entry)
	assert.Equal(t, 7, entry.Score)
	assert.True(t, entry.Flags["walk"])

	// an earlier day is final once written
	resp = srv.do(t, http.MethodPut, "/api/daily-logs/2024-05-01", dailyLogRequest{Score: 1}, withBearer(p.token))
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, apierr.CodeConflict, resp.Error)

	resp = srv.do(t, http.MethodPut, "/api/daily-logs/2099-12-31", dailyLogRequest{Score: 5}, withBearer(p.token))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "date", resp.Field)
}

func TestAdminRoutesRequireSessionAndCSRF(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	p := srv.startSession(t, "device-1", "")

	resp := srv.do(t, http.MethodGet, "/admin/api/participants", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	admin := srv.loginAdmin(t)
	resp = srv.do(t, http.MethodGet, "/admin/api/participants", nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status)
	var views []service.ParticipantView
	resp.decode(t, &views)
	require.Len(t, views, 1)
	assert.Equal(t, p.id, views[0].Record.ID)

	noCSRF := adminSession{sessionID: admin.sessionID}
	resp = srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/lock", versionRequest{Version: p.version}, withAdmin(noCSRF))
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = srv.do(t, http.MethodGet, "/admin/api/participants?sort=name", nil, withAdmin(admin))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "sort", resp.Field)

	resp = srv.do(t, http.MethodPost, "/admin/login", loginRequest{Email: "coach@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = srv.do(t, http.MethodPost, "/admin/logout", nil, withAdmin(admin))
	assert.Equal(t, http.StatusOK, resp.status)
	resp = srv.do(t, http.MethodGet, "/admin/api/participants", nil, withAdmin(admin))
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestAdminLockRevivalFlow(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.openProgram(t, 2)
	p := srv.startSession(t, "device-1", signIDToken(t, liffChannelID, liffChannelSecret, "U-alice", ""))
	admin := srv.loginAdmin(t)

	resp := srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/lock", versionRequest{Version: p.version}, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var view service.ParticipantView
	resp.decode(t, &view)
	assert.True(t, view.Record.IsLocked)
	assert.Empty(t, view.AccessibleDays)

	resp = srv.do(t, http.MethodGet, "/api/days/1", nil, withBearer(p.token))
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = srv.do(t, http.MethodPost, "/api/revival", revivalRequest{Reason: "short"}, withBearer(p.token))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)

	resp = srv.do(t, http.MethodPost, "/api/revival", revivalRequest{Reason: "I was travelling and missed two days, please let me back in"}, withBearer(p.token))
	require.Equal(t, http.StatusCreated, resp.status, resp.Message)
	var revival models.RevivalRequest
	resp.decode(t, &revival)
	assert.Equal(t, models.RevivalPending, revival.Status)

	resp = srv.do(t, http.MethodGet, "/admin/api/revivals?status=pending", nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status)
	var pending []models.RevivalRequest
	resp.decode(t, &pending)
	require.Len(t, pending, 1)

	resp = srv.do(t, http.MethodPost, fmt.Sprintf("/admin/api/revivals/%d/approve", revival.ID), nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)

	resp = srv.do(t, http.MethodPost, fmt.Sprintf("/admin/api/revivals/%d/reject", revival.ID), nil, withAdmin(admin))
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = srv.do(t, http.MethodGet, "/api/days/1", nil, withBearer(p.token))
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestAdminResetNeedsConfirmation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.openProgram(t, 3)
	p := srv.startSession(t, "device-1", "")
	admin := srv.loginAdmin(t)

	resp := srv.do(t, http.MethodPost, "/api/days/1/answers", answersRequest{
		Fields: map[string]string{"field1": "goal"}, Version: p.version,
	}, withBearer(p.token))
	require.Equal(t, http.StatusOK, resp.status)

	resp = srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/reset", nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var challenge service.ResetChallenge
	resp.decode(t, &challenge)
	require.NotEmpty(t, challenge.Token)

	resp = srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/reset/confirm", confirmResetRequest{Token: "forged"}, withAdmin(admin))
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/reset/confirm", confirmResetRequest{Token: challenge.Token}, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var view service.ParticipantView
	resp.decode(t, &view)
	assert.Empty(t, view.Record.DayFields)
	assert.Equal(t, 0, view.Record.ProgressPercent)
	assert.Equal(t, models.PhasePassenger, view.Record.Phase)
}

func TestAdminOverrideAndSiteConfig(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.openProgram(t, 5)
	p := srv.startSession(t, "device-1", "")
	admin := srv.loginAdmin(t)

	resp := srv.do(t, http.MethodPut, "/admin/api/participants/"+p.id+"/unlocked-days", unlockedDaysRequest{Days: []int{1, 4}, Version: p.version}, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var view service.ParticipantView
	resp.decode(t, &view)
	assert.Equal(t, models.DaySet{1, 4}, view.UnlockedDays)

	resp = srv.do(t, http.MethodGet, "/api/days/4", nil, withBearer(p.token))
	assert.Equal(t, http.StatusOK, resp.status)

	cfg := models.SiteConfiguration{
		ActiveDays: models.DaySet{1, 2},
		Days:       map[int]models.DaySchedule{2: {UnlockAt: "someday"}},
	}
	resp = srv.do(t, http.MethodPut, "/admin/api/site-config", cfg, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var saved service.SiteConfigView
	resp.decode(t, &saved)
	assert.Len(t, saved.Warnings, 1)

	resp = srv.do(t, http.MethodPut, "/admin/api/days/2", models.DaySetting{Title: "Vision", Prompts: []string{"Where are you in a year?"}}, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status, resp.Message)
	var day models.DaySetting
	resp.decode(t, &day)
	assert.Equal(t, 2, day.Day)

	resp = srv.do(t, http.MethodGet, "/admin/api/days", nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status)
	var days []models.DaySetting
	resp.decode(t, &days)
	assert.Len(t, days, 1)
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(botChannelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s *testServer) postWebhook(t *testing.T, body string, signature string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/line", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", signature)
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, req)
	return recorder.Code
}

func TestWebhookStoresInboundMessages(t *testing.T) {
	bot, err := linebot.New(botChannelSecret, "bot-access-token")
	require.NoError(t, err)
	srv := newTestServer(t, serverOptions{parser: bot})
	p := srv.startSession(t, "device-1", signIDToken(t, liffChannelID, liffChannelSecret, "U-alice", ""))
	admin := srv.loginAdmin(t)

	body := `{"destination":"U0","events":[` +
		`{"type":"follow","replyToken":"reply-1","timestamp":1700000000000,"source":{"type":"user","userId":"U-alice"}},` +
		`{"type":"message","replyToken":"reply-2","timestamp":1700000000001,"source":{"type":"user","userId":"U-alice"},` +
		`"message":{"id":"m1","type":"text","text":"I finished day 1!"}}]}`

	assert.Equal(t, http.StatusBadRequest, srv.postWebhook(t, body, "bad-signature"))
	assert.Equal(t, http.StatusOK, srv.postWebhook(t, body, signWebhook([]byte(body))))

	srv.messenger.mu.Lock()
	assert.Len(t, srv.messenger.replies, 1)
	srv.messenger.mu.Unlock()

	resp := srv.do(t, http.MethodGet, "/admin/api/participants/"+p.id+"/messages", nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status)
	var msgs []models.ChatMessage
	resp.decode(t, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "I finished day 1!", msgs[0].Text)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)

	resp = srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/messages", sendMessageRequest{Text: "Great work!"}, withAdmin(admin))
	require.Equal(t, http.StatusCreated, resp.status, resp.Message)

	srv.messenger.mu.Lock()
	assert.Equal(t, []string{"U-alice|Great work!"}, srv.messenger.pushes)
	srv.messenger.mu.Unlock()

	resp = srv.do(t, http.MethodPost, "/admin/api/participants/"+p.id+"/suggestions", nil, withAdmin(admin))
	require.Equal(t, http.StatusOK, resp.status)
	var suggestions service.Suggestions
	resp.decode(t, &suggestions)
	assert.True(t, suggestions.Fallback)
	assert.NotEmpty(t, suggestions.Items)
}

func TestWebhookDisabledWithoutChannel(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	assert.Equal(t, http.StatusServiceUnavailable, srv.postWebhook(t, `{"events":[]}`, "x"))
}

func TestLineLoginFlow(t *testing.T) {
	var nonce string
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "auth-code" || r.Form.Get("client_id") != loginChannelID {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     signIDToken(t, loginChannelID, loginChannelSecret, "U-coach", nonce),
		})
	}))
	defer tokenServer.Close()

	cfg := NewLineLoginConfig(loginChannelID, loginChannelSecret)
	cfg.Endpoint.TokenURL = tokenServer.URL
	srv := newTestServer(t, serverOptions{lineLogin: cfg})

	_, err := srv.auth.CreateAdmin(context.Background(), "coach@example.com", "correct-horse", "Coach")
	require.NoError(t, err)

	start := srv.do(t, http.MethodGet, "/admin/auth/line/start", nil)
	require.Equal(t, http.StatusFound, start.status)
	location, err := url.Parse(start.header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access.line.me", location.Host)
	assert.Equal(t, "https://coach.example.com/admin/auth/line/callback", location.Query().Get("redirect_uri"))
	state := location.Query().Get("state")
	nonce = location.Query().Get("nonce")
	require.NotEmpty(t, state)

	// keep-alive connections would outlive the test server
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	withOAuthCookies := func(r *http.Request) {
		for _, c := range start.cookies {
			r.AddCookie(c)
		}
		*r = *r.WithContext(context.WithValue(r.Context(), oauth2.HTTPClient, client))
	}
	callback := func() response {
		return srv.do(t, http.MethodGet, "/admin/auth/line/callback?code=auth-code&state="+state, nil, withOAuthCookies)
	}

	// not linked to an admin yet
	resp := callback()
	assert.Equal(t, http.StatusForbidden, resp.status)

	require.NoError(t, srv.auth.LinkLine(context.Background(), "coach@example.com", "U-coach"))
	resp = callback()
	require.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, adminHomePath, resp.header.Get("Location"))

	var sessionID string
	for _, c := range resp.cookies {
		if c.Name == SessionCookieName {
			sessionID = c.Value
		}
	}
	require.NotEmpty(t, sessionID)

	resp = srv.do(t, http.MethodGet, "/admin/auth/line/callback?code=auth-code&state=forged", nil, withOAuthCookies)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	resp := srv.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.status)
}
