package handlers

import (
	"net/http"

	"coach21/internal/security"
)

// Routes bundles everything RegisterRoutes mounts
type Routes struct {
	Middleware  *Middleware
	Participant *ParticipantHandler
	Admin       *AdminHandler
	Auth        *AuthHandler
	Webhook     *WebhookHandler
	// SessionLimiter throttles /api/session and /admin/login
	SessionLimiter *security.RateLimiter
}

// RegisterRoutes mounts the participant API, the admin API and the LINE webhook on mux
func RegisterRoutes(mux *http.ServeMux, rt Routes) {
	m := rt.Middleware
	p := rt.Participant
	a := rt.Admin

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, r, map[string]string{"status": "ok"})
	})

	// LINE
	mux.HandleFunc("POST /webhook/line", rt.Webhook.Callback)

	// Participant (LIFF) routes
	mux.HandleFunc("POST /api/session", m.RateLimit(rt.SessionLimiter, p.StartSession))
	mux.HandleFunc("GET /api/me", m.RequireParticipant(p.Me))
	mux.HandleFunc("POST /api/diagnosis", m.RequireParticipant(p.SubmitDiagnosis))
	mux.HandleFunc("GET /api/days/{day}", m.RequireParticipant(p.GetDay))
	mux.HandleFunc("POST /api/days/{day}/answers", m.RequireParticipant(p.SubmitAnswers))
	mux.HandleFunc("POST /api/days/{day}/reward", m.RequireParticipant(p.ViewReward))
	mux.HandleFunc("POST /api/vision-images", m.RequireParticipant(p.AddVisionImage))
	mux.HandleFunc("POST /api/gift", m.RequireParticipant(p.MarkGiftSent))
	mux.HandleFunc("PUT /api/daily-logs/{date}", m.RequireParticipant(p.SaveDailyLog))
	mux.HandleFunc("POST /api/revival", m.RequireParticipant(p.SubmitRevival))

	// Admin auth
	mux.HandleFunc("POST /admin/login", m.RateLimit(rt.SessionLimiter, rt.Auth.Login))
	mux.HandleFunc("POST /admin/logout", rt.Auth.Logout)
	mux.HandleFunc("GET /admin/auth/line/start", rt.Auth.StartLineLogin)
	mux.HandleFunc("GET /admin/auth/line/callback", rt.Auth.LineLoginCallback)
	mux.HandleFunc("GET /admin/api/csrf", m.RequireAdmin(rt.Auth.CSRFToken))

	// Admin API
	mux.HandleFunc("GET /admin/api/participants", m.Admin(a.ListParticipants))
	mux.HandleFunc("GET /admin/api/participants/{id}", m.Admin(a.GetParticipant))
	mux.HandleFunc("PUT /admin/api/participants/{id}/unlocked-days", m.Admin(a.SetUnlockedDays))
	mux.HandleFunc("POST /admin/api/participants/{id}/lock", m.Admin(a.Lock))
	mux.HandleFunc("POST /admin/api/participants/{id}/unlock", m.Admin(a.Unlock))
	mux.HandleFunc("POST /admin/api/participants/{id}/reset", m.Admin(a.RequestReset))
	mux.HandleFunc("POST /admin/api/participants/{id}/reset/confirm", m.Admin(a.ConfirmReset))
	mux.HandleFunc("GET /admin/api/participants/{id}/messages", m.Admin(a.ListMessages))
	mux.HandleFunc("POST /admin/api/participants/{id}/messages", m.Admin(a.SendMessage))
	mux.HandleFunc("POST /admin/api/participants/{id}/suggestions", m.Admin(a.SuggestReplies))

	mux.HandleFunc("GET /admin/api/site-config", m.Admin(a.GetSiteConfig))
	mux.HandleFunc("PUT /admin/api/site-config", m.Admin(a.SaveSiteConfig))
	mux.HandleFunc("GET /admin/api/days", m.Admin(a.ListDays))
	mux.HandleFunc("PUT /admin/api/days/{day}", m.Admin(a.UpsertDay))

	mux.HandleFunc("GET /admin/api/revivals", m.Admin(a.ListRevivals))
	mux.HandleFunc("POST /admin/api/revivals/{id}/approve", m.Admin(a.ApproveRevival))
	mux.HandleFunc("POST /admin/api/revivals/{id}/reject", m.Admin(a.RejectRevival))
}
