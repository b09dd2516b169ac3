package handlers

import (
	"net/http"
	"strconv"
	"time"

	"coach21/internal/apierr"
	"coach21/internal/logger"
	"coach21/internal/security"
	"coach21/internal/service"
)

// ParticipantHandler serves the LIFF app's JSON API
type ParticipantHandler struct {
	progress *service.ProgressService
	revival  *service.RevivalService
	tokens   *security.TokenIssuer
	log      *logger.Logger
}

// NewParticipantHandler creates a new participant handler
func NewParticipantHandler(progress *service.ProgressService, revival *service.RevivalService, tokens *security.TokenIssuer, log *logger.Logger) *ParticipantHandler {
	return &ParticipantHandler{progress: progress, revival: revival, tokens: tokens, log: log}
}

func pathDay(r *http.Request) (int, error) {
	day, err := strconv.Atoi(r.PathValue("day"))
	if err != nil {
		return 0, apierr.BadRequest("day must be a number")
	}
	return day, nil
}

type sessionRequest struct {
	DeviceID string `json:"device_id"`
	IDToken  string `json:"id_token"`
}

type sessionResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	ProgressID string    `json:"progress_id"`
	Version    int64     `json:"version"`
	Linked     bool      `json:"linked"`
}

// StartSession handles POST /api/session
func (h *ParticipantHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	rec, err := h.progress.StartSession(r.Context(), req.DeviceID, req.IDToken)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	token, expires, err := h.tokens.Issue(rec.ID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, sessionResponse{
		Token:      token,
		ExpiresAt:  expires,
		ProgressID: rec.ID,
		Version:    rec.Version,
		Linked:     rec.ExternalIdentity != nil,
	})
}

// Me handles GET /api/me
func (h *ParticipantHandler) Me(w http.ResponseWriter, r *http.Request) {
	snap, err := h.progress.Snapshot(r.Context(), ParticipantIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, snap)
}

type diagnosisRequest struct {
	BrainType string `json:"brain_type"`
	Version   int64  `json:"version"`
}

// SubmitDiagnosis handles POST /api/diagnosis
func (h *ParticipantHandler) SubmitDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req diagnosisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	rec, err := h.progress.SubmitDiagnosis(r.Context(), ParticipantIDFromContext(r.Context()), req.Version, req.BrainType)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, rec)
}

// GetDay handles GET /api/days/{day}
func (h *ParticipantHandler) GetDay(w http.ResponseWriter, r *http.Request) {
	day, err := pathDay(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	view, err := h.progress.GetDay(r.Context(), ParticipantIDFromContext(r.Context()), day)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, view)
}

type answersRequest struct {
	Fields  map[string]string `json:"fields"`
	Version int64             `json:"version"`
}

// SubmitAnswers handles POST /api/days/{day}/answers
func (h *ParticipantHandler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	day, err := pathDay(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.progress.SubmitAnswers(r.Context(), ParticipantIDFromContext(r.Context()), day, req.Version, req.Fields)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, res)
}

type versionRequest struct {
	Version int64 `json:"version"`
}

// ViewReward handles POST /api/days/{day}/reward
func (h *ParticipantHandler) ViewReward(w http.ResponseWriter, r *http.Request) {
	day, err := pathDay(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.progress.ViewReward(r.Context(), ParticipantIDFromContext(r.Context()), day, req.Version)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, res)
}

type visionImageRequest struct {
	URL     string `json:"url"`
	Version int64  `json:"version"`
}

// AddVisionImage handles POST /api/vision-images
func (h *ParticipantHandler) AddVisionImage(w http.ResponseWriter, r *http.Request) {
	var req visionImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	rec, err := h.progress.AddVisionImage(r.Context(), ParticipantIDFromContext(r.Context()), req.Version, req.URL)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, rec)
}

// MarkGiftSent handles POST /api/gift
func (h *ParticipantHandler) MarkGiftSent(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	rec, err := h.progress.MarkGiftSent(r.Context(), ParticipantIDFromContext(r.Context()), req.Version)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, rec)
}

type dailyLogRequest struct {
	Score int             `json:"score"`
	Flags map[string]bool `json:"flags"`
}

// SaveDailyLog handles PUT /api/daily-logs/{date}
func (h *ParticipantHandler) SaveDailyLog(w http.ResponseWriter, r *http.Request) {
	var req dailyLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	entry, err := h.progress.SaveDailyLog(r.Context(), ParticipantIDFromContext(r.Context()), r.PathValue("date"), req.Score, req.Flags)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, entry)
}

type revivalRequest struct {
	Reason string `json:"reason"`
}

// SubmitRevival handles POST /api/revival
func (h *ParticipantHandler) SubmitRevival(w http.ResponseWriter, r *http.Request) {
	var req revivalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	created, err := h.revival.Submit(r.Context(), ParticipantIDFromContext(r.Context()), req.Reason)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeCreated(w, r, created)
}
