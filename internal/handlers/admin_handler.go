package handlers

import (
	"net/http"
	"strconv"

	"coach21/internal/apierr"
	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/repository"
	"coach21/internal/service"
	"coach21/internal/validation"
)

// AdminHandler handles the admin console API
type AdminHandler struct {
	admin   *service.AdminService
	revival *service.RevivalService
	chat    *service.ChatService
	log     *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *service.AdminService, revival *service.RevivalService, chat *service.ChatService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, revival: revival, chat: chat, log: log}
}

// ListParticipants handles GET /admin/api/participants
func (h *AdminHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ProgressFilter{SortBy: q.Get("sort")}

	switch phase := models.Phase(q.Get("phase")); phase {
	case "":
	case models.PhasePassenger, models.PhaseCommander:
		filter.Phase = phase
	default:
		writeError(w, r, h.log, validation.ValidationError{Field: "phase", Message: "unknown phase"})
		return
	}
	switch filter.SortBy {
	case "", "updated", "progress":
	default:
		writeError(w, r, h.log, validation.ValidationError{Field: "sort", Message: "sort must be progress or updated"})
		return
	}
	if raw := q.Get("locked"); raw != "" {
		locked, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, h.log, validation.ValidationError{Field: "locked", Message: "locked must be true or false"})
			return
		}
		filter.Locked = &locked
	}

	views, err := h.admin.ListParticipants(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, views)
}

// GetParticipant handles GET /admin/api/participants/{id}
func (h *AdminHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	view, err := h.admin.GetParticipant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, view)
}

type unlockedDaysRequest struct {
	Days    []int `json:"days"`
	Version int64 `json:"version"`
}

// SetUnlockedDays handles PUT /admin/api/participants/{id}/unlocked-days
func (h *AdminHandler) SetUnlockedDays(w http.ResponseWriter, r *http.Request) {
	var req unlockedDaysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	view, err := h.admin.SetUnlockedDays(r.Context(), r.PathValue("id"), req.Version, req.Days)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, view)
}

// Lock handles POST /admin/api/participants/{id}/lock
func (h *AdminHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

// Unlock handles POST /admin/api/participants/{id}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

func (h *AdminHandler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := requireVersion(req.Version); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	view, err := h.admin.SetLocked(r.Context(), r.PathValue("id"), req.Version, locked)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, view)
}

// RequestReset handles POST /admin/api/participants/{id}/reset.
// Nothing is cleared until the returned token comes back to ConfirmReset.
func (h *AdminHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.admin.RequestReset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, challenge)
}

type confirmResetRequest struct {
	Token string `json:"token"`
}

// ConfirmReset handles POST /admin/api/participants/{id}/reset/confirm
func (h *AdminHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Token == "" {
		writeError(w, r, h.log, validation.ValidationError{Field: "token", Message: "token is required"})
		return
	}
	view, err := h.admin.ConfirmReset(r.Context(), r.PathValue("id"), req.Token)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.log.Info("Participant reset", "progress_id", view.Record.ID, "admin_id", adminID(r))
	writeOK(w, r, view)
}

// GetSiteConfig handles GET /admin/api/site-config
func (h *AdminHandler) GetSiteConfig(w http.ResponseWriter, r *http.Request) {
	view, err := h.admin.GetSiteConfig(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, view)
}

// SaveSiteConfig handles PUT /admin/api/site-config
func (h *AdminHandler) SaveSiteConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.SiteConfiguration
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	view, err := h.admin.SaveSiteConfig(r.Context(), &cfg)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, view)
}

// ListDays handles GET /admin/api/days
func (h *AdminHandler) ListDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.admin.ListDays(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, days)
}

// UpsertDay handles PUT /admin/api/days/{day}. The path day wins over the body.
func (h *AdminHandler) UpsertDay(w http.ResponseWriter, r *http.Request) {
	day, err := pathDay(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var setting models.DaySetting
	if err := decodeJSON(r, &setting); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	setting.Day = day
	saved, err := h.admin.UpsertDay(r.Context(), &setting)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, saved)
}

// ListMessages handles GET /admin/api/participants/{id}/messages
func (h *AdminHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, msgs)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage handles POST /admin/api/participants/{id}/messages
func (h *AdminHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	msg, err := h.chat.SendReply(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeCreated(w, r, msg)
}

// SuggestReplies handles POST /admin/api/participants/{id}/suggestions
func (h *AdminHandler) SuggestReplies(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.chat.SuggestReplies(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, suggestions)
}

// ListRevivals handles GET /admin/api/revivals?status=
func (h *AdminHandler) ListRevivals(w http.ResponseWriter, r *http.Request) {
	status := models.RevivalStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.RevivalPending, models.RevivalApproved, models.RevivalRejected:
	default:
		writeError(w, r, h.log, validation.ValidationError{Field: "status", Message: "unknown status"})
		return
	}
	reqs, err := h.revival.List(r.Context(), status)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, reqs)
}

// ApproveRevival handles POST /admin/api/revivals/{id}/approve
func (h *AdminHandler) ApproveRevival(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, h.log, apierr.BadRequest("invalid revival id"))
		return
	}
	req, err := h.revival.Approve(r.Context(), id, adminID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, req)
}

// RejectRevival handles POST /admin/api/revivals/{id}/reject
func (h *AdminHandler) RejectRevival(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, h.log, apierr.BadRequest("invalid revival id"))
		return
	}
	req, err := h.revival.Reject(r.Context(), id, adminID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, req)
}

func adminID(r *http.Request) int64 {
	if user := GetUserFromContext(r.Context()); user != nil {
		return user.ID
	}
	return 0
}
