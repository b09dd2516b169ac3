package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"coach21/internal/apierr"
	"coach21/internal/logger"
	"coach21/internal/security"
	"coach21/internal/service"
)

// LINE Login v2.1 endpoints
var LineLoginEndpoint = oauth2.Endpoint{
	AuthURL:   "https://access.line.me/oauth2/v2.1/authorize",
	TokenURL:  "https://api.line.me/oauth2/v2.1/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const (
	oauthCookieTTL   = 10 * time.Minute
	lineCallbackPath = "/admin/auth/line/callback"
	adminHomePath    = "/admin/"
)

// AuthHandler handles admin login, logout and the LINE Login web flow
type AuthHandler struct {
	authService  *service.AuthService
	csrf         *security.CSRFGenerator
	lineLogin    *oauth2.Config
	lineVerifier *security.LineIDVerifier
	redirectBase string
	log          *logger.Logger
}

// NewAuthHandler creates a new auth handler. lineLogin may be nil when LINE Login is not configured.
func NewAuthHandler(authService *service.AuthService, csrf *security.CSRFGenerator, lineLogin *oauth2.Config, lineVerifier *security.LineIDVerifier, redirectBase string, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		csrf:         csrf,
		lineLogin:    lineLogin,
		lineVerifier: lineVerifier,
		redirectBase: redirectBase,
		log:          log,
	}
}

// NewLineLoginConfig builds the OAuth client for a LINE Login channel, or nil if unset
func NewLineLoginConfig(channelID, channelSecret string) *oauth2.Config {
	if channelID == "" || channelSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     channelID,
		ClientSecret: channelSecret,
		Endpoint:     LineLoginEndpoint,
		Scopes:       []string{"openid", "profile"},
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User      interface{} `json:"user"`
	CSRFToken string      `json:"csrf_token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Login handles POST /admin/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	session, user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	token, err := h.csrf.GenerateToken(session.ID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(r, SessionCookieName, session.ID, session.ExpiresAt))
	h.log.Info("Admin logged in", "user_id", user.ID, "method", "password")
	writeOK(w, r, loginResponse{User: user, CSRFToken: token, ExpiresAt: session.ExpiresAt})
}

// Logout handles POST /admin/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.authService.Logout(r.Context(), cookie.Value); err != nil {
			h.log.Warn("Failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, security.CreateDeleteCookie(r, SessionCookieName))
	writeOK(w, r, nil)
}

// CSRFToken handles GET /admin/api/csrf for an already signed-in admin
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := r.Context().Value(SessionContextKey).(string)
	token, err := h.csrf.GenerateToken(sessionID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeOK(w, r, map[string]interface{}{
		"csrf_token": token,
		"user":       GetUserFromContext(r.Context()),
	})
}

// StartLineLogin handles GET /admin/auth/line/start
func (h *AuthHandler) StartLineLogin(w http.ResponseWriter, r *http.Request) {
	if h.lineLogin == nil {
		writeError(w, r, h.log, apierr.New(http.StatusServiceUnavailable, apierr.CodeBadRequest, errors.New("LINE Login not configured")))
		return
	}

	state := security.GenerateSessionID()
	nonce := security.GenerateSessionID()
	http.SetCookie(w, security.CreateTempCookie(r, oauthStateCookie, state, oauthCookieTTL))
	http.SetCookie(w, security.CreateTempCookie(r, oauthNonceCookie, nonce, oauthCookieTTL))

	config := *h.lineLogin
	config.RedirectURL = h.callbackURL(r)
	authURL := config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("nonce", nonce),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// LineLoginCallback handles GET /admin/auth/line/callback
func (h *AuthHandler) LineLoginCallback(w http.ResponseWriter, r *http.Request) {
	if h.lineLogin == nil {
		writeError(w, r, h.log, apierr.New(http.StatusServiceUnavailable, apierr.CodeBadRequest, errors.New("LINE Login not configured")))
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, r, h.log, apierr.Unauthorized("LINE Login was cancelled"))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, r, h.log, apierr.BadRequest("missing authorization code"))
		return
	}
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		writeError(w, r, h.log, apierr.BadRequest("invalid OAuth state"))
		return
	}
	nonce := ""
	if c, err := r.Cookie(oauthNonceCookie); err == nil {
		nonce = c.Value
	}

	http.SetCookie(w, security.CreateDeleteCookie(r, oauthStateCookie))
	http.SetCookie(w, security.CreateDeleteCookie(r, oauthNonceCookie))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	config := *h.lineLogin
	config.RedirectURL = h.callbackURL(r)
	token, err := config.Exchange(ctx, code)
	if err != nil {
		h.log.Warn("LINE token exchange failed", "error", err)
		writeError(w, r, h.log, apierr.BadRequest("failed to exchange authorization code"))
		return
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		writeError(w, r, h.log, apierr.BadRequest("missing id_token"))
		return
	}
	identity, err := h.lineVerifier.Verify(ctx, idToken, nonce)
	if err != nil {
		h.log.Warn("LINE id token rejected", "error", err)
		writeError(w, r, h.log, apierr.Unauthorized("invalid LINE id token"))
		return
	}

	session, user, err := h.authService.LineLogin(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(r, SessionCookieName, session.ID, session.ExpiresAt))
	h.log.Info("Admin logged in", "user_id", user.ID, "method", "line")
	http.Redirect(w, r, adminHomePath, http.StatusSeeOther)
}

func (h *AuthHandler) callbackURL(r *http.Request) string {
	baseURL := strings.TrimSpace(h.redirectBase)
	if baseURL == "" {
		scheme := "http"
		if security.IsSecureRequest(r) {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return strings.TrimRight(baseURL, "/") + lineCallbackPath
}
