package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"coach21/internal/apierr"
	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/security"
	"coach21/internal/service"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	UserContextKey        ContextKey = "user"
	SessionContextKey     ContextKey = "session_id"
	ParticipantContextKey ContextKey = "progress_id"
	RequestIDContextKey   ContextKey = "request_id"
)

// Middleware holds dependencies for middleware functions
type Middleware struct {
	authService *service.AuthService
	tokens      *security.TokenIssuer
	csrf        *security.CSRFGenerator
	log         *logger.Logger
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(authService *service.AuthService, tokens *security.TokenIssuer, csrf *security.CSRFGenerator, log *logger.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		tokens:      tokens,
		csrf:        csrf,
		log:         log,
	}
}

// RequireParticipant accepts a Bearer participant token issued by /api/session
func (m *Middleware) RequireParticipant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := security.BearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, r, m.log, apierr.Unauthorized("missing bearer token"))
			return
		}
		progressID, err := m.tokens.Parse(raw)
		if err != nil {
			writeError(w, r, m.log, err)
			return
		}
		ctx := context.WithValue(r.Context(), ParticipantContextKey, progressID)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin is middleware that requires a valid admin session cookie
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, r, m.log, apierr.Unauthorized("login required"))
			return
		}

		user, err := m.authService.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			// Clear invalid cookie
			http.SetCookie(w, security.CreateDeleteCookie(r, SessionCookieName))
			writeError(w, r, m.log, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, SessionContextKey, cookie.Value)
		next(w, r.WithContext(ctx))
	}
}

// CSRFProtect checks the CSRF header on state-changing admin requests.
// It must run inside RequireAdmin.
func (m *Middleware) CSRFProtect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next(w, r)
			return
		}
		sessionID, _ := r.Context().Value(SessionContextKey).(string)
		if !m.csrf.ValidateToken(sessionID, r.Header.Get(CSRFHeaderName)) {
			writeError(w, r, m.log, apierr.New(http.StatusForbidden, apierr.CodeForbidden, errCSRF))
			return
		}
		next(w, r)
	}
}

// RateLimit rejects clients that exceed limiter's budget
func (m *Middleware) RateLimit(limiter *security.RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(security.GetClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, r, m.log, apierr.New(http.StatusTooManyRequests, apierr.CodeRateLimited, errRateLimited))
			return
		}
		next(w, r)
	}
}

// Admin chains session auth and CSRF protection
func (m *Middleware) Admin(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAdmin(m.CSRFProtect(next))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging assigns a request id and logs every request once it completes
func Logging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", requestID,
		)
	})
}

// GetUserFromContext retrieves the admin user from the request context
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// ParticipantIDFromContext returns the progress record id of the authenticated participant
func ParticipantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ParticipantContextKey).(string)
	return id
}

// RequestIDFromContext returns the id assigned by Logging, or ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}
