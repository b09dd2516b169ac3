package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"coach21/internal/apierr"
	"coach21/internal/guard"
	"coach21/internal/logger"
	"coach21/internal/repository"
	"coach21/internal/security"
	"coach21/internal/service"
	"coach21/internal/validation"
)

const maxBodyBytes = 1 << 20

// envelope is the body of every JSON response
type envelope struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Error     string      `json:"error,omitempty"`
	Field     string      `json:"field,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{
		Code:      http.StatusOK,
		Message:   "ok",
		Data:      data,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeCreated(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusCreated, envelope{
		Code:      http.StatusCreated,
		Message:   "created",
		Data:      data,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeError renders err. Internal errors are logged and their detail hidden.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	apiErr := toAPIError(err)
	message := apiErr.Error()
	if apiErr.Status >= http.StatusInternalServerError {
		log.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		message = "internal server error"
	}

	body := envelope{
		Code:      apiErr.Status,
		Message:   message,
		Error:     apiErr.Code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	var ve validation.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Message = ve.Message
	}
	writeJSON(w, apiErr.Status, body)
}

// toAPIError maps service and repository errors onto HTTP statuses in one place
func toAPIError(err error) *apierr.Error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var ve validation.ValidationError
	switch {
	case errors.As(err, &ve):
		return apierr.New(http.StatusUnprocessableEntity, apierr.CodeValidationFailed, err)
	case errors.Is(err, repository.ErrVersionConflict):
		return apierr.New(http.StatusConflict, apierr.CodeVersionConflict, err)
	case errors.Is(err, guard.ErrHeld):
		return apierr.New(http.StatusConflict, apierr.CodeSubmissionInProgress, err)
	case errors.Is(err, service.ErrNotFound):
		return apierr.New(http.StatusNotFound, apierr.CodeNotFound, err)
	case errors.Is(err, service.ErrDayLocked), errors.Is(err, service.ErrParticipantLocked):
		return apierr.New(http.StatusForbidden, apierr.CodeLocked, err)
	case errors.Is(err, service.ErrWindowClosed):
		return apierr.New(http.StatusForbidden, apierr.CodeWindowClosed, err)
	case errors.Is(err, service.ErrInvalidIdentity),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSessionExpired),
		errors.Is(err, security.ErrInvalidToken):
		return apierr.New(http.StatusUnauthorized, apierr.CodeUnauthorized, err)
	case errors.Is(err, service.ErrLineNotLinked):
		return apierr.New(http.StatusForbidden, apierr.CodeForbidden, err)
	case errors.Is(err, service.ErrRevivalPending),
		errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, repository.ErrAlreadyDecided),
		errors.Is(err, service.ErrDailyLogFinal):
		return apierr.New(http.StatusConflict, apierr.CodeConflict, err)
	case errors.Is(err, service.ErrNotLocked),
		errors.Is(err, service.ErrNoLineIdentity),
		errors.Is(err, service.ErrTooManyImages),
		errors.Is(err, security.ErrInvalidConfirmation):
		return apierr.New(http.StatusBadRequest, apierr.CodeBadRequest, err)
	default:
		return apierr.Internal(err)
	}
}

// decodeJSON reads a size-limited JSON body into dst, rejecting unknown fields
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.BadRequest("request body is required")
		}
		return apierr.BadRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// requireVersion checks the client sent the record version it last saw
func requireVersion(version int64) error {
	if version < 1 {
		return validation.ValidationError{Field: "version", Message: "version is required"}
	}
	return nil
}
