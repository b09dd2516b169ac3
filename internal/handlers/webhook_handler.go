package handlers

import (
	"errors"
	"net/http"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"coach21/internal/apierr"
	"coach21/internal/logger"
	"coach21/internal/service"
)

// EventParser verifies and decodes a LINE webhook request. *linebot.Client satisfies it.
type EventParser interface {
	ParseRequest(r *http.Request) ([]*linebot.Event, error)
}

// WebhookHandler receives LINE Messaging API callbacks
type WebhookHandler struct {
	parser EventParser
	chat   *service.ChatService
	log    *logger.Logger
}

// NewWebhookHandler creates a webhook handler. A nil parser disables the endpoint.
func NewWebhookHandler(parser EventParser, chat *service.ChatService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, chat: chat, log: log}
}

// Callback handles POST /webhook/line
func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.parser == nil {
		writeError(w, r, h.log, apierr.New(http.StatusServiceUnavailable, apierr.CodeBadRequest, errors.New("LINE channel not configured")))
		return
	}

	events, err := h.parser.ParseRequest(r)
	if err != nil {
		if errors.Is(err, linebot.ErrInvalidSignature) {
			writeError(w, r, h.log, apierr.BadRequest("invalid signature"))
			return
		}
		writeError(w, r, h.log, apierr.BadRequest("malformed webhook body"))
		return
	}

	for _, ev := range events {
		if ev.Source == nil || ev.Source.UserID == "" {
			continue
		}
		userID := ev.Source.UserID

		switch ev.Type {
		case linebot.EventTypeFollow:
			if err := h.chat.HandleFollow(r.Context(), userID, ev.ReplyToken); err != nil {
				h.log.Warn("Failed to greet follower", "line_user_id", userID, "error", err)
			}
		case linebot.EventTypeMessage:
			msg, ok := ev.Message.(*linebot.TextMessage)
			if !ok {
				continue
			}
			if _, err := h.chat.RecordInbound(r.Context(), userID, msg.Text); err != nil {
				h.log.Error("Failed to store inbound message", "line_user_id", userID, "error", err)
			}
		}
	}

	// LINE retries on non-2xx, so per-event failures are only logged
	writeOK(w, r, nil)
}
