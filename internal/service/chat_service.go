package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/repository"
	"coach21/internal/validation"
)

const (
	chatHistoryLimit  = 50
	suggestionHistory = 10
	followGreeting    = "Thanks for adding us! Open the menu to start your 21-day program."
	replyTimeout      = 10 * time.Second
)

// ChatService keeps the LINE conversation log the admin console works from
type ChatService struct {
	chatRepo     *repository.ChatRepository
	progressRepo *repository.ProgressRepository
	notifier     *NotificationService
	suggester    *SuggestionService
	log          *logger.Logger
}

// NewChatService creates a new chat service
func NewChatService(
	chatRepo *repository.ChatRepository,
	progressRepo *repository.ProgressRepository,
	notifier *NotificationService,
	suggester *SuggestionService,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		chatRepo:     chatRepo,
		progressRepo: progressRepo,
		notifier:     notifier,
		suggester:    suggester,
		log:          log,
	}
}

// HandleFollow greets a user who just added the official account
func (s *ChatService) HandleFollow(ctx context.Context, lineUserID, replyToken string) error {
	s.log.Info("LINE follow event", "line_user_id", lineUserID)
	messenger := s.notifier.Messenger()
	if messenger == nil || replyToken == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := messenger.Reply(ctx, replyToken, followGreeting); err != nil {
		return fmt.Errorf("failed to reply to follow: %w", err)
	}
	return nil
}

// RecordInbound stores a text message a participant sent to the account
func (s *ChatService) RecordInbound(ctx context.Context, lineUserID, text string) (*models.ChatMessage, error) {
	if lineUserID == "" || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	msg := &models.ChatMessage{
		LineUserID: lineUserID,
		Direction:  models.DirectionInbound,
		Text:       text,
	}
	rec, err := s.progressRepo.GetByExternalIdentity(ctx, lineUserID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		msg.ProgressID = &rec.ID
	}
	if err := s.chatRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) participant(ctx context.Context, progressID string) (*models.ProgressRecord, error) {
	rec, err := s.progressRepo.GetByID(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListMessages returns the participant's recent conversation, oldest first
func (s *ChatService) ListMessages(ctx context.Context, progressID string) ([]models.ChatMessage, error) {
	rec, err := s.participant(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if rec.LineUserID() == "" {
		return []models.ChatMessage{}, nil
	}
	msgs, err := s.chatRepo.ListRecent(ctx, rec.LineUserID(), chatHistoryLimit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// SendReply pushes an admin reply to the participant and logs it
func (s *ChatService) SendReply(ctx context.Context, progressID, text string) (*models.ChatMessage, error) {
	if err := validation.ValidateMessageText(text); err != nil {
		return nil, err
	}
	rec, err := s.participant(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if rec.LineUserID() == "" {
		return nil, ErrNoLineIdentity
	}

	n := Notification{
		Recipient: rec.LineUserID(),
		Kind:      KindAdminReply,
		Fields:    map[string]string{"text": text},
	}
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		ProgressID: &rec.ID,
		LineUserID: rec.LineUserID(),
		Direction:  models.DirectionOutbound,
		Text:       text,
	}
	if err := s.chatRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SuggestReplies drafts replies from the latest messages in the conversation
func (s *ChatService) SuggestReplies(ctx context.Context, progressID string) (*Suggestions, error) {
	rec, err := s.participant(ctx, progressID)
	if err != nil {
		return nil, err
	}
	req := SuggestionRequest{Subject: "reply"}
	if rec.BrainType != nil {
		req.Context = append(req.Context, "Brain type: "+string(*rec.BrainType))
	}
	req.Context = append(req.Context, fmt.Sprintf("Phase: %s, progress %d%%", rec.Phase, rec.ProgressPercent))

	if rec.LineUserID() != "" {
		msgs, err := s.chatRepo.ListRecent(ctx, rec.LineUserID(), suggestionHistory)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			who := "Participant"
			if m.Direction == models.DirectionOutbound {
				who = "Coach"
			}
			req.Context = append(req.Context, who+": "+m.Text)
		}
	}

	out := s.suggester.Suggest(ctx, req)
	return &out, nil
}
