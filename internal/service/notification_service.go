package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"coach21/internal/logger"
)

// NotificationKind selects the message template
type NotificationKind string

const (
	KindRewardUnlocked  NotificationKind = "reward_unlocked"
	KindPromoted        NotificationKind = "promoted"
	KindRevivalApproved NotificationKind = "revival_approved"
	KindAdminReply      NotificationKind = "admin_reply"
	KindLockedOut       NotificationKind = "locked_out"
)

var ErrNoRecipient = errors.New("notification has no recipient")

// Notification is one push message to a LINE user
type Notification struct {
	Recipient string
	Kind      NotificationKind
	Fields    map[string]string
}

// Text renders the message body for the notification kind
func (n Notification) Text() string {
	switch n.Kind {
	case KindRewardUnlocked:
		msg := fmt.Sprintf("Day %s reward unlocked!", n.Fields["day"])
		if extra := n.Fields["message"]; extra != "" {
			msg += "\n" + extra
		}
		if url := n.Fields["url"]; url != "" {
			msg += "\n" + url
		}
		return msg
	case KindPromoted:
		return "Congratulations! You are now a Commander. Keep the streak going."
	case KindLockedOut:
		return fmt.Sprintf("The deadline for Day %s has passed, so your program is paused. You can send a revival request from the app.", n.Fields["day"])
	case KindRevivalApproved:
		return "Your request was approved. Your program is open again."
	default:
		return n.Fields["text"]
	}
}

// LineMessenger is the subset of the Messaging API the services use
type LineMessenger interface {
	Push(ctx context.Context, to, text string) error
	Reply(ctx context.Context, replyToken, text string) error
}

type lineBotMessenger struct {
	bot *linebot.Client
}

// NewLineMessenger wraps a linebot client
func NewLineMessenger(bot *linebot.Client) LineMessenger {
	return &lineBotMessenger{bot: bot}
}

func (m *lineBotMessenger) Push(ctx context.Context, to, text string) error {
	_, err := m.bot.PushMessage(to, linebot.NewTextMessage(text)).WithContext(ctx).Do()
	return err
}

func (m *lineBotMessenger) Reply(ctx context.Context, replyToken, text string) error {
	_, err := m.bot.ReplyMessage(replyToken, linebot.NewTextMessage(text)).WithContext(ctx).Do()
	return err
}

// NotificationService pushes LINE messages to participants
type NotificationService struct {
	messenger LineMessenger
	log       *logger.Logger
	timeout   time.Duration
	enabled   bool
	wg        sync.WaitGroup
}

// NewNotificationService creates a notification service. With no access token
// the service is disabled and only logs what it would have sent.
func NewNotificationService(messenger LineMessenger, log *logger.Logger) *NotificationService {
	if messenger == nil {
		log.Info("Notification service disabled: LINE_CHANNEL_ACCESS_TOKEN not configured")
	}
	return &NotificationService{
		messenger: messenger,
		log:       log,
		timeout:   10 * time.Second,
		enabled:   messenger != nil,
	}
}

// IsEnabled returns whether pushes actually reach LINE
func (s *NotificationService) IsEnabled() bool {
	return s.enabled
}

// Messenger exposes the underlying messenger, nil when disabled
func (s *NotificationService) Messenger() LineMessenger {
	return s.messenger
}

// Dispatch sends n synchronously
func (s *NotificationService) Dispatch(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	if !s.enabled {
		s.log.Info("Skipping notification (service disabled)", "kind", n.Kind, "line_user_id", n.Recipient)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.messenger.Push(ctx, n.Recipient, n.Text()); err != nil {
		return fmt.Errorf("failed to push %s notification: %w", n.Kind, err)
	}
	s.log.Debug("Notification sent", "kind", n.Kind, "line_user_id", n.Recipient)
	return nil
}

// DispatchAsync sends n in the background. Failures are logged only.
func (s *NotificationService) DispatchAsync(n Notification) {
	if n.Recipient == "" {
		s.log.Debug("Notification dropped: participant has no LINE identity", "kind", n.Kind)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Dispatch(context.Background(), n); err != nil {
			s.log.Warn("Notification failed", "kind", n.Kind, "line_user_id", n.Recipient, "error", err)
		}
	}()
}

// Close waits for in-flight background notifications
func (s *NotificationService) Close() {
	s.wg.Wait()
}
