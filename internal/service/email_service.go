package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"coach21/internal/logger"
	"coach21/internal/models"
)

// EmailSender is the part of the SES client the service calls
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService sends admin alert emails via Amazon SES
type EmailService struct {
	client     EmailSender
	fromEmail  string
	fromName   string
	adminEmail string
	appBaseURL string
	enabled    bool
	log        *logger.Logger
	wg         sync.WaitGroup
}

// NewEmailService creates a new email service
func NewEmailService(ctx context.Context, awsRegion, fromEmail, fromName, adminEmail, appBaseURL string, log *logger.Logger) (*EmailService, error) {
	// Without a sender or a recipient there is nothing to do
	if fromEmail == "" || adminEmail == "" {
		log.Info("Email service disabled: SES_FROM_EMAIL or ADMIN_EMAIL not configured")
		return &EmailService{enabled: false, log: log}, nil
	}

	log.Debug("Initializing email service with AWS SES", "region", awsRegion, "from", fromName)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("Email service enabled", "region", awsRegion)
	return NewEmailServiceWithClient(sesv2.NewFromConfig(cfg), fromEmail, fromName, adminEmail, appBaseURL, log), nil
}

// NewEmailServiceWithClient builds the service around an existing sender. It stays disabled without a sender, a from address or an admin address.
func NewEmailServiceWithClient(client EmailSender, fromEmail, fromName, adminEmail, appBaseURL string, log *logger.Logger) *EmailService {
	return &EmailService{
		client:     client,
		fromEmail:  fromEmail,
		fromName:   fromName,
		adminEmail: adminEmail,
		appBaseURL: appBaseURL,
		enabled:    client != nil && fromEmail != "" && adminEmail != "",
		log:        log,
	}
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendRevivalAlert tells the admin address that a locked participant asked to be let back in
func (s *EmailService) SendRevivalAlert(ctx context.Context, req *models.RevivalRequest, rec *models.ProgressRecord) error {
	if !s.enabled {
		s.log.Info("Skipping email send (service disabled): revival alert", "revival_id", req.ID)
		return nil
	}

	link := fmt.Sprintf("%s/admin/revivals/%d", s.appBaseURL, req.ID)
	subject := fmt.Sprintf("Revival request from participant %s", shortID(rec.ID))
	textBody := fmt.Sprintf(`A locked participant has asked to rejoin the program.

Participant: %s
Phase: %s
Progress: %d%%
Submitted: %s

Reason:
%s

Review it here:
%s

---
This is an automated email from Coach21. Please do not reply.
`, rec.ID, rec.Phase, rec.ProgressPercent, req.CreatedAt.Format(time.RFC3339), req.Reason, link)

	return s.sendEmail(ctx, s.adminEmail, subject, textBody)
}

// SendRevivalAlertAsync sends the alert in the background and logs failures
func (s *EmailService) SendRevivalAlertAsync(req *models.RevivalRequest, rec *models.ProgressRecord) {
	if !s.enabled {
		return
	}
	reqCopy, recCopy := *req, rec.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.SendRevivalAlert(ctx, &reqCopy, &recCopy); err != nil {
			s.log.Warn("Revival alert email failed", "revival_id", reqCopy.ID, "error", err)
		}
	}()
}

// Close waits for background sends
func (s *EmailService) Close() {
	s.wg.Wait()
}

// sendEmail sends a plain-text email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if result != nil && result.MessageId != nil {
		s.log.Debug("SES SendEmail succeeded", "message_id", *result.MessageId)
	}

	s.log.Info("Email sent successfully", "subject", subject)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
