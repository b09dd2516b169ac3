package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"coach21/internal/logger"
	"coach21/internal/models"
	"coach21/internal/repository"
	"coach21/internal/validation"
)

// RevivalService handles locked participants asking to be let back in
type RevivalService struct {
	revivalRepo  *repository.RevivalRepository
	progressRepo *repository.ProgressRepository
	email        *EmailService
	notifier     *NotificationService
	minLength    int
	log          *logger.Logger
	now          func() time.Time
}

// NewRevivalService creates a new revival service
func NewRevivalService(
	revivalRepo *repository.RevivalRepository,
	progressRepo *repository.ProgressRepository,
	email *EmailService,
	notifier *NotificationService,
	minLength int,
	log *logger.Logger,
) *RevivalService {
	if minLength <= 0 {
		minLength = 20
	}
	return &RevivalService{
		revivalRepo:  revivalRepo,
		progressRepo: progressRepo,
		email:        email,
		notifier:     notifier,
		minLength:    minLength,
		log:          log,
		now:          time.Now,
	}
}

// Submit stores a petition from a locked participant and alerts the admin by email
func (s *RevivalService) Submit(ctx context.Context, progressID, reason string) (*models.RevivalRequest, error) {
	if err := validation.ValidateRevivalReason(reason, s.minLength); err != nil {
		return nil, err
	}
	rec, err := s.progressRepo.GetByID(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if !rec.IsLocked {
		return nil, ErrNotLocked
	}
	pending, err := s.revivalRepo.HasPending(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrRevivalPending
	}

	req, err := s.revivalRepo.Create(ctx, progressID, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	s.log.Info("Revival request submitted", "progress_id", progressID, "revival_id", req.ID)
	s.email.SendRevivalAlertAsync(req, rec)
	return req, nil
}

func (s *RevivalService) List(ctx context.Context, status models.RevivalStatus) ([]models.RevivalRequest, error) {
	return s.revivalRepo.List(ctx, status)
}

// Approve decides the request and unlocks the participant
func (s *RevivalService) Approve(ctx context.Context, id, adminID int64) (*models.RevivalRequest, error) {
	req, err := s.decide(ctx, id, models.RevivalApproved, adminID)
	if err != nil {
		return nil, err
	}

	rec, err := s.unlock(ctx, req.ProgressID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Revival approved", "revival_id", id, "progress_id", req.ProgressID)
	s.notifier.DispatchAsync(Notification{Recipient: rec.LineUserID(), Kind: KindRevivalApproved})
	return s.revivalRepo.GetByID(ctx, id)
}

// Reject decides the request without touching the participant
func (s *RevivalService) Reject(ctx context.Context, id, adminID int64) (*models.RevivalRequest, error) {
	if _, err := s.decide(ctx, id, models.RevivalRejected, adminID); err != nil {
		return nil, err
	}
	s.log.Info("Revival rejected", "revival_id", id)
	return s.revivalRepo.GetByID(ctx, id)
}

func (s *RevivalService) decide(ctx context.Context, id int64, status models.RevivalStatus, adminID int64) (*models.RevivalRequest, error) {
	req, err := s.revivalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if err := s.revivalRepo.Decide(ctx, id, status, adminID); err != nil {
		return nil, err
	}
	return req, nil
}

// unlock clears IsLocked on the current version, retrying once if a
// participant write lands in between.
func (s *RevivalService) unlock(ctx context.Context, progressID string) (*models.ProgressRecord, error) {
	clear := func(rec *models.ProgressRecord) (bool, error) {
		if !rec.IsLocked {
			return false, nil
		}
		rec.Unlock(s.now())
		return true, nil
	}
	rec, err := mutateRecord(ctx, s.progressRepo, progressID, anyVersion, clear)
	if errors.Is(err, repository.ErrVersionConflict) {
		rec, err = mutateRecord(ctx, s.progressRepo, progressID, anyVersion, clear)
	}
	return rec, err
}
