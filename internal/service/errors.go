package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDayLocked         = errors.New("day is not unlocked yet")
	ErrWindowClosed      = errors.New("submission window has closed")
	ErrParticipantLocked = errors.New("participant is locked")
	ErrNotLocked         = errors.New("participant is not locked")
	ErrRevivalPending    = errors.New("a revival request is already pending")
	ErrInvalidIdentity   = errors.New("LINE identity could not be verified")
	ErrNoLineIdentity    = errors.New("participant has not linked a LINE account")
	ErrTooManyImages     = errors.New("vision image limit reached")
	ErrDailyLogFinal     = errors.New("check-ins from earlier days cannot be changed")
)
