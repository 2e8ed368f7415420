package store

import "errors"

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTeamMemberNotFound  = errors.New("team member not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrTicketNotFound      = errors.New("queue ticket not found")
	ErrValidation          = errors.New("invalid booking request")
	ErrSlotConflict        = errors.New("slot unavailable")
	ErrLockTimeout         = errors.New("resource busy")
	ErrCutoffExceeded      = errors.New("cancellation cutoff exceeded")
	ErrInvalidState        = errors.New("invalid reservation state")
	ErrPermission          = errors.New("actor not permitted")
	ErrEmptyQueue          = errors.New("queue empty")
	ErrQueueDisabled       = errors.New("queue mode disabled")
)
