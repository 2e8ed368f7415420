package store

import (
	"context"
	"encoding/json"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/schedule"
)

type SlotQuery struct {
	AccountID       string
	TeamMemberID    string
	RangeStart      time.Time
	RangeEnd        time.Time
	DurationMinutes int
}

type CreateReservationInput struct {
	RequestID       string
	AccountID       string
	TeamMemberID    string
	ClientID        string
	ClientUserID    string
	ServiceID       string
	Source          string
	StartsAt        time.Time
	DurationMinutes int
	CreatedAt       time.Time
}

type ReservationActionInput struct {
	RequestID     string
	AccountID     string
	ReservationID string
	ActorRole     string
	ActorID       string
	Reason        string
	OccurredAt    time.Time
}

type RescheduleInput struct {
	ReservationActionInput
	NewStartsAt     time.Time
	NewTeamMemberID string
	DurationMinutes int
}

type CreateTicketInput struct {
	RequestID     string
	AccountID     string
	TeamMemberID  string
	ReservationID string
	ClientID      string
	ClientUserID  string
	ServiceID     string
	CreatedAt     time.Time
}

type CallNextInput struct {
	RequestID    string
	AccountID    string
	TeamMemberID string
	CalledAt     time.Time
}

type CheckInInput struct {
	RequestID  string
	AccountID  string
	TicketID   string
	OccurredAt time.Time
}

// SchedulingStore is the persistence boundary of the engine. The bool
// result on mutating operations reports whether the call performed new
// work: replays of an already-seen request_id return the stored result
// with false.
type SchedulingStore interface {
	ResolveSettings(ctx context.Context, accountID, teamMemberID string) (models.ReservationSettings, error)
	AvailableSlots(ctx context.Context, query SlotQuery) ([]schedule.Slot, error)

	CreateReservation(ctx context.Context, input CreateReservationInput) (models.Reservation, bool, error)
	GetReservation(ctx context.Context, accountID, reservationID string) (models.Reservation, bool, error)
	ConfirmReservation(ctx context.Context, input ReservationActionInput) (models.Reservation, bool, error)
	StartService(ctx context.Context, input ReservationActionInput) (models.Reservation, bool, error)
	CompleteReservation(ctx context.Context, input ReservationActionInput) (models.Reservation, bool, error)
	CancelReservation(ctx context.Context, input ReservationActionInput) (models.Reservation, bool, error)
	NoShowReservation(ctx context.Context, input ReservationActionInput) (models.Reservation, bool, error)
	RescheduleReservation(ctx context.Context, input RescheduleInput) (models.Reservation, bool, error)

	ListQueue(ctx context.Context, accountID, teamMemberID string) ([]models.QueueTicket, error)
	CreateQueueTicket(ctx context.Context, input CreateTicketInput) (models.QueueTicket, bool, error)
	CallNext(ctx context.Context, input CallNextInput) (models.QueueTicket, bool, error)
	CheckInTicket(ctx context.Context, input CheckInInput) (models.QueueTicket, bool, error)

	SweepGraceExpired(ctx context.Context, batchSize int) (int, error)
	SweepLateRelease(ctx context.Context, batchSize int) (int, error)

	ListOutboxEvents(ctx context.Context, accountID string, afterSeq int64, limit int) ([]OutboxEvent, error)
	ListOutboxEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]OutboxEvent, error)
	ListReservationEvents(ctx context.Context, accountID, reservationID string) ([]ReservationEvent, error)
}

// OutboxEvent is one staged domain event. Seq orders events strictly;
// created_at alone cannot, since events staged in one transaction share
// a timestamp.
type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	AccountID string          `json:"account_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
