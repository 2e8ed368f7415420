package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"schedcore/scheduling-service/internal/models"
)

// ReservationEvent is one link of the append-only, hash-chained audit
// trail kept per reservation.
type ReservationEvent struct {
	ReservationID string          `json:"reservation_id"`
	Seq           int             `json:"seq"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PrevHash      string          `json:"prev_hash"`
	Hash          string          `json:"hash"`
}

type eventPayload struct {
	ReservationID     string     `json:"reservation_id"`
	AccountID         string     `json:"account_id"`
	TeamMemberID      string     `json:"team_member_id"`
	Status            string     `json:"status"`
	Source            string     `json:"source"`
	StartsAt          *time.Time `json:"starts_at"`
	EndsAt            *time.Time `json:"ends_at"`
	DurationMinutes   int        `json:"duration_minutes"`
	BufferMinutes     int        `json:"buffer_minutes"`
	CreatedAt         *time.Time `json:"created_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	CancelledAt       *time.Time `json:"cancelled_at"`
	CancelReason      string     `json:"cancel_reason"`
	CancelledByUserID string     `json:"cancelled_by_user_id"`
	RescheduledFromID string     `json:"rescheduled_from_id"`
}

// EventPayloadFor serializes the reservation fields an event snapshot
// carries.
func EventPayloadFor(r models.Reservation) (json.RawMessage, error) {
	payload := eventPayload{
		ReservationID:     r.ReservationID,
		AccountID:         r.AccountID,
		TeamMemberID:      r.TeamMemberID,
		Status:            r.Status,
		Source:            r.Source,
		DurationMinutes:   r.DurationMinutes,
		BufferMinutes:     r.BufferMinutes,
		ConfirmedAt:       r.ConfirmedAt,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
		CancelledAt:       r.CancelledAt,
		CancelReason:      r.CancelReason,
		CancelledByUserID: r.CancelledByUserID,
		RescheduledFromID: r.RescheduledFromID,
	}
	if !r.StartsAt.IsZero() {
		starts := r.StartsAt
		payload.StartsAt = &starts
	}
	if !r.EndsAt.IsZero() {
		ends := r.EndsAt
		payload.EndsAt = &ends
	}
	if !r.CreatedAt.IsZero() {
		created := r.CreatedAt
		payload.CreatedAt = &created
	}
	return json.Marshal(payload)
}

// ComputeEventHash chains an event to its predecessor.
func ComputeEventHash(prevHash, reservationID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, reservationID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyEventChain walks the events in sequence order and reports the
// first index whose hash does not match its recomputation, or -1 when
// the chain is intact.
func VerifyEventChain(events []ReservationEvent) int {
	prev := ""
	for i, event := range events {
		expected := ComputeEventHash(prev, event.ReservationID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != expected || event.PrevHash != prev {
			return i
		}
		prev = event.Hash
	}
	return -1
}

// RehydrateReservation folds an event chain back into the reservation's
// latest state.
func RehydrateReservation(events []ReservationEvent) (models.Reservation, error) {
	var reservation models.Reservation
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Reservation{}, err
		}
		if payload.ReservationID != "" {
			reservation.ReservationID = payload.ReservationID
		}
		if payload.AccountID != "" {
			reservation.AccountID = payload.AccountID
		}
		if payload.TeamMemberID != "" {
			reservation.TeamMemberID = payload.TeamMemberID
		}
		if payload.Status != "" {
			reservation.Status = payload.Status
		}
		if payload.Source != "" {
			reservation.Source = payload.Source
		}
		if payload.StartsAt != nil {
			reservation.StartsAt = *payload.StartsAt
		}
		if payload.EndsAt != nil {
			reservation.EndsAt = *payload.EndsAt
		}
		if payload.DurationMinutes != 0 {
			reservation.DurationMinutes = payload.DurationMinutes
		}
		if payload.BufferMinutes != 0 {
			reservation.BufferMinutes = payload.BufferMinutes
		}
		if payload.CreatedAt != nil {
			reservation.CreatedAt = *payload.CreatedAt
		}
		if payload.ConfirmedAt != nil {
			reservation.ConfirmedAt = payload.ConfirmedAt
		}
		if payload.StartedAt != nil {
			reservation.StartedAt = payload.StartedAt
		}
		if payload.CompletedAt != nil {
			reservation.CompletedAt = payload.CompletedAt
		}
		if payload.CancelledAt != nil {
			reservation.CancelledAt = payload.CancelledAt
		}
		if payload.CancelReason != "" {
			reservation.CancelReason = payload.CancelReason
		}
		if payload.CancelledByUserID != "" {
			reservation.CancelledByUserID = payload.CancelledByUserID
		}
		if payload.RescheduledFromID != "" {
			reservation.RescheduledFromID = payload.RescheduledFromID
		}
	}
	return reservation, nil
}
