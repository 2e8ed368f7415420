package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/schedule"
	"schedcore/scheduling-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListQueue returns the account's live tickets in dispatch order. When
// teamMemberID is set the list narrows to that member's view of the
// queue, which for per-staff accounts includes unassigned walk-ins.
func (s *Store) ListQueue(ctx context.Context, accountID, teamMemberID string) ([]models.QueueTicket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE account_id = $1
			AND status IN ('waiting', 'pre_called', 'called', 'in_service')
		ORDER BY created_at ASC, ticket_id ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.QueueTicket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		if teamMemberID != "" && ticket.TeamMemberID != "" && ticket.TeamMemberID != teamMemberID {
			continue
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedule.OrderTickets(tickets), nil
}

func (s *Store) CreateQueueTicket(ctx context.Context, input store.CreateTicketInput) (models.QueueTicket, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	defer tx.Rollback(ctx)

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return models.QueueTicket{}, false, err
	}

	if existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID); err != nil {
		return models.QueueTicket{}, false, err
	} else if found {
		return existing, false, tx.Commit(ctx)
	}

	settings, err := s.resolveSettings(ctx, tx, input.AccountID, "")
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	if !settings.QueueModeEnabled {
		return models.QueueTicket{}, false, store.ErrQueueDisabled
	}

	now := input.CreatedAt
	if now.IsZero() {
		now = s.clock.Now()
	}

	ticket := models.QueueTicket{
		TicketID:     uuid.NewString(),
		AccountID:    input.AccountID,
		TeamMemberID: input.TeamMemberID,
		ClientID:     input.ClientID,
		ClientUserID: input.ClientUserID,
		ServiceID:    input.ServiceID,
		PriorityTier: models.TierWalkIn,
		Status:       models.TicketWaiting,
		CreatedAt:    now,
		RequestID:    input.RequestID,
	}

	// A checked-in reservation enters the queue at appointment tier and
	// inherits the reservation's staff, client, and service.
	if input.ReservationID != "" {
		reservation, err := lockReservation(ctx, tx, input.AccountID, input.ReservationID)
		if err != nil {
			return models.QueueTicket{}, false, err
		}
		if !reservation.IsActive() {
			return models.QueueTicket{}, false, store.ErrInvalidState
		}
		ticket.ReservationID = reservation.ReservationID
		ticket.PriorityTier = models.TierAppointment
		ticket.TeamMemberID = reservation.TeamMemberID
		ticket.ClientID = reservation.ClientID
		ticket.ClientUserID = reservation.ClientUserID
		ticket.ServiceID = reservation.ServiceID
	}

	ticket.QueueNumber, err = nextQueueNumber(ctx, tx, input.AccountID, now)
	if err != nil {
		return models.QueueTicket{}, false, err
	}

	if err := insertTicket(ctx, tx, ticket); err != nil {
		return models.QueueTicket{}, false, err
	}
	if err := insertOutboxEvent(ctx, tx, ticket.AccountID, "queue.ticket_created", ticket, now); err != nil {
		return models.QueueTicket{}, false, err
	}
	return ticket, true, tx.Commit(ctx)
}

// nextQueueNumber hands out "Q-001", "Q-002", ... per account per day.
func nextQueueNumber(ctx context.Context, tx pgx.Tx, accountID string, at time.Time) (string, error) {
	day := at.UTC().Format("2006-01-02")
	var seq int
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_number_seq (account_id, day, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, day) DO UPDATE SET seq = queue_number_seq.seq + 1
		RETURNING seq
	`, accountID, day)
	if err := row.Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("Q-%03d", seq), nil
}

func insertTicket(ctx context.Context, tx pgx.Tx, t models.QueueTicket) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_tickets (
			ticket_id, queue_number, account_id, team_member_id, reservation_id, client_id,
			client_user_id, service_id, priority_tier, status, created_at, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		t.TicketID, t.QueueNumber, t.AccountID, nullIfEmpty(t.TeamMemberID), nullIfEmpty(t.ReservationID), nullIfEmpty(t.ClientID),
		nullIfEmpty(t.ClientUserID), nullIfEmpty(t.ServiceID), t.PriorityTier, t.Status, t.CreatedAt, t.RequestID,
	)
	return err
}

// CallNext dequeues the highest-priority callable ticket for the
// calling team member and opens its grace window. An empty queue is
// recorded against the request_id so replays do not dequeue a ticket
// that arrived in between.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.QueueTicket, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	defer tx.Rollback(ctx)

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return models.QueueTicket{}, false, err
	}

	if subjectID, found, empty, err := findActionRequest(ctx, tx, "call_next", input.RequestID); err != nil {
		return models.QueueTicket{}, false, err
	} else if found {
		if empty {
			return models.QueueTicket{}, false, store.ErrEmptyQueue
		}
		replay, err := getTicket(ctx, tx, input.AccountID, subjectID)
		if err != nil {
			return models.QueueTicket{}, false, err
		}
		return replay, false, tx.Commit(ctx)
	}

	settings, err := s.resolveSettings(ctx, tx, input.AccountID, "")
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	if !settings.QueueModeEnabled {
		return models.QueueTicket{}, false, store.ErrQueueDisabled
	}

	now := input.CalledAt
	if now.IsZero() {
		now = s.clock.Now()
	}

	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE account_id = $1 AND status IN ('waiting', 'pre_called')
		ORDER BY created_at ASC, ticket_id ASC
		FOR UPDATE SKIP LOCKED
	`, input.AccountID)
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	var candidates []models.QueueTicket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return models.QueueTicket{}, false, err
		}
		candidates = append(candidates, ticket)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.QueueTicket{}, false, err
	}

	picked, ok := schedule.PickNext(candidates, settings.QueueAssignmentMode, input.TeamMemberID)
	if !ok {
		if err := insertActionRequest(ctx, tx, "call_next", input.RequestID, input.AccountID, "", true, now); err != nil {
			return models.QueueTicket{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return models.QueueTicket{}, false, err
		}
		return models.QueueTicket{}, false, store.ErrEmptyQueue
	}

	graceExpiresAt := now.Add(time.Duration(settings.QueueGraceMinutes) * time.Minute)
	picked.Status = models.TicketCalled
	picked.CalledAt = &now
	picked.GraceExpiresAt = &graceExpiresAt
	if picked.TeamMemberID == "" {
		picked.TeamMemberID = input.TeamMemberID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE queue_tickets
		SET status = $2, called_at = $3, grace_expires_at = $4, team_member_id = $5
		WHERE ticket_id = $1
	`, picked.TicketID, picked.Status, picked.CalledAt, picked.GraceExpiresAt, nullIfEmpty(picked.TeamMemberID)); err != nil {
		return models.QueueTicket{}, false, err
	}
	if err := insertOutboxEvent(ctx, tx, picked.AccountID, "queue.called", picked, now); err != nil {
		return models.QueueTicket{}, false, err
	}

	// Nudge the tickets now near the head so their holders can make
	// their way over before being called.
	remaining := candidates[:0:0]
	for _, candidate := range candidates {
		if candidate.TicketID != picked.TicketID {
			remaining = append(remaining, candidate)
		}
	}
	for _, candidate := range schedule.PreCallCandidates(remaining, settings.QueuePreCallThreshold) {
		if _, err := tx.Exec(ctx, `
			UPDATE queue_tickets
			SET status = $2, pre_called_at = $3
			WHERE ticket_id = $1
		`, candidate.TicketID, models.TicketPreCalled, now); err != nil {
			return models.QueueTicket{}, false, err
		}
		if err := insertOutboxEvent(ctx, tx, candidate.AccountID, "queue.pre_call", candidate, now); err != nil {
			return models.QueueTicket{}, false, err
		}
	}

	if err := insertActionRequest(ctx, tx, "call_next", input.RequestID, input.AccountID, picked.TicketID, false, now); err != nil {
		return models.QueueTicket{}, false, err
	}
	return picked, true, tx.Commit(ctx)
}

func getTicket(ctx context.Context, tx pgx.Tx, accountID, ticketID string) (models.QueueTicket, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE ticket_id = $1 AND account_id = $2
	`, ticketID, accountID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueTicket{}, store.ErrTicketNotFound
		}
		return models.QueueTicket{}, err
	}
	return ticket, nil
}

// finishLinkedTicket closes the live ticket a reservation entered the
// queue with, if one exists. Reservations that reach a terminal state
// take their ticket with them so the board does not accumulate
// finished visits.
func finishLinkedTicket(ctx context.Context, tx pgx.Tx, accountID, reservationID, status string, now time.Time) error {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE account_id = $1 AND reservation_id = $2
			AND status IN ('waiting', 'pre_called', 'called', 'in_service')
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, accountID, reservationID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return mapLockError(err)
	}

	ticket.Status = status
	ticket.FinishedAt = &now
	ticket.GraceExpiresAt = nil
	if _, err := tx.Exec(ctx, `
		UPDATE queue_tickets
		SET status = $2, finished_at = $3, grace_expires_at = NULL
		WHERE ticket_id = $1
	`, ticket.TicketID, ticket.Status, ticket.FinishedAt); err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, ticket.AccountID, "queue.ticket_finished", ticket, now)
}

func lockTicket(ctx context.Context, tx pgx.Tx, accountID, ticketID string) (models.QueueTicket, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE ticket_id = $1 AND account_id = $2
		FOR UPDATE
	`, ticketID, accountID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueTicket{}, store.ErrTicketNotFound
		}
		return models.QueueTicket{}, mapLockError(err)
	}
	return ticket, nil
}

// CheckInTicket moves a called ticket into service, closing its grace
// window. A linked reservation starts service in the same transaction.
func (s *Store) CheckInTicket(ctx context.Context, input store.CheckInInput) (models.QueueTicket, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	defer tx.Rollback(ctx)

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return models.QueueTicket{}, false, err
	}

	if subjectID, found, _, err := findActionRequest(ctx, tx, "check_in", input.RequestID); err != nil {
		return models.QueueTicket{}, false, err
	} else if found {
		replay, err := getTicket(ctx, tx, input.AccountID, subjectID)
		if err != nil {
			return models.QueueTicket{}, false, err
		}
		return replay, false, tx.Commit(ctx)
	}

	ticket, err := lockTicket(ctx, tx, input.AccountID, input.TicketID)
	if err != nil {
		return models.QueueTicket{}, false, err
	}
	if ticket.Status != models.TicketCalled {
		return models.QueueTicket{}, false, store.ErrInvalidState
	}

	now := input.OccurredAt
	if now.IsZero() {
		now = s.clock.Now()
	}
	ticket.Status = models.TicketInService
	ticket.CheckedInAt = &now
	ticket.GraceExpiresAt = nil
	if _, err := tx.Exec(ctx, `
		UPDATE queue_tickets
		SET status = $2, checked_in_at = $3, grace_expires_at = NULL
		WHERE ticket_id = $1
	`, ticket.TicketID, ticket.Status, ticket.CheckedInAt); err != nil {
		return models.QueueTicket{}, false, err
	}

	if ticket.ReservationID != "" {
		reservation, err := lockReservation(ctx, tx, input.AccountID, ticket.ReservationID)
		if err != nil {
			return models.QueueTicket{}, false, err
		}
		// The reservation may already be in service from a direct staff
		// action. Only advance it when the transition is still open.
		if store.ValidTransition("start", reservation.Status) {
			reservation.Status = models.StatusInService
			reservation.StartedAt = &now
			if err := updateReservation(ctx, tx, reservation); err != nil {
				return models.QueueTicket{}, false, err
			}
			if err := insertReservationEvent(ctx, tx, "reservation.in_service", reservation, now); err != nil {
				return models.QueueTicket{}, false, err
			}
			if err := insertOutboxEvent(ctx, tx, reservation.AccountID, "reservation.in_service", reservation, now); err != nil {
				return models.QueueTicket{}, false, err
			}
		}
	}

	if err := insertOutboxEvent(ctx, tx, ticket.AccountID, "queue.checked_in", ticket, now); err != nil {
		return models.QueueTicket{}, false, err
	}
	if err := insertActionRequest(ctx, tx, "check_in", input.RequestID, input.AccountID, ticket.TicketID, false, now); err != nil {
		return models.QueueTicket{}, false, err
	}
	return ticket, true, tx.Commit(ctx)
}

// SweepGraceExpired resolves called tickets whose grace window has
// lapsed. Appointment tickets no-show when the account opted in;
// everything else rejoins the queue at the back of its tier.
func (s *Store) SweepGraceExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// The ticket scan skips locked rows, but locking a ticket's linked
	// reservation can still wait.
	if err := s.setLockTimeout(ctx, tx); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE status = 'called' AND grace_expires_at IS NOT NULL AND grace_expires_at <= $1
		ORDER BY grace_expires_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now, batchSize)
	if err != nil {
		return 0, err
	}
	var expired []models.QueueTicket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, ticket)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	settingsByAccount := make(map[string]models.ReservationSettings)
	processed := 0
	for _, ticket := range expired {
		// Re-check under the row lock. A concurrent check-in may have
		// landed between the scan and here.
		if !schedule.GraceExpired(ticket, now) {
			continue
		}
		settings, ok := settingsByAccount[ticket.AccountID]
		if !ok {
			settings, err = s.resolveSettings(ctx, tx, ticket.AccountID, "")
			if err != nil {
				return 0, err
			}
			settingsByAccount[ticket.AccountID] = settings
		}

		switch schedule.ExpiryOutcome(settings, ticket) {
		case schedule.ExpiryNoShow:
			ticket.Status = models.TicketNoShow
			ticket.FinishedAt = &now
			ticket.GraceExpiresAt = nil
			if _, err := tx.Exec(ctx, `
				UPDATE queue_tickets
				SET status = $2, finished_at = $3, grace_expires_at = NULL
				WHERE ticket_id = $1
			`, ticket.TicketID, ticket.Status, ticket.FinishedAt); err != nil {
				return 0, err
			}
			if ticket.ReservationID != "" {
				reservation, err := lockReservation(ctx, tx, ticket.AccountID, ticket.ReservationID)
				if err != nil {
					return 0, err
				}
				if store.ValidTransition("no_show", reservation.Status) {
					reservation.Status = models.StatusNoShow
					if err := updateReservation(ctx, tx, reservation); err != nil {
						return 0, err
					}
					if err := insertReservationEvent(ctx, tx, "reservation.no_show", reservation, now); err != nil {
						return 0, err
					}
					if err := insertOutboxEvent(ctx, tx, reservation.AccountID, "reservation.no_show", reservation, now); err != nil {
						return 0, err
					}
					if settings.NoShowFeeEnabled && settings.NoShowFeeAmount > 0 {
						fee := map[string]any{
							"reservation_id": reservation.ReservationID,
							"client_id":      reservation.ClientID,
							"amount":         settings.NoShowFeeAmount,
						}
						if err := insertOutboxEvent(ctx, tx, reservation.AccountID, "reservation.no_show_fee_due", fee, now); err != nil {
							return 0, err
						}
					}
				}
			}
		case schedule.ExpiryRequeue:
			ticket.Status = models.TicketWaiting
			ticket.CreatedAt = now
			ticket.PreCalledAt = nil
			ticket.CalledAt = nil
			ticket.GraceExpiresAt = nil
			if _, err := tx.Exec(ctx, `
				UPDATE queue_tickets
				SET status = $2, created_at = $3, pre_called_at = NULL, called_at = NULL, grace_expires_at = NULL
				WHERE ticket_id = $1
			`, ticket.TicketID, ticket.Status, ticket.CreatedAt); err != nil {
				return 0, err
			}
		}

		if err := insertOutboxEvent(ctx, tx, ticket.AccountID, "queue.grace_expired", ticket, now); err != nil {
			return 0, err
		}
		processed++
	}
	return processed, tx.Commit(ctx)
}
