package postgres

import (
	"context"
	"errors"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/schedule"
	"schedcore/scheduling-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Reservation{}, false, err
	}
	defer tx.Rollback(ctx)

	// Bound every row-lock wait in this transaction, the replay
	// lookup's included.
	if err := s.setLockTimeout(ctx, tx); err != nil {
		return models.Reservation{}, false, err
	}

	if existing, found, err := findReservationByRequestID(ctx, tx, input.RequestID); err != nil {
		return models.Reservation{}, false, err
	} else if found {
		return existing, false, tx.Commit(ctx)
	}

	settings, err := s.resolveSettings(ctx, tx, input.AccountID, input.TeamMemberID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if input.DurationMinutes <= 0 {
		return models.Reservation{}, false, store.ErrValidation
	}

	now := input.CreatedAt
	if now.IsZero() {
		now = s.clock.Now()
	}
	if ok, _ := schedule.ValidateWindow(settings, input.StartsAt, now); !ok {
		return models.Reservation{}, false, store.ErrValidation
	}

	if err := lockTeamMember(ctx, tx, input.AccountID, input.TeamMemberID); err != nil {
		return models.Reservation{}, false, err
	}

	endsAt := input.StartsAt.Add(time.Duration(input.DurationMinutes) * time.Minute)
	neighbors, err := activeReservationsNear(ctx, tx, input.AccountID, input.TeamMemberID, input.StartsAt, endsAt, "")
	if err != nil {
		return models.Reservation{}, false, err
	}
	if schedule.HasConflict(input.StartsAt, endsAt, settings.BufferMinutes, neighbors) {
		return models.Reservation{}, false, store.ErrSlotConflict
	}

	reservation := models.Reservation{
		ReservationID:   uuid.NewString(),
		AccountID:       input.AccountID,
		TeamMemberID:    input.TeamMemberID,
		ClientID:        input.ClientID,
		ClientUserID:    input.ClientUserID,
		ServiceID:       input.ServiceID,
		Status:          schedule.InitialStatus(input.Source),
		Source:          input.Source,
		StartsAt:        input.StartsAt,
		EndsAt:          endsAt,
		DurationMinutes: input.DurationMinutes,
		BufferMinutes:   settings.BufferMinutes,
		CreatedAt:       now,
		RequestID:       input.RequestID,
	}
	if reservation.Status == models.StatusConfirmed {
		confirmedAt := now
		reservation.ConfirmedAt = &confirmedAt
	}

	if err := insertReservation(ctx, tx, reservation); err != nil {
		// Two in-flight requests with the same request_id race past the
		// replay check; the loser re-reads the winner's row.
		if isUniqueViolation(err) {
			if err := tx.Rollback(ctx); err != nil {
				return models.Reservation{}, false, err
			}
			replay, found, rerr := s.GetReservationByRequestID(ctx, input.RequestID)
			if rerr != nil {
				return models.Reservation{}, false, rerr
			}
			if !found {
				return models.Reservation{}, false, err
			}
			return replay, false, nil
		}
		return models.Reservation{}, false, err
	}
	if err := insertReservationEvent(ctx, tx, "reservation.created", reservation, now); err != nil {
		return models.Reservation{}, false, err
	}
	if err := insertOutboxEvent(ctx, tx, reservation.AccountID, "reservation.created", reservation, now); err != nil {
		return models.Reservation{}, false, err
	}

	return reservation, true, tx.Commit(ctx)
}

// GetReservationByRequestID looks a reservation up by the idempotency
// key it was created with.
func (s *Store) GetReservationByRequestID(ctx context.Context, requestID string) (models.Reservation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE request_id = $1
	`, requestID)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, false, nil
		}
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

func insertReservation(ctx context.Context, tx pgx.Tx, r models.Reservation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservations (
			reservation_id, account_id, team_member_id, client_id, client_user_id, service_id,
			status, source, starts_at, ends_at, duration_minutes, buffer_minutes, created_at,
			request_id, confirmed_at, rescheduled_from_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		r.ReservationID, r.AccountID, r.TeamMemberID, nullIfEmpty(r.ClientID), nullIfEmpty(r.ClientUserID), nullIfEmpty(r.ServiceID),
		r.Status, r.Source, r.StartsAt, r.EndsAt, r.DurationMinutes, r.BufferMinutes, r.CreatedAt,
		r.RequestID, r.ConfirmedAt, nullIfEmpty(r.RescheduledFromID),
	)
	return err
}

func lockReservation(ctx context.Context, tx pgx.Tx, accountID, reservationID string) (models.Reservation, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE reservation_id = $1 AND account_id = $2
		FOR UPDATE
	`, reservationID, accountID)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, store.ErrReservationNotFound
		}
		return models.Reservation{}, mapLockError(err)
	}
	return reservation, nil
}

func (s *Store) ConfirmReservation(ctx context.Context, input store.ReservationActionInput) (models.Reservation, bool, error) {
	return s.applyReservationAction(ctx, input, "confirm")
}

func (s *Store) StartService(ctx context.Context, input store.ReservationActionInput) (models.Reservation, bool, error) {
	return s.applyReservationAction(ctx, input, "start")
}

func (s *Store) CompleteReservation(ctx context.Context, input store.ReservationActionInput) (models.Reservation, bool, error) {
	return s.applyReservationAction(ctx, input, "complete")
}

func (s *Store) CancelReservation(ctx context.Context, input store.ReservationActionInput) (models.Reservation, bool, error) {
	return s.applyReservationAction(ctx, input, "cancel")
}

func (s *Store) NoShowReservation(ctx context.Context, input store.ReservationActionInput) (models.Reservation, bool, error) {
	return s.applyReservationAction(ctx, input, "no_show")
}

// applyReservationAction runs one lifecycle transition under the
// reservation row lock. Replays of a seen request_id return the stored
// reservation without touching it again.
func (s *Store) applyReservationAction(ctx context.Context, input store.ReservationActionInput, action string) (models.Reservation, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Reservation{}, false, err
	}
	defer tx.Rollback(ctx)

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return models.Reservation{}, false, err
	}

	if subjectID, found, _, err := findActionRequest(ctx, tx, action, input.RequestID); err != nil {
		return models.Reservation{}, false, err
	} else if found {
		replay, err := lockReservation(ctx, tx, input.AccountID, subjectID)
		if err != nil {
			return models.Reservation{}, false, err
		}
		return replay, false, tx.Commit(ctx)
	}

	reservation, err := lockReservation(ctx, tx, input.AccountID, input.ReservationID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if !store.ValidTransition(action, reservation.Status) {
		return models.Reservation{}, false, store.ErrInvalidState
	}

	now := input.OccurredAt
	if now.IsZero() {
		now = s.clock.Now()
	}

	var settings models.ReservationSettings
	settingsLoaded := false
	loadSettings := func() (models.ReservationSettings, error) {
		if !settingsLoaded {
			settings, err = s.resolveSettings(ctx, tx, reservation.AccountID, reservation.TeamMemberID)
			if err != nil {
				return models.ReservationSettings{}, err
			}
			settingsLoaded = true
		}
		return settings, nil
	}

	// Clients may only perform actions policy grants them, and only
	// before the cancellation cutoff. Staff and admins are not bound by
	// either.
	if action == "cancel" && input.ActorRole == models.ActorClient {
		settings, err := loadSettings()
		if err != nil {
			return models.Reservation{}, false, err
		}
		if !settings.AllowClientCancel {
			return models.Reservation{}, false, store.ErrPermission
		}
		if !schedule.ClientModifyAllowed(settings, reservation.StartsAt, now) {
			return models.Reservation{}, false, store.ErrCutoffExceeded
		}
	}
	if action != "cancel" && input.ActorRole == models.ActorClient {
		return models.Reservation{}, false, store.ErrPermission
	}

	switch action {
	case "confirm":
		reservation.Status = models.StatusConfirmed
		reservation.ConfirmedAt = &now
	case "start":
		reservation.Status = models.StatusInService
		reservation.StartedAt = &now
	case "complete":
		reservation.Status = models.StatusCompleted
		reservation.CompletedAt = &now
	case "cancel":
		reservation.Status = models.StatusCancelled
		reservation.CancelledAt = &now
		reservation.CancelReason = input.Reason
		reservation.CancelledByUserID = input.ActorID
	case "no_show":
		reservation.Status = models.StatusNoShow
	}

	if err := updateReservation(ctx, tx, reservation); err != nil {
		return models.Reservation{}, false, err
	}

	eventType := "reservation." + reservation.Status
	if err := insertReservationEvent(ctx, tx, eventType, reservation, now); err != nil {
		return models.Reservation{}, false, err
	}
	if err := insertOutboxEvent(ctx, tx, reservation.AccountID, eventType, reservation, now); err != nil {
		return models.Reservation{}, false, err
	}

	if action == "no_show" {
		settings, err := loadSettings()
		if err != nil {
			return models.Reservation{}, false, err
		}
		if settings.NoShowFeeEnabled && settings.NoShowFeeAmount > 0 {
			fee := map[string]any{
				"reservation_id": reservation.ReservationID,
				"client_id":      reservation.ClientID,
				"amount":         settings.NoShowFeeAmount,
			}
			if err := insertOutboxEvent(ctx, tx, reservation.AccountID, "reservation.no_show_fee_due", fee, now); err != nil {
				return models.Reservation{}, false, err
			}
		}
	}

	switch reservation.Status {
	case models.StatusCompleted:
		err = finishLinkedTicket(ctx, tx, reservation.AccountID, reservation.ReservationID, models.TicketDone, now)
	case models.StatusCancelled:
		err = finishLinkedTicket(ctx, tx, reservation.AccountID, reservation.ReservationID, models.TicketCancelled, now)
	case models.StatusNoShow:
		err = finishLinkedTicket(ctx, tx, reservation.AccountID, reservation.ReservationID, models.TicketNoShow, now)
	}
	if err != nil {
		return models.Reservation{}, false, err
	}

	if err := insertActionRequest(ctx, tx, action, input.RequestID, input.AccountID, reservation.ReservationID, false, now); err != nil {
		return models.Reservation{}, false, err
	}
	return reservation, true, tx.Commit(ctx)
}

func updateReservation(ctx context.Context, tx pgx.Tx, r models.Reservation) error {
	_, err := tx.Exec(ctx, `
		UPDATE reservations
		SET status = $2, confirmed_at = $3, started_at = $4, completed_at = $5,
			cancelled_at = $6, cancel_reason = $7, cancelled_by_user_id = $8
		WHERE reservation_id = $1
	`,
		r.ReservationID, r.Status, r.ConfirmedAt, r.StartedAt, r.CompletedAt,
		r.CancelledAt, nullIfEmpty(r.CancelReason), nullIfEmpty(r.CancelledByUserID),
	)
	return err
}

// RescheduleReservation cancels the original and books its replacement
// in one transaction, so no interleaved booking can take both slots or
// neither.
func (s *Store) RescheduleReservation(ctx context.Context, input store.RescheduleInput) (models.Reservation, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Reservation{}, false, err
	}
	defer tx.Rollback(ctx)

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return models.Reservation{}, false, err
	}

	if subjectID, found, _, err := findActionRequest(ctx, tx, "reschedule", input.RequestID); err != nil {
		return models.Reservation{}, false, err
	} else if found {
		replay, err := lockReservation(ctx, tx, input.AccountID, subjectID)
		if err != nil {
			return models.Reservation{}, false, err
		}
		return replay, false, tx.Commit(ctx)
	}

	original, err := lockReservation(ctx, tx, input.AccountID, input.ReservationID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if !store.ValidTransition("reschedule", original.Status) {
		return models.Reservation{}, false, store.ErrInvalidState
	}

	now := input.OccurredAt
	if now.IsZero() {
		now = s.clock.Now()
	}

	teamMemberID := input.NewTeamMemberID
	if teamMemberID == "" {
		teamMemberID = original.TeamMemberID
	}
	duration := input.DurationMinutes
	if duration <= 0 {
		duration = original.DurationMinutes
	}

	settings, err := s.resolveSettings(ctx, tx, input.AccountID, teamMemberID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if input.ActorRole == models.ActorClient {
		if !settings.AllowClientReschedule {
			return models.Reservation{}, false, store.ErrPermission
		}
		if !schedule.ClientModifyAllowed(settings, original.StartsAt, now) {
			return models.Reservation{}, false, store.ErrCutoffExceeded
		}
	}
	if ok, _ := schedule.ValidateWindow(settings, input.NewStartsAt, now); !ok {
		return models.Reservation{}, false, store.ErrValidation
	}

	if err := lockTeamMember(ctx, tx, input.AccountID, teamMemberID); err != nil {
		return models.Reservation{}, false, err
	}
	newEndsAt := input.NewStartsAt.Add(time.Duration(duration) * time.Minute)
	neighbors, err := activeReservationsNear(ctx, tx, input.AccountID, teamMemberID, input.NewStartsAt, newEndsAt, original.ReservationID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if schedule.HasConflict(input.NewStartsAt, newEndsAt, settings.BufferMinutes, neighbors) {
		return models.Reservation{}, false, store.ErrSlotConflict
	}

	original.Status = models.StatusCancelled
	original.CancelledAt = &now
	original.CancelReason = "rescheduled"
	original.CancelledByUserID = input.ActorID
	if err := updateReservation(ctx, tx, original); err != nil {
		return models.Reservation{}, false, err
	}
	if err := insertReservationEvent(ctx, tx, "reservation.cancelled", original, now); err != nil {
		return models.Reservation{}, false, err
	}
	if err := finishLinkedTicket(ctx, tx, input.AccountID, original.ReservationID, models.TicketCancelled, now); err != nil {
		return models.Reservation{}, false, err
	}

	replacement := models.Reservation{
		ReservationID:     uuid.NewString(),
		AccountID:         original.AccountID,
		TeamMemberID:      teamMemberID,
		ClientID:          original.ClientID,
		ClientUserID:      original.ClientUserID,
		ServiceID:         original.ServiceID,
		Status:            schedule.InitialStatus(original.Source),
		Source:            original.Source,
		StartsAt:          input.NewStartsAt,
		EndsAt:            newEndsAt,
		DurationMinutes:   duration,
		BufferMinutes:     settings.BufferMinutes,
		CreatedAt:         now,
		RequestID:         input.RequestID,
		RescheduledFromID: original.ReservationID,
	}
	if replacement.Status == models.StatusConfirmed {
		confirmedAt := now
		replacement.ConfirmedAt = &confirmedAt
	}
	if err := insertReservation(ctx, tx, replacement); err != nil {
		return models.Reservation{}, false, err
	}
	if err := insertReservationEvent(ctx, tx, "reservation.created", replacement, now); err != nil {
		return models.Reservation{}, false, err
	}

	rescheduled := map[string]any{
		"original_reservation_id": original.ReservationID,
		"new_reservation_id":      replacement.ReservationID,
		"starts_at":               replacement.StartsAt,
	}
	if err := insertOutboxEvent(ctx, tx, replacement.AccountID, "reservation.rescheduled", rescheduled, now); err != nil {
		return models.Reservation{}, false, err
	}
	if err := insertActionRequest(ctx, tx, "reschedule", input.RequestID, input.AccountID, replacement.ReservationID, false, now); err != nil {
		return models.Reservation{}, false, err
	}
	return replacement, true, tx.Commit(ctx)
}

// SweepLateRelease cancels requested reservations whose start time has
// passed by more than the account's late-release window. Accounts with
// the window set to zero never auto-release.
func (s *Store) SweepLateRelease(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := s.clock.Now()
	rows, err := tx.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'requested' AND starts_at <= $1
		ORDER BY starts_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now, batchSize)
	if err != nil {
		return 0, err
	}
	var candidates []models.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, reservation)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	settingsByAccount := make(map[string]models.ReservationSettings)
	released := 0
	for _, reservation := range candidates {
		settings, ok := settingsByAccount[reservation.AccountID]
		if !ok {
			settings, err = s.resolveSettings(ctx, tx, reservation.AccountID, "")
			if err != nil {
				return 0, err
			}
			settingsByAccount[reservation.AccountID] = settings
		}
		if settings.LateReleaseMinutes <= 0 {
			continue
		}
		deadline := reservation.StartsAt.Add(time.Duration(settings.LateReleaseMinutes) * time.Minute)
		if !now.After(deadline) {
			continue
		}

		reservation.Status = models.StatusCancelled
		reservation.CancelledAt = &now
		reservation.CancelReason = "late_release"
		if err := updateReservation(ctx, tx, reservation); err != nil {
			return 0, err
		}
		if err := insertReservationEvent(ctx, tx, "reservation.cancelled", reservation, now); err != nil {
			return 0, err
		}
		if err := insertOutboxEvent(ctx, tx, reservation.AccountID, "reservation.late_released", reservation, now); err != nil {
			return 0, err
		}
		released++
	}
	return released, tx.Commit(ctx)
}
