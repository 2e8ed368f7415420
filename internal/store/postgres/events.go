package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// insertOutboxEvent stages a domain event in the same transaction as
// the state change that produced it. The relay publishes it later.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, accountID, eventType string, payload any, createdAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, account_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), accountID, eventType, raw, createdAt)
	return err
}

// insertReservationEvent appends one link to the reservation's hash
// chain. The caller must hold the reservation row lock so seq numbers
// cannot race.
func insertReservationEvent(ctx context.Context, tx pgx.Tx, eventType string, reservation models.Reservation, createdAt time.Time) error {
	// timestamptz keeps microseconds; hash what the database will
	// actually store so the chain verifies after a round trip.
	createdAt = createdAt.Truncate(time.Microsecond)

	var prevSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM reservation_events
		WHERE reservation_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, reservation.ReservationID)
	if err := row.Scan(&prevSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	payload, err := store.EventPayloadFor(reservation)
	if err != nil {
		return err
	}
	seq := prevSeq + 1
	hash := store.ComputeEventHash(prevHash.String, reservation.ReservationID, eventType, payload, createdAt, seq)

	_, err = tx.Exec(ctx, `
		INSERT INTO reservation_events (reservation_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, reservation.ReservationID, seq, eventType, payload, createdAt, prevHash.String, hash)
	return err
}

func scanOutboxEvents(rows pgx.Rows) ([]store.OutboxEvent, error) {
	defer rows.Close()
	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.Seq, &event.EventID, &event.AccountID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Both listings page on seq, not created_at. Events staged in one
// transaction share a timestamp, and a timestamp cursor would skip the
// tied remainder whenever a batch boundary split them.
func (s *Store) ListOutboxEvents(ctx context.Context, accountID string, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, account_id, type, payload, created_at
		FROM outbox_events
		WHERE account_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, accountID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return scanOutboxEvents(rows)
}

func (s *Store) ListOutboxEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, account_id, type, payload, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return scanOutboxEvents(rows)
}

func (s *Store) ListReservationEvents(ctx context.Context, accountID, reservationID string) ([]store.ReservationEvent, error) {
	if _, found, err := s.GetReservation(ctx, accountID, reservationID); err != nil || !found {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT reservation_id, seq, type, payload, created_at, prev_hash, hash
		FROM reservation_events
		WHERE reservation_id = $1
		ORDER BY seq ASC
	`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ReservationEvent
	for rows.Next() {
		var event store.ReservationEvent
		if err := rows.Scan(&event.ReservationID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
