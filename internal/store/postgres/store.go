package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/preset"
	"schedcore/scheduling-service/internal/schedule"
	"schedcore/scheduling-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool        *pgxpool.Pool
	clock       schedule.Clock
	lockTimeout time.Duration
}

type Options struct {
	Clock       schedule.Clock
	LockTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	clock := options.Clock
	if clock == nil {
		clock = schedule.NewSystemClock()
	}
	lockTimeout := options.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Store{
		pool:        pool,
		clock:       clock,
		lockTimeout: lockTimeout,
	}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// setLockTimeout bounds how long row locks are waited for inside the
// transaction, so contended bookings fail fast instead of queueing.
func (s *Store) setLockTimeout(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds()))
	return err
}

// mapLockError converts postgres lock_timeout failures (55P03) and
// deadlock detection (40P01) into the store's retryable sentinel.
// Reservation actions lock reservation then ticket while check-in
// locks ticket then reservation, so a detected deadlock is an
// expected collision, not a fault.
func mapLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "55P03" || pgErr.Code == "40P01") {
		return store.ErrLockTimeout
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) ResolveSettings(ctx context.Context, accountID, teamMemberID string) (models.ReservationSettings, error) {
	return s.resolveSettings(ctx, s.pool, accountID, teamMemberID)
}

type settingsRow struct {
	businessPreset           sql.NullString
	bufferMinutes            sql.NullInt32
	slotIntervalMinutes      sql.NullInt32
	minNoticeMinutes         sql.NullInt32
	maxAdvanceDays           sql.NullInt32
	cancellationCutoffHours  sql.NullInt32
	allowClientCancel        sql.NullBool
	allowClientReschedule    sql.NullBool
	lateReleaseMinutes       sql.NullInt32
	waitlistEnabled          sql.NullBool
	queueModeEnabled         sql.NullBool
	queueAssignmentMode      sql.NullString
	queueDispatchMode        sql.NullString
	queueGraceMinutes        sql.NullInt32
	queuePreCallThreshold    sql.NullInt32
	queueNoShowOnGraceExpiry sql.NullBool
	depositRequired          sql.NullBool
	depositAmount            sql.NullFloat64
	noShowFeeEnabled         sql.NullBool
	noShowFeeAmount          sql.NullFloat64
}

const settingsColumns = `
	business_preset, buffer_minutes, slot_interval_minutes, min_notice_minutes,
	max_advance_days, cancellation_cutoff_hours, allow_client_cancel, allow_client_reschedule,
	late_release_minutes, waitlist_enabled, queue_mode_enabled, queue_assignment_mode,
	queue_dispatch_mode, queue_grace_minutes, queue_pre_call_threshold, queue_no_show_on_grace_expiry,
	deposit_required, deposit_amount, no_show_fee_enabled, no_show_fee_amount`

func scanSettingsRow(row pgx.Row) (settingsRow, bool, error) {
	var r settingsRow
	err := row.Scan(
		&r.businessPreset, &r.bufferMinutes, &r.slotIntervalMinutes, &r.minNoticeMinutes,
		&r.maxAdvanceDays, &r.cancellationCutoffHours, &r.allowClientCancel, &r.allowClientReschedule,
		&r.lateReleaseMinutes, &r.waitlistEnabled, &r.queueModeEnabled, &r.queueAssignmentMode,
		&r.queueDispatchMode, &r.queueGraceMinutes, &r.queuePreCallThreshold, &r.queueNoShowOnGraceExpiry,
		&r.depositRequired, &r.depositAmount, &r.noShowFeeEnabled, &r.noShowFeeAmount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settingsRow{}, false, nil
		}
		return settingsRow{}, false, err
	}
	return r, true, nil
}

// resolveSettings merges the team-member override row, the account row,
// and the preset defaults into one effective settings value. Team
// overrides apply only to the per-member scheduling knobs; queue and
// payment policy resolve at the account level.
func (s *Store) resolveSettings(ctx context.Context, q querier, accountID, teamMemberID string) (models.ReservationSettings, error) {
	var sector string
	row := q.QueryRow(ctx, `SELECT sector FROM accounts WHERE account_id = $1`, accountID)
	if err := row.Scan(&sector); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReservationSettings{}, store.ErrAccountNotFound
		}
		return models.ReservationSettings{}, err
	}

	account, accountFound, err := scanSettingsRow(q.QueryRow(ctx, `
		SELECT `+settingsColumns+`
		FROM reservation_settings
		WHERE account_id = $1 AND team_member_id IS NULL
	`, accountID))
	if err != nil {
		return models.ReservationSettings{}, err
	}

	var team settingsRow
	if teamMemberID != "" {
		team, _, err = scanSettingsRow(q.QueryRow(ctx, `
			SELECT `+settingsColumns+`
			FROM reservation_settings
			WHERE account_id = $1 AND team_member_id = $2
		`, accountID, teamMemberID))
		if err != nil {
			return models.ReservationSettings{}, err
		}
	}

	resolvedPreset := preset.FromSector(sector)
	if accountFound && account.businessPreset.Valid && account.businessPreset.String != "" {
		resolvedPreset = preset.Normalize(account.businessPreset.String)
	}
	defaults := preset.Defaults(resolvedPreset)

	settings := models.ReservationSettings{
		BusinessPreset:           resolvedPreset,
		BufferMinutes:            pickInt(defaults.BufferMinutes, account.bufferMinutes, team.bufferMinutes),
		SlotIntervalMinutes:      pickInt(defaults.SlotIntervalMinutes, account.slotIntervalMinutes, team.slotIntervalMinutes),
		MinNoticeMinutes:         pickInt(defaults.MinNoticeMinutes, account.minNoticeMinutes, team.minNoticeMinutes),
		MaxAdvanceDays:           pickInt(defaults.MaxAdvanceDays, account.maxAdvanceDays, team.maxAdvanceDays),
		CancellationCutoffHours:  pickInt(defaults.CancellationCutoffHours, account.cancellationCutoffHours, team.cancellationCutoffHours),
		AllowClientCancel:        pickBool(defaults.AllowClientCancel, account.allowClientCancel, team.allowClientCancel),
		AllowClientReschedule:    pickBool(defaults.AllowClientReschedule, account.allowClientReschedule, team.allowClientReschedule),
		LateReleaseMinutes:       pickInt(defaults.LateReleaseMinutes, account.lateReleaseMinutes),
		WaitlistEnabled:          pickBool(defaults.WaitlistEnabled, account.waitlistEnabled),
		QueueModeEnabled:         pickBool(defaults.QueueModeEnabled, account.queueModeEnabled),
		QueueAssignmentMode:      pickString(defaults.QueueAssignmentMode, account.queueAssignmentMode),
		QueueDispatchMode:        pickString(defaults.QueueDispatchMode, account.queueDispatchMode),
		QueueGraceMinutes:        clamp(pickInt(defaults.QueueGraceMinutes, account.queueGraceMinutes), 1, 60),
		QueuePreCallThreshold:    clamp(pickInt(defaults.QueuePreCallThreshold, account.queuePreCallThreshold), 1, 20),
		QueueNoShowOnGraceExpiry: pickBool(defaults.QueueNoShowOnGraceExpiry, account.queueNoShowOnGraceExpiry),
		DepositRequired:          pickBool(defaults.DepositRequired, account.depositRequired),
		DepositAmount:            pickMoney(defaults.DepositAmount, account.depositAmount),
		NoShowFeeEnabled:         pickBool(defaults.NoShowFeeEnabled, account.noShowFeeEnabled),
		NoShowFeeAmount:          pickMoney(defaults.NoShowFeeAmount, account.noShowFeeAmount),
	}

	settings.BufferMinutes = clamp(settings.BufferMinutes, 0, schedule.MaxBufferMinutes)
	settings.SlotIntervalMinutes = clamp(settings.SlotIntervalMinutes, 5, 120)
	if settings.QueueAssignmentMode != models.AssignmentPerStaff && settings.QueueAssignmentMode != models.AssignmentGlobalPull {
		settings.QueueAssignmentMode = models.AssignmentPerStaff
	}
	// Live queue dispatch is a salon-preset feature; other presets keep
	// it off no matter what the stored row says.
	settings.QueueModeEnabled = settings.QueueModeEnabled && preset.QueueFeaturesEnabled(resolvedPreset)

	return settings, nil
}

// pickInt returns the last valid override, falling back left to right.
func pickInt(fallback int, overrides ...sql.NullInt32) int {
	value := fallback
	for _, o := range overrides {
		if o.Valid {
			value = int(o.Int32)
		}
	}
	return value
}

func pickBool(fallback bool, overrides ...sql.NullBool) bool {
	value := fallback
	for _, o := range overrides {
		if o.Valid {
			value = o.Bool
		}
	}
	return value
}

func pickString(fallback string, overrides ...sql.NullString) string {
	value := fallback
	for _, o := range overrides {
		if o.Valid && o.String != "" {
			value = o.String
		}
	}
	return value
}

func pickMoney(fallback float64, overrides ...sql.NullFloat64) float64 {
	value := fallback
	for _, o := range overrides {
		if o.Valid {
			value = o.Float64
		}
	}
	if value < 0 {
		return 0
	}
	return float64(int(value*100+0.5)) / 100
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

const reservationColumns = `
	reservation_id, account_id, team_member_id, client_id, client_user_id, service_id,
	status, source, starts_at, ends_at, duration_minutes, buffer_minutes, created_at,
	request_id, confirmed_at, started_at, completed_at, cancelled_at, cancel_reason,
	cancelled_by_user_id, rescheduled_from_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (models.Reservation, error) {
	var r models.Reservation
	var clientID, clientUserID, serviceID sql.NullString
	var confirmedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var cancelReason, cancelledBy, rescheduledFrom sql.NullString
	err := row.Scan(
		&r.ReservationID, &r.AccountID, &r.TeamMemberID, &clientID, &clientUserID, &serviceID,
		&r.Status, &r.Source, &r.StartsAt, &r.EndsAt, &r.DurationMinutes, &r.BufferMinutes, &r.CreatedAt,
		&r.RequestID, &confirmedAt, &startedAt, &completedAt, &cancelledAt, &cancelReason,
		&cancelledBy, &rescheduledFrom,
	)
	if err != nil {
		return models.Reservation{}, err
	}
	r.ClientID = clientID.String
	r.ClientUserID = clientUserID.String
	r.ServiceID = serviceID.String
	r.ConfirmedAt = nullTimePtr(confirmedAt)
	r.StartedAt = nullTimePtr(startedAt)
	r.CompletedAt = nullTimePtr(completedAt)
	r.CancelledAt = nullTimePtr(cancelledAt)
	r.CancelReason = cancelReason.String
	r.CancelledByUserID = cancelledBy.String
	r.RescheduledFromID = rescheduledFrom.String
	return r, nil
}

const ticketColumns = `
	ticket_id, queue_number, account_id, team_member_id, reservation_id, client_id,
	client_user_id, service_id, priority_tier, status, created_at, request_id,
	pre_called_at, called_at, grace_expires_at, checked_in_at, finished_at`

func scanTicket(row rowScanner) (models.QueueTicket, error) {
	var t models.QueueTicket
	var teamMemberID, reservationID, clientID, clientUserID, serviceID sql.NullString
	var preCalledAt, calledAt, graceExpiresAt, checkedInAt, finishedAt sql.NullTime
	err := row.Scan(
		&t.TicketID, &t.QueueNumber, &t.AccountID, &teamMemberID, &reservationID, &clientID,
		&clientUserID, &serviceID, &t.PriorityTier, &t.Status, &t.CreatedAt, &t.RequestID,
		&preCalledAt, &calledAt, &graceExpiresAt, &checkedInAt, &finishedAt,
	)
	if err != nil {
		return models.QueueTicket{}, err
	}
	t.TeamMemberID = teamMemberID.String
	t.ReservationID = reservationID.String
	t.ClientID = clientID.String
	t.ClientUserID = clientUserID.String
	t.ServiceID = serviceID.String
	t.PreCalledAt = nullTimePtr(preCalledAt)
	t.CalledAt = nullTimePtr(calledAt)
	t.GraceExpiresAt = nullTimePtr(graceExpiresAt)
	t.CheckedInAt = nullTimePtr(checkedInAt)
	t.FinishedAt = nullTimePtr(finishedAt)
	return t, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (s *Store) GetReservation(ctx context.Context, accountID, reservationID string) (models.Reservation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE reservation_id = $1 AND account_id = $2
	`, reservationID, accountID)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, false, store.ErrReservationNotFound
		}
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

// lockTeamMember takes the per-resource exclusive lock that serializes
// availability checks against writes for one team member.
func lockTeamMember(ctx context.Context, tx pgx.Tx, accountID, teamMemberID string) error {
	var id string
	row := tx.QueryRow(ctx, `
		SELECT team_member_id
		FROM team_members
		WHERE team_member_id = $1 AND account_id = $2 AND active = TRUE
		FOR UPDATE
	`, teamMemberID, accountID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTeamMemberNotFound
		}
		return mapLockError(err)
	}
	return nil
}

// activeReservationsNear loads the reservations that could conflict
// with the window once maximum buffers are applied.
func activeReservationsNear(ctx context.Context, q querier, accountID, teamMemberID string, start, end time.Time, excludeID string) ([]models.Reservation, error) {
	pad := time.Duration(schedule.MaxBufferMinutes) * time.Minute
	rows, err := q.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE account_id = $1 AND team_member_id = $2
			AND status IN ('requested', 'confirmed', 'in_service')
			AND starts_at < $3 AND ends_at > $4
			AND ($5::uuid IS NULL OR reservation_id <> $5::uuid)
		ORDER BY starts_at ASC
	`, accountID, teamMemberID, end.Add(pad), start.Add(-pad), nullIfEmpty(excludeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservations, nil
}

func (s *Store) AvailableSlots(ctx context.Context, query store.SlotQuery) ([]schedule.Slot, error) {
	settings, err := s.resolveSettings(ctx, s.pool, query.AccountID, query.TeamMemberID)
	if err != nil {
		return nil, err
	}
	if query.DurationMinutes <= 0 {
		return nil, store.ErrValidation
	}

	existing, err := activeReservationsNear(ctx, s.pool, query.AccountID, query.TeamMemberID, query.RangeStart, query.RangeEnd, "")
	if err != nil {
		return nil, err
	}

	return schedule.AvailableSlots(settings, existing, schedule.SlotRequest{
		TeamMemberID:    query.TeamMemberID,
		RangeStart:      query.RangeStart,
		RangeEnd:        query.RangeEnd,
		DurationMinutes: query.DurationMinutes,
	}, s.clock.Now()), nil
}

func findReservationByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Reservation, bool, error) {
	row := tx.QueryRow(ctx, `
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

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.QueueTicket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueTicket{}, false, nil
		}
		return models.QueueTicket{}, false, err
	}
	return ticket, true, nil
}

// findActionRequest replays a previously processed action. The empty
// flag records call-next attempts that found nothing to dequeue.
func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (subjectID string, found, empty bool, err error) {
	var subject sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT subject_id, empty
		FROM action_requests
		WHERE action = $1 AND request_id = $2
	`, action, requestID)
	if err := row.Scan(&subject, &empty); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, false, nil
		}
		return "", false, false, err
	}
	return subject.String, true, empty, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, accountID, subjectID string, empty bool, occurredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_requests (action, request_id, account_id, subject_id, empty, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (action, request_id) DO NOTHING
	`, action, requestID, accountID, nullIfEmpty(subjectID), empty, occurredAt)
	return err
}
