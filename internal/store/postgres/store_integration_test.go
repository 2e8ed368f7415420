package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"schedcore/scheduling-service/internal/models"
	"schedcore/scheduling-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{LockTimeout: 2 * time.Second})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sector string, memberIDs ...string) string {
	t.Helper()
	accountID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO accounts (account_id, name, sector) VALUES ($1, $2, $3)
	`, accountID, "test account", sector); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	for _, memberID := range memberIDs {
		if _, err := pool.Exec(ctx, `
			INSERT INTO team_members (team_member_id, account_id, name, active) VALUES ($1, $2, $3, TRUE)
		`, memberID, accountID, "test member"); err != nil {
			t.Fatalf("seed team member: %v", err)
		}
	}
	return accountID
}

func mustCreateReservation(t *testing.T, ctx context.Context, st *Store, input store.CreateReservationInput) models.Reservation {
	t.Helper()
	reservation, created, err := st.CreateReservation(ctx, input)
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	if !created {
		t.Fatalf("expected new reservation for request %s", input.RequestID)
	}
	return reservation
}

func TestCreateReservationIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	input := store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        now.Add(3 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	}
	first := mustCreateReservation(t, ctx, st, input)
	if first.Status != models.StatusConfirmed {
		t.Fatalf("staff booking should confirm immediately, got %s", first.Status)
	}

	replay, created, err := st.CreateReservation(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created {
		t.Fatalf("replay must not create a second reservation")
	}
	if replay.ReservationID != first.ReservationID {
		t.Fatalf("replay returned %s, want %s", replay.ReservationID, first.ReservationID)
	}
}

func TestCreateReservationBufferConflict(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	base := now.Add(4 * time.Hour)
	mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        base,
		DurationMinutes: 30,
		CreatedAt:       now,
	})

	// Salon buffer is 10 minutes, so a start 5 minutes after the
	// previous end must be rejected.
	_, _, err := st.CreateReservation(ctx, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        base.Add(35 * time.Minute),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	if !errors.Is(err, store.ErrSlotConflict) {
		t.Fatalf("want ErrSlotConflict, got %v", err)
	}

	// 45 minutes after the start clears end plus buffer.
	mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        base.Add(45 * time.Minute),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
}

func TestConcurrentCreateSameSlot(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	startsAt := now.Add(5 * time.Hour)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.CreateReservation(ctx, store.CreateReservationInput{
				RequestID:       uuid.NewString(),
				AccountID:       accountID,
				TeamMemberID:    memberID,
				Source:          models.SourceStaff,
				StartsAt:        startsAt,
				DurationMinutes: 30,
				CreatedAt:       now,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrSlotConflict) || errors.Is(err, store.ErrLockTimeout):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("want exactly one winner, got %d ok / %d rejected", succeeded, conflicted)
	}
}

func TestClientCancelCutoff(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	// Salon cutoff is 24h. Book 10h out so the cutoff has passed.
	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        now.Add(10 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})

	_, _, err := st.CancelReservation(ctx, store.ReservationActionInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorClient,
		OccurredAt:    now,
	})
	if !errors.Is(err, store.ErrCutoffExceeded) {
		t.Fatalf("want ErrCutoffExceeded, got %v", err)
	}

	// Staff are not bound by the cutoff.
	cancelled, created, err := st.CancelReservation(ctx, store.ReservationActionInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorStaff,
		Reason:        "client called in",
		OccurredAt:    now,
	})
	if err != nil || !created {
		t.Fatalf("staff cancel: created=%v err=%v", created, err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("want cancelled, got %s", cancelled.Status)
	}
}

func mustCreateTicket(t *testing.T, ctx context.Context, st *Store, input store.CreateTicketInput) models.QueueTicket {
	t.Helper()
	ticket, created, err := st.CreateQueueTicket(ctx, input)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if !created {
		t.Fatalf("expected new ticket for request %s", input.RequestID)
	}
	return ticket
}

func TestCallNextAppointmentPriority(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID: uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now.Add(-10 * time.Minute),
	})
	mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID: uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now.Add(-8 * time.Minute),
	})

	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        now.Add(2 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	appointment := mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		CreatedAt:     now,
	})

	called, created, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:    uuid.NewString(),
		AccountID:    accountID,
		TeamMemberID: memberID,
		CalledAt:     now,
	})
	if err != nil || !created {
		t.Fatalf("call next: created=%v err=%v", created, err)
	}
	if called.TicketID != appointment.TicketID {
		t.Fatalf("appointment tier should be called first, got %s", called.QueueNumber)
	}
	if called.GraceExpiresAt == nil {
		t.Fatalf("called ticket must carry a grace deadline")
	}
}

func TestCallNextEmptyQueueReplay(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	requestID := uuid.NewString()
	_, _, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:    requestID,
		AccountID:    accountID,
		TeamMemberID: memberID,
		CalledAt:     now,
	})
	if !errors.Is(err, store.ErrEmptyQueue) {
		t.Fatalf("want ErrEmptyQueue, got %v", err)
	}

	// A ticket arrives, then the original request is retried. The
	// replay must report empty rather than dequeue the newcomer.
	mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID: uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now,
	})
	_, _, err = st.CallNext(ctx, store.CallNextInput{
		RequestID:    requestID,
		AccountID:    accountID,
		TeamMemberID: memberID,
		CalledAt:     now,
	})
	if !errors.Is(err, store.ErrEmptyQueue) {
		t.Fatalf("replay should stay empty, got %v", err)
	}
}

func TestGraceSweepRequeuesWalkIn(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	ticket := mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID: uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now.Add(-30 * time.Minute),
	})

	// Salon grace is 5 minutes; calling 10 minutes in the past leaves
	// an already-expired deadline.
	called, _, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:    uuid.NewString(),
		AccountID:    accountID,
		TeamMemberID: memberID,
		CalledAt:     now.Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.TicketID != ticket.TicketID {
		t.Fatalf("unexpected ticket %s", called.TicketID)
	}

	processed, err := st.SweepGraceExpired(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if processed != 1 {
		t.Fatalf("want 1 processed, got %d", processed)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM queue_tickets WHERE ticket_id = $1`, ticket.TicketID).Scan(&status); err != nil {
		t.Fatalf("read ticket: %v", err)
	}
	if status != models.TicketWaiting {
		t.Fatalf("walk-in should rejoin the queue, got %s", status)
	}

	processed, err = st.SweepGraceExpired(ctx, 10)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if processed != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", processed)
	}
}

func TestGraceSweepNoShowsAppointment(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		ClientID:        uuid.NewString(),
		Source:          models.SourceStaff,
		StartsAt:        now.Add(2 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	ticket := mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		CreatedAt:     now.Add(-20 * time.Minute),
	})

	// Salon grace is 5 minutes and salons no-show appointment tickets
	// on expiry. Calling 10 minutes in the past leaves an expired
	// deadline.
	if _, _, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:    uuid.NewString(),
		AccountID:    accountID,
		TeamMemberID: memberID,
		CalledAt:     now.Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("call next: %v", err)
	}

	processed, err := st.SweepGraceExpired(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if processed != 1 {
		t.Fatalf("want 1 processed, got %d", processed)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM queue_tickets WHERE ticket_id = $1`, ticket.TicketID).Scan(&status); err != nil {
		t.Fatalf("read ticket: %v", err)
	}
	if status != models.TicketNoShow {
		t.Fatalf("appointment ticket should no-show, got %s", status)
	}

	reloaded, _, err := st.GetReservation(ctx, accountID, reservation.ReservationID)
	if err != nil {
		t.Fatalf("reload reservation: %v", err)
	}
	if reloaded.Status != models.StatusNoShow {
		t.Fatalf("reservation should follow its ticket to no_show, got %s", reloaded.Status)
	}

	var feeEvents int
	if err := pool.QueryRow(ctx, `
		SELECT count(*) FROM outbox_events
		WHERE account_id = $1 AND type = 'reservation.no_show_fee_due'
	`, accountID).Scan(&feeEvents); err != nil {
		t.Fatalf("count fee events: %v", err)
	}
	if feeEvents != 1 {
		t.Fatalf("want exactly one fee event, got %d", feeEvents)
	}

	// The outcome already landed, so a second sweep finds nothing.
	processed, err = st.SweepGraceExpired(ctx, 10)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if processed != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", processed)
	}
}

func TestCompleteReservationFinishesTicket(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        now.Add(2 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	ticket := mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		CreatedAt:     now,
	})

	called, _, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:    uuid.NewString(),
		AccountID:    accountID,
		TeamMemberID: memberID,
		CalledAt:     now,
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, _, err := st.CheckInTicket(ctx, store.CheckInInput{
		RequestID:  uuid.NewString(),
		AccountID:  accountID,
		TicketID:   called.TicketID,
		OccurredAt: now,
	}); err != nil {
		t.Fatalf("check in: %v", err)
	}

	// Completing the visit must close the ticket too, or the live
	// board would carry it forever.
	if _, _, err := st.CompleteReservation(ctx, store.ReservationActionInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorStaff,
		OccurredAt:    now,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var status string
	var finishedAt *time.Time
	if err := pool.QueryRow(ctx, `
		SELECT status, finished_at FROM queue_tickets WHERE ticket_id = $1
	`, ticket.TicketID).Scan(&status, &finishedAt); err != nil {
		t.Fatalf("read ticket: %v", err)
	}
	if status != models.TicketDone || finishedAt == nil {
		t.Fatalf("ticket should be done with a finish time, got %s/%v", status, finishedAt)
	}

	board, err := st.ListQueue(ctx, accountID, "")
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(board) != 0 {
		t.Fatalf("live board should be empty, got %d tickets", len(board))
	}
}

func TestCancelReservationCancelsTicket(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        now.Add(2 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	ticket := mustCreateTicket(t, ctx, st, store.CreateTicketInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		CreatedAt:     now,
	})

	if _, _, err := st.CancelReservation(ctx, store.ReservationActionInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorStaff,
		Reason:        "client called in",
		OccurredAt:    now,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM queue_tickets WHERE ticket_id = $1`, ticket.TicketID).Scan(&status); err != nil {
		t.Fatalf("read ticket: %v", err)
	}
	if status != models.TicketCancelled {
		t.Fatalf("ticket should cancel with its reservation, got %s", status)
	}
}

func TestActionReplayHonorsLockTimeout(t *testing.T) {
	ctx := context.Background()
	_, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	st := NewStore(pool, Options{LockTimeout: 100 * time.Millisecond})

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceClient,
		StartsAt:        now.Add(30 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	requestID := uuid.NewString()
	if _, _, err := st.ConfirmReservation(ctx, store.ReservationActionInput{
		RequestID:     requestID,
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorStaff,
		OccurredAt:    now,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Hold the row from another session, then replay. The replay path
	// must give up within the configured timeout, not wait on the
	// holder.
	blocker, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin blocker: %v", err)
	}
	defer blocker.Rollback(ctx)
	if _, err := blocker.Exec(ctx, `
		SELECT 1 FROM reservations WHERE reservation_id = $1 FOR UPDATE
	`, reservation.ReservationID); err != nil {
		t.Fatalf("lock row: %v", err)
	}

	start := time.Now()
	_, _, err = st.ConfirmReservation(ctx, store.ReservationActionInput{
		RequestID:     requestID,
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorStaff,
		OccurredAt:    now,
	})
	if !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("replay waited %v, should give up near the 100ms timeout", waited)
	}
}

func TestRescheduleReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	original := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        now.Add(6 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})

	replacement, created, err := st.RescheduleReservation(ctx, store.RescheduleInput{
		ReservationActionInput: store.ReservationActionInput{
			RequestID:     uuid.NewString(),
			AccountID:     accountID,
			ReservationID: original.ReservationID,
			ActorRole:     models.ActorStaff,
			OccurredAt:    now,
		},
		NewStartsAt: now.Add(8 * time.Hour),
	})
	if err != nil || !created {
		t.Fatalf("reschedule: created=%v err=%v", created, err)
	}
	if replacement.RescheduledFromID != original.ReservationID {
		t.Fatalf("replacement must point back at the original")
	}

	reloaded, _, err := st.GetReservation(ctx, accountID, original.ReservationID)
	if err != nil {
		t.Fatalf("reload original: %v", err)
	}
	if reloaded.Status != models.StatusCancelled || reloaded.CancelReason != "rescheduled" {
		t.Fatalf("original should be cancelled as rescheduled, got %s/%s", reloaded.Status, reloaded.CancelReason)
	}

	// The old slot is free again for someone else.
	mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceStaff,
		StartsAt:        original.StartsAt,
		DurationMinutes: 30,
		CreatedAt:       now,
	})
}

func TestEventChainVerifies(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	memberID := uuid.NewString()
	accountID := seedAccount(t, ctx, pool, "salon", memberID)

	now := time.Now().UTC().Truncate(time.Minute)
	reservation := mustCreateReservation(t, ctx, st, store.CreateReservationInput{
		RequestID:       uuid.NewString(),
		AccountID:       accountID,
		TeamMemberID:    memberID,
		Source:          models.SourceClient,
		StartsAt:        now.Add(30 * time.Hour),
		DurationMinutes: 30,
		CreatedAt:       now,
	})
	if _, _, err := st.ConfirmReservation(ctx, store.ReservationActionInput{
		RequestID:     uuid.NewString(),
		AccountID:     accountID,
		ReservationID: reservation.ReservationID,
		ActorRole:     models.ActorStaff,
		OccurredAt:    now,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	events, err := st.ListReservationEvents(ctx, accountID, reservation.ReservationID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	if bad := store.VerifyEventChain(events); bad != -1 {
		t.Fatalf("chain broken at seq %d", bad)
	}
}
