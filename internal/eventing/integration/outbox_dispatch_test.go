package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/eventing"
	eventingrepo "route-ledger/internal/eventing/infrastructure/postgres"
	"route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
	"route-ledger/internal/settlement/infrastructure/memory"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func seedRoute(t *testing.T, store *memory.Store) {
	t.Helper()
	if err := store.UpsertRoute(context.Background(), &settlement.Route{ID: "R", Name: "Norte", Active: true, Status: settlement.RouteStatusPaused}); err != nil {
		t.Fatalf("seed route: %v", err)
	}
}

func TestDispatcher_DeliversLedgerEvents(t *testing.T) {
	store := memory.NewStore()
	seedRoute(t, store)
	cycles, err := application.NewCycleService(store, application.WithLogger(quietLogger()), application.WithTenantID("tenant-default"))
	if err != nil {
		t.Fatalf("cycle service: %v", err)
	}

	ctx := eventing.WithTenantID(context.Background(), "tenant-a")
	cycleID, err := cycles.OpenCycle(ctx, "R", 2025)
	if err != nil {
		t.Fatalf("open cycle: %v", err)
	}

	bus := eventing.NewBus()
	var delivered []eventing.Envelope
	bus.Subscribe(eventing.TypeOf[application.CycleOpened](), func(ctx context.Context, event any) error {
		opened, ok := event.(application.CycleOpened)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if opened.CycleID != cycleID || opened.Number != 1 {
			t.Errorf("unexpected payload %+v", opened)
		}
		env, _ := eventing.EnvelopeFromContext(ctx)
		delivered = append(delivered, env)
		return nil
	})

	dispatcher := eventing.NewDispatcher(bus, store, eventing.NewRegistry(application.EventSamples()...), quietLogger(), 3)
	if err := dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(delivered))
	}
	if delivered[0].TenantID != "tenant-a" || delivered[0].RouteID != "R" {
		t.Fatalf("unexpected envelope %+v", delivered[0])
	}

	if err := dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("sent records must not be redelivered, got %d", len(delivered))
	}
	pending, _ := store.ListPending(ctx, 10, 3)
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d", len(pending))
	}
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	seedRoute(t, store)
	cycles, _ := application.NewCycleService(store, application.WithLogger(quietLogger()))
	if _, err := cycles.OpenCycle(context.Background(), "R", 2025); err != nil {
		t.Fatalf("open cycle: %v", err)
	}
	if _, err := cycles.CancelCycle(context.Background(), "R"); err != nil {
		t.Fatalf("cancel cycle: %v", err)
	}

	bus := eventing.NewBus()
	calls := 0
	bus.Subscribe(eventing.TypeOf[application.CycleCancelled](), func(ctx context.Context, event any) error {
		calls++
		return errors.New("consumer down")
	})
	opened := 0
	bus.Subscribe(eventing.TypeOf[application.CycleOpened](), func(ctx context.Context, event any) error {
		opened++
		return nil
	})

	dispatcher := eventing.NewDispatcher(bus, store, eventing.NewRegistry(application.EventSamples()...), quietLogger(), 2)
	for i := 0; i < 4; i++ {
		if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if opened != 1 {
		t.Fatalf("healthy consumer should see the event once, got %d", opened)
	}
}

func TestDispatcher_UnknownEventTypeFails(t *testing.T) {
	store := memory.NewStore()
	seedRoute(t, store)
	cycles, _ := application.NewCycleService(store, application.WithLogger(quietLogger()))
	if _, err := cycles.OpenCycle(context.Background(), "R", 2025); err != nil {
		t.Fatalf("open cycle: %v", err)
	}

	dispatcher := eventing.NewDispatcher(eventing.NewBus(), store, eventing.NewRegistry(), quietLogger(), 1)
	if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	pending, _ := store.ListPending(context.Background(), 10, 1)
	if len(pending) != 0 {
		t.Fatalf("undecodable record should be exhausted, got %d pending", len(pending))
	}
}

func TestOutboxStore_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if !tableExists(db, "event_outbox") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	routeID := "route-outbox-test"
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox WHERE route_id = $1", routeID)

	env, err := eventing.BuildEnvelope(application.CycleOpened{
		CycleID:    "cycle-1",
		RouteID:    routeID,
		Number:     1,
		Year:       2025,
		OccurredAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}, eventing.Meta{TenantID: "tenant-pg", EventID: "evt-outbox-001"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	outbox := eventingrepo.NewOutboxStore(db)
	for i := 0; i < 2; i++ {
		if _, err := outbox.Insert(ctx, env); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	var rows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_outbox WHERE route_id = $1", routeID).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("duplicate event id must be ignored, got %d rows", rows)
	}

	bus := eventing.NewBus()
	var got []string
	bus.Subscribe(eventing.TypeOf[application.CycleOpened](), func(ctx context.Context, event any) error {
		env, _ := eventing.EnvelopeFromContext(ctx)
		if env.RouteID == routeID {
			got = append(got, env.TenantID)
		}
		return nil
	})
	dispatcher := eventing.NewDispatcher(bus, outbox, eventing.NewRegistry(application.EventSamples()...), quietLogger(), 3)
	if err := dispatcher.Dispatch(ctx, 100); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(got) != 1 || got[0] != "tenant-pg" {
		t.Fatalf("unexpected deliveries %v", got)
	}

	var status string
	if err := db.QueryRowContext(ctx, "SELECT status FROM event_outbox WHERE event_id = $1", env.EventID).Scan(&status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "sent" {
		t.Fatalf("expected sent, got %s", status)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
