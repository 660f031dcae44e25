package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/audit"
	eventingrepo "route-ledger/internal/eventing/infrastructure/postgres"
	settlementapp "route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
	"route-ledger/internal/settlement/infrastructure/lock"
	settlementrepo "route-ledger/internal/settlement/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestLedger_CycleLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := applyLedgerMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	routeID := "route-it-ledger"
	resetLedger(ctx, t, db, routeID)

	store := settlementrepo.NewStore(db, eventingrepo.NewOutboxStore(db))
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	opts := []settlementapp.Option{
		settlementapp.WithClock(&stepClock{now: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}),
		settlementapp.WithLocker(lock.NewKeyedMutex()),
		settlementapp.WithLogger(logger),
		settlementapp.WithTenantID("tenant-it"),
	}

	cycles, err := settlementapp.NewCycleService(store, opts...)
	if err != nil {
		t.Fatalf("cycle service: %v", err)
	}
	summaries, err := settlementapp.NewSummaryService(store, opts...)
	if err != nil {
		t.Fatalf("summary service: %v", err)
	}
	ledger, err := settlementapp.NewDebtLedger(store, opts...)
	if err != nil {
		t.Fatalf("debt ledger: %v", err)
	}
	finalizer, err := settlementapp.NewFinalizer(store, opts...)
	if err != nil {
		t.Fatalf("finalizer: %v", err)
	}

	if err := store.UpsertRoute(ctx, &settlement.Route{ID: routeID, Name: "IT", Active: true, Status: settlement.RouteStatusPaused}); err != nil {
		t.Fatalf("seed route: %v", err)
	}
	for _, id := range []string{"it-client-a", "it-client-b"} {
		if err := store.UpsertClient(ctx, &settlement.Client{ID: id, RouteID: routeID, Name: id, PricePerFicha: decimal.NewFromInt(2), Active: true}); err != nil {
			t.Fatalf("seed client: %v", err)
		}
		if err := store.UpsertTable(ctx, &settlement.Table{ID: id + "-t", Number: "1", Kind: settlement.TableKindBilliards, RouteID: routeID, ClientID: id}); err != nil {
			t.Fatalf("seed table: %v", err)
		}
	}

	// Concurrent opens against the database: exactly one wins.
	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cycles.OpenCycle(ctx, routeID, 2025)
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	opened := 0
	for err := range results {
		if err == nil {
			opened++
		} else if !settlement.IsConflict(err) {
			t.Fatalf("unexpected open error: %v", err)
		}
	}
	if opened != 1 {
		t.Fatalf("expected exactly one open cycle, got %d", opened)
	}
	open, err := cycles.GetOpenCycle(ctx, routeID)
	if err != nil || open == nil || open.Number != 1 {
		t.Fatalf("open cycle: %+v (%v)", open, err)
	}

	st, err := ledger.RecordSettlement(ctx, settlementapp.SettlementInput{
		ClientID:       "it-client-a",
		Items:          []settlementapp.LineItemInput{{TableID: "it-client-a-t", MeterEnd: 100}},
		PaymentMethods: map[string]decimal.Decimal{"pix": decimal.NewFromInt(150)},
	})
	if err != nil {
		t.Fatalf("record settlement: %v", err)
	}
	if !st.ResultingDebt.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("resulting debt: %s", st.ResultingDebt)
	}
	loaded, err := store.GetSettlement(ctx, st.ID)
	if err != nil || loaded == nil || len(loaded.Items) != 1 || !loaded.PaymentMethods[settlement.PaymentPIX].Equal(decimal.NewFromInt(150)) {
		t.Fatalf("settlement roundtrip: %+v (%v)", loaded, err)
	}
	if _, err := ledger.RecordCorrection(ctx, st.ID, settlementapp.CorrectionInput{TotalDelta: decimal.NewFromInt(-20)}); err != nil {
		t.Fatalf("correction: %v", err)
	}
	live, err := ledger.LiveDebt(ctx, "it-client-a")
	if err != nil || !live.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("live debt: %s (%v)", live, err)
	}
	cached, _ := ledger.CurrentDebt(ctx, "it-client-a")
	if !cached.Equal(live) {
		t.Fatalf("cached %s != live %s", cached, live)
	}
	carried, err := ledger.CarryOver(ctx, "it-client-a")
	if err != nil {
		t.Fatalf("carry over: %v", err)
	}
	reloaded, _ := store.GetClient(ctx, "it-client-a")
	if loaded.Seq != 1 || reloaded.LedgerSeq != 3 || reloaded.CarryOverSeq != carried.CarryOverSeq || reloaded.CarryOverSeq != 3 {
		t.Fatalf("ledger sequence roundtrip: settlement %d client %+v", loaded.Seq, reloaded)
	}
	if live, _ := ledger.LiveDebt(ctx, "it-client-a"); !live.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("live debt after carry-over: %s", live)
	}
	if _, err := ledger.RecordExpense(ctx, settlementapp.ExpenseInput{RouteID: routeID, Category: "Viagem", Amount: decimal.NewFromInt(40)}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	liveSummary, err := summaries.ComputeSummary(ctx, open.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if liveSummary.ClientsSettled != 1 || liveSummary.TotalClients != 2 || liveSummary.PercentSettled != 50 {
		t.Fatalf("unexpected summary: %+v", liveSummary)
	}

	closed, err := finalizer.CloseCycle(ctx, routeID)
	if err != nil || !closed {
		t.Fatalf("close: %v (%v)", closed, err)
	}
	frozen, err := summaries.SummaryForCycle(ctx, open.ID)
	if err != nil || !frozen.Frozen || !frozen.Revenue.Equal(liveSummary.Revenue) || !frozen.TravelExpenses.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("frozen summary: %+v (%v)", frozen, err)
	}
	cycle, _ := store.GetCycle(ctx, open.ID)
	cycle.Notes = "rewrite"
	if err := store.UpsertCycle(ctx, cycle); !errors.Is(err, settlement.ErrCycleImmutable) {
		t.Fatalf("expected immutable cycle, got %v", err)
	}

	nextID, err := cycles.OpenCycle(ctx, routeID, 2025)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	next, _ := cycles.GetCycle(ctx, nextID)
	if next.Number != 2 {
		t.Fatalf("expected cycle 2, got %d", next.Number)
	}

	var outboxCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_outbox WHERE route_id = $1", routeID).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	// opened, settled, corrected, expense, closed, opened
	if outboxCount != 6 {
		t.Fatalf("expected 6 outbox events, got %d", outboxCount)
	}
}

func resetLedger(ctx context.Context, t *testing.T, db *sql.DB, routeID string) {
	t.Helper()
	stmts := []string{
		"DELETE FROM settlement_line_items WHERE settlement_id IN (SELECT id FROM settlements WHERE route_id = $1)",
		"DELETE FROM settlements WHERE route_id = $1",
		"DELETE FROM expenses WHERE route_id = $1",
		"DELETE FROM settlement_cycles WHERE route_id = $1",
		"DELETE FROM rental_tables WHERE route_id = $1",
		"DELETE FROM clients WHERE route_id = $1",
		"DELETE FROM routes WHERE id = $1",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt, routeID); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox WHERE route_id = $1", routeID)
	_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE route_id = $1", routeID)
}

func TestAuditRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := applyLedgerMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	routeID := "route-it-audit"
	resetLedger(ctx, t, db, routeID)

	repo := audit.NewRepository(db)
	base := time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC)
	for i, action := range []string{"cycle.open", "settlement.record", "cycle.close"} {
		err := repo.Log(ctx, audit.Entry{
			TenantID:  "tenant-it",
			Action:    action,
			RouteID:   routeID,
			Metadata:  []byte(`{"step":1}`),
			RequestID: "req-" + action,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("log %s: %v", action, err)
		}
	}
	if err := repo.Log(ctx, audit.Entry{TenantID: "tenant-other", Action: "cycle.open", RouteID: routeID}); err != nil {
		t.Fatalf("log other tenant: %v", err)
	}

	entries, err := repo.List(ctx, audit.Query{TenantID: "tenant-it", RouteID: routeID, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != "cycle.close" || entries[1].Action != "settlement.record" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].RequestID != "req-cycle.close" || entries[0].PayloadDigest != audit.DigestJSON([]byte(`{"step":1}`)) {
		t.Fatalf("entry fields not stored: %+v", entries[0])
	}
}

func applyLedgerMigrations(db *sql.DB) error {
	root := projectRoot()
	files := []string{
		filepath.Join(root, "migrations", "001_ledger.sql"),
		filepath.Join(root, "migrations", "002_outbox.sql"),
		filepath.Join(root, "migrations", "003_audit.sql"),
	}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}
