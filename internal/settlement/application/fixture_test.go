package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	settlement "route-ledger/internal/settlement/domain"
	"route-ledger/internal/settlement/infrastructure/lock"
	"route-ledger/internal/settlement/infrastructure/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store     *memory.Store
	clock     *fakeClock
	cycles    *CycleService
	summaries *SummaryService
	ledger    *DebtLedger
	finalizer *Finalizer
	pendency  *PendencyService
	reports   *ReportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	opts := []Option{WithClock(clock), WithLocker(lock.NewKeyedMutex()), WithLogger(logger), WithTenantID("tenant-test")}

	cycles, err := NewCycleService(store, opts...)
	if err != nil {
		t.Fatalf("cycle service: %v", err)
	}
	summaries, err := NewSummaryService(store, opts...)
	if err != nil {
		t.Fatalf("summary service: %v", err)
	}
	ledger, err := NewDebtLedger(store, opts...)
	if err != nil {
		t.Fatalf("debt ledger: %v", err)
	}
	finalizer, err := NewFinalizer(store, opts...)
	if err != nil {
		t.Fatalf("finalizer: %v", err)
	}
	pendency, err := NewPendencyService(store, opts...)
	if err != nil {
		t.Fatalf("pendency: %v", err)
	}
	reports, err := NewReportService(store, summaries, opts...)
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	return &fixture{
		store:     store,
		clock:     clock,
		cycles:    cycles,
		summaries: summaries,
		ledger:    ledger,
		finalizer: finalizer,
		pendency:  pendency,
		reports:   reports,
	}
}

func (f *fixture) seedRoute(t *testing.T, id string) {
	t.Helper()
	err := f.store.UpsertRoute(context.Background(), &settlement.Route{
		ID:     id,
		Name:   "Route " + id,
		Active: true,
		Status: settlement.RouteStatusPaused,
	})
	if err != nil {
		t.Fatalf("seed route: %v", err)
	}
}

func (f *fixture) seedClient(t *testing.T, id, routeID, price string) {
	t.Helper()
	err := f.store.UpsertClient(context.Background(), &settlement.Client{
		ID:            id,
		RouteID:       routeID,
		Name:          "Client " + id,
		PricePerFicha: dec(price),
		Active:        true,
		CreatedAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
}

func (f *fixture) seedTable(t *testing.T, id, routeID, clientID string, reading int64) {
	t.Helper()
	err := f.store.UpsertTable(context.Background(), &settlement.Table{
		ID:           id,
		Number:       id,
		Kind:         settlement.TableKindBilliards,
		RouteID:      routeID,
		ClientID:     clientID,
		MeterReading: reading,
	})
	if err != nil {
		t.Fatalf("seed table: %v", err)
	}
}

func (f *fixture) openCycle(t *testing.T, routeID string, year int) string {
	t.Helper()
	id, err := f.cycles.OpenCycle(context.Background(), routeID, year)
	if err != nil {
		t.Fatalf("open cycle: %v", err)
	}
	return id
}

func (f *fixture) settle(t *testing.T, clientID, tableID string, meterEnd int64, received string) *settlement.Settlement {
	t.Helper()
	f.clock.Advance(time.Minute)
	st, err := f.ledger.RecordSettlement(context.Background(), SettlementInput{
		ClientID:       clientID,
		Items:          []LineItemInput{{TableID: tableID, MeterEnd: meterEnd}},
		AmountReceived: dec(received),
	})
	if err != nil {
		t.Fatalf("record settlement: %v", err)
	}
	return st
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func int64p(v int64) *int64 { return &v }

// routeWriteFailingStore fails every route write made inside a transaction.
type routeWriteFailingStore struct {
	settlement.Store
	err error
}

func (s *routeWriteFailingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Store) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		return fn(ctx, &routeWriteFailingStore{Store: tx, err: s.err})
	})
}

func (s *routeWriteFailingStore) UpsertRoute(ctx context.Context, r *settlement.Route) error {
	return s.err
}

func (f *fixture) pendingEvents(t *testing.T) int {
	t.Helper()
	pending, err := f.store.ListPending(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return len(pending)
}
