package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"route-ledger/internal/eventing"
	settlement "route-ledger/internal/settlement/domain"
)

var t0 = time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)

func mustCycle(t *testing.T, id, routeID string, number int) *settlement.Cycle {
	t.Helper()
	c, err := settlement.NewCycle(id, routeID, 2025, number, t0.Add(time.Duration(number)*time.Hour))
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}
	return c
}

func TestStore_MissingRowsReturnNil(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	route, err := s.GetRoute(ctx, "nope")
	if err != nil || route != nil {
		t.Fatalf("expected nil route, got %+v (%v)", route, err)
	}
	cycle, err := s.FindOpenCycle(ctx, "nope")
	if err != nil || cycle != nil {
		t.Fatalf("expected nil cycle, got %+v (%v)", cycle, err)
	}
	last, err := s.FindLastSettlementForClient(ctx, "nope")
	if err != nil || last != nil {
		t.Fatalf("expected nil settlement, got %+v (%v)", last, err)
	}
}

func TestStore_OneOpenCyclePerRoute(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.InsertCycle(ctx, mustCycle(t, "c1", "r", 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertCycle(ctx, mustCycle(t, "c2", "r", 2)); !settlement.IsConflict(err) {
		t.Fatalf("expected conflict for second open cycle, got %v", err)
	}
	if err := s.InsertCycle(ctx, mustCycle(t, "c3", "other", 1)); err != nil {
		t.Fatalf("other route: %v", err)
	}

	c1, _ := s.GetCycle(ctx, "c1")
	if err := c1.Freeze(settlement.FrozenTotals{Revenue: decimal.NewFromInt(5)}, t0.Add(48*time.Hour)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := s.UpsertCycle(ctx, c1); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.UpsertCycle(ctx, c1); !errors.Is(err, settlement.ErrCycleImmutable) {
		t.Fatalf("expected immutable, got %v", err)
	}
	if err := s.InsertCycle(ctx, mustCycle(t, "c2", "r", 1)); !settlement.IsConflict(err) {
		t.Fatalf("expected duplicate number conflict, got %v", err)
	}
	if err := s.InsertCycle(ctx, mustCycle(t, "c2", "r", 2)); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	cycles, _ := s.ListCyclesByRoute(ctx, "r")
	if len(cycles) != 2 || cycles[0].ID != "c2" {
		t.Fatalf("expected newest first, got %+v", cycles)
	}
	max, _ := s.MaxCycleNumber(ctx, "r", 2025)
	if max != 2 {
		t.Fatalf("max number: %d", max)
	}
	period, _ := s.ListCyclesByPeriod(ctx, t0, t0.Add(90*time.Minute))
	if len(period) != 2 {
		t.Fatalf("expected c1 and c3 in period, got %+v", period)
	}
}

func TestStore_TxRollback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		if err := tx.UpsertRoute(ctx, &settlement.Route{ID: "r", Active: true}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, eventing.Envelope{EventID: "e1"}); err != nil {
			return err
		}
		route, _ := tx.GetRoute(ctx, "r")
		if route == nil {
			t.Fatalf("write not visible inside tx")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if route, _ := s.GetRoute(ctx, "r"); route != nil {
		t.Fatalf("rolled back write leaked: %+v", route)
	}
	if len(s.Events()) != 0 {
		t.Fatalf("rolled back event leaked")
	}
}

func TestStore_NestedTxJoinsOuter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		return s.WithinTx(ctx, func(ctx context.Context, inner settlement.Store) error {
			if inner != tx {
				t.Fatalf("nested tx should reuse the outer store")
			}
			return inner.UpsertClient(ctx, &settlement.Client{ID: "c", RouteID: "r", Active: true})
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	clients, _ := s.FindActiveClientsByRoute(ctx, "r")
	if len(clients) != 1 {
		t.Fatalf("expected committed client, got %+v", clients)
	}
}

func TestStore_SettlementsAndOutbox(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	st := &settlement.Settlement{
		ID:        "s1",
		ClientID:  "c",
		CycleID:   "cy",
		SettledAt: t0,
		CreatedAt: t0,
		Status:    settlement.SettlementStatusFinalized,
		Items:     []settlement.LineItem{{ID: "i1", SettlementID: "s1", TableID: "t"}},
	}
	if err := s.InsertSettlement(ctx, st); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertSettlement(ctx, st); !settlement.IsConflict(err) {
		t.Fatalf("expected append-only conflict, got %v", err)
	}
	cancelled := &settlement.Settlement{ID: "s2", ClientID: "c", CycleID: "cy", SettledAt: t0.Add(time.Hour), CreatedAt: t0.Add(time.Hour), Status: settlement.SettlementStatusCancelled}
	if err := s.InsertSettlement(ctx, cancelled); err != nil {
		t.Fatalf("insert cancelled: %v", err)
	}
	sequenced := &settlement.Settlement{ID: "s3", ClientID: "d", CycleID: "cy2", CreatedAt: t0, Seq: 4}
	if err := s.InsertSettlement(ctx, sequenced); err != nil {
		t.Fatalf("insert sequenced: %v", err)
	}
	reused := &settlement.Settlement{ID: "s4", ClientID: "d", CycleID: "cy2", CreatedAt: t0, Seq: 4}
	if err := s.InsertSettlement(ctx, reused); !settlement.IsConflict(err) {
		t.Fatalf("expected ledger sequence conflict, got %v", err)
	}

	headers, _ := s.FindSettlementsByCycle(ctx, "cy")
	if len(headers) != 2 || headers[0].Items != nil {
		t.Fatalf("expected two headers without items, got %+v", headers)
	}
	items, _ := s.FindLineItemsForSettlement(ctx, "s1")
	if len(items) != 1 || items[0].TableID != "t" {
		t.Fatalf("unexpected items: %+v", items)
	}
	last, _ := s.FindLastSettlementForClient(ctx, "c")
	if last == nil || last.ID != "s1" {
		t.Fatalf("cancelled settlement must be skipped, got %+v", last)
	}

	for _, id := range []string{"e1", "e1", "e2"} {
		if err := s.AppendEvent(ctx, eventing.Envelope{EventID: id}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	pending, _ := s.ListPending(ctx, 10, 3)
	if len(pending) != 2 {
		t.Fatalf("expected deduplicated outbox, got %d", len(pending))
	}
	if err := s.MarkSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.MarkFailed(ctx, pending[1].ID); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}
	if rest, _ := s.ListPending(ctx, 10, 3); len(rest) != 0 {
		t.Fatalf("exhausted records must not be retried, got %+v", rest)
	}
	if err := s.MarkSent(ctx, "missing"); !settlement.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
