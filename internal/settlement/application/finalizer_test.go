package application

import (
	"context"
	"errors"
	"testing"

	settlement "route-ledger/internal/settlement/domain"
)

func TestCloseCycle_NoOpenCycle(t *testing.T) {
	f := newFixture(t)
	f.seedRoute(t, "R")
	closed, err := f.finalizer.CloseCycle(context.Background(), "R")
	if err != nil || closed {
		t.Fatalf("expected (false, nil), got (%v, %v)", closed, err)
	}
}

func TestCloseCycle_FreezeMatchesLiveSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRoute(t, "R")
	f.seedClient(t, "A", "R", "2")
	f.seedClient(t, "B", "R", "2")
	f.seedTable(t, "ta", "R", "A", 0)
	cycleID := f.openCycle(t, "R", 2025)
	f.settle(t, "A", "ta", 50, "60")
	if _, err := f.ledger.RecordExpense(ctx, ExpenseInput{RouteID: "R", Category: "Viagem", Amount: dec("12.5")}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	live, err := f.summaries.ComputeSummary(ctx, cycleID)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if closed, err := f.finalizer.CloseCycle(ctx, "R"); err != nil || !closed {
		t.Fatalf("close: %v", err)
	}
	cycle, _ := f.cycles.GetCycle(ctx, cycleID)
	fz := cycle.Frozen
	if !fz.Revenue.Equal(live.Revenue) || !fz.Expenses.Equal(live.Expenses) || !fz.Profit.Equal(live.Profit) ||
		!fz.Travel.Equal(live.TravelExpenses) || fz.ClientsSettled != live.ClientsSettled ||
		fz.TotalClients != live.TotalClients || fz.TableCount != live.TableCount {
		t.Fatalf("frozen block %+v differs from live %+v", fz, live)
	}
	if !fz.DebtTotal.Equal(dec("40")) {
		t.Fatalf("expected debt total 40 (100 charged - 60 received), got %s", fz.DebtTotal)
	}
	if cycle.EndedAt.IsZero() || cycle.Status != settlement.CycleStatusClosed {
		t.Fatalf("cycle not closed: %+v", cycle)
	}

	recomputed, err := f.summaries.ComputeSummary(ctx, cycleID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !recomputed.Revenue.Equal(fz.Revenue) || recomputed.ClientsSettled != fz.ClientsSettled || recomputed.TableCount != fz.TableCount {
		t.Fatalf("recompute after close diverged: %+v vs %+v", recomputed, fz)
	}

	route, _ := f.store.GetRoute(ctx, "R")
	if route.Status != settlement.RouteStatusFinished || route.CycleEndedAt.IsZero() {
		t.Fatalf("route not finished: %+v", route)
	}
	if err := f.store.UpsertCycle(ctx, cycle); !errors.Is(err, settlement.ErrCycleImmutable) {
		t.Fatalf("closed cycle must be immutable, got %v", err)
	}
	if _, err := f.ledger.RecordExpense(ctx, ExpenseInput{CycleID: cycleID, Category: "Viagem", Amount: dec("1")}); !settlement.IsConflict(err) {
		t.Fatalf("expense on closed cycle must conflict, got %v", err)
	}
}

func TestCloseCycle_RollsBackWhenRouteWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRoute(t, "R")
	f.seedClient(t, "A", "R", "1")
	f.seedTable(t, "ta", "R", "A", 0)
	cycleID := f.openCycle(t, "R", 2025)
	f.settle(t, "A", "ta", 40, "10")
	before := f.pendingEvents(t)

	boom := errors.New("boom")
	finalizer, err := NewFinalizer(&routeWriteFailingStore{Store: f.store, err: boom}, WithClock(f.clock))
	if err != nil {
		t.Fatalf("finalizer: %v", err)
	}
	closed, err := finalizer.CloseCycle(ctx, "R")
	if closed || !errors.Is(err, boom) {
		t.Fatalf("expected (false, boom), got (%v, %v)", closed, err)
	}

	cycle, _ := f.cycles.GetCycle(ctx, cycleID)
	if !cycle.IsOpen() || !cycle.EndedAt.IsZero() || !cycle.Frozen.Revenue.IsZero() {
		t.Fatalf("cycle must stay open and unfrozen, got %+v", cycle)
	}
	route, _ := f.store.GetRoute(ctx, "R")
	if route.Status != settlement.RouteStatusInProgress {
		t.Fatalf("route must stay in progress, got %s", route.Status)
	}
	if after := f.pendingEvents(t); after != before {
		t.Fatalf("outbox changed from %d to %d", before, after)
	}

	if closed, err := f.finalizer.CloseCycle(ctx, "R"); err != nil || !closed {
		t.Fatalf("retry close: (%v, %v)", closed, err)
	}
}
