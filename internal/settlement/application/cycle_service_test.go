package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"route-ledger/internal/eventing"
	settlement "route-ledger/internal/settlement/domain"
)

func TestOpenCycle_NumbersSequentiallyPerYear(t *testing.T) {
	f := newFixture(t)
	f.seedRoute(t, "r1")
	ctx := context.Background()

	first := f.openCycle(t, "r1", 2025)
	if _, err := f.finalizer.CloseCycle(ctx, "r1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	second := f.openCycle(t, "r1", 2025)

	c1, _ := f.cycles.GetCycle(ctx, first)
	c2, _ := f.cycles.GetCycle(ctx, second)
	if c1.Number != 1 || c2.Number != 2 {
		t.Fatalf("expected numbers 1 and 2, got %d and %d", c1.Number, c2.Number)
	}
	if c2.Title() != "2º Acerto 2025" {
		t.Fatalf("unexpected title %q", c2.Title())
	}

	route, _ := f.store.GetRoute(ctx, "r1")
	if route.Status != settlement.RouteStatusInProgress || route.CurrentCycleNumber != 2 || route.CurrentCycleYear != 2025 {
		t.Fatalf("route pointer not updated: %+v", route)
	}
	if !route.CycleEndedAt.IsZero() {
		t.Fatalf("expected cleared end date on reopen")
	}
}

func TestOpenCycle_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.cycles.OpenCycle(ctx, "missing", 2025); !settlement.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	f.seedRoute(t, "r1")
	f.openCycle(t, "r1", 2025)
	if _, err := f.cycles.OpenCycle(ctx, "r1", 2025); !settlement.IsConflict(err) {
		t.Fatalf("expected conflict for second open cycle, got %v", err)
	}

	if err := f.store.UpsertRoute(ctx, &settlement.Route{ID: "r2", Active: false}); err != nil {
		t.Fatalf("seed inactive route: %v", err)
	}
	if _, err := f.cycles.OpenCycle(ctx, "r2", 2025); !settlement.IsConflict(err) {
		t.Fatalf("expected conflict for inactive route, got %v", err)
	}
}

func TestOpenCycle_ConcurrentOpensYieldOneCycle(t *testing.T) {
	f := newFixture(t)
	f.seedRoute(t, "r1")
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var opened, conflicts int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cycles.OpenCycle(ctx, "r1", 2025)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case settlement.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if opened != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 open and %d conflicts, got %d/%d", workers-1, opened, conflicts)
	}
	cycles, err := f.cycles.ListCycles(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected a single stored cycle, got %d", len(cycles))
	}
}

func TestOpenCycle_EmitsOutboxEvent(t *testing.T) {
	f := newFixture(t)
	f.seedRoute(t, "r1")
	id := f.openCycle(t, "r1", 2025)

	events := f.store.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	env := events[0]
	if env.EventType != eventing.TypeName(CycleOpened{}) || env.RouteID != "r1" || env.TenantID != "tenant-test" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	decoded, err := eventing.NewRegistry(EventSamples()...).DecodePayload(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	opened, ok := decoded.(CycleOpened)
	if !ok || opened.CycleID != id || opened.Number != 1 {
		t.Fatalf("unexpected payload: %#v", decoded)
	}
}

func TestGetCycleForMetrics_Strategies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.cycles.GetCycleForMetrics(ctx, "missing")
	if res.Kind != ResolutionNone || !settlement.IsNotFound(res.Err) {
		t.Fatalf("expected none with not found, got %+v", res)
	}

	f.seedRoute(t, "r1")
	res = f.cycles.GetCycleForMetrics(ctx, "r1")
	if res.Kind != ResolutionFallback || res.Number != 1 || res.CycleID != "" || res.Resolved() {
		t.Fatalf("expected placeholder fallback, got %+v", res)
	}

	id := f.openCycle(t, "r1", 2025)
	res = f.cycles.GetCycleForMetrics(ctx, "r1")
	if !res.Resolved() || res.CycleID != id || res.Source != SourceOpenCycle {
		t.Fatalf("expected open cycle resolution, got %+v", res)
	}

	if _, err := f.finalizer.CloseCycle(ctx, "r1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	res = f.cycles.GetCycleForMetrics(ctx, "r1")
	if !res.Resolved() || res.CycleID != id || res.Source != SourceRoutePointer {
		t.Fatalf("expected route pointer resolution, got %+v", res)
	}
}

func TestCancelCycle(t *testing.T) {
	f := newFixture(t)
	f.seedRoute(t, "r1")
	f.seedClient(t, "c1", "r1", "1")
	f.seedTable(t, "t1", "r1", "c1", 0)
	ctx := context.Background()

	if _, err := f.cycles.CancelCycle(ctx, "r1"); !settlement.IsConflict(err) {
		t.Fatalf("expected conflict without open cycle, got %v", err)
	}

	id := f.openCycle(t, "r1", 2025)
	cancelled, err := f.cycles.CancelCycle(ctx, "r1")
	if err != nil || cancelled != id {
		t.Fatalf("cancel: %v (%s)", err, cancelled)
	}
	cycle, _ := f.cycles.GetCycle(ctx, id)
	if cycle.Status != settlement.CycleStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cycle.Status)
	}
	route, _ := f.store.GetRoute(ctx, "r1")
	if route.Status != settlement.RouteStatusPaused {
		t.Fatalf("expected paused route, got %s", route.Status)
	}
	if err := f.store.UpsertCycle(ctx, cycle); !errors.Is(err, settlement.ErrCycleImmutable) {
		t.Fatalf("cancelled cycle must be immutable, got %v", err)
	}

	f.openCycle(t, "r1", 2025)
	f.settle(t, "c1", "t1", 10, "10")
	if _, err := f.cycles.CancelCycle(ctx, "r1"); !settlement.IsConflict(err) {
		t.Fatalf("expected conflict when settlements exist, got %v", err)
	}
}

func TestCancelCycle_MetricsFallBackToLastClosedCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRoute(t, "r1")

	first := f.openCycle(t, "r1", 2025)
	if _, err := f.finalizer.CloseCycle(ctx, "r1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	second := f.openCycle(t, "r1", 2025)
	if _, err := f.cycles.CancelCycle(ctx, "r1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res := f.cycles.GetCycleForMetrics(ctx, "r1")
	if !res.Resolved() || res.CycleID != first || res.Source != SourceRoutePointer || res.Number != 1 {
		t.Fatalf("expected the closed cycle %s, got %+v", first, res)
	}
	route, _ := f.store.GetRoute(ctx, "r1")
	if route.CurrentCycleNumber != 1 || route.CycleEndedAt.IsZero() {
		t.Fatalf("route not pointed back at the closed cycle: %+v", route)
	}

	third := f.openCycle(t, "r1", 2025)
	if third == second {
		t.Fatalf("cancelled cycle id reused")
	}
	cycle, _ := f.cycles.GetCycle(ctx, third)
	if cycle.Number != 3 {
		t.Fatalf("expected numbering to continue after the cancelled cycle, got %d", cycle.Number)
	}
}

func TestGetCycleForMetrics_SkipsCancelledPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRoute(t, "r1")

	id := f.openCycle(t, "r1", 2025)
	if _, err := f.cycles.CancelCycle(ctx, "r1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res := f.cycles.GetCycleForMetrics(ctx, "r1")
	if res.Resolved() || res.CycleID != "" || res.Source != SourcePlaceholder {
		t.Fatalf("expected placeholder fallback after cancel, got %+v", res)
	}

	// a route row still pointing at the cancelled cycle
	route, _ := f.store.GetRoute(ctx, "r1")
	route.CurrentCycleNumber, route.CurrentCycleYear = 1, 2025
	if err := f.store.UpsertRoute(ctx, route); err != nil {
		t.Fatalf("upsert route: %v", err)
	}
	res = f.cycles.GetCycleForMetrics(ctx, "r1")
	if res.Resolved() || res.CycleID == id {
		t.Fatalf("cancelled cycle must not resolve, got %+v", res)
	}
}

func TestOpenCycle_RollsBackWhenRouteWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRoute(t, "r1")
	before := f.pendingEvents(t)

	boom := errors.New("boom")
	cycles, err := NewCycleService(&routeWriteFailingStore{Store: f.store, err: boom}, WithClock(f.clock))
	if err != nil {
		t.Fatalf("cycle service: %v", err)
	}
	if _, err := cycles.OpenCycle(ctx, "r1", 2025); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	open, _ := f.store.FindOpenCycle(ctx, "r1")
	all, _ := f.store.ListCyclesByRoute(ctx, "r1")
	if open != nil || len(all) != 0 {
		t.Fatalf("no cycle may survive the failed open, got %+v", all)
	}
	route, _ := f.store.GetRoute(ctx, "r1")
	if route.Status != settlement.RouteStatusPaused || route.CurrentCycleNumber != 0 {
		t.Fatalf("route must be untouched, got %+v", route)
	}
	if after := f.pendingEvents(t); after != before {
		t.Fatalf("outbox changed from %d to %d", before, after)
	}

	id := f.openCycle(t, "r1", 2025)
	cycle, _ := f.cycles.GetCycle(ctx, id)
	if cycle.Number != 1 {
		t.Fatalf("expected cycle 1 after rollback, got %d", cycle.Number)
	}
}
