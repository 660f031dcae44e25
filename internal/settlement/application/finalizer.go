package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/observability/metrics"
	settlement "route-ledger/internal/settlement/domain"
)

// Finalizer closes cycles and freezes their aggregates.
type Finalizer struct {
	store settlement.Store
	opts  options
}

// NewFinalizer constructs the finalizer.
func NewFinalizer(store settlement.Store, opts ...Option) (*Finalizer, error) {
	if store == nil {
		return nil, errors.New("finalizer: nil store")
	}
	return &Finalizer{store: store, opts: buildOptions(opts)}, nil
}

// CloseCycle closes the route's OPEN cycle. It returns false without error
// when the route has no open cycle.
func (f *Finalizer) CloseCycle(ctx context.Context, routeID string) (bool, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveCycleTransition(metrics.TransitionClose, result, time.Since(start))
	}()

	if routeID == "" {
		result = metrics.ResultError
		return false, settlement.ErrEmptyID
	}
	unlock, err := f.opts.lockRoute(ctx, routeID)
	if err != nil {
		result = metrics.ResultError
		return false, err
	}
	defer unlock()

	now := f.opts.clock.Now().UTC()
	travelCategory := f.opts.rules.RulesForRoute(routeID).TravelCategory
	var closed *settlement.Cycle
	err = f.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		cycle, err := tx.FindOpenCycle(ctx, routeID)
		if err != nil || cycle == nil {
			return err
		}
		summary, err := computeSummary(ctx, tx, cycle, travelCategory)
		if err != nil {
			return err
		}
		clients, err := tx.FindActiveClientsByRoute(ctx, routeID)
		if err != nil {
			return err
		}
		debtTotal := decimal.Zero
		for i := range clients {
			debtTotal = debtTotal.Add(clients[i].CurrentDebt)
		}

		totals := settlement.FrozenTotals{
			Revenue:        summary.Revenue,
			Expenses:       summary.Expenses,
			Travel:         summary.TravelExpenses,
			Profit:         summary.Profit,
			DebtTotal:      debtTotal,
			ClientsSettled: summary.ClientsSettled,
			TotalClients:   summary.TotalClients,
			TableCount:     summary.TableCount,
		}
		if err := cycle.Freeze(totals, now); err != nil {
			return err
		}
		if err := tx.UpsertCycle(ctx, cycle); err != nil {
			return err
		}
		route, err := tx.GetRoute(ctx, routeID)
		if err != nil {
			return err
		}
		if route != nil {
			route.FinishCycle(now)
			if err := tx.UpsertRoute(ctx, route); err != nil {
				return err
			}
		}
		closed = cycle
		return appendEvent(ctx, tx, f.opts.tenantID, CycleClosed{
			CycleID:        cycle.ID,
			RouteID:        routeID,
			Number:         cycle.Number,
			Year:           cycle.Year,
			Revenue:        totals.Revenue,
			Expenses:       totals.Expenses,
			Profit:         totals.Profit,
			DebtTotal:      totals.DebtTotal,
			ClientsSettled: totals.ClientsSettled,
			TotalClients:   totals.TotalClients,
			TableCount:     totals.TableCount,
			OccurredAt:     now,
		})
	})
	if err != nil {
		result = metrics.ResultError
		return false, err
	}
	if closed == nil {
		result = metrics.ResultNoop
		return false, nil
	}

	f.opts.logger.WithFields(logrus.Fields{
		"route_id":   routeID,
		"cycle_id":   closed.ID,
		"title":      closed.Title(),
		"revenue":    closed.Frozen.Revenue.String(),
		"debt_total": closed.Frozen.DebtTotal.String(),
	}).Info("cycle closed")
	return true, nil
}
