package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/notify"
	"route-ledger/internal/observability/metrics"
	settlement "route-ledger/internal/settlement/domain"
)

const maxAlertLines = 20

// DebtMismatch is a client whose cached debt differs from the ledger.
type DebtMismatch struct {
	ClientID string          `json:"client_id"`
	RouteID  string          `json:"route_id"`
	Name     string          `json:"name"`
	Cached   decimal.Decimal `json:"cached"`
	Live     decimal.Decimal `json:"live"`
	Healed   bool            `json:"healed"`
}

// ReconcileReport is the outcome of one reconciliation run.
type ReconcileReport struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Routes         []string       `json:"routes"`
	ClientsChecked int            `json:"clients_checked"`
	Mismatches     []DebtMismatch `json:"mismatches"`
	Healed         bool           `json:"healed"`
}

// Reconciler replays the ledger of every active client and compares it
// with the cached debt.
type Reconciler struct {
	store    settlement.Store
	notifier notify.Notifier
	heal     bool
	opts     options
}

// NewReconciler constructs a reconciler. notifier may be nil.
func NewReconciler(store settlement.Store, notifier notify.Notifier, heal bool, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("reconciler: nil store")
	}
	return &Reconciler{store: store, notifier: notifier, heal: heal, opts: buildOptions(opts)}, nil
}

// Run reconciles the given routes, or every route when none are given.
func (r *Reconciler) Run(ctx context.Context, routeIDs []string) (ReconcileReport, error) {
	start := time.Now()
	report := ReconcileReport{
		RunID:     uuid.NewString(),
		StartedAt: r.opts.clock.Now().UTC(),
		Healed:    r.heal,
	}
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReconcile(result, len(report.Mismatches), time.Since(start))
	}()

	if len(routeIDs) == 0 {
		routes, err := r.store.ListRoutes(ctx)
		if err != nil {
			result = metrics.ResultError
			return report, err
		}
		for _, route := range routes {
			routeIDs = append(routeIDs, route.ID)
		}
	}
	report.Routes = routeIDs

	for _, routeID := range routeIDs {
		checked, mismatches, err := r.reconcileRoute(ctx, routeID)
		if err != nil {
			result = metrics.ResultError
			return report, fmt.Errorf("reconcile route %s: %w", routeID, err)
		}
		report.ClientsChecked += checked
		report.Mismatches = append(report.Mismatches, mismatches...)
	}
	report.FinishedAt = r.opts.clock.Now().UTC()

	r.opts.logger.WithFields(logrus.Fields{
		"run_id":     report.RunID,
		"routes":     len(report.Routes),
		"clients":    report.ClientsChecked,
		"mismatches": len(report.Mismatches),
		"healed":     r.heal,
	}).Info("debt reconciliation finished")

	if len(report.Mismatches) > 0 {
		r.alert(ctx, report)
	}
	return report, nil
}

func (r *Reconciler) reconcileRoute(ctx context.Context, routeID string) (int, []DebtMismatch, error) {
	if !r.heal {
		return r.compareRoute(ctx, r.store, routeID, false)
	}
	unlock, err := r.opts.lockRoute(ctx, routeID)
	if err != nil {
		return 0, nil, err
	}
	defer unlock()

	var checked int
	var mismatches []DebtMismatch
	err = r.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		var err error
		checked, mismatches, err = r.compareRoute(ctx, tx, routeID, true)
		return err
	})
	return checked, mismatches, err
}

func (r *Reconciler) compareRoute(ctx context.Context, store settlement.Store, routeID string, heal bool) (int, []DebtMismatch, error) {
	clients, err := store.FindActiveClientsByRoute(ctx, routeID)
	if err != nil {
		return 0, nil, err
	}
	now := r.opts.clock.Now().UTC()
	var mismatches []DebtMismatch
	for i := range clients {
		client := &clients[i]
		live, err := liveDebt(ctx, store, client)
		if err != nil {
			return 0, nil, err
		}
		if live.Equal(client.CurrentDebt) {
			continue
		}
		mismatch := DebtMismatch{
			ClientID: client.ID,
			RouteID:  routeID,
			Name:     client.Name,
			Cached:   client.CurrentDebt,
			Live:     live,
		}
		if heal {
			client.CurrentDebt = live
			client.UpdatedAt = now
			if err := store.UpsertClient(ctx, client); err != nil {
				return 0, nil, err
			}
			mismatch.Healed = true
		}
		mismatches = append(mismatches, mismatch)
	}
	return len(clients), mismatches, nil
}

func (r *Reconciler) alert(ctx context.Context, report ReconcileReport) {
	if r.notifier == nil {
		return
	}
	meta := make(map[string]string, len(report.Mismatches))
	for i, m := range report.Mismatches {
		if i == maxAlertLines {
			break
		}
		meta[m.ClientID] = fmt.Sprintf("cached %s, ledger %s", m.Cached.StringFixed(2), m.Live.StringFixed(2))
	}
	action := "run the reconciler with healing enabled"
	if report.Healed {
		action = "review recent settlements of the listed clients"
	}
	msg := notify.AlertMessage{
		TenantID:   r.opts.tenantID,
		RunID:      report.RunID,
		Mismatches: len(report.Mismatches),
		Healed:     report.Healed,
		Summary: map[string]any{
			"routes":          len(report.Routes),
			"clients_checked": report.ClientsChecked,
		},
		RecommendedAction: action,
		Meta:              meta,
	}
	if len(report.Routes) == 1 {
		msg.RouteID = report.Routes[0]
	}
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.opts.logger.WithField("run_id", report.RunID).WithError(err).Warn("reconciliation alert failed")
	}
}
