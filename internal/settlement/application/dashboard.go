package application

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"route-ledger/internal/observability/logging"
	"route-ledger/internal/observability/metrics"
)

// RouteOverview is the dashboard view of a route.
type RouteOverview struct {
	RouteID    string          `json:"route_id"`
	Resolution CycleResolution `json:"resolution"`
	Summary    CycleSummary    `json:"summary"`
	Degraded   bool            `json:"degraded"`
	Errors     []string        `json:"errors,omitempty"`
}

// ClientDebtView is the dashboard view of a client's balance. LiveDebt is
// set only when a replay was requested.
type ClientDebtView struct {
	ClientID    string           `json:"client_id"`
	CurrentDebt decimal.Decimal  `json:"current_debt"`
	LiveDebt    *decimal.Decimal `json:"live_debt,omitempty"`
	Degraded    bool             `json:"degraded"`
	Errors      []string         `json:"errors,omitempty"`
}

// ClientPendencyView is a client's pendency with its degradation marker.
type ClientPendencyView struct {
	ClientPendency
	Degraded bool     `json:"degraded"`
	Errors   []string `json:"errors,omitempty"`
}

// RoutePendenciesView is a route's pendency report with its degradation marker.
type RoutePendenciesView struct {
	RoutePendencies
	Degraded bool     `json:"degraded"`
	Errors   []string `json:"errors,omitempty"`
}

// Dashboard adapts the core services for display: failures become zero
// values that are logged and counted.
type Dashboard struct {
	cycles    *CycleService
	summaries *SummaryService
	ledger    *DebtLedger
	pendency  *PendencyService
	opts      options
}

// NewDashboard constructs the adapter.
func NewDashboard(cycles *CycleService, summaries *SummaryService, ledger *DebtLedger, pendency *PendencyService, opts ...Option) (*Dashboard, error) {
	if cycles == nil || summaries == nil || ledger == nil || pendency == nil {
		return nil, errors.New("dashboard: nil dependency")
	}
	return &Dashboard{cycles: cycles, summaries: summaries, ledger: ledger, pendency: pendency, opts: buildOptions(opts)}, nil
}

// CycleSummary returns the cycle's summary, zeroed on failure.
func (d *Dashboard) CycleSummary(ctx context.Context, cycleID string) Result[CycleSummary] {
	summary, err := d.summaries.SummaryForCycle(ctx, cycleID)
	if err != nil {
		d.degrade("cycle_summary", cycleID, err)
		return Fail[CycleSummary](err)
	}
	return OK(summary)
}

// ClientDebt returns the cached debt, zero on failure.
func (d *Dashboard) ClientDebt(ctx context.Context, clientID string) Result[decimal.Decimal] {
	debt, err := d.ledger.CurrentDebt(ctx, clientID)
	if err != nil {
		d.degrade("client_debt", clientID, err)
		return Fail[decimal.Decimal](err)
	}
	return OK(debt)
}

// ClientLiveDebt replays the client's ledger, zero on failure.
func (d *Dashboard) ClientLiveDebt(ctx context.Context, clientID string) Result[decimal.Decimal] {
	debt, err := d.ledger.LiveDebt(ctx, clientID)
	if err != nil {
		d.degrade("client_live_debt", clientID, err)
		return Fail[decimal.Decimal](err)
	}
	return OK(debt)
}

// ClientDebtOverview returns the cached debt and, when verify is set, the
// live replay next to it.
func (d *Dashboard) ClientDebtOverview(ctx context.Context, clientID string, verify bool) ClientDebtView {
	view := ClientDebtView{ClientID: clientID}
	current := d.ClientDebt(ctx, clientID)
	view.CurrentDebt = current.OrZero()
	view.Errors = appendDegraded(view.Errors, current.Err)
	if verify {
		live := d.ClientLiveDebt(ctx, clientID)
		value := live.OrZero()
		view.LiveDebt = &value
		view.Errors = appendDegraded(view.Errors, live.Err)
	}
	view.Degraded = len(view.Errors) > 0
	return view
}

// ClientPendency evaluates one client, not pending on failure.
func (d *Dashboard) ClientPendency(ctx context.Context, clientID string) Result[ClientPendency] {
	p, err := d.pendency.ClientPendency(ctx, clientID)
	if err != nil {
		d.degrade("client_pendency", clientID, err)
		res := Fail[ClientPendency](err)
		res.Value.ClientID = clientID
		return res
	}
	return OK(p)
}

// ClientPendencyOverview wraps ClientPendency for display.
func (d *Dashboard) ClientPendencyOverview(ctx context.Context, clientID string) ClientPendencyView {
	res := d.ClientPendency(ctx, clientID)
	errs := appendDegraded(nil, res.Err)
	return ClientPendencyView{ClientPendency: res.Value, Degraded: res.Degraded(), Errors: errs}
}

// RoutePendencies evaluates a route, an empty report on failure.
func (d *Dashboard) RoutePendencies(ctx context.Context, routeID string) Result[RoutePendencies] {
	report, err := d.pendency.RoutePendencies(ctx, routeID)
	if err != nil {
		d.degrade("route_pendencies", routeID, err)
		res := Fail[RoutePendencies](err)
		res.Value.RouteID = routeID
		return res
	}
	return OK(report)
}

// RoutePendenciesOverview wraps RoutePendencies for display.
func (d *Dashboard) RoutePendenciesOverview(ctx context.Context, routeID string) RoutePendenciesView {
	res := d.RoutePendencies(ctx, routeID)
	errs := appendDegraded(nil, res.Err)
	return RoutePendenciesView{RoutePendencies: res.Value, Degraded: res.Degraded(), Errors: errs}
}

// RouteOverview resolves the route's metrics cycle and its summary. A
// placeholder resolution yields an empty summary.
func (d *Dashboard) RouteOverview(ctx context.Context, routeID string) RouteOverview {
	overview := RouteOverview{RouteID: routeID}
	res := d.cycles.GetCycleForMetrics(ctx, routeID)
	overview.Resolution = res
	if res.Err != nil {
		d.degrade("cycle_resolution", routeID, res.Err)
		overview.Degraded = true
		overview.Errors = append(overview.Errors, res.Err.Error())
	}
	if !res.Resolved() {
		return overview
	}
	summary := d.CycleSummary(ctx, res.CycleID)
	overview.Summary = summary.OrZero()
	if summary.Degraded() {
		overview.Degraded = true
		overview.Errors = append(overview.Errors, summary.Err.Error())
	}
	return overview
}

func appendDegraded(errs []string, err error) []string {
	if err == nil {
		return errs
	}
	return append(errs, err.Error())
}

func (d *Dashboard) degrade(operation, id string, err error) {
	metrics.IncDegradedRead(operation)
	logging.LogError(d.opts.logger, "settlement", "Dashboard."+operation, "read degraded to zero value", id, err)
}
