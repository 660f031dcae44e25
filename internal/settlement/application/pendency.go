package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	settlement "route-ledger/internal/settlement/domain"
)

// Pendency reasons.
const (
	ReasonNeverSettled = "never_settled"
	ReasonDebt         = "debt_above_threshold"
	ReasonOverdue      = "overdue"
)

// MonthsBetween counts calendar month boundaries from a to b, ignoring days.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// IsPending applies the default rules to a client.
func IsPending(client *settlement.Client, lastSettlementDate *time.Time, now time.Time) bool {
	pending, _ := DefaultRules().pendency(client.CurrentDebt, lastSettlementDate, now)
	return pending
}

// IsPending reports whether a debt or an overdue visit needs attention.
func (r Rules) IsPending(debt decimal.Decimal, lastSettlementDate *time.Time, now time.Time) bool {
	pending, _ := r.pendency(debt, lastSettlementDate, now)
	return pending
}

func (r Rules) pendency(debt decimal.Decimal, last *time.Time, now time.Time) (bool, string) {
	if last == nil || last.IsZero() {
		return true, ReasonNeverSettled
	}
	if debt.GreaterThan(r.debtThreshold()) {
		return true, ReasonDebt
	}
	if MonthsBetween(*last, now) >= r.PendingMonths {
		return true, ReasonOverdue
	}
	return false, ""
}

// ClientPendency is the pendency state of one client.
type ClientPendency struct {
	ClientID         string          `json:"client_id"`
	Name             string          `json:"name"`
	Debt             decimal.Decimal `json:"debt"`
	LastSettlementAt *time.Time      `json:"last_settlement_at,omitempty"`
	MonthsSince      int             `json:"months_since"`
	Pending          bool            `json:"pending"`
	Reason           string          `json:"reason,omitempty"`
}

// RoutePendencies lists the pendency of a route's active clients.
type RoutePendencies struct {
	RouteID      string           `json:"route_id"`
	TotalClients int              `json:"total_clients"`
	PendingCount int              `json:"pending_count"`
	Clients      []ClientPendency `json:"clients"`
}

// PendencyService evaluates client pendencies.
type PendencyService struct {
	store settlement.Reader
	opts  options
}

// NewPendencyService constructs the service.
func NewPendencyService(store settlement.Reader, opts ...Option) (*PendencyService, error) {
	if store == nil {
		return nil, errors.New("pendency service: nil store")
	}
	return &PendencyService{store: store, opts: buildOptions(opts)}, nil
}

// ClientPendency evaluates one client.
func (s *PendencyService) ClientPendency(ctx context.Context, clientID string) (ClientPendency, error) {
	if clientID == "" {
		return ClientPendency{}, settlement.ErrEmptyID
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return ClientPendency{}, err
	}
	if client == nil {
		return ClientPendency{}, settlement.NotFound("client", clientID)
	}
	return s.evaluate(ctx, client, s.opts.clock.Now().UTC())
}

// RoutePendencies evaluates every active client of a route.
func (s *PendencyService) RoutePendencies(ctx context.Context, routeID string) (RoutePendencies, error) {
	if routeID == "" {
		return RoutePendencies{}, settlement.ErrEmptyID
	}
	route, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return RoutePendencies{}, err
	}
	if route == nil {
		return RoutePendencies{}, settlement.NotFound("route", routeID)
	}
	clients, err := s.store.FindActiveClientsByRoute(ctx, routeID)
	if err != nil {
		return RoutePendencies{}, err
	}
	now := s.opts.clock.Now().UTC()
	report := RoutePendencies{RouteID: routeID, TotalClients: len(clients)}
	for i := range clients {
		p, err := s.evaluate(ctx, &clients[i], now)
		if err != nil {
			return RoutePendencies{}, err
		}
		if p.Pending {
			report.PendingCount++
		}
		report.Clients = append(report.Clients, p)
	}
	sort.SliceStable(report.Clients, func(i, j int) bool {
		if report.Clients[i].Pending != report.Clients[j].Pending {
			return report.Clients[i].Pending
		}
		return report.Clients[i].Name < report.Clients[j].Name
	})
	return report, nil
}

func (s *PendencyService) evaluate(ctx context.Context, client *settlement.Client, now time.Time) (ClientPendency, error) {
	last, err := s.store.FindLastSettlementForClient(ctx, client.ID)
	if err != nil {
		return ClientPendency{}, err
	}
	p := ClientPendency{ClientID: client.ID, Name: client.Name, Debt: client.CurrentDebt}
	var lastAt *time.Time
	if last != nil {
		at := last.SettledAt
		lastAt = &at
		p.LastSettlementAt = lastAt
		p.MonthsSince = MonthsBetween(at, now)
	}
	p.Pending, p.Reason = s.opts.rules.RulesForRoute(client.RouteID).pendency(client.CurrentDebt, lastAt, now)
	return p, nil
}
