package application

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	settlement "route-ledger/internal/settlement/domain"
)

// ClosingStatement is the financial close of a cycle.
type ClosingStatement struct {
	CycleID            string                     `json:"cycle_id"`
	RouteID            string                     `json:"route_id"`
	Title              string                     `json:"title"`
	Status             settlement.CycleStatus     `json:"status"`
	Summary            CycleSummary               `json:"summary"`
	Revenue            decimal.Decimal            `json:"revenue"`
	TravelExpenses     decimal.Decimal            `json:"travel_expenses"`
	OtherExpenses      decimal.Decimal            `json:"other_expenses"`
	Subtotal           decimal.Decimal            `json:"subtotal"`
	DriverCommission   decimal.Decimal            `json:"driver_commission"`
	OperatorCommission decimal.Decimal            `json:"operator_commission"`
	Payments           map[string]decimal.Decimal `json:"payments"`
	Net                decimal.Decimal            `json:"net"`
}

// ReportService builds commission and closing figures for a cycle.
type ReportService struct {
	store     settlement.Reader
	summaries *SummaryService
	opts      options
}

// NewReportService constructs the service.
func NewReportService(store settlement.Reader, summaries *SummaryService, opts ...Option) (*ReportService, error) {
	if store == nil {
		return nil, errors.New("report service: nil store")
	}
	if summaries == nil {
		return nil, errors.New("report service: nil summary service")
	}
	return &ReportService{store: store, summaries: summaries, opts: buildOptions(opts)}, nil
}

// Commissions computes a cycle's commissions with the route's rules.
func (s *ReportService) Commissions(ctx context.Context, cycleID string) (Commission, error) {
	cycle, summary, err := s.cycleSummary(ctx, cycleID)
	if err != nil {
		return Commission{}, err
	}
	return s.opts.rules.RulesForRoute(cycle.RouteID).Commissions(summary.Revenue, summary.TravelExpenses), nil
}

// ClosingStatement computes the cycle close: payment totals per method and
// the net left after commissions, card/PIX/cheque receipts and expenses.
func (s *ReportService) ClosingStatement(ctx context.Context, cycleID string) (ClosingStatement, error) {
	cycle, summary, err := s.cycleSummary(ctx, cycleID)
	if err != nil {
		return ClosingStatement{}, err
	}
	settlements, err := s.store.FindSettlementsByCycle(ctx, cycle.ID)
	if err != nil {
		return ClosingStatement{}, err
	}
	payments := make(map[string]decimal.Decimal, len(settlement.PaymentMethods))
	for _, method := range settlement.PaymentMethods {
		payments[method] = decimal.Zero
	}
	for i := range settlements {
		if !settlements[i].Counts() {
			continue
		}
		for method, amount := range settlement.NormalizePayments(settlements[i].PaymentMethods) {
			payments[method] = payments[method].Add(amount)
		}
	}

	commission := s.opts.rules.RulesForRoute(cycle.RouteID).Commissions(summary.Revenue, summary.TravelExpenses)
	other := summary.Expenses.Sub(summary.TravelExpenses)
	net := commission.Subtotal.
		Sub(commission.Driver).
		Sub(commission.Operator).
		Sub(payments[settlement.PaymentPIX]).
		Sub(payments[settlement.PaymentCard]).
		Sub(other).
		Sub(payments[settlement.PaymentCheque])

	return ClosingStatement{
		CycleID:            cycle.ID,
		RouteID:            cycle.RouteID,
		Title:              cycle.Title(),
		Status:             cycle.Status,
		Summary:            summary,
		Revenue:            summary.Revenue,
		TravelExpenses:     summary.TravelExpenses,
		OtherExpenses:      other,
		Subtotal:           commission.Subtotal,
		DriverCommission:   commission.Driver,
		OperatorCommission: commission.Operator,
		Payments:           payments,
		Net:                net,
	}, nil
}

// Settlements returns the counted settlements of a cycle ordered by visit
// date, with their line items.
func (s *ReportService) Settlements(ctx context.Context, cycleID string) ([]settlement.Settlement, error) {
	cycle, err := s.summaries.loadCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	headers, err := s.store.FindSettlementsByCycle(ctx, cycle.ID)
	if err != nil {
		return nil, err
	}
	out := make([]settlement.Settlement, 0, len(headers))
	for i := range headers {
		if !headers[i].Counts() {
			continue
		}
		items, err := s.store.FindLineItemsForSettlement(ctx, headers[i].ID)
		if err != nil {
			return nil, err
		}
		headers[i].Items = items
		out = append(out, headers[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

func (s *ReportService) cycleSummary(ctx context.Context, cycleID string) (*settlement.Cycle, CycleSummary, error) {
	cycle, err := s.summaries.loadCycle(ctx, cycleID)
	if err != nil {
		return nil, CycleSummary{}, err
	}
	summary, err := s.summaries.SummaryForCycle(ctx, cycleID)
	if err != nil {
		return nil, CycleSummary{}, err
	}
	return cycle, summary, nil
}
