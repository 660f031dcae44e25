package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"route-ledger/internal/observability/metrics"
	settlement "route-ledger/internal/settlement/domain"
)

// CycleSummary is the rollup of one cycle.
type CycleSummary struct {
	CycleID        string          `json:"cycle_id"`
	Revenue        decimal.Decimal `json:"revenue"`
	Expenses       decimal.Decimal `json:"expenses"`
	TravelExpenses decimal.Decimal `json:"travel_expenses"`
	Profit         decimal.Decimal `json:"profit"`
	ClientsSettled int             `json:"clients_settled"`
	TotalClients   int             `json:"total_clients"`
	PercentSettled int             `json:"percent_settled"`
	TableCount     int             `json:"table_count"`
	Frozen         bool            `json:"frozen"`
}

// SummaryService computes cycle rollups.
type SummaryService struct {
	store settlement.Reader
	opts  options
}

// NewSummaryService constructs the service.
func NewSummaryService(store settlement.Reader, opts ...Option) (*SummaryService, error) {
	if store == nil {
		return nil, errors.New("summary service: nil store")
	}
	return &SummaryService{store: store, opts: buildOptions(opts)}, nil
}

// ComputeSummary recomputes a cycle's rollup from its settlements and
// expenses, whatever the cycle status. Errors are returned as-is.
func (s *SummaryService) ComputeSummary(ctx context.Context, cycleID string) (CycleSummary, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSummary(metrics.SourceLive, result, time.Since(start))
	}()

	cycle, err := s.loadCycle(ctx, cycleID)
	if err != nil {
		result = metrics.ResultError
		return CycleSummary{}, err
	}
	summary, err := computeSummary(ctx, s.store, cycle, s.opts.rules.RulesForRoute(cycle.RouteID).TravelCategory)
	if err != nil {
		result = metrics.ResultError
		return CycleSummary{}, err
	}
	return summary, nil
}

// SummaryForCycle returns the frozen block of a CLOSED cycle and a live
// computation otherwise.
func (s *SummaryService) SummaryForCycle(ctx context.Context, cycleID string) (CycleSummary, error) {
	cycle, err := s.loadCycle(ctx, cycleID)
	if err != nil {
		return CycleSummary{}, err
	}
	if cycle.Status == settlement.CycleStatusClosed {
		metrics.ObserveSummary(metrics.SourceFrozen, metrics.ResultSuccess, 0)
		return frozenSummary(cycle), nil
	}
	return s.ComputeSummary(ctx, cycleID)
}

func (s *SummaryService) loadCycle(ctx context.Context, cycleID string) (*settlement.Cycle, error) {
	if cycleID == "" {
		return nil, settlement.ErrEmptyID
	}
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, settlement.NotFound("cycle", cycleID)
	}
	return cycle, nil
}

func computeSummary(ctx context.Context, r settlement.Reader, cycle *settlement.Cycle, travelCategory string) (CycleSummary, error) {
	settlements, err := r.FindSettlementsByCycle(ctx, cycle.ID)
	if err != nil {
		return CycleSummary{}, err
	}
	expenses, err := r.FindExpensesByCycle(ctx, cycle.ID)
	if err != nil {
		return CycleSummary{}, err
	}
	clients, err := r.FindActiveClientsByRoute(ctx, cycle.RouteID)
	if err != nil {
		return CycleSummary{}, err
	}

	summary := CycleSummary{CycleID: cycle.ID, TotalClients: len(clients)}
	settledClients := make(map[string]struct{})
	tables := make(map[string]struct{})
	for i := range settlements {
		st := &settlements[i]
		if !st.Counts() {
			continue
		}
		summary.Revenue = summary.Revenue.Add(st.AmountReceived)
		settledClients[st.ClientID] = struct{}{}

		items, err := r.FindLineItemsForSettlement(ctx, st.ID)
		if err != nil {
			return CycleSummary{}, err
		}
		for _, item := range items {
			tables[item.TableID] = struct{}{}
		}
	}

	for i := range expenses {
		summary.Expenses = summary.Expenses.Add(expenses[i].Amount)
		if expenses[i].InCategory(travelCategory) {
			summary.TravelExpenses = summary.TravelExpenses.Add(expenses[i].Amount)
		}
	}

	summary.Profit = summary.Revenue.Sub(summary.Expenses)
	summary.ClientsSettled = len(settledClients)
	summary.TableCount = len(tables)
	summary.PercentSettled = PercentSettled(summary.ClientsSettled, summary.TotalClients)
	return summary, nil
}

// PercentSettled is settled/total as a whole percentage rounded half away
// from zero; 0 when there are no clients.
func PercentSettled(settled, total int) int {
	if total <= 0 {
		return 0
	}
	ratio := decimal.NewFromInt(int64(settled) * 100).Div(decimal.NewFromInt(int64(total)))
	return int(ratio.Round(0).IntPart())
}

func frozenSummary(cycle *settlement.Cycle) CycleSummary {
	f := cycle.Frozen
	return CycleSummary{
		CycleID:        cycle.ID,
		Revenue:        f.Revenue,
		Expenses:       f.Expenses,
		TravelExpenses: f.Travel,
		Profit:         f.Profit,
		ClientsSettled: f.ClientsSettled,
		TotalClients:   f.TotalClients,
		PercentSettled: PercentSettled(f.ClientsSettled, f.TotalClients),
		TableCount:     f.TableCount,
		Frozen:         true,
	}
}
