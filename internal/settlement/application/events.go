package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"route-ledger/internal/eventing"
	settlement "route-ledger/internal/settlement/domain"
)

// CycleOpened is emitted when a route starts a new cycle.
type CycleOpened struct {
	CycleID    string
	RouteID    string
	Number     int
	Year       int
	OccurredAt time.Time
}

// CycleClosed is emitted with the frozen aggregates of a closed cycle.
type CycleClosed struct {
	CycleID        string
	RouteID        string
	Number         int
	Year           int
	Revenue        decimal.Decimal
	Expenses       decimal.Decimal
	Profit         decimal.Decimal
	DebtTotal      decimal.Decimal
	ClientsSettled int
	TotalClients   int
	TableCount     int
	OccurredAt     time.Time
}

// CycleCancelled is emitted when an empty cycle is discarded.
type CycleCancelled struct {
	CycleID    string
	RouteID    string
	OccurredAt time.Time
}

// SettlementRecorded is emitted for every settlement and correction.
type SettlementRecorded struct {
	SettlementID   string
	ClientID       string
	RouteID        string
	CycleID        string
	CorrectsID     string
	Total          decimal.Decimal
	AmountReceived decimal.Decimal
	ResultingDebt  decimal.Decimal
	OccurredAt     time.Time
}

// ExpenseRecorded is emitted when an expense is charged to a cycle.
type ExpenseRecorded struct {
	ExpenseID  string
	RouteID    string
	CycleID    string
	Category   string
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// EventSamples returns one value per event type for registry setup.
func EventSamples() []any {
	return []any{
		CycleOpened{},
		CycleClosed{},
		CycleCancelled{},
		SettlementRecorded{},
		ExpenseRecorded{},
	}
}

func appendEvent(ctx context.Context, tx settlement.Writer, tenantID string, event any) error {
	env, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx, tenantID))
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, env)
}
