package settlement

import (
	"context"
	"time"

	"route-ledger/internal/eventing"
)

// Reader is the query side of the ledger store.
// Point lookups return (nil, nil) when the row does not exist.
type Reader interface {
	GetRoute(ctx context.Context, id string) (*Route, error)
	ListRoutes(ctx context.Context) ([]Route, error)
	GetClient(ctx context.Context, id string) (*Client, error)
	GetTable(ctx context.Context, id string) (*Table, error)
	GetCycle(ctx context.Context, id string) (*Cycle, error)
	FindOpenCycle(ctx context.Context, routeID string) (*Cycle, error)
	FindCycleByNumber(ctx context.Context, routeID string, year, number int) (*Cycle, error)
	// ListCyclesByRoute returns cycles newest first.
	ListCyclesByRoute(ctx context.Context, routeID string) ([]Cycle, error)
	// ListCyclesByPeriod returns cycles started in [from, to).
	ListCyclesByPeriod(ctx context.Context, from, to time.Time) ([]Cycle, error)
	MaxCycleNumber(ctx context.Context, routeID string, year int) (int, error)
	// GetSettlement returns the settlement with its line items.
	GetSettlement(ctx context.Context, id string) (*Settlement, error)
	// FindSettlementsByCycle returns settlement headers without line items.
	FindSettlementsByCycle(ctx context.Context, cycleID string) ([]Settlement, error)
	FindSettlementsByClient(ctx context.Context, clientID string) ([]Settlement, error)
	FindLineItemsForSettlement(ctx context.Context, settlementID string) ([]LineItem, error)
	// FindLastSettlementForClient returns the latest non-cancelled settlement.
	FindLastSettlementForClient(ctx context.Context, clientID string) (*Settlement, error)
	FindExpensesByCycle(ctx context.Context, cycleID string) ([]Expense, error)
	FindActiveClientsByRoute(ctx context.Context, routeID string) ([]Client, error)
}

// Writer is the command side of the ledger store.
type Writer interface {
	UpsertRoute(ctx context.Context, route *Route) error
	UpsertClient(ctx context.Context, client *Client) error
	UpsertTable(ctx context.Context, table *Table) error
	// InsertCycle fails with ConflictError when an OPEN cycle already exists for the route.
	InsertCycle(ctx context.Context, cycle *Cycle) error
	// UpsertCycle fails with ErrCycleImmutable when the stored cycle is terminal.
	UpsertCycle(ctx context.Context, cycle *Cycle) error
	// InsertSettlement persists the settlement and its line items.
	InsertSettlement(ctx context.Context, s *Settlement) error
	InsertExpense(ctx context.Context, e *Expense) error
	// AppendEvent writes to the outbox in the same unit of work.
	AppendEvent(ctx context.Context, env eventing.Envelope) error
}

// Store is the ledger store. WithinTx runs fn atomically; nested calls
// join the outer unit of work.
type Store interface {
	Reader
	Writer
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
