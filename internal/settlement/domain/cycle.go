package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus is the lifecycle state of a settlement cycle.
type CycleStatus string

const (
	CycleStatusOpen      CycleStatus = "OPEN"
	CycleStatusClosed    CycleStatus = "CLOSED"
	CycleStatusCancelled CycleStatus = "CANCELLED"
)

// FrozenTotals is the aggregate block written once at closure.
// Readers must ignore it while the cycle is OPEN.
type FrozenTotals struct {
	Revenue        decimal.Decimal `json:"revenue"`
	Expenses       decimal.Decimal `json:"expenses"`
	Travel         decimal.Decimal `json:"travel"`
	Profit         decimal.Decimal `json:"profit"`
	DebtTotal      decimal.Decimal `json:"debt_total"`
	ClientsSettled int             `json:"clients_settled"`
	TotalClients   int             `json:"total_clients"`
	TableCount     int             `json:"table_count"`
}

// Cycle is a bounded accounting period for a route.
type Cycle struct {
	ID        string
	RouteID   string
	Number    int
	Year      int
	Status    CycleStatus
	StartedAt time.Time
	EndedAt   time.Time
	Notes     string
	CreatedBy string
	Frozen    FrozenTotals
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCycle builds an OPEN cycle with a zeroed aggregate block.
func NewCycle(id, routeID string, year, number int, at time.Time) (*Cycle, error) {
	if id == "" || routeID == "" {
		return nil, ErrEmptyID
	}
	if year <= 0 {
		return nil, &ValidationError{Field: "year", Reason: "must be positive"}
	}
	if number <= 0 {
		return nil, &ValidationError{Field: "number", Reason: "must be positive"}
	}
	return &Cycle{
		ID:        id,
		RouteID:   routeID,
		Number:    number,
		Year:      year,
		Status:    CycleStatusOpen,
		StartedAt: at,
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}

// Title renders the display name, e.g. "3º Acerto 2025".
func (c *Cycle) Title() string {
	return fmt.Sprintf("%dº Acerto %d", c.Number, c.Year)
}

// IsOpen reports whether the cycle accepts settlements.
func (c *Cycle) IsOpen() bool { return c != nil && c.Status == CycleStatusOpen }

// IsTerminal reports whether the cycle can no longer change.
func (c *Cycle) IsTerminal() bool {
	return c != nil && (c.Status == CycleStatusClosed || c.Status == CycleStatusCancelled)
}

// Freeze writes the aggregate block and closes the cycle.
func (c *Cycle) Freeze(totals FrozenTotals, at time.Time) error {
	if !c.IsOpen() {
		return ErrCycleNotOpen
	}
	c.Frozen = totals
	c.Status = CycleStatusClosed
	c.EndedAt = at
	c.UpdatedAt = at
	return nil
}

// Cancel discards an open cycle.
func (c *Cycle) Cancel(at time.Time) error {
	if !c.IsOpen() {
		return ErrCycleNotOpen
	}
	c.Status = CycleStatusCancelled
	c.EndedAt = at
	c.UpdatedAt = at
	return nil
}

// Clone returns a copy.
func (c *Cycle) Clone() *Cycle {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
