package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// TableKind is the kind of coin-operated equipment.
type TableKind string

const (
	TableKindBilliards TableKind = "billiards"
	TableKindJukebox   TableKind = "jukebox"
	TableKindFoosball  TableKind = "foosball"
)

// Table is a rented unit. An empty ClientID means it sits in the depot.
type Table struct {
	ID             string
	Number         string
	Kind           TableKind
	RouteID        string
	ClientID       string
	MeterReading   int64
	FixedPriceMode bool
	FixedPrice     decimal.Decimal
	UpdatedAt      time.Time
}

// Clone returns a copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// InDepot reports whether the table is unassigned.
func (t *Table) InDepot() bool { return t.ClientID == "" }
