package settlement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTravelCategory is the expense category treated as travel.
const DefaultTravelCategory = "Viagem"

// Expense is a cost charged to a cycle. An empty RouteID marks a global expense.
type Expense struct {
	ID          string
	RouteID     string
	CycleID     string
	Category    string
	Description string
	Amount      decimal.Decimal
	SpentAt     time.Time
	CreatedAt   time.Time
}

// InCategory compares categories case-insensitively.
func (e *Expense) InCategory(category string) bool {
	return strings.EqualFold(strings.TrimSpace(e.Category), strings.TrimSpace(category))
}

// Clone returns a copy.
func (e *Expense) Clone() *Expense {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
