package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the state of a recorded settlement.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "PENDING"
	SettlementStatusFinalized SettlementStatus = "FINALIZED"
	SettlementStatusCancelled SettlementStatus = "CANCELLED"
)

// Settlement ("acerto") is an append-only visit record. A settlement with
// CorrectsID set is a compensating entry: its amounts are signed deltas.
type Settlement struct {
	ID             string
	ClientID       string
	RouteID        string
	CycleID        string
	SettledAt      time.Time
	PreviousDebt   decimal.Decimal
	Total          decimal.Decimal
	Discount       decimal.Decimal
	AmountReceived decimal.Decimal
	ResultingDebt  decimal.Decimal
	Status         SettlementStatus
	PaymentMethods map[string]decimal.Decimal
	Notes          string
	CorrectsID     string
	CreatedBy      string
	CreatedAt      time.Time
	Seq            int64 // per-client ledger order; zero is unsequenced
	Items          []LineItem
}

// LineItem ("acerto mesa") is the per-table part of a settlement.
type LineItem struct {
	ID            string
	SettlementID  string
	TableID       string
	MeterStart    int64
	MeterEnd      int64
	FichasPlayed  int64
	FixedPrice    bool
	PricePerFicha decimal.Decimal
	Subtotal      decimal.Decimal
}

// IsCorrection reports whether the settlement compensates another one.
func (s *Settlement) IsCorrection() bool { return s.CorrectsID != "" }

// Counts reports whether the settlement contributes to sums.
func (s *Settlement) Counts() bool { return s.Status != SettlementStatusCancelled }

// Balance is the settlement's effect on the client's debt.
func (s *Settlement) Balance(charge decimal.Decimal) decimal.Decimal {
	return charge.Sub(s.Discount).Sub(s.AmountReceived)
}

// Clone returns a deep copy.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	cp := *s
	if s.PaymentMethods != nil {
		cp.PaymentMethods = make(map[string]decimal.Decimal, len(s.PaymentMethods))
		for k, v := range s.PaymentMethods {
			cp.PaymentMethods[k] = v
		}
	}
	if s.Items != nil {
		cp.Items = append([]LineItem(nil), s.Items...)
	}
	return &cp
}

// NewLineItem prices one table for a client.
// Fixed-price tables charge the fixed value regardless of the meter.
func NewLineItem(id string, table *Table, client *Client, meterStart, meterEnd int64) (LineItem, error) {
	if table == nil || client == nil {
		return LineItem{}, ErrNilEntity
	}
	if meterStart < 0 {
		return LineItem{}, &ComputationError{Field: "meter_start", Reason: "negative reading"}
	}
	if meterEnd < 0 {
		return LineItem{}, &ComputationError{Field: "meter_end", Reason: "negative reading"}
	}
	item := LineItem{
		ID:         id,
		TableID:    table.ID,
		MeterStart: meterStart,
		MeterEnd:   meterEnd,
	}
	if table.FixedPriceMode {
		if table.FixedPrice.IsNegative() {
			return LineItem{}, &ComputationError{Field: "fixed_price", Reason: "negative price"}
		}
		item.FixedPrice = true
		item.Subtotal = table.FixedPrice
		return item, nil
	}
	if client.PricePerFicha.IsNegative() {
		return LineItem{}, &ComputationError{Field: "price_per_ficha", Reason: "negative price"}
	}
	fichas := meterEnd - meterStart
	if fichas < 0 {
		fichas = 0
	}
	item.FichasPlayed = fichas
	item.PricePerFicha = client.PricePerFicha
	item.Subtotal = client.PricePerFicha.Mul(decimal.NewFromInt(fichas))
	return item, nil
}

// ItemsTotal sums line item subtotals.
func ItemsTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// Charge is the amount billed by a settlement: the sum of its line items,
// or the stored total for entries without items (corrections).
func Charge(s *Settlement, items []LineItem) decimal.Decimal {
	if len(items) == 0 {
		return s.Total
	}
	return ItemsTotal(items)
}
