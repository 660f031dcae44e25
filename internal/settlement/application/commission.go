package application

import "github.com/shopspring/decimal"

// Commission splits a cycle's revenue between driver and operator.
type Commission struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Driver   decimal.Decimal `json:"driver"`
	Operator decimal.Decimal `json:"operator"`
}

// Commissions computes the driver commission on revenue net of travel and
// the operator commission on gross revenue.
func (r Rules) Commissions(revenue, travel decimal.Decimal) Commission {
	subtotal := revenue.Sub(travel)
	return Commission{
		Subtotal: subtotal,
		Driver:   subtotal.Mul(r.driverRate()),
		Operator: revenue.Mul(r.operatorRate()),
	}
}

// Commissions applies the default rates to a summary.
func Commissions(summary CycleSummary, travelExpenses decimal.Decimal) (driver, operator decimal.Decimal) {
	c := DefaultRules().Commissions(summary.Revenue, travelExpenses)
	return c.Driver, c.Operator
}
