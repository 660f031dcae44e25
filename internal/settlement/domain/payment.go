package settlement

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Canonical payment methods.
const (
	PaymentPIX    = "PIX"
	PaymentCard   = "Cartão"
	PaymentCheque = "Cheque"
	PaymentCash   = "Dinheiro"
)

// PaymentMethods lists canonical methods in display order.
var PaymentMethods = []string{PaymentPIX, PaymentCard, PaymentCheque, PaymentCash}

// NormalizePaymentMethod maps free-form labels onto the canonical set.
// Unknown labels count as cash.
func NormalizePaymentMethod(label string) string {
	upper := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case upper == "PIX":
		return PaymentPIX
	case strings.HasPrefix(upper, "CARTÃO"), strings.HasPrefix(upper, "CARTAO"):
		return PaymentCard
	case upper == "CHEQUE":
		return PaymentCheque
	default:
		return PaymentCash
	}
}

// NormalizePayments folds labels into canonical methods and drops zero amounts.
func NormalizePayments(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for label, amount := range in {
		if amount.IsZero() {
			continue
		}
		method := NormalizePaymentMethod(label)
		out[method] = out[method].Add(amount)
	}
	return out
}

// PaymentsTotal sums payment amounts.
func PaymentsTotal(in map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range in {
		total = total.Add(amount)
	}
	return total
}
