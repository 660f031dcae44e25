package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewLineItem(t *testing.T) {
	client := &Client{ID: "c1", PricePerFicha: decimal.RequireFromString("1.25")}
	table := &Table{ID: "t1"}

	item, err := NewLineItem("i1", table, client, 100, 140)
	if err != nil {
		t.Fatalf("line item: %v", err)
	}
	if item.FichasPlayed != 40 || !item.Subtotal.Equal(decimal.RequireFromString("50")) || item.FixedPrice {
		t.Fatalf("unexpected metered item: %+v", item)
	}

	item, err = NewLineItem("i2", table, client, 140, 100)
	if err != nil || item.FichasPlayed != 0 || !item.Subtotal.IsZero() {
		t.Fatalf("meter rollback should bill nothing: %+v (%v)", item, err)
	}

	fixed := &Table{ID: "t2", FixedPriceMode: true, FixedPrice: decimal.NewFromInt(80)}
	item, err = NewLineItem("i3", fixed, client, 0, 999)
	if err != nil || !item.FixedPrice || !item.Subtotal.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("unexpected fixed item: %+v (%v)", item, err)
	}

	if _, err := NewLineItem("i4", table, client, -1, 10); !IsComputation(err) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if _, err := NewLineItem("i5", nil, client, 0, 1); err != ErrNilEntity {
		t.Fatalf("expected ErrNilEntity, got %v", err)
	}
}

func TestNormalizePaymentMethod(t *testing.T) {
	cases := map[string]string{
		"pix":               PaymentPIX,
		" PIX ":             PaymentPIX,
		"Cartão de crédito": PaymentCard,
		"cartao debito":     PaymentCard,
		"cheque":            PaymentCheque,
		"Dinheiro":          PaymentCash,
		"vale":              PaymentCash,
		"":                  PaymentCash,
	}
	for label, want := range cases {
		if got := NormalizePaymentMethod(label); got != want {
			t.Fatalf("NormalizePaymentMethod(%q) = %q, want %q", label, got, want)
		}
	}

	folded := NormalizePayments(map[string]decimal.Decimal{
		"pix":      decimal.NewFromInt(10),
		"PIX":      decimal.NewFromInt(5),
		"Cheque":   decimal.Zero,
		"dinheiro": decimal.NewFromInt(3),
	})
	if len(folded) != 2 || !folded[PaymentPIX].Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected folded payments: %v", folded)
	}
	if !PaymentsTotal(folded).Equal(decimal.NewFromInt(18)) {
		t.Fatalf("unexpected payments total: %s", PaymentsTotal(folded))
	}
}

func TestCycle_Transitions(t *testing.T) {
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if _, err := NewCycle("c", "r", 2025, 0, at); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	cycle, err := NewCycle("c", "r", 2025, 3, at)
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}
	if cycle.Title() != "3º Acerto 2025" || !cycle.IsOpen() {
		t.Fatalf("unexpected cycle: %+v", cycle)
	}

	totals := FrozenTotals{Revenue: decimal.NewFromInt(10), ClientsSettled: 1, TotalClients: 2}
	if err := cycle.Freeze(totals, at.Add(time.Hour)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if cycle.Status != CycleStatusClosed || !cycle.IsTerminal() || !cycle.EndedAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("unexpected closed cycle: %+v", cycle)
	}
	if err := cycle.Freeze(FrozenTotals{}, at); err != ErrCycleNotOpen {
		t.Fatalf("second freeze: %v", err)
	}
	if err := cycle.Cancel(at); err != ErrCycleNotOpen {
		t.Fatalf("cancel closed: %v", err)
	}
	if !cycle.Frozen.Revenue.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("frozen block rewritten: %+v", cycle.Frozen)
	}
}

func TestClient_Counts(t *testing.T) {
	client := &Client{ID: "c", LedgerSeq: 3, CarryOverSeq: 3, CarryOverAt: time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)}

	before := &Settlement{Seq: 2}
	at := &Settlement{Seq: 3}
	// same wall clock reading as the carry-over
	after := &Settlement{Seq: 4, CreatedAt: client.CarryOverAt}
	cancelled := &Settlement{Seq: 5, Status: SettlementStatusCancelled}
	unsequenced := &Settlement{CreatedAt: client.CarryOverAt.Add(time.Hour)}

	if client.Counts(before) || client.Counts(at) || !client.Counts(after) || client.Counts(cancelled) || client.Counts(unsequenced) {
		t.Fatalf("unexpected carry-over filtering")
	}
	fresh := &Client{ID: "d"}
	if !fresh.Counts(before) || !fresh.Counts(unsequenced) || fresh.Counts(nil) {
		t.Fatalf("client without carry-over should count every live settlement")
	}
	if fresh.NextSeq() != 1 || fresh.NextSeq() != 2 || fresh.LedgerSeq != 2 {
		t.Fatalf("unexpected ledger sequence %d", fresh.LedgerSeq)
	}
}

func TestCharge(t *testing.T) {
	s := &Settlement{Total: decimal.NewFromInt(-7), Discount: decimal.NewFromInt(2), AmountReceived: decimal.NewFromInt(5)}
	if !Charge(s, nil).Equal(decimal.NewFromInt(-7)) {
		t.Fatalf("charge without items must use the stored total")
	}
	items := []LineItem{{Subtotal: decimal.NewFromInt(30)}, {Subtotal: decimal.NewFromInt(12)}}
	charge := Charge(s, items)
	if !charge.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("charge: %s", charge)
	}
	if !s.Balance(charge).Equal(decimal.NewFromInt(35)) {
		t.Fatalf("balance: %s", s.Balance(charge))
	}
}
