package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client leases tables on a route.
//
// CurrentDebt caches the ledger balance; it must always equal
// PreviousDebt plus the replay of settlements sequenced after
// CarryOverSeq. LedgerSeq is the last sequence handed to one of the
// client's settlements. CarryOverAt is informational only.
type Client struct {
	ID                 string
	RouteID            string
	Name               string
	PricePerFicha      decimal.Decimal
	CommissionPerFicha decimal.Decimal
	CurrentDebt        decimal.Decimal
	PreviousDebt       decimal.Decimal
	LedgerSeq          int64
	CarryOverSeq       int64
	CarryOverAt        time.Time
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a copy.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Counts reports whether a settlement belongs to the running balance.
func (c *Client) Counts(s *Settlement) bool {
	if s == nil || s.Status == SettlementStatusCancelled {
		return false
	}
	if c.CarryOverSeq == 0 {
		return true
	}
	return s.Seq > c.CarryOverSeq
}

// NextSeq reserves the next ledger sequence for a settlement of c.
func (c *Client) NextSeq() int64 {
	c.LedgerSeq++
	return c.LedgerSeq
}
