package interfaces

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"route-ledger/internal/audit"
	settlement "route-ledger/internal/settlement/domain"
)

type cycleResponse struct {
	ID        string                   `json:"id"`
	RouteID   string                   `json:"route_id"`
	Title     string                   `json:"title"`
	Number    int                      `json:"number"`
	Year      int                      `json:"year"`
	Status    settlement.CycleStatus   `json:"status"`
	StartedAt time.Time                `json:"started_at"`
	EndedAt   *time.Time               `json:"ended_at,omitempty"`
	Notes     string                   `json:"notes,omitempty"`
	CreatedBy string                   `json:"created_by,omitempty"`
	Frozen    *settlement.FrozenTotals `json:"frozen,omitempty"`
}

func newCycleResponse(c *settlement.Cycle) cycleResponse {
	resp := cycleResponse{
		ID:        c.ID,
		RouteID:   c.RouteID,
		Title:     c.Title(),
		Number:    c.Number,
		Year:      c.Year,
		Status:    c.Status,
		StartedAt: c.StartedAt,
		Notes:     c.Notes,
		CreatedBy: c.CreatedBy,
	}
	if !c.EndedAt.IsZero() {
		ended := c.EndedAt
		resp.EndedAt = &ended
	}
	// The aggregate block is meaningless until the cycle is closed.
	if c.Status == settlement.CycleStatusClosed {
		frozen := c.Frozen
		resp.Frozen = &frozen
	}
	return resp
}

type lineItemResponse struct {
	TableID       string          `json:"table_id"`
	MeterStart    int64           `json:"meter_start"`
	MeterEnd      int64           `json:"meter_end"`
	FichasPlayed  int64           `json:"fichas_played"`
	FixedPrice    bool            `json:"fixed_price"`
	PricePerFicha decimal.Decimal `json:"price_per_ficha"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

type settlementResponse struct {
	ID             string                      `json:"id"`
	ClientID       string                      `json:"client_id"`
	RouteID        string                      `json:"route_id"`
	CycleID        string                      `json:"cycle_id"`
	SettledAt      time.Time                   `json:"settled_at"`
	PreviousDebt   decimal.Decimal             `json:"previous_debt"`
	Total          decimal.Decimal             `json:"total"`
	Discount       decimal.Decimal             `json:"discount"`
	AmountReceived decimal.Decimal             `json:"amount_received"`
	ResultingDebt  decimal.Decimal             `json:"resulting_debt"`
	Status         settlement.SettlementStatus `json:"status"`
	PaymentMethods map[string]decimal.Decimal  `json:"payment_methods,omitempty"`
	Notes          string                      `json:"notes,omitempty"`
	CorrectsID     string                      `json:"corrects_id,omitempty"`
	Items          []lineItemResponse          `json:"items,omitempty"`
}

func newSettlementResponse(s *settlement.Settlement) settlementResponse {
	resp := settlementResponse{
		ID:             s.ID,
		ClientID:       s.ClientID,
		RouteID:        s.RouteID,
		CycleID:        s.CycleID,
		SettledAt:      s.SettledAt,
		PreviousDebt:   s.PreviousDebt,
		Total:          s.Total,
		Discount:       s.Discount,
		AmountReceived: s.AmountReceived,
		ResultingDebt:  s.ResultingDebt,
		Status:         s.Status,
		PaymentMethods: s.PaymentMethods,
		Notes:          s.Notes,
		CorrectsID:     s.CorrectsID,
	}
	for _, item := range s.Items {
		resp.Items = append(resp.Items, lineItemResponse{
			TableID:       item.TableID,
			MeterStart:    item.MeterStart,
			MeterEnd:      item.MeterEnd,
			FichasPlayed:  item.FichasPlayed,
			FixedPrice:    item.FixedPrice,
			PricePerFicha: item.PricePerFicha,
			Subtotal:      item.Subtotal,
		})
	}
	return resp
}

type expenseResponse struct {
	ID          string          `json:"id"`
	RouteID     string          `json:"route_id,omitempty"`
	CycleID     string          `json:"cycle_id"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	SpentAt     time.Time       `json:"spent_at"`
}

func newExpenseResponse(e *settlement.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		RouteID:     e.RouteID,
		CycleID:     e.CycleID,
		Category:    e.Category,
		Description: e.Description,
		Amount:      e.Amount,
		SpentAt:     e.SpentAt,
	}
}

type debtResponse struct {
	ClientID     string           `json:"client_id"`
	CurrentDebt  decimal.Decimal  `json:"current_debt"`
	PreviousDebt *decimal.Decimal `json:"previous_debt,omitempty"`
	CarryOverAt  *time.Time       `json:"carry_over_at,omitempty"`
}

type auditResponse struct {
	ID           string          `json:"id"`
	Actor        string          `json:"actor"`
	Role         string          `json:"role"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newAuditResponse(e audit.Entry) auditResponse {
	return auditResponse{
		ID:           e.ID,
		Actor:        e.Actor,
		Role:         e.Role,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Metadata:     e.Metadata,
		RequestID:    e.RequestID,
		CreatedAt:    e.CreatedAt,
	}
}
