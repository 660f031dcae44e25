package interfaces

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
)

type openCycleRequest struct {
	Year int `json:"year" validate:"omitempty,gte=2000,lte=2100"`
}

type lineItemRequest struct {
	TableID    string `json:"table_id" validate:"required"`
	MeterStart *int64 `json:"meter_start"`
	MeterEnd   int64  `json:"meter_end"`
}

type settlementRequest struct {
	ClientID       string                     `json:"client_id" validate:"required"`
	SettledAt      *time.Time                 `json:"settled_at"`
	Items          []lineItemRequest          `json:"items" validate:"required,min=1,dive"`
	Discount       decimal.Decimal            `json:"discount"`
	AmountReceived decimal.Decimal            `json:"amount_received"`
	PaymentMethods map[string]decimal.Decimal `json:"payment_methods"`
	Status         string                     `json:"status" validate:"omitempty,oneof=PENDING FINALIZED"`
	Notes          string                     `json:"notes" validate:"max=500"`
}

func (req settlementRequest) input() application.SettlementInput {
	in := application.SettlementInput{
		ClientID:       strings.TrimSpace(req.ClientID),
		Discount:       req.Discount,
		AmountReceived: req.AmountReceived,
		PaymentMethods: req.PaymentMethods,
		Status:         settlement.SettlementStatus(req.Status),
		Notes:          req.Notes,
	}
	if req.SettledAt != nil {
		in.SettledAt = req.SettledAt.UTC()
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, application.LineItemInput{
			TableID:    strings.TrimSpace(item.TableID),
			MeterStart: item.MeterStart,
			MeterEnd:   item.MeterEnd,
		})
	}
	return in
}

type correctionRequest struct {
	TotalDelta     decimal.Decimal            `json:"total_delta"`
	DiscountDelta  decimal.Decimal            `json:"discount_delta"`
	ReceivedDelta  decimal.Decimal            `json:"received_delta"`
	PaymentMethods map[string]decimal.Decimal `json:"payment_methods"`
	Notes          string                     `json:"notes" validate:"max=500"`
}

func (req correctionRequest) input() application.CorrectionInput {
	return application.CorrectionInput{
		TotalDelta:     req.TotalDelta,
		DiscountDelta:  req.DiscountDelta,
		ReceivedDelta:  req.ReceivedDelta,
		PaymentMethods: req.PaymentMethods,
		Notes:          req.Notes,
	}
}

type expenseRequest struct {
	RouteID     string          `json:"route_id" validate:"required_without=CycleID"`
	CycleID     string          `json:"cycle_id"`
	Category    string          `json:"category" validate:"required,max=64"`
	Description string          `json:"description" validate:"max=500"`
	Amount      decimal.Decimal `json:"amount"`
	SpentAt     *time.Time      `json:"spent_at"`
}

func (req expenseRequest) input() application.ExpenseInput {
	in := application.ExpenseInput{
		RouteID:     strings.TrimSpace(req.RouteID),
		CycleID:     strings.TrimSpace(req.CycleID),
		Category:    req.Category,
		Description: req.Description,
		Amount:      req.Amount,
	}
	if req.SpentAt != nil {
		in.SpentAt = req.SpentAt.UTC()
	}
	return in
}

type reconcileRequest struct {
	Routes []string `json:"routes" validate:"dive,required"`
}

// decodeJSON decodes and validates a request body. An empty body decodes
// to the zero request.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return false
		}
	}
	if err := v.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: validationFields(err)})
		return false
	}
	return true
}
