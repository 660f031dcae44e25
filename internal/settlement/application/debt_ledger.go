package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/observability/logging"
	"route-ledger/internal/observability/metrics"
	settlement "route-ledger/internal/settlement/domain"
)

// LineItemInput is one table reading of a settlement. A nil MeterStart
// continues from the table's last recorded reading.
type LineItemInput struct {
	TableID    string
	MeterStart *int64
	MeterEnd   int64
}

// SettlementInput records a visit to a client.
type SettlementInput struct {
	ClientID       string
	SettledAt      time.Time
	Items          []LineItemInput
	Discount       decimal.Decimal
	AmountReceived decimal.Decimal
	PaymentMethods map[string]decimal.Decimal
	Status         settlement.SettlementStatus
	Notes          string
}

// CorrectionInput holds signed deltas applied by a compensating entry.
type CorrectionInput struct {
	TotalDelta     decimal.Decimal
	DiscountDelta  decimal.Decimal
	ReceivedDelta  decimal.Decimal
	PaymentMethods map[string]decimal.Decimal
	Notes          string
}

// ExpenseInput charges a cost to a cycle. Route expenses go to the route's
// open cycle; global expenses name the cycle explicitly.
type ExpenseInput struct {
	RouteID     string
	CycleID     string
	Category    string
	Description string
	Amount      decimal.Decimal
	SpentAt     time.Time
}

// DebtLedger records settlements and keeps client debt consistent with them.
type DebtLedger struct {
	store settlement.Store
	opts  options
}

// NewDebtLedger constructs the ledger.
func NewDebtLedger(store settlement.Store, opts ...Option) (*DebtLedger, error) {
	if store == nil {
		return nil, errors.New("debt ledger: nil store")
	}
	return &DebtLedger{store: store, opts: buildOptions(opts)}, nil
}

// CurrentDebt returns the cached debt of a client.
func (l *DebtLedger) CurrentDebt(ctx context.Context, clientID string) (decimal.Decimal, error) {
	client, err := l.loadClient(ctx, l.store, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	return client.CurrentDebt, nil
}

// LiveDebt recomputes a client's debt from the ledger.
func (l *DebtLedger) LiveDebt(ctx context.Context, clientID string) (decimal.Decimal, error) {
	client, err := l.loadClient(ctx, l.store, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	return liveDebt(ctx, l.store, client)
}

// liveDebt is PreviousDebt plus charge − discount − received over the
// client's counted settlements.
func liveDebt(ctx context.Context, r settlement.Reader, client *settlement.Client) (decimal.Decimal, error) {
	settlements, err := r.FindSettlementsByClient(ctx, client.ID)
	if err != nil {
		return decimal.Zero, err
	}
	debt := client.PreviousDebt
	for i := range settlements {
		st := &settlements[i]
		if !client.Counts(st) {
			continue
		}
		items, err := r.FindLineItemsForSettlement(ctx, st.ID)
		if err != nil {
			return decimal.Zero, err
		}
		debt = debt.Add(st.Balance(settlement.Charge(st, items)))
	}
	return debt, nil
}

// RecordSettlement appends a settlement to the client's route open cycle,
// advances the table meters and updates the client's debt atomically.
func (l *DebtLedger) RecordSettlement(ctx context.Context, in SettlementInput) (*settlement.Settlement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSettlementRecord(metrics.KindSettlement, result, time.Since(start))
	}()

	recorded, err := l.recordSettlement(ctx, in)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return recorded, nil
}

func (l *DebtLedger) recordSettlement(ctx context.Context, in SettlementInput) (*settlement.Settlement, error) {
	if err := validateSettlementInput(in); err != nil {
		return nil, err
	}
	client, err := l.loadClient(ctx, l.store, in.ClientID)
	if err != nil {
		return nil, err
	}
	unlock, err := l.opts.lockRoute(ctx, client.RouteID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := l.opts.clock.Now().UTC()
	var recorded *settlement.Settlement
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		client, err := l.loadClient(ctx, tx, in.ClientID)
		if err != nil {
			return err
		}
		if !client.Active {
			return settlement.Conflict("client", client.ID, "client is inactive")
		}
		cycle, err := tx.FindOpenCycle(ctx, client.RouteID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return settlement.Conflict("route", client.RouteID, "no open cycle")
		}
		previous, err := l.checkedDebt(ctx, tx, client)
		if err != nil {
			return err
		}

		st := &settlement.Settlement{
			ID:        uuid.NewString(),
			ClientID:  client.ID,
			RouteID:   client.RouteID,
			CycleID:   cycle.ID,
			SettledAt: in.SettledAt.UTC(),
			Discount:  in.Discount,
			Status:    in.Status,
			Notes:     strings.TrimSpace(in.Notes),
			CreatedBy: actorFrom(ctx),
			CreatedAt: now,
		}
		if st.SettledAt.IsZero() {
			st.SettledAt = now
		}
		if st.Status == "" {
			st.Status = settlement.SettlementStatusFinalized
		}

		tables := make([]*settlement.Table, 0, len(in.Items))
		for _, li := range in.Items {
			table, err := tx.GetTable(ctx, li.TableID)
			if err != nil {
				return err
			}
			if table == nil {
				return settlement.NotFound("table", li.TableID)
			}
			if table.ClientID != client.ID {
				return settlement.Conflict("table", table.ID, "table is not installed at this client")
			}
			meterStart := table.MeterReading
			if li.MeterStart != nil {
				meterStart = *li.MeterStart
			}
			item, err := settlement.NewLineItem(uuid.NewString(), table, client, meterStart, li.MeterEnd)
			if err != nil {
				return err
			}
			item.SettlementID = st.ID
			st.Items = append(st.Items, item)

			table.MeterReading = li.MeterEnd
			table.UpdatedAt = now
			tables = append(tables, table)
		}
		st.Total = settlement.ItemsTotal(st.Items)

		received, payments, err := reconcilePayments(in.AmountReceived, in.PaymentMethods)
		if err != nil {
			return err
		}
		st.AmountReceived = received
		st.PaymentMethods = payments

		st.Seq = client.NextSeq()
		st.PreviousDebt = previous
		st.ResultingDebt = previous
		if client.Counts(st) {
			st.ResultingDebt = previous.Add(st.Balance(st.Total))
		}

		if err := tx.InsertSettlement(ctx, st); err != nil {
			return err
		}
		for _, table := range tables {
			if err := tx.UpsertTable(ctx, table); err != nil {
				return err
			}
		}
		client.CurrentDebt = st.ResultingDebt
		client.UpdatedAt = now
		if err := tx.UpsertClient(ctx, client); err != nil {
			return err
		}
		recorded = st
		return appendEvent(ctx, tx, l.opts.tenantID, SettlementRecorded{
			SettlementID:   st.ID,
			ClientID:       st.ClientID,
			RouteID:        st.RouteID,
			CycleID:        st.CycleID,
			Total:          st.Total,
			AmountReceived: st.AmountReceived,
			ResultingDebt:  st.ResultingDebt,
			OccurredAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	l.opts.logger.WithFields(logrus.Fields{
		"settlement_id":  recorded.ID,
		"client_id":      recorded.ClientID,
		"cycle_id":       recorded.CycleID,
		"total":          recorded.Total.String(),
		"resulting_debt": recorded.ResultingDebt.String(),
	}).Info("settlement recorded")
	return recorded, nil
}

// RecordCorrection appends a compensating entry for a settlement whose
// cycle is still OPEN. Settlements are never edited in place.
func (l *DebtLedger) RecordCorrection(ctx context.Context, settlementID string, in CorrectionInput) (*settlement.Settlement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSettlementRecord(metrics.KindCorrection, result, time.Since(start))
	}()

	recorded, err := l.recordCorrection(ctx, settlementID, in)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return recorded, nil
}

func (l *DebtLedger) recordCorrection(ctx context.Context, settlementID string, in CorrectionInput) (*settlement.Settlement, error) {
	if settlementID == "" {
		return nil, settlement.ErrEmptyID
	}
	original, err := l.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, settlement.NotFound("settlement", settlementID)
	}
	if original.IsCorrection() {
		return nil, settlement.Conflict("settlement", settlementID, "a correction cannot be corrected")
	}
	if !original.Counts() {
		return nil, settlement.Conflict("settlement", settlementID, "settlement is cancelled")
	}

	unlock, err := l.opts.lockRoute(ctx, original.RouteID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := l.opts.clock.Now().UTC()
	var recorded *settlement.Settlement
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		cycle, err := tx.GetCycle(ctx, original.CycleID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return settlement.NotFound("cycle", original.CycleID)
		}
		if !cycle.IsOpen() {
			return fmt.Errorf("%w: %s is %s", settlement.ErrCycleImmutable, cycle.Title(), strings.ToLower(string(cycle.Status)))
		}
		client, err := l.loadClient(ctx, tx, original.ClientID)
		if err != nil {
			return err
		}
		previous, err := l.checkedDebt(ctx, tx, client)
		if err != nil {
			return err
		}

		payments := settlement.NormalizePayments(in.PaymentMethods)
		received := in.ReceivedDelta
		if received.IsZero() && len(payments) > 0 {
			received = settlement.PaymentsTotal(payments)
		} else if len(payments) > 0 && !settlement.PaymentsTotal(payments).Equal(received) {
			return &settlement.ValidationError{Field: "payment_methods", Reason: "must add up to the received delta"}
		}
		if in.TotalDelta.IsZero() && in.DiscountDelta.IsZero() && received.IsZero() {
			return &settlement.ValidationError{Field: "correction", Reason: "changes nothing"}
		}

		corr := &settlement.Settlement{
			ID:             uuid.NewString(),
			ClientID:       original.ClientID,
			RouteID:        original.RouteID,
			CycleID:        original.CycleID,
			SettledAt:      now,
			Total:          in.TotalDelta,
			Discount:       in.DiscountDelta,
			AmountReceived: received,
			Status:         settlement.SettlementStatusFinalized,
			PaymentMethods: payments,
			Notes:          strings.TrimSpace(in.Notes),
			CorrectsID:     original.ID,
			CreatedBy:      actorFrom(ctx),
			CreatedAt:      now,
		}
		corr.Seq = client.NextSeq()
		corr.PreviousDebt = previous
		corr.ResultingDebt = previous
		if client.Counts(corr) {
			corr.ResultingDebt = previous.Add(corr.Balance(corr.Total))
		}
		if err := tx.InsertSettlement(ctx, corr); err != nil {
			return err
		}
		client.CurrentDebt = corr.ResultingDebt
		client.UpdatedAt = now
		if err := tx.UpsertClient(ctx, client); err != nil {
			return err
		}
		recorded = corr
		return appendEvent(ctx, tx, l.opts.tenantID, SettlementRecorded{
			SettlementID:   corr.ID,
			ClientID:       corr.ClientID,
			RouteID:        corr.RouteID,
			CycleID:        corr.CycleID,
			CorrectsID:     corr.CorrectsID,
			Total:          corr.Total,
			AmountReceived: corr.AmountReceived,
			ResultingDebt:  corr.ResultingDebt,
			OccurredAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	l.opts.logger.WithFields(logrus.Fields{
		"settlement_id": recorded.ID,
		"corrects_id":   recorded.CorrectsID,
		"client_id":     recorded.ClientID,
	}).Info("correction recorded")
	return recorded, nil
}

// CarryOver folds the client's live balance into PreviousDebt; later
// settlements start a fresh running balance. The boundary is the
// client's ledger sequence, not the clock.
func (l *DebtLedger) CarryOver(ctx context.Context, clientID string) (*settlement.Client, error) {
	client, err := l.loadClient(ctx, l.store, clientID)
	if err != nil {
		return nil, err
	}
	unlock, err := l.opts.lockRoute(ctx, client.RouteID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := l.opts.clock.Now().UTC()
	var updated *settlement.Client
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		client, err := l.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		live, err := liveDebt(ctx, tx, client)
		if err != nil {
			return err
		}
		client.PreviousDebt = live
		client.CurrentDebt = live
		client.CarryOverSeq = client.NextSeq()
		client.CarryOverAt = now
		client.UpdatedAt = now
		if err := tx.UpsertClient(ctx, client); err != nil {
			return err
		}
		updated = client
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordExpense charges an expense to an OPEN cycle.
func (l *DebtLedger) RecordExpense(ctx context.Context, in ExpenseInput) (*settlement.Expense, error) {
	if strings.TrimSpace(in.Category) == "" {
		return nil, &settlement.ValidationError{Field: "category", Reason: "is required"}
	}
	if in.Amount.IsNegative() {
		return nil, &settlement.ComputationError{Field: "amount", Reason: "negative amount"}
	}
	if in.RouteID == "" && in.CycleID == "" {
		return nil, &settlement.ValidationError{Field: "cycle_id", Reason: "is required for global expenses"}
	}

	lockKey := in.RouteID
	if lockKey == "" {
		cycle, err := l.store.GetCycle(ctx, in.CycleID)
		if err != nil {
			return nil, err
		}
		if cycle == nil {
			return nil, settlement.NotFound("cycle", in.CycleID)
		}
		lockKey = cycle.RouteID
	}
	unlock, err := l.opts.lockRoute(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := l.opts.clock.Now().UTC()
	var recorded *settlement.Expense
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		cycle, err := l.expenseCycle(ctx, tx, in)
		if err != nil {
			return err
		}
		expense := &settlement.Expense{
			ID:          uuid.NewString(),
			RouteID:     in.RouteID,
			CycleID:     cycle.ID,
			Category:    strings.TrimSpace(in.Category),
			Description: strings.TrimSpace(in.Description),
			Amount:      in.Amount,
			SpentAt:     in.SpentAt.UTC(),
			CreatedAt:   now,
		}
		if expense.SpentAt.IsZero() {
			expense.SpentAt = now
		}
		if err := tx.InsertExpense(ctx, expense); err != nil {
			return err
		}
		recorded = expense
		return appendEvent(ctx, tx, l.opts.tenantID, ExpenseRecorded{
			ExpenseID:  expense.ID,
			RouteID:    expense.RouteID,
			CycleID:    expense.CycleID,
			Category:   expense.Category,
			Amount:     expense.Amount,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

func (l *DebtLedger) expenseCycle(ctx context.Context, tx settlement.Reader, in ExpenseInput) (*settlement.Cycle, error) {
	if in.CycleID != "" {
		cycle, err := tx.GetCycle(ctx, in.CycleID)
		if err != nil {
			return nil, err
		}
		if cycle == nil {
			return nil, settlement.NotFound("cycle", in.CycleID)
		}
		if in.RouteID != "" && cycle.RouteID != in.RouteID {
			return nil, &settlement.ValidationError{Field: "cycle_id", Reason: "belongs to another route"}
		}
		if !cycle.IsOpen() {
			return nil, settlement.Conflict("cycle", cycle.ID, "cycle is not open")
		}
		return cycle, nil
	}
	cycle, err := tx.FindOpenCycle(ctx, in.RouteID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, settlement.Conflict("route", in.RouteID, "no open cycle")
	}
	return cycle, nil
}

// checkedDebt returns the live debt and logs when the cached value drifted.
func (l *DebtLedger) checkedDebt(ctx context.Context, r settlement.Reader, client *settlement.Client) (decimal.Decimal, error) {
	live, err := liveDebt(ctx, r, client)
	if err != nil {
		return decimal.Zero, err
	}
	if !live.Equal(client.CurrentDebt) {
		logging.LogError(l.opts.logger, "settlement", "DebtLedger.checkedDebt", "cached debt drifted from ledger",
			map[string]string{
				"client_id": client.ID,
				"cached":    client.CurrentDebt.String(),
				"live":      live.String(),
			}, errors.New("debt drift"))
	}
	return live, nil
}

func (l *DebtLedger) loadClient(ctx context.Context, r settlement.Reader, clientID string) (*settlement.Client, error) {
	if clientID == "" {
		return nil, settlement.ErrEmptyID
	}
	client, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, settlement.NotFound("client", clientID)
	}
	return client, nil
}

func validateSettlementInput(in SettlementInput) error {
	if in.ClientID == "" {
		return settlement.ErrEmptyID
	}
	if len(in.Items) == 0 {
		return &settlement.ValidationError{Field: "items", Reason: "at least one table is required"}
	}
	if in.Discount.IsNegative() {
		return &settlement.ComputationError{Field: "discount", Reason: "negative amount"}
	}
	if in.AmountReceived.IsNegative() {
		return &settlement.ComputationError{Field: "amount_received", Reason: "negative amount"}
	}
	for method, amount := range in.PaymentMethods {
		if amount.IsNegative() {
			return &settlement.ComputationError{Field: "payment_methods." + method, Reason: "negative amount"}
		}
	}
	switch in.Status {
	case "", settlement.SettlementStatusPending, settlement.SettlementStatusFinalized:
	default:
		return &settlement.ValidationError{Field: "status", Reason: "must be PENDING or FINALIZED"}
	}
	seen := make(map[string]struct{}, len(in.Items))
	for _, li := range in.Items {
		if li.TableID == "" {
			return &settlement.ValidationError{Field: "items.table_id", Reason: "is required"}
		}
		if _, dup := seen[li.TableID]; dup {
			return &settlement.ValidationError{Field: "items", Reason: "table " + li.TableID + " listed twice"}
		}
		seen[li.TableID] = struct{}{}
		if li.MeterStart != nil && *li.MeterStart < 0 {
			return &settlement.ComputationError{Field: "meter_start", Reason: "negative reading"}
		}
		if li.MeterEnd < 0 {
			return &settlement.ComputationError{Field: "meter_end", Reason: "negative reading"}
		}
	}
	return nil
}

// reconcilePayments normalizes payment labels. Without a breakdown the
// whole amount counts as cash; without an amount the breakdown sum is used.
func reconcilePayments(received decimal.Decimal, methods map[string]decimal.Decimal) (decimal.Decimal, map[string]decimal.Decimal, error) {
	payments := settlement.NormalizePayments(methods)
	if len(payments) == 0 {
		if received.IsPositive() {
			payments[settlement.PaymentCash] = received
		}
		return received, payments, nil
	}
	sum := settlement.PaymentsTotal(payments)
	if received.IsZero() {
		return sum, payments, nil
	}
	if !sum.Equal(received) {
		return decimal.Zero, nil, &settlement.ValidationError{Field: "payment_methods", Reason: "must add up to amount received"}
	}
	return received, payments, nil
}
