package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"route-ledger/internal/eventing"
	eventingrepo "route-ledger/internal/eventing/infrastructure/postgres"
	settlement "route-ledger/internal/settlement/domain"
)

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store is the Postgres ledger store.
type Store struct {
	db     *sql.DB
	q      querier
	outbox *eventingrepo.OutboxStore
	inTx   bool
}

// NewStore constructs a store over db.
func NewStore(db *sql.DB, outbox *eventingrepo.OutboxStore) *Store {
	if outbox == nil {
		outbox = eventingrepo.NewOutboxStore(db)
	}
	return &Store{db: db, q: db, outbox: outbox}
}

// WithinTx runs fn in one database transaction; nested calls reuse it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Store) error) error {
	if s == nil || s.db == nil {
		return errors.New("ledger store: nil db")
	}
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txStore := &Store{db: s.db, q: tx, outbox: s.outbox, inTx: true}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetRoute loads a route.
func (s *Store) GetRoute(ctx context.Context, id string) (*settlement.Route, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT id, name, active, status, current_cycle_number, current_cycle_year,
	cycle_started_at, cycle_ended_at, updated_at
FROM routes
WHERE id = $1`, id)
	return scanRoute(row)
}

// ListRoutes returns all routes ordered by name.
func (s *Store) ListRoutes(ctx context.Context) ([]settlement.Route, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT id, name, active, status, current_cycle_number, current_cycle_year,
	cycle_started_at, cycle_ended_at, updated_at
FROM routes
ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *route)
	}
	return result, rows.Err()
}

// GetClient loads a client.
func (s *Store) GetClient(ctx context.Context, id string) (*settlement.Client, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+clientColumns+`
FROM clients
WHERE id = $1`, id)
	return scanClient(row)
}

// GetTable loads a table.
func (s *Store) GetTable(ctx context.Context, id string) (*settlement.Table, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT id, number, kind, route_id, client_id, meter_reading, fixed_price_mode, fixed_price, updated_at
FROM rental_tables
WHERE id = $1`, id)
	var t settlement.Table
	var routeID, clientID sql.NullString
	var kind string
	if err := row.Scan(&t.ID, &t.Number, &kind, &routeID, &clientID, &t.MeterReading, &t.FixedPriceMode, &t.FixedPrice, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Kind = settlement.TableKind(kind)
	t.RouteID = routeID.String
	t.ClientID = clientID.String
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// GetCycle loads a cycle.
func (s *Store) GetCycle(ctx context.Context, id string) (*settlement.Cycle, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+cycleColumns+`
FROM settlement_cycles
WHERE id = $1`, id)
	return scanCycle(row)
}

// FindOpenCycle returns the route's OPEN cycle.
func (s *Store) FindOpenCycle(ctx context.Context, routeID string) (*settlement.Cycle, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+cycleColumns+`
FROM settlement_cycles
WHERE route_id = $1 AND status = 'OPEN'
LIMIT 1`, routeID)
	return scanCycle(row)
}

// FindCycleByNumber returns the cycle with the given number in a year.
func (s *Store) FindCycleByNumber(ctx context.Context, routeID string, year, number int) (*settlement.Cycle, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+cycleColumns+`
FROM settlement_cycles
WHERE route_id = $1 AND year = $2 AND number = $3
LIMIT 1`, routeID, year, number)
	return scanCycle(row)
}

// ListCyclesByRoute returns cycles newest first.
func (s *Store) ListCyclesByRoute(ctx context.Context, routeID string) ([]settlement.Cycle, error) {
	return s.listCycles(ctx, `
SELECT `+cycleColumns+`
FROM settlement_cycles
WHERE route_id = $1
ORDER BY year DESC, number DESC`, routeID)
}

// ListCyclesByPeriod returns cycles started in [from, to), oldest first.
func (s *Store) ListCyclesByPeriod(ctx context.Context, from, to time.Time) ([]settlement.Cycle, error) {
	return s.listCycles(ctx, `
SELECT `+cycleColumns+`
FROM settlement_cycles
WHERE started_at >= $1 AND started_at < $2
ORDER BY started_at ASC`, from.UTC(), to.UTC())
}

func (s *Store) listCycles(ctx context.Context, query string, args ...any) ([]settlement.Cycle, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Cycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cycle)
	}
	return result, rows.Err()
}

// MaxCycleNumber returns the highest cycle number for a route and year, or 0.
func (s *Store) MaxCycleNumber(ctx context.Context, routeID string, year int) (int, error) {
	var max sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
SELECT MAX(number)
FROM settlement_cycles
WHERE route_id = $1 AND year = $2`, routeID, year).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// GetSettlement loads a settlement with its line items.
func (s *Store) GetSettlement(ctx context.Context, id string) (*settlement.Settlement, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE id = $1`, id)
	st, err := scanSettlement(row)
	if err != nil || st == nil {
		return st, err
	}
	items, err := s.FindLineItemsForSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Items = items
	return st, nil
}

// FindSettlementsByCycle returns settlement headers for a cycle.
func (s *Store) FindSettlementsByCycle(ctx context.Context, cycleID string) ([]settlement.Settlement, error) {
	return s.listSettlements(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE cycle_id = $1
ORDER BY created_at ASC, id ASC`, cycleID)
}

// FindSettlementsByClient returns settlement headers for a client.
func (s *Store) FindSettlementsByClient(ctx context.Context, clientID string) ([]settlement.Settlement, error) {
	return s.listSettlements(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE client_id = $1
ORDER BY seq ASC, created_at ASC, id ASC`, clientID)
}

func (s *Store) listSettlements(ctx context.Context, query string, args ...any) ([]settlement.Settlement, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *st)
	}
	return result, rows.Err()
}

// FindLineItemsForSettlement returns the line items of a settlement.
func (s *Store) FindLineItemsForSettlement(ctx context.Context, settlementID string) ([]settlement.LineItem, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT id, settlement_id, table_id, meter_start, meter_end, fichas_played,
	fixed_price, price_per_ficha, subtotal
FROM settlement_line_items
WHERE settlement_id = $1
ORDER BY id ASC`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.LineItem
	for rows.Next() {
		var item settlement.LineItem
		if err := rows.Scan(&item.ID, &item.SettlementID, &item.TableID, &item.MeterStart, &item.MeterEnd,
			&item.FichasPlayed, &item.FixedPrice, &item.PricePerFicha, &item.Subtotal); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// FindLastSettlementForClient returns the latest non-cancelled settlement.
func (s *Store) FindLastSettlementForClient(ctx context.Context, clientID string) (*settlement.Settlement, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE client_id = $1 AND status <> 'CANCELLED'
ORDER BY settled_at DESC, created_at DESC
LIMIT 1`, clientID)
	return scanSettlement(row)
}

// FindExpensesByCycle returns expenses of a cycle.
func (s *Store) FindExpensesByCycle(ctx context.Context, cycleID string) ([]settlement.Expense, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT id, route_id, cycle_id, category, description, amount, spent_at, created_at
FROM expenses
WHERE cycle_id = $1
ORDER BY created_at ASC, id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Expense
	for rows.Next() {
		var e settlement.Expense
		var routeID sql.NullString
		if err := rows.Scan(&e.ID, &routeID, &e.CycleID, &e.Category, &e.Description, &e.Amount, &e.SpentAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RouteID = routeID.String
		e.SpentAt = e.SpentAt.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}

// FindActiveClientsByRoute returns active clients of a route.
func (s *Store) FindActiveClientsByRoute(ctx context.Context, routeID string) ([]settlement.Client, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT `+clientColumns+`
FROM clients
WHERE route_id = $1 AND active
ORDER BY id ASC`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *client)
	}
	return result, rows.Err()
}

// UpsertRoute stores a route.
func (s *Store) UpsertRoute(ctx context.Context, route *settlement.Route) error {
	if route == nil {
		return settlement.ErrNilEntity
	}
	if route.ID == "" {
		return settlement.ErrEmptyID
	}
	_, err := s.q.ExecContext(ctx, `
INSERT INTO routes (
	id, name, active, status, current_cycle_number, current_cycle_year,
	cycle_started_at, cycle_ended_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	active = EXCLUDED.active,
	status = EXCLUDED.status,
	current_cycle_number = EXCLUDED.current_cycle_number,
	current_cycle_year = EXCLUDED.current_cycle_year,
	cycle_started_at = EXCLUDED.cycle_started_at,
	cycle_ended_at = EXCLUDED.cycle_ended_at,
	updated_at = EXCLUDED.updated_at`,
		route.ID, route.Name, route.Active, string(route.Status), route.CurrentCycleNumber, route.CurrentCycleYear,
		nullTime(route.CycleStartedAt), nullTime(route.CycleEndedAt), defaultNow(route.UpdatedAt))
	return err
}

// UpsertClient stores a client.
func (s *Store) UpsertClient(ctx context.Context, client *settlement.Client) error {
	if client == nil {
		return settlement.ErrNilEntity
	}
	if client.ID == "" {
		return settlement.ErrEmptyID
	}
	_, err := s.q.ExecContext(ctx, `
INSERT INTO clients (
	id, route_id, name, price_per_ficha, commission_per_ficha, current_debt,
	previous_debt, ledger_seq, carry_over_seq, carry_over_at, active, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (id)
DO UPDATE SET
	route_id = EXCLUDED.route_id,
	name = EXCLUDED.name,
	price_per_ficha = EXCLUDED.price_per_ficha,
	commission_per_ficha = EXCLUDED.commission_per_ficha,
	current_debt = EXCLUDED.current_debt,
	previous_debt = EXCLUDED.previous_debt,
	ledger_seq = EXCLUDED.ledger_seq,
	carry_over_seq = EXCLUDED.carry_over_seq,
	carry_over_at = EXCLUDED.carry_over_at,
	active = EXCLUDED.active,
	updated_at = EXCLUDED.updated_at`,
		client.ID, client.RouteID, client.Name, client.PricePerFicha, client.CommissionPerFicha, client.CurrentDebt,
		client.PreviousDebt, client.LedgerSeq, client.CarryOverSeq, nullTime(client.CarryOverAt), client.Active, defaultNow(client.CreatedAt), defaultNow(client.UpdatedAt))
	return err
}

// UpsertTable stores a table.
func (s *Store) UpsertTable(ctx context.Context, table *settlement.Table) error {
	if table == nil {
		return settlement.ErrNilEntity
	}
	if table.ID == "" {
		return settlement.ErrEmptyID
	}
	_, err := s.q.ExecContext(ctx, `
INSERT INTO rental_tables (
	id, number, kind, route_id, client_id, meter_reading, fixed_price_mode, fixed_price, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id)
DO UPDATE SET
	number = EXCLUDED.number,
	kind = EXCLUDED.kind,
	route_id = EXCLUDED.route_id,
	client_id = EXCLUDED.client_id,
	meter_reading = EXCLUDED.meter_reading,
	fixed_price_mode = EXCLUDED.fixed_price_mode,
	fixed_price = EXCLUDED.fixed_price,
	updated_at = EXCLUDED.updated_at`,
		table.ID, table.Number, string(table.Kind), nullString(table.RouteID), nullString(table.ClientID),
		table.MeterReading, table.FixedPriceMode, table.FixedPrice, defaultNow(table.UpdatedAt))
	return err
}

// InsertCycle stores a new cycle. The partial unique index on
// (route_id) WHERE status = 'OPEN' rejects a second open cycle.
func (s *Store) InsertCycle(ctx context.Context, cycle *settlement.Cycle) error {
	if cycle == nil {
		return settlement.ErrNilEntity
	}
	if cycle.ID == "" || cycle.RouteID == "" {
		return settlement.ErrEmptyID
	}
	_, err := s.q.ExecContext(ctx, `
INSERT INTO settlement_cycles (
	id, route_id, number, year, status, started_at, ended_at, notes, created_by,
	revenue, expenses, travel, profit, debt_total, clients_settled, total_clients, table_count,
	created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)`, cycleArgs(cycle)...)
	if isUniqueViolation(err) {
		return settlement.Conflict("route", cycle.RouteID, "open cycle or cycle number already exists")
	}
	return err
}

// UpsertCycle overwrites an OPEN cycle; terminal cycles are never rewritten.
func (s *Store) UpsertCycle(ctx context.Context, cycle *settlement.Cycle) error {
	if cycle == nil {
		return settlement.ErrNilEntity
	}
	if cycle.ID == "" {
		return settlement.ErrEmptyID
	}
	res, err := s.q.ExecContext(ctx, `
UPDATE settlement_cycles SET
	route_id = $2, number = $3, year = $4, status = $5, started_at = $6, ended_at = $7,
	notes = $8, created_by = $9, revenue = $10, expenses = $11, travel = $12, profit = $13,
	debt_total = $14, clients_settled = $15, total_clients = $16, table_count = $17,
	updated_at = $19
WHERE id = $1 AND status = 'OPEN'`, cycleArgs(cycle)...)
	if isUniqueViolation(err) {
		return settlement.Conflict("route", cycle.RouteID, "open cycle already exists")
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	existing, err := s.GetCycle(ctx, cycle.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return settlement.NotFound("cycle", cycle.ID)
	}
	return settlement.ErrCycleImmutable
}

// InsertSettlement appends a settlement with its line items.
func (s *Store) InsertSettlement(ctx context.Context, v *settlement.Settlement) error {
	if v == nil {
		return settlement.ErrNilEntity
	}
	if v.ID == "" {
		return settlement.ErrEmptyID
	}
	payments, err := json.Marshal(v.PaymentMethods)
	if err != nil {
		return err
	}
	return s.WithinTx(ctx, func(ctx context.Context, txStore settlement.Store) error {
		tx := txStore.(*Store)
		_, err := tx.q.ExecContext(ctx, `
INSERT INTO settlements (
	id, client_id, route_id, cycle_id, settled_at, previous_debt, total, discount,
	amount_received, resulting_debt, status, payment_methods, notes, corrects_id,
	created_by, seq, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)`,
			v.ID, v.ClientID, v.RouteID, v.CycleID, v.SettledAt.UTC(), v.PreviousDebt, v.Total, v.Discount,
			v.AmountReceived, v.ResultingDebt, string(v.Status), payments, v.Notes, nullString(v.CorrectsID),
			v.CreatedBy, v.Seq, defaultNow(v.CreatedAt))
		if isUniqueViolation(err) {
			return settlement.Conflict("settlement", v.ID, "already exists")
		}
		if err != nil {
			return err
		}
		for _, item := range v.Items {
			_, err := tx.q.ExecContext(ctx, `
INSERT INTO settlement_line_items (
	id, settlement_id, table_id, meter_start, meter_end, fichas_played,
	fixed_price, price_per_ficha, subtotal
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				item.ID, v.ID, item.TableID, item.MeterStart, item.MeterEnd, item.FichasPlayed,
				item.FixedPrice, item.PricePerFicha, item.Subtotal)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertExpense appends an expense.
func (s *Store) InsertExpense(ctx context.Context, e *settlement.Expense) error {
	if e == nil {
		return settlement.ErrNilEntity
	}
	if e.ID == "" {
		return settlement.ErrEmptyID
	}
	_, err := s.q.ExecContext(ctx, `
INSERT INTO expenses (
	id, route_id, cycle_id, category, description, amount, spent_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, nullString(e.RouteID), e.CycleID, e.Category, e.Description, e.Amount, e.SpentAt.UTC(), defaultNow(e.CreatedAt))
	if isUniqueViolation(err) {
		return settlement.Conflict("expense", e.ID, "already exists")
	}
	return err
}

// AppendEvent writes an envelope to the outbox in the current transaction.
func (s *Store) AppendEvent(ctx context.Context, env eventing.Envelope) error {
	_, err := s.outbox.InsertWith(ctx, s.q, env)
	return err
}

const clientColumns = `id, route_id, name, price_per_ficha, commission_per_ficha, current_debt,
	previous_debt, ledger_seq, carry_over_seq, carry_over_at, active, created_at, updated_at`

const cycleColumns = `id, route_id, number, year, status, started_at, ended_at, notes, created_by,
	revenue, expenses, travel, profit, debt_total, clients_settled, total_clients, table_count,
	created_at, updated_at`

const settlementColumns = `id, client_id, route_id, cycle_id, settled_at, previous_debt, total, discount,
	amount_received, resulting_debt, status, payment_methods, notes, corrects_id, created_by, seq, created_at`

func cycleArgs(c *settlement.Cycle) []any {
	return []any{
		c.ID, c.RouteID, c.Number, c.Year, string(c.Status), c.StartedAt.UTC(), nullTime(c.EndedAt), c.Notes, c.CreatedBy,
		c.Frozen.Revenue, c.Frozen.Expenses, c.Frozen.Travel, c.Frozen.Profit, c.Frozen.DebtTotal,
		c.Frozen.ClientsSettled, c.Frozen.TotalClients, c.Frozen.TableCount,
		defaultNow(c.CreatedAt), defaultNow(c.UpdatedAt),
	}
}

func scanRoute(row rowScanner) (*settlement.Route, error) {
	var r settlement.Route
	var status string
	var started, ended sql.NullTime
	if err := row.Scan(&r.ID, &r.Name, &r.Active, &status, &r.CurrentCycleNumber, &r.CurrentCycleYear,
		&started, &ended, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Status = settlement.RouteStatus(status)
	r.CycleStartedAt = fromNullTime(started)
	r.CycleEndedAt = fromNullTime(ended)
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func scanClient(row rowScanner) (*settlement.Client, error) {
	var c settlement.Client
	var carry sql.NullTime
	if err := row.Scan(&c.ID, &c.RouteID, &c.Name, &c.PricePerFicha, &c.CommissionPerFicha, &c.CurrentDebt,
		&c.PreviousDebt, &c.LedgerSeq, &c.CarryOverSeq, &carry, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.CarryOverAt = fromNullTime(carry)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanCycle(row rowScanner) (*settlement.Cycle, error) {
	var c settlement.Cycle
	var status string
	var ended sql.NullTime
	if err := row.Scan(&c.ID, &c.RouteID, &c.Number, &c.Year, &status, &c.StartedAt, &ended, &c.Notes, &c.CreatedBy,
		&c.Frozen.Revenue, &c.Frozen.Expenses, &c.Frozen.Travel, &c.Frozen.Profit, &c.Frozen.DebtTotal,
		&c.Frozen.ClientsSettled, &c.Frozen.TotalClients, &c.Frozen.TableCount,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Status = settlement.CycleStatus(status)
	c.StartedAt = c.StartedAt.UTC()
	c.EndedAt = fromNullTime(ended)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanSettlement(row rowScanner) (*settlement.Settlement, error) {
	var v settlement.Settlement
	var status string
	var payments []byte
	var correctsID sql.NullString
	if err := row.Scan(&v.ID, &v.ClientID, &v.RouteID, &v.CycleID, &v.SettledAt, &v.PreviousDebt, &v.Total, &v.Discount,
		&v.AmountReceived, &v.ResultingDebt, &status, &payments, &v.Notes, &correctsID, &v.CreatedBy, &v.Seq, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.Status = settlement.SettlementStatus(status)
	v.CorrectsID = correctsID.String
	v.SettledAt = v.SettledAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	if len(payments) > 0 {
		methods := make(map[string]decimal.Decimal)
		if err := json.Unmarshal(payments, &methods); err != nil {
			return nil, err
		}
		v.PaymentMethods = methods
	}
	return &v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func defaultNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
