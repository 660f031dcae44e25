package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"route-ledger/internal/eventing"
	settlement "route-ledger/internal/settlement/domain"
)

type txKey struct{}

type outboxRow struct {
	id       string
	env      eventing.Envelope
	status   string
	attempts int
}

type state struct {
	routes      map[string]*settlement.Route
	clients     map[string]*settlement.Client
	tables      map[string]*settlement.Table
	cycles      map[string]*settlement.Cycle
	settlements map[string]*settlement.Settlement
	expenses    map[string]*settlement.Expense
	outbox      []outboxRow
}

func newState() *state {
	return &state{
		routes:      make(map[string]*settlement.Route),
		clients:     make(map[string]*settlement.Client),
		tables:      make(map[string]*settlement.Table),
		cycles:      make(map[string]*settlement.Cycle),
		settlements: make(map[string]*settlement.Settlement),
		expenses:    make(map[string]*settlement.Expense),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.routes {
		cp.routes[k] = v.Clone()
	}
	for k, v := range s.clients {
		cp.clients[k] = v.Clone()
	}
	for k, v := range s.tables {
		cp.tables[k] = v.Clone()
	}
	for k, v := range s.cycles {
		cp.cycles[k] = v.Clone()
	}
	for k, v := range s.settlements {
		cp.settlements[k] = v.Clone()
	}
	for k, v := range s.expenses {
		cp.expenses[k] = v.Clone()
	}
	cp.outbox = append([]outboxRow(nil), s.outbox...)
	return cp
}

// Store is an in-memory ledger store.
//
// Transactions run against a private copy of the state that replaces the
// committed state on success; writers are serialized by txMu.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// WithinTx runs fn against a staged copy and commits it if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Store) error) error {
	if staged, ok := ctx.Value(txKey{}).(*Store); ok && staged != nil {
		return fn(ctx, staged)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := &Store{st: s.st.clone()}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, staged), staged); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = staged.st
	s.mu.Unlock()
	return nil
}

// write applies a single mutation outside any transaction.
func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// GetRoute loads a route.
func (s *Store) GetRoute(ctx context.Context, id string) (*settlement.Route, error) {
	_ = ctx
	var out *settlement.Route
	s.read(func(st *state) { out = st.routes[id].Clone() })
	return out, nil
}

// ListRoutes returns all routes ordered by name.
func (s *Store) ListRoutes(ctx context.Context) ([]settlement.Route, error) {
	_ = ctx
	var out []settlement.Route
	s.read(func(st *state) {
		for _, r := range st.routes {
			out = append(out, *r)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetClient loads a client.
func (s *Store) GetClient(ctx context.Context, id string) (*settlement.Client, error) {
	_ = ctx
	var out *settlement.Client
	s.read(func(st *state) { out = st.clients[id].Clone() })
	return out, nil
}

// GetTable loads a table.
func (s *Store) GetTable(ctx context.Context, id string) (*settlement.Table, error) {
	_ = ctx
	var out *settlement.Table
	s.read(func(st *state) { out = st.tables[id].Clone() })
	return out, nil
}

// GetCycle loads a cycle.
func (s *Store) GetCycle(ctx context.Context, id string) (*settlement.Cycle, error) {
	_ = ctx
	var out *settlement.Cycle
	s.read(func(st *state) { out = st.cycles[id].Clone() })
	return out, nil
}

// FindOpenCycle returns the route's OPEN cycle.
func (s *Store) FindOpenCycle(ctx context.Context, routeID string) (*settlement.Cycle, error) {
	_ = ctx
	var out *settlement.Cycle
	s.read(func(st *state) { out = openCycle(st, routeID).Clone() })
	return out, nil
}

func openCycle(st *state, routeID string) *settlement.Cycle {
	for _, c := range st.cycles {
		if c.RouteID == routeID && c.Status == settlement.CycleStatusOpen {
			return c
		}
	}
	return nil
}

// FindCycleByNumber returns the cycle with the given number in a year.
func (s *Store) FindCycleByNumber(ctx context.Context, routeID string, year, number int) (*settlement.Cycle, error) {
	_ = ctx
	var out *settlement.Cycle
	s.read(func(st *state) {
		for _, c := range st.cycles {
			if c.RouteID == routeID && c.Year == year && c.Number == number {
				out = c.Clone()
				return
			}
		}
	})
	return out, nil
}

// ListCyclesByRoute returns cycles newest first.
func (s *Store) ListCyclesByRoute(ctx context.Context, routeID string) ([]settlement.Cycle, error) {
	_ = ctx
	var out []settlement.Cycle
	s.read(func(st *state) {
		for _, c := range st.cycles {
			if c.RouteID == routeID {
				out = append(out, *c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}

// ListCyclesByPeriod returns cycles started in [from, to), oldest first.
func (s *Store) ListCyclesByPeriod(ctx context.Context, from, to time.Time) ([]settlement.Cycle, error) {
	_ = ctx
	var out []settlement.Cycle
	s.read(func(st *state) {
		for _, c := range st.cycles {
			if !c.StartedAt.Before(from) && c.StartedAt.Before(to) {
				out = append(out, *c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// MaxCycleNumber returns the highest cycle number for a route and year, or 0.
func (s *Store) MaxCycleNumber(ctx context.Context, routeID string, year int) (int, error) {
	_ = ctx
	max := 0
	s.read(func(st *state) {
		for _, c := range st.cycles {
			if c.RouteID == routeID && c.Year == year && c.Number > max {
				max = c.Number
			}
		}
	})
	return max, nil
}

// GetSettlement loads a settlement with its line items.
func (s *Store) GetSettlement(ctx context.Context, id string) (*settlement.Settlement, error) {
	_ = ctx
	var out *settlement.Settlement
	s.read(func(st *state) { out = st.settlements[id].Clone() })
	return out, nil
}

// FindSettlementsByCycle returns settlement headers for a cycle.
func (s *Store) FindSettlementsByCycle(ctx context.Context, cycleID string) ([]settlement.Settlement, error) {
	_ = ctx
	return s.settlementsWhere(func(st *settlement.Settlement) bool { return st.CycleID == cycleID }), nil
}

// FindSettlementsByClient returns settlement headers for a client.
func (s *Store) FindSettlementsByClient(ctx context.Context, clientID string) ([]settlement.Settlement, error) {
	_ = ctx
	return s.settlementsWhere(func(st *settlement.Settlement) bool { return st.ClientID == clientID }), nil
}

func (s *Store) settlementsWhere(match func(*settlement.Settlement) bool) []settlement.Settlement {
	var out []settlement.Settlement
	s.read(func(st *state) {
		for _, v := range st.settlements {
			if match(v) {
				header := v.Clone()
				header.Items = nil
				out = append(out, *header)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindLineItemsForSettlement returns the line items of a settlement.
func (s *Store) FindLineItemsForSettlement(ctx context.Context, settlementID string) ([]settlement.LineItem, error) {
	_ = ctx
	var out []settlement.LineItem
	s.read(func(st *state) {
		if v := st.settlements[settlementID]; v != nil {
			out = append(out, v.Items...)
		}
	})
	return out, nil
}

// FindLastSettlementForClient returns the latest non-cancelled settlement.
func (s *Store) FindLastSettlementForClient(ctx context.Context, clientID string) (*settlement.Settlement, error) {
	_ = ctx
	var out *settlement.Settlement
	s.read(func(st *state) {
		for _, v := range st.settlements {
			if v.ClientID != clientID || !v.Counts() {
				continue
			}
			if out == nil || v.SettledAt.After(out.SettledAt) {
				out = v
			}
		}
		out = out.Clone()
	})
	return out, nil
}

// FindExpensesByCycle returns expenses of a cycle.
func (s *Store) FindExpensesByCycle(ctx context.Context, cycleID string) ([]settlement.Expense, error) {
	_ = ctx
	var out []settlement.Expense
	s.read(func(st *state) {
		for _, e := range st.expenses {
			if e.CycleID == cycleID {
				out = append(out, *e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindActiveClientsByRoute returns active clients of a route.
func (s *Store) FindActiveClientsByRoute(ctx context.Context, routeID string) ([]settlement.Client, error) {
	_ = ctx
	var out []settlement.Client
	s.read(func(st *state) {
		for _, c := range st.clients {
			if c.RouteID == routeID && c.Active {
				out = append(out, *c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertRoute stores a route.
func (s *Store) UpsertRoute(ctx context.Context, route *settlement.Route) error {
	_ = ctx
	if route == nil {
		return settlement.ErrNilEntity
	}
	if route.ID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		st.routes[route.ID] = route.Clone()
		return nil
	})
}

// UpsertClient stores a client.
func (s *Store) UpsertClient(ctx context.Context, client *settlement.Client) error {
	_ = ctx
	if client == nil {
		return settlement.ErrNilEntity
	}
	if client.ID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		st.clients[client.ID] = client.Clone()
		return nil
	})
}

// UpsertTable stores a table.
func (s *Store) UpsertTable(ctx context.Context, table *settlement.Table) error {
	_ = ctx
	if table == nil {
		return settlement.ErrNilEntity
	}
	if table.ID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		st.tables[table.ID] = table.Clone()
		return nil
	})
}

// InsertCycle stores a new cycle, enforcing one OPEN cycle per route.
func (s *Store) InsertCycle(ctx context.Context, cycle *settlement.Cycle) error {
	_ = ctx
	if cycle == nil {
		return settlement.ErrNilEntity
	}
	if cycle.ID == "" || cycle.RouteID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		if _, exists := st.cycles[cycle.ID]; exists {
			return settlement.Conflict("cycle", cycle.ID, "already exists")
		}
		if cycle.Status == settlement.CycleStatusOpen {
			if open := openCycle(st, cycle.RouteID); open != nil {
				return settlement.Conflict("route", cycle.RouteID, "open cycle already exists")
			}
		}
		for _, c := range st.cycles {
			if c.RouteID == cycle.RouteID && c.Year == cycle.Year && c.Number == cycle.Number {
				return settlement.Conflict("cycle", cycle.ID, "number already used")
			}
		}
		st.cycles[cycle.ID] = cycle.Clone()
		return nil
	})
}

// UpsertCycle overwrites a cycle unless the stored one is terminal.
func (s *Store) UpsertCycle(ctx context.Context, cycle *settlement.Cycle) error {
	_ = ctx
	if cycle == nil {
		return settlement.ErrNilEntity
	}
	if cycle.ID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		existing := st.cycles[cycle.ID]
		if existing == nil {
			return settlement.NotFound("cycle", cycle.ID)
		}
		if existing.IsTerminal() {
			return settlement.ErrCycleImmutable
		}
		if cycle.Status == settlement.CycleStatusOpen {
			if open := openCycle(st, cycle.RouteID); open != nil && open.ID != cycle.ID {
				return settlement.Conflict("route", cycle.RouteID, "open cycle already exists")
			}
		}
		st.cycles[cycle.ID] = cycle.Clone()
		return nil
	})
}

// InsertSettlement appends a settlement with its line items.
func (s *Store) InsertSettlement(ctx context.Context, v *settlement.Settlement) error {
	_ = ctx
	if v == nil {
		return settlement.ErrNilEntity
	}
	if v.ID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		if _, exists := st.settlements[v.ID]; exists {
			return settlement.Conflict("settlement", v.ID, "already exists")
		}
		if v.Seq > 0 {
			for _, other := range st.settlements {
				if other.ClientID == v.ClientID && other.Seq == v.Seq {
					return settlement.Conflict("settlement", v.ID, "ledger sequence already used")
				}
			}
		}
		st.settlements[v.ID] = v.Clone()
		return nil
	})
}

// InsertExpense appends an expense.
func (s *Store) InsertExpense(ctx context.Context, e *settlement.Expense) error {
	_ = ctx
	if e == nil {
		return settlement.ErrNilEntity
	}
	if e.ID == "" {
		return settlement.ErrEmptyID
	}
	return s.write(func(st *state) error {
		if _, exists := st.expenses[e.ID]; exists {
			return settlement.Conflict("expense", e.ID, "already exists")
		}
		st.expenses[e.ID] = e.Clone()
		return nil
	})
}

// AppendEvent writes an envelope to the outbox.
func (s *Store) AppendEvent(ctx context.Context, env eventing.Envelope) error {
	_ = ctx
	return s.write(func(st *state) error {
		for _, row := range st.outbox {
			if row.env.EventID == env.EventID {
				return nil
			}
		}
		st.outbox = append(st.outbox, outboxRow{id: eventing.NewEventID(), env: env, status: "pending"})
		return nil
	})
}

// ListPending implements eventing.OutboxStore.
func (s *Store) ListPending(ctx context.Context, limit, maxAttempts int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	var out []eventing.OutboxRecord
	s.read(func(st *state) {
		for _, row := range st.outbox {
			if limit > 0 && len(out) >= limit {
				return
			}
			if row.status == "pending" || (row.status == "failed" && row.attempts < maxAttempts) {
				out = append(out, eventing.OutboxRecord{ID: row.id, Envelope: row.env, Attempts: row.attempts})
			}
		}
	})
	return out, nil
}

// MarkSent implements eventing.OutboxStore.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	_ = ctx
	return s.markOutbox(id, func(row *outboxRow) { row.status = "sent" })
}

// MarkFailed implements eventing.OutboxStore.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	_ = ctx
	return s.markOutbox(id, func(row *outboxRow) {
		row.status = "failed"
		row.attempts++
	})
}

func (s *Store) markOutbox(id string, fn func(row *outboxRow)) error {
	return s.write(func(st *state) error {
		for i := range st.outbox {
			if st.outbox[i].id == id {
				fn(&st.outbox[i])
				return nil
			}
		}
		return settlement.NotFound("outbox record", id)
	})
}

// Events returns all outbox envelopes in append order.
func (s *Store) Events() []eventing.Envelope {
	var out []eventing.Envelope
	s.read(func(st *state) {
		for _, row := range st.outbox {
			out = append(out, row.env)
		}
	})
	return out
}
