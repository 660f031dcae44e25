package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/observability/metrics"
	settlement "route-ledger/internal/settlement/domain"
)

// ResolutionKind tells callers how a metrics cycle was found.
type ResolutionKind string

const (
	// ResolutionResolved carries a real cycle id.
	ResolutionResolved ResolutionKind = "resolved"
	// ResolutionFallback carries a placeholder number without an id.
	ResolutionFallback ResolutionKind = "fallback"
	// ResolutionNone means the route itself could not be read.
	ResolutionNone ResolutionKind = "none"
)

// Resolution sources.
const (
	SourceOpenCycle    = "open_cycle"
	SourceRoutePointer = "route_pointer"
	SourcePlaceholder  = "placeholder"
	SourceRoute        = "route"
)

// CycleResolution is the outcome of GetCycleForMetrics.
type CycleResolution struct {
	Kind    ResolutionKind `json:"kind"`
	CycleID string         `json:"cycle_id,omitempty"`
	Number  int            `json:"number"`
	Year    int            `json:"year"`
	Source  string         `json:"source"`
	Err     error          `json:"-"`
}

// Resolved reports whether a real cycle id was found.
func (r CycleResolution) Resolved() bool { return r.Kind == ResolutionResolved }

type cycleStrategy func(ctx context.Context, route *settlement.Route) (CycleResolution, bool, error)

// CycleService manages the cycle lifecycle of routes.
type CycleService struct {
	store settlement.Store
	opts  options
}

// NewCycleService constructs the service.
func NewCycleService(store settlement.Store, opts ...Option) (*CycleService, error) {
	if store == nil {
		return nil, errors.New("cycle service: nil store")
	}
	return &CycleService{store: store, opts: buildOptions(opts)}, nil
}

// OpenCycle opens the next cycle of a route for year. A zero year means
// the current year.
func (s *CycleService) OpenCycle(ctx context.Context, routeID string, year int) (string, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveCycleTransition(metrics.TransitionOpen, result, time.Since(start))
	}()

	if routeID == "" {
		result = metrics.ResultError
		return "", settlement.ErrEmptyID
	}
	unlock, err := s.opts.lockRoute(ctx, routeID)
	if err != nil {
		result = metrics.ResultError
		return "", err
	}
	defer unlock()

	now := s.opts.clock.Now().UTC()
	if year <= 0 {
		year = now.Year()
	}

	var opened *settlement.Cycle
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		route, err := tx.GetRoute(ctx, routeID)
		if err != nil {
			return err
		}
		if route == nil {
			return settlement.NotFound("route", routeID)
		}
		if !route.Active {
			return settlement.Conflict("route", routeID, "route is inactive")
		}
		current, err := tx.FindOpenCycle(ctx, routeID)
		if err != nil {
			return err
		}
		if current != nil {
			return settlement.Conflict("route", routeID, fmt.Sprintf("%s is still open", current.Title()))
		}
		last, err := tx.MaxCycleNumber(ctx, routeID, year)
		if err != nil {
			return err
		}
		cycle, err := settlement.NewCycle(uuid.NewString(), routeID, year, last+1, now)
		if err != nil {
			return err
		}
		cycle.CreatedBy = actorFrom(ctx)
		if err := tx.InsertCycle(ctx, cycle); err != nil {
			return err
		}
		route.StartCycle(cycle, now)
		if err := tx.UpsertRoute(ctx, route); err != nil {
			return err
		}
		opened = cycle
		return appendEvent(ctx, tx, s.opts.tenantID, CycleOpened{
			CycleID:    cycle.ID,
			RouteID:    routeID,
			Number:     cycle.Number,
			Year:       cycle.Year,
			OccurredAt: now,
		})
	})
	if err != nil {
		result = metrics.ResultError
		return "", err
	}

	s.opts.logger.WithFields(logrus.Fields{
		"route_id": routeID,
		"cycle_id": opened.ID,
		"title":    opened.Title(),
	}).Info("cycle opened")
	return opened.ID, nil
}

// GetOpenCycle returns the route's OPEN cycle or nil.
func (s *CycleService) GetOpenCycle(ctx context.Context, routeID string) (*settlement.Cycle, error) {
	if routeID == "" {
		return nil, settlement.ErrEmptyID
	}
	return s.store.FindOpenCycle(ctx, routeID)
}

// GetCycle loads a cycle by id.
func (s *CycleService) GetCycle(ctx context.Context, cycleID string) (*settlement.Cycle, error) {
	if cycleID == "" {
		return nil, settlement.ErrEmptyID
	}
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, settlement.NotFound("cycle", cycleID)
	}
	return cycle, nil
}

// ListCycles returns a route's cycles, newest first.
func (s *CycleService) ListCycles(ctx context.Context, routeID string) ([]settlement.Cycle, error) {
	if routeID == "" {
		return nil, settlement.ErrEmptyID
	}
	return s.store.ListCyclesByRoute(ctx, routeID)
}

// ListCyclesByPeriod returns cycles of every route started in [from, to).
func (s *CycleService) ListCyclesByPeriod(ctx context.Context, from, to time.Time) ([]settlement.Cycle, error) {
	if !to.After(from) {
		return nil, &settlement.ValidationError{Field: "period", Reason: "end must be after start"}
	}
	return s.store.ListCyclesByPeriod(ctx, from, to)
}

// GetCycleForMetrics picks the cycle a dashboard should show: the open
// cycle, else the cycle the route points at, else a placeholder number 1.
func (s *CycleService) GetCycleForMetrics(ctx context.Context, routeID string) CycleResolution {
	route, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return CycleResolution{Kind: ResolutionNone, Source: SourceRoute, Err: err}
	}
	if route == nil {
		return CycleResolution{Kind: ResolutionNone, Source: SourceRoute, Err: settlement.NotFound("route", routeID)}
	}

	var lastErr error
	for _, strategy := range []cycleStrategy{s.fromOpenCycle, s.fromRoutePointer} {
		res, ok, err := strategy(ctx, route)
		if err != nil {
			lastErr = err
			s.opts.logger.WithField("route_id", routeID).WithError(err).Warn("cycle resolution step failed")
			continue
		}
		if ok {
			return res
		}
	}

	year := route.CurrentCycleYear
	if year == 0 {
		year = s.opts.clock.Now().UTC().Year()
	}
	return CycleResolution{
		Kind:   ResolutionFallback,
		Number: 1,
		Year:   year,
		Source: SourcePlaceholder,
		Err:    lastErr,
	}
}

func (s *CycleService) fromOpenCycle(ctx context.Context, route *settlement.Route) (CycleResolution, bool, error) {
	cycle, err := s.store.FindOpenCycle(ctx, route.ID)
	if err != nil || cycle == nil {
		return CycleResolution{}, false, err
	}
	return resolved(cycle, SourceOpenCycle), true, nil
}

func (s *CycleService) fromRoutePointer(ctx context.Context, route *settlement.Route) (CycleResolution, bool, error) {
	if route.CurrentCycleNumber <= 0 || route.CurrentCycleYear <= 0 {
		return CycleResolution{}, false, nil
	}
	cycle, err := s.store.FindCycleByNumber(ctx, route.ID, route.CurrentCycleYear, route.CurrentCycleNumber)
	if err != nil || cycle == nil {
		return CycleResolution{}, false, err
	}
	if cycle.Status == settlement.CycleStatusCancelled {
		return CycleResolution{}, false, nil
	}
	return resolved(cycle, SourceRoutePointer), true, nil
}

func lastClosedCycle(ctx context.Context, r settlement.Reader, routeID string) (*settlement.Cycle, error) {
	cycles, err := r.ListCyclesByRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	for i := range cycles {
		if cycles[i].Status == settlement.CycleStatusClosed {
			return &cycles[i], nil
		}
	}
	return nil, nil
}

func resolved(cycle *settlement.Cycle, source string) CycleResolution {
	return CycleResolution{
		Kind:    ResolutionResolved,
		CycleID: cycle.ID,
		Number:  cycle.Number,
		Year:    cycle.Year,
		Source:  source,
	}
}

// CancelCycle discards the route's OPEN cycle when nothing was settled in it.
func (s *CycleService) CancelCycle(ctx context.Context, routeID string) (string, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveCycleTransition(metrics.TransitionCancel, result, time.Since(start))
	}()

	if routeID == "" {
		result = metrics.ResultError
		return "", settlement.ErrEmptyID
	}
	unlock, err := s.opts.lockRoute(ctx, routeID)
	if err != nil {
		result = metrics.ResultError
		return "", err
	}
	defer unlock()

	now := s.opts.clock.Now().UTC()
	var cancelledID string
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx settlement.Store) error {
		cycle, err := tx.FindOpenCycle(ctx, routeID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return settlement.Conflict("route", routeID, "no open cycle")
		}
		settled, err := tx.FindSettlementsByCycle(ctx, cycle.ID)
		if err != nil {
			return err
		}
		if len(settled) > 0 {
			return settlement.Conflict("cycle", cycle.ID, "cycle already has settlements")
		}
		if err := cycle.Cancel(now); err != nil {
			return err
		}
		if err := tx.UpsertCycle(ctx, cycle); err != nil {
			return err
		}
		route, err := tx.GetRoute(ctx, routeID)
		if err != nil {
			return err
		}
		if route != nil {
			lastClosed, err := lastClosedCycle(ctx, tx, routeID)
			if err != nil {
				return err
			}
			route.PauseCycle(lastClosed, now)
			if err := tx.UpsertRoute(ctx, route); err != nil {
				return err
			}
		}
		cancelledID = cycle.ID
		return appendEvent(ctx, tx, s.opts.tenantID, CycleCancelled{
			CycleID:    cycle.ID,
			RouteID:    routeID,
			OccurredAt: now,
		})
	})
	if err != nil {
		result = metrics.ResultError
		return "", err
	}
	s.opts.logger.WithFields(logrus.Fields{
		"route_id": routeID,
		"cycle_id": cancelledID,
	}).Info("cycle cancelled")
	return cancelledID, nil
}
