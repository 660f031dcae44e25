package settlement

import "time"

// RouteStatus tracks where a route is in its cycle.
type RouteStatus string

const (
	RouteStatusPaused     RouteStatus = "PAUSED"
	RouteStatusInProgress RouteStatus = "IN_PROGRESS"
	RouteStatusFinished   RouteStatus = "FINISHED"
)

// Route is a delivery route. CurrentCycleNumber/Year is a denormalized
// pointer and may lag behind the cycles table.
type Route struct {
	ID                 string
	Name               string
	Active             bool
	Status             RouteStatus
	CurrentCycleNumber int
	CurrentCycleYear   int
	CycleStartedAt     time.Time
	CycleEndedAt       time.Time
	UpdatedAt          time.Time
}

// Clone returns a copy.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// StartCycle points the route at a freshly opened cycle.
func (r *Route) StartCycle(c *Cycle, at time.Time) {
	r.Status = RouteStatusInProgress
	r.CurrentCycleNumber = c.Number
	r.CurrentCycleYear = c.Year
	r.CycleStartedAt = at
	r.CycleEndedAt = time.Time{}
	r.UpdatedAt = at
}

// FinishCycle records closure of the current cycle.
func (r *Route) FinishCycle(at time.Time) {
	r.Status = RouteStatusFinished
	r.CycleEndedAt = at
	r.UpdatedAt = at
}

// PauseCycle records cancellation of the current cycle and points the
// route back at its last closed cycle, or at nothing when there is none.
func (r *Route) PauseCycle(lastClosed *Cycle, at time.Time) {
	r.Status = RouteStatusPaused
	r.CurrentCycleNumber, r.CurrentCycleYear = 0, 0
	r.CycleStartedAt, r.CycleEndedAt = time.Time{}, time.Time{}
	if lastClosed != nil {
		r.CurrentCycleNumber = lastClosed.Number
		r.CurrentCycleYear = lastClosed.Year
		r.CycleStartedAt = lastClosed.StartedAt
		r.CycleEndedAt = lastClosed.EndedAt
	}
	r.UpdatedAt = at
}
