package models

import (
	"fmt"
	"sort"
	"time"
)

// Route is a planned delivery trip with fixed start/end and mileage.
// plan times are UTC, start inclusive, end exclusive.
type Route struct {
	RouteID     string
	SiteID      int
	RouteAlias  string
	RouteStatus string
	PlanStart   time.Time
	PlanEnd     time.Time
	PlanMileage float64
	NOrders     int
	VehicleID   int     // preassigned vehicle, 0 when unassigned
	EnergyKWh   float64 // explicit energy override, 0 when derived from mileage
}

// Validate checks the route invariants.
func (r *Route) Validate() error {
	if !r.PlanStart.Before(r.PlanEnd) {
		return fmt.Errorf("route %s: plan_start %s not before plan_end %s", r.RouteID, r.PlanStart, r.PlanEnd)
	}
	if r.PlanMileage < 0 {
		return fmt.Errorf("route %s: mileage must be non-negative, got %.1f", r.RouteID, r.PlanMileage)
	}
	return nil
}

// DurationHours returns the planned route duration in hours.
func (r *Route) DurationHours() float64 {
	return r.PlanEnd.Sub(r.PlanStart).Hours()
}

// OverlapsWith reports whether the two routes, padded by the turnaround gap,
// cannot be served back to back in either order.
func (r *Route) OverlapsWith(other *Route, turnaround time.Duration) bool {
	if r.CanPrecede(other, turnaround) || other.CanPrecede(r, turnaround) {
		return false
	}
	return true
}

// CanPrecede reports whether this route can run before other on the same
// vehicle with at least the turnaround gap between them.
func (r *Route) CanPrecede(other *Route, turnaround time.Duration) bool {
	return !r.PlanEnd.Add(turnaround).After(other.PlanStart)
}

// SortRoutesByStart orders routes ascending by plan start, in place.
func SortRoutesByStart(routes []*Route) {
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].PlanStart.Before(routes[j].PlanStart)
	})
}
