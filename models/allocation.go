package models

import (
	"time"
)

// MinAcceptableScore is the acceptance gate for an allocation run. A total
// score below this marks the run failed and skips persistence.
const MinAcceptableScore = -4.0

// Allocation run statuses.
const (
	AllocationStatusNew      = "N"
	AllocationStatusPartial  = "P"
	AllocationStatusAccepted = "A"
	AllocationStatusFailed   = "F"
)

// RouteAllocation is one route assigned to one vehicle.
type RouteAllocation struct {
	RouteID             string
	VehicleID           int
	SequencePosition    int
	Cost                float64
	EstimatedArrival    time.Time
	EstimatedArrivalSOC float64 // percent
	Allocated           bool
}

// VehicleRouteSequence is a selected (vehicle, ordered routes, score) triple.
type VehicleRouteSequence struct {
	VehicleID int
	Routes    []*Route
	Cost      float64
}

// RouteIDs returns the route ids of the sequence in order.
func (s *VehicleRouteSequence) RouteIDs() []string {
	ids := make([]string, len(s.Routes))
	for i, r := range s.Routes {
		ids[i] = r.RouteID
	}
	return ids
}

// AllocationResult is the fleet-wide outcome of one allocation run.
type AllocationResult struct {
	AllocationID           int64
	SiteID                 int
	Status                 string
	TotalScore             float64
	RoutesInWindow         int
	RoutesAllocated        int
	RoutesOverlappingCount int
	WindowStart            time.Time
	WindowEnd              time.Time
	Allocations            []RouteAllocation
	UnallocatedRoutes      []string
	SolveTime              time.Duration
	SolverStatus           string
}

// IsAcceptable applies the score gate: allocations scoring below the minimum
// are rejected wholesale rather than persisted.
func (r *AllocationResult) IsAcceptable() bool {
	return r.TotalScore >= MinAcceptableScore
}

// VehicleSequences groups allocated route ids by vehicle, ordered by
// sequence position.
func (r *AllocationResult) VehicleSequences() map[int][]string {
	out := make(map[int][]string)
	for _, a := range r.Allocations {
		if a.Allocated {
			out[a.VehicleID] = append(out[a.VehicleID], a.RouteID)
		}
	}
	return out
}
