package optimizer

import (
	"log"
	"time"

	"github.com/devskill-org/fleet-optimizer/constraints"
	"github.com/devskill-org/fleet-optimizer/models"
)

// SequenceBuilder enumerates feasible (vehicle, route sequence, score)
// candidates for the allocation solver. Every singleton and every k-subset
// up to the per-vehicle cap is fed through the constraint manager; only
// feasible candidates survive.
type SequenceBuilder struct {
	Vehicles            []*models.Vehicle
	Routes              []*models.Route
	Manager             *constraints.Manager
	MaxRoutesPerVehicle int
	Context             *constraints.Context
	Logger              *log.Logger
}

// BuildStats summarizes an enumeration pass.
type BuildStats struct {
	CandidatesEvaluated int
	FeasibleSequences   int
	OverlappingRoutes   int
}

// Build returns the feasible candidates sorted as generated: per vehicle,
// singletons first, then longer subsets in departure order.
func (b *SequenceBuilder) Build() ([]models.VehicleRouteSequence, BuildStats) {
	routes := make([]*models.Route, len(b.Routes))
	copy(routes, b.Routes)
	models.SortRoutesByStart(routes)

	maxLen := b.MaxRoutesPerVehicle
	if maxLen < 1 {
		maxLen = 1
	}
	if maxLen > len(routes) {
		maxLen = len(routes)
	}

	stats := BuildStats{OverlappingRoutes: countOverlappingRoutes(routes)}

	var feasible []models.VehicleRouteSequence
	for _, vehicle := range b.Vehicles {
		for _, candidate := range subsetsUpTo(routes, maxLen) {
			stats.CandidatesEvaluated++
			eval := b.Manager.Evaluate(vehicle, candidate, b.Context)
			if !eval.Feasible {
				continue
			}
			feasible = append(feasible, models.VehicleRouteSequence{
				VehicleID: vehicle.VehicleID,
				Routes:    candidate,
				Cost:      eval.TotalCost,
			})
		}
	}
	stats.FeasibleSequences = len(feasible)

	if b.Logger != nil {
		b.Logger.Printf("enumerated %d candidates, %d feasible, %d overlapping routes",
			stats.CandidatesEvaluated, stats.FeasibleSequences, stats.OverlappingRoutes)
	}
	return feasible, stats
}

// subsetsUpTo generates all subsets of 1..maxLen routes, preserving the
// departure order within each subset.
func subsetsUpTo(routes []*models.Route, maxLen int) [][]*models.Route {
	var out [][]*models.Route

	var recurse func(start int, current []*models.Route)
	recurse = func(start int, current []*models.Route) {
		if len(current) > 0 {
			subset := make([]*models.Route, len(current))
			copy(subset, current)
			out = append(out, subset)
		}
		if len(current) == maxLen {
			return
		}
		for i := start; i < len(routes); i++ {
			recurse(i+1, append(current, routes[i]))
		}
	}
	recurse(0, nil)
	return out
}

// countOverlappingRoutes counts routes that collide with at least one other
// route after adding the default turnaround gap.
func countOverlappingRoutes(routes []*models.Route) int {
	turnaround := 45 * time.Minute
	overlapping := make(map[string]bool)
	for i := 0; i < len(routes); i++ {
		for j := i + 1; j < len(routes); j++ {
			if routes[i].OverlapsWith(routes[j], turnaround) {
				overlapping[routes[i].RouteID] = true
				overlapping[routes[j].RouteID] = true
			}
		}
	}
	return len(overlapping)
}
