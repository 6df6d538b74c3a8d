package optimizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/fleet-optimizer/models"
)

func withEngine(t *testing.T, active bool) {
	t.Helper()
	prev := EngineActive()
	SetEngineActive(active)
	t.Cleanup(func() { SetEngineActive(prev) })
}

func seqOf(vehicleID int, cost float64, routeIDs ...string) models.VehicleRouteSequence {
	base := time.Date(2026, 2, 11, 6, 0, 0, 0, time.UTC)
	seq := models.VehicleRouteSequence{VehicleID: vehicleID, Cost: cost}
	for i, id := range routeIDs {
		seq.Routes = append(seq.Routes, &models.Route{
			RouteID:   id,
			PlanStart: base.Add(time.Duration(i) * 4 * time.Hour),
			PlanEnd:   base.Add(time.Duration(i)*4*time.Hour + 3*time.Hour),
		})
	}
	return seq
}

func TestAllocationEngineVehicleAndRouteExclusivity(t *testing.T) {
	withEngine(t, true)

	problem := AllocationProblem{
		Sequences: []models.VehicleRouteSequence{
			seqOf(1, -1, "A"),
			seqOf(1, -2, "B"),
			seqOf(2, -4, "A"),
			seqOf(2, -1, "B"),
		},
		RouteIDs: []string{"A", "B"},
	}

	sol := NewAllocationSolver(nil).Solve(problem)
	require.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, 2, sol.RoutesAllocated)
	require.Len(t, sol.Selected, 2)

	vehicles := map[int]bool{}
	routes := map[string]bool{}
	for _, s := range sol.Selected {
		assert.False(t, vehicles[s.VehicleID], "vehicle %d selected twice", s.VehicleID)
		vehicles[s.VehicleID] = true
		for _, r := range s.Routes {
			assert.False(t, routes[r.RouteID], "route %s covered twice", r.RouteID)
			routes[r.RouteID] = true
		}
	}

	// v1->A plus v2->B scores -2, the alternative pairing -6.
	assert.InDelta(t, -2.0, sol.TotalScore, 1e-9)
}

func TestAllocationCoverageDominatesScore(t *testing.T) {
	withEngine(t, true)

	problem := AllocationProblem{
		Sequences: []models.VehicleRouteSequence{
			seqOf(1, 0, "A"),
			seqOf(1, -3.9, "A", "B"),
		},
		RouteIDs: []string{"A", "B"},
	}

	sol := NewAllocationSolver(nil).Solve(problem)
	assert.Equal(t, 2, sol.RoutesAllocated)
	assert.InDelta(t, -3.9, sol.TotalScore, 1e-9)
}

func TestAllocationGreedyMatchesEngineOnSimpleCase(t *testing.T) {
	problem := AllocationProblem{
		Sequences: []models.VehicleRouteSequence{
			seqOf(1, -1, "A"),
			seqOf(1, -2, "B"),
			seqOf(2, -4, "A"),
			seqOf(2, -1, "B"),
		},
		RouteIDs: []string{"A", "B"},
	}

	withEngine(t, true)
	exact := NewAllocationSolver(nil).Solve(problem)

	withEngine(t, false)
	greedy := NewAllocationSolver(nil).Solve(problem)
	assert.Equal(t, StatusGreedy, greedy.Status)

	assert.Equal(t, exact.RoutesAllocated, greedy.RoutesAllocated)
	assert.InDelta(t, exact.TotalScore, greedy.TotalScore, 1e-9)
}

func TestAllocationEmptyProblem(t *testing.T) {
	withEngine(t, true)
	sol := NewAllocationSolver(nil).Solve(AllocationProblem{RouteIDs: []string{"A"}})
	assert.Empty(t, sol.Selected)
	assert.Equal(t, 0, sol.RoutesAllocated)
	assert.Equal(t, 1, sol.RoutesTotal)
}

func TestAllocationTopKReturnsDistinctSelections(t *testing.T) {
	withEngine(t, true)

	problem := AllocationProblem{
		Sequences: []models.VehicleRouteSequence{
			seqOf(1, -1, "A"),
			seqOf(2, -2, "A"),
			seqOf(3, -3, "A"),
		},
		RouteIDs: []string{"A"},
	}

	eng := &allocationEngine{}
	sols := eng.solveTopK(problem, 3)
	require.True(t, len(sols) >= 2)
	assert.InDelta(t, -1.0, sols[0].TotalScore, 1e-9)
	assert.True(t, sols[1].TotalScore <= sols[0].TotalScore)
}
