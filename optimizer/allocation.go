package optimizer

import (
	"log"
	"sort"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// DefaultRouteCountWeight makes route coverage strictly dominate sequence
// scores in the allocation objective.
const DefaultRouteCountWeight = 1e2

// AllocationProblem is the set-partition input: feasible candidates, the
// routes to cover and the objective weighting.
type AllocationProblem struct {
	Sequences        []models.VehicleRouteSequence
	RouteIDs         []string
	RouteCountWeight float64
	TimeLimit        time.Duration
}

func (p *AllocationProblem) routeWeight() float64 {
	if p.RouteCountWeight > 0 {
		return p.RouteCountWeight
	}
	return DefaultRouteCountWeight
}

// AllocationSolution is the selected sequence set and its metrics.
type AllocationSolution struct {
	Selected        []models.VehicleRouteSequence
	TotalScore      float64
	RoutesAllocated int
	RoutesTotal     int
	ObjectiveValue  float64
	Status          string
	SolveTime       time.Duration
}

// AllocationSolver selects an exclusive set of sequences maximizing
// coverage then score.
type AllocationSolver interface {
	Solve(problem AllocationProblem) AllocationSolution
}

// NewAllocationSolver returns the engine when the capability flag is up,
// the greedy fallback otherwise.
func NewAllocationSolver(logger *log.Logger) AllocationSolver {
	if EngineActive() {
		return &allocationEngine{logger: logger}
	}
	if logger != nil {
		logger.Printf("solver engine inactive, using greedy allocation fallback")
	}
	return &allocationGreedy{logger: logger}
}

// allocationEngine is an exact depth-first branch and bound over the
// candidate list. Vehicle and route exclusivity prune the descent; an
// optimistic bound on the remaining coverage cuts hopeless branches.
type allocationEngine struct {
	logger *log.Logger
	// incumbents keeps the best distinct selections found, for the unified
	// decomposition. Index 0 is the optimum.
	incumbents []incumbent
	keepTop    int
}

type incumbent struct {
	selected  []int
	objective float64
}

func (e *allocationEngine) Solve(problem AllocationProblem) AllocationSolution {
	start := time.Now()
	deadline := time.Time{}
	if problem.TimeLimit > 0 {
		deadline = start.Add(problem.TimeLimit)
	}

	s := newAllocationSearch(problem, deadline)
	if e.keepTop > 1 {
		s.keepTop = e.keepTop
	}
	s.run()
	e.incumbents = s.incumbents

	status := StatusOptimal
	if s.truncated {
		status = StatusFeasible
	}

	sol := solutionFromIndices(problem, s.bestSelection())
	sol.Status = status
	sol.SolveTime = time.Since(start)
	if e.logger != nil {
		e.logger.Printf("allocation %s: %d sequences selected, %d/%d routes, score=%.2f",
			sol.Status, len(sol.Selected), sol.RoutesAllocated, sol.RoutesTotal, sol.TotalScore)
	}
	return sol
}

// solveTopK returns up to k best distinct selections; used by the unified
// decomposition to price allocation candidates against charging cost.
func (e *allocationEngine) solveTopK(problem AllocationProblem, k int) []AllocationSolution {
	e.keepTop = k
	best := e.Solve(problem)

	out := []AllocationSolution{best}
	if len(e.incumbents) < 2 {
		return out
	}
	for _, inc := range e.incumbents[1:] {
		sol := solutionFromIndices(problem, inc.selected)
		sol.Status = best.Status
		out = append(out, sol)
	}
	return out
}

type allocationSearch struct {
	problem   AllocationProblem
	order     []int // candidate indices, best-first
	deadline  time.Time
	truncated bool
	keepTop   int

	routeIdx   map[string]int
	seqRoutes  [][]int // per candidate, covered route indices
	usedVeh    map[int]bool
	coveredCnt []int // per route, cover count in current partial

	current    []int
	currentObj float64
	incumbents []incumbent
	checked    int
}

func newAllocationSearch(problem AllocationProblem, deadline time.Time) *allocationSearch {
	s := &allocationSearch{
		problem:  problem,
		deadline: deadline,
		keepTop:  1,
		routeIdx: make(map[string]int, len(problem.RouteIDs)),
		usedVeh:  make(map[int]bool),
	}
	for i, id := range problem.RouteIDs {
		s.routeIdx[id] = i
	}
	s.coveredCnt = make([]int, len(problem.RouteIDs))

	s.seqRoutes = make([][]int, len(problem.Sequences))
	for i, seq := range problem.Sequences {
		for _, r := range seq.Routes {
			if idx, ok := s.routeIdx[r.RouteID]; ok {
				s.seqRoutes[i] = append(s.seqRoutes[i], idx)
			}
		}
	}

	// Best-first ordering: candidates covering more routes (then scoring
	// higher) are tried first so the incumbent tightens early.
	w := problem.routeWeight()
	s.order = make([]int, len(problem.Sequences))
	for i := range s.order {
		s.order[i] = i
	}
	sort.SliceStable(s.order, func(a, b int) bool {
		ia, ib := s.order[a], s.order[b]
		va := w*float64(len(s.seqRoutes[ia])) + problem.Sequences[ia].Cost
		vb := w*float64(len(s.seqRoutes[ib])) + problem.Sequences[ib].Cost
		return va > vb
	})
	return s
}

func (s *allocationSearch) run() {
	s.dfs(0)
}

func (s *allocationSearch) dfs(pos int) {
	s.checked++
	if s.checked%4096 == 0 && !s.deadline.IsZero() && time.Now().After(s.deadline) {
		s.truncated = true
		return
	}

	if pos == len(s.order) {
		s.record()
		return
	}
	if s.truncated {
		return
	}

	// Optimistic bound: every still-uncoverable route covered plus every
	// remaining positive score taken.
	if s.bound(pos) <= s.worstKept() && len(s.incumbents) >= s.keepTop {
		return
	}

	idx := s.order[pos]
	seq := s.problem.Sequences[idx]

	if s.compatible(idx, seq.VehicleID) {
		s.apply(idx, seq)
		s.dfs(pos + 1)
		s.unapply(idx, seq)
	}

	s.dfs(pos + 1)
}

func (s *allocationSearch) compatible(idx int, vehicleID int) bool {
	if s.usedVeh[vehicleID] {
		return false
	}
	for _, r := range s.seqRoutes[idx] {
		if s.coveredCnt[r] > 0 {
			return false
		}
	}
	return true
}

func (s *allocationSearch) apply(idx int, seq models.VehicleRouteSequence) {
	s.usedVeh[seq.VehicleID] = true
	for _, r := range s.seqRoutes[idx] {
		s.coveredCnt[r]++
	}
	s.current = append(s.current, idx)
	s.currentObj += s.problem.routeWeight()*float64(len(s.seqRoutes[idx])) + seq.Cost
}

func (s *allocationSearch) unapply(idx int, seq models.VehicleRouteSequence) {
	delete(s.usedVeh, seq.VehicleID)
	for _, r := range s.seqRoutes[idx] {
		s.coveredCnt[r]--
	}
	s.current = s.current[:len(s.current)-1]
	s.currentObj -= s.problem.routeWeight()*float64(len(s.seqRoutes[idx])) + seq.Cost
}

func (s *allocationSearch) bound(pos int) float64 {
	uncovered := 0
	for _, c := range s.coveredCnt {
		if c == 0 {
			uncovered++
		}
	}
	optimistic := s.currentObj + s.problem.routeWeight()*float64(uncovered)
	for _, i := range s.order[pos:] {
		if cost := s.problem.Sequences[i].Cost; cost > 0 {
			optimistic += cost
		}
	}
	return optimistic
}

func (s *allocationSearch) worstKept() float64 {
	if len(s.incumbents) == 0 {
		return -1e18
	}
	return s.incumbents[len(s.incumbents)-1].objective
}

func (s *allocationSearch) record() {
	sel := make([]int, len(s.current))
	copy(sel, s.current)

	inc := incumbent{selected: sel, objective: s.currentObj}
	s.incumbents = append(s.incumbents, inc)
	sort.SliceStable(s.incumbents, func(a, b int) bool {
		return s.incumbents[a].objective > s.incumbents[b].objective
	})
	if len(s.incumbents) > s.keepTop {
		s.incumbents = s.incumbents[:s.keepTop]
	}
}

func (s *allocationSearch) bestSelection() []int {
	if len(s.incumbents) == 0 {
		return nil
	}
	return s.incumbents[0].selected
}

func solutionFromIndices(problem AllocationProblem, indices []int) AllocationSolution {
	sol := AllocationSolution{RoutesTotal: len(problem.RouteIDs)}
	covered := make(map[string]bool)
	for _, i := range indices {
		seq := problem.Sequences[i]
		sol.Selected = append(sol.Selected, seq)
		sol.TotalScore += seq.Cost
		for _, r := range seq.Routes {
			covered[r.RouteID] = true
		}
	}
	for _, id := range problem.RouteIDs {
		if covered[id] {
			sol.RoutesAllocated++
		}
	}
	sol.ObjectiveValue = problem.routeWeight()*float64(sol.RoutesAllocated) + sol.TotalScore
	return sol
}

// allocationGreedy is the engine-unavailable fallback: candidates sorted by
// score descending, selected when the vehicle is unused and every route in
// the candidate is still uncovered.
type allocationGreedy struct {
	logger *log.Logger
}

func (g *allocationGreedy) Solve(problem AllocationProblem) AllocationSolution {
	start := time.Now()

	order := make([]int, len(problem.Sequences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return problem.Sequences[order[a]].Cost > problem.Sequences[order[b]].Cost
	})

	usedVehicles := make(map[int]bool)
	coveredRoutes := make(map[string]bool)
	var selected []int

	for _, i := range order {
		seq := problem.Sequences[i]
		if usedVehicles[seq.VehicleID] {
			continue
		}
		conflict := false
		for _, r := range seq.Routes {
			if coveredRoutes[r.RouteID] {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}

		selected = append(selected, i)
		usedVehicles[seq.VehicleID] = true
		for _, r := range seq.Routes {
			coveredRoutes[r.RouteID] = true
		}
		if len(coveredRoutes) == len(problem.RouteIDs) {
			break
		}
	}

	sol := solutionFromIndices(problem, selected)
	sol.Status = StatusGreedy
	sol.SolveTime = time.Since(start)
	if g.logger != nil {
		g.logger.Printf("allocation greedy: %d sequences selected, %d/%d routes, score=%.2f",
			len(sol.Selected), sol.RoutesAllocated, sol.RoutesTotal, sol.TotalScore)
	}
	return sol
}
