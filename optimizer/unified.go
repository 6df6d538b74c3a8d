package optimizer

import (
	"fmt"
	"log"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// Mode selects which stages a unified run solves.
type Mode string

const (
	ModeAllocationOnly Mode = "allocation_only"
	ModeSchedulingOnly Mode = "scheduling_only"
	ModeIntegrated     Mode = "integrated"
)

// ParseMode normalizes the accepted mode spellings.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "allocation_only", "allocation":
		return ModeAllocationOnly, nil
	case "scheduling_only", "scheduling":
		return ModeSchedulingOnly, nil
	case "integrated", "both", "":
		return ModeIntegrated, nil
	}
	return "", fmt.Errorf("unknown optimization mode %q", s)
}

// UnifiedConfig carries the combined-objective weights and stage time
// limits.
type UnifiedConfig struct {
	AllocationWeight    float64 // alpha
	SchedulingWeight    float64 // beta
	ShortfallPenalty    float64 // lambda
	RouteCountWeight    float64
	CandidateCount      int // allocations priced per integrated run
	AllocationTimeLimit time.Duration
	SchedulingTimeLimit time.Duration
	UnifiedTimeLimit    time.Duration
}

// DefaultUnifiedConfig mirrors the production weighting.
func DefaultUnifiedConfig() UnifiedConfig {
	return UnifiedConfig{
		AllocationWeight:    1.0,
		SchedulingWeight:    1.0,
		ShortfallPenalty:    0.2,
		RouteCountWeight:    DefaultRouteCountWeight,
		CandidateCount:      5,
		AllocationTimeLimit: 30 * time.Second,
		SchedulingTimeLimit: 300 * time.Second,
		UnifiedTimeLimit:    330 * time.Second,
	}
}

// UnifiedProblem is the fused allocation + scheduling input. ScheduleInputs
// maps a candidate allocation to the per-vehicle checkpoints and
// availability masks the charge stage needs; the caller owns safety
// factors, buffers and back-to-back handling.
type UnifiedProblem struct {
	Mode       Mode
	Config     UnifiedConfig
	Allocation AllocationProblem
	Scheduling SchedulingProblem

	// FixedAllocation pins the vehicle-route bindings (scheduling-only).
	FixedAllocation []models.VehicleRouteSequence

	ScheduleInputs func(selected []models.VehicleRouteSequence) (map[int][]models.RouteEnergyRequirement, map[int]*models.VehicleAvailability)
}

// UnifiedResult is the combined outcome.
type UnifiedResult struct {
	Mode              Mode
	Allocation        *AllocationSolution
	Scheduling        *SchedulingSolution
	CombinedObjective float64
	Status            string
	SolveTime         time.Duration
}

// DetermineMode infers the effective mode from the available data: no
// candidate sequences degrades to scheduling-only, no scheduling grid to
// allocation-only. Neither is an error.
func DetermineMode(requested Mode, problem *UnifiedProblem) (Mode, error) {
	hasAlloc := len(problem.Allocation.Sequences) > 0
	hasSched := len(problem.Scheduling.TimeSlots) > 0

	if len(problem.FixedAllocation) > 0 {
		requested = ModeSchedulingOnly
	}

	switch requested {
	case ModeAllocationOnly:
		if !hasAlloc {
			return "", fmt.Errorf("allocation requested but no feasible sequences exist")
		}
		return ModeAllocationOnly, nil
	case ModeSchedulingOnly:
		if !hasSched {
			return "", fmt.Errorf("scheduling requested but the planning grid is empty")
		}
		return ModeSchedulingOnly, nil
	}

	switch {
	case hasAlloc && hasSched:
		return ModeIntegrated, nil
	case hasAlloc:
		return ModeAllocationOnly, nil
	case hasSched:
		return ModeSchedulingOnly, nil
	}
	return "", fmt.Errorf("neither allocation candidates nor a scheduling grid are available")
}

// UnifiedSolver fuses both stages under one combined objective.
type UnifiedSolver interface {
	Solve(problem UnifiedProblem) (UnifiedResult, error)
}

// NewUnifiedSolver returns the engine when the capability flag is up, the
// greedy fallback otherwise.
func NewUnifiedSolver(logger *log.Logger) UnifiedSolver {
	if EngineActive() {
		return &unifiedEngine{logger: logger}
	}
	if logger != nil {
		logger.Printf("solver engine inactive, using greedy unified fallback")
	}
	return &unifiedGreedy{logger: logger}
}

// unifiedEngine decomposes the fused problem: the allocation engine yields
// its top candidate selections, each is priced by the scheduling engine
// with soft targets, and the selection with the best combined objective
// alpha*allocation - beta*scheduling wins.
type unifiedEngine struct {
	logger *log.Logger
}

func (u *unifiedEngine) Solve(problem UnifiedProblem) (UnifiedResult, error) {
	start := time.Now()
	cfg := problem.Config
	if cfg.AllocationWeight == 0 && cfg.SchedulingWeight == 0 {
		cfg = DefaultUnifiedConfig()
	}

	mode, err := DetermineMode(problem.Mode, &problem)
	if err != nil {
		return UnifiedResult{}, err
	}

	res := UnifiedResult{Mode: mode}

	switch mode {
	case ModeAllocationOnly:
		p := problem.Allocation
		p.TimeLimit = cfg.AllocationTimeLimit
		sol := (&allocationEngine{logger: u.logger}).Solve(p)
		res.Allocation = &sol
		res.CombinedObjective = cfg.AllocationWeight * sol.ObjectiveValue
		res.Status = sol.Status

	case ModeSchedulingOnly:
		sp := problem.Scheduling
		sp.TimeLimit = cfg.SchedulingTimeLimit
		sp.ShortfallPenalty = cfg.ShortfallPenalty
		if len(problem.FixedAllocation) > 0 && problem.ScheduleInputs != nil {
			sp.Requirements, sp.Availability = problem.ScheduleInputs(problem.FixedAllocation)
		}
		sol := (&schedulingEngine{logger: u.logger}).Solve(sp)
		res.Scheduling = &sol
		res.CombinedObjective = -cfg.SchedulingWeight * sol.ObjectiveValue
		res.Status = sol.Status

	case ModeIntegrated:
		if problem.ScheduleInputs == nil {
			return UnifiedResult{}, fmt.Errorf("integrated mode requires schedule input mapping")
		}

		ap := problem.Allocation
		ap.TimeLimit = cfg.AllocationTimeLimit
		eng := &allocationEngine{logger: u.logger}
		k := cfg.CandidateCount
		if k < 1 {
			k = 1
		}
		candidates := eng.solveTopK(ap, k)

		deadline := start.Add(cfg.UnifiedTimeLimit)
		bestObj := 0.0
		truncated := false
		for i := range candidates {
			alloc := candidates[i]
			sp := problem.Scheduling
			sp.SoftTargets = true
			sp.TimeLimit = cfg.SchedulingTimeLimit
			sp.ShortfallPenalty = cfg.ShortfallPenalty
			sp.Requirements, sp.Availability = problem.ScheduleInputs(alloc.Selected)
			sched := (&schedulingEngine{logger: u.logger}).Solve(sp)

			combined := cfg.AllocationWeight*alloc.ObjectiveValue - cfg.SchedulingWeight*sched.ObjectiveValue
			if res.Allocation == nil || combined > bestObj {
				a, s := alloc, sched
				res.Allocation, res.Scheduling = &a, &s
				bestObj = combined
			}
			if cfg.UnifiedTimeLimit > 0 && time.Now().After(deadline) {
				truncated = i < len(candidates)-1
				break
			}
		}
		res.CombinedObjective = bestObj
		res.Status = StatusOptimal
		if truncated || res.Allocation.Status != StatusOptimal || res.Scheduling.Status != StatusOptimal {
			res.Status = StatusFeasible
		}
	}

	res.SolveTime = time.Since(start)
	if u.logger != nil {
		u.logger.Printf("unified %s solved as %s, combined objective %.2f in %s",
			mode, res.Status, res.CombinedObjective, res.SolveTime.Round(time.Millisecond))
	}
	return res, nil
}

// unifiedGreedy chains the two greedy fallbacks: best-scoring allocation
// first, then cheapest-slot charging for the selected bindings. Combined
// objective is allocation score minus charging cost.
type unifiedGreedy struct {
	logger *log.Logger
}

func (u *unifiedGreedy) Solve(problem UnifiedProblem) (UnifiedResult, error) {
	start := time.Now()

	mode, err := DetermineMode(problem.Mode, &problem)
	if err != nil {
		return UnifiedResult{}, err
	}

	res := UnifiedResult{Mode: mode, Status: StatusGreedy}

	if mode == ModeAllocationOnly || mode == ModeIntegrated {
		sol := (&allocationGreedy{logger: u.logger}).Solve(problem.Allocation)
		res.Allocation = &sol
		res.CombinedObjective += sol.TotalScore
	}

	if mode == ModeSchedulingOnly || mode == ModeIntegrated {
		sp := problem.Scheduling
		selected := problem.FixedAllocation
		if res.Allocation != nil {
			selected = res.Allocation.Selected
		}
		if len(selected) > 0 && problem.ScheduleInputs != nil {
			sp.Requirements, sp.Availability = problem.ScheduleInputs(selected)
		}
		sol := (&schedulingGreedy{logger: u.logger}).Solve(sp)
		res.Scheduling = &sol
		res.CombinedObjective -= sol.TotalCost
	}

	res.SolveTime = time.Since(start)
	if u.logger != nil {
		u.logger.Printf("unified %s greedy fallback, combined objective %.2f",
			mode, res.CombinedObjective)
	}
	return res, nil
}
