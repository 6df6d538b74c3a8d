package controller

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/fleet-optimizer/constraints"
	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/optimizer"
)

// UnifiedRunResult is the combined outcome of a unified optimization run.
type UnifiedRunResult struct {
	Mode              optimizer.Mode
	Status            string
	CombinedObjective float64
	SolveTime         time.Duration
	Allocation        *models.AllocationResult
	Schedule          *models.ScheduleResult
}

// UnifiedController fuses route allocation and charge scheduling under one
// combined objective, with either stage optionally pinned or skipped.
type UnifiedController struct {
	SiteID     int
	ScheduleID int64
	Trigger    string
	AppName    string
	Persist    bool
	RunID      uuid.UUID

	Mode        optimizer.Mode
	Config      optimizer.UnifiedConfig
	Settings    models.SchedulerSettings
	RouteSource models.RouteSourceMode

	// WindowHours overrides the MAF allocation window when positive.
	WindowHours float64

	store  Datastore
	logger *log.Logger

	overlapCount      int
	actualWindowHours float64
	planningStart     time.Time
	planningEnd       time.Time
}

// NewUnifiedController wires a unified run with production defaults.
func NewUnifiedController(ds Datastore, siteID int, appName string, persist bool, logger *log.Logger) *UnifiedController {
	return &UnifiedController{
		SiteID:      siteID,
		Trigger:     "initial",
		AppName:     appName,
		Persist:     persist,
		RunID:       uuid.New(),
		Mode:        optimizer.ModeIntegrated,
		Config:      optimizer.DefaultUnifiedConfig(),
		Settings:    DefaultSchedulerSettings(),
		RouteSource: models.AllocatedRoutes,
		store:       ds,
		logger:      logger,
	}
}

// Run executes the unified workflow: shared data loading, mode resolution,
// the fused solve, then conversion and persistence of whichever stages ran.
func (c *UnifiedController) Run(ctx context.Context, at time.Time) (*UnifiedRunResult, error) {
	at = models.FloorToSlot(at.UTC())
	start := time.Now()

	c.logger.Printf("[UNIFIED %s] starting %s optimization for site %d",
		c.RunID, c.Mode, c.SiteID)

	alloc := &AllocationController{
		SiteID:  c.SiteID,
		Trigger: c.Trigger,
		AppName: c.AppName,
		Persist: c.Persist,
		RunID:   c.RunID,
		store:   c.store,
		logger:  c.logger,
	}
	sched := &SchedulerController{
		SiteID:      c.SiteID,
		ScheduleID:  c.ScheduleID,
		AppName:     c.AppName,
		Persist:     c.Persist,
		RunID:       c.RunID,
		Settings:    c.Settings,
		RouteSource: c.RouteSource,
		TimeLimit:   c.Config.SchedulingTimeLimit,
		store:       c.store,
		logger:      c.logger,
	}

	result, err := c.run(ctx, at, alloc, sched)
	if err != nil {
		c.logger.Printf("[UNIFIED %s] optimization failed: %v", c.RunID, err)
		c.finalizeFailure(ctx)
		return nil, err
	}

	result.SolveTime = time.Since(start)
	c.logger.Printf("[UNIFIED %s] completed as %s (%s), combined objective %.2f in %s",
		c.RunID, result.Mode, result.Status, result.CombinedObjective,
		result.SolveTime.Round(time.Millisecond))
	return result, nil
}

func (c *UnifiedController) run(ctx context.Context, at time.Time, alloc *AllocationController, sched *SchedulerController) (*UnifiedRunResult, error) {
	siteConfig := alloc.loadSiteConfig(ctx)

	windowHours := c.WindowHours
	if windowHours <= 0 {
		windowHours = siteConfig.FloatParam("allocation_window_hours", DefaultAllocationWindowHours)
	}
	windowStart := at
	windowEnd := at.Add(time.Duration(windowHours * float64(time.Hour)))

	if err := sched.loadSiteCapacity(ctx); err != nil {
		return nil, err
	}
	c.Settings.ASCKVA = sched.Settings.ASCKVA
	if err := c.Settings.Validate(); err != nil {
		return nil, err
	}
	sched.Settings = c.Settings

	vehicles, err := alloc.loadVehicles(ctx, siteConfig, at)
	if err != nil {
		return nil, err
	}

	problem := optimizer.UnifiedProblem{
		Mode:   c.Mode,
		Config: c.Config,
	}

	// Allocation inputs: candidate enumeration over the window's open routes.
	var routes []*models.Route
	if c.Mode != optimizer.ModeSchedulingOnly {
		routes, err = c.store.RoutesInWindow(ctx, c.SiteID, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}

		if len(routes) > 0 {
			manager := constraints.NewManager(siteConfig.AllConstraintConfigs(c.logger), c.logger)
			chargerMap, err := c.store.VehicleChargers(ctx, vehicles, at)
			if err != nil {
				return nil, err
			}
			chargerPower, err := alloc.chargerPowerMap(ctx)
			if err != nil {
				return nil, err
			}

			builder := &optimizer.SequenceBuilder{
				Vehicles:            vehicles,
				Routes:              routes,
				Manager:             manager,
				MaxRoutesPerVehicle: siteConfig.IntParam("max_routes_per_vehicle_in_window", DefaultMaxRoutesPerVehicle),
				Context: &constraints.Context{
					ReferenceTime:     at,
					AllRoutes:         routes,
					AllVehicles:       vehicles,
					VehicleChargerMap: chargerMap,
					ChargerMaxPowerKW: chargerPower,
				},
				Logger: c.logger,
			}
			sequences, stats := builder.Build()
			problem.Allocation = optimizer.AllocationProblem{
				Sequences:        sequences,
				RouteIDs:         routeIDs(routes),
				RouteCountWeight: c.Config.RouteCountWeight,
			}
			c.overlapCount = stats.OverlappingRoutes
		}
	}

	// Scheduling inputs: the slot grid with market data and charge states.
	var timeSlots []time.Time
	var states map[int]*models.VehicleChargeState
	if c.Mode != optimizer.ModeAllocationOnly {
		planningStart, planningEnd, actualHours, err := sched.planningWindow(ctx, at)
		if err != nil {
			return nil, err
		}
		c.actualWindowHours = actualHours
		sched.loadFleetEfficiency(ctx)

		if err := c.store.LoadVehicleStates(ctx, vehicles, at); err != nil {
			return nil, err
		}
		states, err = sched.buildChargeStates(ctx, vehicles, at)
		if err != nil {
			return nil, err
		}

		timeSlots = models.BuildTimeSlots(planningStart, planningEnd)
		forecast, err := c.store.ForecastRange(ctx, c.SiteID, planningStart, planningEnd)
		if err != nil {
			return nil, err
		}
		tariffs, err := c.store.PriceRange(ctx, planningStart, planningEnd)
		if err != nil {
			return nil, err
		}
		prices := make(map[time.Time]optimizer.PricePoint, len(tariffs))
		for ts, t := range tariffs {
			prices[ts] = optimizer.PricePoint{Price: t.Price, IsTriad: t.Triad}
		}

		// Resolve the schedule id before solving so the emitted vehicle
		// schedules carry the persisted id rather than a placeholder.
		if c.ScheduleID == 0 {
			if c.Persist {
				scheduleID, err := c.store.CreateScheduler(ctx, c.SiteID)
				if err != nil {
					return nil, err
				}
				c.ScheduleID = scheduleID
			} else {
				c.ScheduleID = -1
			}
			sched.ScheduleID = c.ScheduleID
		}

		problem.Scheduling = optimizer.SchedulingProblem{
			ScheduleID: c.ScheduleID,
			Vehicles:   vehicles,
			States:     states,
			TimeSlots:  timeSlots,
			Forecast:   forecast,
			Prices:     prices,
			Settings:   c.Settings,
		}
		c.planningStart, c.planningEnd = planningStart, planningEnd

		// Pinned bindings for scheduling-only: the persisted allocation.
		if c.Mode == optimizer.ModeSchedulingOnly {
			vehicleRoutes, err := sched.loadVehicleRoutes(ctx, vehicles, planningStart, planningEnd)
			if err != nil {
				return nil, err
			}
			problem.FixedAllocation = sequencesFromRoutes(vehicleRoutes)
		}

		problem.ScheduleInputs = func(selected []models.VehicleRouteSequence) (map[int][]models.RouteEnergyRequirement, map[int]*models.VehicleAvailability) {
			byVehicle := make(map[int][]*models.Route, len(selected))
			for _, seq := range selected {
				byVehicle[seq.VehicleID] = append(byVehicle[seq.VehicleID], seq.Routes...)
			}
			reqs := sched.energyRequirements(byVehicle, states)
			avail := sched.availabilityMatrices(vehicles, states, byVehicle, timeSlots)
			return reqs, avail
		}
	}

	solverResult, err := optimizer.NewUnifiedSolver(c.logger).Solve(problem)
	if err != nil {
		return nil, err
	}

	result := &UnifiedRunResult{
		Mode:              solverResult.Mode,
		Status:            solverResult.Status,
		CombinedObjective: solverResult.CombinedObjective,
	}

	if solverResult.Allocation != nil {
		if err := c.finishAllocation(ctx, alloc, at, windowStart, windowEnd, vehicles, routes, *solverResult.Allocation, result); err != nil {
			return nil, err
		}
	}
	if solverResult.Scheduling != nil {
		if err := c.finishScheduling(ctx, sched, timeSlots, problem, solverResult, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// finishAllocation converts the solver selection into an allocation result,
// applies the acceptance gate and persists through the monitor tables.
func (c *UnifiedController) finishAllocation(ctx context.Context, alloc *AllocationController, at, windowStart, windowEnd time.Time, vehicles []*models.Vehicle, routes []*models.Route, solution optimizer.AllocationSolution, result *UnifiedRunResult) error {
	allocation := &models.AllocationResult{
		AllocationID:           -1,
		SiteID:                 c.SiteID,
		WindowStart:            windowStart,
		WindowEnd:              windowEnd,
		RoutesInWindow:         len(routes),
		RoutesOverlappingCount: c.overlapCount,
	}

	if c.Persist {
		allocationID, err := c.store.CreateAllocationMonitor(ctx, c.SiteID, c.Trigger, at, windowStart, windowEnd)
		if err != nil {
			return err
		}
		allocation.AllocationID = allocationID
	}

	alloc.buildAllocations(allocation, vehicles, routes, solution)

	if allocation.IsAcceptable() {
		allocation.Status = models.AllocationStatusAccepted
		if c.Persist {
			if err := c.store.ReplaceAllocations(ctx, allocation); err != nil {
				return err
			}
		}
	} else {
		allocation.Status = models.AllocationStatusFailed
		c.logger.Printf("[UNIFIED %s] allocation rejected: score %.2f below minimum %.2f",
			c.RunID, allocation.TotalScore, models.MinAcceptableScore)
	}

	if c.Persist {
		if err := c.store.UpdateAllocationMonitor(ctx, allocation); err != nil {
			return err
		}
	}
	result.Allocation = allocation
	return nil
}

// finishScheduling converts the solved charging plan into a schedule result,
// validates checkpoints and persists the dense power profile.
func (c *UnifiedController) finishScheduling(ctx context.Context, sched *SchedulerController, timeSlots []time.Time, problem optimizer.UnifiedProblem, solverResult optimizer.UnifiedResult, result *UnifiedRunResult) error {
	solution := solverResult.Scheduling
	schedule := &models.ScheduleResult{
		ScheduleID:         c.ScheduleID,
		SiteID:             c.SiteID,
		PlanningStart:      c.planningStart,
		PlanningEnd:        c.planningEnd,
		ActualWindowHours:  c.actualWindowHours,
		VehiclesScheduled:  len(solution.VehicleSchedules),
		TotalEnergyKWh:     solution.TotalEnergyKWh,
		TotalCost:          solution.TotalCost,
		ObjectiveValue:     solution.ObjectiveValue,
		SolveTime:          solution.SolveTime,
		OptimizationStatus: solution.Status,
		VehicleSchedules:   solution.VehicleSchedules,
		ValidationPassed:   true,
	}

	// Re-derive the requirements of the winning selection for validation.
	var selected []models.VehicleRouteSequence
	if result.Allocation != nil && solverResult.Allocation != nil {
		selected = solverResult.Allocation.Selected
	} else {
		selected = problem.FixedAllocation
	}
	if problem.ScheduleInputs != nil {
		requirements, _ := problem.ScheduleInputs(selected)
		checkpoints := 0
		for _, reqs := range requirements {
			checkpoints += len(reqs)
			schedule.RoutesConsidered += len(reqs)
		}
		schedule.CheckpointsCreated = checkpoints
		sched.validateSchedule(schedule, requirements)
	}

	if c.Persist {
		if err := c.store.ReplaceChargeSchedule(ctx, c.ScheduleID, timeSlots, schedule.VehicleSchedules); err != nil {
			return err
		}
		if err := c.store.UpdateSchedulerStatus(ctx, c.ScheduleID, models.SchedulerStatusCompleted); err != nil {
			return err
		}
	}
	result.Schedule = schedule
	return nil
}

// finalizeFailure marks whatever rows this run opened as failed.
func (c *UnifiedController) finalizeFailure(ctx context.Context) {
	if !c.Persist {
		return
	}
	if c.ScheduleID > 0 {
		if err := c.store.UpdateSchedulerStatus(ctx, c.ScheduleID, models.SchedulerStatusFailed); err != nil {
			c.logger.Printf("[UNIFIED %s] failed to mark schedule failed: %v", c.RunID, err)
		}
	}
}

// sequencesFromRoutes lifts a vehicle-route binding map into the sequence
// form the solver consumes.
func sequencesFromRoutes(vehicleRoutes map[int][]*models.Route) []models.VehicleRouteSequence {
	var out []models.VehicleRouteSequence
	for vehicleID, routes := range vehicleRoutes {
		if len(routes) == 0 {
			continue
		}
		sorted := make([]*models.Route, len(routes))
		copy(sorted, routes)
		models.SortRoutesByStart(sorted)
		out = append(out, models.VehicleRouteSequence{VehicleID: vehicleID, Routes: sorted})
	}
	return out
}
