package controller

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/fleet-optimizer/constraints"
	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/optimizer"
)

// AllocationController runs one route-to-vehicle allocation for a site.
type AllocationController struct {
	SiteID  int
	Trigger string
	AppName string
	Persist bool
	RunID   uuid.UUID

	store  Datastore
	logger *log.Logger
}

// NewAllocationController wires an allocation run.
func NewAllocationController(ds Datastore, siteID int, trigger, appName string, persist bool, logger *log.Logger) *AllocationController {
	if trigger == "" {
		trigger = "initial"
	}
	return &AllocationController{
		SiteID:  siteID,
		Trigger: trigger,
		AppName: appName,
		Persist: persist,
		RunID:   uuid.New(),
		store:   ds,
		logger:  logger,
	}
}

// Run executes the full allocation workflow: monitor row, MAF configuration,
// window data, constraint pipeline, solve, acceptance gate, persistence.
// Failed runs still finalize their monitor row before the error returns.
func (c *AllocationController) Run(ctx context.Context, at time.Time) (*models.AllocationResult, error) {
	c.logger.Printf("[ALLOC %s] starting allocation for site %d, trigger=%s",
		c.RunID, c.SiteID, c.Trigger)

	result, err := c.run(ctx, at)
	if err != nil {
		c.logger.Printf("[ALLOC %s] allocation failed: %v", c.RunID, err)
		if result != nil && result.AllocationID > 0 && c.Persist {
			result.Status = models.AllocationStatusFailed
			if updateErr := c.store.UpdateAllocationMonitor(ctx, result); updateErr != nil {
				c.logger.Printf("[ALLOC %s] failed to finalize monitor: %v", c.RunID, updateErr)
			}
		}
		return nil, err
	}
	return result, nil
}

func (c *AllocationController) run(ctx context.Context, at time.Time) (*models.AllocationResult, error) {
	siteConfig := c.loadSiteConfig(ctx)

	windowHours := siteConfig.FloatParam("allocation_window_hours", DefaultAllocationWindowHours)
	windowStart := at
	windowEnd := at.Add(time.Duration(windowHours * float64(time.Hour)))

	result := &models.AllocationResult{
		AllocationID: -1,
		SiteID:       c.SiteID,
		Status:       models.AllocationStatusNew,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
	}

	if c.Persist {
		allocationID, err := c.store.CreateAllocationMonitor(ctx, c.SiteID, c.Trigger, at, windowStart, windowEnd)
		if err != nil {
			return result, err
		}
		result.AllocationID = allocationID
		c.logger.Printf("[ALLOC %s] created allocation monitor %d", c.RunID, allocationID)
	}

	vehicles, err := c.loadVehicles(ctx, siteConfig, at)
	if err != nil {
		return result, err
	}
	routes, err := c.store.RoutesInWindow(ctx, c.SiteID, windowStart, windowEnd)
	if err != nil {
		return result, err
	}
	c.logger.Printf("[ALLOC %s] window %s to %s: %d vehicles, %d routes",
		c.RunID, windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339),
		len(vehicles), len(routes))

	result.RoutesInWindow = len(routes)
	if len(routes) == 0 {
		c.logger.Printf("[ALLOC %s] no routes to allocate", c.RunID)
		result.Status = models.AllocationStatusAccepted
		if c.Persist {
			if err := c.store.UpdateAllocationMonitor(ctx, result); err != nil {
				return result, err
			}
		}
		return result, nil
	}

	manager := constraints.NewManager(siteConfig.AllConstraintConfigs(c.logger), c.logger)
	c.logger.Printf("[ALLOC %s] %s", c.RunID, manager)

	chargerMap, err := c.store.VehicleChargers(ctx, vehicles, at)
	if err != nil {
		return result, err
	}
	chargerPower, err := c.chargerPowerMap(ctx)
	if err != nil {
		return result, err
	}

	maxRoutes := siteConfig.IntParam("max_routes_per_vehicle_in_window", DefaultMaxRoutesPerVehicle)
	builder := &optimizer.SequenceBuilder{
		Vehicles:            vehicles,
		Routes:              routes,
		Manager:             manager,
		MaxRoutesPerVehicle: maxRoutes,
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
	result.RoutesOverlappingCount = stats.OverlappingRoutes

	solver := optimizer.NewAllocationSolver(c.logger)
	solution := solver.Solve(optimizer.AllocationProblem{
		Sequences: sequences,
		RouteIDs:  routeIDs(routes),
		TimeLimit: 30 * time.Second,
	})

	c.buildAllocations(result, vehicles, routes, solution)

	if result.IsAcceptable() {
		result.Status = models.AllocationStatusAccepted
		if c.Persist {
			if err := c.store.ReplaceAllocations(ctx, result); err != nil {
				return result, err
			}
		}
		c.logger.Printf("[ALLOC %s] accepted: %d/%d routes, score=%.2f (%s)",
			c.RunID, result.RoutesAllocated, result.RoutesInWindow,
			result.TotalScore, result.SolverStatus)
	} else {
		result.Status = models.AllocationStatusFailed
		c.logger.Printf("[ALLOC %s] rejected: score %.2f below minimum %.2f",
			c.RunID, result.TotalScore, models.MinAcceptableScore)
	}

	if c.Persist {
		if err := c.store.UpdateAllocationMonitor(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// loadSiteConfig fetches the MAF parameters for the site. Any failure falls
// back to an empty config so the run proceeds on defaults.
func (c *AllocationController) loadSiteConfig(ctx context.Context) *maf.SiteConfig {
	empty := &maf.SiteConfig{SiteID: c.SiteID, Parameters: map[string]any{}}

	payload, err := c.store.ModuleParams(ctx, c.AppName)
	if err != nil {
		c.logger.Printf("[ALLOC %s] failed to load MAF configuration: %v", c.RunID, err)
		return empty
	}
	if len(payload) == 0 {
		c.logger.Printf("[ALLOC %s] no MAF configuration found, using defaults", c.RunID)
		return empty
	}

	cfg, err := maf.ParseResponse(payload, c.SiteID)
	if err != nil {
		c.logger.Printf("[ALLOC %s] failed to parse MAF configuration: %v", c.RunID, err)
		return empty
	}
	return cfg
}

// loadVehicles loads the active fleet with telemetry applied, filtered to
// the MAF-enabled subset when one is configured.
func (c *AllocationController) loadVehicles(ctx context.Context, siteConfig *maf.SiteConfig, at time.Time) ([]*models.Vehicle, error) {
	vehicles, err := c.store.ActiveVehicles(ctx, c.SiteID)
	if err != nil {
		return nil, err
	}
	if err := c.store.LoadVehicleStates(ctx, vehicles, at); err != nil {
		return nil, err
	}

	if siteConfig == nil || len(siteConfig.EnabledVehicles) == 0 {
		return vehicles, nil
	}

	enabled := make(map[int]bool, len(siteConfig.EnabledVehicles))
	for _, id := range siteConfig.EnabledVehicles {
		enabled[id] = true
	}
	filtered := vehicles[:0]
	for _, v := range vehicles {
		if enabled[v.VehicleID] {
			filtered = append(filtered, v)
		}
	}
	c.logger.Printf("[ALLOC %s] MAF vehicle filter: %d of %d vehicles enabled",
		c.RunID, len(filtered), len(vehicles))
	return filtered, nil
}

func (c *AllocationController) chargerPowerMap(ctx context.Context) (map[string]float64, error) {
	chargers, err := c.store.SiteChargers(ctx, c.SiteID)
	if err != nil {
		return nil, err
	}
	power := make(map[string]float64, len(chargers))
	for id, ch := range chargers {
		power[id] = ch.MaxPowerKW
	}
	return power, nil
}

// buildAllocations converts the solver selection into per-route allocation
// rows with arrival estimates derived from each vehicle's energy position.
func (c *AllocationController) buildAllocations(result *models.AllocationResult, vehicles []*models.Vehicle, routes []*models.Route, solution optimizer.AllocationSolution) {
	byID := make(map[int]*models.Vehicle, len(vehicles))
	for _, v := range vehicles {
		byID[v.VehicleID] = v
	}

	allocated := make(map[string]bool)
	for _, seq := range solution.Selected {
		vehicle := byID[seq.VehicleID]
		cumulative := 0.0
		for i, route := range seq.Routes {
			arrivalSOC := 80.0
			if vehicle != nil && vehicle.BatteryCapacityKWh > 0 {
				efficiency := vehicle.EfficiencyKWhMile
				if efficiency <= 0 {
					efficiency = DefaultFleetEfficiency
				}
				cumulative += route.PlanMileage * efficiency
				remaining := vehicle.AvailableEnergy(route.PlanStart) - cumulative
				arrivalSOC = remaining / vehicle.BatteryCapacityKWh * 100
				if arrivalSOC < 0 {
					arrivalSOC = 0
				}
			}

			result.Allocations = append(result.Allocations, models.RouteAllocation{
				RouteID:             route.RouteID,
				VehicleID:           seq.VehicleID,
				SequencePosition:    i,
				Cost:                seq.Cost / float64(len(seq.Routes)),
				EstimatedArrival:    route.PlanEnd,
				EstimatedArrivalSOC: arrivalSOC,
				Allocated:           true,
			})
			allocated[route.RouteID] = true
		}
	}

	for _, route := range routes {
		if !allocated[route.RouteID] {
			result.UnallocatedRoutes = append(result.UnallocatedRoutes, route.RouteID)
		}
	}

	result.TotalScore = solution.TotalScore
	result.RoutesAllocated = solution.RoutesAllocated
	result.SolveTime = solution.SolveTime
	result.SolverStatus = solution.Status
}

func routeIDs(routes []*models.Route) []string {
	ids := make([]string, len(routes))
	for i, r := range routes {
		ids[i] = r.RouteID
	}
	return ids
}
