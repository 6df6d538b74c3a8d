package controller

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/optimizer"
)

// SchedulerController runs one charge-scheduling pass for a site: planning
// window sizing against data horizons, energy checkpoints, availability
// masks, the slot solver and persistence of the dense power profile.
type SchedulerController struct {
	SiteID     int
	ScheduleID int64
	AppName    string
	Persist    bool
	RunID      uuid.UUID

	Settings    models.SchedulerSettings
	RouteSource models.RouteSourceMode
	TimeLimit   time.Duration

	store  Datastore
	logger *log.Logger

	fleetEfficiency float64
}

// NewSchedulerController wires a scheduling run. A zero scheduleID creates a
// new scheduler row; a non-zero one resumes that schedule's site binding.
func NewSchedulerController(ds Datastore, siteID int, scheduleID int64, appName string, persist bool, logger *log.Logger) *SchedulerController {
	return &SchedulerController{
		SiteID:      siteID,
		ScheduleID:  scheduleID,
		AppName:     appName,
		Persist:     persist,
		RunID:       uuid.New(),
		Settings:    DefaultSchedulerSettings(),
		RouteSource: models.AllocatedRoutes,
		TimeLimit:   300 * time.Second,
		store:       ds,
		logger:      logger,
	}
}

// DefaultSchedulerSettings returns the production scheduling knobs.
func DefaultSchedulerSettings() models.SchedulerSettings {
	return models.SchedulerSettings{
		PlanningWindowHours:      DefaultPlanningWindowHours,
		RouteEnergySafetyFactor:  DefaultRouteEnergySafety,
		MinDepartureBufferMin:    DefaultDepartureBufferMinutes,
		BackToBackThresholdMin:   DefaultBackToBackThresholdMin,
		TargetSOCPercent:         DefaultTargetSOCPercent,
		MinSOCPercent:            DefaultMinSOCPercent,
		TriadPenaltyFactor:       DefaultTriadPenaltyFactor,
		SyntheticTimePriceFactor: DefaultSyntheticPriceFactor,
		PowerFactor:              DefaultPowerFactor,
		SiteUsageFactor:          DefaultSiteUsageFactor,
	}
}

// Run executes the scheduling workflow. The run time is floored to the slot
// grid first; failed runs mark the scheduler row failed before returning.
func (c *SchedulerController) Run(ctx context.Context, at time.Time) (*models.ScheduleResult, error) {
	at = models.FloorToSlot(at.UTC())

	result, err := c.run(ctx, at)
	if err != nil {
		c.logger.Printf("[SCHED %s] scheduling failed: %v", c.RunID, err)
		if c.ScheduleID > 0 && c.Persist {
			if stErr := c.store.UpdateSchedulerStatus(ctx, c.ScheduleID, models.SchedulerStatusFailed); stErr != nil {
				c.logger.Printf("[SCHED %s] failed to mark schedule failed: %v", c.RunID, stErr)
			}
		}
		return nil, err
	}
	return result, nil
}

func (c *SchedulerController) run(ctx context.Context, at time.Time) (*models.ScheduleResult, error) {
	if err := c.resolveSchedule(ctx); err != nil {
		return nil, err
	}

	if err := c.loadSiteCapacity(ctx); err != nil {
		return nil, err
	}
	if err := c.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler settings: %w", err)
	}

	planningStart, planningEnd, actualHours, err := c.planningWindow(ctx, at)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("[SCHED %s] planning window %s to %s (%.1f hours)",
		c.RunID, planningStart.Format(time.RFC3339), planningEnd.Format(time.RFC3339), actualHours)

	c.loadFleetEfficiency(ctx)

	vehicles, err := c.store.ActiveVehicles(ctx, c.SiteID)
	if err != nil {
		return nil, err
	}
	if err := c.store.LoadVehicleStates(ctx, vehicles, at); err != nil {
		return nil, err
	}

	states, err := c.buildChargeStates(ctx, vehicles, at)
	if err != nil {
		return nil, err
	}

	vehicleRoutes, err := c.loadVehicleRoutes(ctx, vehicles, planningStart, planningEnd)
	if err != nil {
		return nil, err
	}

	requirements := c.energyRequirements(vehicleRoutes, states)
	timeSlots := models.BuildTimeSlots(planningStart, planningEnd)
	availability := c.availabilityMatrices(vehicles, states, vehicleRoutes, timeSlots)

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

	totalRoutes := 0
	for _, routes := range vehicleRoutes {
		totalRoutes += len(routes)
	}
	c.logger.Printf("[SCHED %s] %d vehicles, %d routes, %d slots, %d forecast points, %d price points",
		c.RunID, len(vehicles), totalRoutes, len(timeSlots), len(forecast), len(prices))

	solver := optimizer.NewSchedulingSolver(c.logger)
	solution := solver.Solve(optimizer.SchedulingProblem{
		ScheduleID:   c.ScheduleID,
		Vehicles:     vehicles,
		States:       states,
		Requirements: requirements,
		Availability: availability,
		TimeSlots:    timeSlots,
		Forecast:     forecast,
		Prices:       prices,
		Settings:     c.Settings,
		TimeLimit:    c.TimeLimit,
	})

	checkpoints := 0
	for _, reqs := range requirements {
		checkpoints += len(reqs)
	}
	result := &models.ScheduleResult{
		ScheduleID:         c.ScheduleID,
		SiteID:             c.SiteID,
		PlanningStart:      planningStart,
		PlanningEnd:        planningEnd,
		ActualWindowHours:  actualHours,
		VehiclesScheduled:  len(solution.VehicleSchedules),
		RoutesConsidered:   totalRoutes,
		CheckpointsCreated: checkpoints,
		TotalEnergyKWh:     solution.TotalEnergyKWh,
		TotalCost:          solution.TotalCost,
		ObjectiveValue:     solution.ObjectiveValue,
		SolveTime:          solution.SolveTime,
		OptimizationStatus: solution.Status,
		VehicleSchedules:   solution.VehicleSchedules,
		ValidationPassed:   true,
	}

	c.validateSchedule(result, requirements)

	if c.Persist {
		if err := c.store.ReplaceChargeSchedule(ctx, c.ScheduleID, timeSlots, result.VehicleSchedules); err != nil {
			return nil, err
		}
		if err := c.store.UpdateSchedulerStatus(ctx, c.ScheduleID, models.SchedulerStatusCompleted); err != nil {
			return nil, err
		}
	}

	c.logger.Printf("[SCHED %s] completed: energy=%.1f kWh, cost=%.2f, status=%s, validation=%t",
		c.RunID, result.TotalEnergyKWh, result.TotalCost, result.OptimizationStatus, result.ValidationPassed)
	return result, nil
}

// resolveSchedule binds the run to a scheduler row: resuming an existing id
// resolves its site, otherwise a new row opens (unless persistence is off,
// where a synthetic id is used).
func (c *SchedulerController) resolveSchedule(ctx context.Context) error {
	if c.ScheduleID > 0 {
		siteID, status, err := c.store.SchedulerSite(ctx, c.ScheduleID)
		if err != nil {
			return err
		}
		c.SiteID = siteID
		c.logger.Printf("[SCHED %s] resuming schedule %d for site %d (status %s)",
			c.RunID, c.ScheduleID, siteID, status)
		return nil
	}

	if c.SiteID == 0 {
		return fmt.Errorf("site id required for a new schedule")
	}
	if !c.Persist {
		c.ScheduleID = -1
		return nil
	}

	scheduleID, err := c.store.CreateScheduler(ctx, c.SiteID)
	if err != nil {
		return err
	}
	c.ScheduleID = scheduleID
	return nil
}

func (c *SchedulerController) loadSiteCapacity(ctx context.Context) error {
	// An explicit capacity override skips the site record.
	if c.Settings.ASCKVA > 0 {
		return nil
	}
	asc, ok, err := c.store.SiteASC(ctx, c.SiteID)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Printf("[SCHED %s] no agreed site capacity for site %d, site ceiling is 0 kW",
			c.RunID, c.SiteID)
	}
	c.Settings.ASCKVA = asc
	return nil
}

// planningWindow caps the target window by the forecast and price horizons.
// A window under the absolute minimum, or under half the configured hours,
// aborts the run.
func (c *SchedulerController) planningWindow(ctx context.Context, at time.Time) (time.Time, time.Time, float64, error) {
	targetEnd := at.Add(time.Duration(c.Settings.PlanningWindowHours * float64(time.Hour)))
	end := targetEnd

	forecastMax, ok, err := c.store.ForecastHorizon(ctx, c.SiteID)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	if ok && forecastMax.Before(end) {
		end = forecastMax
	}

	priceMax, ok, err := c.store.PriceHorizon(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	if ok && priceMax.Before(end) {
		end = priceMax
	}

	end = models.FloorToSlot(end)
	actualHours := end.Sub(at).Hours()

	if actualHours < MinimumPlanningWindowHours {
		return time.Time{}, time.Time{}, 0, fmt.Errorf(
			"planning window too short: %.1fh < %.1fh minimum", actualHours, MinimumPlanningWindowHours)
	}
	// Data covering less than half the configured window is not worth
	// scheduling against either.
	if actualHours < c.Settings.PlanningWindowHours/2 {
		return time.Time{}, time.Time{}, 0, fmt.Errorf(
			"planning window too short: %.1fh < half the configured %.1fh", actualHours, c.Settings.PlanningWindowHours)
	}
	if actualHours < c.Settings.PlanningWindowHours {
		c.logger.Printf("[SCHED %s] planning window reduced by data availability: configured=%.1fh actual=%.1fh",
			c.RunID, c.Settings.PlanningWindowHours, actualHours)
	}
	return at, end, actualHours, nil
}

func (c *SchedulerController) loadFleetEfficiency(ctx context.Context) {
	avg, count, err := c.store.FleetEfficiency(ctx, c.SiteID)
	if err != nil || avg <= 0 {
		c.fleetEfficiency = DefaultFleetEfficiency
		c.logger.Printf("[SCHED %s] no fleet efficiency data, using default %.2f kWh/mile",
			c.RunID, DefaultFleetEfficiency)
		return
	}
	c.fleetEfficiency = avg
	c.logger.Printf("[SCHED %s] fleet average efficiency %.3f kWh/mile over %d vehicles",
		c.RunID, avg, count)
}

// buildChargeStates projects each vehicle's telemetry into the scheduling
// view: SOC in kWh, charge rates and the resolved charger connection.
func (c *SchedulerController) buildChargeStates(ctx context.Context, vehicles []*models.Vehicle, at time.Time) (map[int]*models.VehicleChargeState, error) {
	chargerMap, err := c.store.VehicleChargers(ctx, vehicles, at)
	if err != nil {
		return nil, err
	}
	chargers, err := c.store.SiteChargers(ctx, c.SiteID)
	if err != nil {
		return nil, err
	}

	states := make(map[int]*models.VehicleChargeState, len(vehicles))
	for _, v := range vehicles {
		socPercent := v.EstimatedSOC
		if socPercent == 0 {
			socPercent = DefaultSOCPercent
		}
		battery := v.BatteryCapacityKWh
		if battery <= 0 {
			battery = DefaultBatteryCapacity
		}
		acRate := v.ChargePowerACKW
		if acRate <= 0 {
			acRate = DefaultACChargeRateKW
		}
		dcRate := v.ChargePowerDCKW
		if dcRate <= 0 {
			dcRate = DefaultDCChargeRateKW
		}

		state := &models.VehicleChargeState{
			VehicleID:          v.VehicleID,
			CurrentSOCPercent:  socPercent,
			BatteryCapacityKWh: battery,
			ACChargeRateKW:     acRate,
			DCChargeRateKW:     dcRate,
		}
		if !state.Excluded() {
			state.CurrentSOCKWh = (socPercent / 100.0) * battery
		} else {
			c.logger.Printf("[SCHED %s] vehicle %d excluded by telemetry sentinel", c.RunID, v.VehicleID)
		}

		chargerID := chargerMap[v.VehicleID]
		state.ChargerID = chargerID
		state.IsConnected = chargerID != "" && chargerID != "DISC"
		state.ChargerType = "AC"
		if ch, ok := chargers[chargerID]; ok && ch.DCFlag {
			state.ChargerType = "DC"
		}

		states[v.VehicleID] = state
	}
	return states, nil
}

// loadVehicleRoutes groups the window's routes by their bound vehicle.
func (c *SchedulerController) loadVehicleRoutes(ctx context.Context, vehicles []*models.Vehicle, start, end time.Time) (map[int][]*models.Route, error) {
	routes, err := c.store.RoutesWithVehicles(ctx, c.SiteID, start, end, c.RouteSource)
	if err != nil {
		return nil, err
	}

	known := make(map[int]bool, len(vehicles))
	for _, v := range vehicles {
		known[v.VehicleID] = true
	}

	byVehicle := make(map[int][]*models.Route)
	for _, r := range routes {
		if r.VehicleID == 0 || !known[r.VehicleID] {
			continue
		}
		byVehicle[r.VehicleID] = append(byVehicle[r.VehicleID], r)
	}
	return byVehicle, nil
}

// energyRequirements converts each vehicle's route list into cumulative
// pre-departure energy checkpoints with the safety factor applied and
// back-to-back gaps flagged.
func (c *SchedulerController) energyRequirements(vehicleRoutes map[int][]*models.Route, states map[int]*models.VehicleChargeState) map[int][]models.RouteEnergyRequirement {
	out := make(map[int][]models.RouteEnergyRequirement)

	for vehicleID, routes := range vehicleRoutes {
		if len(routes) == 0 {
			continue
		}
		state := states[vehicleID]
		if state == nil {
			c.logger.Printf("[SCHED %s] no state for vehicle %d, skipping energy checkpoints",
				c.RunID, vehicleID)
			continue
		}

		efficiency := c.fleetEfficiency
		sorted := make([]*models.Route, len(routes))
		copy(sorted, routes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].PlanStart.Before(sorted[j].PlanStart) })

		cumulative := 0.0
		var reqs []models.RouteEnergyRequirement
		for i, route := range sorted {
			routeEnergy := route.PlanMileage * efficiency * c.Settings.RouteEnergySafetyFactor
			cumulative += routeEnergy

			req := models.RouteEnergyRequirement{
				RouteID:             route.RouteID,
				VehicleID:           vehicleID,
				PlanStart:           route.PlanStart,
				PlanEnd:             route.PlanEnd,
				PlanMileage:         route.PlanMileage,
				RouteStatus:         route.RouteStatus,
				EfficiencyKWhMile:   efficiency,
				RouteEnergyKWh:      routeEnergy,
				CumulativeEnergyKWh: cumulative,
				SequenceIndex:       i,
			}
			if i < len(sorted)-1 {
				gap := sorted[i+1].PlanStart.Sub(route.PlanEnd).Minutes()
				req.GapToNextMinutes = gap
				if gap < float64(c.Settings.BackToBackThresholdMin) {
					req.IsBackToBack = true
					c.logger.Printf("[SCHED %s] vehicle %d back-to-back routes %s to %s, gap %.0f min",
						c.RunID, vehicleID, route.RouteID, sorted[i+1].RouteID, gap)
				}
			}
			reqs = append(reqs, req)
		}
		out[vehicleID] = reqs
	}
	return out
}

// availabilityMatrices builds the per-slot charge eligibility of each
// vehicle: VOR vehicles are fully blocked, on-route vehicles until their
// return ETA, and every planned route blocks its duration plus the
// departure buffer before it.
func (c *SchedulerController) availabilityMatrices(vehicles []*models.Vehicle, states map[int]*models.VehicleChargeState, vehicleRoutes map[int][]*models.Route, timeSlots []time.Time) map[int]*models.VehicleAvailability {
	buffer := time.Duration(c.Settings.MinDepartureBufferMin) * time.Minute

	out := make(map[int]*models.VehicleAvailability, len(vehicles))
	for _, v := range vehicles {
		available := make([]bool, len(timeSlots))
		for i := range available {
			available[i] = true
		}

		if v.VOR || v.CurrentStatus == models.StatusVOR {
			for i := range available {
				available[i] = false
			}
		} else {
			if v.CurrentStatus == models.StatusOnRoute && v.ReturnETA != nil {
				for i, slot := range timeSlots {
					if slot.Before(*v.ReturnETA) {
						available[i] = false
					}
				}
			}
			for _, route := range vehicleRoutes[v.VehicleID] {
				blockStart := route.PlanStart.Add(-buffer)
				for i, slot := range timeSlots {
					if !slot.Before(blockStart) && slot.Before(route.PlanEnd) {
						available[i] = false
					}
				}
			}
		}

		out[v.VehicleID] = &models.VehicleAvailability{
			VehicleID: v.VehicleID,
			TimeSlots: timeSlots,
			Available: available,
		}
	}
	return out
}

// validateSchedule checks every checkpoint against the solved cumulative
// energy and records shortfalls as validation errors.
func (c *SchedulerController) validateSchedule(result *models.ScheduleResult, requirements map[int][]models.RouteEnergyRequirement) {
	for i := range result.VehicleSchedules {
		vs := &result.VehicleSchedules[i]
		reqs := requirements[vs.VehicleID]
		if len(reqs) == 0 {
			continue
		}

		for _, req := range reqs {
			energyAtDeparture := vs.InitialSOCKWh
			for _, slot := range vs.ChargeSlots {
				if !slot.TimeSlot.Before(req.PlanStart) {
					break
				}
				energyAtDeparture = vs.InitialSOCKWh + slot.CumulativeEnergyKWh
			}

			if energyAtDeparture < req.CumulativeEnergyKWh-1e-6 {
				shortfall := req.CumulativeEnergyKWh - energyAtDeparture
				vs.MeetsRouteRequirements = false
				if shortfall > vs.EnergyShortfallKWh {
					vs.EnergyShortfallKWh = shortfall
				}
				result.ValidationPassed = false
				result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf(
					"vehicle %d, route %s: energy shortfall of %.2f kWh at departure",
					vs.VehicleID, req.RouteID, shortfall))
			}
		}
	}
}
