package optimizer

import (
	"log"
	"sort"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// PricePoint is the electricity tariff for one slot.
type PricePoint struct {
	Price   float64
	IsTriad bool
}

// DefaultSlotPrice applies when a slot has no tariff row.
const DefaultSlotPrice = 0.15

// TriadFallbackPremium is the effective-price markup the greedy fallback
// adds to TRIAD slots.
const TriadFallbackPremium = 100.0

// DefaultShortfallPenalty is the per-kWh objective penalty for unmet
// demand when the caller does not configure one.
const DefaultShortfallPenalty = 0.2

// SchedulingProblem is the charge-scheduling input over the 30-minute grid.
type SchedulingProblem struct {
	ScheduleID   int64
	Vehicles     []*models.Vehicle
	States       map[int]*models.VehicleChargeState
	Requirements map[int][]models.RouteEnergyRequirement
	Availability map[int]*models.VehicleAvailability
	TimeSlots    []time.Time
	Forecast     map[time.Time]float64
	Prices       map[time.Time]PricePoint
	Settings     models.SchedulerSettings
	// SoftTargets relaxes the end-of-window target SOC into a penalized
	// shortfall instead of charging at any price (unified mode behavior).
	SoftTargets bool
	// ShortfallPenalty is the per-kWh objective penalty for unmet demand;
	// zero means DefaultShortfallPenalty.
	ShortfallPenalty float64
	TimeLimit        time.Duration
}

// SchedulingSolution is the solved fleet charging plan.
type SchedulingSolution struct {
	VehicleSchedules []models.VehicleChargeSchedule
	TotalCost        float64 // pure price * energy
	TotalEnergyKWh   float64
	ObjectiveValue   float64 // includes synthetic, TRIAD and shortfall terms
	Status           string
	SolveTime        time.Duration
}

// SchedulingSolver produces per-vehicle, per-slot charge power.
type SchedulingSolver interface {
	Solve(problem SchedulingProblem) SchedulingSolution
}

// NewSchedulingSolver returns the engine when the capability flag is up,
// the greedy fallback otherwise.
func NewSchedulingSolver(logger *log.Logger) SchedulingSolver {
	if EngineActive() {
		return &schedulingEngine{logger: logger}
	}
	if logger != nil {
		logger.Printf("solver engine inactive, using greedy scheduling fallback")
	}
	return &schedulingGreedy{logger: logger}
}

// demand is one block of energy a vehicle must hold before a deadline slot.
// Slots with index < deadline may serve it. route marks checkpoint demands;
// their shortfall fails route validation, target shortfall does not.
type demand struct {
	vehicleIdx int
	energyKWh  float64
	deadline   int // exclusive slot bound; N for end-of-window
	hard       bool
	route      bool
}

// schedulingEngine solves the slot assignment exactly for the common case:
// demands are served earliest-deadline-first, each from its cheapest
// eligible slots, under per-slot residual site capacity, availability masks
// and per-vehicle rate bounds. Capacity contention between vehicles
// downgrades the status to feasible.
type schedulingEngine struct {
	logger *log.Logger
}

func (e *schedulingEngine) Solve(problem SchedulingProblem) SchedulingSolution {
	start := time.Now()
	n := len(problem.TimeSlots)

	power := make([][]float64, len(problem.Vehicles))
	for i := range power {
		power[i] = make([]float64, n)
	}

	capRemaining := make([]float64, n)
	siteCap := problem.Settings.SiteCapacityKW()
	for t, slot := range problem.TimeSlots {
		capRemaining[t] = max(0, siteCap-problem.Forecast[slot])
	}

	effCost := make([]float64, n)
	for t, slot := range problem.TimeSlots {
		effCost[t] = e.effectiveCost(problem, slot, t, n)
	}

	demands, routeShortfalls := buildDemands(problem, n)
	sort.SliceStable(demands, func(a, b int) bool { return demands[a].deadline < demands[b].deadline })
	targetShortfalls := make([]float64, len(problem.Vehicles))

	contended := false
	lambda := problem.ShortfallPenalty
	if lambda <= 0 {
		lambda = DefaultShortfallPenalty
	}

	for _, d := range demands {
		state := problem.States[problem.Vehicles[d.vehicleIdx].VehicleID]
		rate := state.ACChargeRateKW
		avail := problem.Availability[state.VehicleID]

		// Cheapest eligible slots first.
		slots := make([]int, 0, d.deadline)
		for t := 0; t < d.deadline && t < n; t++ {
			if avail != nil && !avail.AvailableAt(t) {
				continue
			}
			slots = append(slots, t)
		}
		sort.SliceStable(slots, func(a, b int) bool { return effCost[slots[a]] < effCost[slots[b]] })

		remaining := d.energyKWh
		for _, t := range slots {
			if remaining <= 1e-9 {
				break
			}
			if !d.hard && problem.SoftTargets && effCost[t] >= lambda {
				// Cheaper to carry the shortfall than to charge here.
				break
			}
			headroom := min(rate-power[d.vehicleIdx][t], capRemaining[t])
			if headroom <= 1e-9 {
				if rate-power[d.vehicleIdx][t] > 1e-9 {
					contended = true
				}
				continue
			}
			add := min(headroom, remaining/models.SlotHours)
			power[d.vehicleIdx][t] += add
			capRemaining[t] -= add
			remaining -= add * models.SlotHours
		}

		if remaining > 1e-6 {
			if d.route {
				routeShortfalls[d.vehicleIdx] += remaining
			} else {
				targetShortfalls[d.vehicleIdx] += remaining
			}
		}
	}

	sol := extractSolution(problem, power, effCost, routeShortfalls, targetShortfalls, lambda)
	sol.Status = StatusOptimal
	if contended {
		sol.Status = StatusFeasible
	}
	sol.SolveTime = time.Since(start)

	if e.logger != nil {
		e.logger.Printf("scheduling %s: %d vehicles, energy=%.1f kWh, cost=%.2f",
			sol.Status, len(sol.VehicleSchedules), sol.TotalEnergyKWh, sol.TotalCost)
	}
	return sol
}

func (e *schedulingEngine) effectiveCost(problem SchedulingProblem, slot time.Time, t, n int) float64 {
	pp, ok := problem.Prices[slot]
	if !ok {
		pp = PricePoint{Price: DefaultSlotPrice}
	}
	cost := pp.Price + problem.Settings.SyntheticTimePriceFactor*float64(n-t)/float64(n)
	if pp.IsTriad {
		cost += problem.Settings.TriadPenaltyFactor
	}
	return cost
}

// buildDemands decomposes each vehicle's requirements into deadline-bound
// energy blocks: checkpoint increments first, then the end-of-window target
// SOC. Checkpoint shortfall already impossible before the first slot is
// recorded immediately in the returned route-shortfall slice.
func buildDemands(problem SchedulingProblem, n int) ([]demand, []float64) {
	var demands []demand
	routeShortfalls := make([]float64, len(problem.Vehicles))

	for vIdx, vehicle := range problem.Vehicles {
		state := problem.States[vehicle.VehicleID]
		if state == nil || state.Excluded() {
			continue
		}

		reqs := problem.Requirements[vehicle.VehicleID]
		minTarget := (problem.Settings.MinSOCPercent / 100.0) * state.BatteryCapacityKWh
		targetSOC := (problem.Settings.TargetSOCPercent / 100.0) * state.BatteryCapacityKWh
		if minTarget > targetSOC {
			targetSOC = minTarget
		}

		capLeft := max(0, state.BatteryCapacityKWh-state.CurrentSOCKWh)
		assigned := 0.0

		prevRequired := 0.0
		for _, req := range reqs {
			deadline := findSlotIndex(req.PlanStart, problem.TimeSlots)
			if deadline <= 0 {
				// Departure before or at the first slot: nothing can be
				// charged in time.
				missing := max(0, req.CumulativeEnergyKWh-state.CurrentSOCKWh)
				if missing > prevRequired {
					routeShortfalls[vIdx] += missing - prevRequired
					prevRequired = missing
				}
				continue
			}

			required := max(0, req.CumulativeEnergyKWh-state.CurrentSOCKWh)
			if minTarget-state.CurrentSOCKWh > required {
				required = minTarget - state.CurrentSOCKWh
			}
			required = min(required, capLeft)
			if required > prevRequired {
				demands = append(demands, demand{
					vehicleIdx: vIdx,
					energyKWh:  required - prevRequired,
					deadline:   deadline,
					hard:       true,
					route:      true,
				})
				assigned += required - prevRequired
				prevRequired = required
			}
		}

		// End-of-window target for whatever the checkpoints did not already
		// cover. Hard only for route-less vehicles in standalone mode.
		targetNeed := min(max(0, targetSOC-state.CurrentSOCKWh), capLeft)
		if targetNeed > assigned {
			demands = append(demands, demand{
				vehicleIdx: vIdx,
				energyKWh:  targetNeed - assigned,
				deadline:   n,
				hard:       len(reqs) == 0 && !problem.SoftTargets,
			})
		}
	}
	return demands, routeShortfalls
}

func findSlotIndex(target time.Time, slots []time.Time) int {
	for i, s := range slots {
		if !s.Before(target) {
			return i
		}
	}
	return len(slots)
}

func extractSolution(problem SchedulingProblem, power [][]float64, effCost []float64, routeShortfalls, targetShortfalls []float64, lambda float64) SchedulingSolution {
	var sol SchedulingSolution
	n := len(problem.TimeSlots)

	for vIdx, vehicle := range problem.Vehicles {
		state := problem.States[vehicle.VehicleID]
		if state == nil || state.Excluded() {
			continue
		}
		reqs := problem.Requirements[vehicle.VehicleID]

		targetSOC := (problem.Settings.TargetSOCPercent / 100.0) * state.BatteryCapacityKWh
		energyNeeded := max(0, targetSOC-state.CurrentSOCKWh)
		if len(reqs) > 0 {
			routeNeed := reqs[len(reqs)-1].CumulativeEnergyKWh
			energyNeeded = max(0, max(routeNeed, targetSOC)-state.CurrentSOCKWh)
		}

		vs := models.VehicleChargeSchedule{
			VehicleID:              vehicle.VehicleID,
			ScheduleID:             problem.ScheduleID,
			InitialSOCKWh:          state.CurrentSOCKWh,
			TargetSOCKWh:           targetSOC,
			TotalEnergyNeededKWh:   energyNeeded,
			RouteCheckpoints:       reqs,
			HasRoutes:              len(reqs) > 0,
			AssignedChargerID:      state.ChargerID,
			ChargerType:            state.ChargerType,
			MeetsRouteRequirements: true,
		}

		cumulative := 0.0
		for t := 0; t < n; t++ {
			p := power[vIdx][t]
			if p <= 0.01 {
				continue
			}
			slot := problem.TimeSlots[t]
			pp, ok := problem.Prices[slot]
			if !ok {
				pp = PricePoint{Price: DefaultSlotPrice}
			}
			energy := p * models.SlotHours
			cumulative += energy

			vs.ChargeSlots = append(vs.ChargeSlots, models.ChargeSlot{
				TimeSlot:            slot,
				ChargePowerKW:       p,
				CumulativeEnergyKWh: cumulative,
				ElectricityPrice:    pp.Price,
				IsTriadPeriod:       pp.IsTriad,
			})

			sol.TotalCost += energy * pp.Price
			sol.ObjectiveValue += energy * effCost[t]
			sol.TotalEnergyKWh += energy
		}
		vs.TotalEnergyScheduled = cumulative

		// Only an unmet route checkpoint fails validation; a missed target
		// SOC is reported and penalized but keeps the schedule valid.
		if routeShortfalls[vIdx] > 1e-6 {
			vs.MeetsRouteRequirements = false
		}
		if shortfall := routeShortfalls[vIdx] + targetShortfalls[vIdx]; shortfall > 1e-6 {
			vs.EnergyShortfallKWh = shortfall
			sol.ObjectiveValue += lambda * shortfall
		}

		sol.VehicleSchedules = append(sol.VehicleSchedules, vs)
	}
	return sol
}

// schedulingGreedy is the engine-unavailable fallback: each vehicle fills
// its cheapest available slots at full rate until its energy need is met.
// Site capacity is not enforced, matching the fallback's historical
// behavior; validation reports any resulting breach.
type schedulingGreedy struct {
	logger *log.Logger
}

func (g *schedulingGreedy) Solve(problem SchedulingProblem) SchedulingSolution {
	start := time.Now()
	var sol SchedulingSolution

	for _, vehicle := range problem.Vehicles {
		state := problem.States[vehicle.VehicleID]
		if state == nil || state.Excluded() {
			continue
		}
		reqs := problem.Requirements[vehicle.VehicleID]
		avail := problem.Availability[vehicle.VehicleID]

		targetSOC := (problem.Settings.TargetSOCPercent / 100.0) * state.BatteryCapacityKWh
		targetEnergy := targetSOC
		routeNeed := 0.0
		if len(reqs) > 0 {
			routeNeed = max(0, reqs[len(reqs)-1].CumulativeEnergyKWh-state.CurrentSOCKWh)
			targetEnergy = max(reqs[len(reqs)-1].CumulativeEnergyKWh, targetSOC)
		}
		energyNeeded := max(0, targetEnergy-state.CurrentSOCKWh)

		vs := models.VehicleChargeSchedule{
			VehicleID:              vehicle.VehicleID,
			ScheduleID:             problem.ScheduleID,
			InitialSOCKWh:          state.CurrentSOCKWh,
			TargetSOCKWh:           targetEnergy,
			TotalEnergyNeededKWh:   energyNeeded,
			RouteCheckpoints:       reqs,
			HasRoutes:              len(reqs) > 0,
			AssignedChargerID:      state.ChargerID,
			ChargerType:            state.ChargerType,
			MeetsRouteRequirements: true,
		}

		if energyNeeded <= 0 {
			sol.VehicleSchedules = append(sol.VehicleSchedules, vs)
			continue
		}

		type slotPrice struct {
			idx       int
			slot      time.Time
			price     float64
			isTriad   bool
			effective float64
		}
		var candidates []slotPrice
		for t, slot := range problem.TimeSlots {
			if avail != nil && !avail.AvailableAt(t) {
				continue
			}
			pp, ok := problem.Prices[slot]
			if !ok {
				pp = PricePoint{Price: DefaultSlotPrice}
			}
			eff := pp.Price
			if pp.IsTriad {
				eff += TriadFallbackPremium
			}
			candidates = append(candidates, slotPrice{t, slot, pp.Price, pp.IsTriad, eff})
		}
		sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].effective < candidates[b].effective })

		cumulative := 0.0
		rate := state.ACChargeRateKW
		var slots []models.ChargeSlot
		for _, c := range candidates {
			if cumulative >= energyNeeded {
				break
			}
			energy := min(rate*models.SlotHours, energyNeeded-cumulative)
			cumulative += energy

			slots = append(slots, models.ChargeSlot{
				TimeSlot:            c.slot,
				ChargePowerKW:       energy / models.SlotHours,
				CumulativeEnergyKWh: cumulative,
				ElectricityPrice:    c.price,
				IsTriadPeriod:       c.isTriad,
			})
			sol.TotalCost += energy * c.price
			sol.TotalEnergyKWh += energy
		}

		sort.SliceStable(slots, func(a, b int) bool { return slots[a].TimeSlot.Before(slots[b].TimeSlot) })
		cum := 0.0
		for i := range slots {
			cum += slots[i].EnergyKWh()
			slots[i].CumulativeEnergyKWh = cum
		}

		vs.ChargeSlots = slots
		vs.TotalEnergyScheduled = cumulative
		if cumulative < energyNeeded-1e-6 {
			vs.EnergyShortfallKWh = energyNeeded - cumulative
			if cumulative < routeNeed-1e-6 {
				vs.MeetsRouteRequirements = false
			}
		}
		sol.VehicleSchedules = append(sol.VehicleSchedules, vs)
	}

	sol.ObjectiveValue = sol.TotalCost
	sol.Status = StatusGreedy
	sol.SolveTime = time.Since(start)
	if g.logger != nil {
		g.logger.Printf("scheduling greedy: %d vehicles, energy=%.1f kWh, cost=%.2f",
			len(sol.VehicleSchedules), sol.TotalEnergyKWh, sol.TotalCost)
	}
	return sol
}
