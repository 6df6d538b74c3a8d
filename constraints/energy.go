package constraints

import (
	"time"

	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

const defaultFleetEfficiency = 0.35

// energyFeasibility simulates the vehicle's state of charge across the
// sequence: charging fills the gaps before the first route and between
// consecutive routes at the effective charger rate; each route drains its
// planned energy. The candidate fails when the simulated level ever dips
// below the safety margin at a departure.
type energyFeasibility struct {
	base
}

func newEnergyFeasibility(cfg maf.ConstraintConfig) *energyFeasibility {
	return &energyFeasibility{base: newBase(cfg)}
}

func (c *energyFeasibility) Hard() bool { return true }

func (c *energyFeasibility) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result {
	if len(sequence) == 0 {
		return Result{}
	}

	safetyMargin := c.floatParam("safety_margin_kwh", 5.0)

	rate := vehicle.ChargePowerACKW
	if ctx != nil {
		charger := ctx.ChargerFor(vehicle.VehicleID)
		if max, ok := ctx.ChargerMaxPowerKW[charger]; ok {
			rate = vehicle.ChargePower(max)
		}
	}

	energy := vehicle.AvailableEnergy(refTime(vehicle, ctx))

	// Charge between availability and the first departure.
	first := sequence[0]
	availFrom := vehicle.AvailableTime
	if availFrom.IsZero() && ctx != nil {
		availFrom = ctx.ReferenceTime
	}
	if availFrom.Before(first.PlanStart) {
		gap := first.PlanStart.Sub(availFrom).Hours()
		energy = min(energy+gap*rate, vehicle.BatteryCapacityKWh)
	}

	for i, route := range sequence {
		if energy-c.routeEnergy(vehicle, route) < safetyMargin {
			return Result{Cost: c.penalty, Violated: true}
		}
		energy -= c.routeEnergy(vehicle, route)

		if i+1 < len(sequence) {
			gap := sequence[i+1].PlanStart.Sub(route.PlanEnd).Hours()
			if gap > 0 {
				energy = min(energy+gap*rate, vehicle.BatteryCapacityKWh)
			}
		}
	}

	return Result{}
}

func (c *energyFeasibility) routeEnergy(vehicle *models.Vehicle, route *models.Route) float64 {
	if route.EnergyKWh > 0 {
		return route.EnergyKWh
	}
	eff := vehicle.EfficiencyKWhMile
	if eff <= 0 {
		eff = defaultFleetEfficiency
	}
	return route.PlanMileage * eff
}

func refTime(vehicle *models.Vehicle, ctx *Context) time.Time {
	if ctx != nil {
		return ctx.ReferenceTime
	}
	return vehicle.AvailableTime
}
