package models

import (
	"fmt"
	"time"
)

// SlotDuration is the scheduling grid resolution.
const SlotDuration = 30 * time.Minute

// SlotHours is the slot length in hours; one kW held for a slot delivers
// SlotHours kWh.
const SlotHours = 0.5

// Scheduler run statuses.
const (
	SchedulerStatusRunning   = "running"
	SchedulerStatusCompleted = "completed"
	SchedulerStatusFailed    = "failed"
)

// RouteSourceMode selects where the scheduler takes vehicle-route bindings
// from.
type RouteSourceMode string

const (
	// RoutePlanOnly trusts the vehicle_id column on the route plan.
	RoutePlanOnly RouteSourceMode = "route_plan"
	// AllocatedRoutes joins the route plan with the allocation table.
	AllocatedRoutes RouteSourceMode = "allocated"
)

// SchedulerSettings are the per-run knobs of the charge scheduler.
type SchedulerSettings struct {
	PlanningWindowHours      float64
	RouteEnergySafetyFactor  float64
	MinDepartureBufferMin    int
	BackToBackThresholdMin   int
	TargetSOCPercent         float64
	MinSOCPercent            float64
	TriadPenaltyFactor       float64
	SyntheticTimePriceFactor float64
	ASCKVA                   float64
	PowerFactor              float64
	SiteUsageFactor          float64
}

// SiteCapacityKW derates the agreed kVA capacity to the usable kW import
// ceiling.
func (s *SchedulerSettings) SiteCapacityKW() float64 {
	return s.ASCKVA * s.PowerFactor * s.SiteUsageFactor
}

// Validate checks every settings range.
func (s *SchedulerSettings) Validate() error {
	if s.PlanningWindowHours < 4 || s.PlanningWindowHours > 24 {
		return fmt.Errorf("planning_window_hours must be between 4 and 24, got %.1f", s.PlanningWindowHours)
	}
	if s.RouteEnergySafetyFactor < 1 || s.RouteEnergySafetyFactor > 2 {
		return fmt.Errorf("route_energy_safety_factor must be between 1 and 2, got %.2f", s.RouteEnergySafetyFactor)
	}
	if s.MinDepartureBufferMin < 15 || s.MinDepartureBufferMin > 180 {
		return fmt.Errorf("min_departure_buffer_minutes must be between 15 and 180, got %d", s.MinDepartureBufferMin)
	}
	if s.BackToBackThresholdMin < 30 || s.BackToBackThresholdMin > 240 {
		return fmt.Errorf("back_to_back_threshold_minutes must be between 30 and 240, got %d", s.BackToBackThresholdMin)
	}
	if s.TargetSOCPercent < 50 || s.TargetSOCPercent > 100 {
		return fmt.Errorf("target_soc_percent must be between 50 and 100, got %.1f", s.TargetSOCPercent)
	}
	if s.MinSOCPercent < 0 || s.MinSOCPercent > 100 {
		return fmt.Errorf("min_soc_percent must be between 0 and 100, got %.1f", s.MinSOCPercent)
	}
	if s.MinSOCPercent > s.TargetSOCPercent {
		return fmt.Errorf("min_soc_percent %.1f cannot exceed target_soc_percent %.1f", s.MinSOCPercent, s.TargetSOCPercent)
	}
	if s.ASCKVA < 0 {
		return fmt.Errorf("asc_kva must be non-negative, got %.1f", s.ASCKVA)
	}
	return nil
}

// FloorToSlot truncates t down to the enclosing 30-minute boundary.
func FloorToSlot(t time.Time) time.Time {
	return t.Truncate(SlotDuration)
}

// BuildTimeSlots returns the 30-minute grid {start + 30i : start+30i < end}.
func BuildTimeSlots(start, end time.Time) []time.Time {
	var slots []time.Time
	for cur := start; cur.Before(end); cur = cur.Add(SlotDuration) {
		slots = append(slots, cur)
	}
	return slots
}

// SlotIndex maps a slot start to its deterministic grid index.
func SlotIndex(slotStart, windowStart time.Time) int {
	return int(slotStart.Sub(windowStart) / SlotDuration)
}

// RouteEnergyRequirement is one route's energy checkpoint for a vehicle:
// the cumulative charge that must be on board before departure.
type RouteEnergyRequirement struct {
	RouteID             string
	VehicleID           int
	PlanStart           time.Time
	PlanEnd             time.Time
	PlanMileage         float64
	RouteStatus         string
	EfficiencyKWhMile   float64
	RouteEnergyKWh      float64 // mileage * efficiency * safety factor
	CumulativeEnergyKWh float64 // prefix sum in departure order
	SequenceIndex       int
	IsBackToBack        bool
	GapToNextMinutes    float64
}

// VehicleAvailability is the per-slot charge eligibility mask for one
// vehicle over the planning grid.
type VehicleAvailability struct {
	VehicleID int
	TimeSlots []time.Time
	Available []bool
}

// AvailableAt reports the mask at slot index idx; out-of-range indices are
// unavailable.
func (a *VehicleAvailability) AvailableAt(idx int) bool {
	if idx < 0 || idx >= len(a.Available) {
		return false
	}
	return a.Available[idx]
}

// ChargeSlot is one positive-power cell of the solved schedule.
type ChargeSlot struct {
	TimeSlot            time.Time
	ChargePowerKW       float64
	CumulativeEnergyKWh float64
	ElectricityPrice    float64
	IsTriadPeriod       bool
}

// EnergyKWh is the energy delivered during the slot.
func (c *ChargeSlot) EnergyKWh() float64 {
	return c.ChargePowerKW * SlotHours
}

// VehicleChargeSchedule bundles one vehicle's solved charging plan.
type VehicleChargeSchedule struct {
	VehicleID              int
	ScheduleID             int64
	InitialSOCKWh          float64
	TargetSOCKWh           float64
	TotalEnergyNeededKWh   float64
	RouteCheckpoints       []RouteEnergyRequirement
	HasRoutes              bool
	ChargeSlots            []ChargeSlot
	TotalEnergyScheduled   float64
	AssignedChargerID      string
	ChargerType            string
	MeetsRouteRequirements bool
	EnergyShortfallKWh     float64
}

// FinalSOCKWh is the on-board energy at the end of the window.
func (v *VehicleChargeSchedule) FinalSOCKWh() float64 {
	return v.InitialSOCKWh + v.TotalEnergyScheduled
}

// ScheduleResult is the fleet-wide outcome of one scheduling run.
type ScheduleResult struct {
	ScheduleID         int64
	SiteID             int
	PlanningStart      time.Time
	PlanningEnd        time.Time
	ActualWindowHours  float64
	VehiclesScheduled  int
	RoutesConsidered   int
	CheckpointsCreated int
	TotalEnergyKWh     float64
	TotalCost          float64
	ObjectiveValue     float64
	SolveTime          time.Duration
	OptimizationStatus string
	VehicleSchedules   []VehicleChargeSchedule
	ValidationPassed   bool
	ValidationErrors   []string
	ValidationWarnings []string
}
