package controller

import (
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// ScheduleReport is the per-vehicle charging summary of a solved schedule.
type ScheduleReport struct {
	ScheduleID    int64                  `json:"schedule_id"`
	SiteID        int                    `json:"site_id"`
	GeneratedAt   time.Time              `json:"generated_at"`
	PlanningStart time.Time              `json:"planning_start"`
	PlanningEnd   time.Time              `json:"planning_end"`
	Vehicles      []VehicleReport        `json:"vehicles"`
	Totals        ScheduleReportTotals   `json:"totals"`
}

// ScheduleReportTotals aggregates the fleet-wide figures.
type ScheduleReportTotals struct {
	TotalEnergyKWh float64 `json:"total_energy_kwh"`
	TotalCost      float64 `json:"total_cost"`
	VehicleCount   int     `json:"vehicle_count"`
	ShortfallKWh   float64 `json:"shortfall_kwh"`
}

// VehicleReport is one vehicle's slice of the report.
type VehicleReport struct {
	VehicleID            int           `json:"vehicle_id"`
	InitialSOCKWh        float64       `json:"initial_soc_kwh"`
	FinalSOCKWh          float64       `json:"final_soc_kwh"`
	TargetSOCKWh         float64       `json:"target_soc_kwh"`
	EnergyScheduledKWh   float64       `json:"energy_scheduled_kwh"`
	ChargeBeforeFirstMin float64       `json:"charging_minutes_before_first_route"`
	ChargeBetweenMin     float64       `json:"charging_minutes_between_routes"`
	MeetsRequirements    bool          `json:"meets_route_requirements"`
	ShortfallKWh         float64       `json:"energy_shortfall_kwh"`
	Routes               []RouteReport `json:"routes"`
}

// RouteReport is one allocated route in the vehicle's report.
type RouteReport struct {
	RouteID        string    `json:"route_id"`
	PlanStart      time.Time `json:"plan_start"`
	PlanEnd        time.Time `json:"plan_end"`
	RouteEnergyKWh float64   `json:"route_energy_kwh"`
	CumulativeKWh  float64   `json:"cumulative_energy_kwh"`
	IsBackToBack   bool      `json:"is_back_to_back"`
}

// BuildScheduleReport renders a solved schedule into the report form, with
// charging minutes split around each vehicle's first departure.
func BuildScheduleReport(result *models.ScheduleResult, asOf time.Time) *ScheduleReport {
	report := &ScheduleReport{
		ScheduleID:    result.ScheduleID,
		SiteID:        result.SiteID,
		GeneratedAt:   asOf,
		PlanningStart: result.PlanningStart,
		PlanningEnd:   result.PlanningEnd,
	}

	for _, vs := range result.VehicleSchedules {
		vr := VehicleReport{
			VehicleID:          vs.VehicleID,
			InitialSOCKWh:      vs.InitialSOCKWh,
			FinalSOCKWh:        vs.FinalSOCKWh(),
			TargetSOCKWh:       vs.TargetSOCKWh,
			EnergyScheduledKWh: vs.TotalEnergyScheduled,
			MeetsRequirements:  vs.MeetsRouteRequirements,
			ShortfallKWh:       vs.EnergyShortfallKWh,
		}

		var firstDeparture time.Time
		for _, req := range vs.RouteCheckpoints {
			if firstDeparture.IsZero() || req.PlanStart.Before(firstDeparture) {
				firstDeparture = req.PlanStart
			}
			vr.Routes = append(vr.Routes, RouteReport{
				RouteID:        req.RouteID,
				PlanStart:      req.PlanStart,
				PlanEnd:        req.PlanEnd,
				RouteEnergyKWh: req.RouteEnergyKWh,
				CumulativeKWh:  req.CumulativeEnergyKWh,
				IsBackToBack:   req.IsBackToBack,
			})
		}

		for _, slot := range vs.ChargeSlots {
			if slot.ChargePowerKW <= 0 {
				continue
			}
			minutes := models.SlotDuration.Minutes()
			if firstDeparture.IsZero() || slot.TimeSlot.Before(firstDeparture) {
				vr.ChargeBeforeFirstMin += minutes
			} else {
				vr.ChargeBetweenMin += minutes
			}
		}

		report.Totals.TotalEnergyKWh += vr.EnergyScheduledKWh
		report.Totals.ShortfallKWh += vr.ShortfallKWh
		report.Vehicles = append(report.Vehicles, vr)
	}

	report.Totals.VehicleCount = len(report.Vehicles)
	report.Totals.TotalCost = result.TotalCost
	return report
}
