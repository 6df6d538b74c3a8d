// Package controller orchestrates the optimization runs: loading fleet and
// market data from the store, invoking the solvers and persisting results.
package controller

import (
	"context"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/store"
)

// Default run parameters, overridable per site through MAF.
const (
	DefaultAllocationWindowHours = 18
	DefaultMaxRoutesPerVehicle   = 5
	DefaultTurnaroundMinutes     = 45

	DefaultPlanningWindowHours    = 24.0
	MinimumPlanningWindowHours    = 4.0
	DefaultRouteEnergySafety      = 1.15
	DefaultDepartureBufferMinutes = 60
	DefaultBackToBackThresholdMin = 90
	DefaultTargetSOCPercent       = 75.0
	DefaultMinSOCPercent          = 75.0
	DefaultPowerFactor            = 0.85
	DefaultSiteUsageFactor        = 0.90
	DefaultTriadPenaltyFactor     = 100.0
	DefaultSyntheticPriceFactor   = 0.01
	DefaultFleetEfficiency        = 0.35

	DefaultSOCPercent      = 50.0
	DefaultBatteryCapacity = 80.0
	DefaultACChargeRateKW  = 11.0
	DefaultDCChargeRateKW  = 50.0
)

// Datastore is the persistence surface the controllers depend on.
type Datastore interface {
	ActiveVehicles(ctx context.Context, siteID int) ([]*models.Vehicle, error)
	LoadVehicleStates(ctx context.Context, vehicles []*models.Vehicle, at time.Time) error
	SiteChargers(ctx context.Context, siteID int) (map[string]store.Charger, error)
	VehicleChargers(ctx context.Context, vehicles []*models.Vehicle, at time.Time) (map[int]string, error)
	FleetEfficiency(ctx context.Context, siteID int) (float64, int, error)

	RoutesInWindow(ctx context.Context, siteID int, start, end time.Time) ([]*models.Route, error)
	RoutesWithVehicles(ctx context.Context, siteID int, start, end time.Time, mode models.RouteSourceMode) ([]*models.Route, error)

	CreateAllocationMonitor(ctx context.Context, siteID int, trigger string, runTime, windowStart, windowEnd time.Time) (int64, error)
	UpdateAllocationMonitor(ctx context.Context, result *models.AllocationResult) error
	ReplaceAllocations(ctx context.Context, result *models.AllocationResult) error

	CreateScheduler(ctx context.Context, siteID int) (int64, error)
	SchedulerSite(ctx context.Context, scheduleID int64) (int, string, error)
	LoadChargeSchedule(ctx context.Context, scheduleID int64) (*models.ScheduleResult, error)
	UpdateSchedulerStatus(ctx context.Context, scheduleID int64, status string) error
	SiteASC(ctx context.Context, siteID int) (float64, bool, error)
	ForecastHorizon(ctx context.Context, siteID int) (time.Time, bool, error)
	PriceHorizon(ctx context.Context) (time.Time, bool, error)
	ForecastRange(ctx context.Context, siteID int, start, end time.Time) (map[time.Time]float64, error)
	PriceRange(ctx context.Context, start, end time.Time) (map[time.Time]store.Tariff, error)
	ReplaceChargeSchedule(ctx context.Context, scheduleID int64, timeSlots []time.Time, schedules []models.VehicleChargeSchedule) error

	ModuleParams(ctx context.Context, appName string) ([]byte, error)
}
