package controller

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/fleet-optimizer/models"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[TEST] ", log.LstdFlags)
}

func testScheduler() *SchedulerController {
	return &SchedulerController{
		SiteID:          10,
		Settings:        DefaultSchedulerSettings(),
		logger:          testLogger(),
		fleetEfficiency: 0.5,
	}
}

func mkRoute(id string, start, end string, mileage float64) *models.Route {
	s, _ := time.Parse("2006-01-02 15:04", start)
	e, _ := time.Parse("2006-01-02 15:04", end)
	return &models.Route{RouteID: id, SiteID: 10, PlanStart: s, PlanEnd: e, PlanMileage: mileage}
}

func TestEnergyRequirementsCumulativeWithSafetyFactor(t *testing.T) {
	c := testScheduler()
	c.Settings.RouteEnergySafetyFactor = 1.15
	c.Settings.BackToBackThresholdMin = 90

	routes := map[int][]*models.Route{
		7: {
			mkRoute("B", "2026-02-11 12:00", "2026-02-11 15:00", 40),
			mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 20),
		},
	}
	states := map[int]*models.VehicleChargeState{
		7: {VehicleID: 7, BatteryCapacityKWh: 100, CurrentSOCKWh: 50},
	}

	reqs := c.energyRequirements(routes, states)
	require.Len(t, reqs[7], 2)

	// Departure order, not input order.
	assert.Equal(t, "A", reqs[7][0].RouteID)
	assert.Equal(t, "B", reqs[7][1].RouteID)

	assert.InDelta(t, 20*0.5*1.15, reqs[7][0].RouteEnergyKWh, 1e-9)
	assert.InDelta(t, 20*0.5*1.15, reqs[7][0].CumulativeEnergyKWh, 1e-9)
	assert.InDelta(t, (20+40)*0.5*1.15, reqs[7][1].CumulativeEnergyKWh, 1e-9)

	// 3-hour gap is above the back-to-back threshold.
	assert.False(t, reqs[7][0].IsBackToBack)
	assert.InDelta(t, 180, reqs[7][0].GapToNextMinutes, 1e-9)
}

func TestEnergyRequirementsBackToBackFlag(t *testing.T) {
	c := testScheduler()
	c.Settings.BackToBackThresholdMin = 90

	routes := map[int][]*models.Route{
		7: {
			mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 20),
			mkRoute("B", "2026-02-11 10:00", "2026-02-11 13:00", 20),
		},
	}
	states := map[int]*models.VehicleChargeState{
		7: {VehicleID: 7, BatteryCapacityKWh: 100, CurrentSOCKWh: 50},
	}

	reqs := c.energyRequirements(routes, states)
	require.Len(t, reqs[7], 2)
	assert.True(t, reqs[7][0].IsBackToBack) // 60 min gap
	assert.False(t, reqs[7][1].IsBackToBack)
}

func TestAvailabilityMatrices(t *testing.T) {
	c := testScheduler()
	c.Settings.MinDepartureBufferMin = 60

	start := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)
	slots := models.BuildTimeSlots(start, start.Add(8*time.Hour)) // 16 slots

	eta := start.Add(2 * time.Hour)
	vehicles := []*models.Vehicle{
		{VehicleID: 1},
		{VehicleID: 2, VOR: true},
		{VehicleID: 3, CurrentStatus: models.StatusOnRoute, ReturnETA: &eta},
	}
	routes := map[int][]*models.Route{
		1: {mkRoute("A", "2026-02-11 08:00", "2026-02-11 10:00", 20)},
	}

	avail := c.availabilityMatrices(vehicles, nil, routes, slots)

	// Vehicle 1: blocked from 07:00 (buffer) until 10:00, slots 6..11.
	for i := 0; i < len(slots); i++ {
		blocked := i >= 6 && i < 12
		assert.Equal(t, !blocked, avail[1].AvailableAt(i), "vehicle 1 slot %d", i)
	}

	// VOR vehicle has no available slots.
	for i := range slots {
		assert.False(t, avail[2].AvailableAt(i), "vehicle 2 slot %d", i)
	}

	// On-route vehicle is blocked until its return ETA at 06:00, slots 0..3.
	for i := 0; i < len(slots); i++ {
		assert.Equal(t, i >= 4, avail[3].AvailableAt(i), "vehicle 3 slot %d", i)
	}
}

func TestValidateScheduleFlagsShortfall(t *testing.T) {
	c := testScheduler()
	depart := time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC)

	result := &models.ScheduleResult{
		ValidationPassed: true,
		VehicleSchedules: []models.VehicleChargeSchedule{
			{
				VehicleID:              1,
				InitialSOCKWh:          10,
				MeetsRouteRequirements: true,
				ChargeSlots: []models.ChargeSlot{
					{TimeSlot: depart.Add(-time.Hour), ChargePowerKW: 10, CumulativeEnergyKWh: 5},
				},
			},
		},
	}
	requirements := map[int][]models.RouteEnergyRequirement{
		1: {{RouteID: "A", VehicleID: 1, PlanStart: depart, CumulativeEnergyKWh: 30}},
	}

	c.validateSchedule(result, requirements)

	assert.False(t, result.ValidationPassed)
	require.Len(t, result.ValidationErrors, 1)
	vs := result.VehicleSchedules[0]
	assert.False(t, vs.MeetsRouteRequirements)
	assert.InDelta(t, 15.0, vs.EnergyShortfallKWh, 1e-9) // 30 needed, 10+5 on board
}

type fakeHorizonStore struct {
	Datastore
	forecastMax time.Time
	priceMax    time.Time
}

func (f *fakeHorizonStore) ForecastHorizon(ctx context.Context, siteID int) (time.Time, bool, error) {
	return f.forecastMax, !f.forecastMax.IsZero(), nil
}

func (f *fakeHorizonStore) PriceHorizon(ctx context.Context) (time.Time, bool, error) {
	return f.priceMax, !f.priceMax.IsZero(), nil
}

func TestPlanningWindowCappedByDataHorizon(t *testing.T) {
	at := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)

	c := testScheduler()
	c.Settings.PlanningWindowHours = 10
	c.store = &fakeHorizonStore{
		forecastMax: at.Add(6 * time.Hour),
		priceMax:    at.Add(20 * time.Hour),
	}

	start, end, hours, err := c.planningWindow(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, at, start)
	assert.Equal(t, at.Add(6*time.Hour), end)
	assert.InDelta(t, 6.0, hours, 1e-9)
}

func TestPlanningWindowBelowHalfConfiguredAborts(t *testing.T) {
	at := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)

	c := testScheduler()
	c.Settings.PlanningWindowHours = 24
	c.store = &fakeHorizonStore{
		forecastMax: at.Add(6 * time.Hour),
		priceMax:    at.Add(20 * time.Hour),
	}

	// 6h of data against a 24h window clears the absolute minimum but not
	// the half-window floor.
	_, _, _, err := c.planningWindow(context.Background(), at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "half the configured")
}

func TestPlanningWindowTooShort(t *testing.T) {
	at := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)

	c := testScheduler()
	c.store = &fakeHorizonStore{forecastMax: at.Add(2 * time.Hour)}

	_, _, _, err := c.planningWindow(context.Background(), at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestBuildScheduleReport(t *testing.T) {
	depart := time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC)

	result := &models.ScheduleResult{
		ScheduleID: 42,
		SiteID:     10,
		TotalCost:  1.25,
		VehicleSchedules: []models.VehicleChargeSchedule{
			{
				VehicleID:            1,
				InitialSOCKWh:        20,
				TargetSOCKWh:         50,
				TotalEnergyScheduled: 30,
				RouteCheckpoints: []models.RouteEnergyRequirement{
					{RouteID: "A", PlanStart: depart, RouteEnergyKWh: 15, CumulativeEnergyKWh: 15},
				},
				ChargeSlots: []models.ChargeSlot{
					{TimeSlot: depart.Add(-2 * time.Hour), ChargePowerKW: 10},
					{TimeSlot: depart.Add(-90 * time.Minute), ChargePowerKW: 10},
					{TimeSlot: depart.Add(3 * time.Hour), ChargePowerKW: 10},
				},
				MeetsRouteRequirements: true,
			},
		},
	}

	report := BuildScheduleReport(result, depart)
	require.Len(t, report.Vehicles, 1)

	vr := report.Vehicles[0]
	assert.InDelta(t, 50.0, vr.FinalSOCKWh, 1e-9)
	assert.InDelta(t, 60.0, vr.ChargeBeforeFirstMin, 1e-9)
	assert.InDelta(t, 30.0, vr.ChargeBetweenMin, 1e-9)
	require.Len(t, vr.Routes, 1)
	assert.Equal(t, "A", vr.Routes[0].RouteID)
	assert.Equal(t, 1, report.Totals.VehicleCount)
	assert.InDelta(t, 1.25, report.Totals.TotalCost, 1e-9)
}
