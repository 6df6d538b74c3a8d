package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/optimizer"
	"github.com/devskill-org/fleet-optimizer/store"
)

// fakeUnifiedStore drives a scheduling-only unified run end to end without
// a database. One 100 kWh vehicle at 40% SOC, no routes, 24h of market data.
type fakeUnifiedStore struct {
	Datastore
	horizon    time.Time
	createdID  int64
	replacedID int64
	replaced   []models.VehicleChargeSchedule
	statuses   []string
}

func (f *fakeUnifiedStore) ModuleParams(ctx context.Context, appName string) ([]byte, error) {
	return nil, nil
}

func (f *fakeUnifiedStore) ActiveVehicles(ctx context.Context, siteID int) ([]*models.Vehicle, error) {
	return []*models.Vehicle{{VehicleID: 1, SiteID: siteID, BatteryCapacityKWh: 100}}, nil
}

func (f *fakeUnifiedStore) LoadVehicleStates(ctx context.Context, vehicles []*models.Vehicle, at time.Time) error {
	for _, v := range vehicles {
		v.EstimatedSOC = 40
	}
	return nil
}

func (f *fakeUnifiedStore) VehicleChargers(ctx context.Context, vehicles []*models.Vehicle, at time.Time) (map[int]string, error) {
	return map[int]string{}, nil
}

func (f *fakeUnifiedStore) SiteChargers(ctx context.Context, siteID int) (map[string]store.Charger, error) {
	return map[string]store.Charger{}, nil
}

func (f *fakeUnifiedStore) FleetEfficiency(ctx context.Context, siteID int) (float64, int, error) {
	return 0.5, 1, nil
}

func (f *fakeUnifiedStore) RoutesWithVehicles(ctx context.Context, siteID int, start, end time.Time, mode models.RouteSourceMode) ([]*models.Route, error) {
	return nil, nil
}

func (f *fakeUnifiedStore) ForecastHorizon(ctx context.Context, siteID int) (time.Time, bool, error) {
	return f.horizon, true, nil
}

func (f *fakeUnifiedStore) PriceHorizon(ctx context.Context) (time.Time, bool, error) {
	return f.horizon, true, nil
}

func (f *fakeUnifiedStore) ForecastRange(ctx context.Context, siteID int, start, end time.Time) (map[time.Time]float64, error) {
	return map[time.Time]float64{}, nil
}

func (f *fakeUnifiedStore) PriceRange(ctx context.Context, start, end time.Time) (map[time.Time]store.Tariff, error) {
	return map[time.Time]store.Tariff{}, nil
}

func (f *fakeUnifiedStore) CreateScheduler(ctx context.Context, siteID int) (int64, error) {
	f.createdID = 314
	return f.createdID, nil
}

func (f *fakeUnifiedStore) ReplaceChargeSchedule(ctx context.Context, scheduleID int64, timeSlots []time.Time, schedules []models.VehicleChargeSchedule) error {
	f.replacedID = scheduleID
	f.replaced = schedules
	return nil
}

func (f *fakeUnifiedStore) UpdateSchedulerStatus(ctx context.Context, scheduleID int64, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func TestUnifiedRunStampsScheduleIDBeforeSolve(t *testing.T) {
	prev := optimizer.EngineActive()
	optimizer.SetEngineActive(true)
	t.Cleanup(func() { optimizer.SetEngineActive(prev) })

	at := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)
	f := &fakeUnifiedStore{horizon: at.Add(24 * time.Hour)}

	uc := NewUnifiedController(f, 10, "vehicle_allocation_system", true, testLogger())
	uc.Mode = optimizer.ModeSchedulingOnly
	uc.Settings.ASCKVA = 500

	result, err := uc.Run(context.Background(), at)
	require.NoError(t, err)
	require.NotNil(t, result.Schedule)

	// The scheduler row is opened before the solve, so every emitted
	// vehicle schedule already carries the persisted id.
	assert.Equal(t, int64(314), result.Schedule.ScheduleID)
	require.NotEmpty(t, result.Schedule.VehicleSchedules)
	for _, vs := range result.Schedule.VehicleSchedules {
		assert.Equal(t, int64(314), vs.ScheduleID)
	}

	assert.Equal(t, int64(314), f.replacedID)
	require.NotEmpty(t, f.replaced)
	for _, vs := range f.replaced {
		assert.Equal(t, int64(314), vs.ScheduleID)
	}
	assert.Contains(t, f.statuses, models.SchedulerStatusCompleted)
}
