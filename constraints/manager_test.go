package constraints

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

func mkRoute(id string, start, end string, mileage float64) *models.Route {
	s, _ := time.Parse("2006-01-02 15:04", start)
	e, _ := time.Parse("2006-01-02 15:04", end)
	return &models.Route{RouteID: id, SiteID: 10, PlanStart: s, PlanEnd: e, PlanMileage: mileage}
}

func mkVehicle(id int, batteryKWh, socPercent float64) *models.Vehicle {
	return &models.Vehicle{
		VehicleID:          id,
		SiteID:             10,
		Active:             true,
		BatteryCapacityKWh: batteryKWh,
		EfficiencyKWhMile:  0.35,
		ChargePowerACKW:    11,
		EstimatedSOC:       socPercent,
		CurrentStatus:      models.StatusIdle,
	}
}

func defaultConfigs() []maf.ConstraintConfig {
	cfg, _ := maf.ParseResponse(nil, 10)
	return cfg.AllConstraintConfigs(nil)
}

func testContext(t time.Time) *Context {
	return &Context{ReferenceTime: t}
}

func refTime4am() time.Time {
	ref, _ := time.Parse("2006-01-02 15:04", "2026-02-11 04:00")
	return ref
}

func TestManagerFeasibleSingleton(t *testing.T) {
	m := NewManager(defaultConfigs(), nil)
	v := mkVehicle(1, 100, 80)
	v.AvailableTime = refTime4am()

	eval := m.Evaluate(v, []*models.Route{mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 50)}, testContext(refTime4am()))
	require.True(t, eval.Feasible)
	assert.Equal(t, 0.0, eval.TotalCost)
}

func TestManagerRejectsOverlap(t *testing.T) {
	m := NewManager(defaultConfigs(), nil)
	v := mkVehicle(1, 100, 80)
	v.AvailableTime = refTime4am()

	seq := []*models.Route{
		mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 40),
		mkRoute("B", "2026-02-11 08:00", "2026-02-11 11:00", 40),
	}
	eval := m.Evaluate(v, seq, testContext(refTime4am()))
	assert.False(t, eval.Feasible)
}

func TestManagerRejectsShortTurnaround(t *testing.T) {
	// 30-minute gap is below the 45-minute strict minimum.
	m := NewManager(defaultConfigs(), nil)
	v := mkVehicle(1, 200, 90)
	v.AvailableTime = refTime4am()

	seq := []*models.Route{
		mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 40),
		mkRoute("B", "2026-02-11 09:30", "2026-02-11 12:00", 40),
	}
	eval := m.Evaluate(v, seq, testContext(refTime4am()))
	assert.False(t, eval.Feasible)
}

func TestManagerFailFastSkipsRemaining(t *testing.T) {
	m := NewManager(defaultConfigs(), nil)
	v := mkVehicle(1, 100, 2) // nearly empty battery

	seq := []*models.Route{mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 200)}
	eval := m.Evaluate(v, seq, testContext(refTime4am()))

	require.False(t, eval.Feasible)
	// energy_feasibility runs first and fails; later constraints never
	// appear in the breakdown.
	_, evaluatedOverlap := eval.Breakdown["route_overlap"]
	assert.False(t, evaluatedOverlap)
}

func TestTurnaroundPreferredPenalties(t *testing.T) {
	cfg := maf.ConstraintConfig{Name: "turnaround_time_preferred", Enabled: true, Penalty: -2}
	c := newTurnaroundPreferred(cfg)
	v := mkVehicle(1, 100, 80)

	tests := []struct {
		name string
		gap  string // plan start of second route
		want float64
	}{
		{"tight gap below standard", "2026-02-11 10:00", -2}, // 60 min
		{"between standard and optimal", "2026-02-11 10:20", -1},
		{"comfortable gap", "2026-02-11 11:00", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := []*models.Route{
				mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 40),
				mkRoute("B", tt.gap, "2026-02-11 13:00", 40),
			}
			res := c.Evaluate(v, seq, nil)
			assert.Equal(t, tt.want, res.Cost)
			assert.False(t, res.Violated)
		})
	}
}

func TestShiftHoursFirstToLast(t *testing.T) {
	cfg := maf.ConstraintConfig{Name: "shift_hours_strict", Enabled: true, Penalty: -20}
	c := newShiftHours(cfg)
	v := mkVehicle(1, 100, 80)

	// 06:00 to 21:30 is 15.5h; buffers push it to 16.5h > 16.
	seq := []*models.Route{
		mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 40),
		mkRoute("B", "2026-02-11 18:00", "2026-02-11 21:30", 40),
	}
	res := c.Evaluate(v, seq, nil)
	assert.True(t, res.Violated)

	// Cumulative mode only counts 6.5 on-route hours.
	cfg.Params = map[string]any{"calculation_method": "cumulative"}
	c = newShiftHours(cfg)
	res = c.Evaluate(v, seq, nil)
	assert.False(t, res.Violated)
}

func TestEnergyFeasibilityChargesBetweenRoutes(t *testing.T) {
	cfg := maf.ConstraintConfig{Name: "energy_feasibility", Enabled: true, Penalty: -20}
	c := newEnergyFeasibility(cfg)

	// 30 kWh on board; each route needs 70 mi * 0.35 = 24.5 kWh. The 4-hour
	// gap at 11 kW recovers 44 kWh, so the pair stays feasible.
	v := mkVehicle(1, 100, 30)
	v.AvailableTime = refTime4am()

	seq := []*models.Route{
		mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00", 70),
		mkRoute("B", "2026-02-11 13:00", "2026-02-11 16:00", 70),
	}
	res := c.Evaluate(v, seq, testContext(refTime4am()))
	assert.False(t, res.Violated)

	// A tighter gap recovers too little for a longer second route.
	seq[1] = mkRoute("B", "2026-02-11 09:45", "2026-02-11 12:00", 100)
	res = c.Evaluate(v, seq, testContext(refTime4am()))
	assert.True(t, res.Violated)
}
