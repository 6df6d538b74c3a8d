package optimizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/fleet-optimizer/models"
)

func schedSettings(ascKVA float64) models.SchedulerSettings {
	return models.SchedulerSettings{
		PlanningWindowHours:      4,
		RouteEnergySafetyFactor:  1.15,
		MinDepartureBufferMin:    60,
		BackToBackThresholdMin:   90,
		TargetSOCPercent:         50,
		MinSOCPercent:            0,
		TriadPenaltyFactor:       100,
		SyntheticTimePriceFactor: 0,
		ASCKVA:                   ascKVA,
		PowerFactor:              1,
		SiteUsageFactor:          1,
	}
}

func schedGrid(n int) []time.Time {
	start := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)
	return models.BuildTimeSlots(start, start.Add(time.Duration(n)*models.SlotDuration))
}

func flatPrices(slots []time.Time, price float64) map[time.Time]PricePoint {
	prices := make(map[time.Time]PricePoint, len(slots))
	for _, s := range slots {
		prices[s] = PricePoint{Price: price}
	}
	return prices
}

func chargeState(vehicleID int, socKWh, batteryKWh, rateKW float64) *models.VehicleChargeState {
	return &models.VehicleChargeState{
		VehicleID:          vehicleID,
		CurrentSOCKWh:      socKWh,
		CurrentSOCPercent:  socKWh / batteryKWh * 100,
		BatteryCapacityKWh: batteryKWh,
		ACChargeRateKW:     rateKW,
		IsConnected:        true,
		ChargerID:          "1",
		ChargerType:        "AC",
	}
}

func TestSchedulingEngineRespectsSiteCapacity(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(8)
	problem := SchedulingProblem{
		Vehicles: []*models.Vehicle{
			{VehicleID: 1, BatteryCapacityKWh: 100},
			{VehicleID: 2, BatteryCapacityKWh: 100},
		},
		States: map[int]*models.VehicleChargeState{
			1: chargeState(1, 0, 100, 10),
			2: chargeState(2, 0, 100, 10),
		},
		Requirements: map[int][]models.RouteEnergyRequirement{},
		Availability: map[int]*models.VehicleAvailability{},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       flatPrices(slots, 0.10),
		Settings:     schedSettings(10), // 10 kW ceiling shared by both
	}
	problem.Settings.TargetSOCPercent = 50

	sol := NewSchedulingSolver(nil).Solve(problem)

	// Both vehicles want 50 kWh but only 10 kW of shared headroom exists,
	// so the engine reports contention.
	assert.Equal(t, StatusFeasible, sol.Status)

	perSlot := make(map[time.Time]float64)
	for _, vs := range sol.VehicleSchedules {
		for _, cs := range vs.ChargeSlots {
			perSlot[cs.TimeSlot] += cs.ChargePowerKW
		}
	}
	for slot, total := range perSlot {
		assert.LessOrEqual(t, total, 10.0+1e-9, "slot %s over capacity", slot)
	}
	assert.InDelta(t, 40.0, sol.TotalEnergyKWh, 1e-6)
}

func TestSchedulingEngineAvoidsTriadSlots(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(4)
	prices := flatPrices(slots, 0.10)
	prices[slots[0]] = PricePoint{Price: 0.01, IsTriad: true}

	problem := SchedulingProblem{
		Vehicles:     []*models.Vehicle{{VehicleID: 1, BatteryCapacityKWh: 100}},
		States:       map[int]*models.VehicleChargeState{1: chargeState(1, 20, 100, 10)},
		Requirements: map[int][]models.RouteEnergyRequirement{},
		Availability: map[int]*models.VehicleAvailability{},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       prices,
		Settings:     schedSettings(1000),
	}
	problem.Settings.TargetSOCPercent = 30 // 10 kWh to add, 2 slots suffice

	sol := NewSchedulingSolver(nil).Solve(problem)
	require.Len(t, sol.VehicleSchedules, 1)

	for _, cs := range sol.VehicleSchedules[0].ChargeSlots {
		assert.False(t, cs.IsTriadPeriod, "charged in a TRIAD slot despite cheaper alternatives")
	}
	assert.InDelta(t, 10.0, sol.TotalEnergyKWh, 1e-6)
}

func TestSchedulingEngineHonorsRouteCheckpoints(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(8)
	depart := slots[4]
	prices := flatPrices(slots, 0.30)
	for _, s := range slots[4:] {
		prices[s] = PricePoint{Price: 0.05}
	}

	problem := SchedulingProblem{
		Vehicles: []*models.Vehicle{{VehicleID: 1, BatteryCapacityKWh: 100}},
		States:   map[int]*models.VehicleChargeState{1: chargeState(1, 20, 100, 10)},
		Requirements: map[int][]models.RouteEnergyRequirement{
			1: {{
				RouteID:             "R1",
				VehicleID:           1,
				PlanStart:           depart,
				PlanEnd:             depart.Add(3 * time.Hour),
				RouteEnergyKWh:      40,
				CumulativeEnergyKWh: 40,
			}},
		},
		Availability: map[int]*models.VehicleAvailability{},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       prices,
		Settings:     schedSettings(1000),
	}

	sol := NewSchedulingSolver(nil).Solve(problem)
	require.Len(t, sol.VehicleSchedules, 1)
	vs := sol.VehicleSchedules[0]
	assert.True(t, vs.MeetsRouteRequirements)

	// The 20 kWh checkpoint gap must be on board before departure even
	// though every pre-departure slot is the expensive one.
	beforeDeparture := 0.0
	for _, cs := range vs.ChargeSlots {
		if cs.TimeSlot.Before(depart) {
			beforeDeparture += cs.EnergyKWh()
		}
	}
	assert.InDelta(t, 20.0, beforeDeparture, 1e-6)
	assert.InDelta(t, 30.0, vs.TotalEnergyScheduled, 1e-6) // up to the 50% target
}

func TestSchedulingEngineReportsShortfall(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(4)
	blocked := &models.VehicleAvailability{
		VehicleID: 1,
		TimeSlots: slots,
		Available: make([]bool, len(slots)),
	}

	problem := SchedulingProblem{
		Vehicles: []*models.Vehicle{{VehicleID: 1, BatteryCapacityKWh: 100}},
		States:   map[int]*models.VehicleChargeState{1: chargeState(1, 10, 100, 10)},
		Requirements: map[int][]models.RouteEnergyRequirement{
			1: {{
				RouteID:             "R1",
				VehicleID:           1,
				PlanStart:           slots[3],
				PlanEnd:             slots[3].Add(2 * time.Hour),
				RouteEnergyKWh:      30,
				CumulativeEnergyKWh: 30,
			}},
		},
		Availability: map[int]*models.VehicleAvailability{1: blocked},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       flatPrices(slots, 0.10),
		Settings:     schedSettings(1000),
	}

	sol := NewSchedulingSolver(nil).Solve(problem)
	require.Len(t, sol.VehicleSchedules, 1)
	vs := sol.VehicleSchedules[0]
	assert.False(t, vs.MeetsRouteRequirements)
	assert.Greater(t, vs.EnergyShortfallKWh, 0.0)
}

func TestSchedulingTargetShortfallKeepsRoutesValid(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(8)
	avail := &models.VehicleAvailability{
		VehicleID: 1,
		TimeSlots: slots,
		Available: make([]bool, len(slots)),
	}
	avail.Available[0], avail.Available[1] = true, true

	problem := SchedulingProblem{
		Vehicles: []*models.Vehicle{{VehicleID: 1, BatteryCapacityKWh: 100}},
		States:   map[int]*models.VehicleChargeState{1: chargeState(1, 20, 100, 10)},
		Requirements: map[int][]models.RouteEnergyRequirement{
			1: {{
				RouteID:             "R1",
				VehicleID:           1,
				PlanStart:           slots[2],
				PlanEnd:             slots[2].Add(2 * time.Hour),
				RouteEnergyKWh:      25,
				CumulativeEnergyKWh: 25,
			}},
		},
		Availability: map[int]*models.VehicleAvailability{1: avail},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       flatPrices(slots, 0.10),
		Settings:     schedSettings(1000),
	}
	problem.Settings.TargetSOCPercent = 90

	sol := NewSchedulingSolver(nil).Solve(problem)
	require.Len(t, sol.VehicleSchedules, 1)
	vs := sol.VehicleSchedules[0]

	// The two open slots cover the 5 kWh checkpoint gap with room to spare;
	// only the 90% end-of-window target goes unmet. That must not read as a
	// route failure.
	assert.True(t, vs.MeetsRouteRequirements)
	assert.InDelta(t, 60.0, vs.EnergyShortfallKWh, 1e-6)
	assert.InDelta(t, 10.0, vs.TotalEnergyScheduled, 1e-6)
}

func TestSchedulingShortfallPenaltyConfigurable(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(8)
	base := SchedulingProblem{
		Vehicles:     []*models.Vehicle{{VehicleID: 1, BatteryCapacityKWh: 100}},
		States:       map[int]*models.VehicleChargeState{1: chargeState(1, 20, 100, 10)},
		Requirements: map[int][]models.RouteEnergyRequirement{},
		Availability: map[int]*models.VehicleAvailability{},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       flatPrices(slots, 0.30),
		Settings:     schedSettings(1000),
		SoftTargets:  true,
	}

	// At the default penalty every slot is dearer than carrying the
	// shortfall, so nothing is charged.
	cheap := NewSchedulingSolver(nil).Solve(base)
	require.Len(t, cheap.VehicleSchedules, 1)
	assert.InDelta(t, 0.0, cheap.TotalEnergyKWh, 1e-9)
	assert.InDelta(t, DefaultShortfallPenalty*30.0, cheap.ObjectiveValue, 1e-6)

	// Raising the penalty above the tariff flips the trade-off.
	expensive := base
	expensive.ShortfallPenalty = 1.0
	sol := NewSchedulingSolver(nil).Solve(expensive)
	require.Len(t, sol.VehicleSchedules, 1)
	assert.InDelta(t, 30.0, sol.TotalEnergyKWh, 1e-6)
	assert.InDelta(t, 0.0, sol.VehicleSchedules[0].EnergyShortfallKWh, 1e-9)
}

func TestSchedulingExcludesSentinelVehicles(t *testing.T) {
	withEngine(t, true)

	slots := schedGrid(4)
	excluded := chargeState(99, 0, 100, 10)
	excluded.CurrentSOCPercent = models.SentinelSOCExcluded

	problem := SchedulingProblem{
		Vehicles:     []*models.Vehicle{{VehicleID: 99, BatteryCapacityKWh: 100}},
		States:       map[int]*models.VehicleChargeState{99: excluded},
		Requirements: map[int][]models.RouteEnergyRequirement{},
		Availability: map[int]*models.VehicleAvailability{},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       flatPrices(slots, 0.10),
		Settings:     schedSettings(1000),
	}

	sol := NewSchedulingSolver(nil).Solve(problem)
	assert.Empty(t, sol.VehicleSchedules)
}

func TestSchedulingGreedyFillsCheapestSlots(t *testing.T) {
	withEngine(t, false)

	slots := schedGrid(4)
	prices := flatPrices(slots, 0.30)
	prices[slots[2]] = PricePoint{Price: 0.05}
	prices[slots[3]] = PricePoint{Price: 0.06}

	problem := SchedulingProblem{
		Vehicles:     []*models.Vehicle{{VehicleID: 1, BatteryCapacityKWh: 100}},
		States:       map[int]*models.VehicleChargeState{1: chargeState(1, 40, 100, 10)},
		Requirements: map[int][]models.RouteEnergyRequirement{},
		Availability: map[int]*models.VehicleAvailability{},
		TimeSlots:    slots,
		Forecast:     map[time.Time]float64{},
		Prices:       prices,
		Settings:     schedSettings(1000),
	}

	sol := NewSchedulingSolver(nil).Solve(problem)
	require.Equal(t, StatusGreedy, sol.Status)
	require.Len(t, sol.VehicleSchedules, 1)

	vs := sol.VehicleSchedules[0]
	require.Len(t, vs.ChargeSlots, 2) // 10 kWh need, 5 kWh per slot
	assert.Equal(t, slots[2], vs.ChargeSlots[0].TimeSlot)
	assert.Equal(t, slots[3], vs.ChargeSlots[1].TimeSlot)
	assert.InDelta(t, 10.0*0.05*0.5+10.0*0.06*0.5, sol.TotalCost, 1e-9)
}
