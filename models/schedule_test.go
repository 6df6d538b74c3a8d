package models

import (
	"testing"
	"time"
)

func TestBuildTimeSlots(t *testing.T) {
	start := time.Date(2026, 2, 11, 4, 30, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	slots := BuildTimeSlots(start, end)
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots for 3 hours, got %d", len(slots))
	}
	for i, slot := range slots {
		want := start.Add(time.Duration(i) * SlotDuration)
		if !slot.Equal(want) {
			t.Errorf("slot %d: got %s, want %s", i, slot, want)
		}
		if got := SlotIndex(slot, start); got != i {
			t.Errorf("SlotIndex(%s) = %d, want %d", slot, got, i)
		}
	}
}

func TestFloorToSlot(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-02-11T04:29:59Z", "2026-02-11T04:00:00Z"},
		{"2026-02-11T04:30:00Z", "2026-02-11T04:30:00Z"},
		{"2026-02-11T04:59:01Z", "2026-02-11T04:30:00Z"},
	}
	for _, tt := range tests {
		in, _ := time.Parse(time.RFC3339, tt.in)
		want, _ := time.Parse(time.RFC3339, tt.want)
		if got := FloorToSlot(in); !got.Equal(want) {
			t.Errorf("FloorToSlot(%s) = %s, want %s", tt.in, got, want)
		}
	}
}

func TestSchedulerSettingsValidate(t *testing.T) {
	valid := SchedulerSettings{
		PlanningWindowHours:     18,
		RouteEnergySafetyFactor: 1.15,
		MinDepartureBufferMin:   60,
		BackToBackThresholdMin:  90,
		TargetSOCPercent:        75,
		MinSOCPercent:           75,
		ASCKVA:                  500,
		PowerFactor:             0.85,
		SiteUsageFactor:         0.90,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SchedulerSettings)
	}{
		{"window too short", func(s *SchedulerSettings) { s.PlanningWindowHours = 3 }},
		{"window too long", func(s *SchedulerSettings) { s.PlanningWindowHours = 25 }},
		{"safety factor below 1", func(s *SchedulerSettings) { s.RouteEnergySafetyFactor = 0.9 }},
		{"departure buffer too small", func(s *SchedulerSettings) { s.MinDepartureBufferMin = 10 }},
		{"back to back too large", func(s *SchedulerSettings) { s.BackToBackThresholdMin = 300 }},
		{"target soc too low", func(s *SchedulerSettings) { s.TargetSOCPercent = 40 }},
		{"min soc above target", func(s *SchedulerSettings) { s.MinSOCPercent = 80; s.TargetSOCPercent = 75 }},
		{"negative asc", func(s *SchedulerSettings) { s.ASCKVA = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSiteCapacityKW(t *testing.T) {
	s := SchedulerSettings{ASCKVA: 500, PowerFactor: 0.85, SiteUsageFactor: 0.90}
	want := 500 * 0.85 * 0.90
	if got := s.SiteCapacityKW(); got != want {
		t.Errorf("SiteCapacityKW() = %.2f, want %.2f", got, want)
	}
}

func TestVehicleAvailableEnergy(t *testing.T) {
	now := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)
	returnSOC := 40.0

	tests := []struct {
		name string
		v    Vehicle
		want float64
	}{
		{
			name: "on route uses return soc",
			v: Vehicle{
				BatteryCapacityKWh: 100,
				CurrentStatus:      StatusOnRoute,
				EstimatedSOC:       80,
				ReturnSOC:          &returnSOC,
			},
			want: 40,
		},
		{
			name: "idle uses estimated soc",
			v:    Vehicle{BatteryCapacityKWh: 100, CurrentStatus: StatusIdle, EstimatedSOC: 80},
			want: 80,
		},
		{
			name: "no telemetry assumes full",
			v:    Vehicle{BatteryCapacityKWh: 100},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.AvailableEnergy(now); got != tt.want {
				t.Errorf("AvailableEnergy() = %.1f, want %.1f", got, tt.want)
			}
		})
	}
}

func TestVehicleChargePower(t *testing.T) {
	v := Vehicle{ChargePowerACKW: 11}

	if got := v.ChargePower(7); got != 7 {
		t.Errorf("charger-limited rate = %.1f, want 7", got)
	}
	if got := v.ChargePower(22); got != 11 {
		t.Errorf("vehicle-limited rate = %.1f, want 11", got)
	}
	if got := v.ChargePower(0); got != 11 {
		t.Errorf("unknown charger rate = %.1f, want 11", got)
	}
}

func TestChargeStateExcluded(t *testing.T) {
	s := VehicleChargeState{VehicleID: 1, CurrentSOCPercent: SentinelSOCExcluded}
	if !s.Excluded() {
		t.Error("sentinel SOC must exclude vehicle")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("excluded state should skip validation, got %v", err)
	}

	s = VehicleChargeState{VehicleID: 1, CurrentSOCPercent: 50, CurrentSOCKWh: 120, BatteryCapacityKWh: 100}
	if err := s.Validate(); err == nil {
		t.Error("expected error for soc above capacity")
	}
}
