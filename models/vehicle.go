package models

import (
	"fmt"
	"time"
)

// SentinelSOCExcluded marks a vehicle whose telematics feed is unusable;
// the scheduler must drop it entirely.
const SentinelSOCExcluded = -111.0

// VehicleStatus is the operational state reported by the VSM feed.
type VehicleStatus string

const (
	StatusIdle     VehicleStatus = "Idle"
	StatusOnRoute  VehicleStatus = "On-Route"
	StatusCharging VehicleStatus = "Charging"
	StatusVOR      VehicleStatus = "VOR"
)

// Vehicle is a fleet vehicle as loaded from the store.
type Vehicle struct {
	VehicleID          int
	SiteID             int
	Registration       string
	Active             bool
	VOR                bool
	BatteryCapacityKWh float64
	EfficiencyKWhMile  float64
	ChargePowerACKW    float64
	ChargePowerDCKW    float64

	// State loaded from the latest VSM row at or before the run time.
	CurrentStatus  VehicleStatus
	CurrentRouteID string
	EstimatedSOC   float64 // percent, may be SentinelSOCExcluded
	ReturnETA      *time.Time
	ReturnSOC      *float64 // percent
	AvailableTime  time.Time
	AvailableKWh   float64
}

// AvailableEnergy returns the usable energy in kWh at the given reference
// time. A vehicle still on route counts its predicted return SOC; otherwise
// the latest estimate applies, falling back to a full battery when no
// telemetry exists.
func (v *Vehicle) AvailableEnergy(at time.Time) float64 {
	if v.CurrentStatus == StatusOnRoute && v.ReturnSOC != nil {
		return (*v.ReturnSOC / 100.0) * v.BatteryCapacityKWh
	}
	if v.EstimatedSOC > 0 {
		return (v.EstimatedSOC / 100.0) * v.BatteryCapacityKWh
	}
	return v.BatteryCapacityKWh
}

// ChargePower returns the effective charge rate in kW when connected to a
// charger with the given ceiling. A zero ceiling means the charger limit is
// unknown and the vehicle's own AC rate applies.
func (v *Vehicle) ChargePower(chargerMaxKW float64) float64 {
	if chargerMaxKW > 0 && chargerMaxKW < v.ChargePowerACKW {
		return chargerMaxKW
	}
	return v.ChargePowerACKW
}

// ChargingTime returns the hours needed to add energyKWh at the effective
// rate for the given charger ceiling.
func (v *Vehicle) ChargingTime(energyKWh, chargerMaxKW float64) float64 {
	rate := v.ChargePower(chargerMaxKW)
	if rate <= 0 {
		return 0
	}
	return energyKWh / rate
}

// VehicleChargeState is the scheduling view of a vehicle as of the run time.
type VehicleChargeState struct {
	VehicleID          int
	CurrentSOCPercent  float64
	CurrentSOCKWh      float64
	BatteryCapacityKWh float64
	IsConnected        bool
	ACChargeRateKW     float64
	DCChargeRateKW     float64
	ChargerID          string
	ChargerType        string
}

// Excluded reports whether the sentinel SOC bars this vehicle from
// scheduling.
func (s *VehicleChargeState) Excluded() bool {
	return s.CurrentSOCPercent == SentinelSOCExcluded
}

// Validate checks the physical bounds of the state.
func (s *VehicleChargeState) Validate() error {
	if s.Excluded() {
		return nil
	}
	if s.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("vehicle %d: battery capacity must be positive, got %.1f", s.VehicleID, s.BatteryCapacityKWh)
	}
	if s.CurrentSOCKWh < 0 || s.CurrentSOCKWh > s.BatteryCapacityKWh {
		return fmt.Errorf("vehicle %d: soc %.1f kWh outside [0, %.1f]", s.VehicleID, s.CurrentSOCKWh, s.BatteryCapacityKWh)
	}
	if s.ACChargeRateKW < 0 {
		return fmt.Errorf("vehicle %d: AC charge rate must be non-negative, got %.1f", s.VehicleID, s.ACChargeRateKW)
	}
	return nil
}
