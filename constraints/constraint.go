// Package constraints implements the pluggable feasibility and scoring
// rules evaluated over (vehicle, route sequence) candidates during
// allocation.
package constraints

import (
	"time"

	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

// DisconnectedCharger is the map key scoring vehicles with no current
// charger binding.
const DisconnectedCharger = "DISC"

// Context carries the shared run state constraints may consult beyond the
// candidate itself.
type Context struct {
	ReferenceTime time.Time
	AllRoutes     []*models.Route
	AllVehicles   []*models.Vehicle
	// VehicleChargerMap maps vehicle id to its currently bound charger id;
	// a missing entry means disconnected.
	VehicleChargerMap map[int]string
	// ChargerMaxPowerKW maps charger id to its power ceiling.
	ChargerMaxPowerKW map[string]float64
}

// ChargerFor returns the charger bound to the vehicle, or
// DisconnectedCharger.
func (c *Context) ChargerFor(vehicleID int) string {
	if c == nil || c.VehicleChargerMap == nil {
		return DisconnectedCharger
	}
	if id, ok := c.VehicleChargerMap[vehicleID]; ok && id != "" {
		return id
	}
	return DisconnectedCharger
}

// Result is one constraint's verdict over a candidate sequence.
type Result struct {
	Cost     float64
	Violated bool
}

// Constraint scores one (vehicle, sequence) candidate. Hard constraints
// report Violated on failure, which makes the whole candidate infeasible.
type Constraint interface {
	Name() string
	Enabled() bool
	Hard() bool
	Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result
}

// base carries the config shared by every constraint implementation.
type base struct {
	name    string
	enabled bool
	penalty float64
	params  map[string]any
}

func newBase(cfg maf.ConstraintConfig) base {
	params := cfg.Params
	if params == nil {
		params = map[string]any{}
	}
	return base{name: cfg.Name, enabled: cfg.Enabled, penalty: cfg.Penalty, params: params}
}

func (b *base) Name() string  { return b.name }
func (b *base) Enabled() bool { return b.enabled }

func (b *base) floatParam(key string, fallback float64) float64 {
	switch v := b.params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func (b *base) boolParam(key string, fallback bool) bool {
	if v, ok := b.params[key].(bool); ok {
		return v
	}
	return fallback
}

func (b *base) stringParam(key, fallback string) string {
	if v, ok := b.params[key].(string); ok {
		return v
	}
	return fallback
}

func (b *base) timeParam(key string) (maf.TimeOfDay, bool) {
	v, ok := b.params[key].(maf.TimeOfDay)
	return v, ok
}
