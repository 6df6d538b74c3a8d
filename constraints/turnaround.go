package constraints

import (
	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

// turnaroundStrict rejects sequences where any consecutive gap falls below
// the operational minimum.
type turnaroundStrict struct {
	base
}

func newTurnaroundStrict(cfg maf.ConstraintConfig) *turnaroundStrict {
	return &turnaroundStrict{base: newBase(cfg)}
}

func (c *turnaroundStrict) Hard() bool { return true }

func (c *turnaroundStrict) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result {
	if len(sequence) < 2 {
		return Result{}
	}

	minMinutes := c.floatParam("minimum_minutes", defaultTurnaroundMinutes)

	violations := 0
	for i := 0; i+1 < len(sequence); i++ {
		gap := sequence[i+1].PlanStart.Sub(sequence[i].PlanEnd).Minutes()
		if gap < minMinutes {
			violations++
		}
	}

	if violations == 0 {
		return Result{}
	}
	return Result{Cost: c.penalty * float64(violations), Violated: true}
}

// turnaroundPreferred applies a small step penalty for gaps that are legal
// but tighter than the preferred spacing.
type turnaroundPreferred struct {
	base
}

func newTurnaroundPreferred(cfg maf.ConstraintConfig) *turnaroundPreferred {
	return &turnaroundPreferred{base: newBase(cfg)}
}

func (c *turnaroundPreferred) Hard() bool { return false }

func (c *turnaroundPreferred) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result {
	if len(sequence) < 2 {
		return Result{}
	}

	standard := c.floatParam("standard_minutes", 75)
	optimal := c.floatParam("optimal_minutes", 90)
	penaltyStandard := c.floatParam("penalty_standard", -2)
	penaltyOptimal := c.floatParam("penalty_optimal", -1)

	cost := 0.0
	for i := 0; i+1 < len(sequence); i++ {
		gap := sequence[i+1].PlanStart.Sub(sequence[i].PlanEnd).Minutes()
		switch {
		case gap < standard:
			cost += penaltyStandard
		case gap < optimal:
			cost += penaltyOptimal
		}
	}

	return Result{Cost: cost}
}
