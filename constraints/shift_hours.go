package constraints

import (
	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

// shiftHours rejects sequences whose working span, padded with the pre- and
// post-shift buffers, exceeds the legal shift length. The span is either
// first departure to last arrival (default) or the cumulative on-route
// time, selected by calculation_method.
type shiftHours struct {
	base
}

func newShiftHours(cfg maf.ConstraintConfig) *shiftHours {
	return &shiftHours{base: newBase(cfg)}
}

func (c *shiftHours) Hard() bool { return true }

func (c *shiftHours) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result {
	if len(sequence) == 0 {
		return Result{}
	}

	maxHours := c.floatParam("max_hours", 16)
	preBuffer := c.floatParam("pre_shift_buffer_hours", 0.5)
	postBuffer := c.floatParam("post_shift_buffer_hours", 0.5)
	method := c.stringParam("calculation_method", "first_to_last")

	var span float64
	if method == "cumulative" {
		for _, r := range sequence {
			span += r.DurationHours()
		}
	} else {
		span = sequence[len(sequence)-1].PlanEnd.Sub(sequence[0].PlanStart).Hours()
	}
	span += preBuffer + postBuffer

	if span <= maxHours {
		return Result{}
	}
	return Result{Cost: c.penalty, Violated: true}
}
