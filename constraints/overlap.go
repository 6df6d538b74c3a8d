package constraints

import (
	"time"

	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

const defaultTurnaroundMinutes = 45.0

// routeOverlap rejects sequences whose routes cannot run back to back with
// the turnaround gap between them. Structural: always registered as hard.
type routeOverlap struct {
	base
}

func newRouteOverlap(cfg maf.ConstraintConfig) *routeOverlap {
	return &routeOverlap{base: newBase(cfg)}
}

func (c *routeOverlap) Hard() bool { return true }

func (c *routeOverlap) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result {
	if len(sequence) < 2 {
		return Result{}
	}

	turnaround := time.Duration(c.floatParam("turnaround_minutes", defaultTurnaroundMinutes)) * time.Minute

	overlaps := 0
	for i := 0; i < len(sequence); i++ {
		for j := i + 1; j < len(sequence); j++ {
			if sequence[i].OverlapsWith(sequence[j], turnaround) {
				overlaps++
			}
		}
	}

	if overlaps == 0 {
		return Result{}
	}
	return Result{Cost: c.penalty * float64(overlaps), Violated: true}
}
