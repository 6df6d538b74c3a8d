package constraints

import (
	"fmt"
	"log"
	"strings"

	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

// Evaluation is the aggregate verdict of the manager over one candidate.
type Evaluation struct {
	TotalCost float64
	Breakdown map[string]float64
	Feasible  bool
}

// Manager runs the registered constraints over candidate sequences. Hard
// violations fail fast: remaining constraints are skipped and the partial
// breakdown is returned.
type Manager struct {
	constraints []Constraint
	logger      *log.Logger
}

// NewManager builds the constraint pipeline from per-constraint configs in
// registration order. Route overlap is structural and is forced on even
// when disabled in config.
func NewManager(configs []maf.ConstraintConfig, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONSTRAINTS] ", log.LstdFlags)
	}

	m := &Manager{logger: logger}
	for _, cfg := range configs {
		switch cfg.Name {
		case "energy_feasibility":
			m.constraints = append(m.constraints, newEnergyFeasibility(cfg))
		case "turnaround_time_strict":
			m.constraints = append(m.constraints, newTurnaroundStrict(cfg))
		case "turnaround_time_preferred":
			m.constraints = append(m.constraints, newTurnaroundPreferred(cfg))
		case "shift_hours_strict":
			m.constraints = append(m.constraints, newShiftHours(cfg))
		case "route_overlap":
			if !cfg.Enabled {
				logger.Printf("route_overlap disabled in config, forcing on")
				cfg.Enabled = true
			}
			m.constraints = append(m.constraints, newRouteOverlap(cfg))
		case "charger_preference":
			m.constraints = append(m.constraints, newChargerPreference(cfg, logger))
		default:
			logger.Printf("ignoring unknown constraint %q", cfg.Name)
		}
	}
	return m
}

// Evaluate scores the candidate against every enabled constraint.
func (m *Manager) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Evaluation {
	eval := Evaluation{Breakdown: make(map[string]float64), Feasible: true}

	for _, c := range m.constraints {
		if !c.Enabled() {
			continue
		}
		res := c.Evaluate(vehicle, sequence, ctx)
		eval.Breakdown[c.Name()] = res.Cost
		eval.TotalCost += res.Cost

		if c.Hard() && res.Violated {
			eval.Feasible = false
			return eval
		}
	}
	return eval
}

// Enabled returns the names of the active constraints in evaluation order.
func (m *Manager) Enabled() []string {
	var names []string
	for _, c := range m.constraints {
		if c.Enabled() {
			names = append(names, c.Name())
		}
	}
	return names
}

func (m *Manager) String() string {
	return fmt.Sprintf("ConstraintManager(%s)", strings.Join(m.Enabled(), ", "))
}
