package constraints

import (
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/devskill-org/fleet-optimizer/maf"
	"github.com/devskill-org/fleet-optimizer/models"
)

// chargerPreference rewards assignments that keep vehicles on their
// preferred chargers: routes departing inside the time window are ranked by
// departure, vehicles are ranked by the cost of their bound charger, and a
// vehicle earns its charger cost when it serves the route matching its
// rank.
type chargerPreference struct {
	base
	logger  *log.Logger
	costMap map[string]float64
}

var groupedMapPattern = regexp.MustCompile(`\[([^\]]*)\]\s*:\s*(-?\d+(?:\.\d+)?)`)

func newChargerPreference(cfg maf.ConstraintConfig, logger *log.Logger) *chargerPreference {
	c := &chargerPreference{base: newBase(cfg), logger: logger}
	c.costMap = c.parseCostMap()
	return c
}

func (c *chargerPreference) Hard() bool { return false }

// parseCostMap accepts either a JSON object {"87": 3, "DISC": 2} or the
// grouped shorthand [87,86]:3,[DISC]:2. Anything else logs a warning and
// disables the constraint for the run.
func (c *chargerPreference) parseCostMap() map[string]float64 {
	raw, ok := c.params["charger_map"]
	if !ok {
		return map[string]float64{}
	}

	out := map[string]float64{}
	switch v := raw.(type) {
	case map[string]any:
		for id, costVal := range v {
			switch cost := costVal.(type) {
			case float64:
				out[id] = cost
			case int:
				out[id] = float64(cost)
			default:
				c.warnf("charger_map entry %q has non-numeric cost %v", id, costVal)
				return map[string]float64{}
			}
		}
	case string:
		matches := groupedMapPattern.FindAllStringSubmatch(v, -1)
		if len(matches) == 0 {
			c.warnf("unparseable charger_map %q, treating as empty", v)
			return map[string]float64{}
		}
		for _, m := range matches {
			cost, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				c.warnf("invalid cost in charger_map group %q", m[0])
				return map[string]float64{}
			}
			for _, id := range strings.Split(m[1], ",") {
				id = strings.TrimSpace(id)
				if id != "" {
					out[id] = cost
				}
			}
		}
	default:
		c.warnf("unexpected charger_map type %T, treating as empty", raw)
	}
	return out
}

func (c *chargerPreference) warnf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("charger_preference: "+format, args...)
	}
}

func (c *chargerPreference) Evaluate(vehicle *models.Vehicle, sequence []*models.Route, ctx *Context) Result {
	if len(sequence) == 0 || len(c.costMap) == 0 || ctx == nil {
		return Result{}
	}

	routeRanks := c.rankRoutes(ctx)
	vehicleRanks := c.rankVehicles(ctx)

	vehicleRank, ok := vehicleRanks[vehicle.VehicleID]
	if !ok {
		return Result{}
	}
	chargerCost := c.costMap[ctx.ChargerFor(vehicle.VehicleID)]

	cost := 0.0
	for _, route := range c.targetRoutes(sequence) {
		if rank, ok := routeRanks[route.RouteID]; ok && rank == vehicleRank {
			cost += chargerCost
		}
	}
	return Result{Cost: cost}
}

// rankRoutes orders the window's routes by departure and assigns 0-based
// ranks. Only routes departing inside the configured time-of-day window
// participate.
func (c *chargerPreference) rankRoutes(ctx *Context) map[string]int {
	var eligible []*models.Route
	for _, r := range ctx.AllRoutes {
		if c.inTimeWindow(r) {
			eligible = append(eligible, r)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].PlanStart.Before(eligible[j].PlanStart)
	})

	ranks := make(map[string]int, len(eligible))
	for i, r := range eligible {
		ranks[r.RouteID] = i
	}
	return ranks
}

// rankVehicles orders vehicles by their charger cost descending, so the
// best-placed vehicle gets rank 0 and the earliest route.
func (c *chargerPreference) rankVehicles(ctx *Context) map[int]int {
	vehicles := make([]*models.Vehicle, len(ctx.AllVehicles))
	copy(vehicles, ctx.AllVehicles)

	sort.SliceStable(vehicles, func(i, j int) bool {
		ci := c.costMap[ctx.ChargerFor(vehicles[i].VehicleID)]
		cj := c.costMap[ctx.ChargerFor(vehicles[j].VehicleID)]
		if ci != cj {
			return ci > cj
		}
		return vehicles[i].VehicleID < vehicles[j].VehicleID
	})

	ranks := make(map[int]int, len(vehicles))
	for i, v := range vehicles {
		ranks[v.VehicleID] = i
	}
	return ranks
}

func (c *chargerPreference) inTimeWindow(route *models.Route) bool {
	start, haveStart := c.timeParam("time_window_start_period")
	end, haveEnd := c.timeParam("time_window_end_period")
	if !haveStart || !haveEnd {
		return true
	}

	minutes := route.PlanStart.Hour()*60 + route.PlanStart.Minute()
	startMin, endMin := start.Minutes(), end.Minutes()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	// Window wraps midnight.
	return minutes >= startMin || minutes < endMin
}

func (c *chargerPreference) targetRoutes(sequence []*models.Route) []*models.Route {
	switch c.stringParam("apply_to_position", "first") {
	case "all":
		return sequence
	case "longest":
		longest := sequence[0]
		for _, r := range sequence[1:] {
			if r.DurationHours() > longest.DurationHours() {
				longest = r
			}
		}
		return []*models.Route{longest}
	default:
		return sequence[:1]
	}
}
