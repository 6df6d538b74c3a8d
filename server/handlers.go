package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devskill-org/fleet-optimizer/controller"
	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/optimizer"
)

// UnifiedOptimizationRequest is the POST /optimize/unified body. Everything
// except site_id is optional and falls back to production defaults.
type UnifiedOptimizationRequest struct {
	SiteID      int    `json:"site_id" binding:"required"`
	TriggerType string `json:"trigger_type"`
	ScheduleID  int64  `json:"schedule_id"`

	// TestStartTime pins the run clock, ISO 8601 or "2006-01-02 15:04:05".
	TestStartTime string `json:"test_start_time"`

	Mode    string `json:"mode"`
	Persist *bool  `json:"persist_to_database"`

	WindowHours float64 `json:"window_hours"`

	AllocationTimeLimit  int      `json:"allocation_time_limit"`
	SchedulingTimeLimit  int      `json:"scheduling_time_limit"`
	IntegratedTimeLimit  int      `json:"integrated_time_limit"`
	RouteCountWeight     float64  `json:"route_count_weight"`
	AllocationWeight     float64  `json:"allocation_score_weight"`
	SchedulingWeight     float64  `json:"scheduling_cost_weight"`
	ShortfallPenalty     *float64 `json:"target_soc_shortfall_penalty"`
	TriadPenaltyFactor   *float64 `json:"triad_penalty_factor"`
	SyntheticPriceFactor *float64 `json:"synthetic_time_price_factor"`
	TargetSOCPercent     float64  `json:"target_soc_percent"`
	SiteCapacityKW       float64  `json:"site_capacity_kw"`
}

func parseStartTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid test_start_time %q, expected ISO 8601 or YYYY-MM-DD HH:MM:SS", value)
}

func (s *Server) handleUnifiedOptimization(c *gin.Context) {
	var req UnifiedOptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	mode, err := optimizer.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	at := time.Now().UTC()
	if req.TestStartTime != "" {
		at, err = parseStartTime(req.TestStartTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	persist := true
	if req.Persist != nil {
		persist = *req.Persist
	}

	uc := controller.NewUnifiedController(s.store, req.SiteID, s.appName, persist, s.logger)
	uc.Mode = mode
	uc.ScheduleID = req.ScheduleID
	if req.TriggerType != "" {
		uc.Trigger = req.TriggerType
	}
	if req.WindowHours > 0 {
		uc.WindowHours = req.WindowHours
	}
	applyConfigOverrides(uc, &req)

	result, err := uc.Run(c.Request.Context(), at)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	s.rememberSchedule(result.Schedule)
	s.hub.publish("optimization_completed", gin.H{
		"site_id":            req.SiteID,
		"mode":               string(result.Mode),
		"status":             result.Status,
		"combined_objective": result.CombinedObjective,
	})

	c.JSON(http.StatusOK, unifiedResponse(result))
}

// unifiedResponse shapes the POST /optimize/unified body: the cross-stage
// summary always, per-stage detail only for the stages that ran.
func unifiedResponse(result *controller.UnifiedRunResult) gin.H {
	resp := gin.H{
		"success":        true,
		"unified_result": unifiedResultJSON(result),
	}
	if result.Allocation != nil {
		resp["allocation"] = allocationJSON(result.Allocation)
	}
	if result.Schedule != nil {
		resp["schedule"] = scheduleJSON(result.Schedule)
	}
	return resp
}

func applyConfigOverrides(uc *controller.UnifiedController, req *UnifiedOptimizationRequest) {
	if req.AllocationTimeLimit > 0 {
		uc.Config.AllocationTimeLimit = time.Duration(req.AllocationTimeLimit) * time.Second
	}
	if req.SchedulingTimeLimit > 0 {
		uc.Config.SchedulingTimeLimit = time.Duration(req.SchedulingTimeLimit) * time.Second
	}
	if req.IntegratedTimeLimit > 0 {
		uc.Config.UnifiedTimeLimit = time.Duration(req.IntegratedTimeLimit) * time.Second
	}
	if req.RouteCountWeight > 0 {
		uc.Config.RouteCountWeight = req.RouteCountWeight
	}
	if req.AllocationWeight > 0 {
		uc.Config.AllocationWeight = req.AllocationWeight
	}
	if req.SchedulingWeight > 0 {
		uc.Config.SchedulingWeight = req.SchedulingWeight
	}
	if req.ShortfallPenalty != nil {
		uc.Config.ShortfallPenalty = *req.ShortfallPenalty
	}
	if req.TriadPenaltyFactor != nil {
		uc.Settings.TriadPenaltyFactor = *req.TriadPenaltyFactor
	}
	if req.SyntheticPriceFactor != nil {
		uc.Settings.SyntheticTimePriceFactor = *req.SyntheticPriceFactor
	}
	if req.TargetSOCPercent > 0 {
		uc.Settings.TargetSOCPercent = req.TargetSOCPercent
	}
	if req.SiteCapacityKW > 0 {
		// Express the override through the capacity chain with unity factors.
		uc.Settings.ASCKVA = req.SiteCapacityKW
		uc.Settings.PowerFactor = 1
		uc.Settings.SiteUsageFactor = 1
	}
}

// unifiedResultJSON is the cross-stage summary; per-stage detail rides in
// its own top-level object.
func unifiedResultJSON(result *controller.UnifiedRunResult) gin.H {
	out := gin.H{
		"mode":               string(result.Mode),
		"status":             result.Status,
		"combined_objective": result.CombinedObjective,
		"solve_time_seconds": result.SolveTime.Seconds(),
	}
	if result.Schedule != nil {
		out["schedule_id"] = result.Schedule.ScheduleID
	}
	return out
}

func allocationJSON(a *models.AllocationResult) gin.H {
	routes := make([]gin.H, 0, len(a.Allocations))
	for _, r := range a.Allocations {
		if !r.Allocated {
			continue
		}
		routes = append(routes, gin.H{
			"route_id":              r.RouteID,
			"vehicle_id":            r.VehicleID,
			"sequence_position":     r.SequencePosition,
			"cost":                  r.Cost,
			"estimated_arrival":     r.EstimatedArrival.UTC().Format(time.RFC3339),
			"estimated_arrival_soc": r.EstimatedArrivalSOC,
		})
	}
	return gin.H{
		"allocation_id":      a.AllocationID,
		"status":             a.Status,
		"total_score":        a.TotalScore,
		"routes_in_window":   a.RoutesInWindow,
		"routes_allocated":   a.RoutesAllocated,
		"unallocated_routes": a.UnallocatedRoutes,
		"allocations":        routes,
	}
}

func scheduleJSON(sr *models.ScheduleResult) gin.H {
	vehicles := make([]gin.H, 0, len(sr.VehicleSchedules))
	for _, vs := range sr.VehicleSchedules {
		vehicles = append(vehicles, gin.H{
			"vehicle_id":               vs.VehicleID,
			"initial_soc_kwh":          vs.InitialSOCKWh,
			"final_soc_kwh":            vs.FinalSOCKWh(),
			"target_soc_kwh":           vs.TargetSOCKWh,
			"energy_scheduled_kwh":     vs.TotalEnergyScheduled,
			"meets_route_requirements": vs.MeetsRouteRequirements,
			"energy_shortfall_kwh":     vs.EnergyShortfallKWh,
		})
	}
	return gin.H{
		"schedule_id":         sr.ScheduleID,
		"planning_start":      sr.PlanningStart,
		"planning_end":        sr.PlanningEnd,
		"actual_window_hours": sr.ActualWindowHours,
		"optimization_status": sr.OptimizationStatus,
		"total_energy_kwh":    sr.TotalEnergyKWh,
		"total_cost":          sr.TotalCost,
		"objective_value":     sr.ObjectiveValue,
		"validation_passed":   sr.ValidationPassed,
		"validation_errors":   sr.ValidationErrors,
		"vehicles":            vehicles,
	}
}

func (s *Server) handleScheduleReport(c *gin.Context) {
	scheduleID, err := strconv.ParseInt(c.Query("schedule_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "schedule_id must be an integer"})
		return
	}

	asOf := time.Now().UTC()
	if ts := c.Query("timestamp"); ts != "" {
		asOf, err = parseStartTime(ts)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	result, ok := s.lookupSchedule(scheduleID)
	if !ok {
		// Not from this process: fall back to the persisted profile.
		stored, err := s.store.LoadChargeSchedule(c.Request.Context(), scheduleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		if stored == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   fmt.Sprintf("schedule %d not found", scheduleID),
			})
			return
		}
		s.rememberSchedule(stored)
		result = stored
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  controller.BuildScheduleReport(result, asOf),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
		"engine_active": optimizer.EngineActive(),
	})
}

// seedSchedule preloads a schedule into the report registry, used by tests
// and warm starts.
func (s *Server) seedSchedule(result *models.ScheduleResult) {
	s.rememberSchedule(result)
}
