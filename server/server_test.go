package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/fleet-optimizer/controller"
	"github.com/devskill-org/fleet-optimizer/models"
)

// stubStore satisfies the datastore interface for handlers that never reach
// the database. Any unexpected call panics through the nil embed. stored
// backs the persisted-schedule fallback of the report endpoint.
type stubStore struct {
	controller.Datastore
	stored *models.ScheduleResult
}

func (s *stubStore) LoadChargeSchedule(ctx context.Context, scheduleID int64) (*models.ScheduleResult, error) {
	if s.stored != nil && s.stored.ScheduleID == scheduleID {
		return s.stored, nil
	}
	return nil, nil
}

func testServer() *Server {
	logger := log.New(os.Stderr, "[TEST] ", log.LstdFlags)
	return New(&stubStore{}, "vehicle_allocation_system", ":0", logger)
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer()
	rec := doRequest(s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.NotEmpty(t, resp["timestamp"])
}

func TestUnifiedEndpointRejectsMissingSiteID(t *testing.T) {
	s := testServer()
	rec := doRequest(s, http.MethodPost, "/optimize/unified", `{"mode":"integrated"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnifiedEndpointRejectsBadMode(t *testing.T) {
	s := testServer()
	rec := doRequest(s, http.MethodPost, "/optimize/unified", `{"site_id":10,"mode":"quantum"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnifiedEndpointRejectsBadStartTime(t *testing.T) {
	s := testServer()
	rec := doRequest(s, http.MethodPost, "/optimize/unified",
		`{"site_id":10,"test_start_time":"11/02/2026 4pm"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleReportNotFound(t *testing.T) {
	s := testServer()
	rec := doRequest(s, http.MethodGet, "/report/schedule?schedule_id=99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleReportBadID(t *testing.T) {
	s := testServer()
	rec := doRequest(s, http.MethodGet, "/report/schedule?schedule_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleReportFromRegistry(t *testing.T) {
	s := testServer()
	s.seedSchedule(&models.ScheduleResult{
		ScheduleID: 42,
		SiteID:     10,
		TotalCost:  3.5,
		VehicleSchedules: []models.VehicleChargeSchedule{
			{VehicleID: 1, InitialSOCKWh: 20, TotalEnergyScheduled: 10},
		},
	})

	rec := doRequest(s, http.MethodGet, "/report/schedule?schedule_id=42", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Report  struct {
			ScheduleID int64 `json:"schedule_id"`
			Totals     struct {
				TotalCost    float64 `json:"total_cost"`
				VehicleCount int     `json:"vehicle_count"`
			} `json:"totals"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(42), resp.Report.ScheduleID)
	assert.InDelta(t, 3.5, resp.Report.Totals.TotalCost, 1e-9)
	assert.Equal(t, 1, resp.Report.Totals.VehicleCount)
}

func TestScheduleReportFallsBackToStore(t *testing.T) {
	slot := time.Date(2026, 2, 11, 6, 0, 0, 0, time.UTC)
	logger := log.New(os.Stderr, "[TEST] ", log.LstdFlags)
	ds := &stubStore{stored: &models.ScheduleResult{
		ScheduleID: 77,
		SiteID:     10,
		VehicleSchedules: []models.VehicleChargeSchedule{
			{
				VehicleID:            1,
				TotalEnergyScheduled: 5,
				ChargeSlots: []models.ChargeSlot{
					{TimeSlot: slot, ChargePowerKW: 10, CumulativeEnergyKWh: 5},
				},
				MeetsRouteRequirements: true,
			},
		},
		TotalEnergyKWh: 5,
	}}
	s := New(ds, "vehicle_allocation_system", ":0", logger)

	// Nothing in the in-memory registry: the persisted profile serves it.
	rec := doRequest(s, http.MethodGet, "/report/schedule?schedule_id=77", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Report  struct {
			ScheduleID int64 `json:"schedule_id"`
			Totals     struct {
				TotalEnergyKWh float64 `json:"total_energy_kwh"`
				VehicleCount   int     `json:"vehicle_count"`
			} `json:"totals"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(77), resp.Report.ScheduleID)
	assert.InDelta(t, 5.0, resp.Report.Totals.TotalEnergyKWh, 1e-9)
	assert.Equal(t, 1, resp.Report.Totals.VehicleCount)

	// The fallback result is cached for the next request.
	_, ok := s.lookupSchedule(77)
	assert.True(t, ok)
}

func TestUnifiedResponseShape(t *testing.T) {
	result := &controller.UnifiedRunResult{
		Mode:              "integrated",
		Status:            "optimal",
		CombinedObjective: 12.5,
		Allocation: &models.AllocationResult{
			Status:          models.AllocationStatusAccepted,
			TotalScore:      -1.5,
			RoutesInWindow:  2,
			RoutesAllocated: 2,
			Allocations: []models.RouteAllocation{
				{RouteID: "A", VehicleID: 1, Allocated: true},
			},
		},
		Schedule: &models.ScheduleResult{
			ScheduleID:       42,
			TotalEnergyKWh:   30,
			ValidationPassed: true,
			VehicleSchedules: []models.VehicleChargeSchedule{
				{VehicleID: 1, InitialSOCKWh: 20, TotalEnergyScheduled: 30, MeetsRouteRequirements: true},
			},
		},
	}

	resp := unifiedResponse(result)
	assert.Equal(t, true, resp["success"])

	unified, ok := resp["unified_result"].(gin.H)
	require.True(t, ok)
	assert.Equal(t, "integrated", unified["mode"])
	assert.Equal(t, int64(42), unified["schedule_id"])

	alloc, ok := resp["allocation"].(gin.H)
	require.True(t, ok)
	assert.Equal(t, models.AllocationStatusAccepted, alloc["status"])
	assert.Equal(t, 2, alloc["routes_allocated"])

	sched, ok := resp["schedule"].(gin.H)
	require.True(t, ok)
	assert.Equal(t, int64(42), sched["schedule_id"])
	assert.Equal(t, true, sched["validation_passed"])

	// Stages that did not run are absent.
	schedOnly := unifiedResponse(&controller.UnifiedRunResult{Mode: "scheduling_only", Schedule: result.Schedule})
	_, hasAlloc := schedOnly["allocation"]
	assert.False(t, hasAlloc)
}

func TestParseStartTimeFormats(t *testing.T) {
	want := time.Date(2026, 2, 11, 16, 30, 0, 0, time.UTC)
	for _, in := range []string{
		"2026-02-11T16:30:00Z",
		"2026-02-11T16:30:00",
		"2026-02-11 16:30:00",
	} {
		got, err := parseStartTime(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(want), in)
	}

	_, err := parseStartTime("next tuesday")
	assert.Error(t, err)
}
