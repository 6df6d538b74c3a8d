package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// RoutesInWindow loads the unallocated route plan of a site whose departures
// fall inside [start, end].
func (s *Store) RoutesInWindow(ctx context.Context, siteID int, start, end time.Time) ([]*models.Route, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route_id, site_id, vehicle_id, route_status, route_alias,
			plan_start_date_time, plan_end_date_time, plan_mileage, n_orders
		FROM t_route_plan
		WHERE site_id = $1
			AND route_status = 'N'
			AND plan_start_date_time >= $2
			AND plan_start_date_time <= $3
		ORDER BY plan_start_date_time ASC
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes for site %d: %w", siteID, err)
	}
	defer rows.Close()

	return scanRoutes(rows)
}

// RoutesWithVehicles loads the routes of the window together with their
// vehicle bindings: either the preassignment on the route plan or the
// allocation table, depending on the source mode.
func (s *Store) RoutesWithVehicles(ctx context.Context, siteID int, start, end time.Time, mode models.RouteSourceMode) ([]*models.Route, error) {
	if mode == models.RoutePlanOnly {
		rows, err := s.db.QueryContext(ctx, `
			SELECT route_id, site_id, vehicle_id, route_status, route_alias,
				plan_start_date_time, plan_end_date_time, plan_mileage, n_orders
			FROM t_route_plan
			WHERE site_id = $1
				AND plan_start_date_time >= $2
				AND plan_start_date_time <= $3
				AND vehicle_id IS NOT NULL
			ORDER BY plan_start_date_time ASC
		`, siteID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to query planned routes for site %d: %w", siteID, err)
		}
		defer rows.Close()
		return scanRoutes(rows)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.route_id, rp.site_id, ra.vehicle_id_allocated, rp.route_status,
			rp.route_alias, rp.plan_start_date_time, rp.plan_end_date_time,
			rp.plan_mileage, rp.n_orders
		FROM t_route_plan rp
		INNER JOIN t_route_allocated ra ON rp.route_id = ra.route_id
		WHERE rp.site_id = $1
			AND rp.plan_start_date_time >= $2
			AND rp.plan_start_date_time <= $3
		ORDER BY rp.plan_start_date_time ASC
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocated routes for site %d: %w", siteID, err)
	}
	defer rows.Close()
	return scanRoutes(rows)
}

func scanRoutes(rows *sql.Rows) ([]*models.Route, error) {
	var routes []*models.Route
	for rows.Next() {
		r := &models.Route{}
		var vehicleID sql.NullInt64
		var alias, status sql.NullString
		var mileage sql.NullFloat64
		var nOrders sql.NullInt64
		if err := rows.Scan(
			&r.RouteID, &r.SiteID, &vehicleID, &status, &alias,
			&r.PlanStart, &r.PlanEnd, &mileage, &nOrders,
		); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		r.VehicleID = int(vehicleID.Int64)
		r.RouteAlias = alias.String
		r.RouteStatus = status.String
		r.PlanMileage = mileage.Float64
		r.NOrders = int(nOrders.Int64)
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routes: %w", err)
	}
	return routes, nil
}

// CreateAllocationMonitor opens a monitor row for an allocation run and
// returns its id.
func (s *Store) CreateAllocationMonitor(ctx context.Context, siteID int, trigger string, runTime, windowStart, windowEnd time.Time) (int64, error) {
	var allocationID int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO t_allocation_monitor (
			site_id, status, trigger_type, run_datetime,
			allocation_window_start, allocation_window_end
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING allocation_id
	`, siteID, models.AllocationStatusNew, trigger, runTime, windowStart, windowEnd).Scan(&allocationID)
	if err != nil {
		return 0, fmt.Errorf("failed to create allocation monitor: %w", err)
	}
	return allocationID, nil
}

// UpdateAllocationMonitor finalizes a monitor row with the run outcome.
func (s *Store) UpdateAllocationMonitor(ctx context.Context, result *models.AllocationResult) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE t_allocation_monitor
		SET status = $1, score = $2, routes_in_window = $3,
			routes_allocated = $4, routes_overlapping_count = $5
		WHERE allocation_id = $6
	`, result.Status, result.TotalScore, result.RoutesInWindow,
		result.RoutesAllocated, result.RoutesOverlappingCount, result.AllocationID)
	if err != nil {
		return fmt.Errorf("failed to update allocation monitor %d: %w", result.AllocationID, err)
	}
	return nil
}

// ReplaceAllocations swaps the live allocation of a site for the new result
// in one transaction and appends every row to the history table.
func (s *Store) ReplaceAllocations(ctx context.Context, result *models.AllocationResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM t_route_allocated WHERE site_id = $1`, result.SiteID); err != nil {
		return fmt.Errorf("failed to delete existing allocations: %w", err)
	}

	insertLive, err := tx.PrepareContext(ctx, `
		INSERT INTO t_route_allocated (
			allocation_id, route_id, site_id, vehicle_id_allocated,
			status, estimated_arrival, estimated_arrival_soc,
			http_response, vehicle_id_actual
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare allocation insert: %w", err)
	}
	defer insertLive.Close()

	insertHistory, err := tx.PrepareContext(ctx, `
		INSERT INTO t_route_allocated_history (
			allocation_id, route_id, site_id, vehicle_id_allocated,
			status, estimated_arrival, estimated_arrival_soc,
			http_response, vehicle_id_actual
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare allocation history insert: %w", err)
	}
	defer insertHistory.Close()

	for _, a := range result.Allocations {
		if !a.Allocated {
			continue
		}
		args := []any{
			result.AllocationID, a.RouteID, result.SiteID, a.VehicleID,
			models.AllocationStatusNew, a.EstimatedArrival, a.EstimatedArrivalSOC,
			-1, a.VehicleID,
		}
		if _, err := insertLive.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert allocation for route %s: %w", a.RouteID, err)
		}
		if _, err := insertHistory.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert allocation history for route %s: %w", a.RouteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit allocations: %w", err)
	}

	if s.logger != nil {
		s.logger.Printf("persisted %d allocations for site %d (allocation %d)",
			result.RoutesAllocated, result.SiteID, result.AllocationID)
	}
	return nil
}
