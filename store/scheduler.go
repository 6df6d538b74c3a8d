package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// Tariff is one half-hour price row.
type Tariff struct {
	Price float64
	Triad bool
}

// CreateScheduler opens a scheduler run row and returns its id.
func (s *Store) CreateScheduler(ctx context.Context, siteID int) (int64, error) {
	var scheduleID int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO t_scheduler (device_id, scheduler_type, status, latest_schedule, created_datetime)
		VALUES ($1, 'dynamic', $2, true, $3)
		RETURNING schedule_id
	`, siteID, models.SchedulerStatusRunning, time.Now().UTC()).Scan(&scheduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to create scheduler run: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("created scheduler run %d for site %d", scheduleID, siteID)
	}
	return scheduleID, nil
}

// SchedulerSite resolves an existing schedule id to its site and status.
func (s *Store) SchedulerSite(ctx context.Context, scheduleID int64) (int, string, error) {
	var siteID int
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, status
		FROM t_scheduler
		WHERE schedule_id = $1
	`, scheduleID).Scan(&siteID, &status)
	if err == sql.ErrNoRows {
		return 0, "", fmt.Errorf("schedule %d not found", scheduleID)
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}
	return siteID, status, nil
}

// LoadChargeSchedule reads a persisted schedule back into result form,
// nil when the schedule id is unknown. Prices are not stored alongside the
// power profile, so the cost figures are not reconstructed.
func (s *Store) LoadChargeSchedule(ctx context.Context, scheduleID int64) (*models.ScheduleResult, error) {
	var siteID int
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id FROM t_scheduler WHERE schedule_id = $1
	`, scheduleID).Scan(&siteID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle_id, date_time, charge_power_kw, connector_id
		FROM t_charge_schedule
		WHERE schedule_id = $1
		ORDER BY vehicle_id ASC, date_time ASC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule %d rows: %w", scheduleID, err)
	}
	defer rows.Close()

	result := &models.ScheduleResult{
		ScheduleID:       scheduleID,
		SiteID:           siteID,
		ValidationPassed: true,
	}
	var current *models.VehicleChargeSchedule
	for rows.Next() {
		var vehicleID int
		var ts time.Time
		var power sql.NullFloat64
		var connector sql.NullString
		if err := rows.Scan(&vehicleID, &ts, &power, &connector); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		ts = ts.UTC()

		if result.PlanningStart.IsZero() || ts.Before(result.PlanningStart) {
			result.PlanningStart = ts
		}
		if end := ts.Add(models.SlotDuration); end.After(result.PlanningEnd) {
			result.PlanningEnd = end
		}

		if current == nil || current.VehicleID != vehicleID {
			result.VehicleSchedules = append(result.VehicleSchedules, models.VehicleChargeSchedule{
				ScheduleID:             scheduleID,
				VehicleID:              vehicleID,
				AssignedChargerID:      connector.String,
				MeetsRouteRequirements: true,
			})
			current = &result.VehicleSchedules[len(result.VehicleSchedules)-1]
		}
		if power.Float64 <= 0.01 {
			continue
		}
		energy := power.Float64 * models.SlotHours
		current.TotalEnergyScheduled += energy
		current.ChargeSlots = append(current.ChargeSlots, models.ChargeSlot{
			TimeSlot:            ts,
			ChargePowerKW:       power.Float64,
			CumulativeEnergyKWh: current.TotalEnergyScheduled,
		})
		result.TotalEnergyKWh += energy
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}

	result.VehiclesScheduled = len(result.VehicleSchedules)
	if !result.PlanningStart.IsZero() {
		result.ActualWindowHours = result.PlanningEnd.Sub(result.PlanningStart).Hours()
	}
	return result, nil
}

// UpdateSchedulerStatus sets the run status of a schedule.
func (s *Store) UpdateSchedulerStatus(ctx context.Context, scheduleID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE t_scheduler SET status = $1 WHERE schedule_id = $2
	`, status, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to update schedule %d status: %w", scheduleID, err)
	}
	return nil
}

// SiteASC loads the agreed site capacity in kVA. The second return is false
// when the site has no capacity on record.
func (s *Store) SiteASC(ctx context.Context, siteID int) (float64, bool, error) {
	var asc sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT "ASC" FROM t_site WHERE site_id = $1
	`, siteID).Scan(&asc)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load site %d capacity: %w", siteID, err)
	}
	return asc.Float64, asc.Valid, nil
}

// ForecastHorizon returns the latest forecast timestamp on record for the
// site; the second return is false when no forecast exists.
func (s *Store) ForecastHorizon(ctx context.Context, siteID int) (time.Time, bool, error) {
	var horizon sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(forecasted_date_time)
		FROM t_site_energy_forecast_history
		WHERE site_id = $1
	`, siteID).Scan(&horizon)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query forecast horizon: %w", err)
	}
	return horizon.Time, horizon.Valid, nil
}

// PriceHorizon returns the latest tariff timestamp on record; the second
// return is false when no prices exist.
func (s *Store) PriceHorizon(ctx context.Context) (time.Time, bool, error) {
	var horizon sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(date_time) FROM t_multisite_electricity_price
	`).Scan(&horizon)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query price horizon: %w", err)
	}
	return horizon.Time, horizon.Valid, nil
}

// ForecastRange loads the forecast site consumption in kW keyed by slot.
// Slots absent from the result carry an implicit 0.
func (s *Store) ForecastRange(ctx context.Context, siteID int, start, end time.Time) (map[time.Time]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT forecasted_date_time, forecasted_consumption
		FROM t_site_energy_forecast_history
		WHERE site_id = $1
			AND forecasted_date_time >= $2
			AND forecasted_date_time < $3
		ORDER BY forecasted_date_time ASC
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast for site %d: %w", siteID, err)
	}
	defer rows.Close()

	forecast := make(map[time.Time]float64)
	for rows.Next() {
		var ts time.Time
		var consumption sql.NullFloat64
		if err := rows.Scan(&ts, &consumption); err != nil {
			return nil, fmt.Errorf("failed to scan forecast row: %w", err)
		}
		forecast[ts.UTC()] = consumption.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecast rows: %w", err)
	}
	return forecast, nil
}

// PriceRange loads the half-hourly tariff with its TRIAD flag keyed by slot.
// The column name carries a historical typo.
func (s *Store) PriceRange(ctx context.Context, start, end time.Time) (map[time.Time]Tariff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_time, electricty_price_fixed, triad
		FROM t_multisite_electricity_price
		WHERE date_time >= $1 AND date_time < $2
		ORDER BY date_time ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[time.Time]Tariff)
	for rows.Next() {
		var ts time.Time
		var price sql.NullFloat64
		var triad sql.NullBool
		if err := rows.Scan(&ts, &price, &triad); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		prices[ts.UTC()] = Tariff{Price: price.Float64, Triad: triad.Bool}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price rows: %w", err)
	}
	return prices, nil
}

// ReplaceChargeSchedule swaps the persisted schedule for a run in one
// transaction. Every (vehicle, slot) pair of the grid is written, zero power
// included, so downstream consumers see a dense profile.
func (s *Store) ReplaceChargeSchedule(ctx context.Context, scheduleID int64, timeSlots []time.Time, schedules []models.VehicleChargeSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM t_charge_schedule WHERE schedule_id = $1`, scheduleID); err != nil {
		return fmt.Errorf("failed to delete existing schedule rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO t_charge_schedule (
			schedule_id, vehicle_id, date_time, charge_power_kw,
			power_unit_id, charge_profile_flag, connector_id,
			created_datetime, capacity_line, opt_level
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare schedule insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	total := 0
	for _, vs := range schedules {
		connectorID := vs.AssignedChargerID
		if connectorID == "" {
			connectorID = "1"
		}
		powerBySlot := make(map[time.Time]float64, len(vs.ChargeSlots))
		for _, slot := range vs.ChargeSlots {
			powerBySlot[slot.TimeSlot] = slot.ChargePowerKW
		}

		for _, slotTime := range timeSlots {
			_, err := stmt.ExecContext(ctx,
				scheduleID, vs.VehicleID, slotTime, powerBySlot[slotTime],
				nil, true, connectorID, now, 250, nil,
			)
			if err != nil {
				return fmt.Errorf("failed to insert schedule row for vehicle %d at %s: %w",
					vs.VehicleID, slotTime, err)
			}
			total++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schedule: %w", err)
	}

	if s.logger != nil {
		s.logger.Printf("persisted %d schedule rows for schedule %d (%d vehicles, %d slots)",
			total, scheduleID, len(schedules), len(timeSlots))
	}
	return nil
}
