package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/devskill-org/fleet-optimizer/constraints"
	"github.com/devskill-org/fleet-optimizer/models"
)

// chargerLookbackWindow bounds how far back a charge session still counts as
// an active connection.
const chargerLookbackWindow = 18 * time.Hour

// ActiveVehicles loads the site fleet: active, not VOR, with the telematics
// label when one exists.
func (s *Store) ActiveVehicles(ctx context.Context, siteID int) ([]*models.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			v.vehicle_id, v.site_id, v.active, v."VOR",
			v.charge_power_ac, v.charge_power_dc,
			v.battery_capacity, v.efficiency_kwh_mile,
			vt.telematic_label
		FROM t_vehicle v
		LEFT JOIN t_vehicle_telematics vt
			ON v.vehicle_id = vt.vehicle_id AND vt.telematic_id = 2
		WHERE v.site_id = $1
			AND v.active = true
			AND v."VOR" = false
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles for site %d: %w", siteID, err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v := &models.Vehicle{}
		var label sql.NullString
		var acRate, dcRate, battery, efficiency sql.NullFloat64
		if err := rows.Scan(
			&v.VehicleID, &v.SiteID, &v.Active, &v.VOR,
			&acRate, &dcRate, &battery, &efficiency,
			&label,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		v.ChargePowerACKW = acRate.Float64
		v.ChargePowerDCKW = dcRate.Float64
		v.BatteryCapacityKWh = battery.Float64
		v.EfficiencyKWhMile = efficiency.Float64
		v.Registration = label.String
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vehicles: %w", err)
	}

	if s.logger != nil {
		s.logger.Printf("loaded %d active vehicles for site %d", len(vehicles), siteID)
	}
	return vehicles, nil
}

// LoadVehicleStates applies the latest VSM row at or before the reference
// time onto each vehicle. Vehicles without telemetry keep their defaults.
func (s *Store) LoadVehicleStates(ctx context.Context, vehicles []*models.Vehicle, at time.Time) error {
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT date_time, status, route_id, estimated_soc, return_eta, return_soc
		FROM t_vsm
		WHERE vehicle_id = $1 AND date_time <= $2
		ORDER BY date_time DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare VSM query: %w", err)
	}
	defer stmt.Close()

	for _, v := range vehicles {
		var (
			dateTime  time.Time
			status    sql.NullString
			routeID   sql.NullString
			soc       sql.NullFloat64
			returnETA sql.NullTime
			returnSOC sql.NullFloat64
		)
		err := stmt.QueryRowContext(ctx, v.VehicleID, at).Scan(
			&dateTime, &status, &routeID, &soc, &returnETA, &returnSOC,
		)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load VSM for vehicle %d: %w", v.VehicleID, err)
		}

		v.CurrentStatus = models.VehicleStatus(status.String)
		v.CurrentRouteID = routeID.String
		if soc.Valid {
			v.EstimatedSOC = soc.Float64
		}
		if returnETA.Valid {
			eta := returnETA.Time
			v.ReturnETA = &eta
		}
		if returnSOC.Valid {
			r := returnSOC.Float64
			v.ReturnSOC = &r
		}
	}
	return nil
}

// Charger is one site charge point.
type Charger struct {
	ChargerID  string
	SiteID     int
	MaxPowerKW float64
	DCFlag     bool
}

// SiteChargers loads the charge points of a site keyed by charger id.
func (s *Store) SiteChargers(ctx context.Context, siteID int) (map[string]Charger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT charger_id, site_id, max_power, dc_flag
		FROM t_charger
		WHERE site_id = $1
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chargers for site %d: %w", siteID, err)
	}
	defer rows.Close()

	chargers := make(map[string]Charger)
	for rows.Next() {
		var c Charger
		var maxPower sql.NullFloat64
		var dcFlag sql.NullBool
		if err := rows.Scan(&c.ChargerID, &c.SiteID, &maxPower, &dcFlag); err != nil {
			return nil, fmt.Errorf("failed to scan charger: %w", err)
		}
		c.MaxPowerKW = maxPower.Float64
		c.DCFlag = dcFlag.Bool
		chargers[c.ChargerID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chargers: %w", err)
	}
	return chargers, nil
}

type chargerSession struct {
	chargerID string
	startedAt time.Time
}

// VehicleChargers maps each vehicle to its current charger. Only sessions
// started within the lookback window count; when two vehicles claim the same
// charger, the most recent session keeps it and the others are marked
// disconnected.
func (s *Store) VehicleChargers(ctx context.Context, vehicles []*models.Vehicle, at time.Time) (map[int]string, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT charger_id, start_date_time
		FROM t_vehicle_charge
		WHERE vehicle_id = $1 AND start_date_time >= $2 AND start_date_time <= $3
		ORDER BY start_date_time DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare charge session query: %w", err)
	}
	defer stmt.Close()

	cutoff := at.Add(-chargerLookbackWindow)
	sessions := make(map[int]chargerSession)
	for _, v := range vehicles {
		var chargerID string
		var startedAt time.Time
		err := stmt.QueryRowContext(ctx, v.VehicleID, cutoff, at).Scan(&chargerID, &startedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load charge session for vehicle %d: %w", v.VehicleID, err)
		}
		sessions[v.VehicleID] = chargerSession{chargerID: chargerID, startedAt: startedAt}
	}

	assignments := resolveChargerConflicts(sessions)
	for _, v := range vehicles {
		if _, ok := assignments[v.VehicleID]; !ok {
			assignments[v.VehicleID] = constraints.DisconnectedCharger
		}
	}
	return assignments, nil
}

// resolveChargerConflicts enforces charger uniqueness: when multiple vehicles
// hold sessions on the same charger, only the most recent session survives.
func resolveChargerConflicts(sessions map[int]chargerSession) map[int]string {
	byCharger := make(map[string][]int)
	for vehicleID, sess := range sessions {
		byCharger[sess.chargerID] = append(byCharger[sess.chargerID], vehicleID)
	}

	out := make(map[int]string, len(sessions))
	for chargerID, vehicleIDs := range byCharger {
		sort.Slice(vehicleIDs, func(i, j int) bool {
			a, b := sessions[vehicleIDs[i]], sessions[vehicleIDs[j]]
			if !a.startedAt.Equal(b.startedAt) {
				return a.startedAt.After(b.startedAt)
			}
			return vehicleIDs[i] < vehicleIDs[j]
		})
		out[vehicleIDs[0]] = chargerID
		for _, loser := range vehicleIDs[1:] {
			out[loser] = constraints.DisconnectedCharger
		}
	}
	return out
}

// FleetEfficiency returns the site-wide average kWh per mile over vehicles
// reporting a value, with the sample size.
func (s *Store) FleetEfficiency(ctx context.Context, siteID int) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(efficiency_kwh_mile), COUNT(efficiency_kwh_mile)
		FROM t_vehicle
		WHERE site_id = $1 AND active = true AND efficiency_kwh_mile > 0
	`, siteID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query fleet efficiency for site %d: %w", siteID, err)
	}
	return avg.Float64, count, nil
}
