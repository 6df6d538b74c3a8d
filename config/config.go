// Package config holds the service configuration: database connection,
// HTTP listener, solver limits and scheduler setting overrides, loaded
// from a JSON file over built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config represents the configuration for the fleet optimizer service.
type Config struct {
	// Database settings
	PostgresConnString string `json:"postgres_conn_string"` // PostgreSQL connection string

	// Service settings
	ListenAddr string `json:"listen_addr"` // HTTP listen address for serve mode
	AppName    string `json:"app_name"`    // Application name recorded on persisted rows

	// Solver settings
	EngineActive        bool          `json:"engine_active"`         // Use the exact engine instead of the greedy fallback
	AllocationTimeLimit time.Duration `json:"allocation_time_limit"` // Time limit for allocation solves
	SchedulingTimeLimit time.Duration `json:"scheduling_time_limit"` // Time limit for scheduling solves
	UnifiedTimeLimit    time.Duration `json:"unified_time_limit"`    // Time limit for integrated solves
	CandidateCount      int           `json:"candidate_count"`       // Allocation candidates priced in integrated mode

	// Scheduler setting overrides
	PlanningWindowHours      float64 `json:"planning_window_hours"`       // Target scheduling horizon
	TargetSOCPercent         float64 `json:"target_soc_percent"`          // End-of-window state of charge target
	MinSOCPercent            float64 `json:"min_soc_percent"`             // Floor applied at every route departure
	RouteEnergySafetyFactor  float64 `json:"route_energy_safety_factor"`  // Margin on predicted route energy
	MinDepartureBufferMin    float64 `json:"min_departure_buffer_min"`    // Charging cutoff before each departure
	BackToBackThresholdMin   float64 `json:"back_to_back_threshold_min"`  // Gap below which routes count as back-to-back
	TriadPenaltyFactor       float64 `json:"triad_penalty_factor"`        // Cost added to TRIAD-flagged slots
	SyntheticTimePriceFactor float64 `json:"synthetic_time_price_factor"` // Early-slot tie-break weight
	PowerFactor              float64 `json:"power_factor"`                // kVA to kW conversion
	SiteUsageFactor          float64 `json:"site_usage_factor"`           // Share of site capacity open to charging

	// Logging settings
	LogPrefix string `json:"log_prefix"` // Prefix on every log line
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		PostgresConnString:       "",
		ListenAddr:               ":8090",
		AppName:                  "vehicle_allocation_system",
		EngineActive:             true,
		AllocationTimeLimit:      30 * time.Second,
		SchedulingTimeLimit:      300 * time.Second,
		UnifiedTimeLimit:         330 * time.Second,
		CandidateCount:           5,
		PlanningWindowHours:      24,
		TargetSOCPercent:         75,
		MinSOCPercent:            75,
		RouteEnergySafetyFactor:  1.15,
		MinDepartureBufferMin:    60,
		BackToBackThresholdMin:   90,
		TriadPenaltyFactor:       100,
		SyntheticTimePriceFactor: 0.01,
		PowerFactor:              0.85,
		SiteUsageFactor:          0.90,
		LogPrefix:                "",
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	config := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	return c.SaveConfigToWriter(file)
}

// SaveConfigToWriter saves the configuration to an io.Writer
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}

	return nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("app_name cannot be empty")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}

	if c.AllocationTimeLimit <= 0 {
		return fmt.Errorf("allocation_time_limit must be greater than 0, got: %s", c.AllocationTimeLimit)
	}

	if c.SchedulingTimeLimit <= 0 {
		return fmt.Errorf("scheduling_time_limit must be greater than 0, got: %s", c.SchedulingTimeLimit)
	}

	if c.UnifiedTimeLimit <= 0 {
		return fmt.Errorf("unified_time_limit must be greater than 0, got: %s", c.UnifiedTimeLimit)
	}

	if c.CandidateCount < 1 {
		return fmt.Errorf("candidate_count must be at least 1, got: %d", c.CandidateCount)
	}

	if c.PlanningWindowHours < 4 || c.PlanningWindowHours > 24 {
		return fmt.Errorf("planning_window_hours must be between 4 and 24, got: %f", c.PlanningWindowHours)
	}

	if c.TargetSOCPercent < 50 || c.TargetSOCPercent > 100 {
		return fmt.Errorf("target_soc_percent must be between 50 and 100, got: %f", c.TargetSOCPercent)
	}

	if c.MinSOCPercent < 0 || c.MinSOCPercent > c.TargetSOCPercent {
		return fmt.Errorf("min_soc_percent must be between 0 and target_soc_percent, got: %f", c.MinSOCPercent)
	}

	if c.RouteEnergySafetyFactor < 1 || c.RouteEnergySafetyFactor > 2 {
		return fmt.Errorf("route_energy_safety_factor must be between 1 and 2, got: %f", c.RouteEnergySafetyFactor)
	}

	if c.MinDepartureBufferMin < 0 {
		return fmt.Errorf("min_departure_buffer_min must be non-negative, got: %f", c.MinDepartureBufferMin)
	}

	if c.BackToBackThresholdMin < 0 {
		return fmt.Errorf("back_to_back_threshold_min must be non-negative, got: %f", c.BackToBackThresholdMin)
	}

	if c.TriadPenaltyFactor < 0 {
		return fmt.Errorf("triad_penalty_factor must be non-negative, got: %f", c.TriadPenaltyFactor)
	}

	if c.SyntheticTimePriceFactor < 0 {
		return fmt.Errorf("synthetic_time_price_factor must be non-negative, got: %f", c.SyntheticTimePriceFactor)
	}

	if c.PowerFactor <= 0 || c.PowerFactor > 1 {
		return fmt.Errorf("power_factor must be between 0 and 1, got: %f", c.PowerFactor)
	}

	if c.SiteUsageFactor <= 0 || c.SiteUsageFactor > 1 {
		return fmt.Errorf("site_usage_factor must be between 0 and 1, got: %f", c.SiteUsageFactor)
	}

	return nil
}

// MarshalJSON implements custom JSON marshaling to handle durations
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		AllocationTimeLimit string `json:"allocation_time_limit"`
		SchedulingTimeLimit string `json:"scheduling_time_limit"`
		UnifiedTimeLimit    string `json:"unified_time_limit"`
	}{
		Alias:               (*Alias)(c),
		AllocationTimeLimit: c.AllocationTimeLimit.String(),
		SchedulingTimeLimit: c.SchedulingTimeLimit.String(),
		UnifiedTimeLimit:    c.UnifiedTimeLimit.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling to handle durations
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		AllocationTimeLimit string `json:"allocation_time_limit"`
		SchedulingTimeLimit string `json:"scheduling_time_limit"`
		UnifiedTimeLimit    string `json:"unified_time_limit"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if aux.AllocationTimeLimit != "" {
		if c.AllocationTimeLimit, err = time.ParseDuration(aux.AllocationTimeLimit); err != nil {
			return fmt.Errorf("invalid allocation_time_limit: %w", err)
		}
	}

	if aux.SchedulingTimeLimit != "" {
		if c.SchedulingTimeLimit, err = time.ParseDuration(aux.SchedulingTimeLimit); err != nil {
			return fmt.Errorf("invalid scheduling_time_limit: %w", err)
		}
	}

	if aux.UnifiedTimeLimit != "" {
		if c.UnifiedTimeLimit, err = time.ParseDuration(aux.UnifiedTimeLimit); err != nil {
			return fmt.Errorf("invalid unified_time_limit: %w", err)
		}
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
