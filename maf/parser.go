// Package maf parses the hierarchical site configuration served by the
// module administration facility: client -> site -> {parameters, vehicles}.
// Every parameter value arrives as a string; types are inferred from the
// parameter name.
package maf

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// SiteConfig is the parsed configuration for one site.
type SiteConfig struct {
	SiteID          int
	Parameters      map[string]any
	EnabledVehicles []int
}

// TimeOfDay is a clock time parsed from an HH:MM:SS parameter value.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

type rawParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type rawVehicle struct {
	VehicleID int    `json:"vehicle_id"`
	Enabled   string `json:"enabled"`
}

type rawSite struct {
	SiteID     int            `json:"site_id"`
	Parameters []rawParameter `json:"parameters"`
	Vehicles   []rawVehicle   `json:"vehicles"`
}

type rawClient struct {
	ClientID int       `json:"client_id"`
	Sites    []rawSite `json:"sites"`
}

type rawResponse struct {
	Clients []rawClient `json:"clients"`
}

var nullValues = map[string]bool{
	"":         true,
	"NONE":     true,
	"None":     true,
	"none":     true,
	"NO_VALUE": true,
}

var numericSuffixes = []string{
	"_minutes", "_hours", "_seconds", "_kwh", "_penalty",
	"_weight", "_bonus", "_threshold", "_count", "_margin",
}

// ParseValue coerces a raw string parameter into its typed form based on the
// parameter name. Unrecognized shapes stay strings.
func ParseValue(name, value string) any {
	if nullValues[value] {
		return nil
	}

	lower := strings.ToLower(strings.TrimSpace(value))
	if strings.HasSuffix(name, "_enabled") || strings.HasSuffix(name, "_flag") ||
		lower == "true" || lower == "false" || lower == "yes" || lower == "no" {
		return lower == "true" || lower == "yes" || lower == "1"
	}

	if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{") {
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			return parsed
		}
		return value
	}

	if strings.HasSuffix(name, "_period") && strings.Contains(value, ":") {
		if tod, err := parseTimeOfDay(value); err == nil {
			return tod
		}
		return value
	}

	for _, suffix := range numericSuffixes {
		if strings.HasSuffix(name, suffix) {
			if i, err := strconv.ParseInt(value, 10, 64); err == nil {
				return int(i)
			}
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				return f
			}
			return value
		}
	}

	return value
}

func parseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time value %q", value)
	}
	var tod TimeOfDay
	var err error
	if tod.Hour, err = strconv.Atoi(parts[0]); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", value, err)
	}
	if tod.Minute, err = strconv.Atoi(parts[1]); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", value, err)
	}
	if len(parts) == 3 {
		if tod.Second, err = strconv.Atoi(parts[2]); err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q: %w", value, err)
		}
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 || tod.Second < 0 || tod.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("time value %q out of range", value)
	}
	return tod, nil
}

// ParseResponse walks the client/site hierarchy and extracts the typed
// parameter map and enabled-vehicle list for one site. A site absent from
// the response yields an empty config, not an error.
func ParseResponse(payload []byte, siteID int) (*SiteConfig, error) {
	cfg := &SiteConfig{SiteID: siteID, Parameters: map[string]any{}}

	if len(payload) == 0 {
		return cfg, nil
	}

	var resp rawResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode module parameters: %w", err)
	}

	for _, client := range resp.Clients {
		for _, site := range client.Sites {
			if site.SiteID != siteID {
				continue
			}
			for _, p := range site.Parameters {
				cfg.Parameters[p.Name] = ParseValue(p.Name, p.Value)
			}
			for _, v := range site.Vehicles {
				enabled := strings.ToLower(strings.TrimSpace(v.Enabled))
				if enabled == "true" || enabled == "yes" || enabled == "1" {
					cfg.EnabledVehicles = append(cfg.EnabledVehicles, v.VehicleID)
				}
			}
			return cfg, nil
		}
	}

	return cfg, nil
}

// FloatParam returns a numeric parameter or the fallback when absent or
// non-numeric.
func (c *SiteConfig) FloatParam(name string, fallback float64) float64 {
	switch v := c.Parameters[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// IntParam returns an integer parameter or the fallback.
func (c *SiteConfig) IntParam(name string, fallback int) int {
	switch v := c.Parameters[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// BoolParam returns a boolean parameter or the fallback.
func (c *SiteConfig) BoolParam(name string, fallback bool) bool {
	if v, ok := c.Parameters[name].(bool); ok {
		return v
	}
	return fallback
}

// StringParam returns a string parameter or the fallback.
func (c *SiteConfig) StringParam(name, fallback string) string {
	if v, ok := c.Parameters[name].(string); ok {
		return v
	}
	return fallback
}

// ConstraintConfig is the per-constraint slice of the site configuration:
// enablement, penalty base and prefix-stripped parameters.
type ConstraintConfig struct {
	Name    string
	Enabled bool
	Penalty float64
	Params  map[string]any
}

// ConstraintNames lists the constraints the allocation engine recognizes,
// in registration order.
var ConstraintNames = []string{
	"energy_feasibility",
	"turnaround_time_strict",
	"turnaround_time_preferred",
	"shift_hours_strict",
	"route_overlap",
	"charger_preference",
}

var defaultPenalties = map[string]float64{
	"energy_feasibility":        -20,
	"turnaround_time_strict":    -22,
	"turnaround_time_preferred": -2,
	"shift_hours_strict":        -20,
	"route_overlap":             -20,
	"charger_preference":        3,
}

var defaultEnabled = map[string]bool{
	"energy_feasibility":        true,
	"turnaround_time_strict":    true,
	"turnaround_time_preferred": true,
	"shift_hours_strict":        true,
	"route_overlap":             true,
	"charger_preference":        false,
}

// ConstraintConfigFor extracts one constraint's config. Site parameters use
// the constraint_<name>_ prefix; anything after the prefix that is not
// "enabled" or "penalty" lands in Params with the prefix stripped.
func (c *SiteConfig) ConstraintConfigFor(name string) ConstraintConfig {
	prefix := "constraint_" + name + "_"
	cfg := ConstraintConfig{
		Name:    name,
		Enabled: defaultEnabled[name],
		Penalty: defaultPenalties[name],
		Params:  map[string]any{},
	}

	for key, value := range c.Parameters {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(key, prefix)
		switch suffix {
		case "enabled":
			if b, ok := value.(bool); ok {
				cfg.Enabled = b
			}
		case "penalty":
			switch v := value.(type) {
			case float64:
				cfg.Penalty = v
			case int:
				cfg.Penalty = float64(v)
			}
		default:
			cfg.Params[suffix] = value
		}
	}

	return cfg
}

// AllConstraintConfigs extracts every recognized constraint in registration
// order.
func (c *SiteConfig) AllConstraintConfigs(logger *log.Logger) []ConstraintConfig {
	configs := make([]ConstraintConfig, 0, len(ConstraintNames))
	for _, name := range ConstraintNames {
		cfg := c.ConstraintConfigFor(name)
		if logger != nil {
			logger.Printf("constraint %s: enabled=%v penalty=%.1f params=%d", name, cfg.Enabled, cfg.Penalty, len(cfg.Params))
		}
		configs = append(configs, cfg)
	}
	return configs
}
