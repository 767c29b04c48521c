package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/segment"
	"github.com/dtu-nanolab/libmap/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/libmap.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* methods return the built-in default for
// fields the file leaves out.
type TuningConfig struct {
	// Segmentation params
	MinDwell         *string  `json:"min_dwell,omitempty"` // duration string like "30s"
	RateUnit         *string  `json:"rate_unit,omitempty"` // duration string, rates are reported per this
	ContinuityFactor *float64 `json:"continuity_factor,omitempty"`
	MinDomainFactor  *float64 `json:"min_domain_factor,omitempty"`

	// Instrument thresholds
	CurrentThreshold  *float64  `json:"current_threshold,omitempty"`
	BiasThreshold     *float64  `json:"bias_threshold,omitempty"`
	PowerSetpointDiff *float64  `json:"power_setpoint_diff,omitempty"`
	TempSetpointDiff  *float64  `json:"temp_setpoint_diff,omitempty"`
	CrackerZoneMin    []float64 `json:"cracker_zone_min,omitempty"` // three zones
	RoomTemperature   *float64  `json:"room_temperature,omitempty"`
	MFCFlow           *float64  `json:"mfc_flow,omitempty"`
	AnnealMin         *float64  `json:"anneal_min,omitempty"`
	CrackerDiff       *float64  `json:"cracker_diff_percent,omitempty"`

	// Log ingestion
	LogTimezone *string `json:"log_timezone,omitempty"`

	// Calibration params
	CalibrationTolerance *float64 `json:"calibration_tolerance_mm,omitempty"`
	FixedScale           *bool    `json:"fixed_scale,omitempty"`
	Anisotropic          *bool    `json:"anisotropic,omitempty"`
	Reflect              *bool    `json:"reflect,omitempty"`
	InstrumentUnit       *string  `json:"instrument_unit,omitempty"`
	MaxIterations        *int     `json:"max_iterations,omitempty"`

	// Batch params
	Workers *int `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"min_dwell", c.MinDwell},
		{"rate_unit", c.RateUnit},
	}
	for _, f := range durations {
		if f.v == nil || *f.v == "" {
			continue
		}
		d, err := time.ParseDuration(*f.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", f.name, *f.v, err)
		}
		if d < 0 || (f.name == "rate_unit" && d == 0) {
			return fmt.Errorf("%s must be positive, got %s", f.name, *f.v)
		}
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"continuity_factor", c.ContinuityFactor},
		{"min_domain_factor", c.MinDomainFactor},
		{"current_threshold", c.CurrentThreshold},
		{"bias_threshold", c.BiasThreshold},
		{"power_setpoint_diff", c.PowerSetpointDiff},
		{"temp_setpoint_diff", c.TempSetpointDiff},
		{"mfc_flow", c.MFCFlow},
		{"cracker_diff_percent", c.CrackerDiff},
		{"calibration_tolerance_mm", c.CalibrationTolerance},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", f.name, *f.v)
		}
	}

	if c.CrackerZoneMin != nil && len(c.CrackerZoneMin) != 3 {
		return fmt.Errorf("cracker_zone_min must list 3 zones, got %d", len(c.CrackerZoneMin))
	}

	if c.InstrumentUnit != nil && !units.IsValid(*c.InstrumentUnit) {
		return fmt.Errorf("invalid instrument_unit '%s', must be one of: %s", *c.InstrumentUnit, units.GetValidUnitsString())
	}

	if c.LogTimezone != nil && *c.LogTimezone != "" && !units.IsTimezoneValid(*c.LogTimezone) {
		return fmt.Errorf("invalid log_timezone '%s'", *c.LogTimezone)
	}

	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}

	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}

	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetMinDwell parses and returns MinDwell as a time.Duration.
func (c *TuningConfig) GetMinDwell() time.Duration {
	return parseDurationOr(c.MinDwell, segment.DefaultMinDwell)
}

// GetRateUnit parses and returns RateUnit as a time.Duration.
func (c *TuningConfig) GetRateUnit() time.Duration {
	return parseDurationOr(c.RateUnit, segment.DefaultRateUnit)
}

// GetContinuityFactor returns the continuity_factor value or the default.
func (c *TuningConfig) GetContinuityFactor() float64 {
	if c.ContinuityFactor == nil {
		return 3
	}
	return *c.ContinuityFactor
}

// GetMinDomainFactor returns the min_domain_factor value or the default.
func (c *TuningConfig) GetMinDomainFactor() float64 {
	if c.MinDomainFactor == nil {
		return 3
	}
	return *c.MinDomainFactor
}

// GetThresholds returns the instrument thresholds with defaults filled in.
func (c *TuningConfig) GetThresholds() segment.Thresholds {
	th := segment.DefaultThresholds()
	if c.CurrentThreshold != nil {
		th.Current = *c.CurrentThreshold
	}
	if c.BiasThreshold != nil {
		th.Bias = *c.BiasThreshold
	}
	if c.PowerSetpointDiff != nil {
		th.PowerSetpointDiff = *c.PowerSetpointDiff
	}
	if c.TempSetpointDiff != nil {
		th.TempSetpointDiff = *c.TempSetpointDiff
	}
	if len(c.CrackerZoneMin) == 3 {
		copy(th.CrackerZoneMin[:], c.CrackerZoneMin)
	}
	if c.RoomTemperature != nil {
		th.RoomTemperature = *c.RoomTemperature
	}
	if c.MFCFlow != nil {
		th.MFCFlow = *c.MFCFlow
	}
	if c.AnnealMin != nil {
		th.AnnealMin = *c.AnnealMin
	}
	if c.CrackerDiff != nil {
		th.CrackerDiffPercent = *c.CrackerDiff
	}
	return th
}

// GetLogTimezone returns the log_timezone value or the default.
func (c *TuningConfig) GetLogTimezone() string {
	if c.LogTimezone == nil {
		return units.DefaultLogTimezone
	}
	return *c.LogTimezone
}

// GetCalibrationTolerance returns the calibration_tolerance_mm value or the default.
func (c *TuningConfig) GetCalibrationTolerance() float64 {
	if c.CalibrationTolerance == nil {
		return coords.DefaultTolerance
	}
	return *c.CalibrationTolerance
}

// GetFixedScale returns the fixed_scale value or the default.
func (c *TuningConfig) GetFixedScale() bool {
	if c.FixedScale == nil {
		return false
	}
	return *c.FixedScale
}

// GetAnisotropic returns the anisotropic value or the default.
func (c *TuningConfig) GetAnisotropic() bool {
	if c.Anisotropic == nil {
		return false // uniform scale unless asked
	}
	return *c.Anisotropic
}

// GetReflect returns the reflect value or the default.
func (c *TuningConfig) GetReflect() bool {
	if c.Reflect == nil {
		return false
	}
	return *c.Reflect
}

// GetInstrumentUnit returns the instrument_unit value or the default.
func (c *TuningConfig) GetInstrumentUnit() string {
	if c.InstrumentUnit == nil {
		return units.MM
	}
	return *c.InstrumentUnit
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return coords.DefaultMaxIterations
	}
	return *c.MaxIterations
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// SegmentOptions builds segment.Options from the tuning values.
func (c *TuningConfig) SegmentOptions(rateChannels ...string) segment.Options {
	opts := segment.DefaultOptions()
	opts.MinDwell = c.GetMinDwell()
	opts.RateUnit = c.GetRateUnit()
	opts.RateChannels = rateChannels
	return opts
}

// EventOptions builds segment.EventOptions from the tuning values.
func (c *TuningConfig) EventOptions() segment.EventOptions {
	return segment.EventOptions{
		ContinuityFactor: c.GetContinuityFactor(),
		MinDomainFactor:  c.GetMinDomainFactor(),
	}
}

// FitOptions builds coords.FitOptions from the tuning values.
func (c *TuningConfig) FitOptions() coords.FitOptions {
	return coords.FitOptions{
		FixedScale:     c.GetFixedScale(),
		InstrumentUnit: c.GetInstrumentUnit(),
		Reflect:        c.GetReflect(),
		Anisotropic:    c.GetAnisotropic(),
		Tolerance:      c.GetCalibrationTolerance(),
		MaxIterations:  c.GetMaxIterations(),
	}
}
