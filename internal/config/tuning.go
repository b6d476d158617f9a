package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lightlink/internal/decode"
	"github.com/banshee-data/lightlink/internal/lightcode"
	"github.com/banshee-data/lightlink/internal/transmit"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/link/params endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Decoder params
	NoiseFloor      *float64 `json:"noise_floor,omitempty"`
	EdgeZ           *float64 `json:"edge_z,omitempty"`
	DebounceSamples *int     `json:"debounce_samples,omitempty"`
	MinSyncRun      *int     `json:"min_sync_run,omitempty"`
	SyncTolerance   *float64 `json:"sync_tolerance,omitempty"`
	Tolerance       *float64 `json:"tolerance,omitempty"`
	MaxPulseSamples *int     `json:"max_pulse_samples,omitempty"`
	MaxPayload      *int     `json:"max_payload,omitempty"`

	// Transmitter params
	BaseUnit   *string `json:"base_unit,omitempty"` // duration string like "100ms"
	GuardUnits *int    `json:"guard_units,omitempty"`

	// Sampler params
	SampleRateHz *int `json:"sample_rate_hz,omitempty"`

	// Stats params
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "60s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
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

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
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
	if c.NoiseFloor != nil && *c.NoiseFloor <= 0 {
		return fmt.Errorf("noise_floor must be positive, got %f", *c.NoiseFloor)
	}

	if c.EdgeZ != nil && *c.EdgeZ <= 0 {
		return fmt.Errorf("edge_z must be positive, got %f", *c.EdgeZ)
	}

	if c.DebounceSamples != nil && *c.DebounceSamples < 1 {
		return fmt.Errorf("debounce_samples must be at least 1, got %d", *c.DebounceSamples)
	}

	if c.MinSyncRun != nil && *c.MinSyncRun < 2 {
		return fmt.Errorf("min_sync_run must be at least 2, got %d", *c.MinSyncRun)
	}

	if c.SyncTolerance != nil {
		if *c.SyncTolerance <= 0 || *c.SyncTolerance >= 1 {
			return fmt.Errorf("sync_tolerance must be between 0 and 1, got %f", *c.SyncTolerance)
		}
	}

	// Above half a unit the match windows for adjacent pulse widths
	// would overlap
	if c.Tolerance != nil {
		if *c.Tolerance <= 0 || *c.Tolerance >= 0.5 {
			return fmt.Errorf("tolerance must be between 0 and 0.5, got %f", *c.Tolerance)
		}
	}

	if c.MaxPulseSamples != nil && *c.MaxPulseSamples < 1 {
		return fmt.Errorf("max_pulse_samples must be positive, got %d", *c.MaxPulseSamples)
	}

	if c.MaxPayload != nil {
		if *c.MaxPayload < 0 || *c.MaxPayload > lightcode.MaxPayload {
			return fmt.Errorf("max_payload must be between 0 and %d, got %d", lightcode.MaxPayload, *c.MaxPayload)
		}
	}

	// Validate BaseUnit can be parsed if set
	if c.BaseUnit != nil && *c.BaseUnit != "" {
		if _, err := time.ParseDuration(*c.BaseUnit); err != nil {
			return fmt.Errorf("invalid base_unit '%s': %w", *c.BaseUnit, err)
		}
	}

	// The post-frame gap has to outlast an end pulse or back-to-back
	// frames blur together
	if c.GuardUnits != nil && *c.GuardUnits < 5 {
		return fmt.Errorf("guard_units must be at least 5, got %d", *c.GuardUnits)
	}

	if c.SampleRateHz != nil && *c.SampleRateHz < 1 {
		return fmt.Errorf("sample_rate_hz must be positive, got %d", *c.SampleRateHz)
	}

	// Validate StatsInterval can be parsed if set
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}

	return nil
}

// GetNoiseFloor returns the noise_floor value or the default.
func (c *TuningConfig) GetNoiseFloor() float64 {
	if c.NoiseFloor == nil {
		return decode.DefaultNoiseFloor
	}
	return *c.NoiseFloor
}

// GetEdgeZ returns the edge_z value or the default.
func (c *TuningConfig) GetEdgeZ() float64 {
	if c.EdgeZ == nil {
		return decode.DefaultEdgeZ
	}
	return *c.EdgeZ
}

// GetDebounceSamples returns the debounce_samples value or the default.
func (c *TuningConfig) GetDebounceSamples() int {
	if c.DebounceSamples == nil {
		return decode.DefaultDebounceSamples
	}
	return *c.DebounceSamples
}

// GetMinSyncRun returns the min_sync_run value or the default.
func (c *TuningConfig) GetMinSyncRun() int {
	if c.MinSyncRun == nil {
		return lightcode.MinSyncRun
	}
	return *c.MinSyncRun
}

// GetSyncTolerance returns the sync_tolerance value or the default.
func (c *TuningConfig) GetSyncTolerance() float64 {
	if c.SyncTolerance == nil {
		return decode.DefaultSyncTolerance
	}
	return *c.SyncTolerance
}

// GetTolerance returns the tolerance value or the default.
func (c *TuningConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return decode.DefaultTolerance
	}
	return *c.Tolerance
}

// GetMaxPulseSamples returns the max_pulse_samples value or the default.
func (c *TuningConfig) GetMaxPulseSamples() int {
	if c.MaxPulseSamples == nil {
		return decode.DefaultMaxPulseSamples
	}
	return *c.MaxPulseSamples
}

// GetMaxPayload returns the max_payload value or the default.
func (c *TuningConfig) GetMaxPayload() int {
	if c.MaxPayload == nil {
		return lightcode.MaxPayload
	}
	return *c.MaxPayload
}

// GetBaseUnit parses and returns the BaseUnit as a time.Duration.
func (c *TuningConfig) GetBaseUnit() time.Duration {
	if c.BaseUnit == nil || *c.BaseUnit == "" {
		return transmit.DefaultBaseUnit
	}
	d, err := time.ParseDuration(*c.BaseUnit)
	if err != nil {
		return transmit.DefaultBaseUnit // default on parse error
	}
	return d
}

// GetGuardUnits returns the guard_units value or the default.
func (c *TuningConfig) GetGuardUnits() int {
	if c.GuardUnits == nil {
		return transmit.DefaultGuardUnits
	}
	return *c.GuardUnits
}

// GetSampleRateHz returns the sample_rate_hz value or the default.
func (c *TuningConfig) GetSampleRateHz() int {
	if c.SampleRateHz == nil {
		return 100 // default
	}
	return *c.SampleRateHz
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *TuningConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// DecoderConfig builds a decode.Config from the tuning values. The
// event handler is left for the caller to attach.
func (c *TuningConfig) DecoderConfig() decode.Config {
	return decode.Config{
		NoiseFloor:      c.GetNoiseFloor(),
		EdgeZ:           c.GetEdgeZ(),
		DebounceSamples: c.GetDebounceSamples(),
		MinSyncRun:      c.GetMinSyncRun(),
		SyncTolerance:   c.GetSyncTolerance(),
		Tolerance:       c.GetTolerance(),
		MaxPayload:      c.GetMaxPayload(),
		MaxPulseSamples: c.GetMaxPulseSamples(),
	}
}

// TransmitterConfig builds a transmit.Config from the tuning values.
func (c *TuningConfig) TransmitterConfig() transmit.Config {
	return transmit.Config{
		BaseUnit:   c.GetBaseUnit(),
		GuardUnits: c.GetGuardUnits(),
	}
}
