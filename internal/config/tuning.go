package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/ppe/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Tracker params
	MaxAge       *int     `json:"max_age,omitempty"`
	MinHits      *int     `json:"min_hits,omitempty"`
	IoUThreshold *float64 `json:"iou_threshold,omitempty"`

	// Temporal filter params
	BufferSize         *int     `json:"buffer_size,omitempty"`
	ViolationThreshold *float64 `json:"violation_threshold,omitempty"`
	PPESummaryWindow   *int     `json:"ppe_summary_window,omitempty"`
	PPESummaryTopN     *int     `json:"ppe_summary_top_n,omitempty"`

	// Cross-camera matcher params
	SpatialWeight        *float64 `json:"spatial_weight,omitempty"`
	AppearanceWeight     *float64 `json:"appearance_weight,omitempty"`
	MaxDistanceThreshold *float64 `json:"max_distance_threshold,omitempty"`

	// Fusion params
	FusionStrategy   *string `json:"fusion_strategy,omitempty"`    // "or", "and" or "weighted"
	MissingPPEPolicy *string `json:"missing_ppe_policy,omitempty"` // "and" or "or"
	FusionInterval   *string `json:"fusion_interval,omitempty"`    // duration string like "100ms"

	// Persistence params
	SnapshotFlush *bool `json:"snapshot_flush,omitempty"`
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
	if c.MaxAge != nil && *c.MaxAge < 1 {
		return fmt.Errorf("max_age must be positive, got %d", *c.MaxAge)
	}
	if c.MinHits != nil && *c.MinHits < 1 {
		return fmt.Errorf("min_hits must be positive, got %d", *c.MinHits)
	}
	if c.IoUThreshold != nil {
		if *c.IoUThreshold < 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be between 0 and 1, got %f", *c.IoUThreshold)
		}
	}
	if c.BufferSize != nil && *c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be positive, got %d", *c.BufferSize)
	}
	if c.ViolationThreshold != nil {
		if *c.ViolationThreshold < 0 || *c.ViolationThreshold > 1 {
			return fmt.Errorf("violation_threshold must be between 0 and 1, got %f", *c.ViolationThreshold)
		}
	}
	if c.SpatialWeight != nil && *c.SpatialWeight < 0 {
		return fmt.Errorf("spatial_weight must be non-negative, got %f", *c.SpatialWeight)
	}
	if c.AppearanceWeight != nil && *c.AppearanceWeight < 0 {
		return fmt.Errorf("appearance_weight must be non-negative, got %f", *c.AppearanceWeight)
	}
	if c.MaxDistanceThreshold != nil {
		if *c.MaxDistanceThreshold < 0 || *c.MaxDistanceThreshold > 1 {
			return fmt.Errorf("max_distance_threshold must be between 0 and 1, got %f", *c.MaxDistanceThreshold)
		}
	}

	if c.FusionStrategy != nil {
		switch *c.FusionStrategy {
		case "or", "and", "weighted":
		default:
			return fmt.Errorf("fusion_strategy must be one of or/and/weighted, got %q", *c.FusionStrategy)
		}
	}
	if c.MissingPPEPolicy != nil {
		switch *c.MissingPPEPolicy {
		case "and", "or":
		default:
			return fmt.Errorf("missing_ppe_policy must be and or or, got %q", *c.MissingPPEPolicy)
		}
	}

	// Validate FusionInterval can be parsed if set
	if c.FusionInterval != nil && *c.FusionInterval != "" {
		if _, err := time.ParseDuration(*c.FusionInterval); err != nil {
			return fmt.Errorf("invalid fusion_interval '%s': %w", *c.FusionInterval, err)
		}
	}

	return nil
}

// GetMaxAge returns the max_age value or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 30
	}
	return *c.MaxAge
}

// GetMinHits returns the min_hits value or the default.
func (c *TuningConfig) GetMinHits() int {
	if c.MinHits == nil {
		return 3
	}
	return *c.MinHits
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.3
	}
	return *c.IoUThreshold
}

// GetBufferSize returns the buffer_size value or the default.
func (c *TuningConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 30
	}
	return *c.BufferSize
}

// GetViolationThreshold returns the violation_threshold value or the default.
func (c *TuningConfig) GetViolationThreshold() float64 {
	if c.ViolationThreshold == nil {
		return 0.7
	}
	return *c.ViolationThreshold
}

// GetPPESummaryWindow returns the ppe_summary_window value or the default.
func (c *TuningConfig) GetPPESummaryWindow() int {
	if c.PPESummaryWindow == nil {
		return 10
	}
	return *c.PPESummaryWindow
}

// GetPPESummaryTopN returns the ppe_summary_top_n value or the default.
func (c *TuningConfig) GetPPESummaryTopN() int {
	if c.PPESummaryTopN == nil {
		return 10
	}
	return *c.PPESummaryTopN
}

// GetSpatialWeight returns the spatial_weight value or the default.
func (c *TuningConfig) GetSpatialWeight() float64 {
	if c.SpatialWeight == nil {
		return 0.6
	}
	return *c.SpatialWeight
}

// GetAppearanceWeight returns the appearance_weight value or the default.
func (c *TuningConfig) GetAppearanceWeight() float64 {
	if c.AppearanceWeight == nil {
		return 0.4
	}
	return *c.AppearanceWeight
}

// GetMaxDistanceThreshold returns the max_distance_threshold value or the default.
func (c *TuningConfig) GetMaxDistanceThreshold() float64 {
	if c.MaxDistanceThreshold == nil {
		return 0.5
	}
	return *c.MaxDistanceThreshold
}

// GetFusionStrategy returns the fusion_strategy value or the default.
func (c *TuningConfig) GetFusionStrategy() string {
	if c.FusionStrategy == nil {
		return "or"
	}
	return *c.FusionStrategy
}

// GetMissingPPEPolicy returns the missing_ppe_policy value or the default.
func (c *TuningConfig) GetMissingPPEPolicy() string {
	if c.MissingPPEPolicy == nil {
		return "and"
	}
	return *c.MissingPPEPolicy
}

// GetFusionInterval parses and returns the FusionInterval as a time.Duration.
func (c *TuningConfig) GetFusionInterval() time.Duration {
	if c.FusionInterval == nil || *c.FusionInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.FusionInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetSnapshotFlush returns the snapshot_flush value or the default.
func (c *TuningConfig) GetSnapshotFlush() bool {
	if c.SnapshotFlush == nil {
		return false // default: per-tick snapshot persistence disabled
	}
	return *c.SnapshotFlush
}
