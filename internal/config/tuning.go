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
// Every field is optional: the Get* accessors fall back to built-in
// defaults for anything the JSON file leaves out.
type TuningConfig struct {
	// Stabilizer params (shared by every channel)
	StabilizerCovProcess *float64 `json:"stabilizer_cov_process,omitempty"`
	StabilizerCovMeasure *float64 `json:"stabilizer_cov_measure,omitempty"`

	// Pose solver params
	SolverMaxIterations   *int     `json:"solver_max_iterations,omitempty"`
	SolverConvergenceEps  *float64 `json:"solver_convergence_eps,omitempty"`
	SolverFocalScale      *float64 `json:"solver_focal_scale,omitempty"`
	WarmStart             *bool    `json:"warm_start,omitempty"`
	MaxReprojectionRMSEPx *float64 `json:"max_reprojection_rmse_px,omitempty"`
	RejectUnusablePose    *bool    `json:"reject_unusable_pose,omitempty"`

	// Avatar transport params
	SendBuffer        *int    `json:"send_buffer,omitempty"`
	SendLogInterval   *string `json:"send_log_interval,omitempty"`  // duration string like "5s"
	ReconnectInterval *string `json:"reconnect_interval,omitempty"` // duration string like "2s"
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

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		StabilizerCovProcess:  ptrFloat64(0.1),
		StabilizerCovMeasure:  ptrFloat64(0.1),
		SolverMaxIterations:   ptrInt(20),
		SolverConvergenceEps:  ptrFloat64(1e-8),
		SolverFocalScale:      ptrFloat64(1.0),
		WarmStart:             ptrBool(true),
		MaxReprojectionRMSEPx: ptrFloat64(0),
		RejectUnusablePose:    ptrBool(false),
		SendBuffer:            ptrInt(64),
		SendLogInterval:       ptrString("5s"),
		ReconnectInterval:     ptrString("2s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/face/pipeline/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
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
	if c.StabilizerCovProcess != nil && *c.StabilizerCovProcess <= 0 {
		return fmt.Errorf("stabilizer_cov_process must be positive, got %f", *c.StabilizerCovProcess)
	}
	if c.StabilizerCovMeasure != nil && *c.StabilizerCovMeasure <= 0 {
		return fmt.Errorf("stabilizer_cov_measure must be positive, got %f", *c.StabilizerCovMeasure)
	}
	if c.SolverMaxIterations != nil && (*c.SolverMaxIterations < 1 || *c.SolverMaxIterations > 200) {
		return fmt.Errorf("solver_max_iterations must be between 1 and 200, got %d", *c.SolverMaxIterations)
	}
	if c.SolverConvergenceEps != nil && *c.SolverConvergenceEps <= 0 {
		return fmt.Errorf("solver_convergence_eps must be positive, got %g", *c.SolverConvergenceEps)
	}
	if c.SolverFocalScale != nil && *c.SolverFocalScale <= 0 {
		return fmt.Errorf("solver_focal_scale must be positive, got %f", *c.SolverFocalScale)
	}
	if c.MaxReprojectionRMSEPx != nil && *c.MaxReprojectionRMSEPx < 0 {
		return fmt.Errorf("max_reprojection_rmse_px must be non-negative, got %f", *c.MaxReprojectionRMSEPx)
	}
	if c.SendBuffer != nil && *c.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be at least 1, got %d", *c.SendBuffer)
	}
	if c.SendLogInterval != nil && *c.SendLogInterval != "" {
		if _, err := time.ParseDuration(*c.SendLogInterval); err != nil {
			return fmt.Errorf("invalid send_log_interval '%s': %w", *c.SendLogInterval, err)
		}
	}
	if c.ReconnectInterval != nil && *c.ReconnectInterval != "" {
		if _, err := time.ParseDuration(*c.ReconnectInterval); err != nil {
			return fmt.Errorf("invalid reconnect_interval '%s': %w", *c.ReconnectInterval, err)
		}
	}
	return nil
}

// GetStabilizerCovProcess returns the stabilizer process noise or the default.
func (c *TuningConfig) GetStabilizerCovProcess() float64 {
	if c.StabilizerCovProcess == nil {
		return 0.1
	}
	return *c.StabilizerCovProcess
}

// GetStabilizerCovMeasure returns the stabilizer measurement noise or the default.
func (c *TuningConfig) GetStabilizerCovMeasure() float64 {
	if c.StabilizerCovMeasure == nil {
		return 0.1
	}
	return *c.StabilizerCovMeasure
}

// GetSolverMaxIterations returns the Levenberg–Marquardt iteration budget.
func (c *TuningConfig) GetSolverMaxIterations() int {
	if c.SolverMaxIterations == nil {
		return 20
	}
	return *c.SolverMaxIterations
}

// GetSolverConvergenceEps returns the relative step size below which the
// solver stops iterating.
func (c *TuningConfig) GetSolverConvergenceEps() float64 {
	if c.SolverConvergenceEps == nil {
		return 1e-8
	}
	return *c.SolverConvergenceEps
}

// GetSolverFocalScale returns the focal length as a multiple of frame width.
func (c *TuningConfig) GetSolverFocalScale() float64 {
	if c.SolverFocalScale == nil {
		return 1.0
	}
	return *c.SolverFocalScale
}

// GetWarmStart reports whether the solver seeds from the previous frame.
func (c *TuningConfig) GetWarmStart() bool {
	if c.WarmStart == nil {
		return true
	}
	return *c.WarmStart
}

// GetMaxReprojectionRMSEPx returns the RMSE above which a pose is graded
// unusable. Zero disables the check.
func (c *TuningConfig) GetMaxReprojectionRMSEPx() float64 {
	if c.MaxReprojectionRMSEPx == nil {
		return 0
	}
	return *c.MaxReprojectionRMSEPx
}

// GetRejectUnusablePose reports whether unusable poses are skipped.
func (c *TuningConfig) GetRejectUnusablePose() bool {
	if c.RejectUnusablePose == nil {
		return false
	}
	return *c.RejectUnusablePose
}

// GetSendBuffer returns the avatar sender queue depth.
func (c *TuningConfig) GetSendBuffer() int {
	if c.SendBuffer == nil {
		return 64
	}
	return *c.SendBuffer
}

// GetSendLogInterval parses and returns the SendLogInterval as a time.Duration.
func (c *TuningConfig) GetSendLogInterval() time.Duration {
	return parseDurationOr(c.SendLogInterval, 5*time.Second)
}

// GetReconnectInterval parses and returns the ReconnectInterval as a time.Duration.
func (c *TuningConfig) GetReconnectInterval() time.Duration {
	return parseDurationOr(c.ReconnectInterval, 2*time.Second)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
