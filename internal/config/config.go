package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/cutout"
	"github.com/MeKo-Tech/backdrop/internal/ground"
	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/onnx"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/segment"
)

// Segmentation backends.
const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// Config represents the complete configuration for backdrop. It covers every
// command (serve, remove, replace, eval) and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Segmentation SegmentationConfig `mapstructure:"segmentation" yaml:"segmentation" json:"segmentation"`
	Compose      ComposeConfig      `mapstructure:"compose" yaml:"compose" json:"compose"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server" json:"server"`
	Batch        BatchConfig        `mapstructure:"batch" yaml:"batch" json:"batch"`
	Eval         EvalConfig         `mapstructure:"eval" yaml:"eval" json:"eval"`
}

// SegmentationConfig selects and tunes the segmentation backend.
type SegmentationConfig struct {
	Backend          string         `mapstructure:"backend" yaml:"backend" json:"backend"`
	DefaultModel     string         `mapstructure:"default_model" yaml:"default_model" json:"default_model"`
	MaxWidth         int            `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	MaxHeight        int            `mapstructure:"max_height" yaml:"max_height" json:"max_height"`
	NumThreads       int            `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations int            `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
	LibraryPath      string         `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	RemoteURL        string         `mapstructure:"remote_url" yaml:"remote_url" json:"remote_url"`
	RemoteTimeoutSec int            `mapstructure:"remote_timeout_sec" yaml:"remote_timeout_sec" json:"remote_timeout_sec"`
	GPU              onnx.GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ComposeConfig holds placement and compositing settings.
type ComposeConfig struct {
	TargetRatio            float64 `mapstructure:"target_ratio" yaml:"target_ratio" json:"target_ratio"`
	CanvasWidth            int     `mapstructure:"canvas_width" yaml:"canvas_width" json:"canvas_width"`
	CanvasHeight           int     `mapstructure:"canvas_height" yaml:"canvas_height" json:"canvas_height"`
	GroundLine             float64 `mapstructure:"ground_line" yaml:"ground_line" json:"ground_line"`
	CenteredOffset         float64 `mapstructure:"centered_offset" yaml:"centered_offset" json:"centered_offset"`
	FloorVarianceThreshold float64 `mapstructure:"floor_variance_threshold" yaml:"floor_variance_threshold" json:"floor_variance_threshold"`
	FloorMultiplier        float64 `mapstructure:"floor_multiplier" yaml:"floor_multiplier" json:"floor_multiplier"`
	Filter                 string  `mapstructure:"filter" yaml:"filter" json:"filter"`
	SmartPlacement         bool    `mapstructure:"smart_placement" yaml:"smart_placement" json:"smart_placement"`
	Normalize              bool    `mapstructure:"normalize" yaml:"normalize" json:"normalize"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host" json:"host"`
	Port               int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin         string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB        int64  `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec         int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
	RemoveModel        string `mapstructure:"remove_model" yaml:"remove_model" json:"remove_model"`
	BatchLimit         int    `mapstructure:"batch_limit" yaml:"batch_limit" json:"batch_limit"`
	// StorageDir keeps uploads and results for /download when set.
	StorageDir string `mapstructure:"storage_dir" yaml:"storage_dir" json:"storage_dir"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig limits requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
}

// BatchConfig contains settings for the remove command.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// EvalConfig configures the evaluation harness.
type EvalConfig struct {
	DatasetDir string   `mapstructure:"dataset_dir" yaml:"dataset_dir" json:"dataset_dir"`
	ResultsDir string   `mapstructure:"results_dir" yaml:"results_dir" json:"results_dir"`
	Threshold  float64  `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Models     []string `mapstructure:"models" yaml:"models" json:"models"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	composeDefaults := compose.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Segmentation: SegmentationConfig{
			Backend:          BackendONNX,
			DefaultModel:     models.DefaultModel,
			MaxWidth:         cutout.DefaultMaxSize,
			MaxHeight:        cutout.DefaultMaxSize,
			RemoteTimeoutSec: 60,
			GPU:              onnx.DefaultGPUConfig(),
		},
		Compose: ComposeConfig{
			TargetRatio:            compose.DefaultTargetRatio,
			GroundLine:             composeDefaults.GroundLine,
			CenteredOffset:         composeDefaults.CenteredOffset,
			FloorVarianceThreshold: ground.DefaultVarianceThreshold,
			FloorMultiplier:        ground.DefaultFloorMultiplier,
			Filter:                 composeDefaults.Filter,
			SmartPlacement:         true,
			Normalize:              true,
		},
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8080,
			CORSOrigin:         "*",
			MaxUploadMB:        50,
			TimeoutSec:         60,
			ShutdownTimeoutSec: 10,
			RemoveModel:        models.U2Net,
			BatchLimit:         10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Batch: BatchConfig{
			Workers: 4,
		},
		Eval: EvalConfig{
			DatasetDir: "dataset",
			ResultsDir: "results",
			Threshold:  0.95,
			Models:     []string{models.U2Net},
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.validateSegmentation(); err != nil {
		return err
	}
	if err := c.validateCompose(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.BatchLimit <= 0 {
		return fmt.Errorf("invalid batch limit: %d (must be positive)", c.Server.BatchLimit)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid requests per minute: %d (must be positive)", c.Server.RateLimit.RequestsPerMinute)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if err := validateFraction(c.Eval.Threshold, "eval.threshold"); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	s := c.Segmentation
	switch s.Backend {
	case BackendONNX:
		if err := onnx.ValidateGPUConfig(s.GPU); err != nil {
			return fmt.Errorf("invalid GPU configuration: %w", err)
		}
	case BackendRemote:
		if s.RemoteURL == "" {
			return fmt.Errorf("segmentation.remote_url is required for the %s backend", BackendRemote)
		}
	default:
		return fmt.Errorf("invalid segmentation backend: %q (must be %s or %s)", s.Backend, BackendONNX, BackendRemote)
	}
	if s.DefaultModel == "" {
		return fmt.Errorf("segmentation.default_model must not be empty")
	}
	if s.MaxWidth <= 0 || s.MaxHeight <= 0 {
		return fmt.Errorf("invalid segmentation max size: %dx%d (must be positive)", s.MaxWidth, s.MaxHeight)
	}
	if s.NumThreads < 0 || s.WarmupIterations < 0 {
		return fmt.Errorf("num_threads and warmup_iterations must not be negative")
	}
	return nil
}

func (c *Config) validateCompose() error {
	cc := c.Compose
	if !(cc.TargetRatio > 0 && cc.TargetRatio <= 1) {
		return fmt.Errorf("invalid compose.target_ratio: %.2f (must be in (0,1])", cc.TargetRatio)
	}
	if err := validateFraction(cc.FloorMultiplier, "compose.floor_multiplier"); err != nil {
		return err
	}
	if cc.FloorVarianceThreshold < 0 {
		return fmt.Errorf("invalid compose.floor_variance_threshold: %.2f (must not be negative)", cc.FloorVarianceThreshold)
	}
	return c.ComposeConfig().Validate()
}

// validateFraction validates that a value is between 0.0 and 1.0.
func validateFraction(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ComposeConfig converts the compose section to compose.Config.
func (c *Config) ComposeConfig() compose.Config {
	return compose.Config{
		CanvasWidth:    c.Compose.CanvasWidth,
		CanvasHeight:   c.Compose.CanvasHeight,
		GroundLine:     c.Compose.GroundLine,
		CenteredOffset: c.Compose.CenteredOffset,
		Filter:         c.Compose.Filter,
		Ground: ground.Classifier{
			VarianceThreshold: c.Compose.FloorVarianceThreshold,
			FloorMultiplier:   c.Compose.FloorMultiplier,
			OpenMultiplier:    ground.DefaultOpenMultiplier,
		},
	}
}

// ComposeOptions returns the per-request defaults for compositing.
func (c *Config) ComposeOptions() compose.Options {
	return compose.Options{
		TargetRatio:    c.Compose.TargetRatio,
		SmartPlacement: c.Compose.SmartPlacement,
		Normalize:      c.Compose.Normalize,
	}
}

// ToPipelineConfig converts the config to the pipeline configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		DefaultModel: c.Segmentation.DefaultModel,
		Cutout: cutout.Config{
			MaxWidth:  c.Segmentation.MaxWidth,
			MaxHeight: c.Segmentation.MaxHeight,
		},
		Compose: c.ComposeConfig(),
	}
}

// ToONNXConfig converts the segmentation section to segment.ONNXConfig.
func (c *Config) ToONNXConfig() segment.ONNXConfig {
	return segment.ONNXConfig{
		ModelsDir:        c.ModelsDir,
		LibraryPath:      c.Segmentation.LibraryPath,
		NumThreads:       c.Segmentation.NumThreads,
		WarmupIterations: c.Segmentation.WarmupIterations,
		GPU:              c.Segmentation.GPU,
	}
}

// ToRemoteConfig converts the segmentation section to segment.RemoteConfig.
func (c *Config) ToRemoteConfig() segment.RemoteConfig {
	return segment.RemoteConfig{
		BaseURL: c.Segmentation.RemoteURL,
		Timeout: time.Duration(c.Segmentation.RemoteTimeoutSec) * time.Second,
	}
}
