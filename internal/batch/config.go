package batch

import (
	"time"

	"github.com/MeKo-Tech/backdrop/internal/pipeline"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Model to use; empty selects the pipeline default.
	Model string
	// Background switches from cutouts to background replacement.
	Background string
	// OutputDir receives the results; empty writes next to each input.
	OutputDir string
	// Format is the output image format (png, jpeg, webp).
	Format string
	// Report is the summary format (text, json, csv).
	Report string

	TargetRatio    float64
	SmartPlacement bool
	Normalize      bool

	Workers         int
	ContinueOnError bool

	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
	// Progress replaces the default stderr bar when ShowProgress is set.
	Progress pipeline.ProgressCallback
}

// DefaultConfig returns batch defaults.
func DefaultConfig() Config {
	return Config{
		Format:           "png",
		Report:           "text",
		TargetRatio:      0.6,
		SmartPlacement:   true,
		Normalize:        true,
		Workers:          4,
		ExcludePatterns:  []string{"*_processed.*"},
		ProgressInterval: 200 * time.Millisecond,
	}
}
