package compose

import (
	"fmt"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/backdrop/internal/ground"
)

// Placement heuristics. The values come from visual tuning and can be
// overridden through Config.
const (
	DefaultGroundLine     = 0.92
	DefaultCenteredOffset = 0.55
	DefaultTargetRatio    = 0.6
	DefaultFilter         = "lanczos"
)

// Config holds compositor settings.
type Config struct {
	// CanvasWidth and CanvasHeight fix the output size. A zero value uses the
	// corresponding background dimension.
	CanvasWidth  int
	CanvasHeight int

	// GroundLine is the fraction of the canvas height where the subject's
	// lowest pixel is anchored.
	GroundLine float64
	// CenteredOffset is the fraction of the free vertical space placed above
	// the subject in centered mode.
	CenteredOffset float64

	// Filter names the resampling filter used for every resize.
	Filter string

	Ground ground.Classifier
}

// DefaultConfig returns the stock compositor configuration.
func DefaultConfig() Config {
	return Config{
		GroundLine:     DefaultGroundLine,
		CenteredOffset: DefaultCenteredOffset,
		Filter:         DefaultFilter,
		Ground:         ground.DefaultClassifier(),
	}
}

// Validate checks the configuration for out-of-range values.
func (c Config) Validate() error {
	if c.CanvasWidth < 0 || c.CanvasHeight < 0 {
		return fmt.Errorf("canvas size must not be negative, got %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.GroundLine <= 0 || c.GroundLine > 1 {
		return fmt.Errorf("ground line must be in (0,1], got %f", c.GroundLine)
	}
	if c.CenteredOffset < 0 || c.CenteredOffset > 1 {
		return fmt.Errorf("centered offset must be in [0,1], got %f", c.CenteredOffset)
	}
	if _, err := ParseFilter(c.Filter); err != nil {
		return err
	}
	return nil
}

var filters = map[string]imaging.ResampleFilter{
	"lanczos":           imaging.Lanczos,
	"catmullrom":        imaging.CatmullRom,
	"mitchellnetravali": imaging.MitchellNetravali,
	"linear":            imaging.Linear,
	"box":               imaging.Box,
	"nearest":           imaging.NearestNeighbor,
}

// ParseFilter maps a filter name to an imaging filter. An empty name selects
// Lanczos.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	if name == "" {
		return imaging.Lanczos, nil
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter %q", name)
	}
	return f, nil
}
