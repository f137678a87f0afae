package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/cutout"
	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/segment"
)

// Config holds orchestrator settings.
type Config struct {
	DefaultModel string
	Cutout       cutout.Config
	Compose      compose.Config
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DefaultModel: models.DefaultModel,
		Cutout:       cutout.DefaultConfig(),
		Compose:      compose.DefaultConfig(),
	}
}

// ErrNoSegmenter is returned by Build when no backend was configured.
var ErrNoSegmenter = errors.New("pipeline requires a segmenter")

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg       Config
	segmenter segment.Segmenter
}

// NewBuilder creates a builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithSegmenter sets the segmentation backend.
func (b *Builder) WithSegmenter(s segment.Segmenter) *Builder {
	b.segmenter = s
	return b
}

// WithDefaultModel sets the model used when a request names none.
func (b *Builder) WithDefaultModel(id string) *Builder {
	if id != "" {
		b.cfg.DefaultModel = id
	}
	return b
}

// WithMaxSize bounds images handed to the segmenter.
func (b *Builder) WithMaxSize(width, height int) *Builder {
	if width > 0 {
		b.cfg.Cutout.MaxWidth = width
	}
	if height > 0 {
		b.cfg.Cutout.MaxHeight = height
	}
	return b
}

// WithCanvas fixes the composite output size; zero keeps the background size.
func (b *Builder) WithCanvas(width, height int) *Builder {
	b.cfg.Compose.CanvasWidth = width
	b.cfg.Compose.CanvasHeight = height
	return b
}

// WithGroundLine sets the fraction of the canvas height the subject stands on.
// Out-of-range values fail in Build.
func (b *Builder) WithGroundLine(fraction float64) *Builder {
	b.cfg.Compose.GroundLine = fraction
	return b
}

// WithCenteredOffset sets the share of free vertical space above a centered
// subject; 0 pins it to the top and 1 to the bottom. Out-of-range values fail
// in Build.
func (b *Builder) WithCenteredOffset(fraction float64) *Builder {
	b.cfg.Compose.CenteredOffset = fraction
	return b
}

// WithFilter selects the resampling filter by name.
func (b *Builder) WithFilter(name string) *Builder {
	if name != "" {
		b.cfg.Compose.Filter = name
	}
	return b
}

// Config returns the current builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and assembles the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.segmenter == nil {
		return nil, ErrNoSegmenter
	}
	compositor, err := compose.NewCompositor(b.cfg.Compose)
	if err != nil {
		return nil, err
	}
	if b.cfg.DefaultModel == "" {
		return nil, fmt.Errorf("default model must not be empty")
	}
	return &Pipeline{
		cfg:        b.cfg,
		segmenter:  b.segmenter,
		adapter:    cutout.NewAdapter(b.segmenter, b.cfg.Cutout),
		compositor: compositor,
	}, nil
}

// Pipeline sequences cutout and compositing.
type Pipeline struct {
	cfg        Config
	segmenter  segment.Segmenter
	adapter    *cutout.Adapter
	compositor *compose.Compositor
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// DefaultModel returns the model used for requests that name none.
func (p *Pipeline) DefaultModel() string { return p.cfg.DefaultModel }

// Segmenter returns the backend in use.
func (p *Pipeline) Segmenter() segment.Segmenter { return p.segmenter }

// Close releases the segmentation backend if it holds resources.
func (p *Pipeline) Close() error {
	if c, ok := p.segmenter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Purger is implemented by backends that cache loaded models.
type Purger interface {
	Purge(ctx context.Context) error
}

// ClearSessions drops any cached model sessions held by the backend.
func (p *Pipeline) ClearSessions(ctx context.Context) error {
	if c, ok := p.segmenter.(Purger); ok {
		return c.Purge(ctx)
	}
	return nil
}

func (p *Pipeline) resolveModel(id string) string {
	if id == "" {
		return p.cfg.DefaultModel
	}
	return id
}
