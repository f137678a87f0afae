package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/cutout"
)

// Stages reported in ProcessingError.
const (
	StageInput     = "input"
	StageCutout    = "cutout"
	StageComposite = "composite"
)

// ErrProcessingFailed matches every error returned by the pipeline.
var ErrProcessingFailed = errors.New("processing failed")

// ProcessingError reports which stage failed.
type ProcessingError struct {
	Stage string
	Model string
	Err   error
}

func (e *ProcessingError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("processing failed in %s (model %s): %v", e.Stage, e.Model, e.Err)
	}
	return fmt.Sprintf("processing failed in %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Is makes every ProcessingError match ErrProcessingFailed.
func (e *ProcessingError) Is(target error) bool { return target == ErrProcessingFailed }

// Timing records per-stage durations.
type Timing struct {
	CutoutMs    int64 `json:"cutout_ms"`
	CompositeMs int64 `json:"composite_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// Result is the outcome of ReplaceBackground.
type Result struct {
	Image     *image.NRGBA      `json:"-"`
	Cutout    *cutout.Cutout    `json:"-"`
	Model     string            `json:"model"`
	Placement compose.Placement `json:"placement"`
	Timing    Timing            `json:"timing"`
}

// RemoveBackground returns the cutout of img.
func (p *Pipeline) RemoveBackground(ctx context.Context, img image.Image, modelID string) (*cutout.Cutout, error) {
	modelID = p.resolveModel(modelID)
	if img == nil {
		return nil, &ProcessingError{Stage: StageInput, Model: modelID, Err: cutout.ErrNilImage}
	}
	start := time.Now()
	c, err := p.adapter.Cutout(ctx, img, modelID)
	if err != nil {
		return nil, &ProcessingError{Stage: StageCutout, Model: modelID, Err: err}
	}
	slog.Debug("Background removed",
		"model", modelID,
		"width", c.Width(),
		"height", c.Height(),
		"foreground_pixels", c.Mask.Count(),
		"duration_ms", time.Since(start).Milliseconds())
	return c, nil
}

// Composite places an existing cutout onto bg.
func (p *Pipeline) Composite(c *cutout.Cutout, bg image.Image, opts compose.Options) (*image.NRGBA, compose.Placement, error) {
	out, placement, err := p.compositor.Composite(c, bg, opts)
	if err != nil {
		return nil, compose.Placement{}, &ProcessingError{Stage: StageComposite, Err: err}
	}
	return out, placement, nil
}

// ReplaceBackground cuts the subject out of fg and composites it onto bg.
// Any failure is a *ProcessingError; no partial result is returned.
func (p *Pipeline) ReplaceBackground(ctx context.Context, fg, bg image.Image, modelID string, opts compose.Options) (*Result, error) {
	modelID = p.resolveModel(modelID)
	if fg == nil || bg == nil {
		return nil, &ProcessingError{Stage: StageInput, Model: modelID, Err: compose.ErrMissingInput}
	}

	start := time.Now()
	c, err := p.RemoveBackground(ctx, fg, modelID)
	if err != nil {
		return nil, err
	}
	cutoutDone := time.Now()

	out, placement, err := p.compositor.Composite(c, bg, opts)
	if err != nil {
		return nil, &ProcessingError{Stage: StageComposite, Model: modelID, Err: err}
	}
	end := time.Now()

	res := &Result{
		Image:     out,
		Cutout:    c,
		Model:     modelID,
		Placement: placement,
		Timing: Timing{
			CutoutMs:    cutoutDone.Sub(start).Milliseconds(),
			CompositeMs: end.Sub(cutoutDone).Milliseconds(),
			TotalMs:     end.Sub(start).Milliseconds(),
		},
	}
	slog.Debug("Background replaced",
		"model", modelID,
		"policy", placement.Policy,
		"scale", placement.Scale,
		"multiplier", placement.Multiplier,
		"x", placement.X,
		"y", placement.Y,
		"clamped", placement.Clamped,
		"empty", placement.Empty,
		"total_ms", res.Timing.TotalMs)
	return res, nil
}
