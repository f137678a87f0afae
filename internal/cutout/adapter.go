package cutout

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/backdrop/internal/mask"
	"github.com/MeKo-Tech/backdrop/internal/segment"
)

// DefaultMaxSize bounds both input dimensions before segmentation.
const DefaultMaxSize = 1024

// ErrSegmentation marks failures of the segmentation capability or its output.
var ErrSegmentation = errors.New("segmentation failed")

// SegmentationError carries the model id of a failed cutout.
type SegmentationError struct {
	Model string
	Err   error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segmentation with model %q failed: %v", e.Model, e.Err)
}

func (e *SegmentationError) Unwrap() []error { return []error{ErrSegmentation, e.Err} }

// Config bounds the image handed to the segmenter.
type Config struct {
	MaxWidth  int
	MaxHeight int
}

// DefaultConfig returns a 1024x1024 bound.
func DefaultConfig() Config {
	return Config{MaxWidth: DefaultMaxSize, MaxHeight: DefaultMaxSize}
}

// Adapter turns a segmentation backend into cutouts.
type Adapter struct {
	segmenter segment.Segmenter
	config    Config
}

// NewAdapter returns an adapter. Non-positive bounds fall back to the default.
func NewAdapter(segmenter segment.Segmenter, config Config) *Adapter {
	if config.MaxWidth <= 0 {
		config.MaxWidth = DefaultMaxSize
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = DefaultMaxSize
	}
	return &Adapter{segmenter: segmenter, config: config}
}

// Prepare converts img to NRGBA and shrinks it, preserving aspect ratio with
// Lanczos, only when a side exceeds the bound.
func (a *Adapter) Prepare(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() > a.config.MaxWidth || b.Dy() > a.config.MaxHeight {
		return imaging.Fit(img, a.config.MaxWidth, a.config.MaxHeight, imaging.Lanczos)
	}
	return imaging.Clone(img)
}

// Cutout segments img with modelID. The mask always comes from the alpha
// channel of the returned image, whatever shape the backend produced.
func (a *Adapter) Cutout(ctx context.Context, img image.Image, modelID string) (*Cutout, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	input := a.Prepare(img)
	slog.Debug("Segmenting image",
		"model", modelID,
		"width", input.Rect.Dx(),
		"height", input.Rect.Dy(),
		"resized", input.Rect.Dx() != img.Bounds().Dx())

	res, err := a.segmenter.Segment(ctx, input, modelID)
	if err != nil {
		return nil, &SegmentationError{Model: modelID, Err: err}
	}
	out, err := res.RGBA()
	if err != nil {
		return nil, &SegmentationError{Model: modelID, Err: err}
	}
	c, err := New(out, mask.FromAlpha(out))
	if err != nil {
		return nil, &SegmentationError{Model: modelID, Err: err}
	}
	return c, nil
}
