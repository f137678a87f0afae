package utils

import (
	"errors"
	"fmt"
)

// ImageProcessingError represents errors that can occur while reading,
// validating or writing images.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ErrImageDimensions marks images whose size is outside the accepted range.
var ErrImageDimensions = errors.New("image dimensions out of range")

// ImageConstraints bounds the dimensions of accepted images.
type ImageConstraints struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
}

// DefaultImageConstraints accepts anything from a single pixel up to 12000px
// per side; larger inputs are rejected before segmentation.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxWidth:  12000,
		MaxHeight: 12000,
		MinWidth:  1,
		MinHeight: 1,
	}
}

// CheckDimensions reports whether a w x h image satisfies c. Zero maxima
// are unbounded.
func (c ImageConstraints) CheckDimensions(w, h int) error {
	if w < c.MinWidth || h < c.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("%w: image too small: %dx%d < %dx%d", ErrImageDimensions, w, h, c.MinWidth, c.MinHeight),
		}
	}
	if (c.MaxWidth > 0 && w > c.MaxWidth) || (c.MaxHeight > 0 && h > c.MaxHeight) {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("%w: image too large: %dx%d > %dx%d", ErrImageDimensions, w, h, c.MaxWidth, c.MaxHeight),
		}
	}
	return nil
}
