package testutil

import (
	"context"
	"image"
	"sync"

	"github.com/MeKo-Tech/backdrop/internal/segment"
)

// BackdropSegmenter is a segment.Segmenter for synthetic scenes: every pixel
// that differs from the top-left pixel is foreground. It records the models
// it was asked for.
type BackdropSegmenter struct {
	mu     sync.Mutex
	models []string
	Err    error
}

// NewBackdropSegmenter returns a ready segmenter.
func NewBackdropSegmenter() *BackdropSegmenter { return &BackdropSegmenter{} }

// Segment implements segment.Segmenter.
func (s *BackdropSegmenter) Segment(ctx context.Context, img *image.NRGBA, modelID string) (segment.Result, error) {
	s.mu.Lock()
	s.models = append(s.models, modelID)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return segment.Result{}, err
	}
	if s.Err != nil {
		return segment.Result{}, s.Err
	}

	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if b.Empty() {
		return segment.ImageResult(out), nil
	}
	bg := img.NRGBAAt(b.Min.X, b.Min.Y)
	for y := range b.Dy() {
		for x := range b.Dx() {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			if c != bg {
				out.SetNRGBA(x, y, c)
			}
		}
	}
	return segment.ImageResult(out), nil
}

// Models returns the model ids requested so far.
func (s *BackdropSegmenter) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.models...)
}
