package cutout

import (
	"errors"
	"image"

	"github.com/MeKo-Tech/backdrop/internal/mask"
)

// Cutout pairs a foreground image whose background is transparent with the
// occupancy mask derived from its alpha channel. Construct it with New so
// the shapes are guaranteed to agree.
type Cutout struct {
	Image *image.NRGBA
	Mask  *mask.Mask
}

// ErrNilImage is returned when New is called without an image or mask.
var ErrNilImage = errors.New("cutout image and mask are required")

// New pairs img with m after checking that both have the same shape.
func New(img *image.NRGBA, m *mask.Mask) (*Cutout, error) {
	if img == nil || m == nil {
		return nil, ErrNilImage
	}
	b := img.Bounds()
	if err := m.Matches(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	return &Cutout{Image: img, Mask: m}, nil
}

// FromImage builds a cutout whose mask is taken from the alpha channel of img.
func FromImage(img *image.NRGBA) (*Cutout, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	return New(img, mask.FromAlpha(img))
}

// Width of the paired image.
func (c *Cutout) Width() int { return c.Image.Bounds().Dx() }

// Height of the paired image.
func (c *Cutout) Height() int { return c.Image.Bounds().Dy() }

// BoundingBox of the subject; ok is false when nothing was detected.
func (c *Cutout) BoundingBox() (mask.BoundingBox, bool) {
	return c.Mask.BoundingBox()
}
