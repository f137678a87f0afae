package mask

import (
	"errors"
	"fmt"
	"image"
)

// ErrDimensionMismatch is returned when a mask does not have the shape of the
// image or mask it is paired with.
var ErrDimensionMismatch = errors.New("mask dimensions do not match")

// Mask is a row-major boolean occupancy grid. A cell is true where the
// subject is present.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// New allocates an all-false mask.
func New(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// FromAlpha derives a mask from the alpha channel of img (alpha > 0).
// The mask origin is the top-left corner of img.Bounds().
func FromAlpha(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := range m.Height {
			row := src.Pix[y*src.Stride : y*src.Stride+m.Width*4]
			for x := range m.Width {
				m.Bits[y*m.Width+x] = row[x*4+3] > 0
			}
		}
	case *image.RGBA:
		for y := range m.Height {
			row := src.Pix[y*src.Stride : y*src.Stride+m.Width*4]
			for x := range m.Width {
				m.Bits[y*m.Width+x] = row[x*4+3] > 0
			}
		}
	default:
		for y := range m.Height {
			for x := range m.Width {
				_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				m.Bits[y*m.Width+x] = a > 0
			}
		}
	}
	return m
}

// At reports whether (x, y) is occupied. Out-of-range coordinates are false.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Set marks (x, y). Out-of-range coordinates are ignored.
func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Bits[y*m.Width+x] = v
}

// Count returns the number of occupied cells.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Bits {
		if v {
			n++
		}
	}
	return n
}

// Empty reports whether no cell is occupied.
func (m *Mask) Empty() bool {
	for _, v := range m.Bits {
		if v {
			return false
		}
	}
	return true
}

// Matches checks that the mask has the given shape.
func (m *Mask) Matches(width, height int) error {
	if m.Width != width || m.Height != height {
		return fmt.Errorf("%w: mask %dx%d, expected %dx%d",
			ErrDimensionMismatch, m.Width, m.Height, width, height)
	}
	if len(m.Bits) != width*height {
		return fmt.Errorf("%w: %d cells for %dx%d", ErrDimensionMismatch, len(m.Bits), width, height)
	}
	return nil
}

// ResizeNearest returns a copy of the mask resampled to width x height with
// nearest-neighbour sampling.
func (m *Mask) ResizeNearest(width, height int) *Mask {
	out := New(width, height)
	if m.Width == 0 || m.Height == 0 {
		return out
	}
	for y := range height {
		sy := y * m.Height / height
		for x := range width {
			sx := x * m.Width / width
			out.Bits[y*width+x] = m.Bits[sy*m.Width+sx]
		}
	}
	return out
}

// NRGBA renders the mask as white pixels, opaque where set and transparent
// elsewhere, so that FromAlpha reads it back unchanged.
func (m *Mask) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, on := range m.Bits {
		if on {
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = 255, 255, 255, 255
		}
	}
	return img
}
