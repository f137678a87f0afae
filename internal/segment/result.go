package segment

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Decoders for encoded results.
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Kind tags the shape of a segmentation result.
type Kind int

const (
	// KindEncoded carries an encoded raster file (PNG, WebP, ...).
	KindEncoded Kind = iota + 1
	// KindImage carries a decoded image.
	KindImage
	// KindArray carries a raw HWC byte array.
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindEncoded:
		return "encoded"
	case KindImage:
		return "image"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrInvalidResult is returned when a result cannot be turned into an image.
var ErrInvalidResult = errors.New("invalid segmentation result")

// Array is a row-major HWC pixel buffer with 1, 3 or 4 channels.
type Array struct {
	Width    int
	Height   int
	Channels int
	Data     []uint8
}

// Result is what a segmentation backend returns. Exactly one payload field is
// set, selected by Kind.
type Result struct {
	Kind    Kind
	Encoded []byte
	Image   image.Image
	Array   *Array
}

// EncodedResult wraps an encoded file.
func EncodedResult(b []byte) Result { return Result{Kind: KindEncoded, Encoded: b} }

// ImageResult wraps a decoded image.
func ImageResult(img image.Image) Result { return Result{Kind: KindImage, Image: img} }

// ArrayResult wraps a raw pixel array.
func ArrayResult(a *Array) Result { return Result{Kind: KindArray, Array: a} }

// RGBA converts any result shape into an NRGBA image with origin (0,0).
func (r Result) RGBA() (*image.NRGBA, error) {
	switch r.Kind {
	case KindEncoded:
		if len(r.Encoded) == 0 {
			return nil, fmt.Errorf("%w: empty encoded payload", ErrInvalidResult)
		}
		img, _, err := image.Decode(bytes.NewReader(r.Encoded))
		if err != nil {
			return nil, fmt.Errorf("%w: decode: %w", ErrInvalidResult, err)
		}
		return imaging.Clone(img), nil
	case KindImage:
		if r.Image == nil {
			return nil, fmt.Errorf("%w: nil image", ErrInvalidResult)
		}
		return imaging.Clone(r.Image), nil
	case KindArray:
		return r.Array.toNRGBA()
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidResult, r.Kind)
	}
}

func (a *Array) toNRGBA() (*image.NRGBA, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil array", ErrInvalidResult)
	}
	if a.Width <= 0 || a.Height <= 0 {
		return nil, fmt.Errorf("%w: array size %dx%d", ErrInvalidResult, a.Width, a.Height)
	}
	if n := a.Width * a.Height * a.Channels; len(a.Data) != n {
		return nil, fmt.Errorf("%w: array has %d bytes, want %d", ErrInvalidResult, len(a.Data), n)
	}

	out := image.NewNRGBA(image.Rect(0, 0, a.Width, a.Height))
	pixels := a.Width * a.Height
	switch a.Channels {
	case 4:
		copy(out.Pix, a.Data)
	case 3:
		for i := range pixels {
			out.Pix[i*4] = a.Data[i*3]
			out.Pix[i*4+1] = a.Data[i*3+1]
			out.Pix[i*4+2] = a.Data[i*3+2]
			out.Pix[i*4+3] = 0xff
		}
	case 1:
		// A single channel is a bare mask: white where present.
		for i := range pixels {
			v := a.Data[i]
			out.Pix[i*4], out.Pix[i*4+1], out.Pix[i*4+2], out.Pix[i*4+3] = v, v, v, v
		}
	default:
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidResult, a.Channels)
	}
	return out, nil
}

// ArrayFromNRGBA copies img into a 4-channel Array.
func ArrayFromNRGBA(img *image.NRGBA) *Array {
	b := img.Bounds()
	a := &Array{Width: b.Dx(), Height: b.Dy(), Channels: 4, Data: make([]uint8, b.Dx()*b.Dy()*4)}
	for y := range a.Height {
		copy(a.Data[y*a.Width*4:(y+1)*a.Width*4], img.Pix[y*img.Stride:y*img.Stride+a.Width*4])
	}
	return a
}
