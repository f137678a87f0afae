package onnx

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/MeKo-Tech/backdrop/internal/mempool"
	"github.com/disintegration/imaging"
)

// Tensor is a float32 tensor in row-major order; images use NCHW.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor wraps NCHW data of length c*h*w as a [1, C, H, W] tensor.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if expected := c * h * w; len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// Release returns pooled tensor data. The tensor must not be used afterwards.
func (t *Tensor) Release() {
	mempool.Put(t.Data)
	t.Data = nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length against the NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if expected := int(n * c * h * w); len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// TensorStats returns min, max and mean for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}

// Normalization describes per-channel input scaling.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageToTensor resizes img to size x size with Lanczos and converts it to a
// [1, 3, size, size] tensor backed by a pooled buffer; call Release when
// done. Pixels are divided by the largest channel value
// in the resized image, then normalized per channel.
func ImageToTensor(img image.Image, size int, norm Normalization) (Tensor, error) {
	if size <= 0 {
		return Tensor{}, fmt.Errorf("invalid input size %d", size)
	}
	for i, s := range norm.Std {
		if s == 0 {
			return Tensor{}, fmt.Errorf("std for channel %d must not be zero", i)
		}
	}

	resized := imaging.Resize(img, size, size, imaging.Lanczos)
	plane := size * size

	var peak uint8
	for i := 0; i < len(resized.Pix); i += 4 {
		peak = max(peak, resized.Pix[i], resized.Pix[i+1], resized.Pix[i+2])
	}
	scale := float32(math.Max(float64(peak), 1e-6))

	data := mempool.Get(3 * plane)
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			px := row[x*4 : x*4+3]
			idx := y*size + x
			for c := range 3 {
				data[c*plane+idx] = (float32(px[c])/scale - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return NewImageTensor(data, 3, size, size)
}

// SaliencyToAlpha turns a single-channel model output of w x h into an 8-bit
// mask. Values are optionally passed through a sigmoid, then min-max
// normalized to [0,255]. A constant map becomes uniformly opaque when its
// value is at least 0.5 and transparent otherwise.
func SaliencyToAlpha(data []float32, w, h int, sigmoid bool) (*image.Gray, error) {
	if w <= 0 || h <= 0 || len(data) < w*h {
		return nil, fmt.Errorf("saliency map of length %d does not cover %dx%d", len(data), w, h)
	}
	values := make([]float64, w*h)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range values {
		v := float64(data[i])
		if sigmoid {
			v = 1 / (1 + math.Exp(-v))
		}
		values[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	if span < 1e-12 {
		fill := uint8(0)
		if hi >= 0.5 {
			fill = 255
		}
		for i := range out.Pix {
			out.Pix[i] = fill
		}
		return out, nil
	}
	for i, v := range values {
		out.Pix[i] = uint8(math.Round((v - lo) / span * 255))
	}
	return out, nil
}

// ApplyAlpha resizes alpha to the size of img with Lanczos and returns a copy
// of img whose alpha channel is the mask. Fully transparent pixels are zeroed.
func ApplyAlpha(img image.Image, alpha *image.Gray) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	a := alpha
	if b := alpha.Bounds(); b.Dx() != w || b.Dy() != h {
		resized := imaging.Resize(alpha, w, h, imaging.Lanczos)
		a = image.NewGray(resized.Rect)
		for i := range a.Pix {
			a.Pix[i] = resized.Pix[i*4]
		}
	}
	for y := range h {
		for x := range w {
			i := y*out.Stride + x*4
			v := a.Pix[y*a.Stride+x]
			if v == 0 {
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = 0, 0, 0
			}
			out.Pix[i+3] = v
		}
	}
	return out
}
