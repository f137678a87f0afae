// Package mock builds synthetic saliency maps shaped like segmentation model
// outputs ([1,1,H,W] flattened row-major).
package mock

import "math"

// SaliencyMap is a single-channel model output.
type SaliencyMap struct {
	Data   []float32
	Width  int
	Height int
}

// NewUniformMap returns a map filled with value clamped to [0,1].
func NewUniformMap(w, h int, value float32) SaliencyMap {
	if w <= 0 || h <= 0 {
		return SaliencyMap{}
	}
	data := make([]float32, w*h)
	for i := range data {
		data[i] = clamp01(value)
	}
	return SaliencyMap{Data: data, Width: w, Height: h}
}

// NewCenteredBlobMap returns a Gaussian blob centered in the map; sigma
// controls its spread.
func NewCenteredBlobMap(w, h int, peak float32, sigma float64) SaliencyMap {
	if w <= 0 || h <= 0 {
		return SaliencyMap{}
	}
	data := make([]float32, w*h)
	cx := float64(w-1) / 2.0
	cy := float64(h-1) / 2.0
	inv2s2 := 1.0 / (2.0 * sigma * sigma)
	for y := range h {
		for x := range w {
			dx := float64(x) - cx
			dy := float64(y) - cy
			data[y*w+x] = clamp01(float32(math.Exp(-(dx*dx+dy*dy)*inv2s2)) * peak)
		}
	}
	return SaliencyMap{Data: data, Width: w, Height: h}
}

// NewRectMap returns a hard-edged map: hi inside [x0,x1) x [y0,y1), lo elsewhere.
func NewRectMap(w, h, x0, y0, x1, y1 int, hi, lo float32) SaliencyMap {
	if w <= 0 || h <= 0 {
		return SaliencyMap{}
	}
	data := make([]float32, w*h)
	for y := range h {
		for x := range w {
			v := lo
			if x >= x0 && x < x1 && y >= y0 && y < y1 {
				v = hi
			}
			data[y*w+x] = v
		}
	}
	return SaliencyMap{Data: data, Width: w, Height: h}
}

// Logits maps probabilities back through the inverse sigmoid so that models
// flagged with a sigmoid head can be simulated.
func (m SaliencyMap) Logits() SaliencyMap {
	out := make([]float32, len(m.Data))
	for i, p := range m.Data {
		q := math.Min(math.Max(float64(p), 1e-6), 1-1e-6)
		out[i] = float32(math.Log(q / (1 - q)))
	}
	return SaliencyMap{Data: out, Width: m.Width, Height: m.Height}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
