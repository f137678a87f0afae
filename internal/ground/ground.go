// Package ground classifies destination backgrounds by the texture of their
// lower third. Flat, low-variance regions read as an indoor floor and get a
// smaller subject; textured or open scenes keep the requested size.
package ground

import (
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"
)

// Tunable defaults. These are visual heuristics, not invariants.
const (
	DefaultVarianceThreshold = 1000.0
	DefaultFloorMultiplier   = 0.9
	DefaultOpenMultiplier    = 1.0
)

// Classification is the outcome of inspecting a background.
type Classification struct {
	Variance   float64 `json:"variance"`
	Floor      bool    `json:"floor"`
	Multiplier float64 `json:"multiplier"`
}

// Classifier holds the thresholds used by Classify.
type Classifier struct {
	VarianceThreshold float64
	FloorMultiplier   float64
	OpenMultiplier    float64
}

// DefaultClassifier returns a classifier with the stock thresholds.
func DefaultClassifier() Classifier {
	return Classifier{
		VarianceThreshold: DefaultVarianceThreshold,
		FloorMultiplier:   DefaultFloorMultiplier,
		OpenMultiplier:    DefaultOpenMultiplier,
	}
}

// Classify inspects img with the default classifier.
func Classify(img image.Image) Classification {
	return DefaultClassifier().Classify(img)
}

// Classify computes the population variance of every R, G and B sample in the
// bottom third of img. Values below the threshold mark a floor.
func (c Classifier) Classify(img image.Image) Classification {
	samples := BottomThirdSamples(img)
	if len(samples) == 0 {
		return Classification{Multiplier: c.OpenMultiplier}
	}

	variance := stat.PopVariance(samples, nil)
	if variance < c.VarianceThreshold {
		return Classification{Variance: variance, Floor: true, Multiplier: c.FloorMultiplier}
	}
	return Classification{Variance: variance, Multiplier: c.OpenMultiplier}
}

// Multiplier is a shorthand for Classify(img).Multiplier.
func (c Classifier) Multiplier(img image.Image) float64 {
	return c.Classify(img).Multiplier
}

// BottomThirdSamples flattens the RGB channels of rows [h-h/3, h) into one
// slice. Images shorter than three rows contribute their last row.
func BottomThirdSamples(img image.Image) []float64 {
	rgb := imaging.Clone(img)
	w, h := rgb.Rect.Dx(), rgb.Rect.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	start := h - h/3
	if start >= h {
		start = h - 1
	}

	samples := make([]float64, 0, (h-start)*w*3)
	for y := start; y < h; y++ {
		row := rgb.Pix[y*rgb.Stride : y*rgb.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			samples = append(samples, float64(px[0]), float64(px[1]), float64(px[2]))
		}
	}
	return samples
}
