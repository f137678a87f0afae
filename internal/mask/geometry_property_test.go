package mask

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// buildMask fills a w x h mask from a seed using a simple LCG so that
// generated cases are reproducible.
func buildMask(w, h int, seed uint32, density uint8) *Mask {
	m := New(w, h)
	s := seed
	for i := range m.Bits {
		s = s*1664525 + 1013904223
		m.Bits[i] = uint8(s>>24) < density
	}
	return m
}

func TestBoundingBox_ContainsAllCells(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every occupied cell lies inside the box", prop.ForAll(
		func(w, h int, seed uint32, density uint8) bool {
			m := buildMask(w, h, seed, density)
			box, ok := m.BoundingBox()
			if !ok {
				return m.Empty()
			}
			for y := range h {
				for x := range w {
					if m.At(x, y) && (x < box.XMin || x > box.XMax || y < box.YMin || y > box.YMax) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.IntRange(1, 40),
		gen.UInt32(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestBoundingBox_IsTight(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("each edge row and column holds an occupied cell", prop.ForAll(
		func(w, h int, seed uint32, density uint8) bool {
			m := buildMask(w, h, seed, density)
			box, ok := m.BoundingBox()
			if !ok {
				return true
			}
			rowHas := func(y int) bool {
				for x := range w {
					if m.At(x, y) {
						return true
					}
				}
				return false
			}
			colHas := func(x int) bool {
				for y := range h {
					if m.At(x, y) {
						return true
					}
				}
				return false
			}
			return rowHas(box.YMin) && rowHas(box.YMax) && colHas(box.XMin) && colHas(box.XMax) &&
				!rowHas(box.YMin-1) && !rowHas(box.YMax+1) && !colHas(box.XMin-1) && !colHas(box.XMax+1)
		},
		gen.IntRange(1, 40),
		gen.IntRange(1, 40),
		gen.UInt32(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
