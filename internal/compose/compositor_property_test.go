package compose

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MeKo-Tech/backdrop/internal/cutout"
	"github.com/MeKo-Tech/backdrop/internal/mask"
)

type scene struct {
	fgW, fgH        int
	canvasW, canvas int
	ratio           float64
}

func genScene() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(8, 64),
		gen.IntRange(8, 64),
		gen.IntRange(64, 200),
		gen.IntRange(64, 200),
		gen.Float64Range(0.05, 1.0),
	).Map(func(v []interface{}) scene {
		return scene{
			fgW:     v[0].(int),
			fgH:     v[1].(int),
			canvasW: v[2].(int),
			canvas:  v[3].(int),
			ratio:   v[4].(float64),
		}
	})
}

// render builds a foreground whose subject is an inset rectangle and
// composites it with ground-line placement onto a transparent canvas.
func render(c *Compositor, s scene) (Placement, bool) {
	_, p, ok := renderPixels(c, s)
	return p, ok
}

// renderPixels is render without the final opaque pass, so the pasted
// subject is visible in the alpha channel.
func renderPixels(c *Compositor, s scene) (*image.NRGBA, Placement, bool) {
	img := image.NewNRGBA(image.Rect(0, 0, s.fgW, s.fgH))
	for y := s.fgH / 4; y < s.fgH-s.fgH/8; y++ {
		for x := s.fgW / 5; x < s.fgW-s.fgW/5; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	fg, err := cutout.FromImage(img)
	if err != nil {
		return nil, Placement{}, false
	}
	bg := image.NewNRGBA(image.Rect(0, 0, s.canvasW, s.canvas))
	out, p := c.place(fg, bg, Options{TargetRatio: s.ratio, SmartPlacement: true, Normalize: true})
	return out, p, true
}

func TestComposite_PreservesAspectRatio(t *testing.T) {
	c, err := NewCompositor(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	properties := gopter.NewProperties(nil)

	properties.Property("one uniform scale is applied to both axes", prop.ForAll(
		func(s scene) bool {
			p, ok := render(c, s)
			if !ok {
				return false
			}
			wantW := float64(s.fgW) * p.Scale
			wantH := float64(s.fgH) * p.Scale
			return (p.Width == 1 || math.Abs(float64(p.Width)-wantW) <= 0.5) &&
				(p.Height == 1 || math.Abs(float64(p.Height)-wantH) <= 0.5)
		},
		genScene(),
	))

	properties.TestingRun(t)
}

func TestComposite_AnchorsOnGroundLine(t *testing.T) {
	c, err := NewCompositor(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	properties := gopter.NewProperties(nil)

	properties.Property("unclamped subjects touch the ground line", prop.ForAll(
		func(s scene) bool {
			p, ok := render(c, s)
			if !ok {
				return false
			}
			if p.GroundY != int(math.Round(float64(s.canvas)*DefaultGroundLine)) {
				return false
			}
			if p.Clamped {
				return p.Y >= 0 && p.X >= 0
			}
			return p.Y+p.Bottom == p.GroundY
		},
		genScene(),
	))

	properties.Property("the lowest pasted row is the ground line", prop.ForAll(
		func(s scene) bool {
			out, p, ok := renderPixels(c, s)
			if !ok || p.Clamped {
				return ok
			}
			lowest, found := mask.FromAlpha(out).LowestRow()
			return found && lowest == int(math.Round(float64(s.canvas)*DefaultGroundLine))
		},
		genScene(),
	))

	properties.TestingRun(t)
}
