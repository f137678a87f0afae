package compose

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/backdrop/internal/cutout"
	"github.com/MeKo-Tech/backdrop/internal/mask"
)

func flatBackground(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func noiseBackground(w, h int, seed int64) *image.NRGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.Intn(256))
		img.Pix[i+1] = uint8(r.Intn(256))
		img.Pix[i+2] = uint8(r.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

// subject returns a w x h transparent image with an opaque red rectangle
// covering [x0,x1] x [y0,y1] inclusive.
func subject(t *testing.T, w, h, x0, y0, x1, y1 int) *cutout.Cutout {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 220, G: 20, B: 20, A: 255})
		}
	}
	c, err := cutout.FromImage(img)
	require.NoError(t, err)
	return c
}

func assertColorNear(t *testing.T, want, got color.NRGBA) {
	t.Helper()
	assert.InDelta(t, float64(want.R), float64(got.R), 2, "red")
	assert.InDelta(t, float64(want.G), float64(got.G), 2, "green")
	assert.InDelta(t, float64(want.B), float64(got.B), 2, "blue")
	assert.InDelta(t, float64(want.A), float64(got.A), 2, "alpha")
}

func newCompositor(t *testing.T) *Compositor {
	t.Helper()
	c, err := NewCompositor(DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestScale(t *testing.T) {
	box := mask.BoundingBox{XMin: 50, YMin: 50, XMax: 250, YMax: 450}
	assert.Equal(t, 1.5, Scale(box, 1000, 1000, 0.6))
	assert.InDelta(t, 1.35, Scale(box, 1000, 1000, 0.54), 1e-9)

	assert.Equal(t, 1.0, Scale(mask.BoundingBox{XMin: 3, YMin: 1, XMax: 3, YMax: 9}, 100, 100, 0.5))
	assert.Equal(t, 1.0, Scale(mask.BoundingBox{XMin: 1, YMin: 4, XMax: 9, YMax: 4}, 100, 100, 0.5))
}

func TestComposite_GroundLineOnOpenBackground(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 300, 500, 50, 50, 250, 450)
	bg := noiseBackground(1000, 1000, 42)

	out, p, err := c.Composite(fg, bg, Options{TargetRatio: 0.6, SmartPlacement: true, Normalize: true})
	require.NoError(t, err)

	assert.Equal(t, PolicyGroundLine, p.Policy)
	assert.Equal(t, 1.0, p.Multiplier)
	assert.Equal(t, 1.5, p.Scale)
	assert.Equal(t, 450, p.Width)
	assert.Equal(t, 750, p.Height)
	assert.Equal(t, 920, p.GroundY)
	assert.Equal(t, p.GroundY, p.Y+p.Bottom)
	assert.Equal(t, (1000-450)/2, p.X)
	assert.False(t, p.Clamped)
	assert.False(t, p.Empty)
	assert.Equal(t, image.Rect(0, 0, 1000, 1000), out.Bounds())

	// Center of the subject is red after compositing.
	assertColorNear(t, color.NRGBA{R: 220, G: 20, B: 20, A: 255}, out.NRGBAAt(p.X+p.Width/2, p.Y+p.Height/2))
}

func TestComposite_GroundLineOnFloorBackground(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 300, 500, 50, 50, 250, 450)
	bg := flatBackground(1000, 1000, color.NRGBA{R: 128, G: 128, B: 128, A: 255})

	_, p, err := c.Composite(fg, bg, Options{TargetRatio: 0.6, SmartPlacement: true, Normalize: true})
	require.NoError(t, err)

	assert.Equal(t, 0.9, p.Multiplier)
	assert.InDelta(t, 1.35, p.Scale, 1e-9)
	assert.Equal(t, p.GroundY, p.Y+p.Bottom)
}

func TestComposite_Centered(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 300, 500, 50, 50, 250, 450)
	bg := flatBackground(1000, 800, color.NRGBA{R: 128, G: 128, B: 128, A: 255})

	_, p, err := c.Composite(fg, bg, Options{TargetRatio: 0.5, SmartPlacement: false, Normalize: true})
	require.NoError(t, err)

	assert.Equal(t, PolicyCentered, p.Policy)
	// No floor adjustment in centered mode: min(500/200, 400/400) = 1.
	assert.Equal(t, 1.0, p.Multiplier)
	assert.Equal(t, 1.0, p.Scale)
	assert.Equal(t, 300, p.Width)
	assert.Equal(t, 500, p.Height)
	assert.Equal(t, int(float64(800-500)*0.55), p.Y)
	assert.Equal(t, 350, p.X)
	assert.Zero(t, p.GroundY)
}

func TestComposite_EmptyMaskReturnsBackground(t *testing.T) {
	c := newCompositor(t)
	fg, err := cutout.FromImage(image.NewNRGBA(image.Rect(0, 0, 50, 50)))
	require.NoError(t, err)
	bg := noiseBackground(120, 90, 5)

	for _, smart := range []bool{true, false} {
		out, p, err := c.Composite(fg, bg, Options{TargetRatio: 0.6, SmartPlacement: smart, Normalize: true})
		require.NoError(t, err)
		assert.True(t, p.Empty)
		assert.Equal(t, imaging.Clone(bg).Pix, out.Pix)
	}
}

func TestComposite_FixedCanvasResizesBackground(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CanvasWidth = 200
	cfg.CanvasHeight = 100
	c, err := NewCompositor(cfg)
	require.NoError(t, err)

	fg, err := cutout.FromImage(image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	bg := flatBackground(400, 400, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	out, p, err := c.Composite(fg, bg, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, p.Empty)
	assert.Equal(t, image.Rect(0, 0, 200, 100), out.Bounds())
	assertColorNear(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, out.NRGBAAt(10, 10))
}

func TestComposite_SinglePixelSubjectAnchorsExactly(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 10, 10, 4, 6, 4, 6)
	bg := flatBackground(100, 100, color.NRGBA{R: 0, G: 0, B: 255, A: 255})

	out, p, err := c.Composite(fg, bg, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 1.0, p.Scale)
	assert.Equal(t, 6, p.Bottom)
	assert.Equal(t, 92, p.GroundY)
	assert.Equal(t, 86, p.Y)
	assert.Equal(t, 45, p.X)
	assert.Equal(t, color.NRGBA{R: 220, G: 20, B: 20, A: 255}, out.NRGBAAt(49, 92))
	assertColorNear(t, color.NRGBA{R: 0, G: 0, B: 255, A: 255}, out.NRGBAAt(49, 93))
}

func TestComposite_ClampsOversizedSubject(t *testing.T) {
	c := newCompositor(t)
	// The subject fills the top rows only, so the anchored paste would start
	// far below the canvas.
	fg := subject(t, 40, 100, 0, 0, 39, 1)
	bg := noiseBackground(100, 100, 11)

	_, p, err := c.Composite(fg, bg, Options{TargetRatio: 1, SmartPlacement: true, Normalize: true})
	require.NoError(t, err)

	assert.True(t, p.Clamped)
	assert.GreaterOrEqual(t, p.Y, 0)
	assert.LessOrEqual(t, p.Y, max(0, 100-p.Height))
	assert.GreaterOrEqual(t, p.X, 0)
}

func TestComposite_TinySubjectStaysWithinCanvas(t *testing.T) {
	c := newCompositor(t)
	// Two diagonal pixels give a 1x1 box, so the foreground scales by 100.
	fg := subject(t, 100, 100, 10, 10, 11, 11)
	bg := noiseBackground(100, 100, 3)

	for _, smart := range []bool{false, true} {
		out, p, err := c.Composite(fg, bg, Options{TargetRatio: 1, SmartPlacement: smart, Normalize: true})
		require.NoError(t, err)

		assert.InDelta(t, 100.0, p.Scale, 1e-9)
		assert.Equal(t, 10000, p.Width)
		assert.Equal(t, 10000, p.Height)
		assert.True(t, p.Clamped)
		assert.Zero(t, p.X)
		assert.Zero(t, p.Y)
		assert.Equal(t, image.Rect(0, 0, 100, 100), out.Bounds())
		assert.Equal(t, uint8(255), out.NRGBAAt(50, 50).A)
	}
}

func TestResampleWindow(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 220, G: 20, B: 20, A: 255})

	// Scaled to 2000x2000 the opaque pixel covers the top-left quarter.
	out := resampleWindow(src, 2000, 2000, 40, 30)
	assert.Equal(t, image.Rect(0, 0, 40, 30), out.Bounds())
	assert.Equal(t, color.NRGBA{R: 220, G: 20, B: 20, A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 220, G: 20, B: 20, A: 255}, out.NRGBAAt(39, 29))

	// Near the pixel boundary alpha fades but colour is not darkened.
	edge := resampleWindow(src, 4, 4, 4, 4)
	mid := edge.NRGBAAt(2, 1)
	assert.Greater(t, mid.A, uint8(0))
	assert.Less(t, mid.A, uint8(255))
	assert.Equal(t, uint8(220), mid.R)
	assert.Zero(t, edge.NRGBAAt(3, 3).A)
}

func TestComposite_OutputIsOpaque(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 30, 30, 5, 5, 20, 25)
	bg := flatBackground(64, 64, color.NRGBA{R: 10, G: 200, B: 10, A: 0})

	out, _, err := c.Composite(fg, bg, DefaultOptions())
	require.NoError(t, err)
	for i := 3; i < len(out.Pix); i += 4 {
		require.Equal(t, uint8(255), out.Pix[i])
	}
}

func TestComposite_Legacy(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 500, 500, 100, 100, 200, 200)
	bg := flatBackground(800, 600, color.NRGBA{R: 0, G: 0, B: 255, A: 255})

	out, p, err := c.Composite(fg, bg, Options{Normalize: false})
	require.NoError(t, err)

	assert.Equal(t, PolicyLegacy, p.Policy)
	assert.Equal(t, image.Rect(0, 0, 500, 500), out.Bounds())
	assert.Equal(t, color.NRGBA{R: 220, G: 20, B: 20, A: 255}, out.NRGBAAt(150, 150))
	assertColorNear(t, color.NRGBA{R: 0, G: 0, B: 255, A: 255}, out.NRGBAAt(10, 10))
}

func TestComposite_LegacyKeepsTransparency(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 20, 20, 0, 0, 4, 4)
	bg := image.NewNRGBA(image.Rect(0, 0, 40, 40))

	out, _, err := c.Composite(fg, bg, Options{Normalize: false})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.NRGBAAt(15, 15).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(2, 2).A)
}

func TestComposite_Errors(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 10, 10, 1, 1, 5, 5)
	bg := flatBackground(10, 10, color.NRGBA{A: 255})

	for _, ratio := range []float64{0, -0.1, 1.01, math.NaN()} {
		_, _, err := c.Composite(fg, bg, Options{TargetRatio: ratio, Normalize: true})
		assert.ErrorIs(t, err, ErrInvalidRatio, "ratio %v", ratio)
	}

	_, _, err := c.Composite(nil, bg, DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingInput)
	_, _, err = c.Composite(fg, nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestComposite_Deterministic(t *testing.T) {
	c := newCompositor(t)
	fg := subject(t, 64, 48, 10, 5, 50, 40)
	bg := noiseBackground(128, 96, 99)

	a, pa, err := c.Composite(fg, bg, DefaultOptions())
	require.NoError(t, err)
	b, pb, err := c.Composite(fg, bg, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, pa, pb)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestNewCompositor_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative canvas", func(c *Config) { c.CanvasWidth = -1 }},
		{"ground line zero", func(c *Config) { c.GroundLine = 0 }},
		{"ground line above one", func(c *Config) { c.GroundLine = 1.2 }},
		{"offset above one", func(c *Config) { c.CenteredOffset = 1.5 }},
		{"unknown filter", func(c *Config) { c.Filter = "bicubic-ish" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewCompositor(cfg)
			assert.Error(t, err)
		})
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, imaging.Lanczos.Support, f.Support)

	f, err = ParseFilter("Nearest")
	require.NoError(t, err)
	assert.Equal(t, imaging.NearestNeighbor.Support, f.Support)
}
