// Package compose places a foreground cutout onto a destination background.
//
// Three policies exist. Ground-line placement scales the subject to a target
// fraction of the canvas (shrunk further for floor-like backgrounds) and
// anchors its lowest occupied row on a fixed horizontal line. Centered
// placement uses the same scale without the floor adjustment and puts the
// subject slightly below the vertical center. The legacy policy stretches the
// background to the foreground's size and overlays the two directly.
package compose

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/backdrop/internal/cutout"
	"github.com/MeKo-Tech/backdrop/internal/ground"
	"github.com/MeKo-Tech/backdrop/internal/mask"
)

// Policy names reported in Placement.
const (
	PolicyGroundLine = "ground_line"
	PolicyCentered   = "centered"
	PolicyLegacy     = "legacy"
)

var (
	// ErrInvalidRatio is returned for target ratios outside (0,1].
	ErrInvalidRatio = errors.New("target ratio must be in (0,1]")
	// ErrMissingInput is returned when the cutout or background is nil.
	ErrMissingInput = errors.New("foreground cutout and background are required")
)

// Options select the placement policy for one composite.
type Options struct {
	TargetRatio    float64
	SmartPlacement bool
	Normalize      bool
}

// DefaultOptions returns ground-line placement at the default ratio.
func DefaultOptions() Options {
	return Options{TargetRatio: DefaultTargetRatio, SmartPlacement: true, Normalize: true}
}

// Placement describes where and how large the subject was pasted.
type Placement struct {
	Policy       string  `json:"policy"`
	Scale        float64 `json:"scale"`
	Multiplier   float64 `json:"multiplier"`
	X            int     `json:"x"`
	Y            int     `json:"y"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Bottom       int     `json:"bottom"`
	GroundY      int     `json:"ground_y,omitempty"`
	CanvasWidth  int     `json:"canvas_width"`
	CanvasHeight int     `json:"canvas_height"`
	Clamped      bool    `json:"clamped"`
	Empty        bool    `json:"empty"`
}

// Compositor renders cutouts onto backgrounds. It holds no per-request state
// and is safe for concurrent use.
type Compositor struct {
	config Config
	filter imaging.ResampleFilter
}

// NewCompositor validates config and returns a compositor.
func NewCompositor(config Config) (*Compositor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compositor config: %w", err)
	}
	filter, _ := ParseFilter(config.Filter)
	if config.Ground == (ground.Classifier{}) {
		config.Ground = ground.DefaultClassifier()
	}
	return &Compositor{config: config, filter: filter}, nil
}

// Config returns the compositor configuration.
func (c *Compositor) Config() Config { return c.config }

// Composite renders fg onto bg according to opts.
func (c *Compositor) Composite(fg *cutout.Cutout, bg image.Image, opts Options) (*image.NRGBA, Placement, error) {
	if fg == nil || fg.Image == nil || fg.Mask == nil || bg == nil {
		return nil, Placement{}, ErrMissingInput
	}
	if !opts.Normalize {
		out, p := c.overlay(fg, bg)
		return out, p, nil
	}
	if !(opts.TargetRatio > 0 && opts.TargetRatio <= 1) {
		return nil, Placement{}, fmt.Errorf("%w: got %f", ErrInvalidRatio, opts.TargetRatio)
	}
	out, p := c.place(fg, bg, opts)
	return opaque(out), p, nil
}

// CanvasSize resolves the output size for a background.
func (c *Compositor) CanvasSize(bg image.Image) (int, int) {
	w, h := c.config.CanvasWidth, c.config.CanvasHeight
	b := bg.Bounds()
	if w == 0 {
		w = b.Dx()
	}
	if h == 0 {
		h = b.Dy()
	}
	return w, h
}

// Scale returns the uniform factor that fits box into ratio of the canvas.
// Degenerate boxes with zero width or height are not scaled.
func Scale(box mask.BoundingBox, canvasW, canvasH int, ratio float64) float64 {
	bw, bh := box.Width(), box.Height()
	if bw == 0 || bh == 0 {
		return 1.0
	}
	return math.Min(
		float64(canvasW)*ratio/float64(bw),
		float64(canvasH)*ratio/float64(bh),
	)
}

// place renders the normalized policies. The result keeps the alpha of the
// resized background so callers can inspect the pasted subject; Composite
// makes it opaque.
func (c *Compositor) place(fg *cutout.Cutout, bg image.Image, opts Options) (*image.NRGBA, Placement) {
	canvasW, canvasH := c.CanvasSize(bg)
	policy := PolicyCentered
	if opts.SmartPlacement {
		policy = PolicyGroundLine
	}
	p := Placement{Policy: policy, CanvasWidth: canvasW, CanvasHeight: canvasH, Multiplier: 1.0}

	canvas := imaging.Resize(bg, canvasW, canvasH, c.filter)

	box, ok := fg.BoundingBox()
	if !ok {
		p.Empty = true
		return canvas, p
	}

	if opts.SmartPlacement {
		p.Multiplier = c.config.Ground.Multiplier(bg)
	}
	p.Scale = Scale(box, canvasW, canvasH, opts.TargetRatio*p.Multiplier)
	p.Width = max(1, int(math.Round(float64(fg.Width())*p.Scale)))
	p.Height = max(1, int(math.Round(float64(fg.Height())*p.Scale)))

	// A scaled foreground larger than the canvas is always clamped to the
	// top-left corner, so only the window that lands on the canvas is rendered.
	overflow := p.Width > canvasW || p.Height > canvasH

	var scaled *image.NRGBA
	var bottom int
	if overflow {
		bottom = min(p.Height-1, int(math.Ceil(float64(box.YMax+1)*float64(p.Height)/float64(fg.Height())))-1)
	} else {
		scaled = imaging.Resize(fg.Image, p.Width, p.Height, c.filter)
		// Resampling moves the last visible row, so measure it on the scaled image.
		var found bool
		bottom, found = mask.FromAlpha(scaled).LowestRow()
		if !found {
			bottom = p.Height - 1
		}
	}
	p.Bottom = bottom

	x := (canvasW - p.Width) / 2
	var y int
	if opts.SmartPlacement {
		p.GroundY = int(math.Round(float64(canvasH) * c.config.GroundLine))
		y = p.GroundY - bottom
	} else {
		y = int(float64(canvasH-p.Height) * c.config.CenteredOffset)
	}

	p.X = clamp(x, canvasW-p.Width)
	p.Y = clamp(y, canvasH-p.Height)
	p.Clamped = p.X != x || p.Y != y

	if overflow {
		scaled = resampleWindow(fg.Image, p.Width, p.Height, min(p.Width, canvasW-p.X), min(p.Height, canvasH-p.Y))
	}
	return imaging.Overlay(canvas, scaled, image.Pt(p.X, p.Y), 1.0), p
}

// resampleWindow returns the top-left vw x vh window of src scaled to w x h,
// sampling bilinearly with premultiplied alpha. Work and memory depend on the
// window only.
func resampleWindow(src *image.NRGBA, w, h, vw, vh int) *image.NRGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	fx := float64(sw) / float64(w)
	fy := float64(sh) / float64(h)

	out := image.NewNRGBA(image.Rect(0, 0, vw, vh))
	for y := range vh {
		y0, y1, ty := sampleAxis((float64(y)+0.5)*fy-0.5, sh)
		for x := range vw {
			x0, x1, tx := sampleAxis((float64(x)+0.5)*fx-0.5, sw)

			var r, g, b, a float64
			for _, tap := range [4]struct {
				x, y int
				w    float64
			}{
				{x0, y0, (1 - tx) * (1 - ty)},
				{x1, y0, tx * (1 - ty)},
				{x0, y1, (1 - tx) * ty},
				{x1, y1, tx * ty},
			} {
				i := src.PixOffset(sb.Min.X+tap.x, sb.Min.Y+tap.y)
				pa := float64(src.Pix[i+3]) * tap.w
				r += float64(src.Pix[i]) * pa
				g += float64(src.Pix[i+1]) * pa
				b += float64(src.Pix[i+2]) * pa
				a += pa
			}
			if a == 0 {
				continue
			}
			o := out.PixOffset(x, y)
			out.Pix[o] = toByte(r / a)
			out.Pix[o+1] = toByte(g / a)
			out.Pix[o+2] = toByte(b / a)
			out.Pix[o+3] = toByte(a)
		}
	}
	return out
}

// sampleAxis clamps v to [0, n-1] and returns the neighbouring indices and
// the interpolation weight of the upper one.
func sampleAxis(v float64, n int) (int, int, float64) {
	v = math.Max(0, math.Min(v, float64(n-1)))
	i0 := int(v)
	return i0, min(i0+1, n-1), v - float64(i0)
}

func toByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// overlay stretches bg to the foreground's size and alpha-composites the two
// pixel for pixel. The result keeps its alpha channel.
func (c *Compositor) overlay(fg *cutout.Cutout, bg image.Image) (*image.NRGBA, Placement) {
	w, h := fg.Width(), fg.Height()
	base := imaging.Resize(bg, w, h, c.filter)
	out := imaging.Overlay(base, fg.Image, image.Pt(0, 0), 1.0)
	return out, Placement{
		Policy:       PolicyLegacy,
		Scale:        1.0,
		Multiplier:   1.0,
		Width:        w,
		Height:       h,
		CanvasWidth:  w,
		CanvasHeight: h,
	}
}

// clamp limits v to [0, hi]; a negative hi yields 0.
func clamp(v, hi int) int {
	return max(0, min(v, hi))
}

// opaque drops transparency in place, keeping the colour channels.
func opaque(img *image.NRGBA) *image.NRGBA {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
