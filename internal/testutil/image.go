package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Palette used by the synthetic scenes.
var (
	Backdrop = color.NRGBA{R: 235, G: 235, B: 235, A: 255}
	Subject  = color.NRGBA{R: 200, G: 30, B: 40, A: 255}
)

// CreateSolidImage returns a w x h image filled with c.
func CreateSolidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// CreateSubjectImage draws an opaque subject rectangle on a flat background.
func CreateSubjectImage(w, h int, subject image.Rectangle) *image.NRGBA {
	img := CreateSolidImage(w, h, Backdrop)
	draw.Draw(img, subject.Intersect(img.Bounds()), &image.Uniform{Subject}, image.Point{}, draw.Src)
	return img
}

// CreateCutout returns a transparent image with an opaque subject rectangle.
func CreateCutout(w, h int, subject image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, subject.Intersect(img.Bounds()), &image.Uniform{Subject}, image.Point{}, draw.Src)
	return img
}

// CreateNoiseImage returns a deterministic high-variance image.
func CreateNoiseImage(w, h int, seed uint32) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	state := seed | 1
	for i := 0; i < len(img.Pix); i += 4 {
		for c := range 3 {
			state = state*1664525 + 1013904223
			img.Pix[i+c] = uint8(state >> 24)
		}
		img.Pix[i+3] = 255
	}
	return img
}

// EncodePNG encodes img and returns the bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// HeaderOnlyPNG returns a valid 1x1 PNG whose IHDR claims w x h. Decoding the
// header succeeds; decoding the pixels would allocate for the claimed size.
func HeaderOnlyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	data := EncodePNG(t, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	// Signature (8), chunk length (4), "IHDR" (4), then width and height.
	binary.BigEndian.PutUint32(data[16:20], uint32(w))
	binary.BigEndian.PutUint32(data[20:24], uint32(h))
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

// SaveImage saves an image as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")
	return img
}

// CompareImages reports whether the mean per-pixel RGBA distance between
// two same-sized images is within tolerance (0..1).
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds := img1.Bounds()
	if bounds != img2.Bounds() {
		return false
	}

	var totalDiff, pixelCount float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return true
	}

	maxDiff := math.Sqrt(4 * 65535 * 65535)
	return (totalDiff/pixelCount)/maxDiff <= tolerance
}
