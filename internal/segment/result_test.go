package segment

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCutout() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(2, 1, color.NRGBA{R: 1, G: 2, B: 3, A: 40})
	return img
}

func TestResultRGBA_AllKindsAgree(t *testing.T) {
	src := sampleCutout()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	results := map[string]Result{
		"encoded": EncodedResult(buf.Bytes()),
		"image":   ImageResult(src),
		"array":   ArrayResult(ArrayFromNRGBA(src)),
	}
	for name, r := range results {
		t.Run(name, func(t *testing.T) {
			got, err := r.RGBA()
			require.NoError(t, err)
			assert.Equal(t, src.Rect, got.Rect)
			assert.Equal(t, src.Pix, got.Pix)
		})
	}
}

func TestResultRGBA_ImageWithOffset(t *testing.T) {
	img := image.NewNRGBA(image.Rect(10, 10, 12, 12))
	img.SetNRGBA(11, 11, color.NRGBA{R: 255, A: 255})

	got, err := ImageResult(img).RGBA()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), got.Rect)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, got.NRGBAAt(1, 1))
}

func TestResultRGBA_ArrayChannels(t *testing.T) {
	rgb := &Array{Width: 1, Height: 1, Channels: 3, Data: []uint8{9, 8, 7}}
	got, err := ArrayResult(rgb).RGBA()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 9, G: 8, B: 7, A: 255}, got.NRGBAAt(0, 0))

	gray := &Array{Width: 2, Height: 1, Channels: 1, Data: []uint8{0, 200}}
	got, err = ArrayResult(gray).RGBA()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), got.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(200), got.NRGBAAt(1, 0).A)
}

func TestResultRGBA_Invalid(t *testing.T) {
	tests := []struct {
		name string
		r    Result
	}{
		{name: "zero value", r: Result{}},
		{name: "empty bytes", r: EncodedResult(nil)},
		{name: "garbage bytes", r: EncodedResult([]byte("not an image"))},
		{name: "nil image", r: ImageResult(nil)},
		{name: "nil array", r: ArrayResult(nil)},
		{name: "short array", r: ArrayResult(&Array{Width: 2, Height: 2, Channels: 4, Data: make([]uint8, 3)})},
		{name: "two channels", r: ArrayResult(&Array{Width: 1, Height: 1, Channels: 2, Data: make([]uint8, 2)})},
		{name: "zero size", r: ArrayResult(&Array{Channels: 4})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.r.RGBA()
			assert.ErrorIs(t, err, ErrInvalidResult)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "encoded", KindEncoded.String())
	assert.Equal(t, "image", KindImage.String())
	assert.Equal(t, "array", KindArray.String())
	assert.Equal(t, "kind(0)", Kind(0).String())
}
