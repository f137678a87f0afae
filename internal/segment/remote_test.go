package segment

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRemote_Validation(t *testing.T) {
	_, err := NewRemote(RemoteConfig{})
	assert.Error(t, err)
	_, err = NewRemote(RemoteConfig{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
	r, err := NewRemote(RemoteConfig{BaseURL: "http://example.com/api/"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api/remove-bg", r.endpoint.String())
}

func TestRemote_Segment(t *testing.T) {
	var gotModel, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/remove-bg", r.URL.Path)
		gotModel = r.URL.Query().Get("model")

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		gotContentType = header.Header.Get("Content-Type")

		img, err := png.Decode(file)
		if !assert.NoError(t, err) {
			return
		}
		// Echo back with the left half made transparent.
		b := img.Bounds()
		out := image.NewNRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if x >= b.Dx()/2 {
					out.Set(x, y, img.At(x, y))
				}
			}
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, out)
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	in := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := range in.Pix {
		in.Pix[i] = 255
	}
	res, err := r.Segment(context.Background(), in, "u2netp")
	require.NoError(t, err)
	assert.Equal(t, KindEncoded, res.Kind)
	assert.Equal(t, "u2netp", gotModel)
	assert.Equal(t, "image/png", gotContentType)

	img, err := res.RGBA()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).A)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, img.NRGBAAt(3, 1))
}

func TestRemote_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = r.Segment(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	assert.ErrorIs(t, err, ErrRemoteStatus)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestRemote_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 100))
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{BaseURL: srv.URL, MaxResponseBytes: 10})
	require.NoError(t, err)
	_, err = r.Segment(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	assert.ErrorIs(t, err, ErrRemoteStatus)
}

func TestRemote_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Segment(ctx, image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
