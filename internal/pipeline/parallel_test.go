package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/backdrop/internal/segment"
)

type recordingProgress struct {
	mu       sync.Mutex
	started  int
	progress []int
	errors   []int
	complete bool
}

func (r *recordingProgress) OnStart(total int) { r.started = total }
func (r *recordingProgress) OnProgress(current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}
func (r *recordingProgress) OnComplete() { r.complete = true }
func (r *recordingProgress) OnError(index int, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, index)
}

func TestRemoveBackgrounds_PreservesOrder(t *testing.T) {
	seg := segment.SegmenterFunc(func(_ context.Context, img *image.NRGBA, _ string) (segment.Result, error) {
		return segment.ImageResult(img), nil
	})
	p := build(t, seg)

	images := make([]image.Image, 6)
	for i := range images {
		images[i] = solid(i+1, 1, color.NRGBA{A: 255})
	}
	progress := &recordingProgress{}

	out, err := p.RemoveBackgrounds(context.Background(), images, "", ParallelConfig{MaxWorkers: 3, ProgressCallback: progress})
	require.NoError(t, err)
	require.Len(t, out, 6)
	for i, c := range out {
		assert.Equal(t, i+1, c.Width())
	}
	assert.Equal(t, 6, progress.started)
	assert.Len(t, progress.progress, 6)
	assert.True(t, progress.complete)
}

func TestRemoveBackgrounds_ReportsErrors(t *testing.T) {
	bad := errors.New("bad image")
	seg := segment.SegmenterFunc(func(_ context.Context, img *image.NRGBA, _ string) (segment.Result, error) {
		if img.Rect.Dx() == 2 {
			return segment.Result{}, bad
		}
		return segment.ImageResult(img), nil
	})
	p := build(t, seg)

	images := []image.Image{solid(1, 1, color.NRGBA{}), solid(2, 1, color.NRGBA{}), solid(3, 1, color.NRGBA{})}
	var handled []int
	progress := &recordingProgress{}
	out, err := p.RemoveBackgrounds(context.Background(), images, "", ParallelConfig{
		MaxWorkers:       2,
		ProgressCallback: progress,
		ErrorHandler:     func(i int, _ error) { handled = append(handled, i) },
	})
	require.ErrorIs(t, err, bad)
	assert.Contains(t, err.Error(), "image 1")
	assert.Nil(t, out[1])
	assert.NotNil(t, out[0])
	assert.NotNil(t, out[2])
	assert.Equal(t, []int{1}, handled)
	assert.Equal(t, []int{1}, progress.errors)
}

func TestRemoveBackgrounds_Empty(t *testing.T) {
	p := build(t, &boxSegmenter{})
	_, err := p.RemoveBackgrounds(context.Background(), nil, "", DefaultParallelConfig())
	assert.Error(t, err)
}

func TestRemoveBackgrounds_Cancelled(t *testing.T) {
	p := build(t, &boxSegmenter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.RemoveBackgrounds(ctx, []image.Image{solid(2, 2, color.NRGBA{})}, "", DefaultParallelConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
