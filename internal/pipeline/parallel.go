package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/backdrop/internal/cutout"
)

// ParallelConfig controls batch background removal. Decoding-independent
// work (resizing, alpha extraction) runs on MaxWorkers goroutines; model
// inference itself is serialized by the segmentation backend.
type ParallelConfig struct {
	MaxWorkers       int
	ProgressCallback ProgressCallback
	ErrorHandler     func(index int, err error)
}

// DefaultParallelConfig uses one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type removeJob struct {
	index int
	image image.Image
}

type removeResult struct {
	index  int
	cutout *cutout.Cutout
	err    error
}

// RemoveBackgrounds cuts out every image and returns results in input order.
// Failed items are nil in the result slice; the first error is returned.
func (p *Pipeline) RemoveBackgrounds(ctx context.Context, images []image.Image, modelID string, config ParallelConfig) ([]*cutout.Cutout, error) {
	if len(images) == 0 {
		return nil, errors.New("no images provided")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	workers := min(config.MaxWorkers, len(images))

	if config.ProgressCallback != nil {
		config.ProgressCallback.OnStart(len(images))
		defer config.ProgressCallback.OnComplete()
	}

	jobs := make(chan removeJob)
	results := make(chan removeResult, len(images))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				c, err := p.RemoveBackground(ctx, job.image, modelID)
				results <- removeResult{index: job.index, cutout: c, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, img := range images {
			select {
			case jobs <- removeJob{index: i, image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]*cutout.Cutout, len(images))
	errs := make([]error, len(images))
	done := 0
	for r := range results {
		out[r.index], errs[r.index] = r.cutout, r.err
		done++
		if r.err != nil && config.ProgressCallback != nil {
			config.ProgressCallback.OnError(r.index, r.err)
		}
		if config.ProgressCallback != nil {
			config.ProgressCallback.OnProgress(done, len(images))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = fmt.Errorf("image %d: %w", i, err)
		}
		if config.ErrorHandler != nil {
			config.ErrorHandler(i, err)
		}
	}
	return out, first
}
