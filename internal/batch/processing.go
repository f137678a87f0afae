package batch

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

type job struct {
	index  int
	input  string
	output string
}

// planOutputs assigns every input a unique "<stem>_processed<ext>" path.
func planOutputs(files []string, outputDir, ext string) []job {
	jobs := make([]job, len(files))
	used := make(map[string]int, len(files))
	for i, f := range files {
		dir := outputDir
		if dir == "" {
			dir = filepath.Dir(f)
		}
		out := filepath.Join(dir, utils.OutputName(f, ext))
		if n := used[out]; n > 0 {
			out = strings.TrimSuffix(out, ext) + "_" + strconv.Itoa(n+1) + ext
		}
		used[filepath.Join(dir, utils.OutputName(f, ext))]++
		jobs[i] = job{index: i, input: f, output: out}
	}
	return jobs
}

type processor struct {
	pl         *pipeline.Pipeline
	config     Config
	format     string
	background image.Image
}

func (p *processor) workers(n int) int {
	w := p.config.Workers
	if w <= 0 {
		w = 1
	}
	return min(w, n)
}

// run processes jobs on a worker pool. Without ContinueOnError the first
// failure cancels the remaining work and is returned.
func (p *processor) run(ctx context.Context, jobs []job, progress pipeline.ProgressCallback) ([]Item, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if progress != nil {
		progress.OnStart(len(jobs))
		defer progress.OnComplete()
	}

	items := make([]Item, len(jobs))
	queue := make(chan job)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	for range p.workers(len(jobs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				item := p.processOne(ctx, j)
				items[j.index] = item

				mu.Lock()
				done++
				if item.Err != nil {
					if progress != nil {
						progress.OnError(j.index, item.Err)
					}
					if !p.config.ContinueOnError {
						cancel(fmt.Errorf("%s: %w", j.input, item.Err))
					}
				}
				if progress != nil {
					progress.OnProgress(done, len(jobs))
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, j := range jobs {
		select {
		case queue <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *processor) processOne(ctx context.Context, j job) Item {
	start := time.Now()
	item := Item{Input: j.input, Model: p.config.Model}

	img, _, err := utils.LoadImage(j.input)
	if err != nil {
		item.Err = err
		return item
	}

	var out image.Image
	if p.background != nil {
		opts := compose.Options{
			TargetRatio:    p.config.TargetRatio,
			SmartPlacement: p.config.SmartPlacement,
			Normalize:      p.config.Normalize,
		}
		res, err := p.pl.ReplaceBackground(ctx, img, p.background, p.config.Model, opts)
		if err != nil {
			item.Err = err
			return item
		}
		out, item.Model = res.Image, res.Model
	} else {
		c, err := p.pl.RemoveBackground(ctx, img, p.config.Model)
		if err != nil {
			item.Err = err
			return item
		}
		out = c.Image
		if item.Model == "" {
			item.Model = p.pl.DefaultModel()
		}
	}

	if err := utils.SaveImage(j.output, out); err != nil {
		item.Err = err
		return item
	}

	b := out.Bounds()
	item.Output, item.Width, item.Height = j.output, b.Dx(), b.Dy()
	item.Duration = time.Since(start)
	slog.Debug("Processed image", "input", j.input, "output", j.output, "duration_ms", item.Duration.Milliseconds())
	return item
}
