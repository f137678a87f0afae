// Package batch removes or replaces backgrounds for many files at once.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

// ErrNoImages is returned when discovery finds nothing to process.
var ErrNoImages = errors.New("no image files found")

// Item is the outcome for a single input file.
type Item struct {
	Input    string        `json:"input"`
	Output   string        `json:"output,omitempty"`
	Model    string        `json:"model"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
}

// Result holds the result of batch processing.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Succeeded counts items without errors.
func (r *Result) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts items with errors.
func (r *Result) Failed() int { return len(r.Items) - r.Succeeded() }

// ProcessBatch discovers images under paths and runs each through pl.
func ProcessBatch(ctx context.Context, pl *pipeline.Pipeline, paths []string, config Config) (*Result, error) {
	files, err := DiscoverImageFiles(paths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	format, err := utils.ParseFormat(config.Format)
	if err != nil {
		return nil, err
	}

	var background image.Image
	if config.Background != "" {
		background, _, err = utils.LoadImage(config.Background)
		if err != nil {
			return nil, fmt.Errorf("failed to load background: %w", err)
		}
	}

	var progress pipeline.ProgressCallback
	if config.ShowProgress && !config.Quiet {
		progress = config.Progress
		if progress == nil {
			progress = pipeline.NewConsoleProgressCallback(os.Stderr, "Processing: ").
				WithUpdateInterval(config.ProgressInterval)
		}
	}

	jobs := planOutputs(files, config.OutputDir, utils.Extension(format))
	p := &processor{pl: pl, config: config, format: format, background: background}

	start := time.Now()
	items, err := p.run(ctx, jobs, progress)
	if err != nil {
		return nil, fmt.Errorf("batch processing failed: %w", err)
	}

	return &Result{Items: items, Duration: time.Since(start), WorkerCount: p.workers(len(jobs))}, nil
}

// SaveResults writes the formatted summary to w.
func (r *Result) SaveResults(w io.Writer, format string) error {
	out, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// PrintStats writes processing statistics to w.
func (r *Result) PrintStats(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", len(r.Items))
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", r.Succeeded())
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Failed())
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if n := len(r.Items); n > 0 && r.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Avg per image: %v\n", (r.Duration / time.Duration(n)).Round(time.Millisecond))
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", float64(n)/r.Duration.Seconds())
	}
}
