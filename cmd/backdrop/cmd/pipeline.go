package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/config"
	"github.com/MeKo-Tech/backdrop/internal/onnx"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/segment"
)

// newSegmenter builds the configured segmentation backend. Tests swap it for
// an in-memory segmenter.
var newSegmenter = func(cfg *config.Config, hooks segment.Hooks) (segment.Segmenter, error) {
	switch cfg.Segmentation.Backend {
	case config.BackendRemote:
		remote, err := segment.NewRemote(cfg.ToRemoteConfig())
		if err != nil {
			return nil, err
		}
		return remote, nil
	case config.BackendONNX, "":
		loader, err := segment.NewONNXLoader(cfg.ToONNXConfig())
		if err != nil {
			return nil, err
		}
		manager, err := segment.NewManager(loader, hooks)
		if err != nil {
			return nil, err
		}
		return segment.NewManaged(manager), nil
	default:
		return nil, fmt.Errorf("unknown segmentation backend: %s", cfg.Segmentation.Backend)
	}
}

// logHooks reports model lifecycle events through slog.
func logHooks() segment.Hooks {
	return segment.Hooks{
		Loaded: func(modelID string, took time.Duration) {
			slog.Info("Model loaded", "model", modelID, "duration_ms", took.Milliseconds())
		},
		Evicted: func(modelID string) {
			slog.Debug("Model evicted", "model", modelID)
		},
		Failed: func(modelID string, err error) {
			slog.Error("Model load failed", "model", modelID, "error", err)
		},
	}
}

// buildPipeline assembles a pipeline over the configured backend.
func buildPipeline(cfg *config.Config, hooks segment.Hooks) (*pipeline.Pipeline, error) {
	seg, err := newSegmenter(cfg, hooks)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}
	pl, err := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithSegmenter(seg).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	slog.Debug("Pipeline ready",
		"backend", cfg.Segmentation.Backend,
		"default_model", pl.DefaultModel())
	return pl, nil
}

// releaseRuntime destroys the ONNX Runtime environment. Call it only after
// every pipeline over the ONNX backend has been closed.
func releaseRuntime(cfg *config.Config) {
	if cfg.Segmentation.Backend != config.BackendONNX && cfg.Segmentation.Backend != "" {
		return
	}
	if err := onnx.DestroyEnvironment(); err != nil {
		slog.Warn("ONNX Runtime teardown failed", "error", err)
		return
	}
	slog.Debug("ONNX Runtime released")
}
