package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/mask"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

// DefaultThreshold is the Dice score a case must reach to pass.
const DefaultThreshold = 0.95

// Config controls an evaluation run.
type Config struct {
	Models     []string
	Threshold  float64
	ResultsDir string
	CacheDir   string
}

// CaseResult holds the scores for one case.
type CaseResult struct {
	Case   string  `json:"case"`
	Dice   float64 `json:"dice"`
	IoU    float64 `json:"iou"`
	Cached bool    `json:"cached"`
}

// ModelReport aggregates one model's results.
type ModelReport struct {
	Model      string        `json:"model"`
	Threshold  float64       `json:"threshold"`
	Cases      []CaseResult  `json:"cases"`
	Dice       Stats         `json:"dice"`
	IoU        Stats         `json:"iou"`
	Failures   []CaseResult  `json:"failures"`
	Duration   time.Duration `json:"duration_ns"`
	ReportPath string        `json:"-"`
}

// Passed reports whether no case fell below the threshold.
func (r ModelReport) Passed() bool { return len(r.Failures) == 0 }

// Evaluator runs the dataset through a pipeline, one model at a time.
type Evaluator struct {
	pl    *pipeline.Pipeline
	cfg   Config
	cache MaskCache
}

// NewEvaluator validates cfg and returns an Evaluator.
func NewEvaluator(pl *pipeline.Pipeline, cfg Config) (*Evaluator, error) {
	if pl == nil {
		return nil, fmt.Errorf("evaluator requires a pipeline")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no models to evaluate")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in [0,1], got %f", cfg.Threshold)
	}
	return &Evaluator{pl: pl, cfg: cfg, cache: MaskCache{Dir: cfg.CacheDir}}, nil
}

// Run evaluates every configured model over cases. Loaded sessions are
// cleared after each model.
func (e *Evaluator) Run(ctx context.Context, cases []Case) ([]ModelReport, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	reports := make([]ModelReport, 0, len(e.cfg.Models))
	for _, model := range e.cfg.Models {
		report, err := e.evaluateModel(ctx, model, cases)
		if clearErr := e.pl.ClearSessions(ctx); clearErr != nil {
			slog.Warn("Failed to clear sessions", "model", model, "error", clearErr)
		}
		if err != nil {
			return reports, fmt.Errorf("model %s: %w", model, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (e *Evaluator) evaluateModel(ctx context.Context, model string, cases []Case) (ModelReport, error) {
	start := time.Now()
	slog.Info("Evaluating model", "model", model, "cases", len(cases))

	report := ModelReport{Model: model, Threshold: e.cfg.Threshold, Cases: make([]CaseResult, 0, len(cases))}
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := e.evaluateCase(ctx, model, c)
		if err != nil {
			return report, fmt.Errorf("case %s: %w", c.ID, err)
		}
		report.Cases = append(report.Cases, res)
		if res.Dice < e.cfg.Threshold {
			report.Failures = append(report.Failures, res)
		}
	}

	dices := make([]float64, len(report.Cases))
	ious := make([]float64, len(report.Cases))
	for i, r := range report.Cases {
		dices[i], ious[i] = r.Dice, r.IoU
	}
	report.Dice = Summarize(dices)
	report.IoU = Summarize(ious)
	report.Duration = time.Since(start)

	if e.cfg.ResultsDir != "" {
		path, err := writeReport(e.cfg.ResultsDir, report)
		if err != nil {
			return report, err
		}
		report.ReportPath = path
	}
	return report, nil
}

func (e *Evaluator) evaluateCase(ctx context.Context, model string, c Case) (CaseResult, error) {
	gt, err := c.LoadExpectedMask()
	if err != nil {
		return CaseResult{}, err
	}

	pred, cached := e.cache.Load(model, c.ID, gt.Width, gt.Height)
	if !cached {
		pred, err = e.predict(ctx, model, c)
		if err != nil {
			return CaseResult{}, err
		}
		if pred.Width != gt.Width || pred.Height != gt.Height {
			pred = pred.ResizeNearest(gt.Width, gt.Height)
		}
		if err := e.cache.Store(model, c.ID, pred); err != nil {
			slog.Warn("Failed to cache mask", "model", model, "case", c.ID, "error", err)
		}
	}

	dice, err := mask.Dice(gt, pred)
	if err != nil {
		return CaseResult{}, err
	}
	iou, err := mask.IoU(gt, pred)
	if err != nil {
		return CaseResult{}, err
	}
	slog.Debug("Case scored", "model", model, "case", c.ID, "dice", dice, "iou", iou, "cached", cached)
	return CaseResult{Case: c.ID, Dice: dice, IoU: iou, Cached: cached}, nil
}

func (e *Evaluator) predict(ctx context.Context, model string, c Case) (*mask.Mask, error) {
	img, err := c.LoadInput()
	if err != nil {
		return nil, err
	}
	cut, err := e.pl.RemoveBackground(ctx, img, model)
	if err != nil {
		return nil, err
	}
	if e.cfg.ResultsDir != "" {
		out := filepath.Join(e.cfg.ResultsDir, model, c.ID+".png")
		if err := utils.SaveImage(out, cut.Image); err != nil {
			return nil, err
		}
	}
	return cut.Mask, nil
}

func writeReport(dir string, report ModelReport) (string, error) {
	modelDir := filepath.Join(dir, report.Model)
	if err := os.MkdirAll(modelDir, 0o750); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(modelDir, "report.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
