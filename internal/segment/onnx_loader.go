package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/backdrop/internal/mempool"
	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/onnx"
)

// ONNXConfig configures in-process inference.
type ONNXConfig struct {
	ModelsDir        string
	LibraryPath      string
	NumThreads       int
	WarmupIterations int
	GPU              onnx.GPUConfig
}

// ONNXLoader loads registry models with ONNX Runtime.
type ONNXLoader struct {
	config ONNXConfig
}

// NewONNXLoader validates config and returns a loader.
func NewONNXLoader(config ONNXConfig) (*ONNXLoader, error) {
	if err := onnx.ValidateGPUConfig(config.GPU); err != nil {
		return nil, fmt.Errorf("invalid GPU config: %w", err)
	}
	if config.NumThreads < 0 {
		return nil, fmt.Errorf("num threads must be non-negative, got %d", config.NumThreads)
	}
	return &ONNXLoader{config: config}, nil
}

// Load opens the model file for modelID and warms it up.
func (l *ONNXLoader) Load(ctx context.Context, modelID string) (Session, error) {
	spec, err := models.Lookup(modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownModel, err)
	}
	path := models.ResolveModelPath(l.config.ModelsDir, spec.Filename)
	if err := models.ValidateModelExists(path); err != nil {
		return nil, err
	}

	slog.Debug("Initializing segmentation session",
		"model", modelID,
		"path", path,
		"input_size", spec.InputSize,
		"gpu_enabled", l.config.GPU.UseGPU)

	if _, err := onnx.InitEnvironment(l.config.LibraryPath, l.config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := modelIO(path)
	if err != nil {
		return nil, err
	}
	session, err := l.createSession(path, inputInfo, outputInfo)
	if err != nil {
		return nil, err
	}

	s := &onnxSession{spec: spec, session: session}
	if err := s.warmup(ctx, l.config.WarmupIterations); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("warmup failed: %w", err)
	}
	return s, nil
}

// modelIO returns the image input and the first output. Saliency models often
// expose side outputs; the first one is the fused prediction.
func modelIO(path string) (ort.InputOutputInfo, ort.InputOutputInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return ort.InputOutputInfo{}, ort.InputOutputInfo{}, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return ort.InputOutputInfo{}, ort.InputOutputInfo{}, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return ort.InputOutputInfo{}, ort.InputOutputInfo{}, errors.New("model has no outputs")
	}
	if len(inputs[0].Dimensions) != 4 {
		return ort.InputOutputInfo{}, ort.InputOutputInfo{},
			fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs[0], nil
}

func (l *ONNXLoader) createSession(path string, in, out ort.InputOutputInfo) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := options.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(options, l.config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if l.config.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(l.config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{in.Name}, []string{out.Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

type onnxSession struct {
	spec    models.Spec
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

func (s *onnxSession) normalization() onnx.Normalization {
	return onnx.Normalization{Mean: s.spec.Mean, Std: s.spec.Std}
}

// infer runs one forward pass and returns the saliency map with its size.
// The map is a pooled buffer; release it with mempool.Put.
func (s *onnxSession) infer(t onnx.Tensor) ([]float32, int, int, error) {
	if err := onnx.VerifyImageTensor(t); err != nil {
		return nil, 0, 0, fmt.Errorf("invalid tensor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, 0, 0, errors.New("segmentation session is closed")
	}

	input, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, 0, 0, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			if err := outputs[0].Destroy(); err != nil {
				slog.Warn("Failed to destroy output tensor", "error", err)
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, 0, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}
	shape := out.GetShape()
	if len(shape) < 2 {
		return nil, 0, 0, fmt.Errorf("unexpected output rank %d", len(shape))
	}
	h, w := int(shape[len(shape)-2]), int(shape[len(shape)-1])

	// GetData aliases tensor memory that is freed on Destroy.
	data := mempool.Get(h * w)
	copy(data, out.GetData())
	return data, w, h, nil
}

// Run segments img and returns the cutout as a raw RGBA array.
func (s *onnxSession) Run(ctx context.Context, img *image.NRGBA) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	t, err := onnx.ImageToTensor(img, s.spec.InputSize, s.normalization())
	if err != nil {
		return Result{}, err
	}
	data, w, h, err := s.infer(t)
	t.Release()
	if err != nil {
		return Result{}, err
	}
	alpha, err := onnx.SaliencyToAlpha(data, w, h, s.spec.Sigmoid)
	mempool.Put(data)
	if err != nil {
		return Result{}, err
	}
	return ArrayResult(ArrayFromNRGBA(onnx.ApplyAlpha(img, alpha))), nil
}

// warmup runs blank images through the model so the first request does not
// pay for lazy allocations.
func (s *onnxSession) warmup(ctx context.Context, iterations int) error {
	if iterations <= 0 {
		return nil
	}
	blank := image.NewNRGBA(image.Rect(0, 0, s.spec.InputSize, s.spec.InputSize))
	t, err := onnx.ImageToTensor(blank, s.spec.InputSize, s.normalization())
	if err != nil {
		return err
	}
	defer t.Release()
	for i := range iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, _, _, err := s.infer(t)
		if err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i+1, err)
		}
		mempool.Put(data)
	}
	slog.Debug("Segmentation model warmed up", "model", s.spec.ID, "iterations", iterations)
	return nil
}

// Close destroys the ONNX session.
func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
