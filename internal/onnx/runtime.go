package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// EnvLibraryPath points at an explicit ONNX Runtime shared library.
	EnvLibraryPath = "BACKDROP_ONNXRUNTIME_LIB"
)

// GPUConfig holds CUDA execution provider settings.
type GPUConfig struct {
	UseGPU                bool   `mapstructure:"use_gpu" yaml:"use_gpu" json:"use_gpu"`
	DeviceID              int    `mapstructure:"device_id" yaml:"device_id" json:"device_id"`
	GPUMemLimit           uint64 `mapstructure:"mem_limit" yaml:"mem_limit" json:"mem_limit"`
	ArenaExtendStrategy   string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
	CUDNNConvAlgoSearch   string `mapstructure:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search" json:"cudnn_conv_algo_search"`
	DoCopyInDefaultStream bool   `mapstructure:"copy_in_default_stream" yaml:"copy_in_default_stream" json:"copy_in_default_stream"`
}

// DefaultGPUConfig returns a CPU-only configuration with CUDA defaults filled in.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

var (
	validArenaStrategies = map[string]bool{"kNextPowerOfTwo": true, "kSameAsRequested": true}
	validAlgoSearch      = map[string]bool{"EXHAUSTIVE": true, "HEURISTIC": true, "DEFAULT": true}
)

// ValidateGPUConfig checks the CUDA settings. CPU-only configs always pass.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}
	if config.ArenaExtendStrategy != "" && !validArenaStrategies[config.ArenaExtendStrategy] {
		return fmt.Errorf("invalid arena extend strategy: %s", config.ArenaExtendStrategy)
	}
	if config.CUDNNConvAlgoSearch != "" && !validAlgoSearch[config.CUDNNConvAlgoSearch] {
		return fmt.Errorf("invalid CUDNN conv algo search: %s", config.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider options understood by ONNX Runtime.
func cudaSettings(config GPUConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(config.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if config.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	if config.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(config.GPUMemLimit, 10)
	}
	if config.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = config.ArenaExtendStrategy
	}
	if config.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = config.CUDNNConvAlgoSearch
	}
	return settings
}

// ConfigureSessionForGPU appends the CUDA provider to options when enabled.
func ConfigureSessionForGPU(options *ort.SessionOptions, config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(cudaSettings(config)); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// libraryName returns the shared library filename for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// findProjectRoot walks up from dir until it finds go.mod or an onnxruntime
// directory.
func findProjectRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "onnxruntime")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// LibraryCandidates lists the locations searched for the runtime library in
// priority order: explicit path, environment, system paths, project-local copy.
func LibraryCandidates(explicit string, useGPU bool) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if env := os.Getenv(EnvLibraryPath); env != "" {
		out = append(out, env)
	}
	if useGPU {
		out = append(out, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
	}
	out = append(out,
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	)

	name, err := libraryName()
	if err != nil {
		return out
	}
	cwd, err := os.Getwd()
	if err != nil {
		return out
	}
	root, err := findProjectRoot(cwd)
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
	}
	return append(out, filepath.Join(root, "onnxruntime", "lib", name))
}

// FindLibrary returns the first existing candidate.
func FindLibrary(explicit string, useGPU bool) (string, error) {
	candidates := LibraryCandidates(explicit, useGPU)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (searched %d locations)", len(candidates))
}

var envMu sync.Mutex

// InitEnvironment locates the shared library and initializes the ONNX Runtime
// environment once per process. It returns the library path in use.
func InitEnvironment(libraryPath string, useGPU bool) (string, error) {
	envMu.Lock()
	defer envMu.Unlock()

	path, err := FindLibrary(libraryPath, useGPU)
	if err != nil {
		return "", err
	}
	if ort.IsInitialized() {
		return path, nil
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return "", fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path)
	return path, nil
}

// DestroyEnvironment tears the runtime down if it was initialized.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// RuntimeInfo is reported by CheckRuntime.
type RuntimeInfo struct {
	LibraryPath string `json:"library_path"`
	GPU         bool   `json:"gpu"`
}

// CheckRuntime verifies that the runtime library loads and that session
// options, including the CUDA provider when requested, can be created.
func CheckRuntime(libraryPath string, gpu GPUConfig) (RuntimeInfo, error) {
	path, err := InitEnvironment(libraryPath, gpu.UseGPU)
	if err != nil {
		return RuntimeInfo{}, err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return RuntimeInfo{}, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = options.Destroy() }()
	if err := ConfigureSessionForGPU(options, gpu); err != nil {
		return RuntimeInfo{LibraryPath: path}, err
	}
	return RuntimeInfo{LibraryPath: path, GPU: gpu.UseGPU}, nil
}
