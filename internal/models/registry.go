// Package models describes the segmentation models the service can load and
// resolves their files on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Model identifiers.
const (
	U2Net              = "u2net"
	U2NetP             = "u2netp"
	U2NetHumanSeg      = "u2net_human_seg"
	Silueta            = "silueta"
	ISNetGeneralUse    = "isnet-general-use"
	ISNetAnime         = "isnet-anime"
	BiRefNetGeneral    = "birefnet-general"
	BiRefNetGeneralLit = "birefnet-general-lite"
	BriaRMBG           = "bria-rmbg"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = ISNetGeneralUse

// Model families.
const (
	FamilyU2Net    = "u2net"
	FamilyISNet    = "isnet"
	FamilyBiRefNet = "birefnet"
	FamilyBria     = "bria"
)

// DefaultModelsDir is the directory name used when nothing else is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "BACKDROP_MODELS_DIR"

// ErrUnknownModel is returned for identifiers missing from the registry.
var ErrUnknownModel = errors.New("unknown segmentation model")

// Spec holds the input contract of a saliency model. Pixels are scaled to
// [0,1] by the image maximum, then normalized per channel with Mean and Std.
type Spec struct {
	ID          string     `json:"id"`
	Family      string     `json:"family"`
	Filename    string     `json:"filename"`
	InputSize   int        `json:"input_size"`
	Mean        [3]float32 `json:"mean"`
	Std         [3]float32 `json:"std"`
	Sigmoid     bool       `json:"sigmoid"`
	Description string     `json:"description"`
}

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
	halfMean     = [3]float32{0.5, 0.5, 0.5}
	unitStd      = [3]float32{1.0, 1.0, 1.0}
)

var registry = map[string]Spec{
	U2Net: {
		ID: U2Net, Family: FamilyU2Net, Filename: "u2net.onnx", InputSize: 320,
		Mean: imagenetMean, Std: imagenetStd,
		Description: "General purpose salient object model",
	},
	U2NetP: {
		ID: U2NetP, Family: FamilyU2Net, Filename: "u2netp.onnx", InputSize: 320,
		Mean: imagenetMean, Std: imagenetStd,
		Description: "Lightweight u2net",
	},
	U2NetHumanSeg: {
		ID: U2NetHumanSeg, Family: FamilyU2Net, Filename: "u2net_human_seg.onnx", InputSize: 320,
		Mean: imagenetMean, Std: imagenetStd,
		Description: "u2net trained for human segmentation",
	},
	Silueta: {
		ID: Silueta, Family: FamilyU2Net, Filename: "silueta.onnx", InputSize: 320,
		Mean: imagenetMean, Std: imagenetStd,
		Description: "Pruned u2net with similar quality",
	},
	ISNetGeneralUse: {
		ID: ISNetGeneralUse, Family: FamilyISNet, Filename: "isnet-general-use.onnx", InputSize: 1024,
		Mean: halfMean, Std: unitStd,
		Description: "DIS model for general use",
	},
	ISNetAnime: {
		ID: ISNetAnime, Family: FamilyISNet, Filename: "isnet-anime.onnx", InputSize: 1024,
		Mean: halfMean, Std: unitStd,
		Description: "DIS model for anime characters",
	},
	BiRefNetGeneral: {
		ID: BiRefNetGeneral, Family: FamilyBiRefNet, Filename: "birefnet-general.onnx", InputSize: 1024,
		Mean: imagenetMean, Std: imagenetStd, Sigmoid: true,
		Description: "Bilateral reference network, general use",
	},
	BiRefNetGeneralLit: {
		ID: BiRefNetGeneralLit, Family: FamilyBiRefNet, Filename: "birefnet-general-lite.onnx", InputSize: 1024,
		Mean: imagenetMean, Std: imagenetStd, Sigmoid: true,
		Description: "Lightweight BiRefNet, general use",
	},
	BriaRMBG: {
		ID: BriaRMBG, Family: FamilyBria, Filename: "bria-rmbg.onnx", InputSize: 1024,
		Mean: halfMean, Std: unitStd,
		Description: "BRIA background removal model",
	},
}

// Lookup returns the spec for id.
func Lookup(id string) (Spec, error) {
	spec, ok := registry[id]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return spec, nil
}

// IDs returns all registered identifiers in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Info describes a registered model and whether its file is present.
type Info struct {
	Spec
	Path      string `json:"path"`
	Available bool   `json:"available"`
}

// ListAvailableModels reports every registered model with its resolved path.
func ListAvailableModels(modelsDir string) []Info {
	out := make([]Info, 0, len(registry))
	for _, id := range IDs() {
		spec := registry[id]
		path := ResolveModelPath(modelsDir, spec.Filename)
		_, err := os.Stat(path)
		out = append(out, Info{Spec: spec, Path: path, Available: err == nil})
	}
	return out
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/segmentation/<file> and falls back to
// <dir>/<file>.
func ResolveModelPath(modelsDir, filename string) string {
	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, "segmentation", filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(base, filename)
}

// PathFor resolves the model file for id.
func PathFor(modelsDir, id string) (string, error) {
	spec, err := Lookup(id)
	if err != nil {
		return "", err
	}
	return ResolveModelPath(modelsDir, spec.Filename), nil
}

// ValidateModelExists checks that a model file exists at path.
func ValidateModelExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", path)
	}
	return nil
}
