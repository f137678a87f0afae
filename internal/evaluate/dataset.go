// Package evaluate scores segmentation models against a labelled dataset.
package evaluate

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/backdrop/internal/mask"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

// Case file names inside each dataset directory.
const (
	InputFile    = "input.png"
	ExpectedFile = "expected.png"
)

// ErrInvalidCase is returned for case directories missing either file.
var ErrInvalidCase = errors.New("invalid dataset case")

// Case is one labelled example.
type Case struct {
	ID           string
	InputPath    string
	ExpectedPath string
}

// LoadInput decodes the case input.
func (c Case) LoadInput() (image.Image, error) {
	img, _, err := utils.LoadImage(c.InputPath)
	return img, err
}

// LoadExpectedMask reads the ground truth: pixels with non-zero alpha in
// expected.png are foreground.
func (c Case) LoadExpectedMask() (*mask.Mask, error) {
	img, _, err := utils.LoadImage(c.ExpectedPath)
	if err != nil {
		return nil, err
	}
	return mask.FromAlpha(img), nil
}

// LoadDataset returns one Case per sub-directory of root, sorted by name.
// Every sub-directory must hold both input.png and expected.png.
func LoadDataset(root string) ([]Case, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var cases []Case
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		c := Case{
			ID:           e.Name(),
			InputPath:    filepath.Join(dir, InputFile),
			ExpectedPath: filepath.Join(dir, ExpectedFile),
		}
		for _, p := range []string{c.InputPath, c.ExpectedPath} {
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidCase, dir)
			}
		}
		cases = append(cases, c)
	}
	return cases, nil
}
