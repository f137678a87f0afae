package evaluate

import (
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/backdrop/internal/mask"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

// MaskCache stores predicted masks per model so reruns skip inference.
// An empty directory disables caching.
type MaskCache struct {
	Dir string
}

func (c MaskCache) path(model, caseID string) string {
	return filepath.Join(c.Dir, model, caseID+".png")
}

// Load returns the cached mask when present and shaped width x height.
func (c MaskCache) Load(model, caseID string, width, height int) (*mask.Mask, bool) {
	if c.Dir == "" {
		return nil, false
	}
	p := c.path(model, caseID)
	if _, err := os.Stat(p); err != nil {
		return nil, false
	}
	img, _, err := utils.LoadImage(p)
	if err != nil {
		return nil, false
	}
	m := mask.FromAlpha(img)
	if m.Matches(width, height) != nil {
		return nil, false
	}
	return m, true
}

// Store writes m for later runs.
func (c MaskCache) Store(model, caseID string, m *mask.Mask) error {
	if c.Dir == "" {
		return nil
	}
	return utils.SaveImage(c.path(model, caseID), m.NRGBA())
}
