// Package segment provides the background segmentation capability: a
// pluggable backend that turns an image into an RGBA cutout, and a resource
// manager that keeps at most one loaded model in memory.
package segment

import (
	"context"
	"errors"
	"image"
)

// ErrUnknownModel is returned by backends that do not serve a model id.
var ErrUnknownModel = errors.New("unknown segmentation model")

// Segmenter segments img with the named model.
type Segmenter interface {
	Segment(ctx context.Context, img *image.NRGBA, modelID string) (Result, error)
}

// Session is one loaded model.
type Session interface {
	Run(ctx context.Context, img *image.NRGBA) (Result, error)
	Close() error
}

// Loader creates sessions for model ids.
type Loader interface {
	Load(ctx context.Context, modelID string) (Session, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, modelID string) (Session, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, modelID string) (Session, error) {
	return f(ctx, modelID)
}

// SegmenterFunc adapts a function to Segmenter.
type SegmenterFunc func(ctx context.Context, img *image.NRGBA, modelID string) (Result, error)

// Segment calls f.
func (f SegmenterFunc) Segment(ctx context.Context, img *image.NRGBA, modelID string) (Result, error) {
	return f(ctx, img, modelID)
}

// Managed runs segmentation through a Manager so that model switches and
// inference are serialized.
type Managed struct {
	manager *Manager
}

// NewManaged wraps manager as a Segmenter.
func NewManaged(manager *Manager) *Managed {
	return &Managed{manager: manager}
}

// Manager returns the underlying resource manager.
func (m *Managed) Manager() *Manager { return m.manager }

// Segment acquires the model, runs it and releases the slot.
func (m *Managed) Segment(ctx context.Context, img *image.NRGBA, modelID string) (Result, error) {
	lease, err := m.manager.Acquire(ctx, modelID)
	if err != nil {
		return Result{}, err
	}
	defer lease.Release()
	return lease.Session.Run(ctx, img)
}

// Close unloads the resident model.
func (m *Managed) Close() error {
	return m.manager.Close()
}

// Purge unloads the resident model so the next request starts fresh.
func (m *Managed) Purge(ctx context.Context) error {
	return m.manager.Purge(ctx)
}
