package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Hooks observe model lifecycle events. Nil hooks are skipped.
type Hooks struct {
	Loaded  func(modelID string, took time.Duration)
	Evicted func(modelID string)
	Failed  func(modelID string, err error)
}

// Manager owns the loaded segmentation session. It holds a single slot: the
// session for the most recently requested model. Requesting another model
// closes the resident one before loading the new one. A one-token semaphore
// serializes acquisition, so evictions never interleave and a session is
// never closed while a lease on it is outstanding.
type Manager struct {
	loader Loader
	hooks  Hooks
	cache  *lru.Cache
	slot   chan struct{}
}

// NewManager returns a manager that loads sessions through loader.
func NewManager(loader Loader, hooks Hooks) (*Manager, error) {
	m := &Manager{
		loader: loader,
		hooks:  hooks,
		slot:   make(chan struct{}, 1),
	}
	cache, err := lru.NewWithEvict(1, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

func (m *Manager) onEvict(key, value interface{}) {
	id, _ := key.(string)
	if sess, ok := value.(Session); ok {
		if err := sess.Close(); err != nil {
			slog.Warn("Failed to close segmentation session", "model", id, "error", err)
		}
	}
	slog.Info("Evicted segmentation model", "model", id)
	if m.hooks.Evicted != nil {
		m.hooks.Evicted(id)
	}
}

func (m *Manager) lock(ctx context.Context) error {
	select {
	case m.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() { <-m.slot }

// Lease grants exclusive use of a loaded session until Release.
type Lease struct {
	ModelID string
	Session Session

	release sync.Once
	manager *Manager
}

// Release returns the slot. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.release.Do(l.manager.unlock)
}

// Acquire waits for the slot, loads modelID if it is not resident, and
// returns a lease on its session. The wait honours ctx.
func (m *Manager) Acquire(ctx context.Context, modelID string) (*Lease, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}

	if v, ok := m.cache.Get(modelID); ok {
		return &Lease{ModelID: modelID, Session: v.(Session), manager: m}, nil
	}

	// Free the resident model before loading so only one is ever in memory.
	m.cache.Purge()

	start := time.Now()
	sess, err := m.loader.Load(ctx, modelID)
	if err != nil {
		m.unlock()
		if m.hooks.Failed != nil {
			m.hooks.Failed(modelID, err)
		}
		return nil, fmt.Errorf("failed to load model %q: %w", modelID, err)
	}
	took := time.Since(start)
	m.cache.Add(modelID, sess)

	slog.Info("Loaded segmentation model", "model", modelID, "duration_ms", took.Milliseconds())
	if m.hooks.Loaded != nil {
		m.hooks.Loaded(modelID, took)
	}
	return &Lease{ModelID: modelID, Session: sess, manager: m}, nil
}

// Active returns the resident model id, or "" when none is loaded.
func (m *Manager) Active() string {
	keys := m.cache.Keys()
	if len(keys) == 0 {
		return ""
	}
	id, _ := keys[0].(string)
	return id
}

// Evict unloads modelID if it is resident.
func (m *Manager) Evict(ctx context.Context, modelID string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	m.cache.Remove(modelID)
	return nil
}

// Purge unloads whatever model is resident.
func (m *Manager) Purge(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	m.cache.Purge()
	return nil
}

// Close unloads the resident model, waiting for outstanding leases.
func (m *Manager) Close() error {
	return m.Purge(context.Background())
}
