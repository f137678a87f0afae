package segment

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id     string
	closed atomic.Bool
	runs   atomic.Int32
}

func (s *fakeSession) Run(_ context.Context, img *image.NRGBA) (Result, error) {
	s.runs.Add(1)
	return ImageResult(img), nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeLoader struct {
	mu       sync.Mutex
	loads    []string
	sessions map[string]*fakeSession
	fail     map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{sessions: map[string]*fakeSession{}, fail: map[string]error{}}
}

func (l *fakeLoader) Load(_ context.Context, id string) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail[id]; err != nil {
		return nil, err
	}
	l.loads = append(l.loads, id)
	s := &fakeSession{id: id}
	l.sessions[id] = s
	return s, nil
}

func TestManager_ReusesResidentModel(t *testing.T) {
	loader := newFakeLoader()
	m, err := NewManager(loader, Hooks{})
	require.NoError(t, err)

	for range 3 {
		lease, err := m.Acquire(context.Background(), "u2net")
		require.NoError(t, err)
		lease.Release()
	}
	assert.Equal(t, []string{"u2net"}, loader.loads)
	assert.Equal(t, "u2net", m.Active())
}

func TestManager_SwitchEvictsPrevious(t *testing.T) {
	loader := newFakeLoader()
	var evicted []string
	var loaded []string
	m, err := NewManager(loader, Hooks{
		Loaded:  func(id string, _ time.Duration) { loaded = append(loaded, id) },
		Evicted: func(id string) { evicted = append(evicted, id) },
	})
	require.NoError(t, err)

	lease, err := m.Acquire(context.Background(), "u2net")
	require.NoError(t, err)
	lease.Release()

	lease, err = m.Acquire(context.Background(), "silueta")
	require.NoError(t, err)
	lease.Release()

	assert.True(t, loader.sessions["u2net"].closed.Load())
	assert.False(t, loader.sessions["silueta"].closed.Load())
	assert.Equal(t, []string{"u2net"}, evicted)
	assert.Equal(t, []string{"u2net", "silueta"}, loaded)
	assert.Equal(t, "silueta", m.Active())
}

func TestManager_LoadFailureReleasesSlot(t *testing.T) {
	loader := newFakeLoader()
	boom := errors.New("boom")
	loader.fail["broken"] = boom
	var failed string
	m, err := NewManager(loader, Hooks{Failed: func(id string, _ error) { failed = id }})
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "broken")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "broken", failed)
	assert.Empty(t, m.Active())

	lease, err := m.Acquire(context.Background(), "u2net")
	require.NoError(t, err)
	lease.Release()
}

func TestManager_AcquireHonoursContext(t *testing.T) {
	m, err := NewManager(newFakeLoader(), Hooks{})
	require.NoError(t, err)

	lease, err := m.Acquire(context.Background(), "u2net")
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "silueta")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The held session was not evicted by the waiting caller.
	assert.Equal(t, "u2net", m.Active())
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	m, err := NewManager(newFakeLoader(), Hooks{})
	require.NoError(t, err)

	lease, err := m.Acquire(context.Background(), "u2net")
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err = m.Acquire(ctx, "u2net")
	require.NoError(t, err)
	lease.Release()
}

func TestManager_EvictAndPurge(t *testing.T) {
	loader := newFakeLoader()
	m, err := NewManager(loader, Hooks{})
	require.NoError(t, err)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "u2net")
	require.NoError(t, err)
	lease.Release()

	require.NoError(t, m.Evict(ctx, "other"))
	assert.Equal(t, "u2net", m.Active())

	require.NoError(t, m.Evict(ctx, "u2net"))
	assert.Empty(t, m.Active())
	assert.True(t, loader.sessions["u2net"].closed.Load())

	lease, err = m.Acquire(ctx, "silueta")
	require.NoError(t, err)
	lease.Release()
	require.NoError(t, m.Close())
	assert.Empty(t, m.Active())
	assert.True(t, loader.sessions["silueta"].closed.Load())
}

type trackingSession struct {
	fakeSession
	inFlight *atomic.Int32
	overlap  *atomic.Int32
}

func (s *trackingSession) Run(ctx context.Context, img *image.NRGBA) (Result, error) {
	if s.inFlight.Add(1) > 1 || s.closed.Load() {
		s.overlap.Add(1)
	}
	defer s.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	return s.fakeSession.Run(ctx, img)
}

func TestManaged_ConcurrentSwitchesAreSerialized(t *testing.T) {
	var inFlight, overlap atomic.Int32
	var loads atomic.Int32
	loader := LoaderFunc(func(_ context.Context, id string) (Session, error) {
		loads.Add(1)
		return &trackingSession{fakeSession: fakeSession{id: id}, inFlight: &inFlight, overlap: &overlap}, nil
	})
	m, err := NewManager(loader, Hooks{})
	require.NoError(t, err)
	seg := NewManaged(m)
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "u2net"
			if i%2 == 1 {
				id = "silueta"
			}
			if _, err := seg.Segment(context.Background(), img, id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, overlap.Load())
	assert.GreaterOrEqual(t, loads.Load(), int32(2))
}

func TestManaged_Segment(t *testing.T) {
	m, err := NewManager(newFakeLoader(), Hooks{})
	require.NoError(t, err)
	seg := NewManaged(m)
	assert.Same(t, m, seg.Manager())

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	res, err := seg.Segment(context.Background(), img, "u2net")
	require.NoError(t, err)
	assert.Equal(t, KindImage, res.Kind)
}

func TestManaged_PurgeAndClose(t *testing.T) {
	loader := newFakeLoader()
	m, err := NewManager(loader, Hooks{})
	require.NoError(t, err)
	seg := NewManaged(m)

	_, err = seg.Segment(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)), "u2net")
	require.NoError(t, err)
	require.NoError(t, seg.Purge(context.Background()))
	assert.Empty(t, m.Active())
	assert.True(t, loader.sessions["u2net"].closed.Load())

	_, err = seg.Segment(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)), "u2net")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2net", "u2net"}, loader.loads)
	require.NoError(t, seg.Close())
}
