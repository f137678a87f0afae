package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassFor(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{1, classStep},
		{classStep, classStep},
		{classStep + 1, 2 * classStep},
		{3 * 320 * 320, 75 * classStep},
		{3 * 1024 * 1024, 768 * classStep},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classFor(tt.n), "n=%d", tt.n)
	}
}

func TestGetPut(t *testing.T) {
	before := Usage()

	buf := Get(3 * 320 * 320)
	require.Len(t, buf, 3*320*320)
	assert.Equal(t, 75*classStep, cap(buf))
	for i := range buf {
		buf[i] = 1
	}
	Put(buf)

	again := Get(100)
	assert.Len(t, again, 100)
	Put(again)

	after := Usage()
	assert.Equal(t, before.Gets+2, after.Gets)
	assert.Equal(t, before.Puts+2, after.Puts)
}

func TestGet_Empty(t *testing.T) {
	assert.Nil(t, Get(0))
	assert.Nil(t, Get(-5))
}

func TestPut_ForeignBuffers(t *testing.T) {
	before := Usage()
	Put(nil)
	Put(make([]float32, 10))
	assert.Equal(t, before.Puts, Usage().Puts)
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				n := (w+1)*1000 + i
				buf := Get(n)
				if len(buf) != n {
					t.Errorf("got len %d, want %d", len(buf), n)
				}
				buf[n-1] = float32(w)
				Put(buf)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	for b.Loop() {
		Put(Get(3 * 320 * 320))
	}
}
