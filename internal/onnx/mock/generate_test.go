package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUniformMap(t *testing.T) {
	m := NewUniformMap(3, 2, 1.5)
	assert.Len(t, m.Data, 6)
	for _, v := range m.Data {
		assert.Equal(t, float32(1), v)
	}
	assert.Empty(t, NewUniformMap(0, 2, 0.5).Data)
}

func TestNewCenteredBlobMap(t *testing.T) {
	m := NewCenteredBlobMap(5, 5, 1, 1.0)
	center := m.Data[2*5+2]
	corner := m.Data[0]
	assert.InDelta(t, 1.0, center, 1e-6)
	assert.Less(t, corner, center)
}

func TestNewRectMap(t *testing.T) {
	m := NewRectMap(4, 4, 1, 1, 3, 3, 0.9, 0.1)
	assert.Equal(t, float32(0.9), m.Data[1*4+1])
	assert.Equal(t, float32(0.1), m.Data[0])
	assert.Equal(t, float32(0.1), m.Data[3*4+3])
}

func TestLogitsRoundTripSign(t *testing.T) {
	m := NewRectMap(2, 1, 0, 0, 1, 1, 0.9, 0.1).Logits()
	assert.Greater(t, m.Data[0], float32(0))
	assert.Less(t, m.Data[1], float32(0))
}
