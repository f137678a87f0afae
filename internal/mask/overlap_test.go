package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiceAndIoU(t *testing.T) {
	a := New(4, 1)
	b := New(4, 1)
	a.Set(0, 0, true)
	a.Set(1, 0, true)
	b.Set(1, 0, true)
	b.Set(2, 0, true)

	dice, err := Dice(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, dice, 1e-9)

	iou, err := IoU(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, iou, 1e-9)
}

func TestDiceAndIoU_BothEmpty(t *testing.T) {
	dice, err := Dice(New(3, 3), New(3, 3))
	require.NoError(t, err)
	assert.Equal(t, 1.0, dice)

	iou, err := IoU(New(3, 3), New(3, 3))
	require.NoError(t, err)
	assert.Equal(t, 1.0, iou)
}

func TestDiceAndIoU_Identical(t *testing.T) {
	a := New(3, 3)
	a.Set(1, 1, true)
	dice, err := Dice(a, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, dice)
	iou, err := IoU(a, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, iou)
}

func TestDice_ShapeMismatch(t *testing.T) {
	_, err := Dice(New(3, 3), New(3, 4))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = IoU(New(2, 3), New(3, 3))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
