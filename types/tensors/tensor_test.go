package tensors

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	zeros := Zeros(2, 3)
	assert.Equal(t, dtypes.Float32, zeros.Shape().DType)
	assert.Equal(t, []int{2, 3}, zeros.Shape().Dimensions)
	assert.Equal(t, make([]float32, 6), zeros.CopyFlatData())

	x := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, 2, x.Rank())
	assert.Equal(t, 3, x.Dim(-1))
	assert.Equal(t, 6*4, int(x.Memory()))
	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]float32{1, 2}, 3) })
}

func TestReshapeAndClone(t *testing.T) {
	x := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	y, err := x.Reshape(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, y.Shape().Dimensions)
	_, err = x.Reshape(4, 2)
	require.Error(t, err)

	c := x.Clone()
	require.True(t, c.Equal(x))
	c.MutableFlatData(func(flat []float32) { flat[0] = 100 })
	require.False(t, c.Equal(x))
	x.ConstFlatData(func(flat []float32) { assert.Equal(t, float32(1), flat[0]) })
}

func TestRandomUniform(t *testing.T) {
	a := RandomUniform(rand.New(rand.NewPCG(400, 400)), 4, 100, 80)
	b := RandomUniform(rand.New(rand.NewPCG(400, 400)), 4, 100, 80)
	require.True(t, a.Equal(b))
	a.ConstFlatData(func(flat []float32) {
		for _, v := range flat {
			require.GreaterOrEqual(t, v, float32(0))
			require.Less(t, v, float32(1))
		}
	})
	c := RandomUniform(rand.New(rand.NewPCG(401, 401)), 4, 100, 80)
	require.False(t, a.Equal(c))
}
