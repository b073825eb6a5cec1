package shapecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatch(t *testing.T) {
	batch := NewBatch(400, 4, 100, 80)
	assert.Equal(t, []int{4, 100, 80}, batch.Inputs.Shape().Dimensions)
	assert.Equal(t, []int{100, 100, 100, 100}, batch.Lengths)
	batch.Inputs.ConstFlatData(func(flat []float32) {
		for _, v := range flat {
			require.True(t, v >= 0 && v < 1, "value %g outside [0, 1)", v)
		}
	})

	// Same seed, same values.
	assert.True(t, batch.Inputs.Equal(NewBatch(400, 4, 100, 80).Inputs))
	assert.False(t, batch.Inputs.Equal(NewBatch(401, 4, 100, 80).Inputs))

	require.Panics(t, func() { NewBatch(0, 4, 0, 80) })
}

func TestBatchLengths(t *testing.T) {
	batch := NewBatch(0, 3, 10, 2)
	lengths := []int{10, 7, 1}
	padded := batch.WithLengths(lengths)
	assert.Same(t, batch.Inputs, padded.Inputs)
	assert.Equal(t, lengths, padded.Lengths)
	lengths[0] = 5
	assert.Equal(t, 10, padded.Lengths[0])

	require.Panics(t, func() { batch.WithLengths([]int{10, 10}) })
	require.Panics(t, func() { batch.WithLengths([]int{10, 11, 1}) })
	require.Panics(t, func() { batch.WithLengths([]int{10, 0, 1}) })

	for seed := range uint64(10) {
		lengths = VariableLengths(seed, 8, 100)
		require.Len(t, lengths, 8)
		assert.Equal(t, 100, lengths[0])
		assert.IsNonIncreasing(t, lengths)
		for _, length := range lengths {
			assert.True(t, length >= 1 && length <= 100)
		}
		assert.Equal(t, lengths, VariableLengths(seed, 8, 100))
	}
}
