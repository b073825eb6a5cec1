package shapecheck

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/svscheck/types/tensors"
)

// Batch is a synthetic input batch: uniform random features in [0, 1) shaped
// (batchSize, timeSteps, dim), and the valid number of frames of each sample.
type Batch struct {
	Inputs  *tensors.Tensor
	Lengths []int
}

// NewBatch creates a batch with inputs drawn from a generator seeded with seed.
// All samples have the full timeSteps frames.
func NewBatch(seed uint64, batchSize, timeSteps, dim int) *Batch {
	if batchSize <= 0 || timeSteps <= 0 || dim <= 0 {
		exceptions.Panicf("shapecheck.NewBatch(batchSize=%d, timeSteps=%d, dim=%d): all dimensions must be > 0",
			batchSize, timeSteps, dim)
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	lengths := make([]int, batchSize)
	for ii := range lengths {
		lengths[ii] = timeSteps
	}
	return &Batch{
		Inputs:  tensors.RandomUniform(rng, batchSize, timeSteps, dim),
		Lengths: lengths,
	}
}

// WithLengths returns a batch sharing the inputs, with the given lengths. It panics if the number of
// lengths doesn't match the batch size or any length is outside [1, timeSteps].
func (b *Batch) WithLengths(lengths []int) *Batch {
	batchSize, timeSteps := b.Inputs.Dim(0), b.Inputs.Dim(1)
	if len(lengths) != batchSize {
		exceptions.Panicf("Batch.WithLengths: got %d lengths for a batch of %d", len(lengths), batchSize)
	}
	for ii, length := range lengths {
		if length < 1 || length > timeSteps {
			exceptions.Panicf("Batch.WithLengths: length %d of sample %d outside [1, %d]", length, ii, timeSteps)
		}
	}
	return &Batch{Inputs: b.Inputs, Lengths: slices.Clone(lengths)}
}

// VariableLengths returns lengths for a batch of padded sequences sorted by decreasing length, as
// batched by the training data loaders: the first sample has timeSteps frames and the others a
// random length in [1, timeSteps].
func VariableLengths(seed uint64, batchSize, timeSteps int) []int {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	lengths := make([]int, batchSize)
	for ii := range lengths {
		lengths[ii] = 1 + rng.IntN(timeSteps)
	}
	lengths[0] = timeSteps
	slices.SortFunc(lengths, func(a, b int) int { return b - a })
	return lengths
}
