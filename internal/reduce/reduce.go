// Package reduce collapses the per-segment embeddings of a single
// document into one unit-norm vector: elementwise mean across
// segments, then L2 normalization. Spec §4.3.2 calls this out as a
// contiguous CPU hot loop, so it is written over flat float32 slices
// with no per-element allocation.
package reduce

import "math"

// MeanAndNormalize averages the dims-wide vectors in segments
// elementwise and L2-normalizes the result. It returns a zero vector,
// unmodified, if segments is empty or the mean is the zero vector (no
// division by zero).
func MeanAndNormalize(segments [][]float32, dims int) []float32 {
	out := make([]float32, dims)
	if len(segments) == 0 {
		return out
	}

	for _, seg := range segments {
		for i := 0; i < dims && i < len(seg); i++ {
			out[i] += seg[i]
		}
	}

	n := float32(len(segments))
	for i := 0; i < dims; i++ {
		out[i] /= n
	}

	var sumSquares float64
	for i := 0; i < dims; i++ {
		v := float64(out[i])
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return out
	}

	norm := float32(math.Sqrt(sumSquares))
	for i := 0; i < dims; i++ {
		out[i] /= norm
	}

	return out
}
