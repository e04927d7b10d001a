package reduce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanAndNormalize_Empty(t *testing.T) {
	out := MeanAndNormalize(nil, 4)
	require.Len(t, out, 4)
	for _, v := range out {
		assert.Equal(t, float32(0), v)
	}
}

func TestMeanAndNormalize_ZeroVectorStaysZero(t *testing.T) {
	segments := [][]float32{
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	}
	out := MeanAndNormalize(segments, 4)
	for _, v := range out {
		assert.Equal(t, float32(0), v)
	}
}

func TestMeanAndNormalize_UnitNorm(t *testing.T) {
	segments := [][]float32{
		{1, 2, 3, 4},
		{3, 2, 1, 0},
		{5, 5, 5, 5},
	}
	out := MeanAndNormalize(segments, 4)

	var sumSquares float64
	for _, v := range out {
		sumSquares += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSquares)
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestMeanAndNormalize_SingleSegmentIsItsOwnNormalizedForm(t *testing.T) {
	segments := [][]float32{{3, 4}}
	out := MeanAndNormalize(segments, 2)
	assert.InDelta(t, 0.6, out[0], 1e-5)
	assert.InDelta(t, 0.8, out[1], 1e-5)
}
