package vectorizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frvec/pipeline/internal/domain"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "Connecting", StateConnecting.String())
	assert.Equal(t, "Consuming", StateConsuming.String())
	assert.Equal(t, "Publishing", StatePublishing.String())
	assert.Equal(t, "Recovering", StateRecovering.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// fakeEncoder is a minimal encoder.Encoder for exercising encodeInBatches
// without an HTTP round trip: it returns one fixed-size vector per input
// text and records the batch sizes it was called with.
type fakeEncoder struct {
	dims      int
	batchSizes []int
	err       error
}

func (f *fakeEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEncoder) Available(ctx context.Context) bool { return true }

func TestEncodeInBatches_SplitsAndConcatenatesInOrder(t *testing.T) {
	enc := &fakeEncoder{dims: 4}
	texts := make([]string, 1300)
	for i := range texts {
		texts[i] = "sentence"
	}

	out, err := encodeInBatches(context.Background(), enc, texts, 512)
	require.NoError(t, err)
	assert.Len(t, out, 1300)
	assert.Equal(t, []int{512, 512, 276}, enc.batchSizes)
}

func TestEncodeInBatches_SmallerThanOneBatch(t *testing.T) {
	enc := &fakeEncoder{dims: 4}
	texts := []string{"a", "b", "c"}

	out, err := encodeInBatches(context.Background(), enc, texts, 512)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, []int{3}, enc.batchSizes)
}

func TestEncodeInBatches_WrapsEncoderErrorAsVectorizeFailed(t *testing.T) {
	enc := &fakeEncoder{dims: 4, err: errors.New("service unavailable")}

	_, err := encodeInBatches(context.Background(), enc, []string{"a"}, 512)
	require.Error(t, err)

	var vf *domain.VectorizeFailed
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, "encode", vf.Stage)
}
