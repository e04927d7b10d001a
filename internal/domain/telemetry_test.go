package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimings_AsMetadata_OmitsZeroFields(t *testing.T) {
	timings := Timings{Download: 250 * time.Millisecond}
	meta := timings.AsMetadata()

	assert.Contains(t, meta, "download_ms")
	assert.NotContains(t, meta, "load_ms")
	assert.NotContains(t, meta, "encode_ms")
	assert.InDelta(t, 250.0, meta["download_ms"], 0.001)
}

func TestTimings_AsMetadata_AllFieldsPresentWhenSet(t *testing.T) {
	timings := Timings{
		Download:    1 * time.Millisecond,
		Load:        2 * time.Millisecond,
		Processing:  3 * time.Millisecond,
		Connection:  4 * time.Millisecond,
		Segment:     5 * time.Millisecond,
		Encode:      6 * time.Millisecond,
		Reduction:   7 * time.Millisecond,
		BulkLatency: 8 * time.Millisecond,
	}
	meta := timings.AsMetadata()
	assert.Len(t, meta, 8)
}
