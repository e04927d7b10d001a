package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_AddBatchIsCumulative(t *testing.T) {
	a := New()
	a.AddBatch(10, 100*time.Millisecond)
	a.AddBatch(5, 50*time.Millisecond)

	docs, batches, cumulative := a.Snapshot()
	assert.Equal(t, int64(15), docs)
	assert.Equal(t, int64(2), batches)
	assert.Equal(t, 150*time.Millisecond, cumulative)
}

func TestAccumulator_ConcurrentAddBatchIsRaceFree(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.AddBatch(1, time.Millisecond)
		}()
	}
	wg.Wait()

	docs, batches, _ := a.Snapshot()
	assert.Equal(t, int64(50), docs)
	assert.Equal(t, int64(50), batches)
}
