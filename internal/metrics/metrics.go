// Package metrics holds the per-process cumulative counters referenced
// by spec §5 ("cumulative timing counters (guarded by a mutex)"). The
// source system kept these as module-level mutable globals
// (time_encode, time_download, ...); here they live in one struct
// guarded by a single mutex, constructed once per process and passed
// to whichever component needs to report into it.
package metrics

import (
	"sync"
	"time"
)

// Accumulator tracks cumulative durations and counts across batches
// within one process's lifetime. The counts are read only through
// Snapshot, which no component logs, and are never required for
// correctness.
type Accumulator struct {
	mu sync.Mutex

	totalDocuments int64
	totalBatches   int64
	cumulative     time.Duration
}

func New() *Accumulator {
	return &Accumulator{}
}

// AddBatch records one processed batch of n documents taking d.
func (a *Accumulator) AddBatch(n int, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalDocuments += int64(n)
	a.totalBatches++
	a.cumulative += d
}

// Snapshot returns the current cumulative counts.
func (a *Accumulator) Snapshot() (documents, batches int64, cumulative time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalDocuments, a.totalBatches, a.cumulative
}
