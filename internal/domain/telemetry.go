package domain

import "time"

// TelemetryStep is the discriminator carried on every telemetry event.
type TelemetryStep string

const (
	StepWarc       TelemetryStep = "warc"
	StepVector     TelemetryStep = "vector"
	StepIndexBatch TelemetryStep = "index_batch_async"
)

// TelemetryEvent is published to the MQTT "logger" topic by every
// worker and consumed once by the collector, which stamps CreatedAt on
// receipt before persisting it.
type TelemetryEvent struct {
	Step      TelemetryStep  `json:"step"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	Machine   string         `json:"machine,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Timings is a per-batch/per-job duration bag passed explicitly through
// the pipeline. The source system kept these as module-level mutable
// globals (one time_encode, one time_download, ...) shared across
// goroutines; here each unit of work owns its own value, and any
// cross-batch rollup goes through a mutex-guarded accumulator instead
// of package state (see internal/metrics).
type Timings struct {
	Download   time.Duration
	Load       time.Duration
	Processing time.Duration
	Connection time.Duration
	Segment    time.Duration
	Encode     time.Duration
	Reduction  time.Duration
	BulkLatency time.Duration
}

// AsMetadata flattens non-zero timings into a telemetry metadata bag
// using millisecond floats, matching the free-form metadata contract of
// spec §3.
func (t Timings) AsMetadata() map[string]any {
	m := make(map[string]any, 8)
	add := func(key string, d time.Duration) {
		if d > 0 {
			m[key] = d.Seconds() * 1000
		}
	}
	add("download_ms", t.Download)
	add("load_ms", t.Load)
	add("processing_ms", t.Processing)
	add("connection_ms", t.Connection)
	add("segment_ms", t.Segment)
	add("encode_ms", t.Encode)
	add("reduction_ms", t.Reduction)
	add("bulk_latency_ms", t.BulkLatency)
	return m
}
