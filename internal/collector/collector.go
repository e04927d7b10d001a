// Package collector implements the Telemetry Collector (spec §4.5):
// subscribe to the logger MQTT topic at QoS 1, stamp each event's
// receipt time, and insert into the step-specific time-series
// collection. Malformed JSON or an unrecognized step is logged and
// dropped as domain.InvalidTelemetry.
package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frvec/pipeline/internal/bus"
	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
	"github.com/frvec/pipeline/internal/telemetrystore"
)

// Collector wires a bus.Bus subscription to a telemetrystore.Store.
type Collector struct {
	store *telemetrystore.Store
	log   *logger.Logger
}

// New constructs a Collector.
func New(store *telemetrystore.Store, log *logger.Logger) *Collector {
	return &Collector{store: store, log: log}
}

// Run subscribes to the telemetry bus until ctx is cancelled. The
// handler itself is synchronous per-message; paho invokes it serially
// on its own goroutine, so no additional locking is needed around the
// store call.
func (c *Collector) Run(ctx context.Context, b *bus.Bus) error {
	err := b.Subscribe(func(payload []byte) {
		c.handle(ctx, payload)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *Collector) handle(ctx context.Context, payload []byte) {
	var event domain.TelemetryEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.log.Warn("collector: %v", &domain.InvalidTelemetry{Reason: "malformed JSON: " + err.Error()})
		return
	}

	collection, _, ok := telemetrystore.CollectionFor(string(event.Step))
	if !ok {
		c.log.Warn("collector: %v", &domain.InvalidTelemetry{Reason: "unknown step: " + string(event.Step)})
		return
	}

	event.CreatedAt = time.Now().UTC()

	warcURL, _ := event.Metadata["warc_url"].(string)
	pageURL, _ := event.Metadata["url"].(string)
	doc := bsonEvent{
		Step:      string(event.Step),
		CreatedAt: event.CreatedAt,
		WarcURL:   warcURL,
		URL:       pageURL,
		Machine:   event.Machine,
		Metadata:  event.Metadata,
	}

	if err := c.store.Insert(ctx, collection, doc); err != nil {
		c.log.Error("collector: insert into %s failed: %v", collection, err)
	}
}

// bsonEvent is the persisted shape, matching the time-series time
// field name (Created_at) expected by the collection schema and
// carrying warc_url/url at the top level, where the collections' meta
// fields are declared.
type bsonEvent struct {
	Step      string         `bson:"step"`
	CreatedAt time.Time      `bson:"Created_at"`
	WarcURL   string         `bson:"warc_url,omitempty"`
	URL       string         `bson:"url,omitempty"`
	Machine   string         `bson:"machine,omitempty"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
}
