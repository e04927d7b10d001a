// Package indexer implements the Indexer pipeline stage (spec §4.4):
// accumulate up to BATCH_SIZE (url,h1,embedding) documents plus their
// delivery tags, batch-ack, and dispatch the bulk insert
// asynchronously so the consuming loop stays hot. The batchChan/flush-
// interval shape is grounded on heka's ElasticSearchOutput
// (pipeline/elasticsearch.go): an accumulator drained on a size-or-
// timer trigger, bulk-inserted off the hot path.
package indexer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frvec/pipeline/internal/broker"
	"github.com/frvec/pipeline/internal/bus"
	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
	"github.com/frvec/pipeline/internal/metrics"
)

const drainWindow = 1 * time.Second

// Config bundles the runtime parameters for one Indexer process.
type Config struct {
	Broker    broker.Config
	IndexQ    string
	BatchSize int
}

// SearchIndex is the subset of internal/searchindex.Index the Indexer
// depends on, matching the pack's pattern of depending on a small
// interface (internal/encoder.Encoder) rather than a concrete client,
// so the batch/ack logic can be tested without a live Elasticsearch
// cluster.
type SearchIndex interface {
	EnsureIndex(ctx context.Context) error
	BulkInsert(ctx context.Context, docs []domain.IndexDocument) (indexed, failed int, err error)
}

// Indexer consumes index and bulk-inserts into the search index.
type Indexer struct {
	cfg     Config
	log     *logger.Logger
	index   SearchIndex
	telem   *bus.Bus
	machine string
	metrics *metrics.Accumulator

	bulkWG sync.WaitGroup
}

// New constructs an Indexer ready to Run.
func New(cfg Config, log *logger.Logger, index SearchIndex, telem *bus.Bus, machine string) *Indexer {
	return &Indexer{
		cfg:     cfg,
		log:     log,
		index:   index,
		telem:   telem,
		machine: machine,
		metrics: metrics.New(),
	}
}

type pending struct {
	doc domain.IndexDocument
	tag amqp.Delivery
}

// Run consumes the index queue with prefetch=BatchSize until ctx is
// cancelled, accumulating and bulk-dispatching batches per spec §4.4,
// and flushes any residual partial batch on shutdown.
func (ix *Indexer) Run(ctx context.Context) error {
	if err := ix.index.EnsureIndex(ctx); err != nil {
		ix.log.Warn("indexer: ensure index failed (continuing, absence is not fatal): %v", err)
	}

	consumer, deliveries, err := broker.NewConsumer(ix.cfg.Broker, ix.cfg.IndexQ, ix.cfg.BatchSize)
	if err != nil {
		return err
	}
	defer consumer.Close()

	var batch []pending
	timer := time.NewTimer(drainWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		snapshot := batch
		batch = nil
		ix.dispatchBatch(snapshot)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			ix.bulkWG.Wait()
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				flush()
				ix.bulkWG.Wait()
				return nil
			}

			var rec domain.EmbeddingRecord
			if err := json.Unmarshal(d.Body, &rec); err != nil {
				ix.log.Error("indexer: malformed embedding record, dropping: %v", err)
				_ = d.Nack(false, false)
				continue
			}

			batch = append(batch, pending{
				doc: domain.IndexDocument{URL: rec.URL, H1: rec.H1, Embedding: rec.Embedding},
				tag: d,
			})

			if len(batch) >= ix.cfg.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(drainWindow)
			}

		case <-timer.C:
			flush()
			timer.Reset(drainWindow)
		}
	}
}

// dispatchBatch snapshots, acks up to the last tag, then spawns the
// bulk insert on a background goroutine per spec §4.4 steps 1-3: the
// ack has already happened by the time the bulk call can fail, a
// documented throughput/durability trade-off (see DESIGN.md).
func (ix *Indexer) dispatchBatch(batch []pending) {
	last := batch[len(batch)-1].tag
	if err := last.Ack(true); err != nil {
		ix.log.Error("indexer: batch ack failed: %v", err)
	}

	ix.bulkWG.Add(1)
	go func() {
		defer ix.bulkWG.Done()
		ix.bulkInsert(batch)
	}()
}

func (ix *Indexer) bulkInsert(batch []pending) {
	start := time.Now()
	docs := make([]domain.IndexDocument, len(batch))
	for i, p := range batch {
		docs[i] = p.doc
	}

	ctx := context.Background()
	indexed, failed, err := ix.index.BulkInsert(ctx, docs)
	latency := time.Since(start)
	if err != nil {
		ix.log.Error("indexer: bulk insert for %d docs lost (already acked): %v", len(docs), err)
	}

	ix.metrics.AddBatch(indexed, latency)

	if ix.telem != nil {
		event := domain.TelemetryEvent{
			Step:    domain.StepIndexBatch,
			Machine: ix.machine,
			Metadata: map[string]any{
				"batch_size":      len(docs),
				"indexed":         indexed,
				"failed":          failed,
				"bulk_latency_ms": latency.Seconds() * 1000,
			},
		}
		if pubErr := ix.telem.Publish(event); pubErr != nil {
			ix.log.Warn("indexer: telemetry publish failed: %v", pubErr)
		}
	}
}
