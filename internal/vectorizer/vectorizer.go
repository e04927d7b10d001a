// Package vectorizer implements the Vectorizer pipeline stage (spec
// §4.3): the push-with-internal-queue design where the broker delivery
// callback only ever enqueues onto a bounded channel, and a single
// batch-owner goroutine does all parsing, encoding, reduction,
// publishing and acking. The Connecting→Consuming→Publishing→
// Recovering→Consuming state machine is grounded on the teacher's
// provider.Manager/nntp.Manager failover shape
// (internal/nntp/manager.go), generalized from per-article provider
// failover to whole-connection recovery.
package vectorizer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frvec/pipeline/internal/broker"
	"github.com/frvec/pipeline/internal/bus"
	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/encoder"
	"github.com/frvec/pipeline/internal/logger"
	"github.com/frvec/pipeline/internal/metrics"
	"github.com/frvec/pipeline/internal/reduce"
	"github.com/frvec/pipeline/internal/segment"
)

// State is the connection lifecycle state named in spec §4.3.2.
type State int

const (
	StateConnecting State = iota
	StateConsuming
	StatePublishing
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConsuming:
		return "Consuming"
	case StatePublishing:
		return "Publishing"
	case StateRecovering:
		return "Recovering"
	default:
		return "Unknown"
	}
}

const (
	maxWords             = 150
	overlapSentences     = 2
	embedBatchSize       = 512
	drainWindow          = 100 * time.Millisecond
	emptyPollSleep       = 50 * time.Millisecond
	publishMaxRetry      = 5
	publishBaseDelay     = 500 * time.Millisecond
	publishMaxDelay      = 2 * time.Second
	vectorizeFailedSleep = 1 * time.Second
)

// Config bundles the runtime parameters for one Vectorizer process.
type Config struct {
	Broker      broker.Config
	VectorizeQ  string
	IndexQ      string
	DocBatch    int
	QueueDepth  int
	RetryDelay  time.Duration
}

// queued is the (delivery_tag, body) pair the delivery callback
// enqueues; it carries the full amqp.Delivery so the batch goroutine
// can ack/nack it directly without a second lookup.
type queued struct {
	delivery amqp.Delivery
}

// Vectorizer owns the internal queue, the broker connection state
// machine, and the single batch-processing goroutine.
type Vectorizer struct {
	cfg     Config
	log     *logger.Logger
	enc     encoder.Encoder
	telem   *bus.Bus
	machine string
	metrics *metrics.Accumulator

	mu    sync.Mutex
	state State

	queue chan queued
}

// New constructs a Vectorizer ready to Run.
func New(cfg Config, log *logger.Logger, enc encoder.Encoder, telem *bus.Bus, machine string) *Vectorizer {
	return &Vectorizer{
		cfg:     cfg,
		log:     log,
		enc:     enc,
		telem:   telem,
		machine: machine,
		metrics: metrics.New(),
		queue:   make(chan queued, cfg.QueueDepth),
	}
}

func (v *Vectorizer) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
	v.log.Debug("vectorizer: state -> %s", s)
}

// Run drives the Connecting→Consuming→...→Recovering→Consuming loop
// until ctx is cancelled. A closed delivery channel or a publish that
// exhausts its retries ends the session: both goroutines stop, the
// connection is torn down and rebuilt, and consumption resumes. A
// failed ack is logged and does not end the session.
func (v *Vectorizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		v.setState(StateConnecting)
		consumer, deliveries, err := broker.NewConsumer(v.cfg.Broker, v.cfg.VectorizeQ, v.cfg.DocBatch)
		if err != nil {
			v.log.Warn("vectorizer: connect failed, retrying in %s: %v", v.cfg.RetryDelay, err)
			v.setState(StateRecovering)
			if !sleepCtx(ctx, v.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		pub, err := broker.NewPublisher(v.cfg.Broker, v.cfg.IndexQ, v.log)
		if err != nil {
			consumer.Close()
			v.log.Warn("vectorizer: publisher connect failed, retrying in %s: %v", v.cfg.RetryDelay, err)
			v.setState(StateRecovering)
			if !sleepCtx(ctx, v.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		v.setState(StateConsuming)
		recovery := v.runSession(ctx, consumer, pub, deliveries)
		pub.Close()
		consumer.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !recovery {
			return nil
		}
		v.setState(StateRecovering)
		v.log.Warn("vectorizer: recovering connection")
		if !sleepCtx(ctx, v.cfg.RetryDelay) {
			return ctx.Err()
		}
	}
}

// runSession runs one connection's worth of delivery callback + batch
// goroutine pair until either ctx is cancelled (returns false, no
// recovery needed) or a broker error is observed (returns true,
// caller should reconnect).
func (v *Vectorizer) runSession(ctx context.Context, consumer *broker.Consumer, pub *broker.Publisher, deliveries <-chan amqp.Delivery) bool {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		v.deliveryLoop(sessionCtx, deliveries)
		if sessionCtx.Err() == nil {
			errCh <- amqp.ErrClosed
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		if err := v.batchLoop(sessionCtx, pub); err != nil {
			errCh <- err
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
		cancel()
		wg.Wait()
		return false
	case err := <-errCh:
		v.log.Warn("vectorizer: session error, entering Recovering: %v", err)
		cancel()
		wg.Wait()
		return true
	}
}

// deliveryLoop is the "I/O callback" thread: it never publishes or
// acks, only enqueues onto the bounded internal channel (spec §5
// Shared-resource policy).
func (v *Vectorizer) deliveryLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case v.queue <- queued{delivery: d}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// batchLoop drains the internal queue into batches of up to
// cfg.DocBatch, filled within drainWindow, and processes each batch.
func (v *Vectorizer) batchLoop(ctx context.Context, pub *broker.Publisher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batch := v.drain(ctx)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(emptyPollSleep):
			}
			continue
		}

		if err := v.processBatch(ctx, pub, batch); err != nil {
			return err
		}
	}
}

func (v *Vectorizer) drain(ctx context.Context) []queued {
	deadline := time.NewTimer(drainWindow)
	defer deadline.Stop()

	var batch []queued
	for len(batch) < v.cfg.DocBatch {
		select {
		case <-ctx.Done():
			return batch
		case q := <-v.queue:
			batch = append(batch, q)
		case <-deadline.C:
			return batch
		}
	}
	return batch
}

// processBatch runs the strict-order stages of spec §4.3: parse +
// segment, encode, reduce, publish + ack, telemetry.
func (v *Vectorizer) processBatch(ctx context.Context, pub *broker.Publisher, batch []queued) error {
	start := time.Now()

	type doc struct {
		record domain.PageRecord
		tags   amqp.Delivery
		count  int
	}

	docs := make([]doc, 0, len(batch))
	var allSegments []string

	segStart := time.Now()
	for _, q := range batch {
		var rec domain.PageRecord
		if err := json.Unmarshal(q.delivery.Body, &rec); err != nil {
			v.log.Error("vectorizer: malformed page record, dropping: %v", err)
			_ = q.delivery.Nack(false, false)
			continue
		}
		segs := segment.SegmentText(rec.Text, maxWords, overlapSentences)
		if len(segs) == 0 {
			v.log.Warn("vectorizer: %s produced no segments, dropping", rec.URL)
			_ = q.delivery.Nack(false, false)
			continue
		}
		docs = append(docs, doc{record: rec, tags: q.delivery, count: len(segs)})
		allSegments = append(allSegments, segs...)
	}
	segmentDuration := time.Since(segStart)

	if len(docs) == 0 {
		return nil
	}

	encStart := time.Now()
	embeddings, err := encodeInBatches(ctx, v.enc, allSegments, embedBatchSize)
	encodeDuration := time.Since(encStart)
	if err != nil {
		v.log.Error("vectorize: encode failed for batch of %d docs: %v", len(docs), err)
		sleepCtx(ctx, vectorizeFailedSleep)
		return nil
	}

	type reducedDoc struct {
		record domain.PageRecord
		tags   amqp.Delivery
		body   []byte
	}

	reduceStart := time.Now()
	offset := 0
	reducedDocs := make([]reducedDoc, 0, len(docs))
	for _, d := range docs {
		docSegs := embeddings[offset : offset+d.count]
		offset += d.count
		reduced := reduce.MeanAndNormalize(docSegs, domain.EmbeddingDims)

		record := domain.EmbeddingRecord{URL: d.record.URL, H1: d.record.H1, Embedding: reduced}
		body, err := json.Marshal(record)
		if err != nil {
			v.log.Error("vectorizer: marshal embedding for %s: %v", d.record.URL, err)
			continue
		}
		reducedDocs = append(reducedDocs, reducedDoc{record: d.record, tags: d.tags, body: body})
	}
	reduceDuration := time.Since(reduceStart)

	v.setState(StatePublishing)
	for _, rd := range reducedDocs {
		publishErr := pub.PublishRetry(ctx, rd.body, publishMaxRetry, func(attempt int) time.Duration {
			return broker.Backoff(attempt, publishBaseDelay, publishMaxDelay)
		})
		if publishErr != nil {
			v.log.Error("vectorizer: publish exhausted retries for %s, leaving it and the rest of the batch unacked: %v", rd.record.URL, publishErr)
			return publishErr
		}
		if err := rd.tags.Ack(false); err != nil {
			v.log.Error("vectorizer: ack failed for %s: %v", rd.record.URL, err)
		}

		if v.telem != nil {
			event := domain.TelemetryEvent{
				Step:    domain.StepVector,
				Machine: v.machine,
				Metadata: map[string]any{
					"url":          rd.record.URL,
					"segment_ms":   segmentDuration.Seconds() * 1000,
					"encode_ms":    encodeDuration.Seconds() * 1000,
					"reduction_ms": reduceDuration.Seconds() * 1000,
				},
			}
			if err := v.telem.Publish(event); err != nil {
				v.log.Warn("vectorizer: telemetry publish failed: %v", err)
			}
		}
	}
	v.setState(StateConsuming)

	v.metrics.AddBatch(len(docs), time.Since(start))
	return nil
}

// encodeInBatches calls enc.EmbedBatch in mini-batches of embedBatchSize
// and concatenates results in order, matching spec §4.3 step 2.
func encodeInBatches(ctx context.Context, enc encoder.Encoder, texts []string, size int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := enc.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, &domain.VectorizeFailed{Stage: "encode", Err: err}
		}
		out = append(out, embeddings...)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
