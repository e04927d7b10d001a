package indexer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
)

// fakeAcknowledger records Ack/Nack/Reject calls against delivery tags so
// tests can assert the shutdown-flush ack-count invariant without a real
// broker connection.
type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
	multi  []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	f.multi = append(f.multi, multiple)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

// fakeSearchIndex satisfies SearchIndex without talking to Elasticsearch.
type fakeSearchIndex struct {
	mu    sync.Mutex
	calls [][]domain.IndexDocument
}

func (f *fakeSearchIndex) EnsureIndex(ctx context.Context) error { return nil }

func (f *fakeSearchIndex) BulkInsert(ctx context.Context, docs []domain.IndexDocument) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]domain.IndexDocument, len(docs))
	copy(cp, docs)
	f.calls = append(f.calls, cp)
	return len(docs), 0, nil
}

func (f *fakeSearchIndex) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	for i, c := range f.calls {
		out[i] = len(c)
	}
	return out
}

func newTestDelivery(t *testing.T, ack *fakeAcknowledger, tag uint64, rec domain.EmbeddingRecord) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(rec)
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         body,
	}
}

func newTestIndexer(t *testing.T, index SearchIndex) *Indexer {
	t.Helper()
	logPath := t.TempDir() + "/indexer_test.log"
	log, err := logger.New(logPath, logger.LevelError, false, "test")
	require.NoError(t, err)
	return New(Config{BatchSize: 4}, log, index, nil, "test-machine")
}

// TestDispatchBatch_AcksLastTagOnly exercises dispatchBatch in isolation:
// only the last delivery in the batch gets an explicit Ack(multiple=true),
// which the broker interprets as acking every earlier tag in the batch too.
func TestDispatchBatch_AcksLastTagOnly(t *testing.T) {
	ack := &fakeAcknowledger{}
	idx := &fakeSearchIndex{}
	ix := newTestIndexer(t, idx)

	batch := []pending{
		{doc: domain.IndexDocument{URL: "a"}, tag: newTestDelivery(t, ack, 1, domain.EmbeddingRecord{URL: "a"})},
		{doc: domain.IndexDocument{URL: "b"}, tag: newTestDelivery(t, ack, 2, domain.EmbeddingRecord{URL: "b"})},
		{doc: domain.IndexDocument{URL: "c"}, tag: newTestDelivery(t, ack, 3, domain.EmbeddingRecord{URL: "c"})},
	}

	ix.dispatchBatch(batch)
	ix.bulkWG.Wait()

	ack.mu.Lock()
	defer ack.mu.Unlock()
	require.Len(t, ack.acked, 1)
	assert.Equal(t, uint64(3), ack.acked[0])
	assert.True(t, ack.multi[0])
	assert.Empty(t, ack.nacked)

	assert.Equal(t, []int{3}, idx.batchSizes())
}

// TestDispatchBatch_PartialBatchStillAcksEveryDeliveryTag mirrors the
// shutdown-flush path in Run: a batch smaller than BatchSize (as produced
// by the drainWindow timer or a final ctx.Done flush) must still ack every
// delivery it carries and dispatch exactly one bulk insert.
func TestDispatchBatch_PartialBatchStillAcksEveryDeliveryTag(t *testing.T) {
	ack := &fakeAcknowledger{}
	idx := &fakeSearchIndex{}
	ix := newTestIndexer(t, idx)

	deliveries := []pending{
		{doc: domain.IndexDocument{URL: "x"}, tag: newTestDelivery(t, ack, 10, domain.EmbeddingRecord{URL: "x"})},
		{doc: domain.IndexDocument{URL: "y"}, tag: newTestDelivery(t, ack, 11, domain.EmbeddingRecord{URL: "y"})},
	}

	ix.dispatchBatch(deliveries)
	ix.bulkWG.Wait()

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.Len(t, ack.acked, 1)
	assert.Equal(t, uint64(11), ack.acked[0])
	assert.Equal(t, []int{2}, idx.batchSizes())
}
