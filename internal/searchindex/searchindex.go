// Package searchindex wraps the Elasticsearch k-NN vector index:
// idempotent index creation with the HNSW mapping of spec §3, and
// batched bulk insertion via esutil.BulkIndexer. Batch assembly and
// per-batch timing/error accounting follow the corpus's
// manticore.batchedBulkIndex shape (batch loop, per-batch log line,
// aggregated error) generalized to the official ES bulk helper.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
)

// Config bundles the Elasticsearch connection parameters.
type Config struct {
	Addresses []string
	IndexName string
	Dims      int
}

// Index wraps an Elasticsearch client scoped to one index.
type Index struct {
	client *elasticsearch.Client
	cfg    Config
	log    *logger.Logger
}

// New dials the Elasticsearch cluster at cfg.Addresses.
func New(cfg Config, log *logger.Logger) (*Index, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Addresses})
	if err != nil {
		return nil, fmt.Errorf("searchindex: new client: %w", err)
	}
	return &Index{client: client, cfg: cfg, log: log}, nil
}

// EnsureIndex creates the index with the HNSW-backed dense_vector
// mapping if it does not already exist (spec §4.4: "absence of index
// != fatal at runtime - treat as first-start").
func (idx *Index) EnsureIndex(ctx context.Context) error {
	existsResp, err := idx.client.Indices.Exists([]string{idx.cfg.IndexName}, idx.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("searchindex: exists check: %w", err)
	}
	defer existsResp.Body.Close()

	if existsResp.StatusCode == 200 {
		idx.log.Info("searchindex: index %s already present", idx.cfg.IndexName)
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"url": map[string]any{"type": "keyword"},
				"h1":  map[string]any{"type": "text"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       idx.cfg.Dims,
					"index":      true,
					"similarity": "cosine",
					"index_options": map[string]any{
						"type":           "hnsw",
						"m":              16,
						"ef_construction": 512,
					},
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("searchindex: marshal mapping: %w", err)
	}

	createResp, err := idx.client.Indices.Create(
		idx.cfg.IndexName,
		idx.client.Indices.Create.WithContext(ctx),
		idx.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("searchindex: create index: %w", err)
	}
	defer createResp.Body.Close()
	if createResp.IsError() {
		return fmt.Errorf("searchindex: create index returned %s", createResp.Status())
	}

	idx.log.Info("searchindex: created index %s", idx.cfg.IndexName)
	return nil
}

// BulkInsert indexes docs via esutil.BulkIndexer and returns the
// number successfully indexed, the count failed, and an
// IndexBulkFailed error when the indexer fails to flush or any item
// fails (per-item errors are logged, not returned). Per spec §4.4 the caller acks before this call
// returns, so a failure here is logged, not retried.
func (idx *Index) BulkInsert(ctx context.Context, docs []domain.IndexDocument) (indexed, failed int, err error) {
	if len(docs) == 0 {
		return 0, 0, nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:  idx.cfg.IndexName,
		Client: idx.client,
	})
	if err != nil {
		return 0, 0, &domain.IndexBulkFailed{BatchSize: len(docs), Err: err}
	}

	var indexedCount, failedCount int64

	for _, doc := range docs {
		body, marshalErr := json.Marshal(doc)
		if marshalErr != nil {
			atomic.AddInt64(&failedCount, 1)
			continue
		}
		addErr := bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.URL,
			Body:       bytes.NewReader(body),
			OnSuccess: func(_ context.Context, _ esutil.BulkIndexerItem, _ esutil.BulkIndexerResponseItem) {
				atomic.AddInt64(&indexedCount, 1)
			},
			OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, _ esutil.BulkIndexerResponseItem, itemErr error) {
				atomic.AddInt64(&failedCount, 1)
				idx.log.Warn("searchindex: bulk item failed for %s: %v", doc.URL, itemErr)
			},
		})
		if addErr != nil {
			atomic.AddInt64(&failedCount, 1)
		}
	}

	start := time.Now()
	if closeErr := bi.Close(ctx); closeErr != nil {
		return int(atomic.LoadInt64(&indexedCount)), int(atomic.LoadInt64(&failedCount)), &domain.IndexBulkFailed{BatchSize: len(docs), Err: closeErr}
	}
	indexed = int(atomic.LoadInt64(&indexedCount))
	failed = int(atomic.LoadInt64(&failedCount))
	idx.log.Debug("searchindex: bulk of %d completed in %s (%d ok, %d failed)", len(docs), time.Since(start), indexed, failed)

	if failed > 0 {
		return indexed, failed, &domain.IndexBulkFailed{BatchSize: len(docs), Err: fmt.Errorf("%d items failed", failed)}
	}
	return indexed, failed, nil
}
