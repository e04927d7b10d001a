// Package encoder wraps the external sentence-embedding service as a
// thin HTTP client, in the shape of bad33ndj3-mcp-md-index's
// embedding.Embedder/OllamaEmbedder (Embed/EmbedBatch/Available
// methods, a Config struct, JSON over HTTP). Per spec §1 the encoder is
// an external collaborator — "GPU initialization" becomes a startup
// capability probe plus one warm-up call instead of direct device
// bindings.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/frvec/pipeline/internal/domain"
)

// Config holds the embedding service connection parameters.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Encoder is the interface the vectorizer depends on, matching the
// pack's Embedder shape generalized to batch-only use (the pipeline
// never embeds a single sentence in isolation).
type Encoder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Available(ctx context.Context) bool
}

// HTTPEncoder calls a remote embedding service over HTTP/JSON.
type HTTPEncoder struct {
	url    string
	client *http.Client
}

// New constructs an HTTPEncoder against cfg.URL.
func New(cfg Config) *HTTPEncoder {
	return &HTTPEncoder{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch sends texts to the encoder's /embed endpoint and returns
// one embedding per input, each EmbeddingDims wide.
func (e *HTTPEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, &domain.VectorizeFailed{Stage: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.VectorizeFailed{Stage: "encode", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &domain.VectorizeFailed{Stage: "encode", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &domain.VectorizeFailed{Stage: "encode", Err: fmt.Errorf("encoder status %d: %s", resp.StatusCode, b)}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.VectorizeFailed{Stage: "encode", Err: err}
	}
	if len(out.Embeddings) != len(texts) {
		return nil, &domain.VectorizeFailed{Stage: "encode", Err: fmt.Errorf("encoder returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))}
	}

	return out.Embeddings, nil
}

// Available probes the encoder's capability/health endpoint, standing
// in for the source system's GPU initialization check at worker
// startup (spec §4.3.3).
func (e *HTTPEncoder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/capabilities", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
