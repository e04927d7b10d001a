// Package domain holds the flat, tagged record shapes that cross the
// broker boundary between pipeline stages, plus the per-job Timings
// value. Every record has an explicit JSON serializer pinned by
// struct tags instead of the source system's dynamic list-of-list
// shapes.
package domain

// WarcJob is the payload published to the downloads queue.
type WarcJob struct {
	WarcURL string `json:"warc_url"`
}

// PageRecord is the payload published to the vectorize queue.
type PageRecord struct {
	URL  string `json:"url"`
	H1   string `json:"h1"`
	Text string `json:"text"`
}

// EmbeddingRecord is the payload published to the index queue.
type EmbeddingRecord struct {
	URL       string    `json:"url"`
	H1        string    `json:"h1"`
	Embedding []float32 `json:"embedding"`
}

// IndexDocument is the persisted form written into the search index.
type IndexDocument struct {
	URL       string    `json:"url"`
	H1        string    `json:"h1"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingDims is the fixed embedding width mandated by spec §3.
const EmbeddingDims = 384
