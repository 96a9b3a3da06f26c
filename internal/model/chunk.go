package model

// DocumentChunk is one embeddable window of a document's text.
type DocumentChunk struct {
	ID             string            `json:"id"`
	DocumentID     string            `json:"document_id"`
	ScrapeID       string            `json:"scrape_id"`
	SourceID       string            `json:"source_id"`
	ContentHash    string            `json:"content_hash"`
	ChunkIndex     int               `json:"chunk_index"`
	Content        string            `json:"content"`
	Embedding      []float32         `json:"-"`
	EmbeddingModel string            `json:"embedding_model"`
	SourceURL      string            `json:"source_url"`
	SourceTitle    string            `json:"source_title"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RunID          string            `json:"run_id,omitempty"`
	Ctime          int64             `json:"ctime"`
}

// ScoredChunk is a query hit.
type ScoredChunk struct {
	Chunk *DocumentChunk
	Score float64
}

// CitedResult is what retrieval hands to downstream analysis.
type CitedResult struct {
	Text       string            `json:"text"`
	SourceURL  string            `json:"source_url"`
	Title      string            `json:"title,omitempty"`
	Score      float64           `json:"score"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ChunkStats struct {
	Total       int64  `json:"total"`
	Documents   int64  `json:"documents"`
	StaleModel  int64  `json:"stale_model"`
	ActiveModel string `json:"active_model"`
}
