// Package vectorstore persists document chunks with their embeddings and
// answers similarity queries over them.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

type HealthStatus string

const (
	HealthOK          HealthStatus = "ok"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
)

type Health struct {
	Status  HealthStatus `json:"status"`
	Backend string       `json:"backend"`
	Detail  string       `json:"detail,omitempty"`
}

// Filter narrows a query. Zero values match everything.
type Filter struct {
	SourceID       string            `json:"source_id,omitempty"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MinScore       float64           `json:"min_score,omitempty"`
}

type Backend interface {
	Name() string
	// Upsert replaces the chunk set of one document. Either every chunk
	// becomes visible or none does. Returns the number of chunks written.
	Upsert(ctx context.Context, chunks []*model.DocumentChunk) (int, error)
	// Query returns at most topK chunks ordered by descending cosine similarity,
	// ties broken by older ctime then insertion order.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]*model.ScoredChunk, error)
	HasDocument(ctx context.Context, documentID string) (bool, error)
	CountDocument(ctx context.Context, documentID string) (int, error)
	Stats(ctx context.Context, activeModel string) (*model.ChunkStats, error)
	Health(ctx context.Context) Health
	Dimension() int
}

// New selects the backend once at startup.
func New(kind string, dimension int, db *sql.DB) (Backend, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: vector dimension must be > 0", appErr.ErrConfig)
	}
	switch kind {
	case "memory":
		return NewMemoryBackend(dimension), nil
	case "pgvector", "":
		if db == nil {
			return nil, fmt.Errorf("%w: pgvector backend requires a database", appErr.ErrConfig)
		}
		return NewPGVectorBackend(db, dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", appErr.ErrConfig, kind)
	}
}

func validateChunks(chunks []*model.DocumentChunk, dimension int) error {
	if len(chunks) == 0 {
		return nil
	}
	docID := chunks[0].DocumentID
	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if c == nil {
			return fmt.Errorf("%w: nil chunk", appErr.ErrInvalid)
		}
		if c.DocumentID == "" || c.DocumentID != docID {
			return fmt.Errorf("%w: upsert must target exactly one document", appErr.ErrInvalid)
		}
		if seen[c.ChunkIndex] {
			return fmt.Errorf("%w: duplicate chunk index %d", appErr.ErrInvalid, c.ChunkIndex)
		}
		seen[c.ChunkIndex] = true
		if len(c.Embedding) == 0 || len(c.Embedding) != dimension {
			return fmt.Errorf("%w: chunk %d has %d dims, backend expects %d",
				appErr.ErrDimensionMismatch, c.ChunkIndex, len(c.Embedding), dimension)
		}
	}
	return nil
}

func validateQuery(vector []float32, topK, dimension int) error {
	if len(vector) != dimension {
		return fmt.Errorf("%w: query vector has %d dims, backend expects %d", appErr.ErrDimensionMismatch, len(vector), dimension)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: top_k must be > 0", appErr.ErrInvalid)
	}
	return nil
}
