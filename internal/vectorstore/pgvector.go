package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

const chunkTable = "document_chunks"

// PGVectorBackend stores chunks in Postgres and ranks them with the
// pgvector cosine distance operator.
type PGVectorBackend struct {
	db        *sql.DB
	dimension int
}

func NewPGVectorBackend(db *sql.DB, dimension int) *PGVectorBackend {
	return &PGVectorBackend{db: db, dimension: dimension}
}

func (p *PGVectorBackend) Name() string { return "pgvector" }

func (p *PGVectorBackend) Dimension() int { return p.dimension }

func (p *PGVectorBackend) Upsert(ctx context.Context, chunks []*model.DocumentChunk) (int, error) {
	if err := validateChunks(chunks, p.dimension); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	docID := chunks[0].DocumentID
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapBackendErr("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	// serializes writers of the same document across processes
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, docID); err != nil {
		return 0, wrapBackendErr("lock document", err)
	}
	const query = `
		INSERT INTO document_chunks (
			id, document_id, scrape_id, source_id, content_hash, chunk_index, content,
			embedding, embedding_dimension, embedding_model, source_url, source_title, metadata, run_id, ctime
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			scrape_id = EXCLUDED.scrape_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			embedding_dimension = EXCLUDED.embedding_dimension,
			embedding_model = EXCLUDED.embedding_model,
			source_url = EXCLUDED.source_url,
			source_title = EXCLUDED.source_title,
			metadata = EXCLUDED.metadata,
			run_id = EXCLUDED.run_id
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, wrapBackendErr("prepare upsert", err)
	}
	defer stmt.Close()
	now := time.Now().UnixMilli()
	indexes := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return 0, err
		}
		ctime := c.Ctime
		if ctime == 0 {
			ctime = now
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.ScrapeID, c.SourceID, c.ContentHash, c.ChunkIndex, c.Content,
			pgvector.NewVector(c.Embedding), len(c.Embedding), c.EmbeddingModel, c.SourceURL, c.SourceTitle, meta, c.RunID, ctime,
		); err != nil {
			return 0, wrapBackendErr(fmt.Sprintf("upsert chunk %d", c.ChunkIndex), err)
		}
		indexes = append(indexes, int64(c.ChunkIndex))
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1 AND NOT (chunk_index = ANY($2))`,
		docID, pq.Array(indexes),
	); err != nil {
		return 0, wrapBackendErr("drop stale chunks", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapBackendErr("commit upsert", err)
	}
	return len(chunks), nil
}

func (p *PGVectorBackend) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]*model.ScoredChunk, error) {
	if err := validateQuery(vector, topK, p.dimension); err != nil {
		return nil, err
	}
	// rows from another dimension would make the distance operator fail
	args := []interface{}{pgvector.NewVector(vector), p.dimension}
	conds := []string{"embedding_dimension = $2"}
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if filter.EmbeddingModel != "" {
		args = append(args, filter.EmbeddingModel)
		conds = append(conds, fmt.Sprintf("embedding_model = $%d", len(args)))
	}
	if len(filter.Metadata) > 0 {
		meta, err := encodeMetadata(filter.Metadata)
		if err != nil {
			return nil, err
		}
		args = append(args, meta)
		conds = append(conds, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}
	where := "WHERE " + strings.Join(conds, " AND ")
	args = append(args, topK)
	query := fmt.Sprintf(`
		SELECT id, document_id, scrape_id, source_id, content_hash, chunk_index, content,
			embedding, embedding_model, source_url, source_title, metadata, run_id, ctime,
			1 - (embedding <=> $1) AS score
		FROM document_chunks
		%s
		ORDER BY embedding <=> $1, ctime, seq
		LIMIT $%d
	`, where, len(args))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapBackendErr("query chunks", err)
	}
	defer rows.Close()
	out := make([]*model.ScoredChunk, 0, topK)
	for rows.Next() {
		var c model.DocumentChunk
		var emb pgvector.Vector
		var meta []byte
		var score float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ScrapeID, &c.SourceID, &c.ContentHash, &c.ChunkIndex, &c.Content,
			&emb, &c.EmbeddingModel, &c.SourceURL, &c.SourceTitle, &meta, &c.RunID, &c.Ctime, &score); err != nil {
			return nil, err
		}
		// rows arrive best first, so everything after the first miss misses too
		if filter.MinScore > 0 && score < filter.MinScore {
			break
		}
		c.Embedding = emb.Slice()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		out = append(out, &model.ScoredChunk{Chunk: &c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapBackendErr("read chunks", err)
	}
	return out, nil
}

func (p *PGVectorBackend) HasDocument(ctx context.Context, documentID string) (bool, error) {
	n, err := p.CountDocument(ctx, documentID)
	return n > 0, err
}

func (p *PGVectorBackend) CountDocument(ctx context.Context, documentID string) (int, error) {
	where := map[string]interface{}{"document_id": documentID}
	sqlStr, args, err := builder.BuildSelect(chunkTable, where, []string{"COUNT(1)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var n int
	if err := p.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, wrapBackendErr("count chunks", err)
	}
	return n, nil
}

func (p *PGVectorBackend) Stats(ctx context.Context, activeModel string) (*model.ChunkStats, error) {
	const query = `
		SELECT COUNT(1),
			COUNT(DISTINCT document_id),
			COUNT(1) FILTER (WHERE embedding_model <> $1 OR embedding_dimension <> $2)
		FROM document_chunks
	`
	st := &model.ChunkStats{ActiveModel: activeModel}
	if err := p.db.QueryRowContext(ctx, query, activeModel, p.dimension).Scan(&st.Total, &st.Documents, &st.StaleModel); err != nil {
		return nil, wrapBackendErr("chunk stats", err)
	}
	return st, nil
}

func (p *PGVectorBackend) Health(ctx context.Context) Health {
	h := Health{Backend: p.Name()}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		h.Status = HealthUnreachable
		h.Detail = err.Error()
		return h
	}
	var version string
	err := p.db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if err != nil {
		h.Status = HealthDegraded
		if err == sql.ErrNoRows {
			h.Detail = "vector extension not installed"
		} else {
			h.Detail = err.Error()
		}
		return h
	}
	h.Status = HealthOK
	h.Detail = "pgvector " + version
	return h
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode chunk metadata: %w", err)
	}
	return string(data), nil
}

func wrapBackendErr(op string, err error) error {
	if dbutil.IsConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, appErr.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
