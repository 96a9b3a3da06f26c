package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/xxxsen/legisrag/internal/model"
)

type memoryEntry struct {
	chunk *model.DocumentChunk
	seq   int64
	norm  float64
}

// MemoryBackend keeps chunks in process memory.
type MemoryBackend struct {
	mu        sync.RWMutex
	dimension int
	seq       int64
	docs      map[string]map[int]*memoryEntry
}

func NewMemoryBackend(dimension int) *MemoryBackend {
	return &MemoryBackend{
		dimension: dimension,
		docs:      make(map[string]map[int]*memoryEntry),
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Dimension() int { return m.dimension }

func (m *MemoryBackend) Upsert(ctx context.Context, chunks []*model.DocumentChunk) (int, error) {
	if err := validateChunks(chunks, m.dimension); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docID := chunks[0].DocumentID
	doc := m.docs[docID]
	if doc == nil {
		doc = make(map[int]*memoryEntry, len(chunks))
		m.docs[docID] = doc
	}
	now := time.Now().UnixMilli()
	for _, c := range chunks {
		stored := cloneChunk(c)
		if stored.Ctime == 0 {
			stored.Ctime = now
		}
		if prev, ok := doc[c.ChunkIndex]; ok {
			// replacing keeps the original position in tie-breaks
			stored.Ctime = prev.chunk.Ctime
			doc[c.ChunkIndex] = &memoryEntry{chunk: stored, seq: prev.seq, norm: norm(stored.Embedding)}
			continue
		}
		m.seq++
		doc[c.ChunkIndex] = &memoryEntry{chunk: stored, seq: m.seq, norm: norm(stored.Embedding)}
	}
	keep := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ChunkIndex] = true
	}
	for idx := range doc {
		if !keep[idx] {
			delete(doc, idx)
		}
	}
	return len(chunks), nil
}

func (m *MemoryBackend) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]*model.ScoredChunk, error) {
	if err := validateQuery(vector, topK, m.dimension); err != nil {
		return nil, err
	}
	qnorm := norm(vector)
	type hit struct {
		entry *memoryEntry
		score float64
	}
	m.mu.RLock()
	hits := make([]hit, 0)
	for _, doc := range m.docs {
		for _, e := range doc {
			if !matches(e.chunk, filter) {
				continue
			}
			score := cosine(vector, e.chunk.Embedding, qnorm, e.norm)
			if score < filter.MinScore {
				continue
			}
			hits = append(hits, hit{entry: e, score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].entry.chunk.Ctime != hits[j].entry.chunk.Ctime {
			return hits[i].entry.chunk.Ctime < hits[j].entry.chunk.Ctime
		}
		return hits[i].entry.seq < hits[j].entry.seq
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]*model.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, &model.ScoredChunk{Chunk: cloneChunk(h.entry.chunk), Score: h.score})
	}
	return out, nil
}

func (m *MemoryBackend) HasDocument(ctx context.Context, documentID string) (bool, error) {
	n, err := m.CountDocument(ctx, documentID)
	return n > 0, err
}

func (m *MemoryBackend) CountDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[documentID]), nil
}

func (m *MemoryBackend) Stats(ctx context.Context, activeModel string) (*model.ChunkStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := &model.ChunkStats{ActiveModel: activeModel, Documents: int64(len(m.docs))}
	for _, doc := range m.docs {
		for _, e := range doc {
			st.Total++
			if e.chunk.EmbeddingModel != activeModel || len(e.chunk.Embedding) != m.dimension {
				st.StaleModel++
			}
		}
	}
	return st, nil
}

func (m *MemoryBackend) Health(ctx context.Context) Health {
	return Health{Status: HealthOK, Backend: m.Name()}
}

func matches(c *model.DocumentChunk, f Filter) bool {
	if f.SourceID != "" && c.SourceID != f.SourceID {
		return false
	}
	if f.EmbeddingModel != "" && c.EmbeddingModel != f.EmbeddingModel {
		return false
	}
	for k, v := range f.Metadata {
		if got, ok := c.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func cloneChunk(c *model.DocumentChunk) *model.DocumentChunk {
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
