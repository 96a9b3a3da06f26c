package embedcache

import (
	"context"
	"fmt"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/contenthash"
)

// Store persists vectors keyed by (model, task, content hash).
type Store interface {
	GetMany(ctx context.Context, modelName, taskType string, hashes []string) (map[string][]float32, error)
	SaveMany(ctx context.Context, items []*model.EmbeddingCache) error
}

func cacheModelName(cfg ai.EmbeddingConfig) string {
	return fmt.Sprintf("%s@%d", cfg.Model, cfg.Dimension)
}

func textHash(text string) string {
	return contenthash.SumString(text)
}

// fillMisses embeds only the texts without a cached vector and stitches the
// result back into input order. It returns the freshly embedded indexes.
func fillMisses(ctx context.Context, next ai.IEmbedder, texts []string, taskType string, out [][]float32) ([]int, error) {
	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return nil, nil
	}
	vecs, err := next.Embed(ctx, missTexts, taskType)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}
	return missIdx, nil
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
