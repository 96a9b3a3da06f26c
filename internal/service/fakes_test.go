package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

const testDim = 16

// wordEmbedder hashes words into buckets so texts sharing words score high.
type wordEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32
	err   error
	gate  chan struct{}
}

func (w *wordEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	w.calls.Add(1)
	w.texts.Add(int32(len(texts)))
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, word := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			v[h.Sum32()%testDim]++
		}
		v[testDim-1] += 0.01
		out[i] = v
	}
	return out, nil
}

func (w *wordEmbedder) Config() ai.EmbeddingConfig {
	return ai.EmbeddingConfig{Model: "word-hash", Dimension: testDim}
}

type memScrapeStore struct {
	mu      sync.Mutex
	items   map[string]*model.RawScrape
	markErr error
}

func newMemScrapeStore(scrapes ...*model.RawScrape) *memScrapeStore {
	m := &memScrapeStore{items: map[string]*model.RawScrape{}}
	for _, s := range scrapes {
		_ = m.Create(context.Background(), s)
	}
	return m
}

func (m *memScrapeStore) Create(ctx context.Context, s *model.RawScrape) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; ok {
		return appErr.ErrConflict
	}
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *memScrapeStore) Get(ctx context.Context, id string) (*model.RawScrape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memScrapeStore) ListPending(ctx context.Context, limit, maxAttempts int) ([]*model.RawScrape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RawScrape
	for _, s := range m.items {
		if s.Processed || (maxAttempts > 0 && s.Attempts >= maxAttempts) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ctime != out[j].Ctime {
			return out[i].Ctime < out[j].Ctime
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memScrapeStore) ExistsBySourceHash(ctx context.Context, sourceID, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.SourceID == sourceID && s.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *memScrapeStore) MarkProcessed(ctx context.Context, id, blobURI string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	s, ok := m.items[id]
	if !ok {
		return appErr.ErrNotFound
	}
	s.Processed = true
	s.ErrorMessage = ""
	if blobURI != "" {
		s.BlobURI = blobURI
	}
	s.Mtime = mtime
	return nil
}

func (m *memScrapeStore) MarkFailed(ctx context.Context, id, errMsg string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return appErr.ErrNotFound
	}
	s.Processed = false
	s.Attempts++
	s.ErrorMessage = errMsg
	s.Mtime = mtime
	return nil
}

func (m *memScrapeStore) Stats(ctx context.Context) (*model.ScrapeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &model.ScrapeStats{}
	for _, s := range m.items {
		st.Total++
		if s.Processed {
			st.Processed++
			continue
		}
		st.Unprocessed++
		if s.Attempts > 0 {
			st.Failing++
		}
	}
	return st, nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]*model.PipelineRun
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: map[string]*model.PipelineRun{}}
}

func (m *memRunStore) Create(ctx context.Context, run *model.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRunStore) Get(ctx context.Context, id string) (*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *run
	cp.Steps = append([]model.RunStep(nil), run.Steps...)
	return &cp, nil
}

func (m *memRunStore) List(ctx context.Context, kind string, offset, limit int) ([]*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PipelineRun
	for _, r := range m.runs {
		if kind == "" || r.Kind == kind {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ctime > out[j].Ctime })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRunStore) UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus string, at int64) (bool, error) {
	if !model.CanTransitionRunStatus(fromStatus, toStatus) {
		return false, appErr.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.Status != fromStatus {
		return false, nil
	}
	run.Status = toStatus
	run.Mtime = at
	if toStatus == model.RunStatusRunning {
		run.StartedAt = at
	}
	return true, nil
}

func (m *memRunStore) SaveResult(ctx context.Context, run *model.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return appErr.ErrNotFound
	}
	stored.Steps = append([]model.RunStep(nil), run.Steps...)
	stored.Succeeded = run.Succeeded
	stored.Failed = run.Failed
	stored.Error = run.Error
	stored.FinishedAt = run.FinishedAt
	stored.DurationMs = run.DurationMs
	stored.Mtime = run.Mtime
	return nil
}

type failingBlobStore struct{}

func (failingBlobStore) Type() string { return "failing" }

func (failingBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.New("bucket unavailable")
}

func (failingBlobStore) URI(key string) string { return "failing://" + key }
