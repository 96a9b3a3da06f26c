package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

func pendingScrapes(n int) []*model.RawScrape {
	out := make([]*model.RawScrape, 0, n)
	for i := 0; i < n; i++ {
		s := plainScrape(fmt.Sprintf("s%02d", i), "ca", fmt.Sprintf("Bill %d relating to housing element number %d.", i, i))
		s.Ctime = int64(i)
		out = append(out, s)
	}
	return out
}

func TestRunBatchIngestsPendingScrapes(t *testing.T) {
	f := newIngestFixture(t, pendingScrapes(6)...)
	runs := newMemRunStore()
	batch := NewBatchService(f.svc, f.scrapes, runs, BatchConfig{Concurrency: 3, Limit: 10})

	run, err := batch.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 6, run.Succeeded)
	assert.Zero(t, run.Failed)
	assert.Len(t, run.Steps, 6)
	assert.NotZero(t, run.StartedAt)
	assert.GreaterOrEqual(t, run.FinishedAt, run.StartedAt)

	stored, err := batch.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)
	assert.Len(t, stored.Steps, 6)

	st, err := f.scrapes.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), st.Processed)

	hits, err := f.backend.Query(context.Background(), make1(testDim), 50, vectorstore.Filter{})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, run.ID, h.Chunk.RunID)
	}
}

func TestRunBatchSurvivesMalformedPDF(t *testing.T) {
	scrapes := pendingScrapes(3)
	bad := &model.RawScrape{
		ID:          "s99",
		SourceID:    "ca",
		URL:         "https://leg.example/broken.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4\nxref\n0 2\n0000000000 65535 f \n0000000009 00000 n \ntrailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n9\n%%EOF\n"),
		HTTPStatus:  200,
		Ctime:       10,
	}
	f := newIngestFixture(t, append(scrapes, bad)...)
	batch := NewBatchService(f.svc, f.scrapes, newMemRunStore(), BatchConfig{Concurrency: 2, Limit: 10})

	run, err := batch.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	for _, st := range run.Steps {
		if st.ScrapeID == "s99" {
			assert.Equal(t, ReasonExtractFailed, st.Reason)
		}
	}

	stored, err := f.scrapes.Get(context.Background(), "s99")
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestRunBatchRespectsLimit(t *testing.T) {
	f := newIngestFixture(t, pendingScrapes(5)...)
	batch := NewBatchService(f.svc, f.scrapes, newMemRunStore(), BatchConfig{Concurrency: 2, Limit: 2})
	run, err := batch.RunBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, run.Steps, 2)
	assert.Equal(t, "s00", run.Steps[0].ScrapeID)
	assert.Equal(t, "s01", run.Steps[1].ScrapeID)
}

func TestRunBatchRecordsFailures(t *testing.T) {
	f := newIngestFixture(t, pendingScrapes(3)...)
	f.embedder.err = appErr.ErrTransient
	batch := NewBatchService(f.svc, f.scrapes, newMemRunStore(), BatchConfig{Concurrency: 2, Limit: 10, MaxAttempts: 1})

	run, err := batch.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Failed)
	for _, st := range run.Steps {
		assert.Equal(t, ReasonEmbeddingFailed, st.Reason)
		assert.NotEmpty(t, st.Error)
	}

	// failed once, MaxAttempts 1: nothing left to pick up
	run, err = batch.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, run.Steps)
}

func TestRunBatchStopsWhenBackendUnreachable(t *testing.T) {
	scrapes := newMemScrapeStore(pendingScrapes(5)...)
	svc, err := NewIngestionService(scrapes, unreachableBackend{vectorstore.NewMemoryBackend(testDim)}, &wordEmbedder{}, nil, IngestConfig{ChunkSize: 500, ChunkOverlap: 50})
	require.NoError(t, err)
	batch := NewBatchService(svc, scrapes, newMemRunStore(), BatchConfig{Concurrency: 1, Limit: 10})

	run, err := batch.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	// one more scrape may already be waiting for the slot when the first fails
	assert.NotEmpty(t, run.Steps)
	assert.LessOrEqual(t, len(run.Steps), 2)
	assert.Equal(t, appErr.ErrBackendUnavailable.Error(), run.Error)
}

func TestCancelStopsSchedulingButFinishesInFlight(t *testing.T) {
	f := newIngestFixture(t, pendingScrapes(6)...)
	f.embedder.gate = make(chan struct{})
	runs := newMemRunStore()
	batch := NewBatchService(f.svc, f.scrapes, runs, BatchConfig{Concurrency: 2, Limit: 10})

	run, err := batch.Start(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.Eventually(t, func() bool { return f.embedder.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancelled, err := batch.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, cancelled.Status)
	close(f.embedder.gate)

	var final *model.PipelineRun
	require.Eventually(t, func() bool {
		final, err = runs.Get(context.Background(), run.ID)
		return err == nil && final.FinishedAt > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.RunStatusCancelled, final.Status)
	// the two in-flight documents finished; at most one more was waiting for a slot
	assert.LessOrEqual(t, len(final.Steps), 3)
	assert.GreaterOrEqual(t, final.Succeeded, 2)

	st, err := f.scrapes.Stats(context.Background())
	require.NoError(t, err)
	assert.Greater(t, st.Unprocessed, int64(0))

	_, err = batch.Cancel(context.Background(), run.ID)
	require.ErrorIs(t, err, appErr.ErrInvalidTransition)
}

func TestCancelUnknownRun(t *testing.T) {
	f := newIngestFixture(t)
	batch := NewBatchService(f.svc, f.scrapes, newMemRunStore(), BatchConfig{})
	_, err := batch.Cancel(context.Background(), "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestStatsService(t *testing.T) {
	f := newIngestFixture(t, pendingScrapes(2)...)
	require.True(t, f.svc.Ingest(context.Background(), pendingScrapes(1)[0], "").Succeeded())

	stats := NewStatsService(f.scrapes, f.backend, f.embedder.Config())
	report, err := stats.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Scrapes.Total)
	assert.Equal(t, int64(1), report.EmbeddingBacklog)
	assert.Equal(t, int64(1), report.Chunks.Documents)
	assert.Zero(t, report.Chunks.StaleModel)
	assert.Equal(t, vectorstore.HealthOK, report.Backend.Status)
}
