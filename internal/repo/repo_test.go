package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
	"github.com/xxxsen/legisrag/internal/repo"
	"github.com/xxxsen/legisrag/internal/testutil"
)

func newScrape(id string, ctime int64) *model.RawScrape {
	return &model.RawScrape{
		ID:          id,
		SourceID:    "ca-leginfo",
		URL:         "https://leginfo.example/" + id,
		ContentHash: "hash-" + id,
		ContentType: "text/html",
		Data:        []byte("<p>" + id + "</p>"),
		HTTPStatus:  200,
		Ctime:       ctime,
		Mtime:       ctime,
	}
}

func TestScrapeRepoLifecycle(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	scrapes := repo.NewScrapeRepo(db)

	require.NoError(t, scrapes.Create(ctx, newScrape("s2", 20)))
	require.NoError(t, scrapes.Create(ctx, newScrape("s1", 10)))
	tagged := newScrape("s3", 30)
	tagged.Metadata = map[string]string{"jurisdiction": "CA", "source_type": "bill"}
	require.NoError(t, scrapes.Create(ctx, tagged))
	require.ErrorIs(t, scrapes.Create(ctx, newScrape("s1", 10)), appErr.ErrConflict)

	pending, err := scrapes.ListPending(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "s1", pending[0].ID)
	require.Equal(t, "s2", pending[1].ID)
	require.Equal(t, []byte("<p>s1</p>"), pending[0].Data)
	require.Nil(t, pending[0].Metadata)

	got, err := scrapes.Get(ctx, "s3")
	require.NoError(t, err)
	require.Equal(t, tagged.Metadata, got.Metadata)

	require.NoError(t, scrapes.MarkFailed(ctx, "s1", "embedding provider down", 40))
	got, err = scrapes.Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, got.Processed)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, "embedding provider down", got.ErrorMessage)

	pending, err = scrapes.ListPending(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, scrapes.MarkProcessed(ctx, "s2", "file:///archive/raw/x", 50))
	got, err = scrapes.Get(ctx, "s2")
	require.NoError(t, err)
	require.True(t, got.Processed)
	require.Equal(t, "file:///archive/raw/x", got.BlobURI)

	ok, err := scrapes.ExistsBySourceHash(ctx, "ca-leginfo", "hash-s3")
	require.NoError(t, err)
	require.True(t, ok)

	st, err := scrapes.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.Total)
	require.Equal(t, int64(1), st.Processed)
	require.Equal(t, int64(2), st.Unprocessed)
	require.Equal(t, int64(1), st.Failing)

	_, err = scrapes.Get(ctx, "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.ErrorIs(t, scrapes.MarkProcessed(ctx, "missing", "", 1), appErr.ErrNotFound)
}

func TestPipelineRunRepoTransitions(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	runs := repo.NewPipelineRunRepo(db)

	run := &model.PipelineRun{ID: "r1", Kind: model.RunKindIngest, Status: model.RunStatusQueued, Ctime: 1, Mtime: 1}
	require.NoError(t, runs.Create(ctx, run))

	ok, err := runs.UpdateStatusIf(ctx, "r1", model.RunStatusQueued, model.RunStatusRunning, 5)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = runs.UpdateStatusIf(ctx, "r1", model.RunStatusQueued, model.RunStatusRunning, 6)
	require.NoError(t, err)
	require.False(t, ok)

	run.Steps = []model.RunStep{{Name: "ingest", ScrapeID: "s1", Status: "success", ChunksCreated: 3}}
	run.Succeeded = 1
	run.FinishedAt = 9
	run.DurationMs = 4
	run.Mtime = 9
	require.NoError(t, runs.SaveResult(ctx, run))
	ok, err = runs.UpdateStatusIf(ctx, "r1", model.RunStatusRunning, model.RunStatusCompleted, 9)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = runs.UpdateStatusIf(ctx, "r1", model.RunStatusCompleted, model.RunStatusRunning, 10)
	require.ErrorIs(t, err, appErr.ErrInvalidTransition)

	got, err := runs.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCompleted, got.Status)
	require.Equal(t, int64(5), got.StartedAt)
	require.Len(t, got.Steps, 1)
	require.Equal(t, 3, got.Steps[0].ChunksCreated)

	list, err := runs.List(ctx, model.RunKindIngest, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
