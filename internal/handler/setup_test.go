package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/handler"
	"github.com/xxxsen/legisrag/internal/middleware"
	"github.com/xxxsen/legisrag/internal/repo"
	"github.com/xxxsen/legisrag/internal/service"
	"github.com/xxxsen/legisrag/internal/testutil"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

const testDim = 4

// topicEmbedder scores texts by a handful of fixed topics.
type topicEmbedder struct{}

var topics = []string{"housing", "budget", "fishing"}

func (topicEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDim)
		lower := strings.ToLower(text)
		for j, topic := range topics {
			v[j] = float32(strings.Count(lower, topic))
		}
		v[testDim-1] = 0.1
		out[i] = v
	}
	return out, nil
}

func (topicEmbedder) Config() ai.EmbeddingConfig {
	return ai.EmbeddingConfig{Model: "topic", Dimension: testDim}
}

type apiResult struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) (http.Handler, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, cleanup := testutil.OpenTestDB(t)
	scrapes := repo.NewScrapeRepo(db)
	runs := repo.NewPipelineRunRepo(db)
	backend := vectorstore.NewMemoryBackend(testDim)
	embedder := topicEmbedder{}

	ingest, err := service.NewIngestionService(scrapes, backend, embedder, nil, service.IngestConfig{ChunkSize: 500, ChunkOverlap: 50})
	require.NoError(t, err)
	retrieval, err := service.NewRetrievalService(backend, embedder, service.RetrievalConfig{})
	require.NoError(t, err)
	batch := service.NewBatchService(ingest, scrapes, runs, service.BatchConfig{Concurrency: 2, Limit: 50})

	deps := handler.RouterDeps{
		Scrapes:   handler.NewScrapeHandler(service.NewScrapeService(scrapes), 1024),
		Retrieval: handler.NewRetrievalHandler(retrieval),
		Stats:     handler.NewStatsHandler(service.NewStatsService(scrapes, backend, embedder.Config())),
		Runs:      handler.NewRunHandler(batch),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine, cleanup
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) apiResult {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}
