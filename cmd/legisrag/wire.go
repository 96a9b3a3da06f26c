package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/blobstore"
	"github.com/xxxsen/legisrag/internal/config"
	"github.com/xxxsen/legisrag/internal/db"
	"github.com/xxxsen/legisrag/internal/discovery"
	"github.com/xxxsen/legisrag/internal/embedcache"
	"github.com/xxxsen/legisrag/internal/repo"
	"github.com/xxxsen/legisrag/internal/service"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

type app struct {
	cfg        *config.Config
	db         *sql.DB
	scrapeRepo *repo.ScrapeRepo
	runRepo    *repo.PipelineRunRepo
	cacheRepo  *repo.EmbeddingCacheRepo
	backend    vectorstore.Backend

	scrapes   *service.ScrapeService
	ingest    *service.IngestionService
	batch     *service.BatchService
	retrieval *service.RetrievalService
	stats     *service.StatsService
	// nil unless discovery.enabled
	discovery *discovery.Service
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	conn, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:        cfg,
		db:         conn,
		scrapeRepo: repo.NewScrapeRepo(conn),
		runRepo:    repo.NewPipelineRunRepo(conn),
		cacheRepo:  repo.NewEmbeddingCacheRepo(conn),
	}
	if err := a.build(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	logger := logutil.GetLogger(ctx)

	base, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	docEmbedder := base
	if !cfg.Embedding.DisableDBCache {
		docEmbedder = embedcache.WrapDBCacheToEmbedder(base, a.cacheRepo)
	}
	queryEmbedder := embedcache.WrapLruCacheToEmbedder(base, cfg.Embedding.QueryCacheSize, time.Duration(cfg.Embedding.QueryCacheTTL)*time.Second)

	a.backend, err = vectorstore.New(cfg.VectorBackend.Type, cfg.Embedding.Dimension, a.db)
	if err != nil {
		return fmt.Errorf("init vector backend: %w", err)
	}
	blobs, err := blobstore.New(cfg.BlobStore)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	a.ingest, err = service.NewIngestionService(a.scrapeRepo, a.backend, docEmbedder, blobs, service.IngestConfig{
		ChunkSize:    cfg.Chunking.MaxSize,
		ChunkOverlap: cfg.Chunking.Overlap,
	})
	if err != nil {
		return fmt.Errorf("init ingestion: %w", err)
	}
	a.retrieval, err = service.NewRetrievalService(a.backend, queryEmbedder, service.RetrievalConfig{
		MaxTopK:  cfg.Retrieval.MaxTopK,
		MinScore: cfg.Retrieval.MinScore,
	})
	if err != nil {
		return fmt.Errorf("init retrieval: %w", err)
	}
	a.batch = service.NewBatchService(a.ingest, a.scrapeRepo, a.runRepo, service.BatchConfig{
		Concurrency: cfg.Ingest.Concurrency,
		Limit:       cfg.Ingest.BatchLimit,
		MaxAttempts: cfg.Ingest.MaxAttempts,
	})
	a.scrapes = service.NewScrapeService(a.scrapeRepo)
	a.stats = service.NewStatsService(a.scrapeRepo, a.backend, base.Config())

	if cfg.Discovery.Enabled {
		timeout := time.Duration(cfg.Discovery.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client := &http.Client{Timeout: timeout}
		adapter, err := discovery.NewAdapter(cfg.Discovery, client)
		if err != nil {
			return fmt.Errorf("init discovery: %w", err)
		}
		fetcher := discovery.NewFetcher(client, discovery.FetcherConfig{
			RatePerSecond: cfg.Discovery.RatePerSecond,
			Timeout:       timeout,
			UserAgent:     cfg.Discovery.UserAgent,
		})
		a.discovery = discovery.NewService(adapter, fetcher, a.scrapeRepo, a.runRepo, discovery.ServiceConfig{
			SourceID:   cfg.Discovery.SourceID,
			Queries:    cfg.Discovery.Queries,
			MaxResults: cfg.Discovery.MaxResults,
			Metadata:   cfg.Discovery.ScrapeMetadata(),
		})
	}

	logger.Info("pipeline ready",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Int("dimension", cfg.Embedding.Dimension),
		zap.String("vector_backend", a.backend.Name()),
		zap.String("blob_store", cfg.BlobStore.Type),
		zap.Bool("discovery", a.discovery != nil),
	)
	return nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildEmbedder chains the primary provider and its fallbacks. Every entry
// embeds into the configured model and dimension.
func buildEmbedder(cfg config.EmbeddingConfig) (ai.IEmbedder, error) {
	space := ai.EmbeddingConfig{Model: cfg.Model, Dimension: cfg.Dimension}
	opts := ai.ServiceConfig{
		BatchSize:     cfg.BatchSize,
		Concurrency:   cfg.Concurrency,
		MaxAttempts:   cfg.MaxAttempts,
		Backoff:       time.Duration(cfg.BackoffMs) * time.Millisecond,
		MaxBackoff:    time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Timeout:       time.Duration(cfg.Timeout) * time.Second,
		RatePerSecond: cfg.RatePerSecond,
	}
	providers := append([]config.EmbeddingFallback{{Provider: cfg.Provider, Data: cfg.Data}}, cfg.Fallbacks...)
	entries := make([]ai.EmbedderEntry, 0, len(providers))
	for _, p := range providers {
		provider, err := ai.NewEmbedProvider(p.Provider, p.Data)
		if err != nil {
			return nil, err
		}
		svc, err := ai.NewService(provider, space, opts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ai.EmbedderEntry{Name: provider.Name(), Embedder: svc})
	}
	return ai.NewGroupEmbedder(entries)
}
