package service

import (
	"context"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

type StatsReport struct {
	Scrapes          *model.ScrapeStats `json:"scrapes"`
	Chunks           *model.ChunkStats  `json:"chunks"`
	EmbeddingBacklog int64              `json:"embedding_backlog"`
	Embedding        ai.EmbeddingConfig `json:"embedding"`
	Backend          vectorstore.Health `json:"backend"`
}

type StatsService struct {
	scrapes  ScrapeStore
	backend  vectorstore.Backend
	embedCfg ai.EmbeddingConfig
}

func NewStatsService(scrapes ScrapeStore, backend vectorstore.Backend, embedCfg ai.EmbeddingConfig) *StatsService {
	return &StatsService{scrapes: scrapes, backend: backend, embedCfg: embedCfg}
}

func (s *StatsService) Stats(ctx context.Context) (*StatsReport, error) {
	scrapes, err := s.scrapes.Stats(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := s.backend.Stats(ctx, s.embedCfg.Model)
	if err != nil {
		return nil, err
	}
	return &StatsReport{
		Scrapes:          scrapes,
		Chunks:           chunks,
		EmbeddingBacklog: scrapes.Unprocessed,
		Embedding:        s.embedCfg,
		Backend:          s.backend.Health(ctx),
	}, nil
}

func (s *StatsService) Health(ctx context.Context) vectorstore.Health {
	return s.backend.Health(ctx)
}
