package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/legisrag/internal/middleware"
)

type RouterDeps struct {
	Scrapes   *ScrapeHandler
	Retrieval *RetrievalHandler
	Stats     *StatsHandler
	Runs      *RunHandler
	// zero disables the limit on manual batch starts
	RunStartInterval time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Stats.Health)
	api.GET("/stats", deps.Stats.Stats)

	api.POST("/scrapes", deps.Scrapes.Submit)
	api.GET("/scrapes/:id", deps.Scrapes.Get)

	api.POST("/retrieve", deps.Retrieval.Retrieve)

	api.POST("/runs", middleware.RateLimit(deps.RunStartInterval), deps.Runs.Start)
	api.GET("/runs", deps.Runs.List)
	api.GET("/runs/:id", deps.Runs.Get)
	api.POST("/runs/:id/cancel", deps.Runs.Cancel)
}
