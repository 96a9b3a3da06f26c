package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/legisrag/internal/pkg/response"
	"github.com/xxxsen/legisrag/internal/service"
)

type StatsHandler struct {
	stats *service.StatsService
}

func NewStatsHandler(stats *service.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

func (h *StatsHandler) Stats(c *gin.Context) {
	report, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

// Health reports backend reachability in the payload; the call itself
// succeeds even when the backend is down.
func (h *StatsHandler) Health(c *gin.Context) {
	response.Success(c, h.stats.Health(c.Request.Context()))
}
