package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/legisrag/internal/pkg/errcode"
	"github.com/xxxsen/legisrag/internal/pkg/response"
	"github.com/xxxsen/legisrag/internal/service"
)

type RunHandler struct {
	batch *service.BatchService
}

func NewRunHandler(batch *service.BatchService) *RunHandler {
	return &RunHandler{batch: batch}
}

type startRunRequest struct {
	Limit int `json:"limit"`
}

func (h *RunHandler) Start(c *gin.Context) {
	var req startRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	if req.Limit < 0 {
		response.Error(c, errcode.ErrInvalid, "invalid limit")
		return
	}
	run, err := h.batch.Start(c.Request.Context(), req.Limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, run)
}

func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.batch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, run)
}

func (h *RunHandler) List(c *gin.Context) {
	offset := max(queryInt(c, "offset", 0), 0)
	limit := queryInt(c, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := h.batch.List(c.Request.Context(), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"runs": runs})
}

func (h *RunHandler) Cancel(c *gin.Context) {
	run, err := h.batch.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, run)
}
