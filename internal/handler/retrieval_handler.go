package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/legisrag/internal/pkg/errcode"
	"github.com/xxxsen/legisrag/internal/pkg/response"
	"github.com/xxxsen/legisrag/internal/service"
)

type RetrievalHandler struct {
	retrieval *service.RetrievalService
}

func NewRetrievalHandler(retrieval *service.RetrievalService) *RetrievalHandler {
	return &RetrievalHandler{retrieval: retrieval}
}

func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	var req service.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	results, err := h.retrieval.Retrieve(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}
