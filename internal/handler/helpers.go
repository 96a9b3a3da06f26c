package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/middleware"
	"github.com/xxxsen/legisrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
	"github.com/xxxsen/legisrag/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		response.Error(c, errcode.ErrTooLarge, "request body too large")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrInvalidTransition):
		response.Error(c, errcode.ErrInvalidTransition, err.Error())
	case errors.Is(err, appErr.ErrModelMismatch), errors.Is(err, appErr.ErrDimensionMismatch):
		response.Error(c, errcode.ErrModelMismatch, err.Error())
	case errors.Is(err, appErr.ErrBackendUnavailable):
		response.Error(c, errcode.ErrBackendUnavailable, "vector backend unavailable")
	case errors.Is(err, appErr.ErrTransient), errors.Is(err, ai.ErrUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "embedding provider unavailable")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
