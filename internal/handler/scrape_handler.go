package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/errcode"
	"github.com/xxxsen/legisrag/internal/pkg/response"
	"github.com/xxxsen/legisrag/internal/service"
)

type ScrapeHandler struct {
	scrapes  *service.ScrapeService
	maxBytes int64
}

func NewScrapeHandler(scrapes *service.ScrapeService, maxBytes int64) *ScrapeHandler {
	return &ScrapeHandler{scrapes: scrapes, maxBytes: maxBytes}
}

// data is either a JSON string (raw page text/markup) or any other JSON
// value, which is kept verbatim as a JSON payload.
type submitScrapeRequest struct {
	ID           string          `json:"id"`
	SourceID     string          `json:"source_id"`
	URL          string          `json:"url"`
	ContentType  string          `json:"content_type"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    int64           `json:"created_at"`
	HTTPStatus   int             `json:"http_status_code"`
	ErrorMessage string          `json:"error_message"`
	// jurisdiction, source_type and similar tags carried onto chunks
	Metadata map[string]string `json:"metadata"`
}

type submitScrapeResponse struct {
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`
}

func (h *ScrapeHandler) Submit(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	var req submitScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleError(c, err)
			return
		}
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	data, isJSON, err := decodePayload(req.Data)
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid data")
		return
	}
	contentType := req.ContentType
	if contentType == "" && isJSON {
		contentType = "application/json"
	}
	scrape, err := h.scrapes.Submit(c.Request.Context(), &model.RawScrape{
		ID:           req.ID,
		SourceID:     req.SourceID,
		URL:          req.URL,
		ContentType:  contentType,
		Data:         data,
		HTTPStatus:   req.HTTPStatus,
		ErrorMessage: req.ErrorMessage,
		Metadata:     req.Metadata,
		Ctime:        req.CreatedAt,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, submitScrapeResponse{ID: scrape.ID, ContentHash: scrape.ContentHash})
}

func (h *ScrapeHandler) Get(c *gin.Context) {
	scrape, err := h.scrapes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	scrape.Data = nil
	response.Success(c, scrape)
}

func decodePayload(raw json.RawMessage) ([]byte, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false, err
		}
		return []byte(s), false, nil
	}
	return append([]byte(nil), raw...), true, nil
}
