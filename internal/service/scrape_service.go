package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/contenthash"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

// ScrapeService accepts raw scrapes produced by scrapers outside this process.
type ScrapeService struct {
	scrapes ScrapeStore
	now     func() time.Time
}

func NewScrapeService(scrapes ScrapeStore) *ScrapeService {
	return &ScrapeService{scrapes: scrapes, now: time.Now}
}

// Submit stores a scrape for later ingestion. The content hash is always
// recomputed from the payload so a caller cannot spoof deduplication.
func (s *ScrapeService) Submit(ctx context.Context, in *model.RawScrape) (*model.RawScrape, error) {
	in.SourceID = strings.TrimSpace(in.SourceID)
	in.URL = strings.TrimSpace(in.URL)
	if in.SourceID == "" {
		return nil, fmt.Errorf("%w: source_id is required", appErr.ErrInvalid)
	}
	if in.URL == "" {
		return nil, fmt.Errorf("%w: url is required", appErr.ErrInvalid)
	}
	in.Metadata = cleanMetadata(in.Metadata)
	now := s.now().UnixMilli()
	if in.ID == "" {
		in.ID = newID()
	}
	if in.Ctime == 0 {
		in.Ctime = now
	}
	in.Mtime = now
	in.ContentHash = contenthash.Sum(in.Data)
	in.Processed = false
	in.Attempts = 0
	in.BlobURI = ""
	if err := s.scrapes.Create(ctx, in); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("raw scrape accepted",
		zap.String("scrape_id", in.ID),
		zap.String("source_id", in.SourceID),
		zap.String("content_hash", in.ContentHash),
		zap.Int("bytes", len(in.Data)),
	)
	return in, nil
}

func (s *ScrapeService) Get(ctx context.Context, id string) (*model.RawScrape, error) {
	return s.scrapes.Get(ctx, id)
}

// cleanMetadata trims keys and values and drops blank entries.
func cleanMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
