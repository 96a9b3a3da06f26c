package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/contenthash"
)

const defaultMaxBodyBytes = 20 << 20

type FetcherConfig struct {
	RatePerSecond float64
	Timeout       time.Duration
	UserAgent     string
	MaxBodyBytes  int64
}

// Fetcher downloads candidates into RawScrape records. HTTP failures are
// recorded on the scrape rather than dropped.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     FetcherConfig
	now     func() time.Time
}

func NewFetcher(client *http.Client, cfg FetcherConfig) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Fetcher{client: client, limiter: limiter, cfg: cfg, now: time.Now}
}

// Fetch returns a scrape for every candidate it could attempt. The error is
// non-nil only when the request never produced a response; the returned
// scrape then carries the error message.
func (f *Fetcher) Fetch(ctx context.Context, sourceID string, c Candidate) (*model.RawScrape, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	now := f.now().UnixMilli()
	scrape := &model.RawScrape{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		URL:      c.URL,
		Ctime:    now,
		Mtime:    now,
	}
	reqCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.URL, nil)
	if err != nil {
		return f.failed(scrape, err), err
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return f.failed(scrape, err), err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return f.failed(scrape, err), err
	}
	scrape.HTTPStatus = resp.StatusCode
	scrape.ContentType = resp.Header.Get("Content-Type")
	// nothing worth indexing in either case, keep the record for the audit trail only
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return f.failed(scrape, fmt.Errorf("http status %d", resp.StatusCode)), nil
	}
	if int64(len(data)) > f.cfg.MaxBodyBytes {
		return f.failed(scrape, fmt.Errorf("body exceeds %d bytes", f.cfg.MaxBodyBytes)), nil
	}
	scrape.Data = data
	scrape.ContentHash = contenthash.Sum(data)
	return scrape, nil
}

func (f *Fetcher) failed(scrape *model.RawScrape, err error) *model.RawScrape {
	scrape.ErrorMessage = err.Error()
	scrape.Processed = true
	scrape.ContentHash = contenthash.Sum(nil)
	return scrape
}
