package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

type ServiceConfig struct {
	BatchSize     int
	Concurrency   int
	MaxAttempts   int
	Backoff       time.Duration
	MaxBackoff    time.Duration
	Timeout       time.Duration
	RatePerSecond float64
}

// Service turns a provider into an IEmbedder with batching, pacing and
// retries. It never returns a partial result.
type Service struct {
	provider IEmbedProvider
	cfg      EmbeddingConfig
	opts     ServiceConfig
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewService(provider IEmbedProvider, cfg EmbeddingConfig, opts ServiceConfig) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is nil", appErr.ErrConfig)
	}
	if cfg.Model == "" || cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding model and dimension are required", appErr.ErrConfig)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	s := &Service{
		provider: provider,
		cfg:      cfg,
		opts:     opts,
		sleep:    sleepContext,
	}
	if opts.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return s, nil
}

func (s *Service) Config() EmbeddingConfig {
	return s.cfg
}

func (s *Service) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.Concurrency)
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))
		eg.Go(func() error {
			vecs, err := s.embedBatch(egCtx, texts[start:end], taskType)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) embedBatch(ctx context.Context, batch []string, taskType string) ([][]float32, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("provider", s.provider.Name()), zap.Int("batch", len(batch)))
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vecs, err := s.callProvider(ctx, batch, taskType)
		if err == nil {
			if err := s.validate(vecs, len(batch)); err != nil {
				return nil, err
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		if attempt == s.opts.MaxAttempts {
			break
		}
		wait := s.backoff(attempt)
		logger.Debug("embedding call failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embed batch after %d attempts: %w: %w", s.opts.MaxAttempts, appErr.ErrTransient, lastErr)
}

func (s *Service) callProvider(ctx context.Context, batch []string, taskType string) ([][]float32, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.provider.EmbedBatch(ctx, s.cfg.Model, batch, EmbedOptions{TaskType: taskType, Dimension: s.cfg.Dimension})
}

func (s *Service) validate(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("provider %s returned %d vectors for %d texts", s.provider.Name(), len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != s.cfg.Dimension {
			return fmt.Errorf("%w: vector %d has %d dims, want %d", appErr.ErrDimensionMismatch, i, len(v), s.cfg.Dimension)
		}
	}
	return nil
}

func (s *Service) backoff(attempt int) time.Duration {
	d := s.opts.Backoff << (attempt - 1)
	if d <= 0 || d > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether a provider error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, appErr.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return transientStatus(statusErr.StatusCode)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}
