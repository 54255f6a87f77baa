package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
)

const (
	DefaultTimeout     = 100 * time.Second
	DefaultChunkSize   = 1024
	DefaultMaxBodySize = 32 << 20
)

var (
	ErrEmptyBody    = errors.New("empty response body")
	ErrBodyTooLarge = errors.New("response body too large")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Config configures the fetcher.
type Config struct {
	Timeout     time.Duration
	ChunkSize   int
	MaxBodySize int64
	UserAgent   string
}

// Fetcher performs the single HTTP request of a round.
type Fetcher struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New builds a Fetcher. Zero config values fall back to defaults.
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		logger:     logger,
	}
}

// Fetch issues exactly one request for job and returns the full body.
// Explorer jobs use GET, provider jobs POST the job body. There is no retry.
func (f *Fetcher) Fetch(ctx context.Context, job model.FetchJob) ([]byte, error) {
	start := time.Now()
	body, err := f.fetch(ctx, job)
	elapsed := time.Since(start)

	kind := job.Kind.String()
	if err != nil {
		f.metrics.FetchOutcome(kind, outcomeLabel(err), elapsed.Seconds())
		f.logger.Warn("fetch failed",
			zap.String("kind", kind),
			zap.String("url", job.URL),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	f.metrics.FetchOutcome(kind, "ok", elapsed.Seconds())
	f.logger.Info("fetch complete",
		zap.String("kind", kind),
		zap.String("url", job.URL),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", elapsed),
	)
	return body, nil
}

func (f *Fetcher) fetch(ctx context.Context, job model.FetchJob) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		req *http.Request
		err error
	)
	switch job.Kind {
	case model.SourceExplorer:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	case model.SourceProvider:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(job.Body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidSourceKind, job.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, job.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return f.readBody(resp.Body)
}

// readBody reads fixed-size chunks until EOF or a zero-length read.
func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	var out []byte
	chunk := make([]byte, f.cfg.ChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if int64(len(out)+n) > f.cfg.MaxBodySize {
				return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, f.cfg.MaxBodySize)
			}
			out = append(out, chunk[:n]...)
		}
		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyBody
	}
	return out, nil
}

func outcomeLabel(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmptyBody):
		return "empty"
	case errors.Is(err, ErrBodyTooLarge):
		return "too_large"
	default:
		return "transport"
	}
}
