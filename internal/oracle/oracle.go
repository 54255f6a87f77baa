package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"swapOracle/internal/decoder"
	"swapOracle/internal/gateway"
	"swapOracle/internal/ledger"
	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
	"swapOracle/internal/storage"
)

// ErrNotAuthority is returned when an admin command comes from anyone but the authority.
var ErrNotAuthority = errors.New("caller is not the bridge authority")

// Fetcher performs the HTTP request of a fetch job.
type Fetcher interface {
	Fetch(ctx context.Context, job model.FetchJob) ([]byte, error)
}

// Decoder turns a response body into swap events.
type Decoder interface {
	Decode(body []byte, kind model.SourceKind) (decoder.Result, error)
}

// Store is what the oracle needs from persistence.
type Store interface {
	ledger.Store
	storage.JobSlot
	storage.HeightStore
}

// DecodeErrorSink receives per-entry decode failures.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}

// RoundResult describes one round. FetchErr and DecodeErr are operator
// information only; the round still completes with zero events.
type RoundResult struct {
	RoundID   string
	Height    uint64
	Job       *model.FetchJob
	FetchErr  error
	DecodeErr error
	Decoded   int
	Failed    int
	Skipped   int
	Applied   ledger.ApplyResult
}

// Oracle wires the fetcher, decoder, gateway and ledger together.
type Oracle struct {
	store   Store
	fetcher Fetcher
	decoder Decoder
	gateway *gateway.Gateway
	ledger  *ledger.Ledger
	errSink DecodeErrorSink
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds an Oracle. errSink may be nil.
func New(
	store Store,
	fetcher Fetcher,
	dec Decoder,
	gw *gateway.Gateway,
	l *ledger.Ledger,
	errSink DecodeErrorSink,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		store:   store,
		fetcher: fetcher,
		decoder: dec,
		gateway: gw,
		ledger:  l,
		errSink: errSink,
		metrics: m,
		logger:  logger,
	}
}

// Init writes the bridge settings once. Repeating it with the same values is a no-op.
func (o *Oracle) Init(ctx context.Context, authority, custody string) error {
	settings := model.Settings{Authority: authority, CustodyAccount: custody}
	if err := o.store.InitSettings(ctx, settings); err != nil {
		return err
	}
	o.logger.Info("settings initialized", zap.String("authority", authority), zap.String("custody", custody))
	return nil
}

// Settings returns the bridge settings, or ErrNotInitialized.
func (o *Oracle) Settings(ctx context.Context) (model.Settings, error) {
	settings, ok, err := o.store.Settings(ctx)
	if err != nil {
		return model.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return model.Settings{}, ledger.ErrNotInitialized
	}
	return settings, nil
}

func (o *Oracle) authorize(ctx context.Context, caller string) error {
	settings, err := o.Settings(ctx)
	if err != nil {
		return err
	}
	if !sameAccount(caller, settings.Authority) {
		return fmt.Errorf("%w: %q", ErrNotAuthority, caller)
	}
	return nil
}

// sameAccount compares hex addresses regardless of checksum casing and any
// other account names exactly.
func sameAccount(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}

// Kickoff queues job for the next round, replacing any job still queued.
func (o *Oracle) Kickoff(ctx context.Context, caller string, job model.FetchJob) error {
	if err := o.authorize(ctx, caller); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if err := o.store.PutJob(ctx, job); err != nil {
		return fmt.Errorf("queue job: %w", err)
	}
	o.metrics.JobQueued(job.Kind.String())
	o.logger.Info("kickoff",
		zap.String("caller", caller),
		zap.Stringer("kind", job.Kind),
		zap.String("url", job.URL),
		zap.Int("body_bytes", len(job.Body)),
	)
	return nil
}

// Killall drops the queued job, if any.
func (o *Oracle) Killall(ctx context.Context, caller string) error {
	if err := o.authorize(ctx, caller); err != nil {
		return err
	}
	if err := o.store.ClearJob(ctx); err != nil {
		return fmt.Errorf("clear job: %w", err)
	}
	o.logger.Info("killall", zap.String("caller", caller))
	return nil
}

// Ledger exposes the swap ledger for queries.
func (o *Oracle) Ledger() *ledger.Ledger {
	return o.ledger
}

// Round consumes the queued job, if any, at local height. Only store
// failures are returned as errors.
func (o *Oracle) Round(ctx context.Context, height uint64) (RoundResult, error) {
	result := RoundResult{RoundID: uuid.NewString(), Height: height}
	logger := o.logger.With(zap.String("round", result.RoundID), zap.Uint64("height", height))

	job, err := o.store.TakeJob(ctx)
	if err != nil {
		o.metrics.RoundOutcome("error", 0)
		return result, fmt.Errorf("take job: %w", err)
	}
	if job == nil {
		o.metrics.RoundOutcome("idle", 0)
		return result, nil
	}
	result.Job = job
	start := time.Now()

	body, err := o.fetcher.Fetch(ctx, *job)
	if err != nil {
		result.FetchErr = err
		o.metrics.RoundOutcome("fetch_failed", time.Since(start).Seconds())
		logger.Warn("round fetch failed", zap.Stringer("kind", job.Kind), zap.String("url", job.URL), zap.Error(err))
		return result, nil
	}

	decoded, err := o.decoder.Decode(body, job.Kind)
	if err != nil {
		result.DecodeErr = err
		o.metrics.RoundOutcome("malformed", time.Since(start).Seconds())
		logger.Warn("round payload rejected", zap.Stringer("kind", job.Kind), zap.Int("bytes", len(body)), zap.Error(err))
		return result, nil
	}
	result.Decoded = len(decoded.Events)
	result.Failed = len(decoded.Errors)
	result.Skipped = decoded.Skipped

	if o.errSink != nil && len(decoded.Errors) > 0 {
		if err := o.errSink.PutDecodeErrors(decoded.Errors); err != nil {
			logger.Warn("store decode errors failed", zap.Error(err))
		}
	}

	if len(decoded.Events) == 0 {
		o.metrics.RoundOutcome("empty", time.Since(start).Seconds())
		logger.Info("round complete", zap.Int("events", 0), zap.Int("failed", result.Failed), zap.Int("skipped", result.Skipped))
		return result, nil
	}

	sub := gateway.ApplyBatch{Height: height, Events: decoded.Events}
	if _, err := o.gateway.Validate(sub); err != nil {
		o.metrics.RoundOutcome("rejected", time.Since(start).Seconds())
		logger.Warn("batch rejected", zap.Error(err))
		return result, nil
	}

	applied, err := o.ledger.Apply(ctx, sub.Height, sub.Events)
	if err != nil {
		o.metrics.RoundOutcome("error", time.Since(start).Seconds())
		return result, fmt.Errorf("apply batch: %w", err)
	}
	result.Applied = applied

	o.metrics.RoundOutcome("applied", time.Since(start).Seconds())
	logger.Info("round complete",
		zap.Int("events", result.Decoded),
		zap.Int("applied", applied.Applied),
		zap.Int("skipped_events", applied.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
