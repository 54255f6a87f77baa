package oracle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swapOracle/internal/metrics"
	"swapOracle/internal/storage"
)

// TickHook runs at the start of every tick, before the round. The provider
// scheduler uses it to queue the next block range.
type TickHook interface {
	OnTick(ctx context.Context, height uint64) error
}

// RunConfig holds runtime settings for the round loop.
type RunConfig struct {
	Interval time.Duration
	// MaxRounds stops the loop after that many ticks when non-zero.
	MaxRounds uint64
}

// Runner advances the local height on a ticker and runs one round per tick.
type Runner struct {
	cfg     RunConfig
	oracle  *Oracle
	heights storage.HeightStore
	hooks   []TickHook
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, o *Oracle, heights storage.HeightStore, hooks []TickHook, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		oracle:  o,
		heights: heights,
		hooks:   hooks,
		metrics: m,
		logger:  logger,
	}
}

// Run executes the round loop until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if r.oracle == nil {
		return fmt.Errorf("oracle is nil")
	}
	if r.heights == nil {
		return fmt.Errorf("height store is nil")
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var rounds uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := r.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("tick failed", zap.Error(err))
		}

		rounds++
		if r.cfg.MaxRounds > 0 && rounds >= r.cfg.MaxRounds {
			r.logger.Info("max rounds reached", zap.Uint64("rounds", rounds))
			return nil
		}
	}
}

// Tick advances and persists the local height, runs the hooks and one round.
func (r *Runner) Tick(ctx context.Context) (RoundResult, error) {
	current, err := r.heights.LocalHeight(ctx)
	if err != nil {
		return RoundResult{}, fmt.Errorf("load local height: %w", err)
	}
	height := current + 1
	if err := r.heights.SaveLocalHeight(ctx, height); err != nil {
		return RoundResult{}, fmt.Errorf("save local height: %w", err)
	}
	r.metrics.SetLocalHeight(height)

	for _, hook := range r.hooks {
		if err := hook.OnTick(ctx, height); err != nil {
			r.logger.Warn("tick hook failed", zap.Uint64("height", height), zap.Error(err))
		}
	}

	return r.oracle.Round(ctx, height)
}
