package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
)

// ChainReader is the slice of the chain client the scheduler needs.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Kicker queues a fetch job on the oracle.
type Kicker interface {
	Kickoff(ctx context.Context, caller string, job model.FetchJob) error
}

// SchedulerConfig holds settings for the provider scheduler.
type SchedulerConfig struct {
	// ProviderURL receives the eth_getLogs POST of each queued job.
	ProviderURL       string
	Headers           map[string]string
	Authority         string
	Addresses         []common.Address
	Topic0            []common.Hash
	FromBlock         uint64
	Confirmations     uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	// Precheck skips ranges without bridge logs instead of queueing them.
	Precheck     bool
	MaxRetries   int
	RetryBackoff time.Duration
}

// Scheduler follows the remote chain head and queues one provider job per tick.
type Scheduler struct {
	cfg        SchedulerConfig
	chain      ChainReader
	kicker     Kicker
	checkpoint *CheckpointStore
	metrics    *metrics.Metrics
	logger     *zap.Logger

	next    uint64
	loaded  bool
	request uint64
}

// NewScheduler builds a Scheduler with its dependencies.
func NewScheduler(cfg SchedulerConfig, chainClient ChainReader, kicker Kicker, m *metrics.Metrics, logger *zap.Logger) (*Scheduler, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if kicker == nil {
		return nil, fmt.Errorf("kicker is nil")
	}
	if cfg.ProviderURL == "" {
		return nil, fmt.Errorf("provider url is required")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("at least one address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		chain:      chainClient,
		kicker:     kicker,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		metrics:    m,
		logger:     logger,
	}, nil
}

// OnTick queues the next confirmed block range, if any.
func (s *Scheduler) OnTick(ctx context.Context, height uint64) error {
	if err := s.load(); err != nil {
		return err
	}

	var latest uint64
	err := withRetry(ctx, s.logger, "latest block", s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = s.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	if latest < s.cfg.Confirmations {
		return nil
	}
	head := latest - s.cfg.Confirmations

	blocks, ok := NextRange(s.next, head, s.cfg.BatchSize)
	if !ok {
		s.logger.Debug("waiting for confirmed blocks", zap.Uint64("next", s.next), zap.Uint64("head", head))
		return nil
	}

	if s.cfg.Precheck {
		var logs []types.Log
		err := withRetry(ctx, s.logger, "filter logs", s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = s.chain.FilterLogs(ctx, blocks.From, blocks.To, s.cfg.Addresses, s.cfg.Topic0)
			return err
		})
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}
		if len(logs) == 0 {
			s.logger.Debug("no bridge logs in range", zap.Uint64("from", blocks.From), zap.Uint64("to", blocks.To))
			return s.advance(blocks)
		}
	}

	s.request++
	body, err := BuildGetLogsBody(s.request, blocks, s.cfg.Addresses, s.cfg.Topic0)
	if err != nil {
		return fmt.Errorf("build request body: %w", err)
	}
	job := model.FetchJob{
		Kind:    model.SourceProvider,
		URL:     s.cfg.ProviderURL,
		Body:    body,
		Headers: s.cfg.Headers,
	}
	if err := s.kicker.Kickoff(ctx, s.cfg.Authority, job); err != nil {
		return fmt.Errorf("kickoff: %w", err)
	}

	s.logger.Info("range queued",
		zap.Uint64("height", height),
		zap.Uint64("from", blocks.From),
		zap.Uint64("to", blocks.To),
		zap.Uint64("remote_head", latest),
	)
	return s.advance(blocks)
}

// Next returns the first block not yet queued.
func (s *Scheduler) Next() uint64 {
	return s.next
}

func (s *Scheduler) load() error {
	if s.loaded {
		return nil
	}
	s.next = s.cfg.FromBlock
	cp, ok, err := s.checkpoint.Load(s.contract())
	if err != nil {
		return err
	}
	if ok && cp.LastQueuedBlock >= s.next {
		s.next = cp.LastQueuedBlock + 1
		s.logger.Info("resume from checkpoint", zap.Uint64("last_queued", cp.LastQueuedBlock), zap.Uint64("from", s.next))
	}
	s.loaded = true
	return nil
}

func (s *Scheduler) advance(blocks BlockRange) error {
	if err := s.checkpoint.Save(blocks.To, s.contract()); err != nil {
		return err
	}
	s.next = blocks.To + 1
	s.metrics.SetCheckpoint(blocks.To)
	return nil
}

func (s *Scheduler) contract() string {
	if len(s.cfg.Addresses) == 0 {
		return ""
	}
	return s.cfg.Addresses[0].Hex()
}
