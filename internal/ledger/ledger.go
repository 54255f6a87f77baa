package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
)

// Outcome describes what happened to one event of a batch.
type Outcome struct {
	Index   int
	Kind    model.EventKind
	SwapID  model.Hash
	Applied bool
	Reason  string
}

// ApplyResult summarizes an applied batch.
type ApplyResult struct {
	Applied       int
	Skipped       int
	Outcomes      []Outcome
	Notifications []model.Notification
}

// Ledger applies decoded swap events to the registry.
type Ledger struct {
	store    Store
	accounts Accounts
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New builds a Ledger. accounts may be nil when the store's transactions
// implement Accounts; notifier may be nil.
func New(store Store, accounts Accounts, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:    store,
		accounts: accounts,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Apply runs events in order inside one store transaction at local height.
// Events whose preconditions fail are skipped; store failures roll back the
// whole batch.
func (l *Ledger) Apply(ctx context.Context, height uint64, events []model.SwapEvent) (ApplyResult, error) {
	settings, ok, err := l.store.Settings(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return ApplyResult{}, ErrNotInitialized
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("begin batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				l.logger.Warn("rollback batch failed", zap.Error(err))
			}
		}
	}()

	accounts := l.accounts
	if accounts == nil {
		txAccounts, ok := tx.(Accounts)
		if !ok {
			return ApplyResult{}, errors.New("no accounts configured for transfers")
		}
		accounts = txAccounts
	}

	b := &batch{
		tx:       tx,
		accounts: accounts,
		settings: settings,
		height:   height,
	}

	result := ApplyResult{Outcomes: make([]Outcome, 0, len(events))}
	for i, event := range events {
		reason, err := b.apply(ctx, event)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply event %d (%s %s): %w", i, event.Kind, event.SwapID.Hex(), err)
		}

		outcome := Outcome{Index: i, Kind: event.Kind, SwapID: event.SwapID, Applied: reason == "", Reason: reason}
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Applied {
			result.Applied++
		} else {
			result.Skipped++
			l.logger.Info("skip event",
				zap.Uint64("height", height),
				zap.Int("index", i),
				zap.Stringer("kind", event.Kind),
				zap.String("swap_id", event.SwapID.Hex()),
				zap.String("reason", reason),
			)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("commit batch: %w", err)
	}
	committed = true
	result.Notifications = b.notifications

	for _, outcome := range result.Outcomes {
		status := "applied"
		if !outcome.Applied {
			status = "skipped"
		}
		l.metrics.Transition(outcome.Kind.String(), status)
	}
	if b.opened > 0 {
		if count, err := l.store.SwapCount(ctx); err == nil {
			l.metrics.SetSwapCount(count)
		}
	}

	if l.notifier != nil && len(result.Notifications) > 0 {
		if err := l.notifier.Publish(ctx, result.Notifications); err != nil {
			l.logger.Warn("publish notifications failed", zap.Error(err), zap.Int("notifications", len(result.Notifications)))
		}
	}

	l.logger.Info("batch applied",
		zap.Uint64("height", height),
		zap.Int("events", len(events)),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// State returns the lifecycle state of a swap id.
func (l *Ledger) State(ctx context.Context, id model.Hash) (model.SwapState, error) {
	return l.store.State(ctx, id)
}

// Record returns the stored Open record of a swap still in flight.
func (l *Ledger) Record(ctx context.Context, id model.Hash) (model.SwapRecord, bool, error) {
	return l.store.Record(ctx, id)
}

// SwapCount returns the number of swap ids that ever reached open.
func (l *Ledger) SwapCount(ctx context.Context) (uint64, error) {
	return l.store.SwapCount(ctx)
}

// IsClaimable reports whether id is open and its expiry has not been reached
// at currentHeight.
func (l *Ledger) IsClaimable(ctx context.Context, id model.Hash, currentHeight uint64) (bool, error) {
	state, err := l.store.State(ctx, id)
	if err != nil {
		return false, err
	}
	if state != model.SwapOpen {
		return false, nil
	}
	record, ok, err := l.store.Record(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return currentHeight < record.ExpiresAt(), nil
}

type batch struct {
	tx            Tx
	accounts      Accounts
	settings      model.Settings
	height        uint64
	opened        int
	notifications []model.Notification
}

// apply returns a non-empty skip reason when the event is not applicable.
func (b *batch) apply(ctx context.Context, event model.SwapEvent) (string, error) {
	state, err := b.tx.State(ctx, event.SwapID)
	if err != nil {
		return "", fmt.Errorf("read state: %w", err)
	}
	record, exists, err := b.tx.Record(ctx, event.SwapID)
	if err != nil {
		return "", fmt.Errorf("read record: %w", err)
	}

	switch event.Kind {
	case model.EventOpen:
		if state != model.SwapInvalid || exists {
			return fmt.Sprintf("swap already %s", state), nil
		}
		return "", b.open(ctx, event)
	case model.EventClaimed:
		if state != model.SwapOpen || !exists {
			return fmt.Sprintf("claim for swap in state %s", state), nil
		}
		return b.claim(ctx, event, record)
	case model.EventRefunded:
		if state != model.SwapOpen || !exists {
			return fmt.Sprintf("refund for swap in state %s", state), nil
		}
		return "", b.refund(ctx, event, record)
	default:
		return fmt.Sprintf("unsupported event kind %s", event.Kind), nil
	}
}

func (b *batch) open(ctx context.Context, event model.SwapEvent) error {
	record := event.Record(b.height)
	if err := b.tx.PutRecord(ctx, record); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	if err := b.tx.SetState(ctx, event.SwapID, model.SwapOpen); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	if _, err := b.tx.IncrementSwapCount(ctx); err != nil {
		return fmt.Errorf("increment swap count: %w", err)
	}
	b.opened++

	rnh := record.RandomNumberHash
	b.notifications = append(b.notifications, model.Notification{
		Kind:              model.NotifyOpened,
		Height:            b.height,
		SwapID:            record.SwapID,
		ReceiverIdentity:  record.ReceiverIdentity,
		ContractAddress:   record.ContractAddress,
		SenderAddress:     record.SenderAddress,
		CreationHeight:    record.LocalCreationHeight,
		ExpireHeightDelta: record.ExpireHeightDelta,
		RandomNumberHash:  &rnh,
		OutAmount:         record.OutAmount,
	})
	return nil
}

// claim pays the stored amount out of custody. The claim event's own payload
// never determines the amount or the receiver.
func (b *batch) claim(ctx context.Context, event model.SwapEvent, record model.SwapRecord) (string, error) {
	account, ok, err := b.accounts.ResolveIdentity(ctx, record.ReceiverIdentity)
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	if !ok {
		return fmt.Sprintf("receiver identity %s not registered", record.ReceiverIdentity.Hex()), nil
	}

	if err := b.accounts.Transfer(ctx, b.settings.CustodyAccount, account, record.OutAmount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUnknownAccount) {
			return fmt.Sprintf("transfer failed: %v", err), nil
		}
		return "", fmt.Errorf("transfer: %w", err)
	}

	if err := b.tx.DeleteRecord(ctx, record.SwapID); err != nil {
		return "", fmt.Errorf("delete record: %w", err)
	}
	if err := b.tx.SetState(ctx, record.SwapID, model.SwapCompleted); err != nil {
		return "", fmt.Errorf("set state: %w", err)
	}

	secret := event.RandomNumber
	b.notifications = append(b.notifications,
		model.Notification{
			Kind:             model.NotifyClaimed,
			Height:           b.height,
			SwapID:           record.SwapID,
			ReceiverIdentity: record.ReceiverIdentity,
			ContractAddress:  record.ContractAddress,
			SenderAddress:    record.SenderAddress,
			RandomNumber:     &secret,
		},
		model.Notification{
			Kind:             model.NotifyTransferredToIdentity,
			Height:           b.height,
			SwapID:           record.SwapID,
			ReceiverIdentity: record.ReceiverIdentity,
			OutAmount:        record.OutAmount,
			From:             b.settings.CustodyAccount,
			To:               account,
		},
	)
	return "", nil
}

func (b *batch) refund(ctx context.Context, event model.SwapEvent, record model.SwapRecord) error {
	if err := b.tx.DeleteRecord(ctx, record.SwapID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := b.tx.SetState(ctx, record.SwapID, model.SwapExpired); err != nil {
		return fmt.Errorf("set state: %w", err)
	}

	rnh := event.RandomNumberHash
	b.notifications = append(b.notifications, model.Notification{
		Kind:             model.NotifyRefunded,
		Height:           b.height,
		SwapID:           record.SwapID,
		ReceiverIdentity: record.ReceiverIdentity,
		ContractAddress:  record.ContractAddress,
		SenderAddress:    record.SenderAddress,
		RandomNumberHash: &rnh,
	})
	return nil
}
