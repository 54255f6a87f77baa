package ledger

import (
	"context"
	"errors"

	"swapOracle/internal/model"
)

var (
	// ErrNotInitialized is returned when the bridge settings have not been written.
	ErrNotInitialized = errors.New("bridge settings not initialized")
	// ErrAlreadyInitialized is returned when settings exist with different values.
	ErrAlreadyInitialized = errors.New("bridge settings already initialized")
	// ErrInsufficientFunds is returned by Accounts.Transfer when the source cannot pay.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownAccount is returned by Accounts.Transfer for an account it does not know.
	ErrUnknownAccount = errors.New("unknown account")
)

// Reader reads swap registry state.
type Reader interface {
	// State returns model.SwapInvalid for ids never seen.
	State(ctx context.Context, id model.Hash) (model.SwapState, error)
	Record(ctx context.Context, id model.Hash) (model.SwapRecord, bool, error)
}

// Tx is one atomic batch of registry writes. Reads observe earlier writes of
// the same Tx.
type Tx interface {
	Reader
	PutRecord(ctx context.Context, record model.SwapRecord) error
	DeleteRecord(ctx context.Context, id model.Hash) error
	SetState(ctx context.Context, id model.Hash, state model.SwapState) error
	IncrementSwapCount(ctx context.Context) (uint64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store persists the swap registry and the bridge settings.
type Store interface {
	Reader
	SwapCount(ctx context.Context) (uint64, error)
	Settings(ctx context.Context) (model.Settings, bool, error)
	// InitSettings writes settings once. Identical values are accepted again;
	// different values fail with ErrAlreadyInitialized.
	InitSettings(ctx context.Context, settings model.Settings) error
	Begin(ctx context.Context) (Tx, error)
}

// Accounts is the identity and balance layer the ledger pays out through.
// A Tx that also implements Accounts is used for transfers when the ledger
// has no Accounts of its own, so payouts commit with the batch.
type Accounts interface {
	// ResolveIdentity maps an identity hash to a local account.
	ResolveIdentity(ctx context.Context, identity model.Hash) (string, bool, error)
	// Transfer moves amount from one account to another. Business failures
	// wrap ErrInsufficientFunds or ErrUnknownAccount.
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// Notifier receives notifications after a batch commits.
type Notifier interface {
	Publish(ctx context.Context, notifications []model.Notification) error
}
