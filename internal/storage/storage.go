package storage

import (
	"context"
	"errors"

	"swapOracle/internal/ledger"
	"swapOracle/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// JobSlot is the single-slot fetch queue. PutJob overwrites any queued job;
// TakeJob returns the queued job, if any, and empties the slot.
type JobSlot interface {
	PutJob(ctx context.Context, job model.FetchJob) error
	TakeJob(ctx context.Context) (*model.FetchJob, error)
	PeekJob(ctx context.Context) (*model.FetchJob, error)
	ClearJob(ctx context.Context) error
}

// HeightStore persists the local height advanced once per round.
type HeightStore interface {
	LocalHeight(ctx context.Context) (uint64, error)
	SaveLocalHeight(ctx context.Context, height uint64) error
}

// AccountRegistry manages identities and balances behind ledger.Accounts.
type AccountRegistry interface {
	ledger.Accounts
	RegisterIdentity(ctx context.Context, identity model.Hash, account string) error
	Credit(ctx context.Context, account string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, bool, error)
}

// Store is the full persistence surface of the oracle.
type Store interface {
	ledger.Store
	JobSlot
	HeightStore
	AccountRegistry
	Close()
}
