package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapOracle/internal/ledger"
	"swapOracle/internal/model"
	"swapOracle/internal/storage"
)

func TestStoreJobSlotOverwriteAndTake(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.PutJob(ctx, model.FetchJob{Kind: model.SourceExplorer, URL: "http://first"}))
	require.NoError(t, s.PutJob(ctx, model.FetchJob{Kind: model.SourceProvider, URL: "http://second", Body: []byte("{}")}))

	peek, err := s.PeekJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, peek)
	assert.Equal(t, "http://second", peek.URL)

	job, err := s.TakeJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "http://second", job.URL)

	job, err = s.TakeJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	err = s.PutJob(ctx, model.FetchJob{URL: "http://x"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStoreInitSettingsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, ok, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	settings := model.Settings{Authority: "root", CustodyAccount: "custody"}
	require.NoError(t, s.InitSettings(ctx, settings))
	require.NoError(t, s.InitSettings(ctx, settings))

	err = s.InitSettings(ctx, model.Settings{Authority: "other", CustodyAccount: "custody"})
	assert.ErrorIs(t, err, ledger.ErrAlreadyInitialized)

	got, ok, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, settings, got)
}

func TestTxStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := model.ContentHash([]byte("swap"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutRecord(ctx, model.SwapRecord{SwapID: id, OutAmount: 5}))
	require.NoError(t, tx.SetState(ctx, id, model.SwapOpen))
	count, err := tx.IncrementSwapCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	state, err := tx.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SwapOpen, state)

	state, err = s.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SwapInvalid, state)

	require.NoError(t, tx.Commit(ctx))

	state, err = s.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SwapOpen, state)
	rec, ok, err := s.Record(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), rec.OutAmount)
	total, err := s.SwapCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
}

func TestTxRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := model.ContentHash([]byte("swap"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetState(ctx, id, model.SwapOpen))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx))

	state, err := s.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SwapInvalid, state)

	// The batch lock was released.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

func TestTransferBalances(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	bob := model.ContentHash([]byte("bob"))

	require.NoError(t, s.Credit(ctx, "custody", 100))
	require.NoError(t, s.RegisterIdentity(ctx, bob, "bob"))

	account, ok, err := s.ResolveIdentity(ctx, bob)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bob", account)

	require.NoError(t, s.Transfer(ctx, "custody", "bob", 40))
	err = s.Transfer(ctx, "custody", "bob", 61)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	err = s.Transfer(ctx, "custody", "carol", 1)
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)

	bal, ok, err := s.Balance(ctx, "custody")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(60), bal)
	bal, _, err = s.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal)
}

func TestCreditDuringBatchIsKept(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, "custody", 100))
	require.NoError(t, s.Credit(ctx, "bob", 0))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.(*Tx).Transfer(ctx, "custody", "bob", 30))

	done := make(chan error, 1)
	go func() { done <- s.Credit(ctx, "custody", 5) }()

	select {
	case err := <-done:
		t.Fatalf("credit finished while a batch was open: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, <-done)

	bal, _, err := s.Balance(ctx, "custody")
	require.NoError(t, err)
	assert.Equal(t, uint64(75), bal)
	bal, _, err = s.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)
}
