package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"swapOracle/internal/ledger"
	"swapOracle/internal/model"
	"swapOracle/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	// txMu serializes batches and account writes; mu guards the maps.
	txMu sync.Mutex
	mu   sync.RWMutex

	states     map[model.Hash]model.SwapState
	records    map[model.Hash]model.SwapRecord
	swapCount  uint64
	settings   *model.Settings
	job        *model.FetchJob
	height     uint64
	identities map[model.Hash]string
	balances   map[string]uint64
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		states:     make(map[model.Hash]model.SwapState),
		records:    make(map[model.Hash]model.SwapRecord),
		identities: make(map[model.Hash]string),
		balances:   make(map[string]uint64),
	}
}

func (s *Store) Close() {}

func (s *Store) State(_ context.Context, id model.Hash) (model.SwapState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id], nil
}

func (s *Store) Record(_ context.Context, id model.Hash) (model.SwapRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *Store) SwapCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.swapCount, nil
}

func (s *Store) Settings(_ context.Context) (model.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return model.Settings{}, false, nil
	}
	return *s.settings, true, nil
}

func (s *Store) InitSettings(_ context.Context, settings model.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings != nil {
		if *s.settings == settings {
			return nil
		}
		return ledger.ErrAlreadyInitialized
	}
	copy := settings
	s.settings = &copy
	return nil
}

func (s *Store) PutJob(_ context.Context, job model.FetchJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = cloneJob(&job)
	return nil
}

func (s *Store) TakeJob(_ context.Context) (*model.FetchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.job
	s.job = nil
	return job, nil
}

func (s *Store) PeekJob(_ context.Context) (*model.FetchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneJob(s.job), nil
}

func (s *Store) ClearJob(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = nil
	return nil
}

func (s *Store) LocalHeight(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *Store) SaveLocalHeight(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = height
	return nil
}

func (s *Store) RegisterIdentity(_ context.Context, identity model.Hash, account string) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", storage.ErrInvalidInput)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity] = account
	if _, ok := s.balances[account]; !ok {
		s.balances[account] = 0
	}
	return nil
}

func (s *Store) Credit(_ context.Context, account string, amount uint64) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", storage.ErrInvalidInput)
	}
	// A batch commits absolute balances, so wait for it to finish.
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[account]
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("credit %s: balance overflow", account)
	}
	s.balances[account] = bal + amount
	return nil
}

func (s *Store) Balance(_ context.Context, account string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.balances[account]
	return bal, ok, nil
}

func (s *Store) ResolveIdentity(_ context.Context, identity model.Hash) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.identities[identity]
	return account, ok, nil
}

// Transfer moves funds outside of any batch.
func (s *Store) Transfer(ctx context.Context, from, to string, amount uint64) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.(*Tx).Transfer(ctx, from, to, amount); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Begin starts a batch. Batches are serialized until Commit or Rollback.
func (s *Store) Begin(_ context.Context) (ledger.Tx, error) {
	s.txMu.Lock()
	return &Tx{
		store:    s,
		states:   make(map[model.Hash]model.SwapState),
		records:  make(map[model.Hash]*model.SwapRecord),
		balances: make(map[string]uint64),
	}, nil
}

var errTxDone = errors.New("transaction already finished")

// Tx stages writes over the store and applies them on Commit.
type Tx struct {
	store      *Store
	states     map[model.Hash]model.SwapState
	records    map[model.Hash]*model.SwapRecord // nil marks a deletion
	balances   map[string]uint64
	countDelta uint64
	done       bool
}

var (
	_ ledger.Tx       = (*Tx)(nil)
	_ ledger.Accounts = (*Tx)(nil)
)

func (t *Tx) State(ctx context.Context, id model.Hash) (model.SwapState, error) {
	if t.done {
		return 0, errTxDone
	}
	if state, ok := t.states[id]; ok {
		return state, nil
	}
	return t.store.State(ctx, id)
}

func (t *Tx) Record(ctx context.Context, id model.Hash) (model.SwapRecord, bool, error) {
	if t.done {
		return model.SwapRecord{}, false, errTxDone
	}
	if rec, ok := t.records[id]; ok {
		if rec == nil {
			return model.SwapRecord{}, false, nil
		}
		return *rec, true, nil
	}
	return t.store.Record(ctx, id)
}

func (t *Tx) PutRecord(_ context.Context, record model.SwapRecord) error {
	if t.done {
		return errTxDone
	}
	copy := record
	t.records[record.SwapID] = &copy
	return nil
}

func (t *Tx) DeleteRecord(_ context.Context, id model.Hash) error {
	if t.done {
		return errTxDone
	}
	t.records[id] = nil
	return nil
}

func (t *Tx) SetState(_ context.Context, id model.Hash, state model.SwapState) error {
	if t.done {
		return errTxDone
	}
	t.states[id] = state
	return nil
}

func (t *Tx) IncrementSwapCount(ctx context.Context) (uint64, error) {
	if t.done {
		return 0, errTxDone
	}
	base, err := t.store.SwapCount(ctx)
	if err != nil {
		return 0, err
	}
	t.countDelta++
	return base + t.countDelta, nil
}

func (t *Tx) ResolveIdentity(ctx context.Context, identity model.Hash) (string, bool, error) {
	return t.store.ResolveIdentity(ctx, identity)
}

func (t *Tx) balance(account string) (uint64, bool) {
	if bal, ok := t.balances[account]; ok {
		return bal, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	bal, ok := t.store.balances[account]
	return bal, ok
}

func (t *Tx) Transfer(_ context.Context, from, to string, amount uint64) error {
	if t.done {
		return errTxDone
	}
	fromBal, ok := t.balance(from)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, from)
	}
	toBal, ok := t.balance(to)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, to)
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ledger.ErrInsufficientFunds, from, fromBal, amount)
	}
	if from == to {
		return nil
	}
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("transfer to %s: balance overflow", to)
	}
	t.balances[from] = fromBal - amount
	t.balances[to] = toBal + amount
	return nil
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	defer t.store.txMu.Unlock()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, state := range t.states {
		s.states[id] = state
	}
	for id, rec := range t.records {
		if rec == nil {
			delete(s.records, id)
			continue
		}
		s.records[id] = *rec
	}
	for account, bal := range t.balances {
		s.balances[account] = bal
	}
	s.swapCount += t.countDelta
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func cloneJob(job *model.FetchJob) *model.FetchJob {
	if job == nil {
		return nil
	}
	out := *job
	if job.Body != nil {
		out.Body = append([]byte(nil), job.Body...)
	}
	if job.Headers != nil {
		out.Headers = make(map[string]string, len(job.Headers))
		for k, v := range job.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}
