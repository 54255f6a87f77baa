package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"swapOracle/internal/ledger"
	"swapOracle/internal/model"
	"swapOracle/internal/storage"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides Postgres persistence for the swap registry, the fetch job
// slot, the local height and the account layer.
type Store struct {
	pool *Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) State(ctx context.Context, id model.Hash) (model.SwapState, error) {
	return loadState(ctx, s.pool, id)
}

func (s *Store) Record(ctx context.Context, id model.Hash) (model.SwapRecord, bool, error) {
	return loadRecord(ctx, s.pool, id)
}

func (s *Store) SwapCount(ctx context.Context) (uint64, error) {
	return loadCounter(ctx, s.pool, "swap_count")
}

func (s *Store) Settings(ctx context.Context) (model.Settings, bool, error) {
	var settings model.Settings
	row := s.pool.QueryRow(ctx, `SELECT authority, custody_account FROM oracle_settings WHERE id = 1`)
	if err := row.Scan(&settings.Authority, &settings.CustodyAccount); err != nil {
		if isNotFoundError(err) {
			return model.Settings{}, false, nil
		}
		return model.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	return settings, true, nil
}

func (s *Store) InitSettings(ctx context.Context, settings model.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO oracle_settings (id, authority, custody_account)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, settings.Authority, settings.CustodyAccount); err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}

	stored, _, err := s.Settings(ctx)
	if err != nil {
		return err
	}
	if stored != settings {
		return ledger.ErrAlreadyInitialized
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// PutJob replaces the queued job.
func (s *Store) PutJob(ctx context.Context, job model.FetchJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	headers, err := json.Marshal(job.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO fetch_job (id, kind, url, body, headers, queued_at)
		VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			url = EXCLUDED.url,
			body = EXCLUDED.body,
			headers = EXCLUDED.headers,
			queued_at = now()
	`, int16(job.Kind), job.URL, job.Body, headers)
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// TakeJob removes and returns the queued job in one statement.
func (s *Store) TakeJob(ctx context.Context) (*model.FetchJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `DELETE FROM fetch_job WHERE id = 1 RETURNING kind, url, body, headers`))
}

func (s *Store) PeekJob(ctx context.Context) (*model.FetchJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT kind, url, body, headers FROM fetch_job WHERE id = 1`))
}

func (s *Store) ClearJob(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM fetch_job`); err != nil {
		return fmt.Errorf("clear job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*model.FetchJob, error) {
	var (
		kind    int16
		job     model.FetchJob
		headers []byte
	)
	if err := row.Scan(&kind, &job.URL, &job.Body, &headers); err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Kind = model.SourceKind(kind)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &job.Headers); err != nil {
			return nil, fmt.Errorf("decode job headers: %w", err)
		}
	}
	return &job, nil
}

func (s *Store) LocalHeight(ctx context.Context) (uint64, error) {
	return loadCounter(ctx, s.pool, "local_height")
}

func (s *Store) SaveLocalHeight(ctx context.Context, height uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oracle_counters (name, value, updated_at)
		VALUES ('local_height', $1, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, int64(height))
	if err != nil {
		return fmt.Errorf("save local height: %w", err)
	}
	return nil
}

// RegisterIdentity binds identity to account, creating the account if needed.
func (s *Store) RegisterIdentity(ctx context.Context, identity model.Hash, account string) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", storage.ErrInvalidInput)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO balances (account) VALUES ($1) ON CONFLICT (account) DO NOTHING`, account); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO identities (identity, account) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET account = EXCLUDED.account
	`, identity.Bytes(), account); err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, account)
		}
		return fmt.Errorf("register identity: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Credit(ctx context.Context, account string, amount uint64) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", storage.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balances (account, amount, updated_at)
		VALUES ($1, CAST($2::text AS NUMERIC), now())
		ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
	`, account, amountValue(amount).String())
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, account string) (uint64, bool, error) {
	return loadBalance(ctx, s.pool, account, false)
}

func (s *Store) ResolveIdentity(ctx context.Context, identity model.Hash) (string, bool, error) {
	return resolveIdentity(ctx, s.pool, identity)
}

// Transfer moves funds in its own transaction.
func (s *Store) Transfer(ctx context.Context, from, to string, amount uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := transfer(ctx, tx, from, to, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Tx is one ledger batch inside a Postgres transaction. It also pays out
// through the balances table so transfers commit with the batch.
type Tx struct {
	tx pgx.Tx
}

var (
	_ ledger.Tx       = (*Tx)(nil)
	_ ledger.Accounts = (*Tx)(nil)
)

func (t *Tx) State(ctx context.Context, id model.Hash) (model.SwapState, error) {
	return loadState(ctx, t.tx, id)
}

func (t *Tx) Record(ctx context.Context, id model.Hash) (model.SwapRecord, bool, error) {
	return loadRecord(ctx, t.tx, id)
}

func (t *Tx) PutRecord(ctx context.Context, r model.SwapRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO swap_records (
			swap_id, contract_address, local_creation_height, remote_event_height, expire_height_delta,
			random_number_hash, sender_address, sender_chain, receiver_identity, receiver_chain,
			recipient_address, out_amount, event_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CAST($12::text AS NUMERIC), $13)
		ON CONFLICT (swap_id) DO UPDATE SET
			contract_address = EXCLUDED.contract_address,
			local_creation_height = EXCLUDED.local_creation_height,
			remote_event_height = EXCLUDED.remote_event_height,
			expire_height_delta = EXCLUDED.expire_height_delta,
			random_number_hash = EXCLUDED.random_number_hash,
			sender_address = EXCLUDED.sender_address,
			sender_chain = EXCLUDED.sender_chain,
			receiver_identity = EXCLUDED.receiver_identity,
			receiver_chain = EXCLUDED.receiver_chain,
			recipient_address = EXCLUDED.recipient_address,
			out_amount = EXCLUDED.out_amount,
			event_type = EXCLUDED.event_type
	`,
		r.SwapID.Bytes(),
		r.ContractAddress,
		int64(r.LocalCreationHeight),
		int64(r.RemoteEventHeight),
		int64(r.ExpireHeightDelta),
		r.RandomNumberHash.Bytes(),
		r.SenderAddress,
		int16(r.SenderChain),
		r.ReceiverIdentity.Bytes(),
		int16(r.ReceiverChain),
		r.RecipientAddress.Bytes(),
		amountValue(r.OutAmount).String(),
		int16(r.EventType),
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (t *Tx) DeleteRecord(ctx context.Context, id model.Hash) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM swap_records WHERE swap_id = $1`, id.Bytes()); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (t *Tx) SetState(ctx context.Context, id model.Hash, state model.SwapState) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO swap_states (swap_id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (swap_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`, id.Bytes(), int16(state))
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (t *Tx) IncrementSwapCount(ctx context.Context) (uint64, error) {
	var value int64
	row := t.tx.QueryRow(ctx, `
		UPDATE oracle_counters SET value = value + 1, updated_at = now()
		WHERE name = 'swap_count'
		RETURNING value
	`)
	if err := row.Scan(&value); err != nil {
		return 0, fmt.Errorf("increment swap count: %w", err)
	}
	return uint64(value), nil
}

func (t *Tx) ResolveIdentity(ctx context.Context, identity model.Hash) (string, bool, error) {
	return resolveIdentity(ctx, t.tx, identity)
}

func (t *Tx) Transfer(ctx context.Context, from, to string, amount uint64) error {
	return transfer(ctx, t.tx, from, to, amount)
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func loadState(ctx context.Context, q querier, id model.Hash) (model.SwapState, error) {
	var state int16
	row := q.QueryRow(ctx, `SELECT state FROM swap_states WHERE swap_id = $1`, id.Bytes())
	if err := row.Scan(&state); err != nil {
		if isNotFoundError(err) {
			return model.SwapInvalid, nil
		}
		return model.SwapInvalid, fmt.Errorf("load state: %w", err)
	}
	return model.SwapState(state), nil
}

func loadRecord(ctx context.Context, q querier, id model.Hash) (model.SwapRecord, bool, error) {
	var (
		r                                     model.SwapRecord
		swapID, rnh, identity, recipient      []byte
		localHeight, remoteHeight, expire     int64
		senderChain, receiverChain, eventType int16
		amount                                string
	)
	row := q.QueryRow(ctx, `
		SELECT swap_id, contract_address, local_creation_height, remote_event_height, expire_height_delta,
			random_number_hash, sender_address, sender_chain, receiver_identity, receiver_chain,
			recipient_address, out_amount::text, event_type
		FROM swap_records WHERE swap_id = $1
	`, id.Bytes())
	err := row.Scan(
		&swapID, &r.ContractAddress, &localHeight, &remoteHeight, &expire,
		&rnh, &r.SenderAddress, &senderChain, &identity, &receiverChain,
		&recipient, &amount, &eventType,
	)
	if err != nil {
		if isNotFoundError(err) {
			return model.SwapRecord{}, false, nil
		}
		return model.SwapRecord{}, false, fmt.Errorf("load record: %w", err)
	}

	out, err := parseAmount(amount)
	if err != nil {
		return model.SwapRecord{}, false, err
	}
	r.SwapID = common.BytesToHash(swapID)
	r.LocalCreationHeight = uint64(localHeight)
	r.RemoteEventHeight = uint64(remoteHeight)
	r.ExpireHeightDelta = uint32(expire)
	r.RandomNumberHash = common.BytesToHash(rnh)
	r.SenderChain = model.Chain(senderChain)
	r.ReceiverIdentity = common.BytesToHash(identity)
	r.ReceiverChain = model.Chain(receiverChain)
	r.RecipientAddress = common.BytesToHash(recipient)
	r.OutAmount = out
	r.EventType = model.EventKind(eventType)
	return r, true, nil
}

func loadCounter(ctx context.Context, q querier, name string) (uint64, error) {
	var value int64
	if err := q.QueryRow(ctx, `SELECT value FROM oracle_counters WHERE name = $1`, name).Scan(&value); err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("load %s: %w", name, err)
	}
	return uint64(value), nil
}

func resolveIdentity(ctx context.Context, q querier, identity model.Hash) (string, bool, error) {
	var account string
	if err := q.QueryRow(ctx, `SELECT account FROM identities WHERE identity = $1`, identity.Bytes()).Scan(&account); err != nil {
		if isNotFoundError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve identity: %w", err)
	}
	return account, true, nil
}

func loadBalance(ctx context.Context, q querier, account string, forUpdate bool) (uint64, bool, error) {
	query := `SELECT amount::text FROM balances WHERE account = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var amount string
	if err := q.QueryRow(ctx, query, account).Scan(&amount); err != nil {
		if isNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load balance %s: %w", account, err)
	}
	bal, err := parseAmount(amount)
	if err != nil {
		return 0, false, err
	}
	return bal, true, nil
}

// transfer checks both accounts before writing so a business failure never
// aborts the surrounding transaction.
func transfer(ctx context.Context, q querier, from, to string, amount uint64) error {
	fromBal, ok, err := loadBalance(ctx, q, from, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, from)
	}
	_, ok, err = loadBalance(ctx, q, to, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, to)
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ledger.ErrInsufficientFunds, from, fromBal, amount)
	}
	if from == to || amount == 0 {
		return nil
	}

	value := amountValue(amount).String()
	if _, err := q.Exec(ctx, `UPDATE balances SET amount = amount - CAST($2::text AS NUMERIC), updated_at = now() WHERE account = $1`, from, value); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if _, err := q.Exec(ctx, `UPDATE balances SET amount = amount + CAST($2::text AS NUMERIC), updated_at = now() WHERE account = $1`, to, value); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

func amountValue(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	b := d.BigInt()
	if b.Sign() < 0 || !b.IsUint64() {
		return 0, fmt.Errorf("amount %s out of range", s)
	}
	return b.Uint64(), nil
}
