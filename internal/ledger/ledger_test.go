package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapOracle/internal/ledger"
	"swapOracle/internal/model"
	"swapOracle/internal/storage/memory"
)

const (
	authority = "root"
	custody   = "custody"
	receiver  = "alice"
)

type recordingNotifier struct {
	published []model.Notification
	err       error
}

func (n *recordingNotifier) Publish(_ context.Context, notifications []model.Notification) error {
	n.published = append(n.published, notifications...)
	return n.err
}

func (n *recordingNotifier) kinds() []model.NotificationKind {
	out := make([]model.NotificationKind, 0, len(n.published))
	for _, item := range n.published {
		out = append(out, item.Kind)
	}
	return out
}

var aliceIdentity = model.ContentHash([]byte("alice"))

func setup(t *testing.T, custodyFunds uint64) (*ledger.Ledger, *memory.Store, *recordingNotifier) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.InitSettings(ctx, model.Settings{Authority: authority, CustodyAccount: custody}))
	require.NoError(t, store.Credit(ctx, custody, custodyFunds))
	require.NoError(t, store.RegisterIdentity(ctx, aliceIdentity, receiver))

	notifier := &recordingNotifier{}
	return ledger.New(store, nil, notifier, nil, nil), store, notifier
}

func swapID(n byte) model.Hash {
	return model.ContentHash([]byte{n})
}

func openEvent(n byte, amount uint64, delta uint32) model.SwapEvent {
	return model.SwapEvent{
		Kind:              model.EventOpen,
		ContractAddress:   "0x2Dc6Af9155Ec0285d3Db407c17273Db9f9dc84b6",
		RemoteEventHeight: 100,
		ExpireHeightDelta: delta,
		RandomNumberHash:  model.ContentHash([]byte("rnh")),
		SwapID:            swapID(n),
		SenderAddress:     "0x2222222222222222222222222222222222222222",
		SenderChain:       model.ChainETHMain,
		ReceiverIdentity:  aliceIdentity,
		ReceiverChain:     model.ChainPRA,
		OutAmount:         amount,
	}
}

func claimEvent(n byte) model.SwapEvent {
	return model.SwapEvent{
		Kind:             model.EventClaimed,
		SwapID:           swapID(n),
		RandomNumber:     model.ContentHash([]byte("secret")),
		ReceiverIdentity: model.ContentHash([]byte("mallory")),
	}
}

func refundEvent(n byte) model.SwapEvent {
	return model.SwapEvent{Kind: model.EventRefunded, SwapID: swapID(n)}
}

func balance(t *testing.T, store *memory.Store, account string) uint64 {
	t.Helper()
	bal, _, err := store.Balance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func TestApplyOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _, notifier := setup(t, 0)

	res, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 5, 20)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	res, err = l.Apply(ctx, 11, []model.SwapEvent{openEvent(1, 5, 20), openEvent(1, 5, 20)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, res.Skipped)

	count, err := l.SwapCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, []model.NotificationKind{model.NotifyOpened}, notifier.kinds())

	rec, ok, err := l.Record(ctx, swapID(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(10), rec.LocalCreationHeight)
	assert.Equal(t, model.EventOpen, rec.EventType)
}

func TestApplyOpenTwiceInOneBatch(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t, 0)

	res, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 5, 20), openEvent(1, 5, 20)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Outcomes[0].Applied)
	assert.False(t, res.Outcomes[1].Applied)

	count, err := l.SwapCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestApplyClaimTransfersStoredAmount(t *testing.T) {
	ctx := context.Background()
	l, store, notifier := setup(t, 1_000)

	_, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 120, 20)})
	require.NoError(t, err)

	claim := claimEvent(1)
	claim.OutAmount = 999
	res, err := l.Apply(ctx, 12, []model.SwapEvent{claim})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	assert.Equal(t, uint64(120), balance(t, store, receiver))
	assert.Equal(t, uint64(880), balance(t, store, custody))

	state, err := l.State(ctx, swapID(1))
	require.NoError(t, err)
	assert.Equal(t, model.SwapCompleted, state)
	_, ok, err := l.Record(ctx, swapID(1))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []model.NotificationKind{model.NotifyOpened, model.NotifyClaimed, model.NotifyTransferredToIdentity}, notifier.kinds())
	transferred := notifier.published[2]
	assert.Equal(t, uint64(120), transferred.OutAmount)
	assert.Equal(t, custody, transferred.From)
	assert.Equal(t, receiver, transferred.To)
	assert.Equal(t, aliceIdentity, transferred.ReceiverIdentity)
}

func TestApplyRefundExpiresWithoutTransfer(t *testing.T) {
	ctx := context.Background()
	l, store, notifier := setup(t, 1_000)

	_, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 120, 20), refundEvent(1)})
	require.NoError(t, err)

	state, err := l.State(ctx, swapID(1))
	require.NoError(t, err)
	assert.Equal(t, model.SwapExpired, state)
	_, ok, err := l.Record(ctx, swapID(1))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, uint64(1_000), balance(t, store, custody))
	assert.Equal(t, []model.NotificationKind{model.NotifyOpened, model.NotifyRefunded}, notifier.kinds())
}

func TestNoResurrectionAfterTerminal(t *testing.T) {
	ctx := context.Background()
	l, store, _ := setup(t, 1_000)

	_, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 100, 20), claimEvent(1)})
	require.NoError(t, err)
	_, err = l.Apply(ctx, 11, []model.SwapEvent{openEvent(2, 100, 20), refundEvent(2)})
	require.NoError(t, err)

	res, err := l.Apply(ctx, 12, []model.SwapEvent{
		openEvent(1, 100, 20), claimEvent(1), refundEvent(1),
		openEvent(2, 100, 20), claimEvent(2), refundEvent(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 6, res.Skipped)

	state, err := l.State(ctx, swapID(1))
	require.NoError(t, err)
	assert.Equal(t, model.SwapCompleted, state)
	state, err = l.State(ctx, swapID(2))
	require.NoError(t, err)
	assert.Equal(t, model.SwapExpired, state)

	for _, id := range []model.Hash{swapID(1), swapID(2)} {
		_, ok, err := l.Record(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	count, err := l.SwapCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, uint64(100), balance(t, store, receiver))
}

func TestClaimOrRefundWithoutOpenIsSkipped(t *testing.T) {
	ctx := context.Background()
	l, _, notifier := setup(t, 1_000)

	res, err := l.Apply(ctx, 10, []model.SwapEvent{claimEvent(7), refundEvent(8)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, notifier.published)

	state, err := l.State(ctx, swapID(7))
	require.NoError(t, err)
	assert.Equal(t, model.SwapInvalid, state)
}

func TestClaimTransferFailureLeavesSwapOpen(t *testing.T) {
	ctx := context.Background()
	l, store, _ := setup(t, 50)

	res, err := l.Apply(ctx, 10, []model.SwapEvent{
		openEvent(1, 10, 20),
		openEvent(2, 100, 20),
		claimEvent(1),
		claimEvent(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, res.Outcomes[3].Applied)

	state, err := l.State(ctx, swapID(1))
	require.NoError(t, err)
	assert.Equal(t, model.SwapCompleted, state)

	state, err = l.State(ctx, swapID(2))
	require.NoError(t, err)
	assert.Equal(t, model.SwapOpen, state)
	_, ok, err := l.Record(ctx, swapID(2))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, uint64(10), balance(t, store, receiver))
	assert.Equal(t, uint64(40), balance(t, store, custody))
}

func TestClaimUnknownIdentityIsSkipped(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t, 1_000)

	open := openEvent(1, 10, 20)
	open.ReceiverIdentity = model.ContentHash([]byte("nobody"))
	res, err := l.Apply(ctx, 10, []model.SwapEvent{open, claimEvent(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Contains(t, res.Outcomes[1].Reason, "not registered")

	state, err := l.State(ctx, swapID(1))
	require.NoError(t, err)
	assert.Equal(t, model.SwapOpen, state)
}

func TestIsClaimableBoundary(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t, 0)

	_, err := l.Apply(ctx, 100, []model.SwapEvent{openEvent(1, 10, 20)})
	require.NoError(t, err)

	ok, err := l.IsClaimable(ctx, swapID(1), 119)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.IsClaimable(ctx, swapID(1), 120)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.IsClaimable(ctx, swapID(9), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyRequiresSettings(t *testing.T) {
	l := ledger.New(memory.NewStore(), nil, nil, nil, nil)
	_, err := l.Apply(context.Background(), 1, []model.SwapEvent{openEvent(1, 1, 1)})
	assert.ErrorIs(t, err, ledger.ErrNotInitialized)
}

type failingStore struct {
	*memory.Store
}

type failingTx struct {
	ledger.Tx
}

var errDisk = errors.New("disk full")

func (s failingStore) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{Tx: tx}, nil
}

func (failingTx) SetState(context.Context, model.Hash, model.SwapState) error {
	return errDisk
}

func TestStoreErrorRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	_, store, notifier := setup(t, 0)

	accounts := store
	l := ledger.New(failingStore{Store: store}, accounts, notifier, nil, nil)

	_, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 10, 20)})
	assert.ErrorIs(t, err, errDisk)

	_, ok, err := store.Record(ctx, swapID(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, notifier.published)
}

func TestNotifierFailureDoesNotFailBatch(t *testing.T) {
	ctx := context.Background()
	l, _, notifier := setup(t, 0)
	notifier.err = errors.New("sink down")

	res, err := l.Apply(ctx, 10, []model.SwapEvent{openEvent(1, 10, 20)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Len(t, res.Notifications, 1)
}
