package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ids ...string) *Store {
	t.Helper()
	s := NewStore()
	for _, id := range ids {
		_, err := s.CreateAccount(context.Background(), id)
		require.NoError(t, err)
	}
	return s
}

func TestWithTx_RollbackLeavesNoTrace(t *testing.T) {
	s := newStore(t, "a")
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.LockAccounts(ctx, "a"))
		require.NoError(t, tx.SetBalance(ctx, "a", "USD", decimal.NewFromInt(5)))
		require.NoError(t, tx.SaveTrade(ctx, models.Trade{ID: "t1", UserID: "a"}))
		staged, err := tx.Balances(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "5", staged["USD"].String(), "tx reads its own writes")
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := s.Balances(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, b)
	_, err = s.Trade(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLockAccounts(t *testing.T) {
	s := newStore(t, "a", "b")
	ctx := context.Background()

	t.Run("unknown account", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx repository.Tx) error { return tx.LockAccounts(ctx, "a", "zz") })
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("set balance needs the lock", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.SetBalance(ctx, "b", "USD", decimal.NewFromInt(1))
		})
		assert.Error(t, err)
	})

	t.Run("waiter honours context", func(t *testing.T) {
		held := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = s.WithTx(ctx, func(tx repository.Tx) error {
				_ = tx.LockAccounts(ctx, "a")
				close(held)
				<-release
				return nil
			})
		}()
		<-held
		wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := s.WithTx(wctx, func(tx repository.Tx) error { return tx.LockAccounts(wctx, "b", "a") })
		assert.ErrorIs(t, err, repository.ErrLockTimeout)
		close(release)

		// b was released along with the failed tx
		err = s.WithTx(ctx, func(tx repository.Tx) error { return tx.LockAccounts(ctx, "b") })
		assert.NoError(t, err)
	})
}

func TestCommit_DuplicateKey(t *testing.T) {
	s := newStore(t, "a")
	ctx := context.Background()
	key := "k"
	op := func(id string) models.SettlementOperation {
		return models.SettlementOperation{ID: id, Kind: models.OpCredit, AccountID: "a", IdempotencyKey: &key, Status: models.OpApplied}
	}
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error { return tx.CreateOperation(ctx, op("1")) }))
	err := s.WithTx(ctx, func(tx repository.Tx) error { return tx.CreateOperation(ctx, op("2")) })
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	got, err := s.OperationByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)

	// a late failure record never overwrites an applied operation
	require.NoError(t, s.RecordFailure(ctx, models.SettlementOperation{ID: "1", Status: models.OpFailed}))
	got, err = s.Operation(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.OpApplied, got.Status)
}
