package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// setupEngine creates an engine over a fresh in-memory store with the
// given accounts.
func setupEngine(t *testing.T, opts Options, accounts ...string) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	for _, id := range accounts {
		_, err := store.CreateAccount(context.Background(), id)
		require.NoError(t, err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, log, opts), store
}

func seed(t *testing.T, e *Engine, account, symbol, amount string) {
	t.Helper()
	_, err := e.Credit(context.Background(), account, symbol, d(amount))
	require.NoError(t, err)
}

func balance(t *testing.T, e *Engine, account, symbol string) decimal.Decimal {
	t.Helper()
	b, err := e.Balance(context.Background(), account, symbol)
	require.NoError(t, err)
	return b
}

func TestBalance_UnknownSymbolIsZero(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")

	b, err := e.Balance(context.Background(), "alice", "DOGE")

	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestBalance_UnknownAccount(t *testing.T) {
	e, _ := setupEngine(t, Options{})

	_, err := e.Balance(context.Background(), "ghost", "USD")

	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCreditAndDebit(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	ctx := context.Background()

	res, err := e.Credit(ctx, "alice", "btc", d("1.5"))
	require.NoError(t, err)
	assert.True(t, d("1.5").Equal(res.Balance("alice", "BTC")))
	assert.Equal(t, models.OpApplied, res.Operation.Status)
	require.Len(t, res.Operation.Entries, 1)
	assert.Equal(t, "BTC", res.Operation.Entries[0].Symbol)

	res, err = e.Debit(ctx, "alice", "BTC", d("0.5"))
	require.NoError(t, err)
	assert.True(t, d("1").Equal(res.Balance("alice", "BTC")))
	assert.True(t, d("1").Equal(balance(t, e, "alice", "BTC")))
}

func TestCreditDebit_RejectNonPositive(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	ctx := context.Background()

	_, err := e.Credit(ctx, "alice", "USD", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.Debit(ctx, "alice", "USD", d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	// rounds to zero at fiat precision
	_, err = e.Credit(ctx, "alice", "USD", d("0.001"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCredit_QuantizesToSymbolScale(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	ctx := context.Background()

	_, err := e.Credit(ctx, "alice", "USD", d("10.129"))
	require.NoError(t, err)
	_, err = e.Credit(ctx, "alice", "BTC", d("0.123456789"))
	require.NoError(t, err)

	assert.Equal(t, "10.13", balance(t, e, "alice", "USD").String())
	assert.Equal(t, "0.12345679", balance(t, e, "alice", "BTC").String())
}

func TestDebit_InsufficientBalance(t *testing.T) {
	e, store := setupEngine(t, Options{}, "alice")
	seed(t, e, "alice", "BTC", "1")

	_, err := e.Debit(context.Background(), "alice", "BTC", d("2"))

	require.ErrorIs(t, err, ErrInsufficientBalance)
	var ib *InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "alice", ib.AccountID)
	assert.Equal(t, "BTC", ib.Symbol)
	assert.True(t, d("2").Equal(ib.Required))
	assert.Equal(t, "insufficient BTC balance", err.Error())
	assert.True(t, d("1").Equal(balance(t, e, "alice", "BTC")))

	entries, err := store.Entries(context.Background(), "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the seed credit is recorded")
}

func TestCredit_UnknownAccount(t *testing.T) {
	e, _ := setupEngine(t, Options{})

	_, err := e.Credit(context.Background(), "ghost", "USD", d("1"))

	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestTransfer(t *testing.T) {
	t.Run("moves funds and conserves the symbol", func(t *testing.T) {
		e, _ := setupEngine(t, Options{}, "alice", "bob")
		seed(t, e, "alice", "USDT", "100")

		res, err := e.Transfer(context.Background(), "alice", "bob", "USDT", d("40"))

		require.NoError(t, err)
		sum := decimal.Zero
		for _, en := range res.Operation.Entries {
			sum = sum.Add(en.Delta)
		}
		assert.True(t, sum.IsZero())
		assert.True(t, d("60").Equal(balance(t, e, "alice", "USDT")))
		assert.True(t, d("40").Equal(balance(t, e, "bob", "USDT")))
	})

	t.Run("neither leg applies on insufficient funds", func(t *testing.T) {
		e, _ := setupEngine(t, Options{}, "alice", "bob")
		seed(t, e, "alice", "USDT", "10")

		_, err := e.Transfer(context.Background(), "alice", "bob", "USDT", d("40"))

		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.True(t, d("10").Equal(balance(t, e, "alice", "USDT")))
		assert.True(t, balance(t, e, "bob", "USDT").IsZero())
	})

	t.Run("same account", func(t *testing.T) {
		e, _ := setupEngine(t, Options{}, "alice")

		_, err := e.Transfer(context.Background(), "alice", "alice", "USDT", d("1"))

		assert.ErrorIs(t, err, ErrSameAccount)
	})
}

func TestApplyBatch_Swap(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	seed(t, e, "alice", "BTC", "1")
	ctx := context.Background()

	_, err := e.ApplyBatch(ctx, "", []Delta{
		{AccountID: "alice", Symbol: "BTC", Amount: d("-1")},
		{AccountID: "alice", Symbol: "USDT", Amount: d("60000")},
	})
	require.NoError(t, err)
	assert.True(t, balance(t, e, "alice", "BTC").IsZero())
	assert.True(t, d("60000").Equal(balance(t, e, "alice", "USDT")))

	_, err = e.ApplyBatch(ctx, "", []Delta{
		{AccountID: "alice", Symbol: "USDT", Amount: d("-60000")},
		{AccountID: "alice", Symbol: "BTC", Amount: d("1")},
	})
	require.NoError(t, err)
	assert.True(t, d("1").Equal(balance(t, e, "alice", "BTC")))
	assert.True(t, balance(t, e, "alice", "USDT").IsZero())
}

func TestApplyBatch_NetsDeltasBeforeCheck(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	seed(t, e, "alice", "USD", "10")

	// -15 alone would go negative, the batch nets to -5
	res, err := e.ApplyBatch(context.Background(), "", []Delta{
		{AccountID: "alice", Symbol: "USD", Amount: d("-15")},
		{AccountID: "alice", Symbol: "USD", Amount: d("10")},
	})

	require.NoError(t, err)
	assert.True(t, d("5").Equal(balance(t, e, "alice", "USD")))
	require.Len(t, res.Operation.Entries, 2)
	assert.True(t, d("-5").Equal(res.Operation.Entries[0].BalanceAfter))
	assert.True(t, d("5").Equal(res.Operation.Entries[1].BalanceAfter))
	assert.Equal(t, 1, res.Operation.Entries[1].Seq)
}

func TestApplyBatch_AllOrNothing(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice", "bob")
	seed(t, e, "alice", "USD", "100")
	seed(t, e, "bob", "ETH", "1")

	_, err := e.ApplyBatch(context.Background(), "", []Delta{
		{AccountID: "alice", Symbol: "USD", Amount: d("-50")},
		{AccountID: "bob", Symbol: "USD", Amount: d("50")},
		{AccountID: "bob", Symbol: "ETH", Amount: d("-2")},
	})

	var ib *InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "bob", ib.AccountID)
	assert.Equal(t, "ETH", ib.Symbol)
	assert.True(t, d("100").Equal(balance(t, e, "alice", "USD")))
	assert.True(t, balance(t, e, "bob", "USD").IsZero())
	assert.True(t, d("1").Equal(balance(t, e, "bob", "ETH")))
}

func TestApplyBatch_Validation(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	ctx := context.Background()

	_, err := e.ApplyBatch(ctx, "", nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = e.ApplyBatch(ctx, "", []Delta{{AccountID: "alice", Symbol: "USD", Amount: decimal.Zero}})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyBatch_IdempotentByOperationID(t *testing.T) {
	e, store := setupEngine(t, Options{}, "alice")
	ctx := context.Background()
	batch := []Delta{{AccountID: "alice", Symbol: "USD", Amount: d("25")}}

	first, err := e.ApplyBatch(ctx, "op-1", batch)
	require.NoError(t, err)
	second, err := e.ApplyBatch(ctx, "op-1", batch)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Operation.ID, second.Operation.ID)
	assert.True(t, d("25").Equal(balance(t, e, "alice", "USD")))
	assert.True(t, d("25").Equal(second.Balance("alice", "USD")))

	op, err := store.Operation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.OpBatch, op.Kind)
}

func TestSettle_UnlockedAccountRejected(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice", "bob")

	_, err := e.Settle(context.Background(), Settlement{
		Kind:      models.OpBatch,
		AccountID: "alice",
		Plan:      Deltas(Delta{AccountID: "bob", Symbol: "USD", Amount: d("1")}),
	})

	assert.ErrorIs(t, err, ErrAccountNotLocked)
}

func TestSettle_WritesOutboxEventWithOperation(t *testing.T) {
	e, store := setupEngine(t, Options{}, "alice")
	outbox := memory.NewOutbox(store)
	ctx := context.Background()

	res, err := e.Settle(ctx, Settlement{
		Kind:      models.OpBalanceAdjustment,
		AccountID: "alice",
		Plan: func(context.Context, repository.Tx) (Plan, error) {
			return Plan{
				Deltas: []Delta{{AccountID: "alice", Symbol: "USD", Amount: d("5")}},
				Event:  &Event{Type: models.EventBalanceAdjusted, Payload: map[string]any{"reason": "bonus"}},
			}, nil
		},
	})
	require.NoError(t, err)

	events, err := outbox.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.Operation.ID, events[0].OperationID)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "bonus", events[0].Payload["reason"])
	assert.Equal(t, res.Operation.ID, events[0].Payload["operation_id"])
}

func TestSettle_PlanErrorLeavesNoTrace(t *testing.T) {
	e, store := setupEngine(t, Options{}, "alice")
	seed(t, e, "alice", "USD", "10")
	outbox := memory.NewOutbox(store)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := e.Settle(ctx, Settlement{
		Kind:        models.OpTradeClose,
		AccountID:   "alice",
		OperationID: "op-fail",
		Plan: func(ctx context.Context, tx repository.Tx) (Plan, error) {
			require.NoError(t, tx.SaveTrade(ctx, models.Trade{ID: "t1", UserID: "alice"}))
			return Plan{}, boom
		},
	})

	require.ErrorIs(t, err, boom)
	_, err = store.Trade(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	events, err := outbox.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events)

	op, err := store.Operation(ctx, "op-fail")
	require.NoError(t, err)
	assert.Equal(t, models.OpFailed, op.Status)
	assert.Equal(t, "boom", op.Error)
	assert.Empty(t, op.Entries)
}

func TestSettle_IdempotencyKeyReplays(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice")
	ctx := context.Background()
	runs := 0
	s := Settlement{
		Kind:           models.OpCredit,
		AccountID:      "alice",
		IdempotencyKey: "req-42",
		Plan: func(context.Context, repository.Tx) (Plan, error) {
			runs++
			return Plan{Deltas: []Delta{{AccountID: "alice", Symbol: "USD", Amount: d("7")}}}, nil
		},
	}

	_, err := e.Settle(ctx, s)
	require.NoError(t, err)
	res, err := e.Settle(ctx, s)
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, 1, runs)
	assert.True(t, d("7").Equal(balance(t, e, "alice", "USD")))
}

func TestSettle_IdempotencyKeyMismatch(t *testing.T) {
	e, _ := setupEngine(t, Options{}, "alice", "bob")
	ctx := context.Background()
	credit := func(account string, kind models.OperationKind) Settlement {
		return Settlement{
			Kind:           kind,
			AccountID:      account,
			IdempotencyKey: "shared",
			Plan:           Deltas(Delta{AccountID: account, Symbol: "USD", Amount: d("5")}),
		}
	}

	_, err := e.Settle(ctx, credit("alice", models.OpCredit))
	require.NoError(t, err)

	t.Run("other account", func(t *testing.T) {
		_, err := e.Settle(ctx, credit("bob", models.OpCredit))
		assert.ErrorIs(t, err, ErrIdempotencyMismatch)
		assert.True(t, balance(t, e, "bob", "USD").IsZero())
	})

	t.Run("other kind", func(t *testing.T) {
		_, err := e.Settle(ctx, credit("alice", models.OpBalanceAdjustment))
		assert.ErrorIs(t, err, ErrIdempotencyMismatch)
		assert.True(t, d("5").Equal(balance(t, e, "alice", "USD")))
	})
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "", ClientKey(models.OpTradeOpen, "", "u1"))
	assert.Equal(t, "trade_open:u1:k", ClientKey(models.OpTradeOpen, "k", "u1"))
	assert.NotEqual(t, ClientKey(models.OpTradeOpen, "k", "u1"), ClientKey(models.OpTradeOpen, "k", "u2"))
	assert.NotEqual(t, ClientKey(models.OpTradeOpen, "k", "u1"), ClientKey(models.OpCryptoSwap, "k", "u1"))
}

func TestSettle_LockTimeoutSurfacesConflict(t *testing.T) {
	e, store := setupEngine(t, Options{MaxRetries: 2, LockTimeout: 20 * time.Millisecond, Backoff: time.Millisecond}, "alice")
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.WithTx(ctx, func(tx repository.Tx) error {
			if err := tx.LockAccounts(ctx, "alice"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := e.Credit(ctx, "alice", "USD", d("1"))
	close(release)
	<-done

	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, balance(t, e, "alice", "USD").IsZero())
	entries, err := store.Entries(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSettle_RetriesUntilLockFrees(t *testing.T) {
	e, store := setupEngine(t, Options{MaxRetries: 5, LockTimeout: 30 * time.Millisecond, Backoff: 10 * time.Millisecond}, "alice")
	ctx := context.Background()

	held := make(chan struct{})
	go func() {
		_ = store.WithTx(ctx, func(tx repository.Tx) error {
			if err := tx.LockAccounts(ctx, "alice"); err != nil {
				return err
			}
			close(held)
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}()
	<-held

	_, err := e.Credit(ctx, "alice", "USD", d("1"))

	require.NoError(t, err)
	assert.True(t, d("1").Equal(balance(t, e, "alice", "USD")))
}

func TestConcurrentCredits_NoLostUpdates(t *testing.T) {
	e, _ := setupEngine(t, Options{LockTimeout: 30 * time.Second}, "alice")
	seed(t, e, "alice", "USD", "50")

	const n = 1000
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Credit(context.Background(), "alice", "USD", decimal.NewFromInt(1)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("credit failed: %v", err)
	}
	assert.True(t, decimal.NewFromInt(50+n).Equal(balance(t, e, "alice", "USD")))
}

func TestConcurrentDebits_NeverOverdraw(t *testing.T) {
	e, _ := setupEngine(t, Options{LockTimeout: 30 * time.Second}, "alice")
	seed(t, e, "alice", "USD", "100")

	const n = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Debit(context.Background(), "alice", "USD", decimal.NewFromInt(10))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.True(t, balance(t, e, "alice", "USD").IsZero())
}

func TestConcurrentTransfers_OppositeDirectionsDoNotDeadlock(t *testing.T) {
	e, _ := setupEngine(t, Options{LockTimeout: 30 * time.Second}, "alice", "bob")
	seed(t, e, "alice", "USD", "1000")
	seed(t, e, "bob", "USD", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Transfer(context.Background(), "alice", "bob", "USD", decimal.NewFromInt(1))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.Transfer(context.Background(), "bob", "alice", "USD", decimal.NewFromInt(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := balance(t, e, "alice", "USD").Add(balance(t, e, "bob", "USD"))
	assert.True(t, decimal.NewFromInt(2000).Equal(total))
}
