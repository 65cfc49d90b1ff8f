package services

import (
	"errors"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTrade(t *testing.T, f *fixture, svc *TradeService, mode models.TradingMode, typ models.TradeType) models.Trade {
	t.Helper()
	tr, _, err := svc.ExecuteTrade(f.ctx, ExecuteTrade{
		UserID: "u1", Pair: "btc/usd", Type: typ, Amount: dec("100"), Leverage: 1,
		Duration: time.Minute, EntryPrice: dec("100"), TradingMode: mode,
	})
	require.NoError(t, err)
	return tr
}

func TestTrade_RoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		exit     string
		balance  string
		pnl      string
		realized string
	}{
		{"full win", "110", "2000", "1000", "1000"},
		{"full loss", "90", "0", "-1000", "-1000"},
		{"loss clamped to balance", "80", "0", "-2000", "-1000"},
		{"flat", "100", "1000", "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "u1")
			f.seed("u1", "USD", "1000")
			svc := NewTradeService(f.deps())

			tr := openTrade(t, f, svc, models.TradingLive, models.TradeUp)
			assert.Equal(t, "1000", f.balance("u1", "USD"), "open does not move money")
			assert.Equal(t, models.TradeOpen, tr.Status)
			assert.Equal(t, tr.OpenedAt.Add(time.Minute), tr.ExpiresAt)

			closed, res, err := svc.CloseTrade(f.ctx, CloseTrade{TradeID: tr.ID, ExitPrice: dec(tc.exit)})
			require.NoError(t, err)
			assert.Equal(t, models.TradeClosed, closed.Status)
			assert.Equal(t, tc.pnl, closed.PnL.String())
			assert.Equal(t, tc.realized, closed.RealizedPnL.String())
			assert.Equal(t, tc.balance, f.balance("u1", "USD"))
			if tc.realized == "0" {
				assert.Empty(t, res.Operation.Entries)
			}
		})
	}
}

func TestTrade_DownProfitsWhenPriceFalls(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewTradeService(f.deps())

	tr := openTrade(t, f, svc, models.TradingLive, models.TradeDown)
	_, _, err := svc.CloseTrade(f.ctx, CloseTrade{TradeID: tr.ID, ExitPrice: dec("95")})
	require.NoError(t, err)
	assert.Equal(t, "1500", f.balance("u1", "USD"))
}

func TestTrade_DemoModeUsesDemoBalance(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "DEMO_USD", "1000")
	svc := NewTradeService(f.deps())

	_, _, err := svc.ExecuteTrade(f.ctx, ExecuteTrade{
		UserID: "u1", Pair: "ETH/USD", Type: models.TradeUp, Amount: dec("100"), Leverage: 1,
		Duration: time.Minute, EntryPrice: dec("100"), TradingMode: models.TradingLive,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance, "live trade needs USD")

	tr := openTrade(t, f, svc, models.TradingDemo, models.TradeUp)
	_, _, err = svc.CloseTrade(f.ctx, CloseTrade{TradeID: tr.ID, ExitPrice: dec("101")})
	require.NoError(t, err)
	assert.Equal(t, "1100", f.balance("u1", "DEMO_USD"))
	assert.Equal(t, "0", f.balance("u1", "USD"))
}

func TestTrade_CloseTwiceReplays(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewTradeService(f.deps())
	tr := openTrade(t, f, svc, models.TradingLive, models.TradeUp)

	_, first, err := svc.CloseTrade(f.ctx, CloseTrade{TradeID: tr.ID, ExitPrice: dec("110")})
	require.NoError(t, err)
	again, second, err := svc.CloseTrade(f.ctx, CloseTrade{TradeID: tr.ID, ExitPrice: dec("120")})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Operation.ID, second.Operation.ID)
	assert.Equal(t, "110", again.ExitPrice.String())
	assert.Equal(t, "2000", f.balance("u1", "USD"))
	assert.Len(t, f.eventsOf(models.EventTradeClosed), 1)
}

func TestTrade_ConcurrentClosePaysOnce(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewTradeService(f.deps())
	tr := openTrade(t, f, svc, models.TradingLive, models.TradeUp)

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, _, err := svc.CloseTrade(f.ctx, CloseTrade{TradeID: tr.ID, ExitPrice: dec("110")})
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			// a racing close either replays or sees the trade closed
			assert.True(t, errors.Is(err, ErrInvalidState) || errors.Is(err, ledger.ErrConflict), err)
		}
	}
	assert.Equal(t, "2000", f.balance("u1", "USD"))
}

func TestTrade_Validation(t *testing.T) {
	f := newFixture(t, "u1")
	svc := NewTradeService(f.deps())
	base := ExecuteTrade{
		UserID: "u1", Pair: "BTC/USD", Type: models.TradeUp, Amount: dec("1"), Leverage: 1,
		Duration: time.Minute, EntryPrice: dec("1"), TradingMode: models.TradingLive,
	}
	mutate := []func(*ExecuteTrade){
		func(c *ExecuteTrade) { c.Type = "Sideways" },
		func(c *ExecuteTrade) { c.Leverage = 0 },
		func(c *ExecuteTrade) { c.Amount = dec("-1") },
		func(c *ExecuteTrade) { c.Duration = 0 },
		func(c *ExecuteTrade) { c.TradingMode = "paper" },
		func(c *ExecuteTrade) { c.EntryPrice = dec("0") },
	}
	for _, m := range mutate {
		c := base
		m(&c)
		_, _, err := svc.ExecuteTrade(f.ctx, c)
		assert.ErrorIs(t, err, ErrValidation)
	}

	_, _, err := svc.CloseTrade(f.ctx, CloseTrade{TradeID: "missing", ExitPrice: dec("1")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrade_ExecuteIdempotencyKey(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewTradeService(f.deps())
	cmd := ExecuteTrade{
		UserID: "u1", Pair: "BTC/USD", Type: models.TradeUp, Amount: dec("100"), Leverage: 2,
		Duration: time.Minute, EntryPrice: dec("100"), TradingMode: models.TradingLive, IdempotencyKey: "k-1",
	}
	a, _, err := svc.ExecuteTrade(f.ctx, cmd)
	require.NoError(t, err)
	b, res, err := svc.ExecuteTrade(f.ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, a.ID, b.ID)

	list, err := svc.Trades(f.ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTrade_IdempotencyKeyIsPerUserAndCommand(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.seed("alice", "USD", "1000")
	f.seed("bob", "USD", "1000")
	f.seed("bob", "BTC", "1")
	trades := NewTradeService(f.deps())
	open := func(user string) ExecuteTrade {
		return ExecuteTrade{
			UserID: user, Pair: "BTC/USD", Type: models.TradeUp, Amount: dec("100"), Leverage: 1,
			Duration: time.Minute, EntryPrice: dec("100"), TradingMode: models.TradingLive, IdempotencyKey: "1",
		}
	}

	a, _, err := trades.ExecuteTrade(f.ctx, open("alice"))
	require.NoError(t, err)
	b, res, err := trades.ExecuteTrade(f.ctx, open("bob"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "bob", b.UserID)
	assert.NotContains(t, res.Balances, "alice")

	list, err := trades.Trades(f.ctx, "bob", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// the same key on another command is a new request
	swap, res, err := NewCryptoService(f.deps(), f.users, decimal.Zero).SwapCrypto(f.ctx, SwapCrypto{
		UserID: "bob", FromToken: "BTC", FromAmount: dec("1"), ToToken: "USDT", ToAmount: dec("60000"), IdempotencyKey: "1",
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.OpCryptoSwap, res.Operation.Kind)
	assert.Equal(t, "bob", swap.UserID)
	assert.Equal(t, "0", f.balance("bob", "BTC"))
	assert.Equal(t, "60000", f.balance("bob", "USDT"))
}
