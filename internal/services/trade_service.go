package services

import (
	"context"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ExecuteTrade struct {
	UserID         string
	Pair           string
	Type           models.TradeType
	Amount         decimal.Decimal
	Leverage       int
	Duration       time.Duration
	EntryPrice     decimal.Decimal
	TradingMode    models.TradingMode
	IdempotencyKey string
}

func (c ExecuteTrade) validate() error {
	if err := requireID("user_id", c.UserID); err != nil {
		return err
	}
	if err := requireID("pair", c.Pair); err != nil {
		return err
	}
	if c.Type != models.TradeUp && c.Type != models.TradeDown {
		return invalid("type must be Up or Down")
	}
	if c.TradingMode != models.TradingLive && c.TradingMode != models.TradingDemo {
		return invalid("trading_mode must be live or demo")
	}
	if c.Leverage < 1 {
		return invalid("leverage must be >= 1")
	}
	if c.Duration <= 0 {
		return invalid("duration must be > 0")
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	return requirePositive("entry_price", c.EntryPrice)
}

type CloseTrade struct {
	TradeID   string
	ExitPrice decimal.Decimal
}

type TradeService struct{ Deps }

func NewTradeService(d Deps) *TradeService { return &TradeService{Deps: d} }

// ExecuteTrade opens a position. The stake is checked against the
// trading balance but not debited; only the close moves money.
func (s *TradeService) ExecuteTrade(ctx context.Context, c ExecuteTrade) (models.Trade, ledger.Result, error) {
	if err := c.validate(); err != nil {
		return models.Trade{}, ledger.Result{}, err
	}
	now := s.now()
	trade := models.Trade{
		ID:          uuid.NewString(),
		UserID:      c.UserID,
		Pair:        models.NormalizeSymbol(c.Pair),
		Type:        c.Type,
		Amount:      c.Amount,
		Leverage:    c.Leverage,
		Duration:    c.Duration,
		EntryPrice:  c.EntryPrice,
		TradingMode: c.TradingMode,
		Status:      models.TradeOpen,
		OpenedAt:    now,
		ExpiresAt:   now.Add(c.Duration),
	}
	symbol := models.TradingSymbol(c.TradingMode)

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpTradeOpen,
		AccountID:      c.UserID,
		IdempotencyKey: ledger.ClientKey(models.OpTradeOpen, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"trade_id": trade.ID, "pair": trade.Pair, "trading_mode": string(c.TradingMode)},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			bal, err := ledger.BalanceOf(ctx, tx, c.UserID, symbol)
			if err != nil {
				return ledger.Plan{}, err
			}
			if bal.LessThan(c.Amount) {
				return ledger.Plan{}, insufficient(c.UserID, symbol, bal, c.Amount)
			}
			if err := tx.SaveTrade(ctx, trade); err != nil {
				return ledger.Plan{}, err
			}
			return ledger.Plan{Event: &ledger.Event{
				Type: models.EventTradeOpened,
				Payload: map[string]any{
					"trade_id":     trade.ID,
					"pair":         trade.Pair,
					"type":         string(trade.Type),
					"amount":       trade.Amount.String(),
					"leverage":     trade.Leverage,
					"entry_price":  trade.EntryPrice.String(),
					"trading_mode": string(trade.TradingMode),
				},
			}}, nil
		},
	})
	if err != nil {
		return models.Trade{}, ledger.Result{}, err
	}
	if res.Replayed {
		trade, err = replayed(ctx, res, "trade_id", s.store().Trade)
	}
	return trade, res, err
}

// CloseTrade settles pnl = (exit - entry) * amount * leverage * sign on the
// trading balance. Losses larger than the balance are clamped to it.
// Closing the same trade twice replays the first close.
func (s *TradeService) CloseTrade(ctx context.Context, c CloseTrade) (models.Trade, ledger.Result, error) {
	if err := requireID("trade_id", c.TradeID); err != nil {
		return models.Trade{}, ledger.Result{}, err
	}
	if err := requirePositive("exit_price", c.ExitPrice); err != nil {
		return models.Trade{}, ledger.Result{}, err
	}
	pre, err := s.store().Trade(ctx, c.TradeID)
	if err != nil {
		return models.Trade{}, ledger.Result{}, err
	}

	var closed models.Trade
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpTradeClose,
		AccountID:      pre.UserID,
		IdempotencyKey: "trade_close:" + pre.ID,
		Metadata:       map[string]any{"trade_id": pre.ID, "exit_price": c.ExitPrice.String()},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			t, err := tx.Trade(ctx, c.TradeID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if t.Status != models.TradeOpen {
				return ledger.Plan{}, badState("trade %s is %s", t.ID, t.Status)
			}
			symbol := models.TradingSymbol(t.TradingMode)
			pnl := t.ProfitAt(c.ExitPrice)
			realized := pnl
			if pnl.IsNegative() {
				bal, err := ledger.BalanceOf(ctx, tx, t.UserID, symbol)
				if err != nil {
					return ledger.Plan{}, err
				}
				realized = clampLoss(pnl, bal)
			}

			now := s.now()
			t.ExitPrice = c.ExitPrice
			t.PnL = pnl
			t.RealizedPnL = realized
			t.Status = models.TradeClosed
			t.ClosedAt = &now
			if err := tx.SaveTrade(ctx, t); err != nil {
				return ledger.Plan{}, err
			}
			closed = t

			plan := ledger.Plan{Event: &ledger.Event{
				Type:   models.EventTradeClosed,
				UserID: t.UserID,
				Payload: map[string]any{
					"trade_id":     t.ID,
					"pair":         t.Pair,
					"exit_price":   c.ExitPrice.String(),
					"pnl":          pnl.String(),
					"realized_pnl": realized.String(),
					"trading_mode": string(t.TradingMode),
				},
			}}
			if !realized.IsZero() {
				plan.Deltas = []ledger.Delta{{AccountID: t.UserID, Symbol: symbol, Amount: realized}}
			}
			return plan, nil
		},
	})
	if err != nil {
		return models.Trade{}, ledger.Result{}, err
	}
	if res.Replayed {
		closed, err = s.store().Trade(ctx, pre.ID)
	}
	return closed, res, err
}

// Trades lists a user's trades, newest first.
func (s *TradeService) Trades(ctx context.Context, userID string, limit, offset int) ([]models.Trade, error) {
	return s.store().TradesByUser(ctx, userID, limit, offset)
}
