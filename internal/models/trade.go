package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeType string

const (
	TradeUp   TradeType = "Up"
	TradeDown TradeType = "Down"
)

type TradingMode string

const (
	TradingLive TradingMode = "live"
	TradingDemo TradingMode = "demo"
)

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

type Trade struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Pair        string          `json:"pair"`
	Type        TradeType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Leverage    int             `json:"leverage"`
	Duration    time.Duration   `json:"duration"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	PnL         decimal.Decimal `json:"pnl"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TradingMode TradingMode     `json:"trading_mode"`
	Status      TradeStatus     `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// DirectionSign is +1 for Up trades and -1 for Down trades.
func (t Trade) DirectionSign() decimal.Decimal {
	if t.Type == TradeDown {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// ProfitAt returns (exit - entry) * amount * leverage * sign, rounded to
// the scale of the trading symbol.
func (t Trade) ProfitAt(exit decimal.Decimal) decimal.Decimal {
	pnl := exit.Sub(t.EntryPrice).
		Mul(t.Amount).
		Mul(decimal.NewFromInt(int64(t.Leverage))).
		Mul(t.DirectionSign())
	return Quantize(TradingSymbol(t.TradingMode), pnl)
}
