package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CopyTradeStatus string

const (
	CopyTradeActive  CopyTradeStatus = "active"
	CopyTradeStopped CopyTradeStatus = "stopped"
)

// CopyTrade mirrors a master trader's results onto a copier. Principal is
// not locked; only cycle results move balance.
type CopyTrade struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	TraderID       string          `json:"trader_id"`
	Amount         decimal.Decimal `json:"amount"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	CurrentProfit  decimal.Decimal `json:"current_profit"`
	CurrentLoss    decimal.Decimal `json:"current_loss"`
	Commission     decimal.Decimal `json:"commission"`
	Cycles         int             `json:"cycles"`
	Status         CopyTradeStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
