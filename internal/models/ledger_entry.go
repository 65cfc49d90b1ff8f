package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one immutable balance change. Entries are append-only.
type LedgerEntry struct {
	ID           string          `json:"id"`
	OperationID  string          `json:"operation_id"`
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Seq          int             `json:"seq"`
	CreatedAt    time.Time       `json:"created_at"`
}
