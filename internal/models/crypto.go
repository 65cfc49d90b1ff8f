package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferKind string

const (
	TransferSend    TransferKind = "send"
	TransferReceive TransferKind = "receive"
	TransferSwap    TransferKind = "swap"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// CryptoTransfer records a send, receive or swap. Pending sends hold a
// reservation: amount+fee was already debited when they were created.
type CryptoTransfer struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Kind        TransferKind    `json:"kind"`
	Token       string          `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	ToToken     string          `json:"to_token,omitempty"`
	ToAmount    decimal.Decimal `json:"to_amount"`
	Address     string          `json:"address,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Status      TransferStatus  `json:"status"`
	OperationID string          `json:"operation_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Reserved is the total debited when a send was created.
func (t CryptoTransfer) Reserved() decimal.Decimal { return t.Amount.Add(t.Fee) }
