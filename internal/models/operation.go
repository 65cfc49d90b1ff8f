package models

import "time"

type OperationKind string

const (
	OpCredit              OperationKind = "credit"
	OpDebit               OperationKind = "debit"
	OpTransfer            OperationKind = "transfer"
	OpBatch               OperationKind = "batch"
	OpBalanceAdjustment   OperationKind = "balance_adjustment"
	OpTradeOpen           OperationKind = "trade_open"
	OpTradeClose          OperationKind = "trade_close"
	OpInvestmentExecute   OperationKind = "investment_execute"
	OpInvestmentPayout    OperationKind = "investment_payout"
	OpInvestmentCancel    OperationKind = "investment_cancel"
	OpCryptoSend          OperationKind = "crypto_send"
	OpCryptoSendConfirm   OperationKind = "crypto_send_confirm"
	OpCryptoReceive       OperationKind = "crypto_receive"
	OpCryptoSwap          OperationKind = "crypto_swap"
	OpCopyTradeStart      OperationKind = "copy_trade_start"
	OpCopyTradeCommission OperationKind = "copy_trade_commission"
	OpCopyTradeStop       OperationKind = "copy_trade_stop"
	OpLoanRequest         OperationKind = "loan_request"
	OpLoanApprove         OperationKind = "loan_approve"
	OpLoanReject          OperationKind = "loan_reject"
	OpLoanRepay           OperationKind = "loan_repay"
)

type OperationStatus string

const (
	OpPending OperationStatus = "pending"
	OpApplied OperationStatus = "applied"
	OpFailed  OperationStatus = "failed"
)

// SettlementOperation groups the ledger entries of one business
// transaction. It is applied atomically together with its entries.
type SettlementOperation struct {
	ID             string          `json:"id"`
	Kind           OperationKind   `json:"kind"`
	AccountID      string          `json:"account_id"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Status         OperationStatus `json:"status"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Error          string          `json:"error,omitempty"`
	Entries        []LedgerEntry   `json:"entries,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AppliedAt      *time.Time      `json:"applied_at,omitempty"`
}
