package models

import "time"

type EventType string

const (
	EventBalanceAdjusted      EventType = "balance_adjusted"
	EventLedgerUpdated        EventType = "ledger_updated"
	EventTradeOpened          EventType = "trade_opened"
	EventTradeClosed          EventType = "trade_closed"
	EventInvestmentStarted    EventType = "investment_started"
	EventInvestmentPayout     EventType = "investment_payout"
	EventInvestmentCancelled  EventType = "investment_cancelled"
	EventCryptoSent           EventType = "crypto_sent"
	EventCryptoSendCompleted  EventType = "crypto_send_completed"
	EventCryptoSendFailed     EventType = "crypto_send_failed"
	EventCryptoReceived       EventType = "crypto_received"
	EventCryptoSwapped        EventType = "crypto_swapped"
	EventCopyTradeStarted     EventType = "copy_trade_started"
	EventCopyTradeCycleClosed EventType = "copy_trade_cycle_closed"
	EventCopyTradeStopped     EventType = "copy_trade_stopped"
	EventLoanRequested        EventType = "loan_requested"
	EventLoanApproved         EventType = "loan_approved"
	EventLoanRejected         EventType = "loan_rejected"
	EventLoanRepaid           EventType = "loan_repaid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxDead      OutboxStatus = "dead"
)

// OutboxEvent is written in the same transaction as the operation it
// describes and drained by the dispatcher afterwards.
type OutboxEvent struct {
	ID          string         `json:"id"`
	OperationID string         `json:"operation_id"`
	EventType   EventType      `json:"event_type"`
	UserID      string         `json:"user_id"`
	Payload     map[string]any `json:"payload"`
	Status      OutboxStatus   `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	LockedUntil *time.Time     `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}
