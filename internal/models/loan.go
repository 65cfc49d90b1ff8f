package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanPending  LoanStatus = "pending"
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
	LoanRepaid   LoanStatus = "repaid"
)

type Loan struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DurationDays   int             `json:"duration_days"`
	TotalRepayable decimal.Decimal `json:"total_repayable"`
	Repaid         decimal.Decimal `json:"repaid"`
	Status         LoanStatus      `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	DueAt          *time.Time      `json:"due_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (l Loan) Outstanding() decimal.Decimal {
	out := l.TotalRepayable.Sub(l.Repaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}
