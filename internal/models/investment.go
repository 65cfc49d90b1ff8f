package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InterestType string

const (
	InterestPercent InterestType = "percent"
	InterestFixed   InterestType = "fixed"
)

type InvestmentStatus string

const (
	InvestmentRunning   InvestmentStatus = "running"
	InvestmentCompleted InvestmentStatus = "completed"
	InvestmentCancelled InvestmentStatus = "cancelled"
)

// Investment is a user's subscription to a plan. Interest is paid every
// Period, RepeatTime times in total.
type Investment struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	PlanID          string           `json:"plan_id"`
	PlanName        string           `json:"plan_name"`
	Amount          decimal.Decimal  `json:"amount"`
	Interest        decimal.Decimal  `json:"interest"`
	InterestType    InterestType     `json:"interest_type"`
	Period          time.Duration    `json:"period"`
	RepeatTime      int              `json:"repeat_time"`
	RepeatTimeCount int              `json:"repeat_time_count"`
	CapitalBack     bool             `json:"capital_back"`
	TotalPaid       decimal.Decimal  `json:"total_paid"`
	NextTime        time.Time        `json:"next_time"`
	LastTime        *time.Time       `json:"last_time,omitempty"`
	Status          InvestmentStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CycleInterest is the amount credited per payout cycle.
func (i Investment) CycleInterest() decimal.Decimal {
	if i.InterestType == InterestFixed {
		return Quantize(SymbolUSD, i.Interest)
	}
	return Quantize(SymbolUSD, i.Amount.Mul(i.Interest).Div(decimal.NewFromInt(100)))
}

func (i Investment) FinalCycle() bool { return i.RepeatTimeCount+1 >= i.RepeatTime }
