package services

import (
	"context"
	"strings"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ExecuteLoan struct {
	UserID         string
	Amount         decimal.Decimal
	InterestRate   decimal.Decimal
	DurationDays   int
	IdempotencyKey string
}

type ApproveLoan struct{ LoanID string }

type RejectLoan struct {
	LoanID string
	Reason string
}

type RepayLoan struct {
	LoanID         string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type LoanService struct{ Deps }

func NewLoanService(d Deps) *LoanService { return &LoanService{Deps: d} }

// ExecuteLoan files a loan request. No money moves until approval.
func (s *LoanService) ExecuteLoan(ctx context.Context, c ExecuteLoan) (models.Loan, ledger.Result, error) {
	if err := requireID("user_id", c.UserID); err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	if c.InterestRate.IsNegative() {
		return models.Loan{}, ledger.Result{}, invalid("interest_rate must be >= 0")
	}
	if c.DurationDays < 1 {
		return models.Loan{}, ledger.Result{}, invalid("duration_days must be >= 1")
	}

	now := s.now()
	loan := models.Loan{
		ID:           uuid.NewString(),
		UserID:       c.UserID,
		Amount:       models.Quantize(models.SymbolUSD, c.Amount),
		InterestRate: c.InterestRate,
		DurationDays: c.DurationDays,
		Repaid:       decimal.Zero,
		Status:       models.LoanPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	loan.TotalRepayable = models.Quantize(models.SymbolUSD,
		loan.Amount.Mul(decimal.NewFromInt(100).Add(c.InterestRate)).Div(decimal.NewFromInt(100)))

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpLoanRequest,
		AccountID:      c.UserID,
		IdempotencyKey: ledger.ClientKey(models.OpLoanRequest, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"loan_id": loan.ID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			if err := tx.SaveLoan(ctx, loan); err != nil {
				return ledger.Plan{}, err
			}
			return ledger.Plan{Event: &ledger.Event{
				Type: models.EventLoanRequested,
				Payload: map[string]any{
					"loan_id":       loan.ID,
					"amount":        loan.Amount.String(),
					"interest_rate": loan.InterestRate.String(),
					"duration_days": loan.DurationDays,
				},
			}}, nil
		},
	})
	if err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	if res.Replayed {
		loan, err = replayed(ctx, res, "loan_id", s.store().Loan)
	}
	return loan, res, err
}

// ApproveLoan disburses a pending loan and starts its repayment term.
func (s *LoanService) ApproveLoan(ctx context.Context, c ApproveLoan) (models.Loan, ledger.Result, error) {
	return s.decide(ctx, c.LoanID, models.OpLoanApprove, "loan_approve:", func(l *models.Loan, now time.Time) ledger.Plan {
		due := now.AddDate(0, 0, l.DurationDays)
		l.Status = models.LoanApproved
		l.TotalRepayable = models.Quantize(models.SymbolUSD,
			l.Amount.Mul(decimal.NewFromInt(100).Add(l.InterestRate)).Div(decimal.NewFromInt(100)))
		l.DueAt = &due
		return ledger.Plan{
			Deltas: []ledger.Delta{{AccountID: l.UserID, Symbol: models.SymbolUSD, Amount: l.Amount}},
			Event: &ledger.Event{
				Type: models.EventLoanApproved,
				Payload: map[string]any{
					"loan_id":         l.ID,
					"amount":          l.Amount.String(),
					"total_repayable": l.TotalRepayable.String(),
					"due_at":          due,
				},
			},
		}
	})
}

func (s *LoanService) RejectLoan(ctx context.Context, c RejectLoan) (models.Loan, ledger.Result, error) {
	reason := strings.TrimSpace(c.Reason)
	return s.decide(ctx, c.LoanID, models.OpLoanReject, "loan_reject:", func(l *models.Loan, _ time.Time) ledger.Plan {
		l.Status = models.LoanRejected
		l.Reason = reason
		return ledger.Plan{Event: &ledger.Event{
			Type:    models.EventLoanRejected,
			Payload: map[string]any{"loan_id": l.ID, "reason": reason},
		}}
	})
}

// decide runs an admin decision on a pending loan. Approve and reject
// lock the same account, so only one of them can win.
func (s *LoanService) decide(ctx context.Context, loanID string, kind models.OperationKind, keyPrefix string, fn func(*models.Loan, time.Time) ledger.Plan) (models.Loan, ledger.Result, error) {
	if err := requireID("loan_id", loanID); err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	pre, err := s.store().Loan(ctx, loanID)
	if err != nil {
		return models.Loan{}, ledger.Result{}, err
	}

	var out models.Loan
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           kind,
		AccountID:      pre.UserID,
		IdempotencyKey: keyPrefix + pre.ID,
		Metadata:       map[string]any{"loan_id": pre.ID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			l, err := tx.Loan(ctx, loanID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if l.Status != models.LoanPending {
				return ledger.Plan{}, badState("loan %s is %s", l.ID, l.Status)
			}
			now := s.now()
			plan := fn(&l, now)
			l.UpdatedAt = now
			if err := tx.SaveLoan(ctx, l); err != nil {
				return ledger.Plan{}, err
			}
			out = l
			return plan, nil
		},
	})
	if err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	if res.Replayed {
		out, err = s.store().Loan(ctx, pre.ID)
	}
	return out, res, err
}

// RepayLoan debits at most the outstanding amount. The loan is repaid once
// nothing is outstanding.
func (s *LoanService) RepayLoan(ctx context.Context, c RepayLoan) (models.Loan, ledger.Result, error) {
	if err := requireID("loan_id", c.LoanID); err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	pre, err := s.store().Loan(ctx, c.LoanID)
	if err != nil {
		return models.Loan{}, ledger.Result{}, err
	}

	var out models.Loan
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpLoanRepay,
		AccountID:      pre.UserID,
		IdempotencyKey: ledger.ClientKey(models.OpLoanRepay, c.IdempotencyKey, pre.UserID, pre.ID),
		Metadata:       map[string]any{"loan_id": pre.ID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			l, err := tx.Loan(ctx, c.LoanID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if l.Status != models.LoanApproved {
				return ledger.Plan{}, badState("loan %s is %s", l.ID, l.Status)
			}
			pay := models.Quantize(models.SymbolUSD, decimal.Min(c.Amount, l.Outstanding()))
			if !pay.IsPositive() {
				return ledger.Plan{}, badState("loan %s has nothing outstanding", l.ID)
			}
			l.Repaid = l.Repaid.Add(pay)
			if l.Outstanding().IsZero() {
				l.Status = models.LoanRepaid
			}
			l.UpdatedAt = s.now()
			if err := tx.SaveLoan(ctx, l); err != nil {
				return ledger.Plan{}, err
			}
			out = l
			return ledger.Plan{
				Deltas:   []ledger.Delta{{AccountID: l.UserID, Symbol: models.SymbolUSD, Amount: pay.Neg()}},
				Metadata: map[string]any{"paid": pay.String()},
				Event: &ledger.Event{
					Type: models.EventLoanRepaid,
					Payload: map[string]any{
						"loan_id":     l.ID,
						"paid":        pay.String(),
						"repaid":      l.Repaid.String(),
						"outstanding": l.Outstanding().String(),
						"status":      string(l.Status),
					},
				},
			}, nil
		},
	})
	if err != nil {
		return models.Loan{}, ledger.Result{}, err
	}
	if res.Replayed {
		out, err = s.store().Loan(ctx, pre.ID)
	}
	return out, res, err
}
