package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ExecuteInvestment struct {
	UserID         string
	PlanID         string
	PlanName       string
	Amount         decimal.Decimal
	Interest       decimal.Decimal
	InterestType   models.InterestType
	Period         time.Duration
	RepeatTime     int
	CapitalBack    bool
	IdempotencyKey string
}

func (c ExecuteInvestment) validate() error {
	if err := requireID("user_id", c.UserID); err != nil {
		return err
	}
	if err := requireID("plan_id", c.PlanID); err != nil {
		return err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	if c.Interest.IsNegative() {
		return invalid("interest must be >= 0")
	}
	if c.InterestType != models.InterestPercent && c.InterestType != models.InterestFixed {
		return invalid("interest_type must be percent or fixed")
	}
	if c.Period <= 0 {
		return invalid("period must be > 0")
	}
	if c.RepeatTime < 1 {
		return invalid("repeat_time must be >= 1")
	}
	return nil
}

type Payout struct {
	InvestmentID string
	// Now overrides the service clock when set.
	Now time.Time
}

type CancelInvestment struct {
	InvestmentID string
}

type InvestmentService struct{ Deps }

func NewInvestmentService(d Deps) *InvestmentService { return &InvestmentService{Deps: d} }

// ExecuteInvestment debits the principal and starts the payout schedule.
func (s *InvestmentService) ExecuteInvestment(ctx context.Context, c ExecuteInvestment) (models.Investment, ledger.Result, error) {
	if err := c.validate(); err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	now := s.now()
	inv := models.Investment{
		ID:           uuid.NewString(),
		UserID:       c.UserID,
		PlanID:       c.PlanID,
		PlanName:     c.PlanName,
		Amount:       models.Quantize(models.SymbolUSD, c.Amount),
		Interest:     c.Interest,
		InterestType: c.InterestType,
		Period:       c.Period,
		RepeatTime:   c.RepeatTime,
		CapitalBack:  c.CapitalBack,
		TotalPaid:    decimal.Zero,
		NextTime:     now.Add(c.Period),
		Status:       models.InvestmentRunning,
		CreatedAt:    now,
	}

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpInvestmentExecute,
		AccountID:      c.UserID,
		IdempotencyKey: ledger.ClientKey(models.OpInvestmentExecute, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"investment_id": inv.ID, "plan_id": c.PlanID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			if err := tx.SaveInvestment(ctx, inv); err != nil {
				return ledger.Plan{}, err
			}
			return ledger.Plan{
				Deltas: []ledger.Delta{{AccountID: c.UserID, Symbol: models.SymbolUSD, Amount: inv.Amount.Neg()}},
				Event: &ledger.Event{
					Type: models.EventInvestmentStarted,
					Payload: map[string]any{
						"investment_id": inv.ID,
						"plan_id":       inv.PlanID,
						"plan_name":     inv.PlanName,
						"amount":        inv.Amount.String(),
						"next_time":     inv.NextTime,
					},
				},
			}, nil
		},
	})
	if err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	if res.Replayed {
		inv, err = replayed(ctx, res, "investment_id", s.store().Investment)
	}
	return inv, res, err
}

// Payout pays one interest cycle. The cycle number is part of the
// idempotency key, so concurrent triggers for the same cycle pay once.
func (s *InvestmentService) Payout(ctx context.Context, c Payout) (models.Investment, ledger.Result, error) {
	if err := requireID("investment_id", c.InvestmentID); err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	now := c.Now.UTC()
	if c.Now.IsZero() {
		now = s.now()
	}
	pre, err := s.store().Investment(ctx, c.InvestmentID)
	if err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	if pre.Status != models.InvestmentRunning {
		return models.Investment{}, ledger.Result{}, badState("investment %s is %s", pre.ID, pre.Status)
	}
	cycle := pre.RepeatTimeCount + 1

	var paid models.Investment
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpInvestmentPayout,
		AccountID:      pre.UserID,
		IdempotencyKey: fmt.Sprintf("investment_payout:%s:%d", pre.ID, cycle),
		Metadata:       map[string]any{"investment_id": pre.ID, "cycle": cycle},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			inv, err := tx.Investment(ctx, c.InvestmentID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if inv.Status != models.InvestmentRunning {
				return ledger.Plan{}, badState("investment %s is %s", inv.ID, inv.Status)
			}
			if inv.RepeatTimeCount+1 != cycle {
				return ledger.Plan{}, badState("investment %s cycle %d already paid", inv.ID, cycle)
			}
			if now.Before(inv.NextTime) {
				return ledger.Plan{}, badState("investment %s not due until %s", inv.ID, inv.NextTime.Format(time.RFC3339))
			}

			interest := inv.CycleInterest()
			credit := interest
			capital := inv.FinalCycle() && inv.CapitalBack
			if capital {
				credit = credit.Add(inv.Amount)
			}
			inv.RepeatTimeCount = cycle
			inv.TotalPaid = inv.TotalPaid.Add(interest)
			inv.LastTime = &now
			// anchored to the schedule so a late payout does not shift it
			inv.NextTime = inv.NextTime.Add(inv.Period)
			if inv.RepeatTimeCount >= inv.RepeatTime {
				inv.Status = models.InvestmentCompleted
			}
			if err := tx.SaveInvestment(ctx, inv); err != nil {
				return ledger.Plan{}, err
			}
			paid = inv

			plan := ledger.Plan{Event: &ledger.Event{
				Type: models.EventInvestmentPayout,
				Payload: map[string]any{
					"investment_id":     inv.ID,
					"cycle":             cycle,
					"interest":          interest.String(),
					"capital_returned":  capital,
					"amount":            credit.String(),
					"repeat_time_count": inv.RepeatTimeCount,
					"status":            string(inv.Status),
				},
			}}
			if credit.IsPositive() {
				plan.Deltas = []ledger.Delta{{AccountID: inv.UserID, Symbol: models.SymbolUSD, Amount: credit}}
			}
			return plan, nil
		},
	})
	if err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	if res.Replayed {
		paid, err = s.store().Investment(ctx, pre.ID)
	}
	return paid, res, err
}

// PayDue pays every investment due at now, one settlement each. Failures
// are logged and joined; the rest still get paid.
func (s *InvestmentService) PayDue(ctx context.Context, now time.Time, limit int) ([]models.Investment, error) {
	if now.IsZero() {
		now = s.now()
	}
	if limit <= 0 {
		limit = 100
	}
	due, err := s.store().DueInvestments(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	var (
		paid []models.Investment
		errs []error
	)
	for _, inv := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		out, _, err := s.Payout(ctx, Payout{InvestmentID: inv.ID, Now: now})
		if err != nil {
			s.logger().Warn("investment payout failed", "investment_id", inv.ID, "account_id", inv.UserID, "err", err)
			errs = append(errs, fmt.Errorf("investment %s: %w", inv.ID, err))
			continue
		}
		paid = append(paid, out)
	}
	return paid, errors.Join(errs...)
}

// CancelInvestment refunds the principal of a running investment. Interest
// already paid is kept.
func (s *InvestmentService) CancelInvestment(ctx context.Context, c CancelInvestment) (models.Investment, ledger.Result, error) {
	if err := requireID("investment_id", c.InvestmentID); err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	pre, err := s.store().Investment(ctx, c.InvestmentID)
	if err != nil {
		return models.Investment{}, ledger.Result{}, err
	}

	var cancelled models.Investment
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpInvestmentCancel,
		AccountID:      pre.UserID,
		IdempotencyKey: "investment_cancel:" + pre.ID,
		Metadata:       map[string]any{"investment_id": pre.ID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			inv, err := tx.Investment(ctx, c.InvestmentID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if inv.Status != models.InvestmentRunning {
				return ledger.Plan{}, badState("investment %s is %s", inv.ID, inv.Status)
			}
			inv.Status = models.InvestmentCancelled
			if err := tx.SaveInvestment(ctx, inv); err != nil {
				return ledger.Plan{}, err
			}
			cancelled = inv
			return ledger.Plan{
				Deltas: []ledger.Delta{{AccountID: inv.UserID, Symbol: models.SymbolUSD, Amount: inv.Amount}},
				Event: &ledger.Event{
					Type:    models.EventInvestmentCancelled,
					Payload: map[string]any{"investment_id": inv.ID, "refunded": inv.Amount.String()},
				},
			}, nil
		},
	})
	if err != nil {
		return models.Investment{}, ledger.Result{}, err
	}
	if res.Replayed {
		cancelled, err = s.store().Investment(ctx, pre.ID)
	}
	return cancelled, res, err
}
