package services

import (
	"context"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StartCopyTrade struct {
	UserID         string
	TraderID       string
	Amount         decimal.Decimal
	CommissionRate decimal.Decimal
	IdempotencyKey string
}

type CloseCopyTradeCycle struct {
	CopyTradeID    string
	PnL            decimal.Decimal
	IdempotencyKey string
}

type StopCopyTrade struct {
	CopyTradeID string
}

type CopyTradeService struct{ Deps }

func NewCopyTradeService(d Deps) *CopyTradeService { return &CopyTradeService{Deps: d} }

// StartCopyTrade follows a master trader. The principal stays on the
// copier's balance; it only has to be covered when the copy starts.
func (s *CopyTradeService) StartCopyTrade(ctx context.Context, c StartCopyTrade) (models.CopyTrade, ledger.Result, error) {
	if err := requireID("user_id", c.UserID); err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	if err := requireID("trader_id", c.TraderID); err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	if c.UserID == c.TraderID {
		return models.CopyTrade{}, ledger.Result{}, invalid("cannot copy yourself")
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return models.CopyTrade{}, ledger.Result{}, invalid("commission_rate must be within 0..100")
	}
	if _, err := s.store().Account(ctx, c.TraderID); err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}

	now := s.now()
	ct := models.CopyTrade{
		ID:             uuid.NewString(),
		UserID:         c.UserID,
		TraderID:       c.TraderID,
		Amount:         models.Quantize(models.SymbolUSD, c.Amount),
		CommissionRate: c.CommissionRate,
		Status:         models.CopyTradeActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCopyTradeStart,
		AccountID:      c.UserID,
		IdempotencyKey: ledger.ClientKey(models.OpCopyTradeStart, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"copy_trade_id": ct.ID, "trader_id": c.TraderID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			bal, err := ledger.BalanceOf(ctx, tx, c.UserID, models.SymbolUSD)
			if err != nil {
				return ledger.Plan{}, err
			}
			if bal.LessThan(ct.Amount) {
				return ledger.Plan{}, insufficient(c.UserID, models.SymbolUSD, bal, ct.Amount)
			}
			if err := tx.SaveCopyTrade(ctx, ct); err != nil {
				return ledger.Plan{}, err
			}
			return ledger.Plan{Event: &ledger.Event{
				Type: models.EventCopyTradeStarted,
				Payload: map[string]any{
					"copy_trade_id":   ct.ID,
					"trader_id":       ct.TraderID,
					"amount":          ct.Amount.String(),
					"commission_rate": ct.CommissionRate.String(),
				},
			}}, nil
		},
	})
	if err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	if res.Replayed {
		ct, err = replayed(ctx, res, "copy_trade_id", s.store().CopyTrade)
	}
	return ct, res, err
}

// CloseCopyTradeCycle books one cycle result. A profit is credited to the
// copier and the master's commission moves in the same batch; a loss is
// clamped to the copier's balance.
func (s *CopyTradeService) CloseCopyTradeCycle(ctx context.Context, c CloseCopyTradeCycle) (models.CopyTrade, ledger.Result, error) {
	if err := requireID("copy_trade_id", c.CopyTradeID); err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	pnl := models.Quantize(models.SymbolUSD, c.PnL)
	if pnl.IsZero() {
		return models.CopyTrade{}, ledger.Result{}, invalid("pnl must not be zero")
	}
	pre, err := s.store().CopyTrade(ctx, c.CopyTradeID)
	if err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}

	var closed models.CopyTrade
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCopyTradeCommission,
		AccountID:      pre.UserID,
		Lock:           []string{pre.TraderID},
		IdempotencyKey: ledger.ClientKey(models.OpCopyTradeCommission, c.IdempotencyKey, pre.UserID, pre.ID),
		Metadata:       map[string]any{"copy_trade_id": pre.ID, "pnl": pnl.String()},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			ct, err := tx.CopyTrade(ctx, c.CopyTradeID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if ct.Status != models.CopyTradeActive {
				return ledger.Plan{}, badState("copy trade %s is %s", ct.ID, ct.Status)
			}

			var (
				deltas     []ledger.Delta
				realized   = pnl
				commission = decimal.Zero
			)
			if pnl.IsPositive() {
				commission = models.Quantize(models.SymbolUSD, pnl.Mul(ct.CommissionRate).Div(decimal.NewFromInt(100)))
				deltas = append(deltas, ledger.Delta{AccountID: ct.UserID, Symbol: models.SymbolUSD, Amount: pnl})
				if commission.IsPositive() {
					deltas = append(deltas,
						ledger.Delta{AccountID: ct.UserID, Symbol: models.SymbolUSD, Amount: commission.Neg()},
						ledger.Delta{AccountID: ct.TraderID, Symbol: models.SymbolUSD, Amount: commission},
					)
				}
				ct.CurrentProfit = ct.CurrentProfit.Add(pnl)
				ct.Commission = ct.Commission.Add(commission)
			} else {
				bal, err := ledger.BalanceOf(ctx, tx, ct.UserID, models.SymbolUSD)
				if err != nil {
					return ledger.Plan{}, err
				}
				realized = clampLoss(pnl, bal)
				if !realized.IsZero() {
					deltas = append(deltas, ledger.Delta{AccountID: ct.UserID, Symbol: models.SymbolUSD, Amount: realized})
				}
				ct.CurrentLoss = ct.CurrentLoss.Add(realized.Abs())
			}
			ct.Cycles++
			ct.UpdatedAt = s.now()
			if err := tx.SaveCopyTrade(ctx, ct); err != nil {
				return ledger.Plan{}, err
			}
			closed = ct

			return ledger.Plan{
				Deltas:   deltas,
				Metadata: map[string]any{"cycle": ct.Cycles},
				Event: &ledger.Event{
					Type: models.EventCopyTradeCycleClosed,
					Payload: map[string]any{
						"copy_trade_id": ct.ID,
						"trader_id":     ct.TraderID,
						"cycle":         ct.Cycles,
						"pnl":           pnl.String(),
						"realized_pnl":  realized.String(),
						"commission":    commission.String(),
					},
				},
			}, nil
		},
	})
	if err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	if res.Replayed {
		closed, err = s.store().CopyTrade(ctx, pre.ID)
	}
	return closed, res, err
}

func (s *CopyTradeService) StopCopyTrade(ctx context.Context, c StopCopyTrade) (models.CopyTrade, ledger.Result, error) {
	if err := requireID("copy_trade_id", c.CopyTradeID); err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	pre, err := s.store().CopyTrade(ctx, c.CopyTradeID)
	if err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}

	var stopped models.CopyTrade
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCopyTradeStop,
		AccountID:      pre.UserID,
		IdempotencyKey: "copy_trade_stop:" + pre.ID,
		Metadata:       map[string]any{"copy_trade_id": pre.ID},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			ct, err := tx.CopyTrade(ctx, c.CopyTradeID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if ct.Status != models.CopyTradeActive {
				return ledger.Plan{}, badState("copy trade %s is %s", ct.ID, ct.Status)
			}
			ct.Status = models.CopyTradeStopped
			ct.UpdatedAt = s.now()
			if err := tx.SaveCopyTrade(ctx, ct); err != nil {
				return ledger.Plan{}, err
			}
			stopped = ct
			return ledger.Plan{Event: &ledger.Event{
				Type: models.EventCopyTradeStopped,
				Payload: map[string]any{
					"copy_trade_id":  ct.ID,
					"cycles":         ct.Cycles,
					"current_profit": ct.CurrentProfit.String(),
					"current_loss":   ct.CurrentLoss.String(),
				},
			}}, nil
		},
	})
	if err != nil {
		return models.CopyTrade{}, ledger.Result{}, err
	}
	if res.Replayed {
		stopped, err = s.store().CopyTrade(ctx, pre.ID)
	}
	return stopped, res, err
}
