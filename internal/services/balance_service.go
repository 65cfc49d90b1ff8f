package services

import (
	"context"
	"strings"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// AdjustBalance is an admin correction. Amount is signed: positive credits,
// negative debits.
type AdjustBalance struct {
	UserID         string
	Symbol         string
	Amount         decimal.Decimal
	Reason         string
	AdminID        string
	IdempotencyKey string
}

type BalanceService struct{ Deps }

func NewBalanceService(d Deps) *BalanceService { return &BalanceService{Deps: d} }

func (s *BalanceService) Current(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	return s.Engine.Balances(ctx, userID)
}

func (s *BalanceService) Get(ctx context.Context, userID, symbol string) (decimal.Decimal, error) {
	return s.Engine.Balance(ctx, userID, symbol)
}

// Entries returns the account's ledger history, newest first.
func (s *BalanceService) Entries(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store().Entries(ctx, userID, limit, offset)
}

func (s *BalanceService) AdjustBalance(ctx context.Context, c AdjustBalance) (ledger.Result, error) {
	if err := requireID("user_id", c.UserID); err != nil {
		return ledger.Result{}, err
	}
	symbol := models.NormalizeSymbol(c.Symbol)
	if err := requireID("symbol", symbol); err != nil {
		return ledger.Result{}, err
	}
	if c.Amount.IsZero() {
		return ledger.Result{}, invalid("amount must not be zero")
	}
	reason := strings.TrimSpace(c.Reason)
	if reason == "" {
		return ledger.Result{}, invalid("reason required")
	}
	direction := "credit"
	if c.Amount.IsNegative() {
		direction = "debit"
	}

	return s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpBalanceAdjustment,
		AccountID:      c.UserID,
		IdempotencyKey: ledger.ClientKey(models.OpBalanceAdjustment, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"reason": reason, "admin_id": c.AdminID, "symbol": symbol},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			return ledger.Plan{
				Deltas: []ledger.Delta{{AccountID: c.UserID, Symbol: symbol, Amount: c.Amount}},
				Event: &ledger.Event{
					Type: models.EventBalanceAdjusted,
					Payload: map[string]any{
						"symbol":    symbol,
						"amount":    models.Quantize(symbol, c.Amount).String(),
						"direction": direction,
						"reason":    reason,
						"admin_id":  c.AdminID,
					},
				},
			}, nil
		},
	})
}
