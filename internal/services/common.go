package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = repository.ErrNotFound
)

// Deps is shared by every settlement service.
type Deps struct {
	Engine *ledger.Engine
	Log    *slog.Logger
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

func (d Deps) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d Deps) store() repository.Store { return d.Engine.Store() }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func badState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid("%s must be > 0", field)
	}
	return nil
}

func requireID(field, v string) error {
	if v == "" {
		return invalid("%s required", field)
	}
	return nil
}

// replayed loads the record an idempotent replay refers to.
func replayed[T any](ctx context.Context, res ledger.Result, key string, get func(context.Context, string) (T, error)) (T, error) {
	id, _ := res.Operation.Metadata[key].(string)
	if id == "" {
		var zero T
		return zero, fmt.Errorf("replayed operation %s has no %s", res.Operation.ID, key)
	}
	return get(ctx, id)
}

// insufficient builds the error for a business check made before the
// ledger batch, so it reads the same as an engine rejection.
func insufficient(accountID, symbol string, have, need decimal.Decimal) error {
	return &ledger.InsufficientBalanceError{AccountID: accountID, Symbol: symbol, Balance: have, Required: need}
}

// clampLoss caps a loss at the available balance so the account cannot
// go negative. It returns the (non-positive) amount actually applied.
func clampLoss(loss, balance decimal.Decimal) decimal.Decimal {
	if loss.Abs().GreaterThan(balance) {
		return balance.Neg()
	}
	return loss
}
