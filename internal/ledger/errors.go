package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConflict is transient: the caller may try again.
	ErrConflict         = errors.New("concurrent update, please try again")
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountNotLocked = errors.New("account not locked by operation")
	ErrEmptyBatch       = errors.New("batch has no deltas")
	ErrSameAccount      = errors.New("source and destination accounts are the same")
	// ErrIdempotencyMismatch means the key was already used for another
	// kind of operation or another account.
	ErrIdempotencyMismatch = errors.New("idempotency key already used for a different request")
)

// InsufficientBalanceError names the leg that would have gone negative.
type InsufficientBalanceError struct {
	AccountID string
	Symbol    string
	Balance   decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance", e.Symbol)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
