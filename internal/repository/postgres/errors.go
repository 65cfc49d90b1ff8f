package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// mapErr translates driver errors into repository errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", repository.ErrLockTimeout, pgErr.Message)
		case codeCheckViolation:
			// balance >= 0 is enforced by the ledger before writing; reaching
			// the constraint means a concurrent writer bypassed the locks
			return fmt.Errorf("%w: %s", repository.ErrLockTimeout, pgErr.ConstraintName)
		}
	}
	// a statement cancelled by the attempt deadline
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", repository.ErrLockTimeout, err)
	}
	return err
}
