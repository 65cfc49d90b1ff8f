package repository

import (
	"context"
	"errors"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrLockTimeout is returned when account locks could not be taken in
	// time, or the database aborted the transaction on a lock conflict.
	ErrLockTimeout = errors.New("lock timeout")
)

type Users interface {
	Create(ctx context.Context, u models.User) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	Update(ctx context.Context, u models.User) error
	Delete(ctx context.Context, id string) error
}

// Records reads the domain records written alongside settlements.
type Records interface {
	Trade(ctx context.Context, id string) (models.Trade, error)
	Investment(ctx context.Context, id string) (models.Investment, error)
	Loan(ctx context.Context, id string) (models.Loan, error)
	CopyTrade(ctx context.Context, id string) (models.CopyTrade, error)
	Transfer(ctx context.Context, id string) (models.CryptoTransfer, error)
}

// RecordWriter upserts domain records. Only available inside a Tx.
type RecordWriter interface {
	SaveTrade(ctx context.Context, t models.Trade) error
	SaveInvestment(ctx context.Context, i models.Investment) error
	SaveLoan(ctx context.Context, l models.Loan) error
	SaveCopyTrade(ctx context.Context, c models.CopyTrade) error
	SaveTransfer(ctx context.Context, t models.CryptoTransfer) error
}

// Tx is one atomic unit of work. Balances may only be changed for
// accounts locked through LockAccounts in the same Tx.
type Tx interface {
	Records
	RecordWriter

	// LockAccounts takes exclusive locks on the accounts, in sorted order.
	// Returns ErrNotFound if any account does not exist.
	LockAccounts(ctx context.Context, ids ...string) error
	Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error)
	SetBalance(ctx context.Context, accountID, symbol string, amount decimal.Decimal) error

	OperationByKey(ctx context.Context, key string) (models.SettlementOperation, error)
	// CreateOperation stores op and its entries. ErrDuplicate on an
	// idempotency key that already exists.
	CreateOperation(ctx context.Context, op models.SettlementOperation) error
	Enqueue(ctx context.Context, ev models.OutboxEvent) error
}

type Store interface {
	Records

	// WithTx runs fn in a transaction; any error rolls everything back.
	WithTx(ctx context.Context, fn func(Tx) error) error

	CreateAccount(ctx context.Context, id string) (models.Account, error)
	Account(ctx context.Context, id string) (models.Account, error)
	Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error)
	Entries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error)

	Operation(ctx context.Context, id string) (models.SettlementOperation, error)
	OperationByKey(ctx context.Context, key string) (models.SettlementOperation, error)
	// RecordFailure stores a failed operation without entries.
	RecordFailure(ctx context.Context, op models.SettlementOperation) error

	DueInvestments(ctx context.Context, now time.Time, limit int) ([]models.Investment, error)
	TradesByUser(ctx context.Context, userID string, limit, offset int) ([]models.Trade, error)
}

type Outbox interface {
	// Claim leases up to max pending events for the given duration.
	Claim(ctx context.Context, max int, lease time.Duration) ([]models.OutboxEvent, error)
	// MarkDelivered is a no-op for events that are already delivered.
	MarkDelivered(ctx context.Context, id string) error
	// MarkFailed records a failed attempt and hides the event from Claim
	// for retryAfter. The event turns dead once attempts reach
	// maxAttempts. Reports whether it is now dead.
	MarkFailed(ctx context.Context, id, reason string, maxAttempts int, retryAfter time.Duration) (bool, error)
	Event(ctx context.Context, id string) (models.OutboxEvent, error)
}
