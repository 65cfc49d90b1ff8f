// Package postgres implements the repository contracts on pgx. Account
// locks are row locks on accounts taken with SELECT ... FOR UPDATE under
// SET LOCAL lock_timeout.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = pgtx.Rollback(context.Background()) }()

	if _, err := pgtx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapErr(err)
	}
	t := &tx{q: pgtx, locked: make(map[string]bool)}
	if err := fn(t); err != nil {
		return mapErr(err)
	}
	return mapErr(pgtx.Commit(ctx))
}

func (s *Store) CreateAccount(ctx context.Context, id string) (models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts(id) VALUES($1)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, created_at`, id,
	).Scan(&a.ID, &a.CreatedAt)
	return a, mapErr(err)
}

func (s *Store) Account(ctx context.Context, id string) (models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx, `SELECT id, created_at FROM accounts WHERE id=$1`, id).Scan(&a.ID, &a.CreatedAt)
	return a, mapErr(err)
}

// Balances reads all symbols in one statement, so the snapshot is
// consistent under read committed.
func (s *Store) Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return balances(ctx, s.pool, accountID)
}

func (s *Store) Entries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+`
		   FROM ledger_entries
		  WHERE account_id=$1
		  ORDER BY created_at DESC, seq DESC
		  LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanEntry)
}

func (s *Store) Operation(ctx context.Context, id string) (models.SettlementOperation, error) {
	return operation(ctx, s.pool, `WHERE id=$1`, id)
}

func (s *Store) OperationByKey(ctx context.Context, key string) (models.SettlementOperation, error) {
	return operation(ctx, s.pool, `WHERE idempotency_key=$1`, key)
}

// RecordFailure keeps failed attempts for audit. The idempotency key is
// not stored so the request can be retried.
func (s *Store) RecordFailure(ctx context.Context, op models.SettlementOperation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlement_operations(id, kind, account_id, idempotency_key, status, metadata, error, created_at)
		 SELECT $1, $2, $3, NULL, $4, $5, $6, $7
		  WHERE EXISTS (SELECT 1 FROM accounts WHERE id=$3)
		 ON CONFLICT (id) DO NOTHING`,
		op.ID, op.Kind, op.AccountID, models.OpFailed, op.Metadata, op.Error, op.CreatedAt)
	return mapErr(err)
}

func (s *Store) Trade(ctx context.Context, id string) (models.Trade, error) {
	return getTrade(ctx, s.pool, id)
}

func (s *Store) Investment(ctx context.Context, id string) (models.Investment, error) {
	return getInvestment(ctx, s.pool, id)
}

func (s *Store) Loan(ctx context.Context, id string) (models.Loan, error) {
	return getLoan(ctx, s.pool, id)
}

func (s *Store) CopyTrade(ctx context.Context, id string) (models.CopyTrade, error) {
	return getCopyTrade(ctx, s.pool, id)
}

func (s *Store) Transfer(ctx context.Context, id string) (models.CryptoTransfer, error) {
	return getTransfer(ctx, s.pool, id)
}

func (s *Store) DueInvestments(ctx context.Context, now time.Time, limit int) ([]models.Investment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+investmentCols+`
		   FROM investments
		  WHERE status=$1 AND next_time <= $2
		  ORDER BY next_time
		  LIMIT $3`,
		models.InvestmentRunning, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanInvestment)
}

func (s *Store) TradesByUser(ctx context.Context, userID string, limit, offset int) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+`
		   FROM trades
		  WHERE user_id=$1
		  ORDER BY opened_at DESC
		  LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanTrade)
}

func balances(ctx context.Context, q querier, accountID string) (map[string]decimal.Decimal, error) {
	rows, err := q.Query(ctx, `SELECT symbol, balance FROM account_balances WHERE account_id=$1`, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			sym string
			amt decimal.Decimal
		)
		if err := rows.Scan(&sym, &amt); err != nil {
			return nil, err
		}
		out[sym] = models.Quantize(sym, amt)
	}
	return out, rows.Err()
}

var _ repository.Store = (*Store)(nil)

var errNotLocked = errors.New("account not locked in this transaction")
