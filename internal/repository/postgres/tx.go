package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type tx struct {
	q      pgx.Tx
	locked map[string]bool
}

// LockAccounts locks rows one at a time in sorted order so two batches
// over the same accounts always queue instead of deadlocking.
func (t *tx) LockAccounts(ctx context.Context, ids ...string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if t.locked[id] {
			continue
		}
		var got string
		if err := t.q.QueryRow(ctx, `SELECT id FROM accounts WHERE id=$1 FOR UPDATE`, id).Scan(&got); err != nil {
			err = mapErr(err)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("account %s: %w", id, repository.ErrNotFound)
			}
			return err
		}
		t.locked[id] = true
	}
	return nil
}

func (t *tx) Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	return balances(ctx, t.q, accountID)
}

func (t *tx) SetBalance(ctx context.Context, accountID, symbol string, amount decimal.Decimal) error {
	if !t.locked[accountID] {
		return fmt.Errorf("%s: %w", accountID, errNotLocked)
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO account_balances (account_id, symbol, balance, updated_at)
		 VALUES ($1,$2,$3,now())
		 ON CONFLICT (account_id, symbol) DO UPDATE SET balance=EXCLUDED.balance, updated_at=now()`,
		accountID, symbol, amount)
	return mapErr(err)
}

func (t *tx) OperationByKey(ctx context.Context, key string) (models.SettlementOperation, error) {
	return operation(ctx, t.q, `WHERE idempotency_key=$1`, key)
}

func (t *tx) CreateOperation(ctx context.Context, op models.SettlementOperation) error {
	return createOperation(ctx, t.q, op)
}

func (t *tx) Enqueue(ctx context.Context, ev models.OutboxEvent) error {
	return enqueue(ctx, t.q, ev)
}

func (t *tx) Trade(ctx context.Context, id string) (models.Trade, error) { return getTrade(ctx, t.q, id) }
func (t *tx) Investment(ctx context.Context, id string) (models.Investment, error) {
	return getInvestment(ctx, t.q, id)
}
func (t *tx) Loan(ctx context.Context, id string) (models.Loan, error) { return getLoan(ctx, t.q, id) }
func (t *tx) CopyTrade(ctx context.Context, id string) (models.CopyTrade, error) {
	return getCopyTrade(ctx, t.q, id)
}
func (t *tx) Transfer(ctx context.Context, id string) (models.CryptoTransfer, error) {
	return getTransfer(ctx, t.q, id)
}

func (t *tx) SaveTrade(ctx context.Context, v models.Trade) error { return saveTrade(ctx, t.q, v) }
func (t *tx) SaveInvestment(ctx context.Context, v models.Investment) error {
	return saveInvestment(ctx, t.q, v)
}
func (t *tx) SaveLoan(ctx context.Context, v models.Loan) error { return saveLoan(ctx, t.q, v) }
func (t *tx) SaveCopyTrade(ctx context.Context, v models.CopyTrade) error {
	return saveCopyTrade(ctx, t.q, v)
}
func (t *tx) SaveTransfer(ctx context.Context, v models.CryptoTransfer) error {
	return saveTransfer(ctx, t.q, v)
}

var _ repository.Tx = (*tx)(nil)
