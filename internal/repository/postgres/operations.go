package postgres

import (
	"context"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
)

const opCols = `id, kind, account_id, idempotency_key, status, metadata, error, created_at, applied_at`

const entryCols = `id, operation_id, account_id, symbol, delta, balance_after, seq, created_at`

func scanEntry(row pgx.Row) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.OperationID, &e.AccountID, &e.Symbol, &e.Delta, &e.BalanceAfter, &e.Seq, &e.CreatedAt)
	return e, err
}

// operation loads one operation with its entries. where must bind $1.
func operation(ctx context.Context, q querier, where string, arg any) (models.SettlementOperation, error) {
	var op models.SettlementOperation
	err := q.QueryRow(ctx, `SELECT `+opCols+` FROM settlement_operations `+where, arg).
		Scan(&op.ID, &op.Kind, &op.AccountID, &op.IdempotencyKey, &op.Status, &op.Metadata, &op.Error, &op.CreatedAt, &op.AppliedAt)
	if err != nil {
		return models.SettlementOperation{}, mapErr(err)
	}
	rows, err := q.Query(ctx, `SELECT `+entryCols+` FROM ledger_entries WHERE operation_id=$1 ORDER BY seq`, op.ID)
	if err != nil {
		return models.SettlementOperation{}, mapErr(err)
	}
	op.Entries, err = collect(rows, scanEntry)
	return op, err
}

// createOperation inserts op and its entries. A failed row left by an
// earlier attempt with the same id is replaced; an applied one is a
// duplicate.
func createOperation(ctx context.Context, q pgx.Tx, op models.SettlementOperation) error {
	tag, err := q.Exec(ctx,
		`INSERT INTO settlement_operations (`+opCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (id) DO UPDATE SET
		   kind=EXCLUDED.kind, idempotency_key=EXCLUDED.idempotency_key, status=EXCLUDED.status,
		   metadata=EXCLUDED.metadata, error=EXCLUDED.error, applied_at=EXCLUDED.applied_at
		 WHERE settlement_operations.status = 'failed'`,
		op.ID, op.Kind, op.AccountID, op.IdempotencyKey, op.Status, op.Metadata, op.Error, op.CreatedAt, op.AppliedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrDuplicate
	}
	if len(op.Entries) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, e := range op.Entries {
		b.Queue(`INSERT INTO ledger_entries (`+entryCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.ID, e.OperationID, e.AccountID, e.Symbol, e.Delta, e.BalanceAfter, e.Seq, e.CreatedAt)
	}
	return mapErr(q.SendBatch(ctx, b).Close())
}

func enqueue(ctx context.Context, q querier, ev models.OutboxEvent) error {
	_, err := q.Exec(ctx,
		`INSERT INTO outbox_events (id, operation_id, event_type, user_id, payload, status, attempts, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,0,$7)`,
		ev.ID, ev.OperationID, ev.EventType, ev.UserID, ev.Payload, models.OutboxPending, ev.CreatedAt)
	return mapErr(err)
}
