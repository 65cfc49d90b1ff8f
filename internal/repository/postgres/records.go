package postgres

import (
	"context"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/jackc/pgx/v5"
)

// ----------------- trades -----------------

const tradeCols = `id, user_id, pair, type, amount, leverage, duration_seconds, entry_price,
	exit_price, pnl, realized_pnl, trading_mode, status, opened_at, expires_at, closed_at`

func scanTrade(row pgx.Row) (models.Trade, error) {
	var (
		t   models.Trade
		dur int64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Pair, &t.Type, &t.Amount, &t.Leverage, &dur, &t.EntryPrice,
		&t.ExitPrice, &t.PnL, &t.RealizedPnL, &t.TradingMode, &t.Status, &t.OpenedAt, &t.ExpiresAt, &t.ClosedAt)
	t.Duration = time.Duration(dur) * time.Second
	return t, mapErr(err)
}

func getTrade(ctx context.Context, q querier, id string) (models.Trade, error) {
	return scanTrade(q.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id=$1`, id))
}

func saveTrade(ctx context.Context, q querier, t models.Trade) error {
	_, err := q.Exec(ctx,
		`INSERT INTO trades (`+tradeCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (id) DO UPDATE SET
		   exit_price=EXCLUDED.exit_price, pnl=EXCLUDED.pnl, realized_pnl=EXCLUDED.realized_pnl,
		   status=EXCLUDED.status, closed_at=EXCLUDED.closed_at`,
		t.ID, t.UserID, t.Pair, t.Type, t.Amount, t.Leverage, int64(t.Duration/time.Second), t.EntryPrice,
		t.ExitPrice, t.PnL, t.RealizedPnL, t.TradingMode, t.Status, t.OpenedAt, t.ExpiresAt, t.ClosedAt)
	return mapErr(err)
}

// ----------------- investments -----------------

const investmentCols = `id, user_id, plan_id, plan_name, amount, interest, interest_type, period_seconds,
	repeat_time, repeat_time_count, capital_back, total_paid, next_time, last_time, status, created_at`

func scanInvestment(row pgx.Row) (models.Investment, error) {
	var (
		i      models.Investment
		period int64
	)
	err := row.Scan(&i.ID, &i.UserID, &i.PlanID, &i.PlanName, &i.Amount, &i.Interest, &i.InterestType, &period,
		&i.RepeatTime, &i.RepeatTimeCount, &i.CapitalBack, &i.TotalPaid, &i.NextTime, &i.LastTime, &i.Status, &i.CreatedAt)
	i.Period = time.Duration(period) * time.Second
	return i, mapErr(err)
}

func getInvestment(ctx context.Context, q querier, id string) (models.Investment, error) {
	return scanInvestment(q.QueryRow(ctx, `SELECT `+investmentCols+` FROM investments WHERE id=$1`, id))
}

func saveInvestment(ctx context.Context, q querier, i models.Investment) error {
	_, err := q.Exec(ctx,
		`INSERT INTO investments (`+investmentCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (id) DO UPDATE SET
		   repeat_time_count=EXCLUDED.repeat_time_count, total_paid=EXCLUDED.total_paid,
		   next_time=EXCLUDED.next_time, last_time=EXCLUDED.last_time, status=EXCLUDED.status`,
		i.ID, i.UserID, i.PlanID, i.PlanName, i.Amount, i.Interest, i.InterestType, int64(i.Period/time.Second),
		i.RepeatTime, i.RepeatTimeCount, i.CapitalBack, i.TotalPaid, i.NextTime, i.LastTime, i.Status, i.CreatedAt)
	return mapErr(err)
}

// ----------------- loans -----------------

const loanCols = `id, user_id, amount, interest_rate, duration_days, total_repayable, repaid,
	status, reason, due_at, created_at, updated_at`

func scanLoan(row pgx.Row) (models.Loan, error) {
	var l models.Loan
	err := row.Scan(&l.ID, &l.UserID, &l.Amount, &l.InterestRate, &l.DurationDays, &l.TotalRepayable, &l.Repaid,
		&l.Status, &l.Reason, &l.DueAt, &l.CreatedAt, &l.UpdatedAt)
	return l, mapErr(err)
}

func getLoan(ctx context.Context, q querier, id string) (models.Loan, error) {
	return scanLoan(q.QueryRow(ctx, `SELECT `+loanCols+` FROM loans WHERE id=$1`, id))
}

func saveLoan(ctx context.Context, q querier, l models.Loan) error {
	_, err := q.Exec(ctx,
		`INSERT INTO loans (`+loanCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO UPDATE SET
		   total_repayable=EXCLUDED.total_repayable, repaid=EXCLUDED.repaid, status=EXCLUDED.status,
		   reason=EXCLUDED.reason, due_at=EXCLUDED.due_at, updated_at=EXCLUDED.updated_at`,
		l.ID, l.UserID, l.Amount, l.InterestRate, l.DurationDays, l.TotalRepayable, l.Repaid,
		l.Status, l.Reason, l.DueAt, l.CreatedAt, l.UpdatedAt)
	return mapErr(err)
}

// ----------------- copy trades -----------------

const copyTradeCols = `id, user_id, trader_id, amount, commission_rate, current_profit, current_loss,
	commission, cycles, status, created_at, updated_at`

func scanCopyTrade(row pgx.Row) (models.CopyTrade, error) {
	var c models.CopyTrade
	err := row.Scan(&c.ID, &c.UserID, &c.TraderID, &c.Amount, &c.CommissionRate, &c.CurrentProfit, &c.CurrentLoss,
		&c.Commission, &c.Cycles, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, mapErr(err)
}

func getCopyTrade(ctx context.Context, q querier, id string) (models.CopyTrade, error) {
	return scanCopyTrade(q.QueryRow(ctx, `SELECT `+copyTradeCols+` FROM copy_trades WHERE id=$1`, id))
}

func saveCopyTrade(ctx context.Context, q querier, c models.CopyTrade) error {
	_, err := q.Exec(ctx,
		`INSERT INTO copy_trades (`+copyTradeCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO UPDATE SET
		   current_profit=EXCLUDED.current_profit, current_loss=EXCLUDED.current_loss,
		   commission=EXCLUDED.commission, cycles=EXCLUDED.cycles, status=EXCLUDED.status,
		   updated_at=EXCLUDED.updated_at`,
		c.ID, c.UserID, c.TraderID, c.Amount, c.CommissionRate, c.CurrentProfit, c.CurrentLoss,
		c.Commission, c.Cycles, c.Status, c.CreatedAt, c.UpdatedAt)
	return mapErr(err)
}

// ----------------- crypto transfers -----------------

const transferCols = `id, user_id, kind, token, amount, fee, to_token, to_amount, address, tx_hash,
	status, operation_id, created_at, updated_at`

func scanTransfer(row pgx.Row) (models.CryptoTransfer, error) {
	var t models.CryptoTransfer
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Token, &t.Amount, &t.Fee, &t.ToToken, &t.ToAmount, &t.Address, &t.TxHash,
		&t.Status, &t.OperationID, &t.CreatedAt, &t.UpdatedAt)
	return t, mapErr(err)
}

func getTransfer(ctx context.Context, q querier, id string) (models.CryptoTransfer, error) {
	return scanTransfer(q.QueryRow(ctx, `SELECT `+transferCols+` FROM crypto_transfers WHERE id=$1`, id))
}

func saveTransfer(ctx context.Context, q querier, t models.CryptoTransfer) error {
	_, err := q.Exec(ctx,
		`INSERT INTO crypto_transfers (`+transferCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
		   tx_hash=EXCLUDED.tx_hash, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		t.ID, t.UserID, t.Kind, t.Token, t.Amount, t.Fee, t.ToToken, t.ToAmount, t.Address, t.TxHash,
		t.Status, t.OperationID, t.CreatedAt, t.UpdatedAt)
	return mapErr(err)
}
