package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

type tx struct {
	s      *Store
	locked map[string]chan struct{}

	balances map[string]map[string]decimal.Decimal
	ops      []models.SettlementOperation
	events   []models.OutboxEvent

	trades      map[string]models.Trade
	investments map[string]models.Investment
	loans       map[string]models.Loan
	copyTrades  map[string]models.CopyTrade
	transfers   map[string]models.CryptoTransfer
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		locked:      make(map[string]chan struct{}),
		balances:    make(map[string]map[string]decimal.Decimal),
		trades:      make(map[string]models.Trade),
		investments: make(map[string]models.Investment),
		loans:       make(map[string]models.Loan),
		copyTrades:  make(map[string]models.CopyTrade),
		transfers:   make(map[string]models.CryptoTransfer),
	}
}

func (t *tx) LockAccounts(ctx context.Context, ids ...string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if _, held := t.locked[id]; held {
			continue
		}
		if _, err := t.s.Account(ctx, id); err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		ch := t.s.accountLock(id)
		select {
		case ch <- struct{}{}:
			t.locked[id] = ch
		case <-ctx.Done():
			return fmt.Errorf("account %s: %w: %v", id, repository.ErrLockTimeout, ctx.Err())
		}
	}
	return nil
}

func (t *tx) release() {
	for id, ch := range t.locked {
		<-ch
		delete(t.locked, id)
	}
}

func (t *tx) Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	out, err := t.s.Balances(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for sym, v := range t.balances[accountID] {
		out[sym] = v
	}
	return out, nil
}

func (t *tx) SetBalance(_ context.Context, accountID, symbol string, amount decimal.Decimal) error {
	if _, ok := t.locked[accountID]; !ok {
		return errNotLocked(accountID)
	}
	if amount.IsNegative() {
		return fmt.Errorf("negative balance for %s/%s", accountID, symbol)
	}
	if t.balances[accountID] == nil {
		t.balances[accountID] = make(map[string]decimal.Decimal)
	}
	t.balances[accountID][symbol] = amount
	return nil
}

func (t *tx) OperationByKey(ctx context.Context, key string) (models.SettlementOperation, error) {
	for _, op := range t.ops {
		if op.IdempotencyKey != nil && *op.IdempotencyKey == key {
			return op, nil
		}
	}
	return t.s.OperationByKey(ctx, key)
}

func (t *tx) CreateOperation(ctx context.Context, op models.SettlementOperation) error {
	if op.IdempotencyKey != nil {
		if _, err := t.OperationByKey(ctx, *op.IdempotencyKey); err == nil {
			return repository.ErrDuplicate
		}
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *tx) Enqueue(_ context.Context, ev models.OutboxEvent) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *tx) Trade(ctx context.Context, id string) (models.Trade, error) {
	if v, ok := t.trades[id]; ok {
		return v, nil
	}
	return t.s.Trade(ctx, id)
}

func (t *tx) Investment(ctx context.Context, id string) (models.Investment, error) {
	if v, ok := t.investments[id]; ok {
		return v, nil
	}
	return t.s.Investment(ctx, id)
}

func (t *tx) Loan(ctx context.Context, id string) (models.Loan, error) {
	if v, ok := t.loans[id]; ok {
		return v, nil
	}
	return t.s.Loan(ctx, id)
}

func (t *tx) CopyTrade(ctx context.Context, id string) (models.CopyTrade, error) {
	if v, ok := t.copyTrades[id]; ok {
		return v, nil
	}
	return t.s.CopyTrade(ctx, id)
}

func (t *tx) Transfer(ctx context.Context, id string) (models.CryptoTransfer, error) {
	if v, ok := t.transfers[id]; ok {
		return v, nil
	}
	return t.s.Transfer(ctx, id)
}

func (t *tx) SaveTrade(_ context.Context, v models.Trade) error {
	t.trades[v.ID] = v
	return nil
}

func (t *tx) SaveInvestment(_ context.Context, v models.Investment) error {
	t.investments[v.ID] = v
	return nil
}

func (t *tx) SaveLoan(_ context.Context, v models.Loan) error {
	t.loans[v.ID] = v
	return nil
}

func (t *tx) SaveCopyTrade(_ context.Context, v models.CopyTrade) error {
	t.copyTrades[v.ID] = v
	return nil
}

func (t *tx) SaveTransfer(_ context.Context, v models.CryptoTransfer) error {
	t.transfers[v.ID] = v
	return nil
}

// commit publishes every staged write at once. It runs while the account
// locks are still held.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range t.ops {
		if op.IdempotencyKey == nil {
			continue
		}
		if _, dup := s.opKeys[*op.IdempotencyKey]; dup {
			return repository.ErrDuplicate
		}
	}
	for id := range t.balances {
		if _, ok := s.accounts[id]; !ok {
			return fmt.Errorf("account %s: %w", id, repository.ErrNotFound)
		}
	}

	for id, syms := range t.balances {
		for sym, v := range syms {
			s.balances[id][sym] = v
		}
	}
	for _, op := range t.ops {
		s.ops[op.ID] = op
		if op.IdempotencyKey != nil {
			s.opKeys[*op.IdempotencyKey] = op.ID
		}
		s.entries = append(s.entries, op.Entries...)
	}
	for i := range t.events {
		ev := t.events[i]
		s.events[ev.ID] = &ev
		s.eventOrder = append(s.eventOrder, ev.ID)
	}
	for id, v := range t.trades {
		s.trades[id] = v
	}
	for id, v := range t.investments {
		s.investments[id] = v
	}
	for id, v := range t.loans {
		s.loans[id] = v
	}
	for id, v := range t.copyTrades {
		s.copyTrades[id] = v
	}
	for id, v := range t.transfers {
		s.transfers[id] = v
	}
	return nil
}

var _ repository.Tx = (*tx)(nil)
