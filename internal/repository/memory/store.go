// Package memory is an in-process implementation of the repository
// contracts. Account locks are per-account channels so a blocked
// LockAccounts honours context cancellation; writes are staged on the
// transaction and committed under the store mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu  sync.RWMutex
	lmu sync.Mutex

	locks    map[string]chan struct{}
	accounts map[string]models.Account
	balances map[string]map[string]decimal.Decimal
	entries  []models.LedgerEntry
	ops      map[string]models.SettlementOperation
	opKeys   map[string]string

	events     map[string]*models.OutboxEvent
	eventOrder []string

	trades      map[string]models.Trade
	investments map[string]models.Investment
	loans       map[string]models.Loan
	copyTrades  map[string]models.CopyTrade
	transfers   map[string]models.CryptoTransfer

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		locks:       make(map[string]chan struct{}),
		accounts:    make(map[string]models.Account),
		balances:    make(map[string]map[string]decimal.Decimal),
		ops:         make(map[string]models.SettlementOperation),
		opKeys:      make(map[string]string),
		events:      make(map[string]*models.OutboxEvent),
		trades:      make(map[string]models.Trade),
		investments: make(map[string]models.Investment),
		loans:       make(map[string]models.Loan),
		copyTrades:  make(map[string]models.CopyTrade),
		transfers:   make(map[string]models.CryptoTransfer),
		now:         time.Now,
	}
}

// SetClock overrides the time source used for outbox leases.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) accountLock(id string) chan struct{} {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// ---------------- accounts & balances ----------------

func (s *Store) CreateAccount(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	a := models.Account{ID: id, CreatedAt: s.now().UTC()}
	s.accounts[id] = a
	s.balances[id] = make(map[string]decimal.Decimal)
	return a, nil
}

func (s *Store) Account(_ context.Context, id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, repository.ErrNotFound
	}
	return a, nil
}

// DeleteAccount drops an account together with its balances, mirroring
// the cascade on user deletion.
func (s *Store) DeleteAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	delete(s.balances, id)
}

func (s *Store) Balances(_ context.Context, accountID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, repository.ErrNotFound
	}
	return copyBalances(s.balances[accountID]), nil
}

func (s *Store) Entries(_ context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == accountID {
			out = append(out, s.entries[i])
		}
	}
	return page(out, limit, offset), nil
}

// ---------------- operations ----------------

func (s *Store) Operation(_ context.Context, id string) (models.SettlementOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return models.SettlementOperation{}, repository.ErrNotFound
	}
	return op, nil
}

func (s *Store) OperationByKey(ctx context.Context, key string) (models.SettlementOperation, error) {
	s.mu.RLock()
	id, ok := s.opKeys[key]
	s.mu.RUnlock()
	if !ok {
		return models.SettlementOperation{}, repository.ErrNotFound
	}
	return s.Operation(ctx, id)
}

func (s *Store) RecordFailure(_ context.Context, op models.SettlementOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex, ok := s.ops[op.ID]; ok && ex.Status == models.OpApplied {
		return nil
	}
	op.Entries = nil
	// the key stays free so the request can be retried
	op.IdempotencyKey = nil
	s.ops[op.ID] = op
	return nil
}

// ---------------- records ----------------

func (s *Store) Trade(_ context.Context, id string) (models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.trades, id)
}

func (s *Store) Investment(_ context.Context, id string) (models.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.investments, id)
}

func (s *Store) Loan(_ context.Context, id string) (models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.loans, id)
}

func (s *Store) CopyTrade(_ context.Context, id string) (models.CopyTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.copyTrades, id)
}

func (s *Store) Transfer(_ context.Context, id string) (models.CryptoTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.transfers, id)
}

func (s *Store) DueInvestments(_ context.Context, now time.Time, limit int) ([]models.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Investment
	for _, inv := range s.investments {
		if inv.Status == models.InvestmentRunning && !inv.NextTime.After(now) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextTime.Before(out[j].NextTime) })
	return page(out, limit, 0), nil
}

func (s *Store) TradesByUser(_ context.Context, userID string, limit, offset int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return page(out, limit, offset), nil
}

// ---------------- transactions ----------------

func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	t := newTx(s)
	defer t.release()
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func lookup[T any](m map[string]T, id string) (T, error) {
	v, ok := m[id]
	if !ok {
		var zero T
		return zero, repository.ErrNotFound
	}
	return v, nil
}

func copyBalances(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

var _ repository.Store = (*Store)(nil)

func errNotLocked(id string) error { return fmt.Errorf("account %s not locked in this transaction", id) }
