package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	users  *memory.Users
	engine *ledger.Engine

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, accounts ...string) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.NewStore(),
		users: memory.NewUsers(),
		now:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = ledger.NewEngine(f.store, nil, ledger.Options{MaxRetries: 3, LockTimeout: time.Second, Now: f.clock})
	for _, id := range accounts {
		_, err := f.store.CreateAccount(f.ctx, id)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) deps() Deps { return Deps{Engine: f.engine, Now: f.clock} }

func (f *fixture) seed(account, symbol, amount string) {
	f.t.Helper()
	_, err := f.engine.Credit(f.ctx, account, symbol, dec(amount))
	require.NoError(f.t, err)
}

func (f *fixture) balance(account, symbol string) string {
	f.t.Helper()
	b, err := f.engine.Balance(f.ctx, account, symbol)
	require.NoError(f.t, err)
	return b.String()
}

// events drains every pending outbox event.
func (f *fixture) events() []models.OutboxEvent {
	f.t.Helper()
	evs, err := memory.NewOutbox(f.store).Claim(f.ctx, 1000, time.Minute)
	require.NoError(f.t, err)
	return evs
}

func (f *fixture) eventsOf(typ models.EventType) []models.OutboxEvent {
	var out []models.OutboxEvent
	for _, ev := range f.events() {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
