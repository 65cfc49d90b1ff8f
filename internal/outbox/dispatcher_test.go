package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

// failing rejects every message and counts the attempts.
type failing struct{ calls atomic.Int64 }

func (f *failing) Publish(context.Context, Message) error {
	f.calls.Add(1)
	return errors.New("broker down")
}

// testClock drives the memory store's notion of now.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func useClock(store *memory.Store) *testClock {
	c := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store.SetClock(c.Now)
	return c
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// settle commits n adjustments, each with one outbox event.
func settle(t *testing.T, store *memory.Store, n int) []string {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateAccount(ctx, "u1")
	require.NoError(t, err)
	e := ledger.NewEngine(store, nil, ledger.Options{})
	var ops []string
	for i := 0; i < n; i++ {
		res, err := e.Settle(ctx, ledger.Settlement{
			Kind:      models.OpBalanceAdjustment,
			AccountID: "u1",
			Plan: func(context.Context, repository.Tx) (ledger.Plan, error) {
				return ledger.Plan{
					Deltas: []ledger.Delta{{AccountID: "u1", Symbol: "USD", Amount: decimal.NewFromInt(1)}},
					Event:  &ledger.Event{Type: models.EventBalanceAdjusted, Payload: map[string]any{"reason": "test"}},
				}, nil
			},
		})
		require.NoError(t, err)
		ops = append(ops, res.Operation.ID)
	}
	return ops
}

func TestDrain_DeliversOnce(t *testing.T) {
	store := memory.NewStore()
	ops := settle(t, store, 5)
	pub := &recorder{}
	pool := worker.NewPool(3, 16)
	defer pool.Stop()
	d := NewDispatcher(memory.NewOutbox(store), pub, pool, nil, Options{})

	stats, err := d.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Claimed: 5, Delivered: 5}, stats)

	var got []string
	for _, m := range pub.msgs {
		got = append(got, m.OperationID)
		assert.Equal(t, models.EventBalanceAdjusted, m.EventType)
		assert.Equal(t, m.OperationID, m.Payload["operation_id"])
	}
	assert.ElementsMatch(t, ops, got)

	stats, err = d.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
}

func TestDrain_DeadAfterMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	clock := useClock(store)
	settle(t, store, 1)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.AnythingOfType("outbox.Message")).Return(errors.New("broker down"))
	ob := memory.NewOutbox(store)
	d := NewDispatcher(ob, pub, nil, nil, Options{MaxAttempts: 3, RetryBackoff: time.Second})

	for i := 0; i < 2; i++ {
		stats, err := d.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, DrainStats{Claimed: 1, Failed: 1}, stats)
		clock.Advance(time.Minute)
	}
	stats, err := d.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Claimed: 1, Failed: 1, Dead: 1}, stats)

	clock.Advance(time.Hour)
	stats, err = d.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed, "dead events are not retried")
	pub.AssertNumberOfCalls(t, "Publish", 3)

	evs := store.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, models.OutboxDead, evs[0].Status)
	assert.Equal(t, 3, evs[0].Attempts)
	assert.Equal(t, "broker down", evs[0].LastError)
	assert.Nil(t, evs[0].LockedUntil)
}

func TestDrain_RecoversAfterTransientFailure(t *testing.T) {
	store := memory.NewStore()
	clock := useClock(store)
	settle(t, store, 1)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("timeout")).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	d := NewDispatcher(memory.NewOutbox(store), pub, nil, nil, Options{MaxAttempts: 5, RetryBackoff: time.Second})

	stats, err := d.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	clock.Advance(2 * time.Second)
	stats, err = d.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	pub.AssertExpectations(t)
}

func TestDrain_LeaseHidesClaimedEvents(t *testing.T) {
	store := memory.NewStore()
	clock := useClock(store)
	settle(t, store, 2)
	ob := memory.NewOutbox(store)

	// another dispatcher claimed them and crashed
	claimed, err := ob.Claim(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	pub := &recorder{}
	d := NewDispatcher(ob, pub, nil, nil, Options{Lease: time.Minute})
	stats, err := d.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)

	clock.Advance(2 * time.Minute)
	stats, err = d.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Delivered)
}

func TestDrain_BacksOffAfterFailure(t *testing.T) {
	store := memory.NewStore()
	clock := useClock(store)
	settle(t, store, 1)
	pub := &failing{}
	d := NewDispatcher(memory.NewOutbox(store), pub, nil, nil, Options{MaxAttempts: 5, RetryBackoff: 10 * time.Second})
	ctx := context.Background()

	stats, err := d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Claimed: 1, Failed: 1}, stats)

	stats, err = d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed, "retried right after failing")

	clock.Advance(9 * time.Second)
	stats, err = d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed, "retried before the backoff elapsed")

	clock.Advance(2 * time.Second)
	stats, err = d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Claimed: 1, Failed: 1}, stats)

	// the second failure doubles the wait
	evs := store.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].LockedUntil)
	assert.Equal(t, clock.Now().Add(20*time.Second), *evs[0].LockedUntil)

	clock.Advance(15 * time.Second)
	stats, err = d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)

	clock.Advance(6 * time.Second)
	stats, err = d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.EqualValues(t, 3, pub.calls.Load())
}

func TestOptions_Backoff(t *testing.T) {
	o := Options{RetryBackoff: time.Second, MaxBackoff: 5 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, o.backoff(0))
	assert.Equal(t, 2*time.Second, o.backoff(1))
	assert.Equal(t, 4*time.Second, o.backoff(2))
	assert.Equal(t, 5*time.Second, o.backoff(3))
	assert.Equal(t, 5*time.Second, o.backoff(30))

	def := Options{Interval: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, def.backoff(0))
	assert.Equal(t, 5*time.Minute, def.backoff(10))
}

func TestMarkDelivered_Idempotent(t *testing.T) {
	store := memory.NewStore()
	settle(t, store, 1)
	ob := memory.NewOutbox(store)
	evs, err := ob.Claim(context.Background(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	require.NoError(t, ob.MarkDelivered(context.Background(), evs[0].ID))
	first, err := ob.Event(context.Background(), evs[0].ID)
	require.NoError(t, err)
	require.NoError(t, ob.MarkDelivered(context.Background(), evs[0].ID))
	second, err := ob.Event(context.Background(), evs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, first.DeliveredAt, second.DeliveredAt)

	dead, err := ob.MarkFailed(context.Background(), evs[0].ID, "late failure", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, dead, "a delivered event stays delivered")
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	settle(t, store, 3)
	pub := &recorder{}
	d := NewDispatcher(memory.NewOutbox(store), pub, nil, nil, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.msgs) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_FailedBatchWaitsForNextTick(t *testing.T) {
	store := memory.NewStore()
	settle(t, store, 4)
	pub := &failing{}
	d := NewDispatcher(memory.NewOutbox(store), pub, nil, nil, Options{BatchSize: 4, MaxAttempts: 5, Interval: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.calls.Load() == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.EqualValues(t, 4, pub.calls.Load(), "each event is tried once per interval")
	for _, ev := range store.Events() {
		assert.Equal(t, models.OutboxPending, ev.Status)
		assert.Equal(t, 1, ev.Attempts)
	}
}
