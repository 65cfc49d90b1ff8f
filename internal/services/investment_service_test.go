package services

import (
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invest(t *testing.T, f *fixture, svc *InvestmentService, repeat int, capitalBack bool) models.Investment {
	t.Helper()
	inv, _, err := svc.ExecuteInvestment(f.ctx, ExecuteInvestment{
		UserID: "u1", PlanID: "p1", PlanName: "Gold", Amount: dec("500"),
		Interest: dec("2"), InterestType: models.InterestPercent,
		Period: 24 * time.Hour, RepeatTime: repeat, CapitalBack: capitalBack,
	})
	require.NoError(t, err)
	return inv
}

func TestInvestment_FullSchedule(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewInvestmentService(f.deps())

	inv := invest(t, f, svc, 3, true)
	assert.Equal(t, "500", f.balance("u1", "USD"))
	assert.Equal(t, models.InvestmentRunning, inv.Status)
	assert.Equal(t, f.clock().Add(24*time.Hour), inv.NextTime)

	for cycle := 1; cycle <= 3; cycle++ {
		f.advance(24 * time.Hour)
		inv, _, err := svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
		require.NoError(t, err)
		assert.Equal(t, cycle, inv.RepeatTimeCount)
	}

	got, err := f.store.Investment(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvestmentCompleted, got.Status)
	assert.Equal(t, "30", got.TotalPaid.String())
	// 500 left + 3 * 10 interest + 500 capital back
	assert.Equal(t, "1030", f.balance("u1", "USD"))

	_, _, err = svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestInvestment_NoCapitalBackAndFixedInterest(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "100")
	svc := NewInvestmentService(f.deps())

	inv, _, err := svc.ExecuteInvestment(f.ctx, ExecuteInvestment{
		UserID: "u1", PlanID: "p2", Amount: dec("100"), Interest: dec("7.5"),
		InterestType: models.InterestFixed, Period: time.Hour, RepeatTime: 1,
	})
	require.NoError(t, err)
	f.advance(time.Hour)
	inv, _, err = svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, models.InvestmentCompleted, inv.Status)
	assert.Equal(t, "7.5", f.balance("u1", "USD"))
}

func TestInvestment_PayoutBeforeDueRefused(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewInvestmentService(f.deps())
	inv := invest(t, f, svc, 2, false)

	f.advance(time.Hour)
	_, _, err := svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "500", f.balance("u1", "USD"))

	// the refused attempt does not burn the cycle key
	_, _, err = svc.Payout(f.ctx, Payout{InvestmentID: inv.ID, Now: f.clock().Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "510", f.balance("u1", "USD"))
}

func TestInvestment_LatePayoutKeepsSchedule(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewInvestmentService(f.deps())
	start := f.clock()
	inv := invest(t, f, svc, 4, false)

	f.advance(30 * time.Hour)
	inv, _, err := svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
	require.NoError(t, err)
	require.NotNil(t, inv.LastTime)
	assert.Equal(t, f.clock(), *inv.LastTime)
	assert.Equal(t, start.Add(48*time.Hour), inv.NextTime)

	f.advance(18 * time.Hour)
	inv, _, err = svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, inv.RepeatTimeCount)

	// missed cycles stay due and can be caught up
	f.advance(72 * time.Hour)
	for cycle := 3; cycle <= 4; cycle++ {
		inv, _, err = svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
		require.NoError(t, err)
		assert.Equal(t, cycle, inv.RepeatTimeCount)
	}
	assert.Equal(t, models.InvestmentCompleted, inv.Status)
	assert.Equal(t, "540", f.balance("u1", "USD"))
}

func TestInvestment_ConcurrentPayoutPaysOnce(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewInvestmentService(f.deps())
	inv := invest(t, f, svc, 5, false)
	f.advance(24 * time.Hour)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _, err := svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			assert.ErrorIs(t, err, ErrInvalidState)
		}
	}
	assert.Equal(t, "510", f.balance("u1", "USD"))
	assert.Len(t, f.eventsOf(models.EventInvestmentPayout), 1)
}

func TestInvestment_PayDue(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1500")
	svc := NewInvestmentService(f.deps())
	a := invest(t, f, svc, 2, false)
	b := invest(t, f, svc, 2, false)

	paid, err := svc.PayDue(f.ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, paid, "nothing due yet")

	f.advance(25 * time.Hour)
	paid, err = svc.PayDue(f.ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, paid, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{paid[0].ID, paid[1].ID})
	assert.Equal(t, "520", f.balance("u1", "USD"))
}

func TestInvestment_Cancel(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "1000")
	svc := NewInvestmentService(f.deps())
	inv := invest(t, f, svc, 3, true)

	f.advance(24 * time.Hour)
	_, _, err := svc.Payout(f.ctx, Payout{InvestmentID: inv.ID})
	require.NoError(t, err)

	got, _, err := svc.CancelInvestment(f.ctx, CancelInvestment{InvestmentID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, models.InvestmentCancelled, got.Status)
	assert.Equal(t, "1010", f.balance("u1", "USD"))

	_, res, err := svc.CancelInvestment(f.ctx, CancelInvestment{InvestmentID: inv.ID})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "1010", f.balance("u1", "USD"))

	_, _, err = svc.Payout(f.ctx, Payout{InvestmentID: inv.ID, Now: f.clock().Add(48 * time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestInvestment_InsufficientAndValidation(t *testing.T) {
	f := newFixture(t, "u1")
	f.seed("u1", "USD", "100")
	svc := NewInvestmentService(f.deps())

	_, _, err := svc.ExecuteInvestment(f.ctx, ExecuteInvestment{
		UserID: "u1", PlanID: "p1", Amount: dec("500"), Interest: dec("1"),
		InterestType: models.InterestPercent, Period: time.Hour, RepeatTime: 1,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, "100", f.balance("u1", "USD"))

	_, _, err = svc.ExecuteInvestment(f.ctx, ExecuteInvestment{
		UserID: "u1", PlanID: "p1", Amount: dec("50"), Interest: dec("1"),
		InterestType: "compound", Period: time.Hour, RepeatTime: 1,
	})
	assert.ErrorIs(t, err, ErrValidation)
}
