package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/db/dbtest"
)

func newTestLedger(t *testing.T, freeQuota int64) *Ledger {
	t.Helper()
	rt := config.DefaultRuntime()
	rt.FreeQuota = freeQuota
	return New(dbtest.Open(t, Models()...), config.StaticRuntime(rt))
}

func TestGet_CreatesAccountWithFreeQuota(t *testing.T) {
	l := newTestLedger(t, 3)
	acct, err := l.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.FreeRemaining)
	assert.Equal(t, int64(0), acct.CreditBalance)
	assert.Nil(t, acct.SubscriptionUntil)

	// second call does not reset anything
	_, err = l.Charge(context.Background(), 42, 5)
	require.NoError(t, err)
	acct, err = l.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acct.FreeRemaining)
}

func TestHasAccess(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	assert.True(t, HasAccess(Account{SubscriptionUntil: &later}, 100, now))
	assert.False(t, HasAccess(Account{SubscriptionUntil: &earlier}, 100, now))
	assert.True(t, HasAccess(Account{FreeRemaining: 1}, 100, now))
	assert.True(t, HasAccess(Account{CreditBalance: 6}, 6, now))
	assert.False(t, HasAccess(Account{CreditBalance: 5}, 6, now))
}

func TestCharge_OrderFreeThenCredits(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	require.NoError(t, l.Credit(ctx, 1, 10))

	rc, err := l.Charge(ctx, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, Receipt{UserID: 1, Source: SourceFree, Amount: 1}, rc)

	rc, err = l.Charge(ctx, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, Receipt{UserID: 1, Source: SourceCredit, Amount: 6}, rc)

	_, err = l.Charge(ctx, 1, 6)
	assert.ErrorIs(t, err, ErrAccessDenied)

	acct, err := l.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.FreeRemaining)
	assert.Equal(t, int64(4), acct.CreditBalance)
}

func TestCharge_SubscriptionIsNoop(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 2)
	_, err := l.GrantSubscription(ctx, 7, 24*time.Hour)
	require.NoError(t, err)

	rc, err := l.Charge(ctx, 7, 9)
	require.NoError(t, err)
	assert.Equal(t, SourceSubscription, rc.Source)

	acct, err := l.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acct.FreeRemaining)
}

func TestChargeThenRefund_RestoresAccount(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name    string
		free    int64
		credits int64
	}{
		{"free", 1, 0},
		{"credit", 0, 20},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger(t, tc.free)
			if tc.credits > 0 {
				require.NoError(t, l.Credit(ctx, 5, tc.credits))
			}
			before, err := l.Get(ctx, 5)
			require.NoError(t, err)

			rc, err := l.Charge(ctx, 5, 6)
			require.NoError(t, err)
			require.NoError(t, l.Refund(ctx, rc))

			after, err := l.Get(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, before.FreeRemaining, after.FreeRemaining)
			assert.Equal(t, before.CreditBalance, after.CreditBalance)
		})
	}
}

func TestCharge_ConcurrentDoesNotDoubleSpend(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	_, err := l.Get(ctx, 9)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Charge(ctx, 9, 6)
		}(i)
	}
	wg.Wait()

	ok, denied := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrAccessDenied):
			denied++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, denied)

	acct, err := l.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.FreeRemaining)
}

func TestChargeCredits_IgnoresFreeAllowance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 3)
	require.NoError(t, l.Credit(ctx, 2, 6))

	rc, err := l.ChargeCredits(ctx, 2, 6)
	require.NoError(t, err)
	assert.Equal(t, SourceCredit, rc.Source)

	acct, err := l.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.FreeRemaining)
	assert.Equal(t, int64(0), acct.CreditBalance)

	_, err = l.ChargeCredits(ctx, 2, 6)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestGrantSubscription_ExtendsFromLaterOfNowAndExpiry(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	until, err := l.GrantSubscription(ctx, 3, 7*24*time.Hour)
	require.NoError(t, err)
	assert.True(t, until.Equal(now.Add(7*24*time.Hour)))

	until, err = l.GrantSubscription(ctx, 3, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, until.Equal(now.Add(8*24*time.Hour)))

	// an expired subscription restarts from now
	now = now.Add(30 * 24 * time.Hour)
	until, err = l.GrantSubscription(ctx, 3, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, until.Equal(now.Add(24*time.Hour)))
}

func TestApplyPayment_IdempotentByChargeID(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	p := &Payment{ExternalChargeID: "ch_1", UserID: 4, Kind: PaymentDraft, Ref: "12", Amount: 6, Credits: 6}
	require.NoError(t, l.ApplyPayment(ctx, p))
	assert.Len(t, p.ID, 26)

	dup := &Payment{ExternalChargeID: "ch_1", UserID: 4, Kind: PaymentDraft, Ref: "12", Amount: 6, Credits: 6}
	assert.ErrorIs(t, l.ApplyPayment(ctx, dup), ErrDuplicateCharge)

	acct, err := l.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), acct.CreditBalance)

	got, err := l.PaymentByCharge(ctx, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "12", got.Ref)

	_, err = l.PaymentByCharge(ctx, "ch_2")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestApplyPayment_SubscriptionPlans(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.ApplyPayment(ctx, &Payment{
		ExternalChargeID: "ch_week", UserID: 8, Kind: PaymentPlan, Ref: "week", Amount: 99, SubscriptionDays: 7,
	}))
	acct, err := l.Get(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, acct.SubscriptionUntil)
	assert.True(t, acct.SubscriptionUntil.Equal(now.Add(7*24*time.Hour)))

	require.NoError(t, l.ApplyPayment(ctx, &Payment{
		ExternalChargeID: "ch_life", UserID: 8, Kind: PaymentPlan, Ref: "life", Amount: 999, Lifetime: true,
	}))
	acct, err = l.Get(ctx, 8)
	require.NoError(t, err)
	assert.True(t, acct.Subscribed(now.Add(50*365*24*time.Hour)))
}

func TestResetFree(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	_, err := l.Charge(ctx, 6, 2)
	require.NoError(t, err)

	require.NoError(t, l.ResetFree(ctx, 6, 3))
	acct, err := l.Get(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.FreeRemaining)
}

func TestInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	_, err := l.Charge(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.ErrorIs(t, l.Credit(ctx, 1, -1), ErrInvalidAmount)
	assert.ErrorIs(t, l.ApplyPayment(ctx, &Payment{ExternalChargeID: "x", UserID: 1}), ErrInvalidAmount)
}
