package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-broker/internal/ai"
	"github.com/suPer8Hu/ai-broker/internal/broker"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/db/dbtest"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/history"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

const secret = "test-secret"

type fixture struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	drafts *draft.Store
	broker *broker.Service
	svc    *Service
	calls  int
}

func newFixture(t *testing.T, genErr error) *fixture {
	t.Helper()
	var models []any
	models = append(models, ledger.Models()...)
	models = append(models, draft.Models()...)
	models = append(models, history.Models()...)
	gdb := dbtest.Open(t, models...)

	rt := config.StaticRuntime(config.DefaultRuntime())
	f := &fixture{db: gdb}
	gen := ai.GeneratorFunc(func(ctx context.Context, messages []ai.Message) (ai.Result, error) {
		f.calls++
		if genErr != nil {
			return ai.Result{}, genErr
		}
		return ai.Result{Text: "reading", TokensIn: 1, TokensOut: 2}, nil
	})
	f.ledger = ledger.New(gdb, rt)
	f.drafts = draft.NewStore(gdb, func() time.Duration { return 72 * time.Hour })
	f.broker = broker.NewService(f.ledger, f.drafts, history.NewRepo(gdb), gen, rt, time.Second)
	f.svc = NewService(f.ledger, f.drafts, f.broker, rt, secret)
	return f
}

// parkDraft exhausts the free allowance and defers one tarot request.
func (f *fixture) parkDraft(t *testing.T, userID uint64) broker.Deferred {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.ResetFree(ctx, userID, 0))
	payload := request.Payload{Flow: "tarot", Subtype: "one", Fields: []request.Field{{Name: "question", Value: "q"}}}
	out, err := f.broker.Fulfill(ctx, userID, payload, broker.Options{})
	require.NoError(t, err)
	d, ok := out.(broker.Deferred)
	require.True(t, ok)
	return d
}

func TestDraftCallback_DeliveredTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	d := f.parkDraft(t, 1)

	inv, err := f.svc.DraftInvoice(ctx, 1, d.DraftID)
	require.NoError(t, err)
	assert.Equal(t, d.Price, inv.Price)
	assert.Equal(t, "XTR", inv.Currency)

	cb := Callback{UserID: 1, Invoice: inv.Payload, ExternalChargeID: "ch_1"}
	first, err := f.svc.OnSuccess(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, DraftServed, first.Kind)
	require.NotNil(t, first.Served)
	assert.Equal(t, "reading", first.Served.Entry.ResultText)
	assert.Equal(t, d.Price, first.Served.Entry.PricePaid)

	second, err := f.svc.OnSuccess(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, second.Kind)
	assert.Equal(t, 1, f.calls)

	var payments int64
	require.NoError(t, f.db.Model(&ledger.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	acct, err := f.ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.CreditBalance)
}

func TestDraftCallback_MissingDraftKeepsCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	d := f.parkDraft(t, 2)

	inv, err := f.svc.DraftInvoice(ctx, 2, d.DraftID)
	require.NoError(t, err)
	require.NoError(t, f.drafts.Delete(ctx, 2, d.DraftID))

	res, err := f.svc.OnSuccess(ctx, Callback{UserID: 2, Invoice: inv.Payload, ExternalChargeID: "ch_2"})
	require.NoError(t, err)
	assert.Equal(t, DraftExpired, res.Kind)
	assert.Equal(t, 0, f.calls)

	acct, err := f.ledger.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, d.Price, acct.CreditBalance)
}

func TestDraftCallback_BackendFailureKeepsCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, errors.New("down"))
	d := f.parkDraft(t, 3)

	inv, err := f.svc.DraftInvoice(ctx, 3, d.DraftID)
	require.NoError(t, err)

	res, err := f.svc.OnSuccess(ctx, Callback{UserID: 3, Invoice: inv.Payload, ExternalChargeID: "ch_3"})
	assert.ErrorIs(t, err, broker.ErrBackendFailure)
	assert.Equal(t, DraftFailed, res.Kind)

	acct, err := f.ledger.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, d.Price, acct.CreditBalance)

	// still resumable with the credits just bought
	_, err = f.drafts.Get(ctx, d.DraftID)
	assert.NoError(t, err)
}

// spendingLedger lets another request spend the credits right after a payment lands.
type spendingLedger struct {
	*ledger.Ledger
	after func()
}

func (l spendingLedger) ApplyPayment(ctx context.Context, p *ledger.Payment) error {
	err := l.Ledger.ApplyPayment(ctx, p)
	if err == nil {
		l.after()
	}
	return err
}

func TestDraftCallback_CreditsSpentElsewhereKeepsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	d := f.parkDraft(t, 10)

	inv, err := f.svc.DraftInvoice(ctx, 10, d.DraftID)
	require.NoError(t, err)

	racing := spendingLedger{Ledger: f.ledger, after: func() {
		_, err := f.ledger.Charge(ctx, 10, d.Price)
		require.NoError(t, err)
	}}
	svc := NewService(racing, f.drafts, f.broker, config.StaticRuntime(config.DefaultRuntime()), secret)

	res, err := svc.OnSuccess(ctx, Callback{UserID: 10, Invoice: inv.Payload, ExternalChargeID: "ch_10"})
	require.NoError(t, err)
	assert.Equal(t, DraftUnfunded, res.Kind)
	assert.Equal(t, d.Price, res.Price)
	assert.Equal(t, 0, f.calls)

	kept, err := f.drafts.Get(ctx, d.DraftID)
	require.NoError(t, err)
	assert.Equal(t, d.Price, kept.Price)

	// paying again serves the same draft
	inv, err = f.svc.DraftInvoice(ctx, 10, d.DraftID)
	require.NoError(t, err)
	res, err = f.svc.OnSuccess(ctx, Callback{UserID: 10, Invoice: inv.Payload, ExternalChargeID: "ch_10b"})
	require.NoError(t, err)
	assert.Equal(t, DraftServed, res.Kind)
	assert.Equal(t, 1, f.calls)
}

// flakyDrafts fails the first n Pops.
type flakyDrafts struct {
	*draft.Store
	failures int
}

func (d *flakyDrafts) Pop(ctx context.Context, id uint64) (*draft.Draft, error) {
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("store unavailable")
	}
	return d.Store.Pop(ctx, id)
}

func TestDraftCallback_RedeliveryAfterStoreErrorServesDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	d := f.parkDraft(t, 11)

	inv, err := f.svc.DraftInvoice(ctx, 11, d.DraftID)
	require.NoError(t, err)
	svc := NewService(f.ledger, &flakyDrafts{Store: f.drafts, failures: 1}, f.broker, config.StaticRuntime(config.DefaultRuntime()), secret)
	cb := Callback{UserID: 11, Invoice: inv.Payload, ExternalChargeID: "ch_11"}

	_, err = svc.OnSuccess(ctx, cb)
	require.Error(t, err)
	acct, err := f.ledger.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, d.Price, acct.CreditBalance)

	res, err := svc.OnSuccess(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, DraftServed, res.Kind)
	assert.Equal(t, 1, f.calls)

	res, err = svc.OnSuccess(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Kind)

	acct, err = f.ledger.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.CreditBalance)
}

func TestPlanCallback_GrantsSubscriptionOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	inv, err := f.svc.PlanInvoice(4, "week")
	require.NoError(t, err)
	assert.Equal(t, int64(99), inv.Price)

	cb := Callback{UserID: 4, Invoice: inv.Payload, ExternalChargeID: "ch_week"}
	res, err := f.svc.OnSuccess(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, PlanApplied, res.Kind)
	assert.Equal(t, "week", res.Plan)

	acct, err := f.ledger.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, acct.SubscriptionUntil)
	first := *acct.SubscriptionUntil

	res, err = f.svc.OnSuccess(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Kind)

	acct, err = f.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.True(t, first.Equal(*acct.SubscriptionUntil))
}

func TestPlanCallback_CreditPack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	inv, err := f.svc.PlanInvoice(5, "stars50")
	require.NoError(t, err)
	_, err = f.svc.OnSuccess(ctx, Callback{UserID: 5, Invoice: inv.Payload, ExternalChargeID: "ch_pack"})
	require.NoError(t, err)

	acct, err := f.ledger.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(50), acct.CreditBalance)
}

func TestVerify_RejectsTampering(t *testing.T) {
	f := newFixture(t, nil)
	inv, err := f.svc.PlanInvoice(6, "day")
	require.NoError(t, err)

	_, err = f.svc.Verify(Callback{UserID: 7, Invoice: inv.Payload, ExternalChargeID: "c"})
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	_, err = f.svc.Verify(Callback{UserID: 6, Invoice: inv.Payload + "x", ExternalChargeID: "c"})
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	_, err = f.svc.Verify(Callback{UserID: 6, Invoice: inv.Payload})
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	other := NewService(nil, nil, nil, config.StaticRuntime(config.DefaultRuntime()), "other-secret")
	_, err = other.Verify(Callback{UserID: 6, Invoice: inv.Payload, ExternalChargeID: "c"})
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	_, err = f.svc.PlanInvoice(6, "nope")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestDraftInvoice_OtherUsersDraft(t *testing.T) {
	f := newFixture(t, nil)
	d := f.parkDraft(t, 8)
	_, err := f.svc.DraftInvoice(context.Background(), 9, d.DraftID)
	assert.ErrorIs(t, err, draft.ErrNotFound)
}
