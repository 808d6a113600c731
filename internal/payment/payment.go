// Package payment issues purchase intents and resumes parked requests once
// the gateway reports a successful charge.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/suPer8Hu/ai-broker/internal/broker"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

var ErrUnknownPlan = errors.New("payment: unknown plan")

type Ledger interface {
	ApplyPayment(ctx context.Context, p *ledger.Payment) error
	PaymentByCharge(ctx context.Context, chargeID string) (*ledger.Payment, error)
}

type Drafts interface {
	Get(ctx context.Context, id uint64) (*draft.Draft, error)
	Pop(ctx context.Context, id uint64) (*draft.Draft, error)
	Restore(ctx context.Context, d *draft.Draft) error
}

type Fulfiller interface {
	Fulfill(ctx context.Context, userID uint64, payload request.Payload, opts broker.Options) (broker.Outcome, error)
}

// Callback is the gateway's success notification.
type Callback struct {
	UserID           uint64 `json:"user_id"`
	Invoice          string `json:"invoice"`
	ExternalChargeID string `json:"external_charge_id"`
}

type ResultKind string

const (
	PlanApplied  ResultKind = "plan_applied"
	DraftServed  ResultKind = "draft_served"
	DraftExpired ResultKind = "draft_expired"
	// DraftFailed: paid, but generation failed; the credits and the draft are kept.
	DraftFailed ResultKind = "draft_failed"
	// DraftUnfunded: paid, but the credits were spent elsewhere before the
	// draft could claim them; the draft is kept.
	DraftUnfunded ResultKind = "draft_unfunded"
	Duplicate     ResultKind = "duplicate"
)

type Result struct {
	Kind    ResultKind
	UserID  uint64
	Plan    string
	DraftID uint64
	Price   int64
	Served  *broker.Served
}

type Service struct {
	ledger    Ledger
	drafts    Drafts
	broker    Fulfiller
	runtime   *config.RuntimeStore
	secret    []byte
	intentTTL time.Duration
	now       func() time.Time
}

func NewService(l Ledger, d Drafts, b Fulfiller, rt *config.RuntimeStore, secret string) *Service {
	return &Service{
		ledger:    l,
		drafts:    d,
		broker:    b,
		runtime:   rt,
		secret:    []byte(secret),
		intentTTL: 24 * time.Hour,
		now:       time.Now,
	}
}

// PlanInvoice builds a purchase intent for a plan from the current runtime.
func (s *Service) PlanInvoice(userID uint64, name string) (Invoice, error) {
	plan, ok := s.runtime.Current().Plans[name]
	if !ok {
		return Invoice{}, ErrUnknownPlan
	}
	token, err := signInvoice(s.secret, InvoiceClaims{
		UserID: userID, Kind: ledger.PaymentPlan, Ref: name, Price: plan.Price,
	}, s.intentTTL, s.now())
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{Title: plan.Title, Payload: token, Price: plan.Price, Currency: Currency}, nil
}

// DraftInvoice builds a purchase intent for exactly the price quoted on the draft.
func (s *Service) DraftInvoice(ctx context.Context, userID, draftID uint64) (Invoice, error) {
	d, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return Invoice{}, err
	}
	if d.UserID != userID {
		return Invoice{}, draft.ErrNotFound
	}
	token, err := signInvoice(s.secret, InvoiceClaims{
		UserID: userID, Kind: ledger.PaymentDraft, Ref: strconv.FormatUint(draftID, 10), Price: d.Price,
	}, s.intentTTL, s.now())
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{Title: "Unlock request #" + strconv.FormatUint(draftID, 10), Payload: token, Price: d.Price, Currency: Currency}, nil
}

// Verify checks a callback without applying it.
func (s *Service) Verify(cb Callback) (*InvoiceClaims, error) {
	if cb.ExternalChargeID == "" {
		return nil, fmt.Errorf("%w: missing charge id", ErrInvalidInvoice)
	}
	claims, err := parseInvoice(s.secret, cb.Invoice)
	if err != nil {
		return nil, err
	}
	if claims.UserID != cb.UserID {
		return nil, fmt.Errorf("%w: user mismatch", ErrInvalidInvoice)
	}
	return claims, nil
}

// OnSuccess applies a successful payment. Redelivery of the same charge id
// never credits twice and never fulfils a draft twice.
func (s *Service) OnSuccess(ctx context.Context, cb Callback) (Result, error) {
	claims, err := s.Verify(cb)
	if err != nil {
		return Result{}, err
	}
	switch claims.Kind {
	case ledger.PaymentPlan:
		return s.applyPlan(ctx, cb, claims)
	default:
		return s.applyDraft(ctx, cb, claims)
	}
}

func (s *Service) applyPlan(ctx context.Context, cb Callback, c *InvoiceClaims) (Result, error) {
	res := Result{Kind: PlanApplied, UserID: c.UserID, Plan: c.Ref}
	plan, ok := s.runtime.Current().Plans[c.Ref]
	if !ok {
		// paid for a plan that was since removed; keep the value as credits
		plan = config.Plan{Credits: c.Price}
	}
	err := s.ledger.ApplyPayment(ctx, &ledger.Payment{
		ExternalChargeID: cb.ExternalChargeID,
		UserID:           c.UserID,
		Kind:             ledger.PaymentPlan,
		Ref:              c.Ref,
		Amount:           c.Price,
		Credits:          plan.Credits,
		SubscriptionDays: plan.Days,
		Lifetime:         plan.Lifetime,
	})
	if errors.Is(err, ledger.ErrDuplicateCharge) {
		res.Kind = Duplicate
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) applyDraft(ctx context.Context, cb Callback, c *InvoiceClaims) (Result, error) {
	draftID, err := strconv.ParseUint(c.Ref, 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("%w: bad draft ref", ErrInvalidInvoice)
	}
	res := Result{Kind: DraftExpired, UserID: c.UserID, DraftID: draftID}

	err = s.ledger.ApplyPayment(ctx, &ledger.Payment{
		ExternalChargeID: cb.ExternalChargeID,
		UserID:           c.UserID,
		Kind:             ledger.PaymentDraft,
		Ref:              c.Ref,
		Amount:           c.Price,
		Credits:          c.Price,
	})
	redelivered := errors.Is(err, ledger.ErrDuplicateCharge)
	if err != nil && !redelivered {
		return Result{}, err
	}
	if redelivered {
		// credits are already on the balance; serve the draft only if an
		// earlier delivery stopped before claiming it
		paid, err := s.ledger.PaymentByCharge(ctx, cb.ExternalChargeID)
		if err != nil {
			return Result{}, err
		}
		if paid.Kind != ledger.PaymentDraft || paid.Ref != c.Ref || paid.UserID != c.UserID {
			res.Kind = Duplicate
			return res, nil
		}
	}

	d, err := s.drafts.Pop(ctx, draftID)
	if errors.Is(err, draft.ErrNotFound) {
		if redelivered {
			res.Kind = Duplicate
			return res, nil
		}
		slog.Warn("paid draft is gone, credits kept", "user_id", c.UserID, "draft_id", draftID, "charge_id", cb.ExternalChargeID)
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	if d.UserID != c.UserID {
		slog.Error("paid draft belongs to another user", "user_id", c.UserID, "draft_id", draftID)
		s.restore(ctx, d)
		return res, nil
	}
	payload, err := d.Request()
	if err != nil {
		return Result{}, fmt.Errorf("payment: decode draft %d: %w", draftID, err)
	}

	out, err := s.broker.Fulfill(ctx, c.UserID, payload, broker.Options{Prepaid: true, Price: d.Price})
	switch {
	case errors.Is(err, ledger.ErrAccessDenied):
		// the paid credits went to another request first
		slog.Warn("paid credits already spent, draft kept", "user_id", c.UserID, "draft_id", draftID)
		s.restore(ctx, d)
		res.Kind = DraftUnfunded
		res.Price = d.Price
		return res, nil
	case errors.Is(err, broker.ErrBackendFailure):
		slog.Error("paid draft not fulfilled", "user_id", c.UserID, "draft_id", draftID, "error", err)
		s.restore(ctx, d)
		res.Kind = DraftFailed
		return res, err
	case err != nil:
		s.restore(ctx, d)
		return Result{}, err
	}
	served, ok := out.(broker.Served)
	if !ok {
		return Result{}, fmt.Errorf("payment: unexpected outcome %T", out)
	}
	res.Kind = DraftServed
	res.Served = &served
	return res, nil
}

func (s *Service) restore(ctx context.Context, d *draft.Draft) {
	if err := s.drafts.Restore(context.WithoutCancel(ctx), d); err != nil {
		slog.Error("draft not restored", "user_id", d.UserID, "draft_id", d.ID, "error", err)
	}
}
