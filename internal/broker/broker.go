// Package broker decides whether a finished request is served now or parked
// behind a paywall, and runs the generation when it is served.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/ai-broker/internal/ai"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/history"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/pricing"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

// ErrBackendFailure means generation failed or timed out. Any charge was refunded.
var ErrBackendFailure = errors.New("broker: generation backend failed")

// Outcome is Served or Deferred.
type Outcome interface{ isOutcome() }

type Served struct {
	Entry history.Entry
}

type Deferred struct {
	DraftID uint64
	Price   int64
}

func (Served) isOutcome()   {}
func (Deferred) isOutcome() {}

type Options struct {
	// Prepaid skips the access check and charges credits only; the caller has
	// just credited the price.
	Prepaid bool
	// Price pins the price quoted earlier, e.g. on a paid draft.
	Price int64
}

type Ledger interface {
	HasAccess(ctx context.Context, userID uint64, price int64) (bool, error)
	Charge(ctx context.Context, userID uint64, price int64) (ledger.Receipt, error)
	ChargeCredits(ctx context.Context, userID uint64, price int64) (ledger.Receipt, error)
	Refund(ctx context.Context, rc ledger.Receipt) error
}

type Drafts interface {
	Save(ctx context.Context, userID uint64, payload request.Payload, price int64) (*draft.Draft, error)
}

type History interface {
	Insert(ctx context.Context, e *history.Entry) error
}

type Service struct {
	ledger  Ledger
	drafts  Drafts
	history History
	gen     ai.Generator
	runtime *config.RuntimeStore
	timeout time.Duration
}

func NewService(l Ledger, d Drafts, h History, gen ai.Generator, rt *config.RuntimeStore, timeout time.Duration) *Service {
	return &Service{ledger: l, drafts: d, history: h, gen: gen, runtime: rt, timeout: timeout}
}

// Policy prices against the current runtime snapshot. The paywall renders
// prices through this same method.
func (s *Service) Policy() pricing.Policy {
	return pricing.New(s.runtime.Current())
}

func (s *Service) Fulfill(ctx context.Context, userID uint64, payload request.Payload, opts Options) (Outcome, error) {
	rt := s.runtime.Current()
	price := opts.Price
	if price <= 0 {
		price = pricing.New(rt).Price(payload.Flow, payload)
	}

	var (
		rc  ledger.Receipt
		err error
	)
	if opts.Prepaid {
		rc, err = s.ledger.ChargeCredits(ctx, userID, price)
		if err != nil {
			return nil, fmt.Errorf("broker: prepaid charge: %w", err)
		}
	} else {
		ok, err := s.ledger.HasAccess(ctx, userID, price)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.park(ctx, userID, payload, price)
		}
		rc, err = s.ledger.Charge(ctx, userID, price)
		if errors.Is(err, ledger.ErrAccessDenied) {
			// lost a race against another charge
			return s.park(ctx, userID, payload, price)
		}
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, genErr := s.gen.Generate(genCtx, ai.BuildPrompt(payload, rt.Tone))
	cancel()
	if genErr != nil {
		slog.Error("generation failed",
			"user_id", userID, "flow", payload.Flow, "duration_ms", time.Since(start).Milliseconds(), "error", genErr)
		s.refund(ctx, rc)
		return nil, fmt.Errorf("%w: %v", ErrBackendFailure, genErr)
	}

	raw, err := payload.Marshal()
	if err != nil {
		s.refund(ctx, rc)
		return nil, err
	}
	paid := int64(0)
	if rc.Source == ledger.SourceCredit {
		paid = rc.Amount
	}
	entry := history.Entry{
		UserID:       userID,
		Flow:         payload.Flow,
		Subtype:      payload.Subtype,
		Payload:      raw,
		ResultText:   res.Text,
		PricePaid:    paid,
		ChargeSource: string(rc.Source),
		TokensIn:     res.TokensIn,
		TokensOut:    res.TokensOut,
	}
	if err := s.history.Insert(ctx, &entry); err != nil {
		// no history row means no charge
		s.refund(ctx, rc)
		return nil, err
	}

	slog.Info("request served",
		"user_id", userID, "flow", payload.Flow, "source", rc.Source, "price", price,
		"tokens_in", res.TokensIn, "tokens_out", res.TokensOut, "duration_ms", time.Since(start).Milliseconds())
	return Served{Entry: entry}, nil
}

func (s *Service) park(ctx context.Context, userID uint64, payload request.Payload, price int64) (Outcome, error) {
	d, err := s.drafts.Save(ctx, userID, payload, price)
	if err != nil {
		return nil, err
	}
	slog.Info("request deferred", "user_id", userID, "flow", payload.Flow, "draft_id", d.ID, "price", price)
	return Deferred{DraftID: d.ID, Price: price}, nil
}

func (s *Service) refund(ctx context.Context, rc ledger.Receipt) {
	// the request context may be what timed out
	ctx = context.WithoutCancel(ctx)
	if err := s.ledger.Refund(ctx, rc); err != nil {
		slog.Error("refund failed", "user_id", rc.UserID, "source", rc.Source, "amount", rc.Amount, "error", err)
	}
}
