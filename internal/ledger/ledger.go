// Package ledger owns each user's free allowance, credit balance and subscription.
// Every mutation is a conditional UPDATE inside a store transaction, so two
// concurrent charges can never spend the same unit twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/ai-broker/internal/common"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/db"
)

// LifetimeGrant is how far a lifetime plan pushes the subscription expiry.
const LifetimeGrant = 100 * 365 * 24 * time.Hour

type Ledger struct {
	db      *gorm.DB
	runtime *config.RuntimeStore
	now     func() time.Time
}

func New(gdb *gorm.DB, rt *config.RuntimeStore) *Ledger {
	return &Ledger{db: gdb, runtime: rt, now: time.Now}
}

// Models lists the tables this package needs migrated.
func Models() []any {
	return []any{&Account{}, &Payment{}}
}

// HasAccess is the read-only access decision; Charge re-checks it atomically.
func HasAccess(acct Account, price int64, now time.Time) bool {
	if acct.Subscribed(now) {
		return true
	}
	if acct.FreeRemaining > 0 {
		return true
	}
	return acct.CreditBalance >= price
}

func (l *Ledger) HasAccess(ctx context.Context, userID uint64, price int64) (bool, error) {
	acct, err := l.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasAccess(acct, price, l.now()), nil
}

// Get returns the account, creating it with the configured free allowance on first sight.
func (l *Ledger) Get(ctx context.Context, userID uint64) (Account, error) {
	var acct Account
	err := db.Retry(ctx, "ledger.get", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			a, err := l.load(tx, userID)
			acct = a
			return err
		})
	})
	return acct, err
}

func (l *Ledger) load(tx *gorm.DB, userID uint64) (Account, error) {
	seed := Account{UserID: userID, FreeRemaining: l.runtime.Current().FreeQuota}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return Account{}, fmt.Errorf("ledger: create account: %w", err)
	}
	var acct Account
	if err := tx.Where("user_id = ?", userID).First(&acct).Error; err != nil {
		return Account{}, fmt.Errorf("ledger: load account: %w", err)
	}
	return acct, nil
}

// Charge takes one unit of access: nothing under a subscription, else one free
// use, else price credits. On ErrAccessDenied the account is unchanged.
func (l *Ledger) Charge(ctx context.Context, userID uint64, price int64) (Receipt, error) {
	if price <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	var rc Receipt
	err := db.Retry(ctx, "ledger.charge", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			acct, err := l.load(tx, userID)
			if err != nil {
				return err
			}
			if acct.Subscribed(l.now()) {
				rc = Receipt{UserID: userID, Source: SourceSubscription}
				return nil
			}

			ok, err := takeFree(tx, userID)
			if err != nil {
				return err
			}
			if ok {
				rc = Receipt{UserID: userID, Source: SourceFree, Amount: 1}
				return nil
			}

			ok, err = takeCredits(tx, userID, price)
			if err != nil {
				return err
			}
			if ok {
				rc = Receipt{UserID: userID, Source: SourceCredit, Amount: price}
				return nil
			}
			return ErrAccessDenied
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	slog.Debug("ledger charge", "user_id", userID, "source", rc.Source, "amount", rc.Amount)
	return rc, nil
}

// ChargeCredits charges credits only. The prepaid path uses it right after a
// payment has been applied, so a free use is never burned on a paid request.
func (l *Ledger) ChargeCredits(ctx context.Context, userID uint64, price int64) (Receipt, error) {
	if price <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	err := db.Retry(ctx, "ledger.charge_credits", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := l.load(tx, userID); err != nil {
				return err
			}
			ok, err := takeCredits(tx, userID, price)
			if err != nil {
				return err
			}
			if !ok {
				return ErrAccessDenied
			}
			return nil
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{UserID: userID, Source: SourceCredit, Amount: price}, nil
}

func takeFree(tx *gorm.DB, userID uint64) (bool, error) {
	res := tx.Model(&Account{}).
		Where("user_id = ? AND free_remaining > 0", userID).
		Update("free_remaining", gorm.Expr("free_remaining - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("ledger: take free: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func takeCredits(tx *gorm.DB, userID uint64, price int64) (bool, error) {
	res := tx.Model(&Account{}).
		Where("user_id = ? AND credit_balance >= ?", userID, price).
		Update("credit_balance", gorm.Expr("credit_balance - ?", price))
	if res.Error != nil {
		return false, fmt.Errorf("ledger: take credits: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Refund reverses exactly what the receipt took.
func (l *Ledger) Refund(ctx context.Context, rc Receipt) error {
	var col string
	switch rc.Source {
	case SourceSubscription:
		return nil
	case SourceFree:
		col = "free_remaining"
	case SourceCredit:
		col = "credit_balance"
	default:
		return fmt.Errorf("ledger: unknown receipt source %q", rc.Source)
	}
	if rc.Amount <= 0 {
		return ErrInvalidAmount
	}

	err := db.Retry(ctx, "ledger.refund", func() error {
		return l.db.WithContext(ctx).Model(&Account{}).
			Where("user_id = ?", rc.UserID).
			Update(col, gorm.Expr(col+" + ?", rc.Amount)).Error
	})
	if err != nil {
		return fmt.Errorf("ledger: refund: %w", err)
	}
	slog.Info("ledger refund", "user_id", rc.UserID, "source", rc.Source, "amount", rc.Amount)
	return nil
}

func (l *Ledger) Credit(ctx context.Context, userID uint64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return db.Retry(ctx, "ledger.credit", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := l.load(tx, userID); err != nil {
				return err
			}
			return addCredits(tx, userID, amount)
		})
	})
}

func addCredits(tx *gorm.DB, userID uint64, amount int64) error {
	return tx.Model(&Account{}).
		Where("user_id = ?", userID).
		Update("credit_balance", gorm.Expr("credit_balance + ?", amount)).Error
}

// GrantSubscription extends the subscription by d, counting from the later of
// now and the current expiry.
func (l *Ledger) GrantSubscription(ctx context.Context, userID uint64, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, ErrInvalidAmount
	}
	var until time.Time
	err := db.Retry(ctx, "ledger.grant", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			u, err := l.extend(tx, userID, d)
			until = u
			return err
		})
	})
	return until, err
}

func (l *Ledger) extend(tx *gorm.DB, userID uint64, d time.Duration) (time.Time, error) {
	for attempt := 0; attempt < 3; attempt++ {
		acct, err := l.load(tx, userID)
		if err != nil {
			return time.Time{}, err
		}
		from := l.now()
		if acct.SubscriptionUntil != nil && acct.SubscriptionUntil.After(from) {
			from = *acct.SubscriptionUntil
		}
		until := from.Add(d).UTC()

		res := tx.Model(&Account{}).
			Where("user_id = ? AND version = ?", userID, acct.Version).
			Updates(map[string]any{
				"subscription_until": until,
				"version":            gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return time.Time{}, fmt.Errorf("ledger: extend subscription: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return until, nil
		}
	}
	return time.Time{}, ErrConflict
}

// ApplyPayment records the payment and grants what it bought in one transaction.
// A repeated ExternalChargeID changes nothing and returns ErrDuplicateCharge.
func (l *Ledger) ApplyPayment(ctx context.Context, p *Payment) error {
	if p.ExternalChargeID == "" {
		return errors.New("ledger: payment without external charge id")
	}
	if p.Credits <= 0 && p.SubscriptionDays <= 0 && !p.Lifetime {
		return ErrInvalidAmount
	}
	if p.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		p.ID = id
	}

	err := db.Retry(ctx, "ledger.apply_payment", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Model(&Payment{}).
				Where("external_charge_id = ?", p.ExternalChargeID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrDuplicateCharge
			}
			if _, err := l.load(tx, p.UserID); err != nil {
				return err
			}
			if err := tx.Create(p).Error; err != nil {
				return err
			}
			if p.Credits > 0 {
				if err := addCredits(tx, p.UserID, p.Credits); err != nil {
					return err
				}
			}
			switch {
			case p.Lifetime:
				if _, err := l.extend(tx, p.UserID, LifetimeGrant); err != nil {
					return err
				}
			case p.SubscriptionDays > 0:
				if _, err := l.extend(tx, p.UserID, time.Duration(p.SubscriptionDays)*24*time.Hour); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateCharge) || l.paymentExists(ctx, p.ExternalChargeID) {
			slog.Warn("duplicate payment ignored", "user_id", p.UserID, "charge_id", p.ExternalChargeID)
			return ErrDuplicateCharge
		}
		return fmt.Errorf("ledger: apply payment: %w", err)
	}
	slog.Info("payment applied",
		"user_id", p.UserID, "charge_id", p.ExternalChargeID, "kind", p.Kind,
		"credits", p.Credits, "days", p.SubscriptionDays, "lifetime", p.Lifetime)
	return nil
}

// PaymentByCharge looks up an applied payment by the gateway's charge id.
func (l *Ledger) PaymentByCharge(ctx context.Context, chargeID string) (*Payment, error) {
	var p Payment
	err := l.db.WithContext(ctx).Where("external_charge_id = ?", chargeID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load payment: %w", err)
	}
	return &p, nil
}

func (l *Ledger) paymentExists(ctx context.Context, chargeID string) bool {
	var n int64
	err := l.db.WithContext(ctx).Model(&Payment{}).
		Where("external_charge_id = ?", chargeID).
		Count(&n).Error
	return err == nil && n > 0
}

// ResetFree sets the free allowance back to n. Administrative only.
func (l *Ledger) ResetFree(ctx context.Context, userID uint64, n int64) error {
	if n < 0 {
		return ErrInvalidAmount
	}
	return db.Retry(ctx, "ledger.reset_free", func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := l.load(tx, userID); err != nil {
				return err
			}
			return tx.Model(&Account{}).
				Where("user_id = ?", userID).
				Update("free_remaining", n).Error
		})
	})
}
