package ledger

import "time"

type Account struct {
	UserID            uint64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	FreeRemaining     int64      `gorm:"not null;default:0" json:"free_remaining"`
	CreditBalance     int64      `gorm:"not null;default:0" json:"credit_balance"`
	SubscriptionUntil *time.Time `json:"subscription_until,omitempty"`
	// bumped on every subscription change
	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "ledger_accounts" }

// Subscribed reports whether the subscription covers the instant t.
func (a Account) Subscribed(t time.Time) bool {
	return a.SubscriptionUntil != nil && a.SubscriptionUntil.After(t)
}

type PaymentKind string

const (
	PaymentPlan  PaymentKind = "plan"
	PaymentDraft PaymentKind = "draft"
)

// Payment records one successful external charge. ExternalChargeID is unique,
// so a redelivered callback cannot be applied twice.
type Payment struct {
	ID               string      `gorm:"type:varchar(26);primaryKey" json:"id"`
	ExternalChargeID string      `gorm:"type:varchar(128);uniqueIndex;not null" json:"external_charge_id"`
	UserID           uint64      `gorm:"index;not null" json:"user_id"`
	Kind             PaymentKind `gorm:"type:varchar(16);not null" json:"kind"`
	Ref              string      `gorm:"type:varchar(64);not null" json:"ref"`
	Amount           int64       `gorm:"not null" json:"amount"`
	Credits          int64       `gorm:"not null;default:0" json:"credits"`
	SubscriptionDays int         `gorm:"not null;default:0" json:"subscription_days"`
	Lifetime         bool        `gorm:"not null;default:false" json:"lifetime"`
	CreatedAt        time.Time   `json:"created_at"`
}

func (Payment) TableName() string { return "ledger_payments" }

type Source string

const (
	SourceSubscription Source = "subscription"
	SourceFree         Source = "free"
	SourceCredit       Source = "credit"
)

// Receipt describes exactly what a charge took, so Refund can put it back.
type Receipt struct {
	UserID uint64 `json:"user_id"`
	Source Source `json:"source"`
	Amount int64  `json:"amount"`
}
