// Package history keeps the append-only record of served requests.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-broker/internal/db"
)

var ErrNotFound = errors.New("history: entry not found")

type Entry struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64    `gorm:"not null;index:idx_history_user_id,priority:1" json:"user_id"`
	Flow         string    `gorm:"type:varchar(32);not null" json:"flow"`
	Subtype      string    `gorm:"type:varchar(32)" json:"subtype"`
	Payload      string    `gorm:"type:text;not null" json:"payload"`
	ResultText   string    `gorm:"type:text;not null" json:"result_text"`
	PricePaid    int64     `gorm:"not null;default:0" json:"price_paid"`
	ChargeSource string    `gorm:"type:varchar(16);not null" json:"charge_source"`
	TokensIn     int       `gorm:"not null;default:0" json:"tokens_in"`
	TokensOut    int       `gorm:"not null;default:0" json:"tokens_out"`
	IsFavorite   bool      `gorm:"not null;default:false;index" json:"is_favorite"`
	CreatedAt    time.Time `gorm:"index:idx_history_user_id,priority:2" json:"created_at"`
}

func (Entry) TableName() string { return "history_entries" }

func Models() []any { return []any{&Entry{}} }

type Repo struct {
	db *gorm.DB
}

func NewRepo(gdb *gorm.DB) *Repo {
	return &Repo{db: gdb}
}

func (r *Repo) Insert(ctx context.Context, e *Entry) error {
	err := db.Retry(ctx, "history.insert", func() error {
		return r.db.WithContext(ctx).Create(e).Error
	})
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, userID, id uint64) (*Entry, error) {
	var e Entry
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListRecent returns the newest entries first.
func (r *Repo) ListRecent(ctx context.Context, userID uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []Entry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) ListFavorites(ctx context.Context, userID uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Entry
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_favorite = ?", userID, true).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetFavorite flips the favorite flag on an entry the user owns.
func (r *Repo) SetFavorite(ctx context.Context, userID, id uint64, fav bool) error {
	res := r.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_favorite", fav)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// sqlite counts unchanged rows as affected; mysql does not
		if _, err := r.Get(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}
