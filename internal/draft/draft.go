// Package draft parks fully built requests that are waiting on a payment.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/ai-broker/internal/db"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

var ErrNotFound = errors.New("draft: not found or expired")

type Draft struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"user_id"`
	Flow      string    `gorm:"type:varchar(32);not null" json:"flow"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	Price     int64     `gorm:"not null" json:"price"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
}

func (Draft) TableName() string { return "drafts" }

// Request decodes the stored payload.
func (d Draft) Request() (request.Payload, error) {
	return request.Unmarshal(d.Payload)
}

type Store struct {
	db  *gorm.DB
	ttl func() time.Duration
	now func() time.Time
}

// NewStore takes the TTL as a func so a runtime reload applies to new drafts.
func NewStore(gdb *gorm.DB, ttl func() time.Duration) *Store {
	return &Store{db: gdb, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func Models() []any { return []any{&Draft{}} }

func (s *Store) Save(ctx context.Context, userID uint64, payload request.Payload, price int64) (*Draft, error) {
	raw, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("draft: encode payload: %w", err)
	}
	now := s.now()
	d := &Draft{
		UserID:    userID,
		Flow:      payload.Flow,
		Payload:   raw,
		Price:     price,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl()),
	}
	err = db.Retry(ctx, "draft.save", func() error {
		return s.db.WithContext(ctx).Create(d).Error
	})
	if err != nil {
		return nil, fmt.Errorf("draft: save: %w", err)
	}
	return d, nil
}

// Get reads a live draft without consuming it.
func (s *Store) Get(ctx context.Context, id uint64) (*Draft, error) {
	var d Draft
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !d.ExpiresAt.After(s.now()) {
		return nil, ErrNotFound
	}
	return &d, nil
}

// Pop returns the draft and deletes it in one transaction; a second Pop of the
// same id gets ErrNotFound. Expired drafts are deleted and reported as not found.
func (s *Store) Pop(ctx context.Context, id uint64) (*Draft, error) {
	var out *Draft
	err := db.Retry(ctx, "draft.pop", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var d Draft
			if err := tx.First(&d, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			res := tx.Where("id = ?", id).Delete(&Draft{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				// another pop won
				return ErrNotFound
			}
			if d.ExpiresAt.After(s.now()) {
				out = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// Restore puts a popped draft back under its original id and expiry.
func (s *Store) Restore(ctx context.Context, d *Draft) error {
	err := db.Retry(ctx, "draft.restore", func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(d).Error
	})
	if err != nil {
		return fmt.Errorf("draft: restore %d: %w", d.ID, err)
	}
	return nil
}

// Delete removes a user's draft; a missing draft is ErrNotFound.
func (s *Store) Delete(ctx context.Context, userID, id uint64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Draft{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID uint64) ([]Draft, error) {
	var out []Draft
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, s.now()).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// SweepExpired deletes drafts past their expiry and reports how many went.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	err := db.Retry(ctx, "draft.sweep", func() error {
		res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&Draft{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("expired drafts swept", "count", n)
	}
	return n, nil
}

// StartSweeper runs SweepExpired on every tick until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepExpired(ctx); err != nil {
					slog.Error("draft sweep failed", "error", err)
				}
			}
		}
	}()
}
