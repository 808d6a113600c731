// Package profile keeps the optional personal details a user fills in once
// and that later requests can reuse.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/ai-broker/internal/db"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

var ErrNotFound = errors.New("profile: not found")

type Profile struct {
	UserID uint64 `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Name   string `gorm:"size:128" json:"name,omitempty"`
	Gender string `gorm:"size:16" json:"gender,omitempty"`
	// DD.MM.YYYY and HH:MM, as the wizard validates them
	BirthDate string    `gorm:"size:10" json:"birth_date,omitempty"`
	BirthTime string    `gorm:"size:5" json:"birth_time,omitempty"`
	City      string    `gorm:"size:128" json:"city,omitempty"`
	Sign      string    `gorm:"size:16" json:"sign,omitempty"`
	Theme     string    `gorm:"size:32" json:"theme,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "user_profiles" }

// Fields keys the profile by the profile wizard's field names.
func (p Profile) Fields() map[string]string {
	return map[string]string{
		"name":       p.Name,
		"gender":     p.Gender,
		"birth_date": p.BirthDate,
		"birth_time": p.BirthTime,
		"city":       p.City,
		"sign":       p.Sign,
		"theme":      p.Theme,
	}
}

func (p Profile) Empty() bool {
	for _, v := range p.Fields() {
		if v != "" {
			return false
		}
	}
	return true
}

// FromPayload builds a profile from a completed profile wizard. A missing
// sign is derived from the birth date.
func FromPayload(userID uint64, p request.Payload) Profile {
	get := func(name string) string {
		v, _ := p.Get(name)
		return v
	}
	out := Profile{
		UserID:    userID,
		Name:      get("name"),
		Gender:    get("gender"),
		BirthDate: get("birth_date"),
		BirthTime: get("birth_time"),
		City:      get("city"),
		Sign:      get("sign"),
		Theme:     get("theme"),
	}
	if out.Sign == "" {
		out.Sign, _ = SignFromDate(out.BirthDate)
	}
	return out
}

type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func Models() []any { return []any{&Profile{}} }

func (s *Store) Get(ctx context.Context, userID uint64) (*Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load %d: %w", userID, err)
	}
	return &p, nil
}

// Save replaces the whole profile; fields left empty are cleared.
func (s *Store) Save(ctx context.Context, p *Profile) error {
	err := db.Retry(ctx, "profile.save", func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "gender", "birth_date", "birth_time", "city", "sign", "theme", "updated_at",
			}),
		}).Create(p).Error
	})
	if err != nil {
		return fmt.Errorf("profile: save %d: %w", p.UserID, err)
	}
	return nil
}

// Reset forgets the profile. The account and its balance are untouched.
func (s *Store) Reset(ctx context.Context, userID uint64) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Profile{}).Error
	if err != nil {
		return fmt.Errorf("profile: reset %d: %w", userID, err)
	}
	return nil
}
