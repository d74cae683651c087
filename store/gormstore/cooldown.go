package gormstore

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/plexus/gateway/cooldown"
)

// cooldownEntryModel is cooldown.Entry's GORM row shape, key-addressed
// the same way the teacher's model.Ability rows are, one row per
// provider or provider+account key.
type cooldownEntryModel struct {
	Key                 string `gorm:"primaryKey;type:varchar(255)"`
	ExpiresAtUnixNano   int64
	Reason              string `gorm:"type:varchar(32)"`
	ConsecutiveFailures int
}

func (cooldownEntryModel) TableName() string { return "cooldown_entries" }

// CooldownStore satisfies cooldown.Store against a GORM connection.
type CooldownStore struct {
	db *gorm.DB
}

func NewCooldownStore(db *gorm.DB) *CooldownStore { return &CooldownStore{db: db} }

func (s *CooldownStore) LoadAll(ctx context.Context) ([]cooldown.Entry, error) {
	var rows []cooldownEntryModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load cooldown entries")
	}

	entries := make([]cooldown.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, cooldown.Entry{
			Key:                 r.Key,
			ExpiresAt:           time.Unix(0, r.ExpiresAtUnixNano),
			Reason:              r.Reason,
			ConsecutiveFailures: r.ConsecutiveFailures,
		})
	}
	return entries, nil
}

func (s *CooldownStore) Upsert(ctx context.Context, e cooldown.Entry) error {
	row := cooldownEntryModel{
		Key:                 e.Key,
		ExpiresAtUnixNano:   e.ExpiresAt.UnixNano(),
		Reason:              e.Reason,
		ConsecutiveFailures: e.ConsecutiveFailures,
	}
	err := s.db.WithContext(ctx).Save(&row).Error
	return errors.Wrap(err, "upsert cooldown entry")
}

func (s *CooldownStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Delete(&cooldownEntryModel{}, "key = ?", key).Error
	return errors.Wrap(err, "delete cooldown entry")
}
