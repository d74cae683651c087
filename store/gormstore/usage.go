package gormstore

import (
	"context"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/plexus/gateway/usage"
)

// usageRecordModel is usage.Record's append-only GORM row shape,
// patterned on the teacher's model.Log rows (one row per request, never
// updated after insert).
type usageRecordModel struct {
	ID                  uint  `gorm:"primaryKey"`
	RequestID           string `gorm:"type:varchar(64);index"`
	TimestampUnixNano   int64  `gorm:"index"`
	SourceIP            string `gorm:"type:varchar(64)"`
	APIKeyID            string `gorm:"type:varchar(64);index"`
	IncomingDialect     string `gorm:"type:varchar(32)"`
	OutgoingDialect     string `gorm:"type:varchar(32)"`
	IncomingModelAlias  string `gorm:"type:varchar(128)"`
	SelectedProvider    string `gorm:"type:varchar(64);index"`
	SelectedModelSlug   string `gorm:"type:varchar(128);index"`
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	ReasoningTokens     int
	TotalTokens         int
	CostUSD             float64
	PricingUnknown      bool
	DurationMs          int64
	TTFTMs              *int64
	IsStreamed          bool
	ResponseStatus      string `gorm:"type:varchar(32);index"`
	ErrorCode           string `gorm:"type:varchar(64)"`
	ErrorMessage        string `gorm:"type:text"`
}

func (usageRecordModel) TableName() string { return "usage_records" }

// UsageStore satisfies usage.Store against a GORM connection.
type UsageStore struct {
	db *gorm.DB
}

func NewUsageStore(db *gorm.DB) *UsageStore { return &UsageStore{db: db} }

func (s *UsageStore) Append(ctx context.Context, rec usage.Record) error {
	row := usageRecordModel{
		RequestID:           rec.RequestID,
		TimestampUnixNano:   rec.Timestamp.UnixNano(),
		SourceIP:            rec.SourceIP,
		APIKeyID:            rec.APIKeyID,
		IncomingDialect:     rec.IncomingDialect,
		OutgoingDialect:     rec.OutgoingDialect,
		IncomingModelAlias:  rec.IncomingModelAlias,
		SelectedProvider:    rec.SelectedProvider,
		SelectedModelSlug:   rec.SelectedModelSlug,
		InputTokens:         rec.InputTokens,
		OutputTokens:        rec.OutputTokens,
		CacheReadTokens:     rec.CacheReadTokens,
		CacheCreationTokens: rec.CacheCreationTokens,
		ReasoningTokens:     rec.ReasoningTokens,
		TotalTokens:         rec.TotalTokens,
		CostUSD:             rec.CostUSD,
		PricingUnknown:      rec.PricingUnknown,
		DurationMs:          rec.DurationMs,
		TTFTMs:              rec.TTFTMs,
		IsStreamed:          rec.IsStreamed,
		ResponseStatus:      rec.ResponseStatus,
		ErrorCode:           rec.ErrorCode,
		ErrorMessage:        rec.ErrorMessage,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	return errors.Wrap(err, "append usage record")
}
