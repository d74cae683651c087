package usage

import (
	"context"
	"time"
)

// Record is one append-only Usage Record: written once when a dispatch
// completes (successfully or not), never mutated afterward. Dispatches
// that fail with an internal error write no Record.
type Record struct {
	RequestID      string
	Timestamp      time.Time
	SourceIP       string
	APIKeyID       string
	IncomingDialect string
	OutgoingDialect string
	IncomingModelAlias string
	SelectedProvider string
	SelectedModelSlug string

	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
	CacheCreationTokens int
	ReasoningTokens int
	TotalTokens     int

	CostUSD        float64
	PricingUnknown bool

	DurationMs int64
	TTFTMs     *int64
	IsStreamed bool

	ResponseStatus string
	ErrorCode      string
	ErrorMessage   string
}

// Store is the narrow append-only persistence contract the tracker
// depends on; a gormstore implementation satisfies it.
type Store interface {
	Append(ctx context.Context, rec Record) error
}
