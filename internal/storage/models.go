package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRow is a persisted order-flow alert.
type AlertRow struct {
	ID          string
	Symbol      string
	Kind        string
	Severity    string
	OrderSize   *int64
	PriceLevel  *decimal.Decimal
	VolumeRatio *float64
	AlertTS     time.Time
	CreatedAt   time.Time
}

// RecommendationRow is a persisted exit recommendation. TriggeringAlertID is
// unique, which makes redelivered recommendations idempotent on insert.
type RecommendationRow struct {
	ID                int64
	Symbol            string
	Reason            string
	TriggeringAlertID string
	RecommendedAt     time.Time
	CreatedAt         time.Time
}
