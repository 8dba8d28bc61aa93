// Package alert defines the immutable order-flow alert record shared by the
// detectors, the exit-signal correlator, and the audit trail.
package alert

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names the detector observation behind an alert.
type Kind string

const (
	// KindLargeSeller flags abnormally large resting size at the bid.
	KindLargeSeller Kind = "large_seller"
	// KindVolumeSpike flags sell-heavy traded volume far above baseline.
	KindVolumeSpike Kind = "volume_spike"
)

// Severity tiers an alert by how far the measured value exceeds its
// threshold.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// OrderFlowAlert is created by a detector at the moment a threshold is
// crossed and never mutated afterwards. OrderSize and PriceLevel are set only
// for large_seller alerts, VolumeRatio only for volume_spike alerts.
type OrderFlowAlert struct {
	ID          string
	Symbol      string
	Kind        Kind
	Severity    Severity
	OrderSize   int64
	PriceLevel  decimal.Decimal
	VolumeRatio float64
	Timestamp   time.Time
}

// NewID mints a unique alert identifier. Exit recommendations are deduplicated
// downstream by this id.
func NewID() string {
	return uuid.NewString()
}
