// Package detector holds the two order-flow detectors: the stateless
// depth-of-book analyzer and the stateful tape monitor.
package detector

import (
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/alert"
	"flowwatch/internal/config"
	"flowwatch/internal/marketdata"
)

// BookAnalyzer scans snapshots for abnormally large resting sell interest.
// It keeps no state between calls and performs no I/O.
type BookAnalyzer struct {
	cfg    config.DetectionConfig
	logger zerolog.Logger
}

// NewBookAnalyzer constructs a book analyzer.
func NewBookAnalyzer(cfg config.DetectionConfig, logger zerolog.Logger) *BookAnalyzer {
	return &BookAnalyzer{
		cfg:    cfg,
		logger: logger.With().Str("component", "book_analyzer").Logger(),
	}
}

// Analyze walks the bid side of a snapshot. Sell-side pressure shows up as
// resting size at the bid: sellers willing to hit it. Every qualifying level
// yields its own alert; distinct price levels represent distinct orders, so
// there is no dedup within a snapshot.
func (a *BookAnalyzer) Analyze(snap marketdata.OrderBookSnapshot, now time.Time) []alert.OrderFlowAlert {
	threshold := a.cfg.LargeOrderSizeThreshold
	critical := int64(float64(threshold) * a.cfg.CriticalSizeMultiplier)

	var alerts []alert.OrderFlowAlert
	for _, lvl := range snap.Bids {
		if lvl.Size < threshold {
			continue
		}

		severity := alert.SeverityWarning
		if lvl.Size >= critical {
			severity = alert.SeverityCritical
		}

		alerts = append(alerts, alert.OrderFlowAlert{
			ID:         alert.NewID(),
			Symbol:     snap.Symbol,
			Kind:       alert.KindLargeSeller,
			Severity:   severity,
			OrderSize:  lvl.Size,
			PriceLevel: lvl.Price,
			Timestamp:  now.UTC(),
		})

		a.logger.Warn().
			Str("symbol", snap.Symbol).
			Int64("order_size", lvl.Size).
			Str("price_level", lvl.Price.String()).
			Str("severity", string(severity)).
			Int64("threshold", threshold).
			Msg("large resting seller detected")
	}
	return alerts
}
