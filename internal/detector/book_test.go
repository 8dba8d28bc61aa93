package detector

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flowwatch/internal/alert"
	"flowwatch/internal/config"
	"flowwatch/internal/marketdata"
)

var detCfg = config.DetectionConfig{
	LargeOrderSizeThreshold:      10000,
	CriticalSizeMultiplier:       1.5,
	VolumeSpikeThreshold:         3.0,
	CriticalVolumeSpikeThreshold: 4.0,
	SellRatioThreshold:           0.60,
	BucketSize:                   5 * time.Minute,
	WindowRetention:              60 * time.Minute,
}

var now = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func snapshotWithBids(bids ...marketdata.BookLevel) marketdata.OrderBookSnapshot {
	return marketdata.OrderBookSnapshot{
		Symbol:    "AAPL",
		Timestamp: now,
		Bids:      bids,
		Asks:      []marketdata.BookLevel{{Price: decimal.NewFromFloat(175.60), Size: 500}},
	}
}

func TestAnalyzeSingleLargeSeller(t *testing.T) {
	// 14,500 shares at $175.50 with a 10,000 threshold: one warning alert,
	// below the 15,000 critical cutoff.
	a := NewBookAnalyzer(detCfg, zerolog.Nop())
	snap := snapshotWithBids(marketdata.BookLevel{Price: decimal.NewFromFloat(175.50), Size: 14500})

	alerts := a.Analyze(snap, now)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}

	got := alerts[0]
	if got.Kind != alert.KindLargeSeller {
		t.Fatalf("kind = %s", got.Kind)
	}
	if got.Severity != alert.SeverityWarning {
		t.Fatalf("severity = %s, want warning", got.Severity)
	}
	if got.OrderSize != 14500 {
		t.Fatalf("order size = %d", got.OrderSize)
	}
	if !got.PriceLevel.Equal(decimal.NewFromFloat(175.50)) {
		t.Fatalf("price level = %s", got.PriceLevel)
	}
	if got.ID == "" {
		t.Fatal("alert id must be set")
	}
	if got.Timestamp.Location() != time.UTC {
		t.Fatal("alert timestamp must be UTC")
	}
}

func TestAnalyzeThresholdBoundaries(t *testing.T) {
	a := NewBookAnalyzer(detCfg, zerolog.Nop())

	cases := []struct {
		size     int64
		alerts   int
		severity alert.Severity
	}{
		{size: 9999, alerts: 0},
		{size: 10000, alerts: 1, severity: alert.SeverityWarning},
		{size: 14999, alerts: 1, severity: alert.SeverityWarning},
		{size: 15000, alerts: 1, severity: alert.SeverityCritical},
		{size: 40000, alerts: 1, severity: alert.SeverityCritical},
	}

	for _, tc := range cases {
		snap := snapshotWithBids(marketdata.BookLevel{Price: decimal.NewFromFloat(100), Size: tc.size})
		alerts := a.Analyze(snap, now)
		if len(alerts) != tc.alerts {
			t.Fatalf("size %d: expected %d alerts, got %d", tc.size, tc.alerts, len(alerts))
		}
		if tc.alerts == 1 && alerts[0].Severity != tc.severity {
			t.Fatalf("size %d: severity = %s, want %s", tc.size, alerts[0].Severity, tc.severity)
		}
	}
}

func TestAnalyzeMultipleLevels(t *testing.T) {
	// Distinct qualifying price levels each produce their own alert.
	a := NewBookAnalyzer(detCfg, zerolog.Nop())
	snap := snapshotWithBids(
		marketdata.BookLevel{Price: decimal.NewFromFloat(175.50), Size: 20000},
		marketdata.BookLevel{Price: decimal.NewFromFloat(175.45), Size: 12000},
		marketdata.BookLevel{Price: decimal.NewFromFloat(175.40), Size: 500},
	)

	alerts := a.Analyze(snap, now)
	if len(alerts) != 2 {
		t.Fatalf("expected two alerts, got %d", len(alerts))
	}
	if alerts[0].Severity != alert.SeverityCritical || alerts[1].Severity != alert.SeverityWarning {
		t.Fatalf("severities = %s, %s", alerts[0].Severity, alerts[1].Severity)
	}
	if alerts[0].ID == alerts[1].ID {
		t.Fatal("alerts must carry distinct ids")
	}
}

func TestAnalyzeIgnoresAsks(t *testing.T) {
	a := NewBookAnalyzer(detCfg, zerolog.Nop())
	snap := marketdata.OrderBookSnapshot{
		Symbol:    "AAPL",
		Timestamp: now,
		Bids:      []marketdata.BookLevel{{Price: decimal.NewFromFloat(175.50), Size: 100}},
		Asks:      []marketdata.BookLevel{{Price: decimal.NewFromFloat(175.55), Size: 50000}},
	}
	if alerts := a.Analyze(snap, now); len(alerts) != 0 {
		t.Fatalf("ask-side size must not alert, got %d alerts", len(alerts))
	}
}
