package detector

import (
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/alert"
	"flowwatch/internal/config"
	"flowwatch/internal/marketdata"
)

// bucketAgg accumulates traded volume for one bucket of the rolling window.
// Holding aggregates instead of raw ticks keeps the average computation
// O(buckets) rather than O(ticks).
type bucketAgg struct {
	total int64
	sell  int64
}

// TapeMonitor maintains the rolling trade-volume window for a single symbol
// and raises volume-spike alerts when sell-heavy volume runs far above the
// baseline. One instance exists per monitored symbol and dies with it; it is
// not safe for concurrent use, which the per-symbol cycle ordering already
// guarantees.
type TapeMonitor struct {
	symbol  string
	cfg     config.DetectionConfig
	logger  zerolog.Logger
	buckets map[int64]*bucketAgg

	// lastAlertBucket and lastAlertSeverity dedup emission: a persistent
	// spike alerts once per bucket, re-alerting within the same bucket only
	// when it escalates from warning to critical.
	lastAlertBucket   int64
	lastAlertSeverity alert.Severity
}

// NewTapeMonitor constructs the per-symbol rolling window.
func NewTapeMonitor(symbol string, cfg config.DetectionConfig, logger zerolog.Logger) *TapeMonitor {
	return &TapeMonitor{
		symbol:  symbol,
		cfg:     cfg,
		logger:  logger.With().Str("component", "tape_monitor").Str("symbol", symbol).Logger(),
		buckets: make(map[int64]*bucketAgg),
	}
}

// Observe folds a validated batch of ticks into the window and evaluates the
// spike rule for the bucket containing now. A quiet bucket produces no alert,
// and a bucket that already alerted stays silent until a new bucket starts or
// the spike escalates to critical.
func (m *TapeMonitor) Observe(ticks []marketdata.TradeTick, now time.Time) []alert.OrderFlowAlert {
	for _, tick := range ticks {
		key := tick.Timestamp.Truncate(m.cfg.BucketSize).Unix()
		agg := m.buckets[key]
		if agg == nil {
			agg = &bucketAgg{}
			m.buckets[key] = agg
		}
		agg.total += tick.Size
		if tick.Side == marketdata.SideSell {
			agg.sell += tick.Size
		}
	}

	m.evict(now)

	currentKey := now.Truncate(m.cfg.BucketSize).Unix()
	current := m.buckets[currentKey]
	if current == nil || current.total == 0 {
		return nil
	}

	var baselineSum int64
	baselineCount := 0
	for key, agg := range m.buckets {
		if key < currentKey {
			baselineSum += agg.total
			baselineCount++
		}
	}
	if baselineSum == 0 {
		// Cold start: no prior buckets to compare against.
		return nil
	}
	if baselineCount < 1 {
		baselineCount = 1
	}

	rollingAverage := float64(baselineSum) / float64(baselineCount)
	volumeRatio := float64(current.total) / rollingAverage
	sellRatio := float64(current.sell) / float64(current.total)

	if volumeRatio < m.cfg.VolumeSpikeThreshold || sellRatio <= m.cfg.SellRatioThreshold {
		return nil
	}

	severity := alert.SeverityWarning
	if volumeRatio >= m.cfg.CriticalVolumeSpikeThreshold {
		severity = alert.SeverityCritical
	}

	if currentKey == m.lastAlertBucket {
		escalated := severity == alert.SeverityCritical && m.lastAlertSeverity != alert.SeverityCritical
		if !escalated {
			return nil
		}
	}
	m.lastAlertBucket = currentKey
	m.lastAlertSeverity = severity

	m.logger.Warn().
		Float64("volume_ratio", volumeRatio).
		Float64("sell_ratio", sellRatio).
		Int64("current_volume", current.total).
		Float64("rolling_average", rollingAverage).
		Str("severity", string(severity)).
		Msg("sell-side volume spike detected")

	return []alert.OrderFlowAlert{{
		ID:          alert.NewID(),
		Symbol:      m.symbol,
		Kind:        alert.KindVolumeSpike,
		Severity:    severity,
		VolumeRatio: volumeRatio,
		Timestamp:   now.UTC(),
	}}
}

func (m *TapeMonitor) evict(now time.Time) {
	horizon := now.Add(-m.cfg.WindowRetention).Truncate(m.cfg.BucketSize).Unix()
	for key := range m.buckets {
		if key < horizon {
			delete(m.buckets, key)
		}
	}
}

// BucketCount reports how many buckets currently hold data.
func (m *TapeMonitor) BucketCount() int {
	return len(m.buckets)
}
