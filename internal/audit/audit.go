// Package audit writes the append-only decision trail: one JSON record per
// line, UTC timestamps, rotated daily. Every alert, validation failure, exit
// recommendation, and provider error lands here with enough fields to
// reconstruct the decision afterwards.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/alert"
	"flowwatch/internal/config"
	"flowwatch/internal/exit"
)

// Log is the audit sink. A nil *Log discards everything, so call sites never
// need to branch on whether auditing is enabled.
type Log struct {
	writer *rollingWriter
	zl     zerolog.Logger
}

// Open prepares the audit directory and returns a ready sink. Returns nil
// (and no error) when auditing is disabled.
func Open(cfg config.AuditConfig) (*Log, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	w := &rollingWriter{dir: cfg.Dir}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &Log{writer: w, zl: zl}, nil
}

// Close flushes and closes the current segment.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.writer.close()
}

// Alert records an emitted order-flow alert with the thresholds in force and
// the cycle latency at emission time.
func (l *Log) Alert(a alert.OrderFlowAlert, det config.DetectionConfig, latency time.Duration) {
	if l == nil {
		return
	}
	ev := l.zl.Info().
		Str("event", "alert").
		Str("alert_id", a.ID).
		Str("symbol", a.Symbol).
		Str("kind", string(a.Kind)).
		Str("severity", string(a.Severity)).
		Time("alert_ts", a.Timestamp).
		Dur("latency", latency)
	switch a.Kind {
	case alert.KindLargeSeller:
		ev = ev.Int64("order_size", a.OrderSize).
			Str("price_level", a.PriceLevel.String()).
			Int64("size_threshold", det.LargeOrderSizeThreshold)
	case alert.KindVolumeSpike:
		ev = ev.Float64("volume_ratio", a.VolumeRatio).
			Float64("spike_threshold", det.VolumeSpikeThreshold).
			Float64("critical_spike_threshold", det.CriticalVolumeSpikeThreshold)
	}
	ev.Send()
}

// ValidationFailure records a rejected payload.
func (l *Log) ValidationFailure(symbol, reason, detail string) {
	if l == nil {
		return
	}
	l.zl.Warn().
		Str("event", "validation_failure").
		Str("symbol", symbol).
		Str("reason", reason).
		Str("detail", detail).
		Send()
}

// Recommendation records a published exit recommendation.
func (l *Log) Recommendation(rec exit.Recommendation, latency time.Duration) {
	if l == nil {
		return
	}
	l.zl.Warn().
		Str("event", "exit_recommendation").
		Str("symbol", rec.Symbol).
		Str("reason", rec.Reason).
		Str("triggering_alert_id", rec.TriggeringAlertID).
		Time("recommended_at", rec.Timestamp).
		Dur("latency", latency).
		Send()
}

// ProviderError records a provider failure and its classification.
func (l *Log) ProviderError(symbol, kind string, err error) {
	if l == nil {
		return
	}
	l.zl.Error().
		Str("event", "provider_error").
		Str("symbol", symbol).
		Str("kind", kind).
		Str("error", err.Error()).
		Send()
}

// rollingWriter appends to a date-stamped segment and reopens it when the
// UTC day changes.
type rollingWriter struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

func (w *rollingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if w.file == nil || day != w.day {
		if w.file != nil {
			_ = w.file.Close()
		}
		path := filepath.Join(w.dir, "flowwatch-"+day+".ndjson")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, err
		}
		w.file = file
		w.day = day
	}
	return w.file.Write(p)
}

func (w *rollingWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
