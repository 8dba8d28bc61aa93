// Package service runs the per-symbol monitoring cycle: fetch, validate,
// detect, correlate, publish.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/alert"
	"flowwatch/internal/alerting"
	"flowwatch/internal/audit"
	"flowwatch/internal/config"
	"flowwatch/internal/detector"
	"flowwatch/internal/exit"
	"flowwatch/internal/marketdata"
	"flowwatch/internal/storage"
	"flowwatch/internal/validate"
)

// ErrAuthFatal marks a credential rejection. The monitor shuts the whole
// subsystem down when it sees this; everything else degrades per symbol.
var ErrAuthFatal = errors.New("provider credential rejected")

// Service holds the dependencies shared by every symbol monitor. All fields
// are read-only after construction.
type Service struct {
	cfg      *config.Config
	book     marketdata.BookFetcher
	tape     marketdata.TapeFetcher
	notifier alerting.Notifier
	auditLog *audit.Log
	alerts   storage.AlertStore
	recs     storage.RecommendationStore
	logger   zerolog.Logger
}

// New constructs the shared service.
func New(
	cfg *config.Config,
	book marketdata.BookFetcher,
	tape marketdata.TapeFetcher,
	notifier alerting.Notifier,
	auditLog *audit.Log,
	alerts storage.AlertStore,
	recs storage.RecommendationStore,
	logger zerolog.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		book:     book,
		tape:     tape,
		notifier: notifier,
		auditLog: auditLog,
		alerts:   alerts,
		recs:     recs,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// SymbolMonitor owns all mutable per-symbol state: the rolling tape window
// and the alert history. One instance exists per actively-held symbol and is
// destroyed when the position closes. Cycles run strictly sequentially.
type SymbolMonitor struct {
	symbol     string
	svc        *Service
	analyzer   *detector.BookAnalyzer
	tapeMon    *detector.TapeMonitor
	correlator *exit.Correlator
	logger     zerolog.Logger

	// lastTapeEnd marks where the next tape fetch resumes.
	lastTapeEnd time.Time
}

// NewSymbolMonitor builds the per-symbol state for one ticker.
func (s *Service) NewSymbolMonitor(symbol string) *SymbolMonitor {
	return &SymbolMonitor{
		symbol:     symbol,
		svc:        s,
		analyzer:   detector.NewBookAnalyzer(s.cfg.Detection, s.logger),
		tapeMon:    detector.NewTapeMonitor(symbol, s.cfg.Detection, s.logger),
		correlator: exit.NewCorrelator(symbol, s.cfg.Exit, s.logger),
		logger:     s.logger.With().Str("symbol", symbol).Logger(),
	}
}

// Cycle executes one full detection pass for the symbol. Detector and
// validator failures never escape as crashes: they surface as returned errors
// that the scheduling loop logs before moving on. Only an auth failure is
// fatal, reported via ErrAuthFatal.
func (m *SymbolMonitor) Cycle(ctx context.Context, now time.Time) error {
	started := time.Now()
	svc := m.svc

	snap, err := svc.book.FetchBookSnapshot(ctx, m.symbol)
	if err != nil {
		return m.providerFailure("book", err)
	}

	result, err := validate.Snapshot(snap, now)
	if err != nil {
		return m.integrityFailure(err)
	}
	if result.Stale {
		m.logger.Warn().Dur("age", result.Age).Msg("book snapshot is aging but usable")
	}

	alerts := m.analyzer.Analyze(snap, now)

	ticks, err := svc.tape.FetchTape(ctx, m.symbol, m.tapeStart(now), now)
	if err != nil {
		return m.providerFailure("tape", err)
	}
	if err := validate.Tape(m.symbol, ticks); err != nil {
		return m.integrityFailure(err)
	}
	m.lastTapeEnd = now

	alerts = append(alerts, m.tapeMon.Observe(ticks, now)...)

	latency := time.Since(started)
	for _, a := range alerts {
		m.correlator.Record(a)
		svc.auditLog.Alert(a, svc.cfg.Detection, latency)
		m.persistAlert(ctx, a)
	}

	if rec := m.correlator.Evaluate(now); rec != nil {
		m.publish(ctx, *rec, time.Since(started))
	}

	return nil
}

// Close tears the per-symbol state down when the position closes.
func (m *SymbolMonitor) Close() {
	m.correlator.Reset()
	m.logger.Info().Msg("symbol monitoring state destroyed")
}

func (m *SymbolMonitor) tapeStart(now time.Time) time.Time {
	if m.lastTapeEnd.IsZero() {
		// First cycle: prime the window with one full bucket of history.
		return now.Add(-m.svc.cfg.Detection.BucketSize)
	}
	return m.lastTapeEnd
}

func (m *SymbolMonitor) providerFailure(endpoint string, err error) error {
	kind := marketdata.ErrorKindOf(err)
	m.svc.auditLog.ProviderError(m.symbol, string(kind), err)

	if kind == marketdata.KindAuth {
		m.logger.Error().Err(err).Msg("authentication rejected by provider")
		return fmt.Errorf("%w: %v", ErrAuthFatal, err)
	}
	return fmt.Errorf("fetch %s for %s: %w", endpoint, m.symbol, err)
}

func (m *SymbolMonitor) integrityFailure(err error) error {
	var ie *validate.IntegrityError
	if errors.As(err, &ie) {
		m.svc.auditLog.ValidationFailure(ie.Symbol, string(ie.Reason), ie.Detail)
	}
	return err
}

func (m *SymbolMonitor) persistAlert(ctx context.Context, a alert.OrderFlowAlert) {
	if m.svc.alerts == nil {
		return
	}
	row := storage.AlertRow{
		ID:       a.ID,
		Symbol:   a.Symbol,
		Kind:     string(a.Kind),
		Severity: string(a.Severity),
		AlertTS:  a.Timestamp,
	}
	switch a.Kind {
	case alert.KindLargeSeller:
		size := a.OrderSize
		price := a.PriceLevel
		row.OrderSize = &size
		row.PriceLevel = &price
	case alert.KindVolumeSpike:
		ratio := a.VolumeRatio
		row.VolumeRatio = &ratio
	}
	if err := m.svc.alerts.InsertAlert(ctx, row); err != nil {
		m.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert")
	}
}

func (m *SymbolMonitor) publish(ctx context.Context, rec exit.Recommendation, latency time.Duration) {
	svc := m.svc
	svc.auditLog.Recommendation(rec, latency)

	if svc.recs != nil {
		row := storage.RecommendationRow{
			Symbol:            rec.Symbol,
			Reason:            rec.Reason,
			TriggeringAlertID: rec.TriggeringAlertID,
			RecommendedAt:     rec.Timestamp,
		}
		if _, _, err := svc.recs.InsertRecommendation(ctx, row); err != nil {
			m.logger.Error().Err(err).Msg("failed to persist recommendation")
		}
	}

	if err := svc.notifier.Notify(ctx, rec); err != nil {
		// At-least-once: the next qualifying alert will produce a fresh
		// recommendation, so a failed delivery is logged rather than retried
		// inside the cycle.
		m.logger.Error().Err(err).Str("triggering_alert_id", rec.TriggeringAlertID).Msg("failed to deliver recommendation")
	}
}
