// Package monitor schedules one independent monitoring worker per
// actively-held symbol.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/config"
	"flowwatch/internal/positions"
	"flowwatch/internal/scheduler"
	"flowwatch/internal/service"
)

// Monitor reconciles the running worker set against the position provider.
// Symbols never share mutable state; the provider rate budget is enforced
// inside the market-data client, so workers are free to run concurrently.
type Monitor struct {
	cfg      *config.Config
	svc      *service.Service
	provider positions.Provider
	logger   zerolog.Logger

	mu      sync.Mutex
	runners map[string]*runner
	fatal   chan error
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the monitor.
func New(cfg *config.Config, svc *service.Service, provider positions.Provider, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		svc:      svc,
		provider: provider,
		logger:   logger.With().Str("component", "monitor").Logger(),
		runners:  make(map[string]*runner),
		fatal:    make(chan error, 1),
	}
}

// Run blocks, refreshing the symbol set and supervising workers until ctx is
// cancelled or a fatal provider condition is reported.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.stopAll()

	ticker := time.NewTicker(m.cfg.Scheduler.RefreshInterval)
	defer ticker.Stop()

	// Reconcile immediately so the first cycle does not wait a full refresh
	// interval.
	m.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-m.fatal:
			m.logger.Error().Err(err).Msg("fatal provider condition, stopping all monitoring")
			return err
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) {
	symbols, err := m.provider.ActiveSymbols(ctx)
	if err != nil {
		// Keep the current worker set; protection continues on the last
		// known positions.
		m.logger.Error().Err(err).Msg("failed to refresh active symbols")
		return
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for symbol := range wanted {
		if _, running := m.runners[symbol]; !running {
			m.startLocked(ctx, symbol)
		}
	}

	for symbol, r := range m.runners {
		if _, still := wanted[symbol]; !still {
			m.logger.Info().Str("symbol", symbol).Msg("position closed, tearing worker down")
			r.cancel()
			delete(m.runners, symbol)
		}
	}

	if len(m.runners) == 0 {
		m.logger.Debug().Msg("no active positions; idling")
	}
}

func (m *Monitor) startLocked(ctx context.Context, symbol string) {
	rctx, cancel := context.WithCancel(ctx)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	m.runners[symbol] = r

	sym := m.svc.NewSymbolMonitor(symbol)
	loop := scheduler.New(scheduler.Options{
		Interval:     m.cfg.Scheduler.Interval,
		StartupDelay: m.cfg.Scheduler.StartupDelay,
	}, m.logger.With().Str("symbol", symbol).Logger())

	m.logger.Info().Str("symbol", symbol).Msg("starting symbol worker")

	go func() {
		defer close(r.done)
		defer sym.Close()

		err := loop.Run(rctx, func(cctx context.Context, now time.Time) error {
			cycleErr := sym.Cycle(cctx, now)
			if errors.Is(cycleErr, service.ErrAuthFatal) {
				select {
				case m.fatal <- cycleErr:
				default:
				}
			}
			return cycleErr
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Str("symbol", symbol).Msg("symbol worker stopped")
		}
	}()
}

func (m *Monitor) stopAll() {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.runners))
	for symbol, r := range m.runners {
		r.cancel()
		runners = append(runners, r)
		delete(m.runners, symbol)
	}
	m.mu.Unlock()

	for _, r := range runners {
		<-r.done
	}
}
