package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc runs one monitoring cycle. Cycles are strictly sequential: the
// next tick is not armed until the previous cycle returns.
type CycleFunc func(ctx context.Context, now time.Time) error

// Options tune the cycle loop.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Loop drives sequential execution of one symbol's monitoring cycles.
type Loop struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a cycle loop.
func New(opts Options, logger zerolog.Logger) *Loop {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Loop{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the cycle function once per interval until ctx is
// cancelled. A failed cycle is logged and the loop continues; only
// cancellation stops it.
func (l *Loop) Run(ctx context.Context, cycle CycleFunc) error {
	if l.opts.StartupDelay > 0 {
		if err := sleep(ctx, l.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		started := time.Now().UTC()
		if err := cycle(ctx, started); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).Time("cycle_start", started).Msg("cycle failed")
		}

		// Account for cycle runtime so cadence stays near the interval.
		delay := l.opts.Interval - time.Since(started)
		if delay < 0 {
			delay = 0
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
