// Package exit correlates detector alerts per symbol and decides when to
// recommend closing the position.
package exit

import (
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/alert"
	"flowwatch/internal/config"
)

// Reasons attached to published recommendations.
const (
	ReasonRepeatedLargeSellers = "repeated large-seller pressure"
	ReasonCriticalVolumeSpike  = "critical volume spike"
)

// State of the per-symbol correlation machine.
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateTriggered    State = "triggered"
)

// Recommendation is the advisory exit signal handed to the risk collaborator.
// Delivery is at-least-once; consumers dedup by TriggeringAlertID.
type Recommendation struct {
	Symbol            string    `json:"symbol"`
	Reason            string    `json:"reason"`
	TriggeringAlertID string    `json:"triggering_alert_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// Correlator owns the bounded alert history for one symbol. It is destroyed
// together with the symbol's monitoring state when the position closes. Not
// safe for concurrent use; the per-symbol cycle ordering guarantees serial
// access.
type Correlator struct {
	symbol  string
	cfg     config.ExitConfig
	logger  zerolog.Logger
	history []alert.OrderFlowAlert
	state   State
	// Ids of the alerts behind the most recent recommendation per rule. The
	// same alert never fires twice.
	lastSpikeTriggerID  string
	lastSellerTriggerID string
}

// NewCorrelator constructs the per-symbol correlator.
func NewCorrelator(symbol string, cfg config.ExitConfig, logger zerolog.Logger) *Correlator {
	return &Correlator{
		symbol: symbol,
		cfg:    cfg,
		logger: logger.With().Str("component", "exit_correlator").Str("symbol", symbol).Logger(),
		state:  StateIdle,
	}
}

// Record appends alerts to the bounded history, evicting oldest-first.
func (c *Correlator) Record(alerts ...alert.OrderFlowAlert) {
	for _, a := range alerts {
		c.history = append(c.history, a)
	}
	if excess := len(c.history) - c.cfg.HistorySize; excess > 0 {
		c.history = append(c.history[:0], c.history[excess:]...)
	}
}

// Evaluate applies the decision rules at time now and returns nil when no
// new recommendation is due. Either rule alone is sufficient; they need not
// co-occur. The underlying decision is deterministic in (history, now); only
// publication bookkeeping mutates state here.
func (c *Correlator) Evaluate(now time.Time) *Recommendation {
	rec := c.decide(now)
	if rec != nil {
		switch rec.Reason {
		case ReasonCriticalVolumeSpike:
			c.lastSpikeTriggerID = rec.TriggeringAlertID
		case ReasonRepeatedLargeSellers:
			c.lastSellerTriggerID = rec.TriggeringAlertID
		}
	}

	inWindow := c.countInWindow(now) > 0
	switch {
	case rec != nil:
		c.state = StateTriggered
	case c.state == StateTriggered && inWindow:
		// Hold until the window naturally empties; there is no separate
		// cooldown.
	case inWindow:
		c.state = StateAccumulating
	default:
		c.state = StateIdle
	}

	if rec != nil {
		c.logger.Warn().
			Str("reason", rec.Reason).
			Str("triggering_alert_id", rec.TriggeringAlertID).
			Msg("exit recommended")
	}
	return rec
}

func (c *Correlator) decide(now time.Time) *Recommendation {
	// A critical volume spike alone recommends exit immediately.
	if spike := c.latestVolumeSpike(); spike != nil &&
		spike.Severity == alert.SeverityCritical &&
		spike.ID != c.lastSpikeTriggerID {
		return &Recommendation{
			Symbol:            c.symbol,
			Reason:            ReasonCriticalVolumeSpike,
			TriggeringAlertID: spike.ID,
			Timestamp:         now.UTC(),
		}
	}

	// Repeated large-seller pressure inside the alert window.
	var newest *alert.OrderFlowAlert
	count := 0
	cutoff := now.Add(-c.cfg.AlertWindow)
	for i := range c.history {
		a := &c.history[i]
		if a.Kind != alert.KindLargeSeller || a.Timestamp.Before(cutoff) {
			continue
		}
		count++
		if newest == nil || a.Timestamp.After(newest.Timestamp) {
			newest = a
		}
	}
	if count >= c.cfg.LargeSellerCount && newest != nil && newest.ID != c.lastSellerTriggerID {
		return &Recommendation{
			Symbol:            c.symbol,
			Reason:            ReasonRepeatedLargeSellers,
			TriggeringAlertID: newest.ID,
			Timestamp:         now.UTC(),
		}
	}
	return nil
}

func (c *Correlator) latestVolumeSpike() *alert.OrderFlowAlert {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Kind == alert.KindVolumeSpike {
			return &c.history[i]
		}
	}
	return nil
}

func (c *Correlator) countInWindow(now time.Time) int {
	cutoff := now.Add(-c.cfg.AlertWindow)
	count := 0
	for i := range c.history {
		if !c.history[i].Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

// State reports the current phase of the correlation machine.
func (c *Correlator) State() State {
	return c.state
}

// History returns a copy of the retained alerts, oldest first.
func (c *Correlator) History() []alert.OrderFlowAlert {
	out := make([]alert.OrderFlowAlert, len(c.history))
	copy(out, c.history)
	return out
}

// Reset clears all correlation state, used when the owning position closes.
func (c *Correlator) Reset() {
	c.history = nil
	c.state = StateIdle
	c.lastSpikeTriggerID = ""
	c.lastSellerTriggerID = ""
}
