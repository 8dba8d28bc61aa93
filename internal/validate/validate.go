// Package validate gates normalized market data before any detector sees it.
// Every check is a pure function of (data, now); a failure carries a reason
// code so the audit log can reconstruct why a cycle was dropped.
package validate

import (
	"fmt"
	"time"

	"flowwatch/internal/marketdata"
)

// ReasonCode identifies the specific integrity rule a payload violated.
type ReasonCode string

const (
	ReasonStaleSnapshot    ReasonCode = "stale_snapshot"
	ReasonNonPositivePrice ReasonCode = "non_positive_price"
	ReasonNonPositiveSize  ReasonCode = "non_positive_size"
	ReasonBidOrder         ReasonCode = "bids_not_descending"
	ReasonAskOrder         ReasonCode = "asks_not_ascending"
	ReasonTickOrder        ReasonCode = "ticks_out_of_order"
	ReasonBadSide          ReasonCode = "invalid_side"
)

// IntegrityError is the typed failure raised by a rejected payload. The
// owning cycle halts analysis for its symbol and moves on; nothing partial
// reaches the detectors.
type IntegrityError struct {
	Symbol string
	Reason ReasonCode
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s %s: %s", e.Symbol, e.Reason, e.Detail)
}

const (
	// Snapshot age bands: under warnAge passes silently, up to rejectAge
	// passes with a warning, beyond that the snapshot is rejected.
	warnAge   = 10 * time.Second
	rejectAge = 30 * time.Second
)

// SnapshotResult reports a passed validation that still deserves operator
// attention.
type SnapshotResult struct {
	Age   time.Duration
	Stale bool
}

// Snapshot checks a book snapshot against the staleness and ordering rules.
func Snapshot(snap marketdata.OrderBookSnapshot, now time.Time) (SnapshotResult, error) {
	age := now.Sub(snap.Timestamp)
	if age > rejectAge {
		return SnapshotResult{Age: age}, &IntegrityError{
			Symbol: snap.Symbol,
			Reason: ReasonStaleSnapshot,
			Detail: fmt.Sprintf("snapshot is %s old", age.Truncate(time.Millisecond)),
		}
	}

	if err := checkLevels(snap.Symbol, snap.Bids, true); err != nil {
		return SnapshotResult{Age: age}, err
	}
	if err := checkLevels(snap.Symbol, snap.Asks, false); err != nil {
		return SnapshotResult{Age: age}, err
	}

	return SnapshotResult{Age: age, Stale: age > warnAge}, nil
}

func checkLevels(symbol string, levels []marketdata.BookLevel, descending bool) error {
	for i, lvl := range levels {
		if !lvl.Price.IsPositive() {
			return &IntegrityError{Symbol: symbol, Reason: ReasonNonPositivePrice, Detail: fmt.Sprintf("level %d price %s", i, lvl.Price)}
		}
		if lvl.Size <= 0 {
			return &IntegrityError{Symbol: symbol, Reason: ReasonNonPositiveSize, Detail: fmt.Sprintf("level %d size %d", i, lvl.Size)}
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1].Price
		if descending && !lvl.Price.LessThan(prev) {
			return &IntegrityError{Symbol: symbol, Reason: ReasonBidOrder, Detail: fmt.Sprintf("level %d price %s not below %s", i, lvl.Price, prev)}
		}
		if !descending && !lvl.Price.GreaterThan(prev) {
			return &IntegrityError{Symbol: symbol, Reason: ReasonAskOrder, Detail: fmt.Sprintf("level %d price %s not above %s", i, lvl.Price, prev)}
		}
	}
	return nil
}

// Tape checks a fetched batch of ticks. A single violation rejects the whole
// batch.
func Tape(symbol string, ticks []marketdata.TradeTick) error {
	for i, tick := range ticks {
		if !tick.Price.IsPositive() {
			return &IntegrityError{Symbol: symbol, Reason: ReasonNonPositivePrice, Detail: fmt.Sprintf("tick %d price %s", i, tick.Price)}
		}
		if tick.Size <= 0 {
			return &IntegrityError{Symbol: symbol, Reason: ReasonNonPositiveSize, Detail: fmt.Sprintf("tick %d size %d", i, tick.Size)}
		}
		if !tick.Side.Valid() {
			return &IntegrityError{Symbol: symbol, Reason: ReasonBadSide, Detail: fmt.Sprintf("tick %d side %q", i, tick.Side)}
		}
		if i > 0 && tick.Timestamp.Before(ticks[i-1].Timestamp) {
			return &IntegrityError{Symbol: symbol, Reason: ReasonTickOrder, Detail: fmt.Sprintf("tick %d at %s precedes tick %d", i, tick.Timestamp.Format(time.RFC3339Nano), i-1)}
		}
	}
	return nil
}
