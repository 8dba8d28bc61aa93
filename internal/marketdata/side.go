package marketdata

import "github.com/shopspring/decimal"

// SideRule infers the aggressor side of a trade when the provider does not
// label it. Inference accuracy feeds directly into the sell-ratio
// computation, so the rule is pluggable rather than baked in.
type SideRule interface {
	Infer(tick TradeTick, prev *TradeTick) Side
}

// TickRule classifies by comparison with the previous trade price: an uptick
// is buyer-initiated, a downtick seller-initiated. The first trade of a batch
// with no predecessor defaults to sell, the conservative choice for a
// sell-pressure monitor.
type TickRule struct{}

func (TickRule) Infer(tick TradeTick, prev *TradeTick) Side {
	if prev == nil {
		return SideSell
	}
	if tick.Price.GreaterThan(prev.Price) {
		return SideBuy
	}
	if tick.Price.LessThan(prev.Price) {
		return SideSell
	}
	// Zero tick: carry the previous classification forward.
	if prev.Side.Valid() {
		return prev.Side
	}
	return SideSell
}

// QuoteMidRule classifies against a reference midpoint price: trades at or
// below the mid are seller-initiated. The client binds Mid to the symbol's
// most recent snapshot midpoint per fetch; a zero Mid falls back to the tick
// rule.
type QuoteMidRule struct {
	Mid decimal.Decimal
}

func (r QuoteMidRule) Infer(tick TradeTick, prev *TradeTick) Side {
	if r.Mid.IsZero() {
		return TickRule{}.Infer(tick, prev)
	}
	if tick.Price.GreaterThan(r.Mid) {
		return SideBuy
	}
	return SideSell
}

// RuleByName maps a configured rule name to an implementation, defaulting to
// the tick rule.
func RuleByName(name string) SideRule {
	switch name {
	case "quote_mid":
		return QuoteMidRule{}
	default:
		return TickRule{}
	}
}

var (
	_ SideRule = TickRule{}
	_ SideRule = QuoteMidRule{}
)
