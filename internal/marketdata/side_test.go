package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"
)

func priceTick(price float64, side Side) TradeTick {
	return TradeTick{Price: decimal.NewFromFloat(price), Side: side}
}

func TestTickRule(t *testing.T) {
	rule := TickRule{}

	if got := rule.Infer(priceTick(100, ""), nil); got != SideSell {
		t.Fatalf("first trade defaults to sell, got %s", got)
	}

	prev := priceTick(100, SideBuy)
	if got := rule.Infer(priceTick(100.01, ""), &prev); got != SideBuy {
		t.Fatalf("uptick should be buy, got %s", got)
	}
	if got := rule.Infer(priceTick(99.99, ""), &prev); got != SideSell {
		t.Fatalf("downtick should be sell, got %s", got)
	}
	if got := rule.Infer(priceTick(100, ""), &prev); got != SideBuy {
		t.Fatalf("zero tick carries previous side, got %s", got)
	}
}

func TestQuoteMidRule(t *testing.T) {
	rule := QuoteMidRule{Mid: decimal.NewFromFloat(100)}

	if got := rule.Infer(priceTick(100.05, ""), nil); got != SideBuy {
		t.Fatalf("above mid should be buy, got %s", got)
	}
	if got := rule.Infer(priceTick(100, ""), nil); got != SideSell {
		t.Fatalf("at mid should be sell, got %s", got)
	}
	if got := rule.Infer(priceTick(99.95, ""), nil); got != SideSell {
		t.Fatalf("below mid should be sell, got %s", got)
	}
}

func TestRuleByName(t *testing.T) {
	if _, ok := RuleByName("quote_mid").(QuoteMidRule); !ok {
		t.Fatal("quote_mid should select QuoteMidRule")
	}
	if _, ok := RuleByName("tick").(TickRule); !ok {
		t.Fatal("tick should select TickRule")
	}
	if _, ok := RuleByName("").(TickRule); !ok {
		t.Fatal("unknown names default to TickRule")
	}
}
