package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"flowwatch/internal/marketdata"
	"flowwatch/internal/service"
)

// Simulate drives one full detection cycle from synthetic data, exercising
// the detector, correlator, and notifier paths without a provider credential.
func (a *App) Simulate(ctx context.Context, symbol string) error {
	now := time.Now().UTC()
	threshold := a.Config.Detection.LargeOrderSizeThreshold

	// Three qualifying bid levels in one snapshot: enough repeated
	// large-seller pressure to produce an exit recommendation.
	book := &staticBookFetcher{snapshot: marketdata.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: now,
		Bids: []marketdata.BookLevel{
			{Price: decimal.NewFromFloat(175.50), Size: threshold * 2},
			{Price: decimal.NewFromFloat(175.45), Size: threshold + threshold/4},
			{Price: decimal.NewFromFloat(175.40), Size: threshold},
		},
		Asks: []marketdata.BookLevel{
			{Price: decimal.NewFromFloat(175.55), Size: 500},
		},
	}}
	tape := &staticTapeFetcher{ticks: []marketdata.TradeTick{
		{Symbol: symbol, Price: decimal.NewFromFloat(175.48), Size: 800, Side: marketdata.SideSell, Timestamp: now.Add(-time.Second)},
	}}

	svc := service.New(a.Config, book, tape, a.newNotifier(), nil, nil, nil, a.Logger)
	mon := svc.NewSymbolMonitor(symbol)
	defer mon.Close()

	return mon.Cycle(ctx, now)
}

type staticBookFetcher struct {
	snapshot marketdata.OrderBookSnapshot
}

func (f *staticBookFetcher) FetchBookSnapshot(ctx context.Context, symbol string) (marketdata.OrderBookSnapshot, error) {
	return f.snapshot, nil
}

type staticTapeFetcher struct {
	ticks []marketdata.TradeTick
}

func (f *staticTapeFetcher) FetchTape(ctx context.Context, symbol string, start, end time.Time) ([]marketdata.TradeTick, error) {
	return f.ticks, nil
}

var (
	_ marketdata.BookFetcher = (*staticBookFetcher)(nil)
	_ marketdata.TapeFetcher = (*staticTapeFetcher)(nil)
)
