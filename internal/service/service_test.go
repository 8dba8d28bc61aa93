package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flowwatch/internal/config"
	"flowwatch/internal/exit"
	"flowwatch/internal/marketdata"
	"flowwatch/internal/validate"
)

type fakeBook struct {
	snap marketdata.OrderBookSnapshot
	err  error
}

func (f *fakeBook) FetchBookSnapshot(ctx context.Context, symbol string) (marketdata.OrderBookSnapshot, error) {
	return f.snap, f.err
}

type fakeTape struct {
	ticks  []marketdata.TradeTick
	err    error
	starts []time.Time
}

func (f *fakeTape) FetchTape(ctx context.Context, symbol string, start, end time.Time) ([]marketdata.TradeTick, error) {
	f.starts = append(f.starts, start)
	return f.ticks, f.err
}

type captureNotifier struct {
	recs []exit.Recommendation
	err  error
}

func (c *captureNotifier) Notify(ctx context.Context, rec exit.Recommendation) error {
	c.recs = append(c.recs, rec)
	return c.err
}

func testConfig() *config.Config {
	return &config.Config{
		Detection: config.DetectionConfig{
			LargeOrderSizeThreshold:      10000,
			CriticalSizeMultiplier:       1.5,
			VolumeSpikeThreshold:         3.0,
			CriticalVolumeSpikeThreshold: 4.0,
			SellRatioThreshold:           0.60,
			BucketSize:                   5 * time.Minute,
			WindowRetention:              time.Hour,
			MonitoringMode:               config.ModePositionsOnly,
		},
		Exit: config.ExitConfig{
			AlertWindow:      120 * time.Second,
			LargeSellerCount: 3,
			HistorySize:      50,
		},
	}
}

func freshSnapshot(symbol string, now time.Time, bidSizes ...int64) marketdata.OrderBookSnapshot {
	snap := marketdata.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: now,
		Asks: []marketdata.BookLevel{
			{Price: decimal.RequireFromString("175.55"), Size: 500},
		},
	}
	price := decimal.RequireFromString("175.50")
	for _, size := range bidSizes {
		snap.Bids = append(snap.Bids, marketdata.BookLevel{Price: price, Size: size})
		price = price.Sub(decimal.RequireFromString("0.05"))
	}
	return snap
}

func newTestMonitor(book marketdata.BookFetcher, tape marketdata.TapeFetcher, notifier *captureNotifier) *SymbolMonitor {
	svc := New(testConfig(), book, tape, notifier, nil, nil, nil, zerolog.Nop())
	return svc.NewSymbolMonitor("AAPL")
}

func TestCycleRepeatedLargeSellersProduceOneRecommendation(t *testing.T) {
	now := time.Now().UTC()
	book := &fakeBook{snap: freshSnapshot("AAPL", now, 15000, 12000, 10000)}
	tape := &fakeTape{}
	notifier := &captureNotifier{}
	mon := newTestMonitor(book, tape, notifier)

	if err := mon.Cycle(context.Background(), now); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if len(notifier.recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(notifier.recs))
	}
	rec := notifier.recs[0]
	if rec.Symbol != "AAPL" {
		t.Fatalf("recommendation symbol = %q", rec.Symbol)
	}
	if rec.Reason != exit.ReasonRepeatedLargeSellers {
		t.Fatalf("reason = %q, want %q", rec.Reason, exit.ReasonRepeatedLargeSellers)
	}
	if rec.TriggeringAlertID == "" {
		t.Fatal("recommendation must carry the triggering alert id")
	}
}

func TestCycleDoesNotRepeatRecommendationWithoutNewAlerts(t *testing.T) {
	now := time.Now().UTC()
	book := &fakeBook{snap: freshSnapshot("AAPL", now, 15000, 12000, 10000)}
	tape := &fakeTape{}
	notifier := &captureNotifier{}
	mon := newTestMonitor(book, tape, notifier)

	if err := mon.Cycle(context.Background(), now); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// The book clears; nothing new accumulates, so the same alert history
	// must not fire twice.
	later := now.Add(5 * time.Second)
	book.snap = freshSnapshot("AAPL", later, 500)
	if err := mon.Cycle(context.Background(), later); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(notifier.recs) != 1 {
		t.Fatalf("got %d recommendations, want exactly 1", len(notifier.recs))
	}
}

func TestPersistentSpikeRecommendsOnce(t *testing.T) {
	// One critical spike followed by empty-tape cycles inside the same
	// bucket: the recommendation publishes once, not per poll.
	start := time.Now().UTC().Truncate(5 * time.Minute).Add(10 * time.Second)
	book := &fakeBook{snap: freshSnapshot("AAPL", start, 500)}
	notifier := &captureNotifier{}

	bucketStart := start.Truncate(5 * time.Minute)
	var ticks []marketdata.TradeTick
	for i := 4; i >= 1; i-- {
		ticks = append(ticks, marketdata.TradeTick{
			Symbol:    "AAPL",
			Price:     decimal.RequireFromString("175.48"),
			Size:      1000,
			Side:      marketdata.SideBuy,
			Timestamp: bucketStart.Add(-time.Duration(i) * 5 * time.Minute),
		})
	}
	ticks = append(ticks,
		marketdata.TradeTick{Symbol: "AAPL", Price: decimal.RequireFromString("175.45"), Size: 2730, Side: marketdata.SideSell, Timestamp: bucketStart.Add(time.Second)},
		marketdata.TradeTick{Symbol: "AAPL", Price: decimal.RequireFromString("175.46"), Size: 1470, Side: marketdata.SideBuy, Timestamp: bucketStart.Add(2 * time.Second)},
	)
	tape := &fakeTape{ticks: ticks}
	mon := newTestMonitor(book, tape, notifier)

	if err := mon.Cycle(context.Background(), start); err != nil {
		t.Fatalf("spiking cycle: %v", err)
	}
	if len(notifier.recs) != 1 || notifier.recs[0].Reason != exit.ReasonCriticalVolumeSpike {
		t.Fatalf("expected one critical-spike recommendation, got %+v", notifier.recs)
	}

	tape.ticks = nil
	for i := 1; i <= 5; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Second)
		book.snap = freshSnapshot("AAPL", at, 500)
		if err := mon.Cycle(context.Background(), at); err != nil {
			t.Fatalf("quiet cycle %d: %v", i, err)
		}
	}
	if len(notifier.recs) != 1 {
		t.Fatalf("same persistent spike produced %d recommendations, want exactly 1", len(notifier.recs))
	}
}

func TestCycleRejectsStaleSnapshot(t *testing.T) {
	now := time.Now().UTC()
	book := &fakeBook{snap: freshSnapshot("AAPL", now.Add(-35*time.Second), 15000, 12000, 10000)}
	tape := &fakeTape{}
	notifier := &captureNotifier{}
	mon := newTestMonitor(book, tape, notifier)

	err := mon.Cycle(context.Background(), now)
	if err == nil {
		t.Fatal("stale snapshot must fail the cycle")
	}
	var ie *validate.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("got %T, want IntegrityError", err)
	}
	if ie.Reason != validate.ReasonStaleSnapshot {
		t.Fatalf("reason = %q, want %q", ie.Reason, validate.ReasonStaleSnapshot)
	}
	if len(tape.starts) != 0 {
		t.Fatal("tape must not be fetched after a rejected snapshot")
	}
	if len(notifier.recs) != 0 {
		t.Fatal("no recommendation may come from rejected data")
	}
}

func TestCycleAuthFailureIsFatal(t *testing.T) {
	provErr := &marketdata.ProviderError{
		Kind:     marketdata.KindAuth,
		Endpoint: "/v1/book/AAPL",
		Status:   401,
		Err:      errors.New("invalid token"),
	}
	book := &fakeBook{err: provErr}
	mon := newTestMonitor(book, &fakeTape{}, &captureNotifier{})

	err := mon.Cycle(context.Background(), time.Now().UTC())
	if !errors.Is(err, ErrAuthFatal) {
		t.Fatalf("got %v, want ErrAuthFatal", err)
	}
}

func TestCycleTransientFailureIsNotFatal(t *testing.T) {
	provErr := &marketdata.ProviderError{
		Kind:     marketdata.KindTransient,
		Endpoint: "/v1/book/AAPL",
		Status:   503,
		Err:      errors.New("unavailable"),
	}
	book := &fakeBook{err: provErr}
	mon := newTestMonitor(book, &fakeTape{}, &captureNotifier{})

	err := mon.Cycle(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("transient failure must surface as an error")
	}
	if errors.Is(err, ErrAuthFatal) {
		t.Fatal("transient failure must not be fatal")
	}
}

func TestCycleRejectsDisorderedTape(t *testing.T) {
	now := time.Now().UTC()
	book := &fakeBook{snap: freshSnapshot("AAPL", now, 500)}
	tape := &fakeTape{ticks: []marketdata.TradeTick{
		{Symbol: "AAPL", Price: decimal.RequireFromString("175.50"), Size: 100, Side: marketdata.SideSell, Timestamp: now},
		{Symbol: "AAPL", Price: decimal.RequireFromString("175.49"), Size: 100, Side: marketdata.SideSell, Timestamp: now.Add(-time.Second)},
	}}
	mon := newTestMonitor(book, tape, &captureNotifier{})

	err := mon.Cycle(context.Background(), now)
	var ie *validate.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("got %v, want IntegrityError", err)
	}
	if ie.Reason != validate.ReasonTickOrder {
		t.Fatalf("reason = %q, want %q", ie.Reason, validate.ReasonTickOrder)
	}
}

func TestTapeFetchWindowAdvances(t *testing.T) {
	now := time.Now().UTC()
	book := &fakeBook{snap: freshSnapshot("AAPL", now, 500)}
	tape := &fakeTape{}
	mon := newTestMonitor(book, tape, &captureNotifier{})

	if err := mon.Cycle(context.Background(), now); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	later := now.Add(5 * time.Second)
	book.snap = freshSnapshot("AAPL", later, 500)
	if err := mon.Cycle(context.Background(), later); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if len(tape.starts) != 2 {
		t.Fatalf("got %d tape fetches, want 2", len(tape.starts))
	}
	// First fetch primes one full bucket; the second resumes where the
	// first ended so no trade is read twice.
	if !tape.starts[0].Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("first start = %v, want %v", tape.starts[0], now.Add(-5*time.Minute))
	}
	if !tape.starts[1].Equal(now) {
		t.Fatalf("second start = %v, want %v", tape.starts[1], now)
	}
}

func TestNotifierFailureDoesNotFailCycle(t *testing.T) {
	now := time.Now().UTC()
	book := &fakeBook{snap: freshSnapshot("AAPL", now, 15000, 12000, 10000)}
	notifier := &captureNotifier{err: errors.New("webhook down")}
	mon := newTestMonitor(book, &fakeTape{}, notifier)

	if err := mon.Cycle(context.Background(), now); err != nil {
		t.Fatalf("delivery failure must not fail the cycle: %v", err)
	}
	if len(notifier.recs) != 1 {
		t.Fatalf("got %d delivery attempts, want 1", len(notifier.recs))
	}
}
