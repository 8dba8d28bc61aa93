package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	bookPath   = "/v1/book/"
	tradesPath = "/v1/trades/"

	maxRetries = 3
)

// Options parameterise the provider client.
type Options struct {
	BaseURL   string
	APIToken  string
	Timeout   time.Duration
	UserAgent string
	// RequestsPerSecond caps the aggregate call rate across all monitored
	// symbols. The provider enforces this budget account-wide.
	RequestsPerSecond float64
	// CoolOff is how long the client refuses provider calls after a
	// non-retryable response (malformed payload) before probing again.
	CoolOff  time.Duration
	SideRule SideRule
}

// Client wraps the depth-of-book and tape endpoints with authentication,
// rate limiting, retries, and normalization into the internal model.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	rule    SideRule

	// mids caches the latest snapshot midpoint per symbol for the quote-mid
	// side rule. Guarded because symbol workers share one client.
	midMu sync.Mutex
	mids  map[string]decimal.Decimal
}

// NewClient constructs a provider client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	coolOff := opts.CoolOff
	if coolOff <= 0 {
		coolOff = time.Minute
	}

	rule := opts.SideRule
	if rule == nil {
		rule = TickRule{}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "marketdata",
		MaxRequests: 1,
		Timeout:     coolOff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		IsSuccessful: func(err error) bool {
			// Only non-retryable provider faults open the breaker; transient
			// misses are already degraded to a skipped cycle by the caller.
			var pe *ProviderError
			if errors.As(err, &pe) {
				return pe.Retryable()
			}
			return true
		},
	})

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "marketdata_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: breaker,
		rule:    rule,
		mids:    make(map[string]decimal.Decimal),
	}
}

// FetchBookSnapshot retrieves and normalizes the current book for symbol.
func (c *Client) FetchBookSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error) {
	var raw rawBook
	endpoint := bookPath + url.PathEscape(symbol)
	if err := c.getJSON(ctx, endpoint, nil, &raw); err != nil {
		return OrderBookSnapshot{}, err
	}
	snap, err := raw.normalize(symbol)
	if err != nil {
		return OrderBookSnapshot{}, &ProviderError{Kind: KindDecode, Endpoint: endpoint, Err: err}
	}
	c.rememberMid(snap)
	return snap, nil
}

func (c *Client) rememberMid(snap OrderBookSnapshot) {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return
	}
	mid := snap.Bids[0].Price.Add(snap.Asks[0].Price).Div(decimal.NewFromInt(2))
	c.midMu.Lock()
	c.mids[snap.Symbol] = mid
	c.midMu.Unlock()
}

// sideRule resolves the inference rule for one fetch. The quote-mid rule is
// bound to the symbol's latest snapshot midpoint; before any snapshot has
// been seen it degrades to the tick rule.
func (c *Client) sideRule(symbol string) SideRule {
	if _, ok := c.rule.(QuoteMidRule); !ok {
		return c.rule
	}
	c.midMu.Lock()
	mid := c.mids[symbol]
	c.midMu.Unlock()
	return QuoteMidRule{Mid: mid}
}

// FetchTape retrieves trades for symbol in [start, end), oldest first, with
// the aggressor side inferred when the feed leaves it blank.
func (c *Client) FetchTape(ctx context.Context, symbol string, start, end time.Time) ([]TradeTick, error) {
	var raw rawTape
	endpoint := tradesPath + url.PathEscape(symbol)
	query := url.Values{
		"start": {start.UTC().Format(time.RFC3339Nano)},
		"end":   {end.UTC().Format(time.RFC3339Nano)},
	}
	if err := c.getJSON(ctx, endpoint, query, &raw); err != nil {
		return nil, err
	}
	ticks, err := raw.normalize(symbol, c.sideRule(symbol))
	if err != nil {
		return nil, &ProviderError{Kind: KindDecode, Endpoint: endpoint, Err: err}
	}
	return ticks, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.getJSONDirect(ctx, endpoint, query, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ProviderError{Kind: KindTransient, Endpoint: endpoint, Err: fmt.Errorf("provider cooling off: %w", err)}
	}
	return err
}

func (c *Client) getJSONDirect(ctx context.Context, endpoint string, query url.Values, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &ProviderError{Kind: KindTransient, Endpoint: endpoint, Err: err}
		}

		status, body, err := c.doRequest(ctx, endpoint, query)
		switch {
		case err != nil:
			// Transport failure or deadline: counts against the retry budget.
			lastErr = err
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &ProviderError{Kind: KindAuth, Endpoint: endpoint, Status: status, Err: errors.New("credential rejected")}
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited")
			if attempt < maxRetries {
				if err := c.sleepBackoff(ctx, retryAfterHint(body.header, attempt)); err != nil {
					return &ProviderError{Kind: KindTransient, Endpoint: endpoint, Err: err}
				}
				continue
			}
		case status >= 500:
			lastErr = fmt.Errorf("provider status %d", status)
		case status != http.StatusOK:
			return &ProviderError{Kind: KindDecode, Endpoint: endpoint, Status: status, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body.payload)))}
		default:
			if err := json.Unmarshal(body.payload, out); err != nil {
				return &ProviderError{Kind: KindDecode, Endpoint: endpoint, Status: status, Err: err}
			}
			return nil
		}

		if attempt >= maxRetries {
			return &ProviderError{Kind: KindTransient, Endpoint: endpoint, Err: fmt.Errorf("retries exhausted: %w", lastErr)}
		}
		if err := c.sleepBackoff(ctx, backoffDelay(attempt)); err != nil {
			return &ProviderError{Kind: KindTransient, Endpoint: endpoint, Err: err}
		}
	}
}

type responseBody struct {
	payload []byte
	header  http.Header
}

func (c *Client) doRequest(ctx context.Context, endpoint string, query url.Values) (int, responseBody, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, responseBody{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIToken)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "flowwatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, responseBody{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, responseBody{}, err
	}
	return resp.StatusCode, responseBody{payload: payload, header: resp.Header}, nil
}

func (c *Client) sleepBackoff(ctx context.Context, delay time.Duration) error {
	c.logger.Debug().Dur("delay", delay).Msg("backing off before retry")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfterHint honours the provider's Retry-After header in either the
// delta-seconds or HTTP-date form, falling back to exponential backoff.
func retryAfterHint(header http.Header, attempt int) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return backoffDelay(attempt)
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return backoffDelay(attempt)
}

// backoffDelay yields 1s, 2s, 4s with ±20% jitter.
func backoffDelay(attempt int) time.Duration {
	base := time.Second << attempt
	jitter := 1 + (rand.Float64()-0.5)*0.4
	return time.Duration(float64(base) * jitter)
}

type rawLevel struct {
	Price string `json:"price"`
	Size  int64  `json:"size"`
}

type rawBook struct {
	Symbol    string     `json:"symbol"`
	Timestamp string     `json:"ts"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
}

func (r rawBook) normalize(symbol string) (OrderBookSnapshot, error) {
	if r.Timestamp == "" {
		return OrderBookSnapshot{}, errors.New("book response missing ts")
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return OrderBookSnapshot{}, fmt.Errorf("parse book ts: %w", err)
	}

	bids, err := normalizeLevels(r.Bids)
	if err != nil {
		return OrderBookSnapshot{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := normalizeLevels(r.Asks)
	if err != nil {
		return OrderBookSnapshot{}, fmt.Errorf("asks: %w", err)
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts.UTC(),
	}, nil
}

func normalizeLevels(raw []rawLevel) ([]BookLevel, error) {
	levels := make([]BookLevel, 0, len(raw))
	for i, lvl := range raw {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		levels = append(levels, BookLevel{Price: price, Size: lvl.Size})
	}
	return levels, nil
}

type rawTrade struct {
	Price     string `json:"price"`
	Size      int64  `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"ts"`
}

type rawTape struct {
	Symbol string     `json:"symbol"`
	Trades []rawTrade `json:"trades"`
}

func (r rawTape) normalize(symbol string, rule SideRule) ([]TradeTick, error) {
	ticks := make([]TradeTick, 0, len(r.Trades))
	var prev *TradeTick
	for i, t := range r.Trades {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("trade %d price: %w", i, err)
		}
		if t.Timestamp == "" {
			return nil, fmt.Errorf("trade %d missing ts", i)
		}
		ts, err := time.Parse(time.RFC3339Nano, t.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("trade %d ts: %w", i, err)
		}

		tick := TradeTick{
			Symbol:    symbol,
			Price:     price,
			Size:      t.Size,
			Side:      Side(t.Side),
			Timestamp: ts.UTC(),
		}
		if !tick.Side.Valid() {
			tick.Side = rule.Infer(tick, prev)
		}
		ticks = append(ticks, tick)
		prev = &ticks[len(ticks)-1]
	}
	return ticks, nil
}

var (
	_ BookFetcher = (*Client)(nil)
	_ TapeFetcher = (*Client)(nil)
)
