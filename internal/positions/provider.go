// Package positions resolves the set of symbols the monitor should watch.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider exposes the actively-held symbol set. An empty result idles the
// monitor; it is not an error.
type Provider interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// Static serves a fixed watchlist, used in watchlist mode and in tests.
type Static struct {
	symbols []string
}

// NewStatic normalizes and deduplicates the configured watchlist.
func NewStatic(symbols []string) *Static {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return &Static{symbols: out}
}

func (s *Static) ActiveSymbols(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out, nil
}

// HTTPOptions parameterise the portfolio-manager client.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
}

// HTTP polls the portfolio manager's active-positions endpoint.
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs the portfolio-manager client.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "position_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// ActiveSymbols fetches the open-position tickers.
func (h *HTTP) ActiveSymbols(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/positions/active", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch active positions: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("position provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode active positions: %w", err)
	}

	return NewStatic(body.Symbols).symbols, nil
}

var (
	_ Provider = (*Static)(nil)
	_ Provider = (*HTTP)(nil)
)
