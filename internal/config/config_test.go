package config

import (
	"strings"
	"testing"
	"time"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("FLOWWATCH_POSITIONS_BASE_URL", "http://localhost:8181")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load cleanly: %v", err)
	}
	return cfg
}

func TestDefaultsValid(t *testing.T) {
	cfg := defaultConfig(t)

	if cfg.Detection.LargeOrderSizeThreshold != 10000 {
		t.Fatalf("default size threshold: %d", cfg.Detection.LargeOrderSizeThreshold)
	}
	if cfg.Detection.VolumeSpikeThreshold != 3.0 {
		t.Fatalf("default spike threshold: %f", cfg.Detection.VolumeSpikeThreshold)
	}
	if cfg.Exit.AlertWindow != 120*time.Second {
		t.Fatalf("default alert window: %s", cfg.Exit.AlertWindow)
	}
	if cfg.Detection.MonitoringMode != ModePositionsOnly {
		t.Fatalf("default mode: %s", cfg.Detection.MonitoringMode)
	}
}

func TestValidateRejectsCriticalBelowSpike(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Detection.VolumeSpikeThreshold = 3.0
	cfg.Detection.CriticalVolumeSpikeThreshold = 2.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("critical threshold below spike threshold must be rejected")
	}
	if !strings.Contains(err.Error(), "critical_volume_spike_threshold") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsSmallSizeThreshold(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Detection.LargeOrderSizeThreshold = 999

	if err := cfg.Validate(); err == nil {
		t.Fatal("size threshold below 1000 shares must be rejected")
	}
}

func TestValidateSpikeThresholdRange(t *testing.T) {
	for _, v := range []float64{1.4, 10.1} {
		cfg := defaultConfig(t)
		cfg.Detection.VolumeSpikeThreshold = v
		cfg.Detection.CriticalVolumeSpikeThreshold = v + 1

		if err := cfg.Validate(); err == nil {
			t.Fatalf("spike threshold %f must be rejected", v)
		}
	}
}

func TestValidateAlertWindowRange(t *testing.T) {
	for _, w := range []time.Duration{29 * time.Second, 301 * time.Second} {
		cfg := defaultConfig(t)
		cfg.Exit.AlertWindow = w

		if err := cfg.Validate(); err == nil {
			t.Fatalf("alert window %s must be rejected", w)
		}
	}
}

func TestValidateWatchlistModeNeedsSymbols(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Detection.MonitoringMode = ModeWatchlist
	cfg.Positions.Watchlist = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("watchlist mode without symbols must be rejected")
	}

	cfg.Positions.Watchlist = []string{"AAPL"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("watchlist mode with symbols should pass: %v", err)
	}
}

func TestValidatePositionsOnlyNeedsBaseURL(t *testing.T) {
	// Without a position provider there is nothing to monitor; that is a
	// startup error, not a silently idle process.
	cfg := defaultConfig(t)
	cfg.Positions.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("positions_only mode without positions.base_url must be rejected")
	}

	// Watchlist mode does not need the provider endpoint.
	cfg.Detection.MonitoringMode = ModeWatchlist
	cfg.Positions.Watchlist = []string{"AAPL"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("watchlist mode without base_url should pass: %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Detection.MonitoringMode = "everything"

	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown monitoring mode must be rejected")
	}
}

func TestRequireCredential(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Provider.APIToken = ""
	if err := cfg.RequireCredential(); err == nil {
		t.Fatal("missing credential must be an error")
	}

	cfg.Provider.APIToken = "secret"
	if err := cfg.RequireCredential(); err != nil {
		t.Fatalf("credential present: %v", err)
	}
}
