package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"flowwatch/internal/logging"
)

// Monitoring modes select where the watched symbol set comes from.
const (
	ModePositionsOnly = "positions_only"
	ModeWatchlist     = "watchlist"
)

// Config materialises application configuration. Thresholds are immutable
// after Load; an invalid value is a fatal startup error.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Positions PositionsConfig `mapstructure:"positions"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Detection DetectionConfig `mapstructure:"detection"`
	Exit      ExitConfig      `mapstructure:"exit"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// AuditConfig governs the append-only decision log.
type AuditConfig struct {
	Dir     string `mapstructure:"dir"`
	Enabled bool   `mapstructure:"enabled"`
}

// ProviderConfig covers market-data provider access. APIToken is injected
// through the environment and must never reach a log line.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIToken          string        `mapstructure:"api_token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CoolOff           time.Duration `mapstructure:"cool_off"`
	UserAgent         string        `mapstructure:"user_agent"`
	SideRule          string        `mapstructure:"side_rule"`
}

// PositionsConfig locates the position provider collaborator.
type PositionsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Watchlist is the static symbol set used in watchlist mode.
	Watchlist []string `mapstructure:"watchlist"`
}

// SchedulerConfig governs per-symbol cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// DetectionConfig carries the order-flow thresholds.
type DetectionConfig struct {
	LargeOrderSizeThreshold int64 `mapstructure:"large_order_size_threshold"`
	// CriticalSizeMultiplier scales the large-order threshold into the
	// critical tier.
	CriticalSizeMultiplier       float64       `mapstructure:"critical_size_multiplier"`
	VolumeSpikeThreshold         float64       `mapstructure:"volume_spike_threshold"`
	CriticalVolumeSpikeThreshold float64       `mapstructure:"critical_volume_spike_threshold"`
	SellRatioThreshold           float64       `mapstructure:"sell_ratio_threshold"`
	BucketSize                   time.Duration `mapstructure:"bucket_size"`
	WindowRetention              time.Duration `mapstructure:"window_retention"`
	MonitoringMode               string        `mapstructure:"monitoring_mode"`
}

// ExitConfig tunes the exit-signal correlator.
type ExitConfig struct {
	AlertWindow      time.Duration `mapstructure:"alert_window"`
	LargeSellerCount int           `mapstructure:"large_seller_count"`
	HistorySize      int           `mapstructure:"history_size"`
}

// RiskConfig routes exit recommendations to the risk collaborator.
type RiskConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig encapsulates the optional PostgreSQL alert store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// AlertRetention bounds how long persisted alerts are kept; older rows
	// are pruned while the monitor runs.
	AlertRetention time.Duration `mapstructure:"alert_retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOWWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flowwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", "audit")

	v.SetDefault("provider.request_timeout", "2s")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.cool_off", "1m")
	v.SetDefault("provider.user_agent", "flowwatch/1.0")
	v.SetDefault("provider.side_rule", "tick")

	v.SetDefault("positions.base_url", "")
	v.SetDefault("positions.request_timeout", "2s")

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.refresh_interval", "15s")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("detection.large_order_size_threshold", int64(10000))
	v.SetDefault("detection.critical_size_multiplier", 1.5)
	v.SetDefault("detection.volume_spike_threshold", 3.0)
	v.SetDefault("detection.critical_volume_spike_threshold", 4.0)
	v.SetDefault("detection.sell_ratio_threshold", 0.60)
	v.SetDefault("detection.bucket_size", "5m")
	v.SetDefault("detection.window_retention", "60m")
	v.SetDefault("detection.monitoring_mode", ModePositionsOnly)

	v.SetDefault("exit.alert_window", "120s")
	v.SetDefault("exit.large_seller_count", 3)
	v.SetDefault("exit.history_size", 50)

	v.SetDefault("risk.request_timeout", "5s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.alert_retention", "720h")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate enforces the threshold invariants. It runs once at load; the
// monitoring loop never re-checks them.
func (c *Config) Validate() error {
	d := c.Detection
	if d.LargeOrderSizeThreshold < 1000 {
		return fmt.Errorf("detection.large_order_size_threshold must be at least 1000 shares")
	}
	if d.CriticalSizeMultiplier < 1.0 {
		return fmt.Errorf("detection.critical_size_multiplier must be at least 1.0")
	}
	if d.VolumeSpikeThreshold < 1.5 || d.VolumeSpikeThreshold > 10.0 {
		return fmt.Errorf("detection.volume_spike_threshold must be within [1.5, 10.0]")
	}
	if d.CriticalVolumeSpikeThreshold < d.VolumeSpikeThreshold {
		return fmt.Errorf("detection.critical_volume_spike_threshold must not be below detection.volume_spike_threshold")
	}
	if d.SellRatioThreshold <= 0 || d.SellRatioThreshold >= 1 {
		return fmt.Errorf("detection.sell_ratio_threshold must be within (0, 1)")
	}
	if d.BucketSize <= 0 {
		return fmt.Errorf("detection.bucket_size must be greater than zero")
	}
	if d.WindowRetention < d.BucketSize {
		return fmt.Errorf("detection.window_retention must cover at least one bucket")
	}
	if d.MonitoringMode != ModePositionsOnly && d.MonitoringMode != ModeWatchlist {
		return fmt.Errorf("detection.monitoring_mode must be %q or %q", ModePositionsOnly, ModeWatchlist)
	}

	if c.Exit.AlertWindow < 30*time.Second || c.Exit.AlertWindow > 300*time.Second {
		return fmt.Errorf("exit.alert_window must be within [30s, 300s]")
	}
	if c.Exit.LargeSellerCount <= 0 {
		return fmt.Errorf("exit.large_seller_count must be greater than zero")
	}
	if c.Exit.HistorySize <= 0 {
		return fmt.Errorf("exit.history_size must be greater than zero")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.RefreshInterval <= 0 {
		return fmt.Errorf("scheduler.refresh_interval must be greater than zero")
	}
	if c.Provider.RequestsPerSecond <= 0 {
		return fmt.Errorf("provider.requests_per_second must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Database.AlertRetention <= 0 {
		return fmt.Errorf("database.alert_retention must be greater than zero")
	}
	if d.MonitoringMode == ModeWatchlist && len(c.Positions.Watchlist) == 0 {
		return fmt.Errorf("positions.watchlist must not be empty in watchlist mode")
	}
	if d.MonitoringMode == ModePositionsOnly && strings.TrimSpace(c.Positions.BaseURL) == "" {
		return fmt.Errorf("positions.base_url is required in %s mode", ModePositionsOnly)
	}
	return nil
}

// RequireCredential confirms the provider token is present. Only the
// monitoring commands call this; offline commands (show, export) run without
// a credential.
func (c *Config) RequireCredential() error {
	if strings.TrimSpace(c.Provider.APIToken) == "" {
		return fmt.Errorf("provider.api_token is required (set FLOWWATCH_PROVIDER_API_TOKEN)")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
