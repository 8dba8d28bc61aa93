package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/alerting"
	"flowwatch/internal/audit"
	"flowwatch/internal/config"
	"flowwatch/internal/marketdata"
	"flowwatch/internal/monitor"
	"flowwatch/internal/positions"
	"flowwatch/internal/service"
	"flowwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *marketdata.Client {
	p := a.Config.Provider
	return marketdata.NewClient(marketdata.Options{
		BaseURL:           p.BaseURL,
		APIToken:          p.APIToken,
		Timeout:           p.RequestTimeout,
		UserAgent:         p.UserAgent,
		RequestsPerSecond: p.RequestsPerSecond,
		CoolOff:           p.CoolOff,
		SideRule:          marketdata.RuleByName(p.SideRule),
	}, a.Logger)
}

func (a *App) newPositionProvider() positions.Provider {
	if a.Config.Detection.MonitoringMode == config.ModeWatchlist {
		return positions.NewStatic(a.Config.Positions.Watchlist)
	}
	return positions.NewHTTP(positions.HTTPOptions{
		BaseURL: a.Config.Positions.BaseURL,
		Timeout: a.Config.Positions.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Risk.WebhookURL != "" {
		return alerting.NewWebhookNotifier(a.Config.Risk.WebhookURL, a.Config.Risk.RequestTimeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.RequireCredential(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	auditLog, err := audit.Open(a.Config.Audit)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newClient()
	notifier := a.newNotifier()

	var alertStore storage.AlertStore
	var recStore storage.RecommendationStore
	if store != nil {
		alertStore = store
		recStore = store
		go pruneAlerts(ctx, store, a.Config.Database.AlertRetention, pruneInterval, a.Logger)
	}

	svc := service.New(a.Config, client, client, notifier, auditLog, alertStore, recStore, a.Logger)
	mon := monitor.New(a.Config, svc, a.newPositionProvider(), a.Logger)

	a.Logger.Info().
		Str("mode", a.Config.Detection.MonitoringMode).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting order-flow monitoring")

	err = mon.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitoring terminated with error")
		return err
	}

	a.Logger.Info().Msg("order-flow monitoring stopped")
	return nil
}

// ExportOptions hold parameters for exporting stored alert history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
