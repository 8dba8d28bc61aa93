// Package alerting delivers exit recommendations to the downstream risk
// collaborator.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/exit"
)

// Notifier publishes an exit recommendation. Delivery is at-least-once; the
// caller guarantees a given triggering alert is published at most once, the
// consumer is expected to tolerate redelivery.
type Notifier interface {
	Notify(ctx context.Context, rec exit.Recommendation) error
}

// WebhookNotifier POSTs recommendations as JSON to the risk endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "risk_webhook").Logger(),
	}
}

// Notify delivers one recommendation.
func (n *WebhookNotifier) Notify(ctx context.Context, rec exit.Recommendation) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("risk webhook status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("symbol", rec.Symbol).
		Str("reason", rec.Reason).
		Str("triggering_alert_id", rec.TriggeringAlertID).
		Msg("exit recommendation delivered")
	return nil
}

// LogNotifier records recommendations to the application log only, used when
// no risk endpoint is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "risk_log").Logger()}
}

func (n *LogNotifier) Notify(ctx context.Context, rec exit.Recommendation) error {
	n.logger.Warn().
		Str("symbol", rec.Symbol).
		Str("reason", rec.Reason).
		Str("triggering_alert_id", rec.TriggeringAlertID).
		Time("at", rec.Timestamp).
		Msg("exit recommendation (no risk endpoint configured)")
	return nil
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
