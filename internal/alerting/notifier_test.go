package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/exit"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleRecommendation() exit.Recommendation {
	return exit.Recommendation{
		Symbol:            "AAPL",
		Reason:            exit.ReasonCriticalVolumeSpike,
		TriggeringAlertID: "11111111-2222-3333-4444-555555555555",
		Timestamp:         time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierSuccess(t *testing.T) {
	var received exit.Recommendation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	rec := sampleRecommendation()
	if err := n.Notify(context.Background(), rec); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received.Symbol != rec.Symbol {
		t.Fatalf("symbol = %s", received.Symbol)
	}
	if received.TriggeringAlertID != rec.TriggeringAlertID {
		t.Fatalf("triggering alert id = %s", received.TriggeringAlertID)
	}
	if received.Reason != rec.Reason {
		t.Fatalf("reason = %s", received.Reason)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	if err := n.Notify(context.Background(), sampleRecommendation()); err == nil {
		t.Fatal("5xx response must be an error")
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(testLogger())
	if err := n.Notify(context.Background(), sampleRecommendation()); err != nil {
		t.Fatalf("log notifier should never fail: %v", err)
	}
}
