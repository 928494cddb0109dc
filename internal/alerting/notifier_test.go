package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func testNotification() Notification {
	return Notification{
		Signal: model.Signal{
			Type:     model.SignalLocalTop,
			Symbol:   "BTC",
			Strength: decimal.NewFromInt(4),
			Message:  "High long funding + heavy selling pressure → reversal likely",
			Indicators: model.SignalIndicators{
				FundingRate:  decimal.RequireFromString("0.07"),
				OpenInterest: decimal.NewFromInt(900_000_000),
				CVD:          decimal.RequireFromString("-72.4"),
			},
		},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifyPostsSendMessage(t *testing.T) {
	var captured map[string]string
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	n := NewTelegramNotifier("bot-token", "chat-42", ts.URL, time.Second, noopLogger())
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if path != "/botbot-token/sendMessage" {
		t.Fatalf("unexpected path %s", path)
	}
	if captured["chat_id"] != "chat-42" || captured["parse_mode"] != "HTML" {
		t.Fatalf("unexpected payload: %v", captured)
	}
	for _, want := range []string{"LOCAL TOP", "BTC", "Strength: 4.0/10", "Funding: 0.070%/h", "OI: $900.0M", "2025-06-01T12:00:00Z"} {
		if !strings.Contains(captured["text"], want) {
			t.Fatalf("message missing %q:\n%s", want, captured["text"])
		}
	}
}

func TestNotifyRejectsOKFalse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer ts.Close()

	n := NewTelegramNotifier("token", "chat", ts.URL, time.Second, noopLogger())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false must be an error")
	}
}

func TestNotifyRejectsHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	n := NewTelegramNotifier("token", "chat", ts.URL, time.Second, noopLogger())
	err := n.Notify(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected the status in the error, got %v", err)
	}
}

func TestSendText(t *testing.T) {
	var captured map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	n := NewTelegramNotifier("token", "chat", ts.URL, time.Second, noopLogger())
	if err := n.SendText(context.Background(), "funding digest"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured["text"] != "funding digest" {
		t.Fatalf("text must pass through verbatim, got %q", captured["text"])
	}
}

func TestSendTextRejectsEmpty(t *testing.T) {
	n := NewTelegramNotifier("token", "chat", "http://unused", time.Second, noopLogger())
	if err := n.SendText(context.Background(), "   "); err == nil {
		t.Fatal("blank message must be rejected before any request")
	}
}
