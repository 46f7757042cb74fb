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
)

func testNotification() Notification {
	return Notification{
		RunID:    "run-1",
		Source:   "export.sqlite",
		Finished: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Results: []AlgorithmSummary{
			{
				Algorithm: "linefit",
				Aggregate: decimal.NewNullDecimal(decimal.RequireFromString("0.08123")),
				Reference: decimal.NewNullDecimal(decimal.RequireFromString("0.1")),
				Scored:    3,
				Sessions:  4,
			},
			{Algorithm: "initial", Sessions: 4},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if received["text"] == "" {
		t.Fatalf("text should not be empty")
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false should fail")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(testNotification())

	for _, want := range []string{
		"Run: run-1\n",
		"Finished: 2024-03-01T12:00:00Z UTC\n",
		"linefit: MARD 0.0812 over 3/4 sessions (reference 0.1000)\n",
		"initial: MARD n/a over 0/4 sessions\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
