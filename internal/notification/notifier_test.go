package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"harvest/internal/config"
)

func TestWebhookNotifier_PostsPayload(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL, Project: "harvest"}
	err := n.Notify(context.Background(), Event{Name: "usage_threshold", Level: "warning", Message: "80% used"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Project != "harvest" || got.Event != "usage_threshold" || got.Level != "warning" {
		t.Fatalf("payload=%+v", got)
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Name: "x"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestTelegramNotifier_UsesBotPath(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body telegramSendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		text = body.Text
	}))
	defer srv.Close()

	n := TelegramNotifier{
		Sender:   TelegramSender{BaseURL: srv.URL},
		BotToken: "tok",
		ChatID:   "42",
		Project:  "harvest",
	}
	if err := n.Notify(context.Background(), Event{Name: "worker_restart", Level: "warning", Message: "worker-1"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Fatalf("path=%q", path)
	}
	if !strings.Contains(text, "worker_restart") || !strings.Contains(text, "worker-1") {
		t.Fatalf("text=%q", text)
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Event) error { return f.err }

func TestFanout_JoinsErrorsAndSkipsUnconfigured(t *testing.T) {
	boom := errors.New("boom")
	f := Fanout{
		WebhookNotifier{},
		TelegramNotifier{},
		failingNotifier{err: boom},
		LogNotifier{},
	}
	err := f.Notify(context.Background(), Event{Name: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestFromConfig_AddsConfiguredChannels(t *testing.T) {
	if got := len(FromConfig(config.AlertsConfig{}, nil)); got != 1 {
		t.Fatalf("bare fanout=%d want=1", got)
	}
	full := FromConfig(config.AlertsConfig{
		Project:          "harvest",
		WebhookURL:       "http://hooks.local/x",
		TelegramBotToken: "tok",
		TelegramChatID:   "42",
	}, nil)
	if len(full) != 3 {
		t.Fatalf("full fanout=%d want=3", len(full))
	}
}
