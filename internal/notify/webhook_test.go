package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookNotifier_PostsTextPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), AlertMessage{
		RouteID:    "route-1",
		RunID:      "run-1",
		Mismatches: 2,
		Healed:     true,
		Meta:       map[string]string{"client-b": "10 != 12", "client-a": "5 != 0"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.MsgType != "text" {
		t.Fatalf("expected text msgtype, got %q", got.MsgType)
	}
	for _, want := range []string{"Route: route-1", "Mismatches: 2", "healed", "client-a: 5 != 0"} {
		if !strings.Contains(got.Text.Content, want) {
			t.Fatalf("content missing %q:\n%s", want, got.Text.Content)
		}
	}
	if strings.Index(got.Text.Content, "client-a") > strings.Index(got.Text.Content, "client-b") {
		t.Fatalf("meta lines not sorted:\n%s", got.Text.Content)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), AlertMessage{}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestWebhookNotifier_EmptyURL(t *testing.T) {
	if err := NewWebhookNotifier("").Notify(context.Background(), AlertMessage{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
