package audit

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestMemoryLogger_FillsIDAndTimestamp(t *testing.T) {
	logger := NewMemoryLogger()
	if err := logger.Log(context.Background(), Entry{TenantID: "t1", Action: "cycle.close"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].ID, "audit-") || entries[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected entry %+v", entries[0])
	}

	entries[0].Action = "mutated"
	if logger.Entries()[0].Action != "cycle.close" {
		t.Fatalf("Entries must return a copy")
	}
}

func TestDigestJSON(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("empty payload should have no digest")
	}
	a := DigestJSON([]byte(`{"year":2025}`))
	b := DigestJSON([]byte(`{"year":2026}`))
	if len(a) != 64 || a == b {
		t.Fatalf("unexpected digests %q %q", a, b)
	}
}

func TestFromRequest(t *testing.T) {
	cases := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "10.0.0.9:4411", nil, "10.0.0.9"},
		{"remote v6", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"real ip", "10.0.0.9:4411", map[string]string{"X-Real-IP": "172.16.0.2"}, "172.16.0.2"},
		{"forwarded for", "10.0.0.9:4411", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "172.16.0.2"}, "203.0.113.7"},
		{"skips garbage hop", "10.0.0.9:4411", map[string]string{"X-Forwarded-For": "unknown, 198.51.100.4"}, "198.51.100.4"},
		{"rfc 7239", "10.0.0.9:4411", map[string]string{"Forwarded": `for="[2001:db8::7]:8080";proto=https`, "X-Forwarded-For": "203.0.113.7"}, "2001:db8::7"},
		{"obfuscated forwarded", "10.0.0.9:4411", map[string]string{"Forwarded": "for=_hidden", "X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/api/v1/routes/r1/audit", nil)
		req.RemoteAddr = tc.remote
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := FromRequest(req).IP; got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}

	req := httptest.NewRequest("POST", "/api/v1/settlements", nil)
	req.Header.Set("User-Agent", "route-app/2.1")
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "host/abc-000001"))
	entry := FromRequest(req).Stamp(Entry{Action: "settlement.record"})
	if entry.UserAgent != "route-app/2.1" || entry.RequestID != "host/abc-000001" || entry.IP != "192.0.2.1" || entry.Action != "settlement.record" {
		t.Fatalf("unexpected stamped entry: %+v", entry)
	}
	if (FromRequest(nil) != RequestMeta{}) {
		t.Fatalf("nil request must give empty meta")
	}
}

func TestMemoryLogger_ListNewestFirst(t *testing.T) {
	logger := NewMemoryLogger()
	ctx := context.Background()
	for _, e := range []Entry{
		{TenantID: "t1", RouteID: "north", Action: "cycle.open"},
		{TenantID: "t1", RouteID: "south", Action: "cycle.open"},
		{TenantID: "t2", RouteID: "north", Action: "cycle.open"},
		{TenantID: "t1", RouteID: "north", Action: "settlement.record"},
		{TenantID: "t1", RouteID: "north", Action: "cycle.close"},
	} {
		if err := logger.Log(ctx, e); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	got, err := logger.List(ctx, Query{TenantID: "t1", RouteID: "north", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Action != "cycle.close" || got[1].Action != "settlement.record" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	all, _ := logger.List(ctx, Query{TenantID: "t1", RouteID: "north"})
	if len(all) != 3 {
		t.Fatalf("expected default limit to cover 3 entries, got %d", len(all))
	}
	if (Query{Limit: 10_000}).limit() != maxListLimit || (Query{}).limit() != defaultListLimit {
		t.Fatalf("unexpected limit clamping")
	}
}
