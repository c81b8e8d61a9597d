package discord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/chris/wattwise/internal/db"
)

// redirect sends every request to the test server, keeping the path.
type redirect struct{ target *url.URL }

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestNotifier(t *testing.T, h http.HandlerFunc) *Notifier {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)

	n, err := NewNotifier("https://discord.com/api/webhooks/123/secret-token", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	n.session.Client = &http.Client{Transport: redirect{target: target}}
	return n
}

// --- parseWebhookURL ---

func TestParseWebhookURL(t *testing.T) {
	id, token, err := parseWebhookURL("https://discord.com/api/webhooks/987/abc-DEF")
	if err != nil {
		t.Fatalf("parseWebhookURL: %v", err)
	}
	if id != "987" || token != "abc-DEF" {
		t.Errorf("got (%q, %q), want (987, abc-DEF)", id, token)
	}
}

func TestParseWebhookURL_Invalid(t *testing.T) {
	for _, raw := range []string{
		"https://discord.com/api/channels/1/2",
		"https://discord.com/api/webhooks/987",
		"https://discord.com/api/webhooks//token",
		"::not a url",
	} {
		if _, _, err := parseWebhookURL(raw); err == nil {
			t.Errorf("parseWebhookURL(%q): expected error", raw)
		}
	}
}

// --- Notify ---

func TestNotifyPostsEmbed(t *testing.T) {
	var path string
	var body map[string]any
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1","channel_id":"2","content":""}`)
	})

	err := n.Notify(context.Background(), db.Alert{
		ID:         "alert-1",
		Type:       "anomaly",
		Severity:   "high",
		Message:    "Spike detected: 450 kWh",
		Recipients: []string{"a@b.com"},
		SentAt:     time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.HasSuffix(path, "/webhooks/123/secret-token") {
		t.Errorf("unexpected path %q", path)
	}
	embeds, _ := body["embeds"].([]any)
	if len(embeds) != 1 {
		t.Fatalf("expected 1 embed, got %v", body["embeds"])
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "[HIGH] anomaly" {
		t.Errorf("title = %v", embed["title"])
	}
	if embed["description"] != "Spike detected: 450 kWh" {
		t.Errorf("description = %v", embed["description"])
	}
	if embed["color"] != float64(0xe67e22) {
		t.Errorf("color = %v", embed["color"])
	}
}

func TestNotifySplitsLongMessages(t *testing.T) {
	posts := 0
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1"}`)
	})

	msg := strings.Repeat("x", maxMessageLen) + "\n" + strings.Repeat("y", 50)
	if err := n.Notify(context.Background(), db.Alert{ID: "a", Type: "anomaly", Severity: "low", Message: msg}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if posts != 2 {
		t.Errorf("expected 2 posts, got %d", posts)
	}
}

func TestNotifyReportsHTTPError(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Unknown Webhook","code":10015}`)
	})

	err := n.Notify(context.Background(), db.Alert{ID: "alert-x", Type: "anomaly", Severity: "low", Message: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "alert-x") {
		t.Errorf("error should name the alert: %v", err)
	}
}

// --- splitMessage ---

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("hello", 2000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("expected single chunk 'hello', got %v", chunks)
	}
}

func TestSplitMessage_SplitsAtNewline(t *testing.T) {
	s := strings.Repeat("a", 15) + "\n" + strings.Repeat("b", 15)
	chunks := splitMessage(s, 20)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 15)+"\n" {
		t.Errorf("chunk[0] = %q", chunks[0])
	}
	if chunks[1] != strings.Repeat("b", 15) {
		t.Errorf("chunk[1] = %q", chunks[1])
	}
}

func TestSplitMessage_NoNewlineFallback(t *testing.T) {
	chunks := splitMessage(strings.Repeat("x", 50), 20)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2]) != 10 {
		t.Errorf("chunk[2] length = %d, want 10", len(chunks[2]))
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("⚡", 700) // 3 bytes each
	chunks := splitMessage(s, 1900)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d (len %d) is not valid UTF-8", i, len(c))
		}
		if len(c) > 1900 {
			t.Errorf("chunk %d exceeds max length: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != s {
		t.Error("chunks do not reassemble the message")
	}
}

func TestSplitMessage_RuneWiderThanMax(t *testing.T) {
	chunks := splitMessage("⚡⚡", 2)
	if len(chunks) != 2 || chunks[0] != "⚡" || chunks[1] != "⚡" {
		t.Errorf("expected one rune per chunk, got %q", chunks)
	}
}
