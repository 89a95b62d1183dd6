package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNotifyDisabledIsNoop(t *testing.T) {
	d := NewDiscord("")
	if d.Enabled() {
		t.Fatal("empty webhook must disable notifications")
	}
	if err := d.Notify(context.Background(), "t", "text", nil); err != nil {
		t.Fatalf("disabled notify: %v", err)
	}
}

func TestNotifyPostsEmbed(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Notify(context.Background(), "chainbrief: new brief", "whales moved", map[string]string{"events": "6"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	embeds, ok := got["embeds"].([]interface{})
	if !ok || len(embeds) != 1 {
		t.Fatalf("embeds: got %v", got["embeds"])
	}
	embed := embeds[0].(map[string]interface{})
	if embed["title"] != "chainbrief: new brief" {
		t.Fatalf("title: got %v", embed["title"])
	}
	if embed["description"] != "whales moved" {
		t.Fatalf("description: got %v", embed["description"])
	}
	fields := embed["fields"].([]interface{})
	if len(fields) != 1 {
		t.Fatalf("fields: got %v", fields)
	}
}

func TestNotifyTruncatesLongText(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	long := strings.Repeat("x", 5000)
	if err := d.Notify(context.Background(), "t", long, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	desc := got["embeds"].([]interface{})[0].(map[string]interface{})["description"].(string)
	if len(desc) > 4100 {
		t.Fatalf("description not truncated: %d chars", len(desc))
	}
	if !strings.HasSuffix(desc, "…") {
		t.Fatal("truncated description missing ellipsis")
	}
}

func TestNotifyTruncatesOnRuneBoundary(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	// Three-byte runes put the 4000-byte cut mid-character.
	long := strings.Repeat("→", 2000)
	if err := d.Notify(context.Background(), "t", long, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	desc := got["embeds"].([]interface{})[0].(map[string]interface{})["description"].(string)
	if !utf8.ValidString(desc) {
		t.Fatal("truncation split a multi-byte rune")
	}
	if !strings.HasSuffix(desc, "…") {
		t.Fatal("truncated description missing ellipsis")
	}
}

func TestNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	if err := d.Notify(context.Background(), "t", "text", nil); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}
