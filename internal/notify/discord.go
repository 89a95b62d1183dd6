package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
	"unicode/utf8"
)

// Discord pushes brief summaries to a webhook. Delivery is best effort:
// callers log the returned error and move on.
type Discord struct {
	webhookURL string
	client     *http.Client
	logger     *log.Logger
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     log.New(os.Stdout, "[NOTIFY] ", log.LstdFlags),
	}
}

// Enabled reports whether a webhook is configured.
func (d *Discord) Enabled() bool { return d.webhookURL != "" }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// Notify posts one embed with the brief text and metadata fields.
func (d *Discord) Notify(ctx context.Context, title, text string, metadata map[string]string) error {
	if !d.Enabled() {
		return nil
	}
	// Discord caps embed descriptions at 4096 chars. Back up to a rune
	// boundary so the cut never splits a multi-byte character.
	if len(text) > 4000 {
		cut := 4000
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	embed := discordEmbed{
		Title:       title,
		Description: text,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		embed.Fields = append(embed.Fields, discordField{Name: k, Value: v, Inline: true})
	}
	payload, err := json.Marshal(map[string]interface{}{
		"embeds": []discordEmbed{embed},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord webhook: %s: %s", resp.Status, string(b))
	}
	d.logger.Printf("delivered %q", title)
	return nil
}
