package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// maxEmbedDescription is Discord's limit on an embed description.
const maxEmbedDescription = 4096

// Embed colours per event; anything else is grey.
var discordColors = map[string]int{
	EventPositionOpened: 0x2ecc71,
	EventPositionClosed: 0x3498db,
	EventPartialFill:    0xe67e22,
	EventError:          0xe74c3c,
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender delivers notifications as webhook embeds coloured by event.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Send posts an uncategorised embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.SendEvent(ctx, "", title, message)
}

// SendEvent posts one embed whose colour and footer identify event.
func (d *DiscordSender) SendEvent(ctx context.Context, event, title, message string) error {
	body, err := json.Marshal(d.payload(event, title, message))
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (d *DiscordSender) payload(event, title, message string) discordPayload {
	embed := discordEmbed{
		Title:       title,
		Description: truncateRunes(message, maxEmbedDescription),
		Color:       0x95a5a6,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	if c, ok := discordColors[event]; ok {
		embed.Color = c
	}
	if event != "" {
		embed.Footer = &discordFooter{Text: event}
	}
	return discordPayload{Username: "kalshibot", Embeds: []discordEmbed{embed}}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
