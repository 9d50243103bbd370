package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender delivers notifications to a Discord channel via webhook,
// rendered as a colored embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
}

// Send posts the message as a single embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"embeds": []discordEmbed{{
			Title:       eventTag(msg.Event) + " " + msg.Title,
			Description: msg.Body,
			Color:       embedColor(msg.Event),
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

func embedColor(e Event) int {
	switch e {
	case EventEntry:
		return 0x2ecc71 // green
	case EventExit, EventStopMoved:
		return 0x3498db // blue
	case EventRiskBlock:
		return 0xf39c12 // amber
	case EventError:
		return 0xe74c3c // red
	default:
		return 0x95a5a6 // grey
	}
}
