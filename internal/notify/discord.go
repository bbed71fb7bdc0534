package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanyoungcy/bridgearb/internal/retry"
)

// Embed colours keyed by the first word of the title.
const (
	colorSuccess = 0x2ecc71
	colorFailure = 0xe74c3c
	colorInfo    = 0x3498db
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	retry      retry.Policy
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string, policy retry.Policy) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultTimeout},
		retry:      policy,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{
		Username: "bridgearb",
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: embedColor(title)}},
	}
	if err := postJSON(ctx, d.client, d.retry, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func embedColor(title string) int {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "failed"), strings.Contains(t, "tripped"):
		return colorFailure
	case strings.Contains(t, "succeeded"):
		return colorSuccess
	default:
		return colorInfo
	}
}
