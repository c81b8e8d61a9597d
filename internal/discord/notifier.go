package discord

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/wattwise/internal/db"
)

const maxMessageLen = 2000

var severityColors = map[string]int{
	"low":      0x3498db,
	"medium":   0xf1c40f,
	"high":     0xe67e22,
	"critical": 0xe74c3c,
}

// Notifier posts alerts to a Discord channel through an incoming webhook.
type Notifier struct {
	session   *discordgo.Session
	webhookID string
	token     string
	logger    *slog.Logger
}

// NewNotifier builds a notifier from a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func NewNotifier(webhookURL string, logger *slog.Logger) (*Notifier, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution is authenticated by the token in the URL, not a bot token.
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}
	s.MaxRestRetries = 1
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{session: s, webhookID: id, token: token, logger: logger}, nil
}

// Notify sends one alert. Long messages are split across several posts.
func (n *Notifier) Notify(ctx context.Context, a db.Alert) error {
	chunks := splitMessage(a.Message, maxMessageLen-100)
	for i, chunk := range chunks {
		params := &discordgo.WebhookParams{
			Username: "WattWise",
			Embeds:   []*discordgo.MessageEmbed{alertEmbed(a, chunk, i, len(chunks))},
		}
		if _, err := n.session.WebhookExecute(n.webhookID, n.token, true, params, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("executing webhook for alert %s: %w", a.ID, err)
		}
	}
	n.logger.Debug("alert delivered to Discord", "alert_id", a.ID, "posts", len(chunks))
	return nil
}

func alertEmbed(a db.Alert, text string, part, parts int) *discordgo.MessageEmbed {
	title := fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity), a.Type)
	if parts > 1 {
		title += fmt.Sprintf(" (%d/%d)", part+1, parts)
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: text,
		Color:       severityColors[a.Severity],
		Timestamp:   a.SentAt.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: a.ID},
	}
	if len(a.Recipients) > 0 {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Recipients", Value: strings.Join(a.Recipients, ", ")},
		}
	}
	return embed
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook URL %q has no /webhooks/<id>/<token> path", raw)
}

func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		if len(s) <= maxLen {
			chunks = append(chunks, s)
			break
		}
		end := maxLen
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			_, end = utf8.DecodeRuneInString(s)
		}
		// Prefer a newline boundary
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
