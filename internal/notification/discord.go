package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/infra"
)

const (
	// DiscordAPIBase is the Discord REST endpoint.
	DiscordAPIBase = "https://discord.com/api/v10"

	embedColor     = 0x02FFCF
	discordTimeout = 10 * time.Second
)

// ErrPlatformMismatch is returned when a notifier receives a message for
// another platform.
var ErrPlatformMismatch = errors.New("recipient belongs to another platform")

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordChannel struct {
	ID string `json:"id"`
}

// DiscordNotifier sends direct messages through the Discord REST API.
type DiscordNotifier struct {
	baseURL string
	token   string
}

// NewDiscordNotifier builds a notifier authenticated with a bot token. An
// empty baseURL selects DiscordAPIBase.
func NewDiscordNotifier(baseURL, token string) *DiscordNotifier {
	if baseURL == "" {
		baseURL = DiscordAPIBase
	}
	return &DiscordNotifier{baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// Platform implements PlatformNotifier.
func (n *DiscordNotifier) Platform() identity.Platform {
	return identity.PlatformDiscord
}

// Send opens a DM channel with the recipient and posts the message as an embed.
func (n *DiscordNotifier) Send(ctx context.Context, message Message) error {
	if message.Recipient.Platform != identity.PlatformDiscord {
		return ErrPlatformMismatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := map[string]string{"Authorization": "Bot " + n.token}

	var channel discordChannel
	req := map[string]string{"recipient_id": strconv.FormatUint(message.Recipient.ID, 10)}
	if err := infra.PostJSON(n.baseURL+"/users/@me/channels", headers, discordTimeout, req, &channel); err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if channel.ID == "" {
		return errors.New("open dm channel: empty channel id")
	}

	embed := discordEmbed{
		Title:       message.Title,
		Description: message.Description,
		Color:       embedColor,
	}
	for _, f := range message.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	body := discordMessage{Embeds: []discordEmbed{embed}}
	if err := infra.PostJSON(n.baseURL+"/channels/"+channel.ID+"/messages", headers, discordTimeout, body, nil); err != nil {
		return fmt.Errorf("post dm: %w", err)
	}
	return nil
}
