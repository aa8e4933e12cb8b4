package notification

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/infra"
)

// TelegramAPIBase is the Telegram Bot API endpoint.
const TelegramAPIBase = "https://api.telegram.org"

const telegramTimeout = 10 * time.Second

type telegramSendMessage struct {
	ChatID    uint64 `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramNotifier sends private messages through the Bot API. A user's
// private chat id equals their user id.
type TelegramNotifier struct {
	baseURL string
	token   string
}

// NewTelegramNotifier builds a notifier for a bot token. An empty baseURL
// selects TelegramAPIBase.
func NewTelegramNotifier(baseURL, token string) *TelegramNotifier {
	if baseURL == "" {
		baseURL = TelegramAPIBase
	}
	return &TelegramNotifier{baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// Platform implements PlatformNotifier.
func (n *TelegramNotifier) Platform() identity.Platform {
	return identity.PlatformTelegram
}

// Send posts the message rendered as HTML.
func (n *TelegramNotifier) Send(ctx context.Context, message Message) error {
	if message.Recipient.Platform != identity.PlatformTelegram {
		return ErrPlatformMismatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := telegramSendMessage{
		ChatID:    message.Recipient.ID,
		Text:      RenderHTML(message),
		ParseMode: "HTML",
	}
	var resp telegramResponse
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	if err := infra.PostJSON(url, nil, telegramTimeout, req, &resp); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("send message: %s", resp.Description)
	}
	return nil
}

// RenderHTML formats a message for Telegram's HTML parse mode. Fields render
// as a bold label followed by the value, on the same line when inline.
func RenderHTML(message Message) string {
	var b strings.Builder
	if message.Title != "" {
		b.WriteString("<strong>")
		b.WriteString(html.EscapeString(message.Title))
		b.WriteString("</strong>")
		if message.Description != "" || len(message.Fields) > 0 {
			b.WriteString("\n\n")
		}
	}
	if message.Description != "" {
		b.WriteString(html.EscapeString(message.Description))
		b.WriteString("\n")
	}
	for _, f := range message.Fields {
		b.WriteString("\n<strong>")
		b.WriteString(html.EscapeString(f.Name))
		b.WriteString("</strong>")
		if f.Inline {
			b.WriteString(" ")
		} else {
			b.WriteString("\n")
		}
		b.WriteString("<code>")
		b.WriteString(html.EscapeString(f.Value))
		b.WriteString("</code>\n")
	}
	return b.String()
}
