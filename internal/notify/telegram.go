package notify

import (
	"context"
	"fmt"
	"strings"
)

// MessageSender is satisfied by *telegram.Client.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// TelegramSender posts a human-readable line per event to an operator chat.
type TelegramSender struct {
	bot    MessageSender
	chatID string
}

func NewTelegramSender(bot MessageSender, chatID string) *TelegramSender {
	return &TelegramSender{bot: bot, chatID: chatID}
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, e Event) error {
	return s.bot.SendMessage(ctx, s.chatID, FormatText(e))
}

func FormatText(e Event) string {
	var b strings.Builder
	switch e.Type {
	case EventOrderCreated:
		fmt.Fprintf(&b, "🔥 New order %s (%s %s)", e.OrderID, e.Total.StringFixed(2), e.Currency)
		for _, it := range e.Items {
			fmt.Fprintf(&b, "\n▫️ %s x%d", it.Name, it.Quantity)
		}
	case EventStatusChanged:
		fmt.Fprintf(&b, "📦 Order %s: %s → %s", e.OrderID, e.PrevStatus, e.Status)
	default:
		fmt.Fprintf(&b, "Order %s: %s", e.OrderID, e.Type)
	}
	return b.String()
}
