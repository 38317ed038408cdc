package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"

	"github.com/omnidesk/omnidesk/internal/database"
)

// TelegramNotifier pushes notifications into a tenant's operator chat.
// Tenants opt in by setting notify_chat_id on their messaging config.
type TelegramNotifier struct {
	bot *tgbot.Bot
	log *slog.Logger
}

// NewTelegramNotifier creates a notifier using the given bot token.
func NewTelegramNotifier(token string, logger *slog.Logger) (*TelegramNotifier, error) {
	b, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{
		bot: b,
		log: logger.With("component", "telegram_notifier"),
	}, nil
}

// Notify sends the notification as a plain text message to the config's
// operator chat.
func (t *TelegramNotifier) Notify(ctx context.Context, cfg *database.MessagingConfig, n Notification) error {
	if cfg.NotifyChatID == 0 {
		// Tenant opted out of telegram notifications.
		return nil
	}

	text := fmt.Sprintf("[%s] %s\n%s", n.Kind, n.Subject, n.Body)
	_, err := t.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: cfg.NotifyChatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}

	t.log.DebugContext(ctx, "Telegram notification sent",
		"chat_id", cfg.NotifyChatID, "kind", n.Kind)
	return nil
}
