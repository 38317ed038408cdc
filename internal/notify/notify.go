// Package notify delivers engine events to configured recipients. Two
// transports are supported: a RabbitMQ topic exchange consumed by
// downstream services, and a Telegram chat watched by the tenant's
// operators. Both are optional collaborators; a disabled transport is
// skipped silently.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnidesk/omnidesk/internal/database"
)

// Notification kinds.
const (
	KindAutomation = "automation"
	KindEscalation = "escalation"
	KindAIQuota    = "ai_quota"
)

// Notification is one event destined for a tenant's recipients.
type Notification struct {
	Kind           string    `json:"kind"`
	ConfigID       string    `json:"configId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Notifier delivers a notification according to the config's preferences.
type Notifier interface {
	Notify(ctx context.Context, cfg *database.MessagingConfig, n Notification) error
}

// Fanout delivers each notification through every configured transport.
// Transport failures are logged and do not stop the remaining transports.
type Fanout struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewFanout composes the given notifiers. Nil entries are skipped.
func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	f := &Fanout{logger: logger.With("component", "notify")}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Notify fans the notification out to every transport.
func (f *Fanout) Notify(ctx context.Context, cfg *database.MessagingConfig, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	for _, notifier := range f.notifiers {
		if err := notifier.Notify(ctx, cfg, n); err != nil {
			f.logger.WarnContext(ctx, "Notification transport failed",
				"kind", n.Kind, "config_id", cfg.ID, "error", err)
		}
	}
	return nil
}
