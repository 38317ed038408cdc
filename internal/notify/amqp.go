package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/omnidesk/omnidesk/internal/database"
)

// QueuePublisher publishes notifications to a RabbitMQ topic exchange.
// The routing key is the config's notify_queue_key, so downstream
// consumers can bind per tenant.
type QueuePublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewQueuePublisher connects to RabbitMQ and declares the topic exchange.
func NewQueuePublisher(url, exchange string, logger *slog.Logger) (*QueuePublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable confirm mode: %w", err)
	}

	return &QueuePublisher{
		conn:     conn,
		exchange: exchange,
		log:      logger.With("component", "queue_publisher"),
	}, nil
}

// Notify publishes the notification as a persistent JSON delivery.
func (p *QueuePublisher) Notify(ctx context.Context, cfg *database.MessagingConfig, n Notification) error {
	key := cfg.NotifyQueueKey
	if key == "" {
		// Tenant opted out of queue notifications.
		return nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     uuid.NewString(),
			CorrelationId: n.ConversationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		p.log.InfoContext(ctx, "Notification published",
			slog.String("key", key), slog.String("exchange", p.exchange), slog.String("kind", n.Kind))
	}
	return err
}

// Close closes the underlying connection.
func (p *QueuePublisher) Close() error {
	return p.conn.Close()
}
