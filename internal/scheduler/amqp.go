package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes notifications to a RabbitMQ queue so downstream
// consumers (dashboards, chat bridges) can react to autopilot runs.
type AMQPNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// NewAMQPNotifier dials the broker and declares a durable queue.
func NewAMQPNotifier(url, queue string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("scheduler: dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("scheduler: open amqp channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("scheduler: declare queue %q: %w", queue, err)
	}
	return &AMQPNotifier{conn: conn, channel: channel, queue: queue, logger: logger}, nil
}

// Notify publishes the notification as a persistent JSON message.
func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("scheduler: marshal notification: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = a.channel.PublishWithContext(pubCtx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("scheduler: publish notification: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (a *AMQPNotifier) Close() error {
	if err := a.channel.Close(); err != nil {
		a.logger.Warn("close amqp channel", "error", err)
	}
	return a.conn.Close()
}
