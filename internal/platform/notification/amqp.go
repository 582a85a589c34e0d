package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// queueMessage is the payload consumers of the notification queue receive.
type queueMessage struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	AppointmentID *string `json:"appointment_id,omitempty"`
	Kind          Kind    `json:"kind"`
	Title         string  `json:"title"`
	Message       string  `json:"message"`
	CreatedAt     string  `json:"created_at"`
}

func encodeMessage(n *Notification) ([]byte, error) {
	msg := queueMessage{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.AppointmentID != nil {
		s := n.AppointmentID.String()
		msg.AppointmentID = &s
	}
	return json.Marshal(msg)
}

// AMQPPublisher publishes notifications on a durable RabbitMQ queue and waits
// for the broker's publisher confirm.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	confirms chan amqp.Confirmation
	mu       sync.Mutex
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		queue:    queue,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, n *Notification) error {
	body, err := encodeMessage(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID.String(),
		Type:         string(n.Kind),
		Timestamp:    n.CreatedAt,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	select {
	case confirmed, ok := <-p.confirms:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !confirmed.Ack {
			return fmt.Errorf("message not confirmed by %s", p.queue)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *AMQPPublisher) Ping(_ context.Context) error {
	if p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return p.conn.Close()
}
