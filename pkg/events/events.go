// Package events publishes and consumes change notifications so that
// dashboards can refresh without waiting for their next poll.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"infra-monitor/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const Exchange = "infra.changes"

type Resource string

const (
	ResourceSystems Resource = "systems"
	ResourceMetrics Resource = "metrics"
	ResourceLogs    Resource = "logs"
)

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionResolved  Action = "resolved"
	ActionHeartbeat Action = "heartbeat"
)

type ChangeEvent struct {
	Resource Resource  `json:"resource"`
	Action   Action    `json:"action"`
	ID       int64     `json:"id"`
	SystemID int64     `json:"systemId,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

func (e ChangeEvent) RoutingKey() string {
	return string(e.Resource) + "." + string(e.Action)
}

type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// Nop drops every event; used when RABBITMQ_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, ChangeEvent) error { return nil }

type Client struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	mu      sync.Mutex
}

func NewClient(url string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Client{conn: conn, channel: ch}, nil
}

func declareExchange(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, event ChangeEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.channel.PublishWithContext(ctx,
		Exchange,
		event.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			Timestamp:    event.At,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.RoutingKey(), err)
	}
	return nil
}

// Consume binds a private auto-delete queue to every change and calls
// handle for each event until ctx is cancelled or the broker goes away.
// Handler errors are logged and do not stop consumption.
func (c *Client) Consume(ctx context.Context, handle func(ChangeEvent) error) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "#", Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var event ChangeEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				logger.Warn("Dropping malformed change event",
					logger.String("routing_key", d.RoutingKey),
					logger.Err(err),
				)
				continue
			}
			if err := handle(event); err != nil {
				logger.Warn("Change event not applied",
					logger.String("routing_key", d.RoutingKey),
					logger.Err(err),
				)
			}
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
