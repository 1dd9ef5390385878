// Package events publishes committed lead changes to RabbitMQ for downstream
// read models.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"tg_utm_tracker/internal/domain"
)

// Event types, also used as routing keys.
const (
	TypeLeadCreated  = "lead.created"
	TypeLeadRejoined = "lead.rejoined"
)

// LeadEvent is the published message body.
type LeadEvent struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Lead       domain.Lead `json:"lead"`
}

// NewLeadEvent stamps a lead change with the current time.
func NewLeadEvent(eventType string, lead domain.Lead) LeadEvent {
	return LeadEvent{Type: eventType, OccurredAt: domain.Now(), Lead: lead}
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// openChannel is overridable for tests.
var openChannel = func(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return ch, conn, nil
}

// AMQPPublisher publishes lead events to a durable topic exchange. A channel
// is not safe for concurrent use, so publishes are serialized.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       channel
	conn     io.Closer
	exchange string
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		return nil, errors.New("exchange is required")
	}

	ch, conn, err := openChannel(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{ch: ch, conn: conn, exchange: exchange}, nil
}

// Publish sends event as a persistent JSON message routed by its type.
func (p *AMQPPublisher) Publish(ctx context.Context, event LeadEvent) error {
	if p == nil || p.ch == nil {
		return errors.New("amqp publisher is not initialized")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode lead event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.Publish(p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		MessageId:    event.Lead.ID + ":" + event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	return nil
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p == nil || p.ch == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	chErr := p.ch.Close()
	connErr := p.conn.Close()

	return errors.Join(chErr, connErr)
}
