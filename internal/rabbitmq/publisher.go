package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const appID = "chat-coordinator"

// Publisher ships coordinator events (ws lifecycle, audit records) to the
// event exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// Status describes where published events end up.
type Status struct {
	// Mode is "amqp" or "log".
	Mode string
	// Reason explains why events are only logged. Empty in amqp mode.
	Reason string
}

// NewPublisher connects to the topic exchange. When amqpURL is empty or the
// broker cannot be reached, events are logged locally instead and the
// returned Status says why.
func NewPublisher(amqpURL, exchange string) (Publisher, Status) {
	if amqpURL == "" {
		return logPublisher{}, Status{Mode: "log", Reason: "no amqp url configured"}
	}

	conn, ch, err := openExchange(amqpURL, exchange)
	if err != nil {
		log.Printf("event exchange unavailable, logging events instead: %v", err)
		return logPublisher{}, Status{Mode: "log", Reason: err.Error()}
	}
	log.Printf("event exchange ready exchange=%s", exchange)
	return &exchangePublisher{conn: conn, ch: ch, exchange: exchange}, Status{Mode: "amqp"}
}

func openExchange(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	// durable topic exchange, never auto-deleted
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type exchangePublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *exchangePublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		AppId:         appID,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		CorrelationId: headers["x-request-id"],
		Headers:       toTable(headers),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *exchangePublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		log.Printf("event channel close: %v", err)
	}
	return p.conn.Close()
}

func toTable(headers map[string]string) amqp.Table {
	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	return table
}

// logPublisher stands in for the exchange when none is configured. Events are
// still encoded so a payload that cannot be shipped fails the same way in
// both modes.
type logPublisher struct{}

func (logPublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}
	log.Printf("event routing_key=%s request_id=%s bytes=%d", routingKey, headers["x-request-id"], len(body))
	return nil
}

func (logPublisher) Close() error { return nil }
