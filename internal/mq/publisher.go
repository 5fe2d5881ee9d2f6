package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles ledger event publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// UsageRecordedEvent is published after a reading is committed to the ledger
type UsageRecordedEvent struct {
	EventID       string `json:"event_id"`
	RequestID     string `json:"request_id,omitempty"`
	Owner         string `json:"owner"`
	PropertyID    string `json:"property_id"`
	Commodity     string `json:"commodity"`
	MeterID       string `json:"meter_id"`
	Unit          string `json:"unit"`
	Amount        uint64 `json:"amount"`
	Baseline      uint64 `json:"baseline"`
	Points        uint64 `json:"points"`
	TotalConsumed uint64 `json:"total_consumed"`
	TotalSaved    uint64 `json:"total_saved"`
	Balance       uint64 `json:"balance"`
	Timestamp     string `json:"timestamp"`
}

// RedemptionEvent is published after points are redeemed
type RedemptionEvent struct {
	EventID   string `json:"event_id"`
	Owner     string `json:"owner"`
	Amount    uint64 `json:"amount"`
	Balance   uint64 `json:"balance"`
	Timestamp string `json:"timestamp"`
}

// RegistrationEvent is published after a property and its meters are registered
type RegistrationEvent struct {
	EventID    string   `json:"event_id"`
	Owner      string   `json:"owner"`
	PropertyID string   `json:"property_id"`
	Meters     []string `json:"meters"`
	Timestamp  string   `json:"timestamp"`
}

// PublishEvent publishes a ledger event as JSON with the given routing key
func (p *Publisher) PublishEvent(ctx context.Context, event any, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published ledger event",
		zap.String("routing_key", routingKey),
		zap.Int("body_size", len(body)),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
