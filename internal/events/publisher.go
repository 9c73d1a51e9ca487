package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const ExchangeName = "interview.events"

type Publisher interface {
	Publish(ctx context.Context, ev InterviewEvent) error
	Close() error
}

// AMQPPublisher publishes interview events to a RabbitMQ topic exchange.
// The routing key is the event type.
type AMQPPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     *logrus.Logger
	enabled bool
}

// NewAMQPPublisher connects to rabbitURI. An empty URI yields a disabled
// publisher that drops every event.
func NewAMQPPublisher(rabbitURI string, log *logrus.Logger) (*AMQPPublisher, error) {
	if rabbitURI == "" {
		log.Warn("RABBITMQ_URI is empty, interview events are disabled")
		return &AMQPPublisher{log: log}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, log: log, enabled: true}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev InterviewEvent) error {
	if !p.enabled {
		p.log.WithField("event", ev.Type).Debug("event publishing disabled, skipped")
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(pubCtx,
		ExchangeName,
		string(ev.Type),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.WithFields(logrus.Fields{"event": ev.Type, "session_id": ev.SessionID}).Info("published interview event")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.log.WithError(err).Warn("close amqp channel failed")
	}
	return p.conn.Close()
}
