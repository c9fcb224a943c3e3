package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the part of *amqp.Channel the sink needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

// RabbitSink publishes envelopes to a topic exchange, routing key = topic.
type RabbitSink struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// DialRabbit connects, opens a channel and declares a durable topic exchange.
func DialRabbit(url, exchange string) (*RabbitSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	s := &RabbitSink{conn: conn, channel: channel, exchange: exchange}
	if err := s.declare(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *RabbitSink) declare() error {
	if s.exchange == "" {
		return nil
	}
	if err := s.channel.ExchangeDeclare(s.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", s.exchange, err)
	}
	return nil
}

func (s *RabbitSink) Name() string { return "rabbitmq" }

func (s *RabbitSink) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = s.channel.PublishWithContext(
		ctx,
		s.exchange, // exchange
		env.Topic,  // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID.String(),
			Timestamp:    env.Timestamp,
			Type:         env.EventType,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", env.Topic, err)
	}
	return nil
}

func (s *RabbitSink) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
