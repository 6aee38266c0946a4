package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// Exchanges this engine talks to: business events come in and outcome events
// go out through ExchangeName; poison messages are parked on DLQExchangeName.
const (
	ExchangeName    = "events"
	DLQExchangeName = "events.dlq"

	clientName = "notifyhub"
)

// NewConnection dials RabbitMQ, identifying this service by connection name
// so it is recognizable in the broker's connection list.
func NewConnection(url string) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(clientName)

	conn, err := amqp091.DialConfig(url, amqp091.Config{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return declareTopicExchange(ch, ExchangeName)
}

func declareTopicExchange(ch *amqp091.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}
