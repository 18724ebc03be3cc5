package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange имя обменника.
type Exchange string

// Queue имя очереди.
type Queue string

// RoutingKey ключ маршрутизации.
type RoutingKey string

// Обменники.
const (
	// ExchangeRuns события run; подписчики привязывают свои очереди сами.
	ExchangeRuns Exchange = "promptplay.runs"

	ExchangeBatches Exchange = "promptplay.batches"
	ExchangeDLQ     Exchange = "promptplay.dlq"
)

// Очереди.
const (
	QueueBatchesRequested Queue = "batches.requested"
	QueueDLQBatches       Queue = "dlq.batches"
)

// Ключи маршрутизации.
const (
	RoutingKeyRunEvent       RoutingKey = "run.event"
	RoutingKeyBatchRequested RoutingKey = "batch.requested"
	RoutingKeyBatchFinished  RoutingKey = "batch.finished"
	RoutingKeyDLQBatches     RoutingKey = "batches"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Повторный вызов безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, "topic"},
		{ExchangeBatches, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	// Запрос batch, который не удалось обработать, уходит в DLQ.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQBatches),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueBatchesRequested, dlqArgs},
		{QueueDLQBatches, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueBatchesRequested, RoutingKeyBatchRequested, ExchangeBatches},
		{QueueDLQBatches, RoutingKeyDLQBatches, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
