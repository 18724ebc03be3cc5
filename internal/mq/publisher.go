package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// MessageType тип сообщения.
type MessageType string

const (
	MessageTypeRunEvent       MessageType = "run.event"
	MessageTypeBatchRequested MessageType = "batch.requested"
	MessageTypeBatchFinished  MessageType = "batch.finished"
)

// Message конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// BatchRequestedPayload запрос на выполнение batch.
type BatchRequestedPayload struct {
	BatchID uuid.UUID  `json:"batch_id"`
	FlowID  uuid.UUID  `json:"flow_id"`
	Rows    [][]string `json:"rows"`

	RepeatTimes             int            `json:"repeat_times"`
	ConcurrencyLimit        int            `json:"concurrency_limit"`
	VariableIDToColumnIndex map[string]int `json:"variable_id_to_column_index"`

	Globals map[string]any `json:"globals,omitempty"`
}

// BatchFinishedPayload batch завершён.
type BatchFinishedPayload struct {
	BatchID uuid.UUID          `json:"batch_id"`
	FlowID  uuid.UUID          `json:"flow_id"`
	Status  domain.BatchStatus `json:"status"`
	Cells   int                `json:"cells"`
	Error   string             `json:"error,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,              // mandatory
			false,              // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJSON публикует payload в новом конверте.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.Publish(ctx, exchange, routingKey, newMessage(msgType, payload))
}

// PublishRunEvent публикует событие run. Реализует orchestrator.EventSink.
func (p *Publisher) PublishRunEvent(ctx context.Context, event *domain.RunEvent) error {
	return p.PublishJSON(ctx, ExchangeRuns, RoutingKeyRunEvent, MessageTypeRunEvent, event)
}

// PublishBatchRequested ставит batch в очередь evaluation сервиса.
func (p *Publisher) PublishBatchRequested(ctx context.Context, payload BatchRequestedPayload) error {
	return p.PublishJSON(ctx, ExchangeBatches, RoutingKeyBatchRequested, MessageTypeBatchRequested, payload)
}

// PublishBatchFinished сообщает о завершении batch.
func (p *Publisher) PublishBatchFinished(ctx context.Context, payload BatchFinishedPayload) error {
	return p.PublishJSON(ctx, ExchangeBatches, RoutingKeyBatchFinished, MessageTypeBatchFinished, payload)
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
