package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"learning-analytics-service/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

const analyticsExchange = "analytics.events"

// EventPublisher emits analysis outcomes on the analytics topic exchange.
// With an empty URI publishing is disabled and every call is a logged
// no-op, matching how the consumer degrades.
type EventPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	enabled  bool
}

func NewEventPublisher(rabbitURI string) (*EventPublisher, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			exchange: analyticsExchange,
			enabled:  false,
		}, nil
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
		analyticsExchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Printf("Event publisher initialized with exchange: %s", analyticsExchange)

	return &EventPublisher{
		conn:     conn,
		channel:  channel,
		exchange: analyticsExchange,
		enabled:  true,
	}, nil
}

func (p *EventPublisher) publish(ctx context.Context, eventType models.EventType, studentID string, payload any) error {
	if !p.enabled {
		log.Printf("Event publishing disabled, skipping event: %s", eventType)
		return nil
	}

	eventData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,        // exchange
		string(eventType), // routing key
		false,             // mandatory
		false,             // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         eventData,
			Headers: amqp091.Table{
				"event_type": string(eventType),
				"student_id": studentID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Printf("Published event: %s for student: %s", eventType, studentID)
	return nil
}

func (p *EventPublisher) PublishAnalysisCompleted(ctx context.Context, event models.AnalysisEvent) error {
	event.EventType = models.EventTypeAnalysisCompleted
	return p.publish(ctx, event.EventType, event.StudentID, event)
}

func (p *EventPublisher) PublishIssueDetected(ctx context.Context, event models.IssueEvent) error {
	event.EventType = models.EventTypeIssueDetected
	return p.publish(ctx, event.EventType, event.StudentID, event)
}

func (p *EventPublisher) PublishScoreUpdated(ctx context.Context, event models.ScoreEvent) error {
	event.EventType = models.EventTypeScoreUpdated
	return p.publish(ctx, event.EventType, event.StudentID, event)
}

func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("error closing RabbitMQ connection: %w", err)
		}
	}

	return nil
}
