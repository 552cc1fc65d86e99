package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"learning-analytics-service/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

// ActivityRecorder ingests one decoded activity.
type ActivityRecorder interface {
	Record(ctx context.Context, record *models.ActivityRecord) error
}

// TriggerChecker evaluates whether the activity warrants scheduling an
// analysis.
type TriggerChecker interface {
	CheckTriggers(ctx context.Context, studentID string) (bool, string, error)
}

// AnalysisScheduler arms the per-student debounce timer.
type AnalysisScheduler interface {
	Schedule(studentID, reasonHint string)
}

// SessionSummarizer turns closed sessions into stored summaries.
type SessionSummarizer interface {
	Summarize(ctx context.Context, session models.ClosedSession) (*models.ConversationSummary, error)
}

type Consumer interface {
	Start() error
	Close() error
}

type EventConsumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queueName  string
	tracker    ActivityRecorder
	triggers   TriggerChecker
	scheduler  AnalysisScheduler
	summarizer SessionSummarizer
	shutdown   chan struct{}
	wg         sync.WaitGroup
	enabled    bool
}

type ExchangeConfig struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Args       amqp091.Table
}

type BindingConfig struct {
	Exchange   string
	RoutingKey string
}

func NewEventConsumer(
	rabbitURI string,
	queueName string,
	tracker ActivityRecorder,
	triggers TriggerChecker,
	scheduler AnalysisScheduler,
	summarizer SessionSummarizer,
) (*EventConsumer, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event consumption is disabled")
		return &EventConsumer{
			tracker:    tracker,
			triggers:   triggers,
			scheduler:  scheduler,
			summarizer: summarizer,
			shutdown:   make(chan struct{}),
			enabled:    false,
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

	err = channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &EventConsumer{
		conn:       conn,
		channel:    channel,
		queueName:  queueName,
		tracker:    tracker,
		triggers:   triggers,
		scheduler:  scheduler,
		summarizer: summarizer,
		shutdown:   make(chan struct{}),
		enabled:    true,
	}, nil
}

func (c *EventConsumer) Start() error {
	if !c.enabled {
		log.Println("Event consumption is disabled, not starting consumer")
		return nil
	}

	exchanges := []ExchangeConfig{
		{
			Name:       "learning.events",
			Type:       "topic",
			Durable:    true,
			AutoDelete: false,
			Internal:   false,
			NoWait:     false,
		},
		{
			Name:       "chat.events",
			Type:       "topic",
			Durable:    true,
			AutoDelete: false,
			Internal:   false,
			NoWait:     false,
		},
	}

	for _, exchange := range exchanges {
		err := c.channel.ExchangeDeclare(
			exchange.Name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			exchange.Internal,
			exchange.NoWait,
			exchange.Args,
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange.Name, err)
		}
		log.Printf("Declared exchange: %s", exchange.Name)
	}

	_, err := c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	log.Printf("Declared queue: %s", c.queueName)

	bindings := []BindingConfig{
		{Exchange: "learning.events", RoutingKey: "learning.activity.#"},
		{Exchange: "chat.events", RoutingKey: "chat.session.closed"},
	}

	for _, binding := range bindings {
		err := c.channel.QueueBind(
			c.queueName,        // queue name
			binding.RoutingKey, // routing key
			binding.Exchange,   // exchange
			false,              // no-wait
			nil,                // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue to exchange %s with key %s: %w",
				binding.Exchange, binding.RoutingKey, err)
		}
		log.Printf("Bound queue %s to exchange %s with routing key %s",
			c.queueName, binding.Exchange, binding.RoutingKey)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(msgs)
	}()

	log.Println("Event consumer started")
	return nil
}

func (c *EventConsumer) consume(msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-c.shutdown:
			log.Println("Stopping event consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Println("Message channel closed, reconnecting...")
				time.Sleep(5 * time.Second)
				return
			}

			err := c.processMessage(msg)
			if err != nil {
				log.Printf("Error processing message: %v", err)
				if err := msg.Nack(false, true); err != nil {
					log.Printf("Error NACKing message: %v", err)
				}
			} else {
				if err := msg.Ack(false); err != nil {
					log.Printf("Error ACKing message: %v", err)
				}
			}
		}
	}
}

func (c *EventConsumer) processMessage(msg amqp091.Delivery) error {
	routingKey := msg.RoutingKey
	log.Printf("Processing message from exchange '%s' with routing key: %s", msg.Exchange, routingKey)

	switch {
	case strings.HasPrefix(routingKey, "learning.activity."):
		return c.handleActivity(routingKey, msg.Body)
	case routingKey == string(models.EventTypeSessionClosed):
		return c.handleSessionClosed(msg.Body)
	default:
		log.Printf("Unknown routing key: %s from exchange: %s", routingKey, msg.Exchange)
		return nil // Acknowledge to avoid requeuing
	}
}

// handleActivity records the activity and arms the debounce timer when a
// trigger fires. Validation failures are acknowledged, not requeued: a
// malformed event will not become well formed on redelivery.
func (c *EventConsumer) handleActivity(routingKey string, body []byte) error {
	activityType := models.ActivityType(strings.TrimPrefix(routingKey, "learning.activity."))
	if !activityType.IsValid() {
		log.Printf("Dropping activity event with unknown type %q", activityType)
		return nil
	}

	var event models.ActivityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal activity event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record := &models.ActivityRecord{
		StudentID:    event.StudentID,
		ActivityType: activityType,
		SessionID:    event.SessionID,
		Timestamp:    event.Timestamp,
		Chat:         event.Chat,
		Homework:     event.Homework,
		Practice:     event.Practice,
		Login:        event.Login,
		HelpRequest:  event.HelpRequest,
		Quiz:         event.Quiz,
	}

	if record.Payload() == nil {
		log.Printf("Activity event %s for student %s carries no matching payload", routingKey, event.StudentID)
	}

	if err := c.tracker.Record(ctx, record); err != nil {
		return fmt.Errorf("failed to record %s activity: %w", activityType, err)
	}

	shouldAnalyze, reason, err := c.triggers.CheckTriggers(ctx, event.StudentID)
	if err != nil {
		log.Printf("trigger check failed for student %s: %v", event.StudentID, err)
		return nil
	}
	if shouldAnalyze {
		log.Printf("Trigger met for student %s: %s", event.StudentID, reason)
		c.scheduler.Schedule(event.StudentID, reason)
	}
	return nil
}

func (c *EventConsumer) handleSessionClosed(body []byte) error {
	var event models.SessionClosedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal session closed event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if _, err := c.summarizer.Summarize(ctx, models.ClosedSession{
		StudentID:    event.StudentID,
		SessionID:    event.SessionID,
		SessionTitle: event.SessionTitle,
		Turns:        event.Turns,
		DurationMin:  event.DurationMin,
	}); err != nil {
		return fmt.Errorf("failed to summarize session %s: %w", event.SessionID, err)
	}

	log.Printf("Summarized closed session %s for student %s", event.SessionID, event.StudentID)
	return nil
}

func (c *EventConsumer) Close() error {
	if !c.enabled {
		return nil
	}

	close(c.shutdown)
	c.wg.Wait()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			log.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("error closing RabbitMQ connection: %w", err)
		}
	}

	return nil
}
