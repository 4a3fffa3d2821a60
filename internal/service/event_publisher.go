package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/pkg/kafka"
	"github.com/Hennamaria07/movieBookingBackend/pkg/retry"
)

// EventPublisher defines the interface for publishing booking events
type EventPublisher interface {
	// Publish sends an event for a committed booking change
	Publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking, delta int64) error

	// Close closes the event publisher
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Kafka. Records that
// still fail after retries are parked on the topic's dead letter queue.
type KafkaEventPublisher struct {
	producer    *kafka.Producer
	dlq         *retry.DLQHandler
	topic       string
	serviceName string
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "booking-events"
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "seat-booking"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = serviceName + "-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	dlq := retry.NewDLQHandler(
		retry.NewKafkaDLQPublisher(producer, serviceName),
		&retry.Config{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		serviceName,
	)

	return &KafkaEventPublisher{
		producer:    producer,
		dlq:         dlq,
		topic:       topic,
		serviceName: serviceName,
	}, nil
}

// Publish publishes a booking event to Kafka
func (p *KafkaEventPublisher) Publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking, delta int64) error {
	eventID := uuid.New().String()
	event := domain.NewBookingEvent(eventType, booking, eventID)
	event.Delta = delta

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := map[string]string{
		"event_type":   string(eventType),
		"event_id":     eventID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}

	msg := &kafka.Message{
		Topic:     p.topic,
		Key:       event.Key(),
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	}

	err = p.dlq.ProcessWithDLQ(ctx, &retry.MessageContext{
		ID:      eventID,
		Topic:   p.topic,
		Key:     event.Key(),
		Payload: value,
		Headers: headers,
	}, func(ctx context.Context) error {
		return p.producer.Produce(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish is a no-op
func (p *NoOpEventPublisher) Publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking, delta int64) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
