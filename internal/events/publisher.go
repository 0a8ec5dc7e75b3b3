package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// EventType represents the type of marketplace event.
type EventType string

const (
	EventTypeOrderCreated     EventType = "order.created"
	EventTypeOrderPaid        EventType = "order.paid"
	EventTypeOrderCancelled   EventType = "order.cancelled"
	EventTypePaymentInitiated EventType = "payment.initiated"
	EventTypePaymentCompleted EventType = "payment.completed"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypePaymentRefunded  EventType = "payment.refunded"
)

// Event is the envelope written to the events topic. Key is the order id
// so all events for one order land on the same partition.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Publisher emits domain events after the state change has committed.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, eventType EventType, order *models.Order) error
	PublishPaymentEvent(ctx context.Context, eventType EventType, payment *models.Payment) error
	Close() error
}

// KafkaPublisher publishes events to Kafka.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logging.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.Named("event-publisher"),
	}
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, eventType EventType, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return p.publish(ctx, newEvent(ctx, eventType, order.ID, order.CustomerID, data))
}

func (p *KafkaPublisher) PublishPaymentEvent(ctx context.Context, eventType EventType, payment *models.Payment) error {
	data, err := json.Marshal(payment)
	if err != nil {
		return err
	}
	return p.publish(ctx, newEvent(ctx, eventType, payment.OrderID, payment.UserID, data))
}

func newEvent(ctx context.Context, eventType EventType, orderID, userID string, data []byte) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       orderID,
		UserID:        userID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: logging.RequestID(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *Event) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
	})
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}

// NoopPublisher is used when events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderEvent(ctx context.Context, eventType EventType, order *models.Order) error {
	return nil
}

func (NoopPublisher) PublishPaymentEvent(ctx context.Context, eventType EventType, payment *models.Payment) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }

// MockPublisher records events for tests.
type MockPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishOrderEvent(ctx context.Context, eventType EventType, order *models.Order) error {
	m.record(&Event{Type: eventType, OrderID: order.ID, UserID: order.CustomerID})
	return nil
}

func (m *MockPublisher) PublishPaymentEvent(ctx context.Context, eventType EventType, payment *models.Payment) error {
	m.record(&Event{Type: eventType, OrderID: payment.OrderID, UserID: payment.UserID})
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) record(e *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Count returns how many events of the given type were published.
func (m *MockPublisher) Count(eventType EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
