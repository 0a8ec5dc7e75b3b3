package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   chan struct{}
	once     sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{messages: msgs, closed: make(chan struct{})}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closed:
		return kafka.Message{}, errors.New("reader closed")
	}
}

func (r *fakeReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type recordingHandler struct {
	mu       sync.Mutex
	tokens   []string
	requests []string
}

func (h *recordingHandler) HandleSettlementCallback(ctx context.Context, token string, cb *models.SettlementCallback) *models.CallbackAck {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = append(h.tokens, token)
	h.requests = append(h.requests, cb.CheckoutRequestID)
	return &models.CallbackAck{Accepted: true, Message: "ok"}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

func TestCallbackConsumer_DeliversCallbacks(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{
			Value:   []byte(`{"ResultCode":0,"CheckoutRequestID":"TXN-1","MpesaReceiptNumber":"QK1"}`),
			Headers: []kafka.Header{{Key: HeaderCallbackToken, Value: []byte("s3cret")}},
		},
		kafka.Message{Value: []byte(`not json`)},
		kafka.Message{Value: []byte(`{"CheckoutRequestID":"TXN-2"}`)},
	)
	handler := &recordingHandler{}
	consumer := newCallbackConsumer(reader, handler, logging.Nop())

	done := make(chan error, 1)
	go func() { done <- consumer.Start(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for handler.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("Expected 2 callbacks, got %d", handler.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	consumer.Stop()
	if err := <-done; err != nil {
		t.Errorf("Start() returned %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.tokens[0] != "s3cret" || handler.tokens[1] != "" {
		t.Errorf("Unexpected tokens: %v", handler.tokens)
	}
	if handler.requests[0] != "TXN-1" || handler.requests[1] != "TXN-2" {
		t.Errorf("Unexpected requests: %v", handler.requests)
	}
}

func TestMockPublisher_Count(t *testing.T) {
	p := NewMockPublisher()
	ctx := context.Background()
	order := &models.Order{ID: "ord_1", CustomerID: "buyer_1"}

	p.PublishOrderEvent(ctx, EventTypeOrderCreated, order)
	p.PublishOrderEvent(ctx, EventTypeOrderPaid, order)
	p.PublishPaymentEvent(ctx, EventTypePaymentCompleted, &models.Payment{OrderID: "ord_1"})

	if p.Count(EventTypeOrderPaid) != 1 || p.Count(EventTypePaymentCompleted) != 1 {
		t.Error("Unexpected event counts")
	}
}
