package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// HeaderCallbackToken carries the gateway's shared secret on callback messages.
const HeaderCallbackToken = "callback_token"

// CallbackHandler applies a settlement confirmation. It is idempotent, so
// redelivered messages are safe.
type CallbackHandler interface {
	HandleSettlementCallback(ctx context.Context, token string, cb *models.SettlementCallback) *models.CallbackAck
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CallbackConsumer reads gateway confirmations relayed through Kafka.
type CallbackConsumer struct {
	reader   messageReader
	handler  CallbackHandler
	logger   *logging.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCallbackConsumer(cfg config.KafkaConfig, handler CallbackHandler, logger *logging.Logger) *CallbackConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.CallbacksTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newCallbackConsumer(reader, handler, logger)
}

func newCallbackConsumer(reader messageReader, handler CallbackHandler, logger *logging.Logger) *CallbackConsumer {
	return &CallbackConsumer{
		reader:  reader,
		handler: handler,
		logger:  logger.Named("callback-consumer"),
		stopCh:  make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called.
func (c *CallbackConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting callback consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Callback consumer stopped")
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-c.stopCh:
					return nil
				default:
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			c.handleMessage(ctx, msg)
		}
	}
}

func (c *CallbackConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.reader.Close()
	})
}

func (c *CallbackConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received callback", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var cb models.SettlementCallback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		c.logger.Error("Failed to unmarshal callback", logging.Fields{"error": err.Error()})
		return
	}

	var token string
	for _, h := range msg.Headers {
		if h.Key == HeaderCallbackToken {
			token = string(h.Value)
		}
	}

	ack := c.handler.HandleSettlementCallback(ctx, token, &cb)
	c.logger.Info("Callback processed", logging.Fields{
		"checkout_request_id": cb.CheckoutRequestID,
		"accepted":            ack.Accepted,
		"message":             ack.Message,
	})
}
