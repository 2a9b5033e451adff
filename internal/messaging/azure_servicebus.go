package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/agrosolutions/services/alerts/config"
)

// Handler processes a single raw queue message. A non-nil error abandons the
// message back onto the queue; nil completes it.
type Handler func(ctx context.Context, body []byte) error

// Consumer receives telemetry messages from a Service Bus queue in peek-lock
// mode, so a crashed handler never loses a message.
type Consumer struct {
	client    *azservicebus.Client
	receiver  *azservicebus.Receiver
	queueName string
	batchSize int
}

// NewConsumer creates a peek-lock consumer for the telemetry queue
func NewConsumer(cfg config.AzureConfig) (*Consumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	receiver, err := client.NewReceiverForQueue(cfg.TelemetryQueue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus receiver: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	return &Consumer{
		client:    client,
		receiver:  receiver,
		queueName: cfg.TelemetryQueue,
		batchSize: batchSize,
	}, nil
}

// ProcessMessages pumps the queue until ctx is cancelled. Cancellation is
// honored between messages only; a message already handed to the handler
// runs to completion so its settlement is never cut short.
func (c *Consumer) ProcessMessages(ctx context.Context, handler Handler) error {
	log.Info().Str("queue", c.queueName).Msg("Starting telemetry message processing")

	for {
		if ctx.Err() != nil {
			log.Info().Str("queue", c.queueName).Msg("Stopping telemetry message processing")
			return nil
		}

		messages, err := c.receiver.ReceiveMessages(ctx, c.batchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("queue", c.queueName).Msg("Failed to receive messages")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, msg := range messages {
			c.handleMessage(msg, handler)
			if ctx.Err() != nil {
				break
			}
		}
	}
}

func (c *Consumer) handleMessage(msg *azservicebus.ReceivedMessage, handler Handler) {
	// In-flight messages finish on a fresh context even during shutdown
	ctx := context.Background()

	if err := handler(ctx, msg.Body); err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Message handling failed, abandoning")
		if abandonErr := c.receiver.AbandonMessage(ctx, msg, nil); abandonErr != nil {
			log.Error().Err(abandonErr).Str("message_id", msg.MessageID).Msg("Failed to abandon message")
		}
		return
	}

	if err := c.receiver.CompleteMessage(ctx, msg, nil); err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to complete message")
	}
}

// Close releases the receiver and the underlying client
func (c *Consumer) Close(ctx context.Context) error {
	if c.receiver != nil {
		if err := c.receiver.Close(ctx); err != nil {
			return err
		}
	}
	if c.client != nil {
		return c.client.Close(ctx)
	}
	return nil
}
