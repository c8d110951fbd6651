package messaging

import (
	"context"

	"example.com/backstage/services/transactions/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MessageHandler processes one received message. A returned error abandons
// the message so the broker redelivers it.
type MessageHandler func(ctx context.Context, message *azservicebus.ReceivedMessage) error

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	ProcessMessages(ctx context.Context, handler MessageHandler) error
	Close() error
}

type serviceBusClient struct {
	client    *azservicebus.Client
	receiver  *azservicebus.Receiver
	queueName string
}

// NewServiceBusClient creates a new Azure Service Bus client receiving from
// the configured queue.
func NewServiceBusClient(cfg config.AzureConfig) (ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	receiver, err := client.NewReceiverForQueue(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus receiver")
	}

	return &serviceBusClient{
		client:    client,
		receiver:  receiver,
		queueName: cfg.QueueName,
	}, nil
}

// ProcessMessages receives messages until the context is cancelled, feeding
// each one to the handler. Handled messages are completed; failed ones are
// abandoned for redelivery.
func (s *serviceBusClient) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	for {
		messages, err := s.receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive messages")
		}

		for _, message := range messages {
			if err := handler(ctx, message); err != nil {
				log.Error().
					Err(err).
					Str("message_id", message.MessageID).
					Msg("Failed to process message, abandoning for redelivery")
				if abandonErr := s.receiver.AbandonMessage(ctx, message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Str("message_id", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if completeErr := s.receiver.CompleteMessage(ctx, message, nil); completeErr != nil {
				log.Error().Err(completeErr).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the Service Bus receiver and client.
func (s *serviceBusClient) Close() error {
	ctx := context.Background()

	if s.receiver != nil {
		if err := s.receiver.Close(ctx); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(ctx)
	}

	return nil
}
