package services

import (
	"context"
	"encoding/json"

	"example.com/backstage/services/transactions/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ProcessMessage handles a processor notification delivered through Azure
// Service Bus. The message body carries the same event shape as the webhook
// endpoint; both paths converge on Process.
func (s *webhookService) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	input, err := ExtractWebhookInput(message)
	if err != nil {
		return errors.Wrap(err, "failed to extract webhook event")
	}

	result, err := s.Process(ctx, *input)
	if err != nil {
		return errors.Wrap(err, "failed to process webhook event")
	}

	log.Info().
		Str("event_id", input.EventID).
		Bool("processed", result.Processed).
		Msg("Message processed")

	return nil
}

// ExtractWebhookInput extracts a webhook event from a message body. The raw
// body is preserved verbatim as the event payload.
func ExtractWebhookInput(message *azservicebus.ReceivedMessage) (*WebhookInput, error) {
	var body struct {
		EventID       string                   `json:"eventId"`
		TransactionID uuid.UUID                `json:"transactionId"`
		Status        models.TransactionStatus `json:"status"`
		EventType     string                   `json:"eventType"`
	}
	if err := json.Unmarshal(message.Body, &body); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message body")
	}
	if body.EventID == "" {
		return nil, errors.New("message is missing eventId")
	}
	if body.TransactionID == uuid.Nil {
		return nil, errors.New("message is missing transactionId")
	}

	var payload models.Metadata
	if err := json.Unmarshal(message.Body, &payload); err != nil {
		return nil, errors.Wrap(err, "failed to capture message payload")
	}

	return &WebhookInput{
		EventID:       body.EventID,
		TransactionID: body.TransactionID,
		Status:        body.Status,
		EventType:     body.EventType,
		Payload:       payload,
	}, nil
}
