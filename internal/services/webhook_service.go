package services

import (
	"context"
	"time"

	"example.com/backstage/services/transactions/internal/apperrors"
	"example.com/backstage/services/transactions/internal/metrics"
	"example.com/backstage/services/transactions/internal/models"
	"example.com/backstage/services/transactions/internal/repositories"
	"example.com/backstage/services/transactions/internal/search"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultEventType is assumed when a webhook carries no event type.
const DefaultEventType = "transaction.updated"

// WebhookInput is an inbound processor notification.
type WebhookInput struct {
	EventID       string
	TransactionID uuid.UUID
	Status        models.TransactionStatus
	EventType     string
	Payload       models.Metadata
}

// WebhookResult reports whether an event was processed now or had already
// been seen. Processed=true means the event was acknowledged and recorded,
// not that the transaction update was applied.
type WebhookResult struct {
	Processed bool                 `json:"processed"`
	Message   string               `json:"message"`
	Event     *models.WebhookEvent `json:"event"`
}

// WebhookService deduplicates inbound events by event id and drives the
// transaction update path. The event record is the durable log of what we
// were told, independent of whether it was applied.
type WebhookService interface {
	Process(ctx context.Context, input WebhookInput) (*WebhookResult, error)
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
	GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	ListTransactionEvents(ctx context.Context, transactionID uuid.UUID) ([]models.WebhookEvent, error)
}

type webhookService struct {
	events       repositories.WebhookEventRepository
	transactions TransactionService
	search       *search.ElasticClient
	metrics      *metrics.Metrics
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	events repositories.WebhookEventRepository,
	transactions TransactionService,
	elasticClient *search.ElasticClient,
	metricsCollector *metrics.Metrics,
) WebhookService {
	return &webhookService{
		events:       events,
		transactions: transactions,
		search:       elasticClient,
		metrics:      metricsCollector,
	}
}

// Process handles one inbound event. Replays of a seen event id return
// immediately with the prior record and apply nothing. On the first
// delivery the transaction update is attempted; a business rejection
// (unknown transaction, invalid transition, lost update race) is logged and
// swallowed so the event is still recorded - acknowledgment is decoupled
// from application. Only store failures abort processing.
func (s *webhookService) Process(ctx context.Context, input WebhookInput) (*WebhookResult, error) {
	existing, err := s.events.FindByEventID(ctx, input.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if s.metrics != nil {
			s.metrics.IncrementCounter("webhook_events_replayed")
		}
		return &WebhookResult{
			Processed: false,
			Message:   "Event already processed",
			Event:     existing,
		}, nil
	}

	status := input.Status
	_, err = s.transactions.Update(ctx, input.TransactionID, UpdateTransactionInput{Status: &status})
	if err != nil {
		if !isRejectedUpdate(err) {
			return nil, err
		}
		log.Warn().
			Err(err).
			Str("event_id", input.EventID).
			Str("transaction_id", input.TransactionID.String()).
			Msg("Failed to apply transaction update from webhook, recording event anyway")
		if s.metrics != nil {
			s.metrics.IncrementCounter("webhook_updates_rejected")
		}
	}

	eventType := input.EventType
	if eventType == "" {
		eventType = DefaultEventType
	}
	payload := input.Payload
	if payload == nil {
		payload = models.Metadata{
			"eventId":       input.EventID,
			"transactionId": input.TransactionID.String(),
			"status":        string(input.Status),
			"eventType":     eventType,
		}
	}

	event := &models.WebhookEvent{
		ID:            uuid.New(),
		EventID:       input.EventID,
		TransactionID: input.TransactionID,
		EventType:     eventType,
		Payload:       payload,
		ProcessedAt:   time.Now().UTC(),
	}

	if err := s.events.Insert(ctx, event); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			// A concurrent delivery of the same event id won the insert.
			prior, findErr := s.events.FindByEventID(ctx, input.EventID)
			if findErr != nil {
				return nil, findErr
			}
			return &WebhookResult{
				Processed: false,
				Message:   "Event already processed",
				Event:     prior,
			}, nil
		}
		return nil, err
	}

	s.indexEvent(ctx, event)
	if s.metrics != nil {
		s.metrics.IncrementCounter("webhook_events_processed")
	}

	log.Info().
		Str("event_id", event.EventID).
		Str("transaction_id", event.TransactionID.String()).
		Str("event_type", event.EventType).
		Msg("Webhook event recorded")

	return &WebhookResult{
		Processed: true,
		Message:   "Webhook processed successfully",
		Event:     event,
	}, nil
}

// GetEvent returns a recorded webhook event by its event id.
func (s *webhookService) GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := s.events.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, apperrors.ErrNotFound
	}
	return event, nil
}

// ListTransactionEvents returns the events recorded against a transaction,
// newest first.
func (s *webhookService) ListTransactionEvents(ctx context.Context, transactionID uuid.UUID) ([]models.WebhookEvent, error) {
	return s.events.ListByTransactionID(ctx, transactionID)
}

// indexEvent pushes the event into the audit index. Indexing is best effort;
// a failure never aborts the acknowledgment.
func (s *webhookService) indexEvent(ctx context.Context, event *models.WebhookEvent) {
	if s.search == nil {
		return
	}
	if err := s.search.IndexWebhookEvent(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", event.EventID).
			Msg("Failed to index webhook event")
	}
}

// isRejectedUpdate reports whether err is a business rejection of the
// transaction update rather than a store failure.
func isRejectedUpdate(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrConcurrentUpdate) ||
		apperrors.IsInvalidTransition(err)
}
