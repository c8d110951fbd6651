package services

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/transactions/internal/apperrors"
	"example.com/backstage/services/transactions/internal/models"
	"example.com/backstage/services/transactions/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestWebhookService(events repositories.WebhookEventRepository, transactions TransactionService) WebhookService {
	return NewWebhookService(events, transactions, nil, nil)
}

func webhookInput() WebhookInput {
	return WebhookInput{
		EventID:       "evt_001",
		TransactionID: uuid.New(),
		Status:        models.StatusProcessing,
	}
}

func TestProcessWebhook(t *testing.T) {
	input := webhookInput()

	events := new(MockWebhookEventRepository)
	transactions := new(MockTransactionService)

	events.On("FindByEventID", mock.Anything, "evt_001").Return(nil, nil)
	transactions.On("Update", mock.Anything, input.TransactionID, mock.MatchedBy(func(u UpdateTransactionInput) bool {
		return u.Status != nil && *u.Status == models.StatusProcessing && u.Metadata == nil
	})).Return(activeTransaction(models.StatusProcessing), nil)
	events.On("Insert", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(nil)

	service := newTestWebhookService(events, transactions)

	result, err := service.Process(context.Background(), input)
	require.NoError(t, err)
	require.True(t, result.Processed)
	require.Equal(t, "evt_001", result.Event.EventID)
	require.Equal(t, DefaultEventType, result.Event.EventType)
	require.False(t, result.Event.ProcessedAt.IsZero())

	events.AssertExpectations(t)
	transactions.AssertExpectations(t)
}

func TestProcessWebhookReplay(t *testing.T) {
	input := webhookInput()
	prior := &models.WebhookEvent{
		ID:            uuid.New(),
		EventID:       input.EventID,
		TransactionID: input.TransactionID,
		EventType:     DefaultEventType,
		ProcessedAt:   time.Now().UTC(),
	}

	events := new(MockWebhookEventRepository)
	transactions := new(MockTransactionService)

	events.On("FindByEventID", mock.Anything, input.EventID).Return(prior, nil)

	service := newTestWebhookService(events, transactions)

	// Even a replay carrying a different status must not re-apply anything
	input.Status = models.StatusFailed
	result, err := service.Process(context.Background(), input)
	require.NoError(t, err)
	require.False(t, result.Processed)
	require.Equal(t, prior.ID, result.Event.ID)

	transactions.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	events.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestProcessWebhookSwallowsRejectedUpdate(t *testing.T) {
	rejections := []error{
		apperrors.ErrNotFound,
		apperrors.ErrConcurrentUpdate,
		&apperrors.InvalidTransitionError{From: models.StatusComplete, To: models.StatusProcessing},
	}

	for _, rejection := range rejections {
		t.Run(rejection.Error(), func(t *testing.T) {
			input := webhookInput()

			events := new(MockWebhookEventRepository)
			transactions := new(MockTransactionService)

			events.On("FindByEventID", mock.Anything, input.EventID).Return(nil, nil)
			transactions.On("Update", mock.Anything, input.TransactionID, mock.Anything).Return(nil, rejection)
			events.On("Insert", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(nil)

			service := newTestWebhookService(events, transactions)

			// The event is acknowledged and recorded despite the rejection
			result, err := service.Process(context.Background(), input)
			require.NoError(t, err)
			require.True(t, result.Processed)
			events.AssertExpectations(t)
		})
	}
}

func TestProcessWebhookPropagatesStoreFailure(t *testing.T) {
	input := webhookInput()
	storeErr := errors.New("connection refused")

	events := new(MockWebhookEventRepository)
	transactions := new(MockTransactionService)

	events.On("FindByEventID", mock.Anything, input.EventID).Return(nil, nil)
	transactions.On("Update", mock.Anything, input.TransactionID, mock.Anything).Return(nil, storeErr)

	service := newTestWebhookService(events, transactions)

	_, err := service.Process(context.Background(), input)
	require.ErrorIs(t, err, storeErr)
	events.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestProcessWebhookLosesInsertRace(t *testing.T) {
	input := webhookInput()
	winner := &models.WebhookEvent{
		ID:      uuid.New(),
		EventID: input.EventID,
	}

	events := new(MockWebhookEventRepository)
	transactions := new(MockTransactionService)

	events.On("FindByEventID", mock.Anything, input.EventID).Return(nil, nil).Once()
	transactions.On("Update", mock.Anything, input.TransactionID, mock.Anything).
		Return(activeTransaction(models.StatusProcessing), nil)
	events.On("Insert", mock.Anything, mock.Anything).Return(repositories.ErrDuplicateKey)
	events.On("FindByEventID", mock.Anything, input.EventID).Return(winner, nil).Once()

	service := newTestWebhookService(events, transactions)

	result, err := service.Process(context.Background(), input)
	require.NoError(t, err)
	require.False(t, result.Processed)
	require.Equal(t, winner.ID, result.Event.ID)
}

func TestProcessWebhookDefaultsPayload(t *testing.T) {
	input := webhookInput()
	input.EventType = "transaction.settled"

	events := new(MockWebhookEventRepository)
	transactions := new(MockTransactionService)

	events.On("FindByEventID", mock.Anything, input.EventID).Return(nil, nil)
	transactions.On("Update", mock.Anything, input.TransactionID, mock.Anything).
		Return(activeTransaction(models.StatusProcessing), nil)
	events.On("Insert", mock.Anything, mock.MatchedBy(func(event *models.WebhookEvent) bool {
		return event.EventType == "transaction.settled" &&
			event.Payload["eventId"] == input.EventID &&
			event.Payload["status"] == string(models.StatusProcessing)
	})).Return(nil)

	service := newTestWebhookService(events, transactions)

	result, err := service.Process(context.Background(), input)
	require.NoError(t, err)
	require.True(t, result.Processed)
	events.AssertExpectations(t)
}

func TestGetEventNotFound(t *testing.T) {
	events := new(MockWebhookEventRepository)
	events.On("FindByEventID", mock.Anything, "evt_missing").Return(nil, nil)

	service := newTestWebhookService(events, new(MockTransactionService))

	_, err := service.GetEvent(context.Background(), "evt_missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
