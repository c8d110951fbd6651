package services

import (
	"context"

	"example.com/backstage/services/transactions/internal/models"
	"example.com/backstage/services/transactions/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock repositories for testing

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) FindActiveByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	args := m.Called(ctx, externalID)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionRepository) FindActiveByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionRepository) Insert(ctx context.Context, txn *models.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepository) ScanActive(ctx context.Context, filter repositories.ScanFilter, offset, limit int) ([]models.Transaction, int64, error) {
	args := m.Called(ctx, filter, offset, limit)
	txns, _ := args.Get(0).([]models.Transaction)
	return txns, args.Get(1).(int64), args.Error(2)
}

func (m *MockTransactionRepository) UpdateIfActive(ctx context.Context, id uuid.UUID, expectedStatus *models.TransactionStatus, fields map[string]interface{}) (*models.Transaction, error) {
	args := m.Called(ctx, id, expectedStatus, fields)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionRepository) SoftDeleteIfActive(ctx context.Context, id uuid.UUID) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) CountActiveByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[models.TransactionStatus]int64)
	return counts, args.Error(1)
}

type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	args := m.Called(ctx, eventID)
	event, _ := args.Get(0).(*models.WebhookEvent)
	return event, args.Error(1)
}

func (m *MockWebhookEventRepository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockWebhookEventRepository) ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.WebhookEvent, error) {
	args := m.Called(ctx, transactionID)
	events, _ := args.Get(0).([]models.WebhookEvent)
	return events, args.Error(1)
}

type MockTransactionService struct {
	mock.Mock
}

func (m *MockTransactionService) Create(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error) {
	args := m.Called(ctx, input)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionService) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionService) List(ctx context.Context, filter ListTransactionsFilter) (*TransactionPage, error) {
	args := m.Called(ctx, filter)
	page, _ := args.Get(0).(*TransactionPage)
	return page, args.Error(1)
}

func (m *MockTransactionService) Update(ctx context.Context, id uuid.UUID, input UpdateTransactionInput) (*models.Transaction, error) {
	args := m.Called(ctx, id, input)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionService) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTransactionService) Statistics(ctx context.Context) (*TransactionStatistics, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*TransactionStatistics)
	return stats, args.Error(1)
}
