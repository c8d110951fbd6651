package services

import (
	"context"
	"time"

	"example.com/backstage/services/transactions/internal/apperrors"
	"example.com/backstage/services/transactions/internal/cache"
	"example.com/backstage/services/transactions/internal/metrics"
	"example.com/backstage/services/transactions/internal/models"
	"example.com/backstage/services/transactions/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Pagination limits for transaction listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	statisticsCacheTTL = 30 * time.Second
)

// CreateTransactionInput carries the fields for a new transaction.
type CreateTransactionInput struct {
	ExternalID string
	Amount     int64
	Currency   string
	Type       models.TransactionType
	Metadata   models.Metadata
}

// UpdateTransactionInput carries the optional fields of an update. Metadata
// is merged into the existing map, never a wholesale replacement.
type UpdateTransactionInput struct {
	Status   *models.TransactionStatus
	Metadata models.Metadata
}

// ListTransactionsFilter holds filters and paging for List.
type ListTransactionsFilter struct {
	Status   *models.TransactionStatus
	Currency *string
	Limit    int
	Offset   int
}

// Pagination describes the window a List call returned.
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// TransactionPage is a bounded, ordered window of transactions.
type TransactionPage struct {
	Transactions []models.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// TransactionStatistics summarizes active transactions by status.
type TransactionStatistics struct {
	Total    int64                              `json:"total"`
	ByStatus map[models.TransactionStatus]int64 `json:"by_status"`
}

// TransactionService owns the transaction state machine: idempotent create,
// validated status transitions, metadata merge and soft delete. Callers
// depend on this interface, not a concrete type.
type TransactionService interface {
	Create(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, filter ListTransactionsFilter) (*TransactionPage, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateTransactionInput) (*models.Transaction, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Statistics(ctx context.Context) (*TransactionStatistics, error)
}

type transactionService struct {
	repo    repositories.TransactionRepository
	cache   *cache.RedisCache
	metrics *metrics.Metrics
}

// NewTransactionService creates a new transaction service
func NewTransactionService(
	repo repositories.TransactionRepository,
	redisCache *cache.RedisCache,
	metricsCollector *metrics.Metrics,
) TransactionService {
	return &transactionService{
		repo:    repo,
		cache:   redisCache,
		metrics: metricsCollector,
	}
}

// Create inserts a new PENDING transaction. An active transaction with the
// same external id makes the call fail with DuplicateExternalIDError carrying
// the existing record, whether the collision is seen by the pre-check or by
// the store's uniqueness constraint at insert time.
func (s *transactionService) Create(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error) {
	existing, err := s.repo.FindActiveByExternalID(ctx, input.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &apperrors.DuplicateExternalIDError{ExternalID: input.ExternalID, Existing: existing}
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = models.Metadata{}
	}

	txn := &models.Transaction{
		ID:         uuid.New(),
		ExternalID: input.ExternalID,
		Amount:     input.Amount,
		Currency:   input.Currency,
		Type:       input.Type,
		Status:     models.StatusPending,
		Metadata:   metadata,
		IsActive:   true,
	}

	if err := s.repo.Insert(ctx, txn); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			// Lost the race against a concurrent create; surface the winner.
			winner, findErr := s.repo.FindActiveByExternalID(ctx, input.ExternalID)
			if findErr != nil {
				return nil, findErr
			}
			return nil, &apperrors.DuplicateExternalIDError{ExternalID: input.ExternalID, Existing: winner}
		}
		return nil, err
	}

	s.invalidateStatistics(ctx)
	if s.metrics != nil {
		s.metrics.IncrementCounter("transactions_created")
	}

	log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("external_id", txn.ExternalID).
		Int64("amount", txn.Amount).
		Str("currency", txn.Currency).
		Msg("Transaction created")

	return txn, nil
}

// GetByID returns a transaction only while it is active. Soft-deleted rows
// are invisible here; this is the enforcement point for soft delete.
func (s *transactionService) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindActiveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, apperrors.ErrNotFound
	}
	return txn, nil
}

// List returns a window of active transactions ordered by creation time
// descending, plus the total count matching the same filter.
func (s *transactionService) List(ctx context.Context, filter ListTransactionsFilter) (*TransactionPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	scanFilter := repositories.ScanFilter{
		Status:   filter.Status,
		Currency: filter.Currency,
	}
	txns, total, err := s.repo.ScanActive(ctx, scanFilter, offset, limit)
	if err != nil {
		return nil, err
	}

	if txns == nil {
		txns = []models.Transaction{}
	}

	return &TransactionPage{
		Transactions: txns,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasMore: int64(offset+limit) < total,
		},
	}, nil
}

// Update applies a status change and/or a metadata merge as one conditional
// write. The status change is validated against the transition table keyed by
// the current status, and applied only if that status is still current; a
// lost race surfaces as ErrConcurrentUpdate instead of overwriting a
// concurrent writer.
func (s *transactionService) Update(ctx context.Context, id uuid.UUID, input UpdateTransactionInput) (*models.Transaction, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	var expectedStatus *models.TransactionStatus

	if input.Status != nil {
		if !models.CanTransition(current.Status, *input.Status) {
			return nil, &apperrors.InvalidTransitionError{From: current.Status, To: *input.Status}
		}
		fields["status"] = *input.Status
		snapshot := current.Status
		expectedStatus = &snapshot
	}

	if input.Metadata != nil {
		fields["metadata"] = current.Metadata.Merge(input.Metadata)
	}

	if len(fields) == 0 {
		return current, nil
	}

	updated, err := s.repo.UpdateIfActive(ctx, id, expectedStatus, fields)
	if err != nil {
		if errors.Is(err, repositories.ErrNoRowsMatched) {
			fresh, findErr := s.repo.FindActiveByID(ctx, id)
			if findErr != nil {
				return nil, findErr
			}
			if fresh == nil {
				return nil, apperrors.ErrNotFound
			}
			return nil, apperrors.ErrConcurrentUpdate
		}
		return nil, err
	}

	s.invalidateStatistics(ctx)
	if input.Status != nil {
		if s.metrics != nil {
			s.metrics.IncrementCounter("transaction_status_changes")
		}
		log.Info().
			Str("transaction_id", updated.ID.String()).
			Str("from", string(current.Status)).
			Str("to", string(updated.Status)).
			Msg("Transaction status updated")
	}

	return updated, nil
}

// Delete soft-deletes an active transaction. The flip is conditional in the
// store, so of two concurrent deletes exactly one takes effect and the other
// observes ErrNotFound.
func (s *transactionService) Delete(ctx context.Context, id uuid.UUID) error {
	count, err := s.repo.SoftDeleteIfActive(ctx, id)
	if err != nil {
		return err
	}
	if count == 0 {
		return apperrors.ErrNotFound
	}

	s.invalidateStatistics(ctx)
	if s.metrics != nil {
		s.metrics.IncrementCounter("transactions_deleted")
	}

	log.Info().Str("transaction_id", id.String()).Msg("Transaction soft-deleted")
	return nil
}

// Statistics returns active transaction counts by status, cached briefly in
// Redis and invalidated on every write.
func (s *transactionService) Statistics(ctx context.Context) (*TransactionStatistics, error) {
	var stats TransactionStatistics
	if err := s.cache.Get(ctx, cache.StatisticsKey, &stats); err == nil {
		return &stats, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Msg("Failed to read statistics from cache")
	}

	counts, err := s.repo.CountActiveByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats = TransactionStatistics{ByStatus: counts}
	for _, count := range counts {
		stats.Total += count
	}

	if err := s.cache.Set(ctx, cache.StatisticsKey, &stats, statisticsCacheTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to cache statistics")
	}

	return &stats, nil
}

func (s *transactionService) invalidateStatistics(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.StatisticsKey); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate statistics cache")
	}
}
